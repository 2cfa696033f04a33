package delegation

import "errors"

// ErrUnknownAgent is returned when assigned_to is not one of the fixed
// agent ids spec §4.4 step 3 allow-lists.
var ErrUnknownAgent = errors.New("delegation: unknown agent id")

// ErrSignatureInvalid is returned by the claim loop's inbound verification
// path when an HMAC signature fails to match (spec §4.4 Errors). The
// gateway server itself folds this into a bare 401 with no distinction
// from other verification failures; this sentinel exists for callers that
// verify independently of the HTTP layer.
var ErrSignatureInvalid = errors.New("delegation: invalid signature")

// ErrReplay is returned when a nonce has already been seen within the
// replay window.
var ErrReplay = errors.New("delegation: replayed nonce")

// ErrTaskNotClaimable is returned by the claim loop when claim_task
// reports AlreadyClaimed or NotFound — there is no work to do.
var ErrTaskNotClaimable = errors.New("delegation: task not claimable")
