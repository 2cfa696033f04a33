package graphstore

import "errors"

// Sentinel errors returned by the graph store client, per spec §4.3.
var (
	ErrNotFound        = errors.New("graphstore: not found")
	ErrAlreadyClaimed  = errors.New("graphstore: task already claimed")
	ErrStaleOwnership  = errors.New("graphstore: caller does not own this task")
	ErrRateLimited     = errors.New("graphstore: rate limit exceeded")
	ErrDegraded        = errors.New("graphstore: client is in degraded mode and has no cached value")
	ErrInvalidInput    = errors.New("graphstore: invalid input")
	ErrCurationExcess  = errors.New("graphstore: curation pass exceeds the 5% per-tier deletion cap")
	ErrProtectedNode   = errors.New("graphstore: node is protected (mvs_score >= 50.0) and cannot be deleted, merged away, or demoted")
	ErrUnknownAgent    = errors.New("graphstore: unknown agent id")
)
