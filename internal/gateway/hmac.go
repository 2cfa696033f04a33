package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// signatureWindow is the maximum allowed skew between a request's
// X-Timestamp header and the gateway's clock (spec §4.4).
const signatureWindow = 300 * time.Second

// Sign computes the HMAC-SHA256 signature for an outbound agent message.
// The signed string is "{method}\n{path}\n{timestamp}\n{nonce}\n{sha256(body)}",
// hex-encoded, per spec §4.4.
func Sign(secret, method, path, timestamp, nonce string, body []byte) string {
	bodyHash := sha256.Sum256(body)
	signed := method + "\n" + path + "\n" + timestamp + "\n" + nonce + "\n" + hex.EncodeToString(bodyHash[:])

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an inbound request's X-Agent-Id/X-Timestamp/
// X-Nonce/X-Signature headers against secret. It returns a single
// undifferentiated error for every failure mode (bad signature, expired
// timestamp, replayed nonce) — spec §4.4 forbids responses that let an
// attacker distinguish "wrong signature" from "stale timestamp" from
// "replayed nonce".
func VerifySignature(secret, method, path, timestamp, nonce, signature string, body []byte, now time.Time) error {
	if timestamp == "" || nonce == "" || signature == "" {
		return ErrInvalidSignature
	}

	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	sent := time.Unix(sec, 0)
	if d := now.Sub(sent); d > signatureWindow || d < -signatureWindow {
		return ErrInvalidSignature
	}

	expected := Sign(secret, method, path, timestamp, nonce, body)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// ErrInvalidSignature is returned by VerifySignature for any of: bad HMAC,
// expired timestamp, or a missing header. Callers must not attempt to tell
// these apart in the HTTP response they send back.
var ErrInvalidSignature = fmt.Errorf("gateway: invalid request signature")
