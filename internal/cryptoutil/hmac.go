package cryptoutil

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignHMACSHA256 returns the "sha256=<hex>" framed signature over body
// using secret, matching the framing the downstream webhook receiver
// verifies against the X-Relay-Signature header.
func SignHMACSHA256(secret, body []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifyHMACSHA256 checks a "sha256=<hex>" framed signature in
// constant time. Used by tests exercising delivery round-trips.
func VerifyHMACSHA256(secret, body []byte, signature string) bool {
	expected := SignHMACSHA256(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
