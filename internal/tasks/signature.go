// Package tasks provides callback authentication for the delayed scheduler.
//
// Callbacks are signed with HMAC-SHA256 over the request body using a shared
// secret; the hex digest travels in the SignatureHeader header.
package tasks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the callback body.
const SignatureHeader = "X-Callback-Signature"

// ErrInvalidSignature is returned when a callback signature does not match.
var ErrInvalidSignature = errors.New("invalid callback signature")

// Sign computes the hex-encoded HMAC-SHA256 of body with the shared secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a callback signature against the request body. Comparison is
// constant-time.
func Verify(secret string, body []byte, signature string) error {
	if signature == "" {
		return ErrInvalidSignature
	}
	expected := Sign(secret, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
