package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// SignatureHeader carries the gateway's HMAC over the raw webhook body.
const SignatureHeader = "X-Gateway-Signature"

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Sign computes the hex-encoded HMAC-SHA256 of payload under secret.
func Sign(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the signature header against the shared secret.
// It must run before any webhook business logic.
func VerifySignature(payload []byte, signature string, secret []byte) error {
	if signature == "" || len(secret) == 0 {
		return ErrInvalidSignature
	}
	expected := Sign(payload, secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
