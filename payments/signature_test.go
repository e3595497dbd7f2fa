package payments

import (
	"errors"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	secret := []byte("test-secret")
	payload := []byte(`{"type":"payment_intent.succeeded"}`)

	if err := VerifySignature(payload, Sign(payload, secret), secret); err != nil {
		t.Errorf("Expected valid signature to verify, got %v", err)
	}
}

func TestVerifySignature_Tampered(t *testing.T) {
	secret := []byte("test-secret")
	payload := []byte(`{"type":"payment_intent.succeeded"}`)
	signature := Sign(payload, secret)

	tampered := []byte(`{"type":"payment_intent.succeeded","amount":1}`)
	if err := VerifySignature(tampered, signature, secret); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Expected ErrInvalidSignature for tampered payload, got %v", err)
	}
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	payload := []byte(`{}`)
	signature := Sign(payload, []byte("one-secret"))

	if err := VerifySignature(payload, signature, []byte("other-secret")); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Expected ErrInvalidSignature for mismatched secret, got %v", err)
	}
}

func TestVerifySignature_MissingHeader(t *testing.T) {
	if err := VerifySignature([]byte(`{}`), "", []byte("secret")); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Expected ErrInvalidSignature for missing header, got %v", err)
	}
}
