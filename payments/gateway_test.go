package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestCreateIntent_SplitsFeeAndTagsMetadata(t *testing.T) {
	var got intentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(intentResponse{ClientSecret: "pi_secret_123"})
	}))
	defer srv.Close()

	t.Setenv("PAYMENT_GATEWAY_URL", srv.URL)
	client := NewClient(zaptest.NewLogger(t))

	secret, err := client.CreateIntent(context.Background(), IntentParams{
		SessionID:          "sess-x",
		OwnerID:            7,
		Amount:             45,
		DestinationAccount: "acct_a",
	})
	if err != nil {
		t.Fatalf("CreateIntent failed: %v", err)
	}
	if secret != "pi_secret_123" {
		t.Errorf("Expected client secret pi_secret_123, got %s", secret)
	}

	if got.ApplicationFee != 4.5 {
		t.Errorf("Expected 10%% platform fee 4.5, got %.2f", got.ApplicationFee)
	}
	if got.DestinationAccount != "acct_a" {
		t.Errorf("Expected destination acct_a, got %s", got.DestinationAccount)
	}
	// correlation metadata must survive the round trip verbatim
	if got.Metadata["session_id"] != "sess-x" || got.Metadata["owner_id"] != "7" {
		t.Errorf("Unexpected metadata: %v", got.Metadata)
	}
}

func TestCreateIntent_GatewayRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(intentResponse{Error: "account cannot receive transfers"})
	}))
	defer srv.Close()

	t.Setenv("PAYMENT_GATEWAY_URL", srv.URL)
	client := NewClient(zaptest.NewLogger(t))

	_, err := client.CreateIntent(context.Background(), IntentParams{
		SessionID:          "sess-x",
		OwnerID:            7,
		Amount:             45,
		DestinationAccount: "acct_bad",
	})

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Expected UpstreamError, got %v", err)
	}
	if upstream.StatusCode != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", upstream.StatusCode)
	}
	if upstream.Reason != "account cannot receive transfers" {
		t.Errorf("Expected gateway reason to be preserved, got %q", upstream.Reason)
	}
}

func TestCreateIntent_RejectsNonPositiveAmount(t *testing.T) {
	client := NewClient(zaptest.NewLogger(t))
	if _, err := client.CreateIntent(context.Background(), IntentParams{
		SessionID:          "sess-x",
		Amount:             0,
		DestinationAccount: "acct_a",
	}); err == nil {
		t.Error("Expected error for non-positive amount")
	}
}

func TestPlatformFee(t *testing.T) {
	client := NewClient(zaptest.NewLogger(t))
	if fee := client.PlatformFee(19.99); fee != 2.0 {
		t.Errorf("Expected fee rounded to cents (2.00), got %.2f", fee)
	}
}
