package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"checkout-svc/cache"
	"checkout-svc/checkout"
	"checkout-svc/models"
	"checkout-svc/payments"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

// emptyStore is a session store with nothing in it: every lookup misses.
type emptyStore struct{}

func (emptyStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, cache.ErrKeyNotFound
}
func (emptyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}
func (emptyStore) Delete(ctx context.Context, key string) error { return nil }
func (emptyStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, topic string, event any) error { return nil }

func setupWebhookTest(t *testing.T) (*gin.Engine, sqlmock.Sqlmock, func()) {
	t.Setenv("PAYMENT_WEBHOOK_SECRET", "test-webhook-secret")

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}

	logger := zaptest.NewLogger(t)
	materializer := checkout.NewMaterializer(emptyStore{}, db, noopPublisher{}, logger)
	handler := NewWebhookHandler(materializer, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/webhooks/payment", handler.HandlePaymentWebhook)

	return router, mock, func() { db.Close() }
}

func signedEvent(t *testing.T, event models.GatewayEvent) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}
	return body, payments.Sign(body, []byte("test-webhook-secret"))
}

func TestHandlePaymentWebhook_RejectsInvalidSignature(t *testing.T) {
	router, mock, cleanup := setupWebhookTest(t)
	defer cleanup()

	body, _ := signedEvent(t, models.GatewayEvent{Type: models.EventTypePaymentSucceeded})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	req.Header.Set(payments.SignatureHeader, "deadbeef")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}

	// signature failure must precede all business logic
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestHandlePaymentWebhook_MissingSessionIsAcknowledged(t *testing.T) {
	router, mock, cleanup := setupWebhookTest(t)
	defer cleanup()

	body, signature := signedEvent(t, models.GatewayEvent{
		Type: models.EventTypePaymentSucceeded,
		Data: models.GatewayEventData{
			IntentID: "pi_1",
			Metadata: models.GatewayMetadata{SessionID: "expired-session", OwnerID: "7"},
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	req.Header.Set(payments.SignatureHeader, signature)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["outcome"] != string(checkout.OutcomeSkipped) {
		t.Errorf("Expected outcome %s, got %v", checkout.OutcomeSkipped, resp["outcome"])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestHandlePaymentWebhook_IgnoresOtherEventTypes(t *testing.T) {
	router, _, cleanup := setupWebhookTest(t)
	defer cleanup()

	body, signature := signedEvent(t, models.GatewayEvent{Type: "payment_intent.created"})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	req.Header.Set(payments.SignatureHeader, signature)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
}
