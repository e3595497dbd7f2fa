package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"

	"checkout-svc/checkout"
	"checkout-svc/middleware"
	"checkout-svc/models"
	"checkout-svc/payments"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type WebhookHandler struct {
	materializer *checkout.Materializer
	secret       []byte
	logger       *zap.Logger
}

func NewWebhookHandler(materializer *checkout.Materializer, logger *zap.Logger) *WebhookHandler {
	secret := os.Getenv("PAYMENT_WEBHOOK_SECRET")
	if secret == "" {
		secret = "whsec-change-in-production"
	}
	return &WebhookHandler{
		materializer: materializer,
		secret:       []byte(secret),
		logger:       logger,
	}
}

// HandlePaymentWebhook receives the gateway's signed payment events. The
// signature check runs before anything else; once it passes, the endpoint
// acknowledges with 200 even when processing faults, so the gateway does
// not retry-storm against a pipeline stuck on the same error.
func (h *WebhookHandler) HandlePaymentWebhook(c *gin.Context) {
	ctx, span := otel.Tracer("checkout-service").Start(c.Request.Context(), "PaymentWebhook")
	defer span.End()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	signature := c.GetHeader(payments.SignatureHeader)
	if err := payments.VerifySignature(body, signature, h.secret); err != nil {
		middleware.RecordWebhook("rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	traceID := middleware.GetTraceID(ctx)

	var event models.GatewayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		span.RecordError(err)
		h.logger.Error("Undecodable webhook payload", zap.String("trace_id", traceID), zap.Error(err))
		middleware.RecordWebhook("fault")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	span.SetAttributes(attribute.String("event.type", event.Type))

	if event.Type != models.EventTypePaymentSucceeded {
		middleware.RecordWebhook("ignored")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	sessionID := event.Data.Metadata.SessionID
	ownerID, convErr := strconv.Atoi(event.Data.Metadata.OwnerID)
	if sessionID == "" || convErr != nil {
		h.logger.Error("Webhook missing correlation metadata",
			zap.String("trace_id", traceID),
			zap.String("intent_id", event.Data.IntentID),
		)
		middleware.RecordWebhook("fault")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	outcome, err := h.materializer.Materialize(ctx, ownerID, sessionID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Materialization fault",
			zap.String("trace_id", traceID),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		middleware.RecordWebhook("fault")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	middleware.RecordWebhook(string(outcome))
	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": outcome})
}
