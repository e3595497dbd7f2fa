package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"sort"

	"checkout-svc/checkout"
	"checkout-svc/circuitbreaker"
	"checkout-svc/coupon"
	"checkout-svc/middleware"
	"checkout-svc/models"
	"checkout-svc/payments"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type CheckoutHandler struct {
	sessions *checkout.SessionManager
	gateway  *payments.Client
	db       *sql.DB
	logger   *zap.Logger
}

func NewCheckoutHandler(sessions *checkout.SessionManager, gateway *payments.Client, db *sql.DB, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		sessions: sessions,
		gateway:  gateway,
		db:       db,
		logger:   logger,
	}
}

func (h *CheckoutHandler) CreateSession(c *gin.Context) {
	ctx, span := otel.Tracer("checkout-service").Start(c.Request.Context(), "CreateSession")
	defer span.End()

	ownerID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int("owner.id", ownerID),
		attribute.Int("cart.lines", len(req.Cart)),
	)

	resp, err := h.sessions.CreateSession(ctx, ownerID, req)
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrEmptyCart),
			errors.Is(err, checkout.ErrUnknownShop),
			errors.Is(err, coupon.ErrCouponNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			span.RecordError(err)
			traceID := middleware.GetTraceID(ctx)
			h.logger.Error("Failed to create session", zap.String("trace_id", traceID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	if resp.IsExisting {
		middleware.RecordSessionCreated("deduplicated")
		c.JSON(http.StatusOK, resp)
		return
	}
	middleware.RecordSessionCreated("created")
	c.JSON(http.StatusCreated, resp)
}

func (h *CheckoutHandler) VerifySession(c *gin.Context) {
	ctx, span := otel.Tracer("checkout-service").Start(c.Request.Context(), "VerifySession")
	defer span.End()

	ownerID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	session, err := h.sessions.FetchSession(ctx, ownerID, c.Param("id"))
	if err != nil {
		if errors.Is(err, checkout.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		span.RecordError(err)
		traceID := middleware.GetTraceID(ctx)
		h.logger.Error("Failed to fetch session", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *CheckoutHandler) CreateIntent(c *gin.Context) {
	ctx, span := otel.Tracer("checkout-service").Start(c.Request.Context(), "CreateIntent")
	defer span.End()

	ownerID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	session, err := h.sessions.FetchSession(ctx, ownerID, c.Param("id"))
	if err != nil {
		if errors.Is(err, checkout.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var req models.CreateIntentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	account, err := destinationAccount(session, req.ShopID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("session.id", session.SessionID),
		attribute.Float64("amount", session.TotalAmount),
	)

	clientSecret, err := h.gateway.CreateIntent(ctx, payments.IntentParams{
		SessionID:          session.SessionID,
		OwnerID:            ownerID,
		Amount:             session.TotalAmount,
		DestinationAccount: account,
	})
	if err != nil {
		var upstream *payments.UpstreamError
		switch {
		case errors.As(err, &upstream):
			c.JSON(http.StatusBadGateway, gin.H{"error": upstream.Reason})
		case errors.Is(err, circuitbreaker.ErrCircuitOpen):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payment gateway unavailable"})
		default:
			span.RecordError(err)
			traceID := middleware.GetTraceID(ctx)
			h.logger.Error("Failed to create payment intent", zap.String("trace_id", traceID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, models.CreateIntentResponse{ClientSecret: clientSecret})
}

// destinationAccount picks the payout account for the intent. A shop id in
// the request selects its seller; otherwise the lowest shop id in the
// session is used so the choice is deterministic.
func destinationAccount(session *models.PaymentSession, shopID int) (string, error) {
	if shopID != 0 {
		seller, ok := session.Sellers[shopID]
		if !ok {
			return "", errors.New("shop is not part of this session")
		}
		return seller.GatewayAccountID, nil
	}

	shopIDs := make([]int, 0, len(session.Sellers))
	for id := range session.Sellers {
		shopIDs = append(shopIDs, id)
	}
	if len(shopIDs) == 0 {
		return "", errors.New("session has no sellers")
	}
	sort.Ints(shopIDs)
	return session.Sellers[shopIDs[0]].GatewayAccountID, nil
}

func (h *CheckoutHandler) VerifyCoupon(c *gin.Context) {
	ctx, span := otel.Tracer("checkout-service").Start(c.Request.Context(), "VerifyCoupon")
	defer span.End()

	var req models.VerifyCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(attribute.String("coupon.code", req.Code))

	cpn, err := coupon.Lookup(ctx, h.db, req.Code)
	if err != nil {
		if errors.Is(err, coupon.ErrCouponNotFound) {
			// fail fast, no further lookups
			c.JSON(http.StatusOK, coupon.Result{Valid: false, Reason: "coupon code not found"})
			return
		}
		span.RecordError(err)
		traceID := middleware.GetTraceID(ctx)
		h.logger.Error("Failed to look up coupon", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, coupon.Evaluate(*cpn, req.Cart))
}
