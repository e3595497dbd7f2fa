package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"checkout-svc/middleware"
	"checkout-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type OrderHandler struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOrderHandler(db *sql.DB, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{db: db, logger: logger}
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx, span := otel.Tracer("checkout-service").Start(c.Request.Context(), "GetOrder")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	span.SetAttributes(attribute.Int("order.id", orderID))

	var order models.Order
	var shopSellerID int
	err = h.db.QueryRowContext(ctx,
		"SELECT o.id, o.owner_id, o.shop_id, o.session_id, o.total_price, o.status, o.shipping_address_id, o.coupon_code, o.discount_amount, o.created_at, o.updated_at, s.seller_id FROM orders o JOIN shops s ON s.id = o.shop_id WHERE o.id = $1",
		orderID,
	).Scan(&order.ID, &order.OwnerID, &order.ShopID, &order.SessionID, &order.TotalPrice,
		&order.Status, &order.ShippingAddressID, &order.CouponCode, &order.DiscountAmount,
		&order.CreatedAt, &order.UpdatedAt, &shopSellerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		traceID := middleware.GetTraceID(ctx)
		h.logger.Error("Failed to get order", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	// only the buyer or the shop's seller may read an order
	userID, _ := middleware.UserID(c)
	sellerID, _ := middleware.SellerID(c)
	if userID != order.OwnerID && sellerID != shopSellerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	items, err := h.loadItems(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		traceID := middleware.GetTraceID(ctx)
		h.logger.Error("Failed to load order items", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	order.Items = items

	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) loadItems(ctx context.Context, orderID int) ([]models.OrderItem, error) {
	rows, err := h.db.QueryContext(ctx,
		"SELECT product_id, quantity, price, selected_options FROM order_items WHERE order_id = $1",
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		var options sql.NullString
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.Price, &options); err != nil {
			return nil, err
		}
		if options.Valid && options.String != "" && options.String != "null" {
			if err := json.Unmarshal([]byte(options.String), &item.SelectedOptions); err != nil {
				h.logger.Warn("Undecodable item options", zap.Int("order_id", orderID), zap.Error(err))
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (h *OrderHandler) UpdateOrderStatus(c *gin.Context) {
	ctx, span := otel.Tracer("checkout-service").Start(c.Request.Context(), "UpdateOrderStatus")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req models.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown order status"})
		return
	}

	span.SetAttributes(
		attribute.Int("order.id", orderID),
		attribute.String("order.status", string(req.Status)),
	)

	var current models.OrderStatus
	var shopSellerID int
	err = h.db.QueryRowContext(ctx,
		"SELECT o.status, s.seller_id FROM orders o JOIN shops s ON s.id = o.shop_id WHERE o.id = $1",
		orderID,
	).Scan(&current, &shopSellerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		traceID := middleware.GetTraceID(ctx)
		h.logger.Error("Failed to get order", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	sellerID, ok := middleware.SellerID(c)
	if !ok || sellerID != shopSellerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	if !current.CanAdvanceTo(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Order status can only move forward"})
		return
	}

	if _, err := h.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		req.Status, orderID,
	); err != nil {
		span.RecordError(err)
		traceID := middleware.GetTraceID(ctx)
		h.logger.Error("Failed to update order status", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Order status updated",
		zap.Int("order_id", orderID),
		zap.String("from", string(current)),
		zap.String("to", string(req.Status)),
	)
	c.JSON(http.StatusOK, gin.H{"id": orderID, "status": req.Status})
}
