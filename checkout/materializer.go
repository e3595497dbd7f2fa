package checkout

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"checkout-svc/cache"
	"checkout-svc/coupon"
	"checkout-svc/kafka"
	"checkout-svc/middleware"
	"checkout-svc/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type Outcome string

const (
	// OutcomeCompleted means at least one order was persisted and the
	// session was deleted.
	OutcomeCompleted Outcome = "completed"
	// OutcomeSkipped means the session was absent: already materialized by
	// an earlier delivery, or expired. Treated as success because gateway
	// delivery is at-least-once.
	OutcomeSkipped Outcome = "skipped"
)

// Materializer turns a confirmed payment event into persistent orders and
// their side effects: stock decrement, analytics, and notification fan-out.
// Replays of the same event converge on a no-op because the session is
// deleted as the final step, with UNIQUE(session_id, shop_id) as the
// database-level backstop.
type Materializer struct {
	store     Store
	db        *sql.DB
	publisher kafka.Publisher
	topic     string
	logger    *zap.Logger
}

func NewMaterializer(store Store, db *sql.DB, publisher kafka.Publisher, logger *zap.Logger) *Materializer {
	topic := os.Getenv("NOTIFICATION_TOPIC")
	if topic == "" {
		topic = "notification_events"
	}
	return &Materializer{
		store:     store,
		db:        db,
		publisher: publisher,
		topic:     topic,
		logger:    logger,
	}
}

type shopGroup struct {
	ShopID int
	Items  []models.CartItem
}

// partitionByShop splits the cart into one disjoint group per shop,
// ascending by shop id so order creation is deterministic.
func partitionByShop(cart []models.CartItem) []shopGroup {
	byShop := make(map[int][]models.CartItem)
	for _, item := range cart {
		byShop[item.ShopID] = append(byShop[item.ShopID], item)
	}

	groups := make([]shopGroup, 0, len(byShop))
	for shopID, items := range byShop {
		groups = append(groups, shopGroup{ShopID: shopID, Items: items})
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].ShopID < groups[b].ShopID })
	return groups
}

// Materialize runs the order-creation state machine for one payment event.
// Callers must have verified the webhook signature first.
func (m *Materializer) Materialize(ctx context.Context, ownerID int, sessionID string) (Outcome, error) {
	ctx, span := otel.Tracer("checkout-service").Start(ctx, "MaterializeOrders")
	defer span.End()

	span.SetAttributes(
		attribute.Int("owner.id", ownerID),
		attribute.String("session.id", sessionID),
	)

	traceID := middleware.GetTraceID(ctx)
	key := sessionKey(ownerID, sessionID)

	data, err := m.store.Get(ctx, key)
	if errors.Is(err, cache.ErrKeyNotFound) {
		// Already materialized or expired. Duplicate deliveries land here.
		span.SetAttributes(attribute.String("outcome", string(OutcomeSkipped)))
		m.logger.Info("Session absent, skipping materialization",
			zap.String("trace_id", traceID),
			zap.String("session_id", sessionID),
		)
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read session: %w", err)
	}

	var session models.PaymentSession
	if err := json.Unmarshal(data, &session); err != nil {
		return "", fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}

	buyerName, buyerEmail := m.lookupBuyer(ctx, ownerID)

	groups := partitionByShop(session.Cart)
	span.SetAttributes(attribute.Int("shop.count", len(groups)))

	var created []*models.Order
	var failedShops []int
	var grandTotal, totalDiscount float64

	for _, group := range groups {
		groupTotal := CartTotal(group.Items)

		// The discount is re-derived from the coupon snapshot against this
		// group, never trusted as a cached number. It applies in the one
		// group holding the eligible product.
		var discount float64
		if session.Coupon != nil {
			if res := coupon.Evaluate(*session.Coupon, group.Items); res.Valid {
				discount = res.DiscountAmount
			}
		}

		order, err := m.insertOrder(ctx, &session, group, groupTotal-discount, discount)
		if err != nil {
			span.RecordError(err)
			m.logger.Error("Failed to persist order for shop",
				zap.String("trace_id", traceID),
				zap.String("session_id", sessionID),
				zap.Int("shop_id", group.ShopID),
				zap.Error(err),
			)
			failedShops = append(failedShops, group.ShopID)
			continue
		}

		created = append(created, order)
		grandTotal += order.TotalPrice
		totalDiscount += discount
		middleware.RecordOrderMaterialized()
	}

	if len(created) == 0 {
		// Nothing persisted; leave the session intact so a retried delivery
		// can succeed once the fault clears.
		return "", fmt.Errorf("no orders persisted for session %s (shops %v)", sessionID, failedShops)
	}

	m.applyInventoryAndAnalytics(ctx, traceID, ownerID, created)
	m.notifyBuyer(ctx, &session, created, buyerName, buyerEmail, grandTotal, totalDiscount)
	m.notifySellers(ctx, &session, created)
	m.notifyAdmin(ctx, &session, created, failedShops)

	// Commit point: replays of this event now become skip no-ops.
	if err := m.store.Delete(ctx, key); err != nil {
		m.logger.Error("Failed to delete materialized session",
			zap.String("trace_id", traceID),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}

	if len(failedShops) > 0 {
		m.logger.Error("Partial materialization requires reconciliation",
			zap.String("trace_id", traceID),
			zap.String("session_id", sessionID),
			zap.Ints("failed_shops", failedShops),
			zap.Int("orders_created", len(created)),
		)
	}

	span.SetAttributes(
		attribute.String("outcome", string(OutcomeCompleted)),
		attribute.Int("orders.created", len(created)),
	)
	m.logger.Info("Session materialized",
		zap.String("trace_id", traceID),
		zap.String("session_id", sessionID),
		zap.Int("orders_created", len(created)),
		zap.Float64("total", grandTotal),
	)

	return OutcomeCompleted, nil
}

func (m *Materializer) lookupBuyer(ctx context.Context, ownerID int) (name, email string) {
	err := m.db.QueryRowContext(ctx,
		"SELECT name, email FROM users WHERE id = $1", ownerID,
	).Scan(&name, &email)
	if err != nil {
		m.logger.Warn("Failed to look up buyer identity",
			zap.Int("owner_id", ownerID),
			zap.Error(err),
		)
	}
	return name, email
}

// insertOrder persists one shop's order with its line items in a single
// transaction. Sibling groups are independent: a failure here does not roll
// back orders already created for other shops.
func (m *Materializer) insertOrder(ctx context.Context, session *models.PaymentSession, group shopGroup, total, discount float64) (*models.Order, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	couponCode := ""
	if session.Coupon != nil && discount > 0 {
		couponCode = session.Coupon.Code
	}

	order := models.Order{
		OwnerID:           session.OwnerID,
		ShopID:            group.ShopID,
		SessionID:         session.SessionID,
		TotalPrice:        total,
		Status:            models.OrderStatusPaid,
		ShippingAddressID: session.ShippingAddressID,
		CouponCode:        couponCode,
		DiscountAmount:    discount,
	}

	err = tx.QueryRowContext(ctx,
		"INSERT INTO orders (owner_id, shop_id, session_id, total_price, status, shipping_address_id, coupon_code, discount_amount) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at, updated_at",
		order.OwnerID, order.ShopID, order.SessionID, order.TotalPrice, order.Status,
		order.ShippingAddressID, order.CouponCode, order.DiscountAmount,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	for _, item := range group.Items {
		options, err := json.Marshal(item.SelectedOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal item options: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO order_items (order_id, product_id, quantity, price, selected_options) VALUES ($1, $2, $3, $4, $5)",
			order.ID, item.ProductID, item.Quantity, item.SalePrice, string(options),
		); err != nil {
			return nil, fmt.Errorf("failed to insert order item: %w", err)
		}
		order.Items = append(order.Items, models.OrderItem{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			Price:           item.SalePrice,
			SelectedOptions: item.SelectedOptions,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}
	return &order, nil
}

// applyInventoryAndAnalytics decrements stock, bumps sales counters, and
// appends behavioral-analytics rows for every persisted line. Increments
// are single atomic statements so concurrent materializations of the same
// product never lose updates. Failures here are logged, not fatal: the
// orders already exist.
func (m *Materializer) applyInventoryAndAnalytics(ctx context.Context, traceID string, ownerID int, orders []*models.Order) {
	for _, order := range orders {
		for _, item := range order.Items {
			if _, err := m.db.ExecContext(ctx,
				"UPDATE products SET stock = stock - $1, sold_count = sold_count + $1 WHERE id = $2",
				item.Quantity, item.ProductID,
			); err != nil {
				m.logger.Error("Failed to decrement stock",
					zap.String("trace_id", traceID),
					zap.Int("product_id", item.ProductID),
					zap.Error(err),
				)
			}

			if _, err := m.db.ExecContext(ctx,
				"INSERT INTO product_analytics (product_id, shop_id, purchases, last_purchased_at) VALUES ($1, $2, $3, NOW()) ON CONFLICT (product_id) DO UPDATE SET purchases = product_analytics.purchases + EXCLUDED.purchases, last_purchased_at = NOW()",
				item.ProductID, order.ShopID, item.Quantity,
			); err != nil {
				m.logger.Error("Failed to upsert product analytics",
					zap.String("trace_id", traceID),
					zap.Int("product_id", item.ProductID),
					zap.Error(err),
				)
			}

			if _, err := m.db.ExecContext(ctx,
				"INSERT INTO user_actions (user_id, action, product_id) VALUES ($1, 'purchase', $2)",
				ownerID, item.ProductID,
			); err != nil {
				m.logger.Error("Failed to append user action",
					zap.String("trace_id", traceID),
					zap.Int("owner_id", ownerID),
					zap.Error(err),
				)
			}
		}
	}
}

func (m *Materializer) notifyBuyer(ctx context.Context, session *models.PaymentSession, orders []*models.Order, buyerName, buyerEmail string, grandTotal, totalDiscount float64) {
	summaries := make([]map[string]any, 0, len(orders))
	for _, order := range orders {
		summaries = append(summaries, map[string]any{
			"order_id": order.ID,
			"shop_id":  order.ShopID,
			"total":    order.TotalPrice,
			"items":    len(order.Items),
		})
	}

	event := models.NotificationEvent{
		EventType:     "order_confirmation",
		RecipientID:   session.OwnerID,
		RecipientRole: "buyer",
		Title:         "Order confirmed",
		Message:       fmt.Sprintf("Your payment of %.2f was received. %d order(s) are being prepared.", grandTotal, len(orders)),
		Data: map[string]any{
			"name":     buyerName,
			"email":    buyerEmail,
			"orders":   summaries,
			"total":    grandTotal,
			"discount": totalDiscount,
		},
	}
	if err := m.publisher.Publish(ctx, m.topic, event); err != nil {
		m.logger.Error("Failed to publish buyer confirmation", zap.Error(err))
	}
}

func (m *Materializer) notifySellers(ctx context.Context, session *models.PaymentSession, orders []*models.Order) {
	for _, order := range orders {
		seller, ok := session.Sellers[order.ShopID]
		if !ok {
			m.logger.Warn("No seller cached for shop", zap.Int("shop_id", order.ShopID))
			continue
		}
		event := models.NotificationEvent{
			EventType:     "order_placed",
			RecipientID:   seller.SellerID,
			RecipientRole: "seller",
			Title:         "New order",
			Message:       fmt.Sprintf("Order #%d: %d item(s), total %.2f", order.ID, len(order.Items), order.TotalPrice),
			Link:          fmt.Sprintf("/seller/orders/%d", order.ID),
		}
		if err := m.publisher.Publish(ctx, m.topic, event); err != nil {
			m.logger.Error("Failed to publish seller notification",
				zap.Int("seller_id", seller.SellerID),
				zap.Error(err),
			)
		}
	}
}

func (m *Materializer) notifyAdmin(ctx context.Context, session *models.PaymentSession, orders []*models.Order, failedShops []int) {
	event := models.NotificationEvent{
		EventType:     "order_placed",
		RecipientRole: "admin",
		Title:         "Order placed",
		Message:       fmt.Sprintf("Session %s produced %d order(s)", session.SessionID, len(orders)),
	}
	if len(failedShops) > 0 {
		event.EventType = "order_reconciliation"
		event.Title = "Order reconciliation required"
		event.Message = fmt.Sprintf("Session %s: order creation failed for shops %v; %d sibling order(s) were persisted", session.SessionID, failedShops, len(orders))
	}
	if err := m.publisher.Publish(ctx, m.topic, event); err != nil {
		m.logger.Error("Failed to publish admin notification", zap.Error(err))
	}
}
