package models

import "time"

type OrderStatus string

const (
	OrderStatusPaid           OrderStatus = "Paid"
	OrderStatusPacked         OrderStatus = "Packed"
	OrderStatusShipped        OrderStatus = "Shipped"
	OrderStatusOutForDelivery OrderStatus = "Out for Delivery"
	OrderStatusDelivered      OrderStatus = "Delivered"
)

var orderStatusRank = map[OrderStatus]int{
	OrderStatusPaid:           0,
	OrderStatusPacked:         1,
	OrderStatusShipped:        2,
	OrderStatusOutForDelivery: 3,
	OrderStatusDelivered:      4,
}

func (s OrderStatus) Valid() bool {
	_, ok := orderStatusRank[s]
	return ok
}

// CanAdvanceTo reports whether next is a forward transition. An order is
// never reopened to an earlier status.
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	from, ok := orderStatusRank[s]
	if !ok {
		return false
	}
	to, ok := orderStatusRank[next]
	if !ok {
		return false
	}
	return to > from
}

type OrderItem struct {
	ProductID       int               `json:"product_id"`
	Quantity        int               `json:"quantity"`
	Price           float64           `json:"price"`
	SelectedOptions map[string]string `json:"selected_options,omitempty"`
}

// Order is one shop's share of a materialized payment session. A session
// with items from N distinct shops produces exactly N orders.
type Order struct {
	ID                int         `json:"id"`
	OwnerID           int         `json:"owner_id"`
	ShopID            int         `json:"shop_id"`
	SessionID         string      `json:"session_id"`
	Items             []OrderItem `json:"items"`
	TotalPrice        float64     `json:"total_price"`
	Status            OrderStatus `json:"status"`
	ShippingAddressID *int        `json:"shipping_address_id,omitempty"`
	CouponCode        string      `json:"coupon_code,omitempty"`
	DiscountAmount    float64     `json:"discount_amount"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

type UpdateOrderStatusRequest struct {
	Status OrderStatus `json:"status" binding:"required"`
}
