package models

import "time"

const (
	DiscountTypePercentage = "percentage"
	DiscountTypeFlat       = "flat"
)

// CartItem is a single cart line. Immutable once cached in a session.
type CartItem struct {
	ProductID       int               `json:"product_id" binding:"required"`
	Quantity        int               `json:"quantity" binding:"required,gt=0"`
	SalePrice       float64           `json:"sale_price" binding:"gte=0"`
	ShopID          int               `json:"shop_id" binding:"required"`
	SelectedOptions map[string]string `json:"selected_options,omitempty"`
}

type SellerInfo struct {
	SellerID         int    `json:"seller_id"`
	GatewayAccountID string `json:"gateway_account_id"`
}

// PaymentSession is the ephemeral checkout record cached in Redis under a
// fixed TTL. It is the only state between session creation and the gateway
// webhook; total_amount is always server-computed from the cart lines.
type PaymentSession struct {
	SessionID         string             `json:"session_id"`
	OwnerID           int                `json:"owner_id"`
	Cart              []CartItem         `json:"cart"`
	Sellers           map[int]SellerInfo `json:"sellers"`
	TotalAmount       float64            `json:"total_amount"`
	ShippingAddressID *int               `json:"shipping_address_id,omitempty"`
	Coupon            *Coupon            `json:"coupon,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

// Coupon applies to exactly one product id. Read-only catalog data.
type Coupon struct {
	Code          string  `json:"code"`
	DiscountType  string  `json:"discount_type"`
	DiscountValue float64 `json:"discount_value"`
	ProductID     int     `json:"product_id"`
}

type CreateSessionRequest struct {
	Cart              []CartItem `json:"cart" binding:"required"`
	ShippingAddressID *int       `json:"shipping_address_id,omitempty"`
	CouponCode        string     `json:"coupon_code,omitempty"`
}

type CreateSessionResponse struct {
	SessionID   string  `json:"session_id"`
	IsExisting  bool    `json:"is_existing"`
	TotalAmount float64 `json:"total_amount"`
}

type CreateIntentRequest struct {
	ShopID int `json:"shop_id,omitempty"`
}

type CreateIntentResponse struct {
	ClientSecret string `json:"client_secret"`
}

type VerifyCouponRequest struct {
	Code string     `json:"code" binding:"required"`
	Cart []CartItem `json:"cart" binding:"required"`
}
