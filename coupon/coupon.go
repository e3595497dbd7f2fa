package coupon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-svc/models"
)

var ErrCouponNotFound = errors.New("coupon not found")

// Result is the outcome of evaluating a coupon against a cart. An
// inapplicable coupon is a business outcome (Valid=false with a reason),
// not an error.
type Result struct {
	Valid             bool    `json:"valid"`
	Reason            string  `json:"reason,omitempty"`
	DiscountAmount    float64 `json:"discount_amount"`
	EligibleProductID int     `json:"eligible_product_id,omitempty"`
	DiscountType      string  `json:"discount_type,omitempty"`
}

// Lookup fetches a coupon by code from the catalog.
func Lookup(ctx context.Context, db *sql.DB, code string) (*models.Coupon, error) {
	var c models.Coupon
	err := db.QueryRowContext(ctx,
		"SELECT code, discount_type, discount_value, product_id FROM coupons WHERE code = $1",
		code,
	).Scan(&c.Code, &c.DiscountType, &c.DiscountValue, &c.ProductID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up coupon: %w", err)
	}
	return &c, nil
}

// Evaluate computes the discount a coupon yields against a cart. A coupon
// targets exactly one product id; the discount is clamped to the matched
// line's total and never goes negative. Pure and deterministic, safe to
// re-run at materialization time.
func Evaluate(c models.Coupon, cart []models.CartItem) Result {
	var matched *models.CartItem
	for i := range cart {
		if cart[i].ProductID == c.ProductID {
			matched = &cart[i]
			break
		}
	}
	if matched == nil {
		return Result{Valid: false, Reason: "no cart item is eligible for this coupon"}
	}

	lineTotal := float64(matched.Quantity) * matched.SalePrice

	var discount float64
	switch c.DiscountType {
	case models.DiscountTypePercentage:
		discount = lineTotal * c.DiscountValue / 100
	case models.DiscountTypeFlat:
		discount = c.DiscountValue
	default:
		return Result{Valid: false, Reason: fmt.Sprintf("unsupported discount type %q", c.DiscountType)}
	}

	if discount > lineTotal {
		discount = lineTotal
	}
	if discount < 0 {
		discount = 0
	}

	return Result{
		Valid:             true,
		DiscountAmount:    discount,
		EligibleProductID: matched.ProductID,
		DiscountType:      c.DiscountType,
	}
}
