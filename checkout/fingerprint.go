package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"checkout-svc/models"
)

var ErrEmptyCart = errors.New("cart is empty")

type optionPair struct {
	Key   string `json:"k"`
	Value string `json:"v"`
}

// fingerprintLine is the canonical projection of a cart line. Option maps
// are flattened to sorted pairs so serialization is deterministic.
type fingerprintLine struct {
	ProductID       int          `json:"product_id"`
	Quantity        int          `json:"quantity"`
	SalePrice       float64      `json:"sale_price"`
	ShopID          int          `json:"shop_id"`
	SelectedOptions []optionPair `json:"selected_options,omitempty"`
}

// ValidateCart rejects empty carts and malformed lines.
func ValidateCart(cart []models.CartItem) error {
	if len(cart) == 0 {
		return ErrEmptyCart
	}
	for i, item := range cart {
		if item.ProductID == 0 {
			return fmt.Errorf("cart item %d: missing product id", i)
		}
		if item.ShopID == 0 {
			return fmt.Errorf("cart item %d: missing shop id", i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("cart item %d: quantity must be positive", i)
		}
		if item.SalePrice < 0 {
			return fmt.Errorf("cart item %d: negative sale price", i)
		}
	}
	return nil
}

// Fingerprint produces an order-independent digest of cart contents.
// Permutations of the same cart fingerprint identically; any difference in
// product, quantity, price, shop or options changes the digest.
func Fingerprint(cart []models.CartItem) (string, error) {
	if err := ValidateCart(cart); err != nil {
		return "", err
	}

	lines := make([]fingerprintLine, 0, len(cart))
	for _, item := range cart {
		line := fingerprintLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			SalePrice: item.SalePrice,
			ShopID:    item.ShopID,
		}
		for k, v := range item.SelectedOptions {
			line.SelectedOptions = append(line.SelectedOptions, optionPair{Key: k, Value: v})
		}
		sort.Slice(line.SelectedOptions, func(a, b int) bool {
			return line.SelectedOptions[a].Key < line.SelectedOptions[b].Key
		})
		lines = append(lines, line)
	}

	sort.Slice(lines, func(a, b int) bool {
		if lines[a].ProductID != lines[b].ProductID {
			return lines[a].ProductID < lines[b].ProductID
		}
		return lines[a].ShopID < lines[b].ShopID
	})

	canonical, err := json.Marshal(lines)
	if err != nil {
		return "", fmt.Errorf("failed to serialize cart: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// CartTotal recomputes the cart total from its lines. Client-supplied
// totals are never trusted.
func CartTotal(cart []models.CartItem) float64 {
	var total float64
	for _, item := range cart {
		total += float64(item.Quantity) * item.SalePrice
	}
	return total
}
