package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"checkout-svc/circuitbreaker"

	"go.uber.org/zap"
)

// UpstreamError carries a gateway-side rejection (invalid account,
// insufficient permissions) back to the caller with the gateway's reason.
type UpstreamError struct {
	StatusCode int
	Reason     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("payment gateway rejected request (status %d): %s", e.StatusCode, e.Reason)
}

// Client issues charge intents against the external payment gateway. It
// keeps no local state; the session/owner metadata it tags onto an intent
// is echoed back verbatim in the webhook.
type Client struct {
	baseURL    string
	apiKey     string
	feePercent float64
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewClient(logger *zap.Logger) *Client {
	feePercent := 10.0
	if v := os.Getenv("PLATFORM_FEE_PERCENT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			feePercent = f
		}
	}

	return &Client{
		baseURL:    getEnv("PAYMENT_GATEWAY_URL", "http://localhost:8090"),
		apiKey:     getEnv("PAYMENT_GATEWAY_API_KEY", ""),
		feePercent: feePercent,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker:    circuitbreaker.New(5, 30*time.Second),
		logger:     logger,
	}
}

type IntentParams struct {
	SessionID          string
	OwnerID            int
	Amount             float64
	Currency           string
	DestinationAccount string
}

type intentRequest struct {
	Amount             float64           `json:"amount"`
	Currency           string            `json:"currency"`
	ApplicationFee     float64           `json:"application_fee"`
	DestinationAccount string            `json:"destination_account"`
	Metadata           map[string]string `json:"metadata"`
}

type intentResponse struct {
	ClientSecret string `json:"client_secret"`
	Error        string `json:"error,omitempty"`
}

// PlatformFee is the platform's cut, rounded to cents.
func (c *Client) PlatformFee(amount float64) float64 {
	return math.Round(amount*c.feePercent) / 100
}

// CreateIntent requests a charge that auto-splits the platform fee from the
// seller's payout and returns the client secret for card collection.
func (c *Client) CreateIntent(ctx context.Context, p IntentParams) (string, error) {
	if p.Amount <= 0 {
		return "", fmt.Errorf("intent amount must be positive, got %.2f", p.Amount)
	}
	if p.DestinationAccount == "" {
		return "", fmt.Errorf("destination account is required")
	}
	currency := p.Currency
	if currency == "" {
		currency = getEnv("PAYMENT_CURRENCY", "usd")
	}

	body := intentRequest{
		Amount:             p.Amount,
		Currency:           currency,
		ApplicationFee:     c.PlatformFee(p.Amount),
		DestinationAccount: p.DestinationAccount,
		Metadata: map[string]string{
			"session_id": p.SessionID,
			"owner_id":   strconv.Itoa(p.OwnerID),
		},
	}

	var clientSecret string
	err := c.breaker.Execute(ctx, func() error {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal intent request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payment_intents", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build intent request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("gateway request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read gateway response: %w", err)
		}

		var parsed intentResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}

		if resp.StatusCode >= 300 {
			reason := parsed.Error
			if reason == "" {
				reason = string(respBody)
			}
			return &UpstreamError{StatusCode: resp.StatusCode, Reason: reason}
		}

		if parsed.ClientSecret == "" {
			return fmt.Errorf("gateway response missing client_secret")
		}
		clientSecret = parsed.ClientSecret
		return nil
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("Payment intent created",
		zap.String("session_id", p.SessionID),
		zap.Int("owner_id", p.OwnerID),
		zap.Float64("amount", p.Amount),
		zap.Float64("application_fee", c.PlatformFee(p.Amount)),
	)
	return clientSecret, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
