package models

const EventTypePaymentSucceeded = "payment_intent.succeeded"

// GatewayMetadata is the correlation metadata attached to a payment intent
// and echoed back verbatim in the webhook. It is the only link between a
// gateway event and the cached session.
type GatewayMetadata struct {
	SessionID string `json:"session_id"`
	OwnerID   string `json:"owner_id"`
}

type GatewayEventData struct {
	IntentID string          `json:"intent_id"`
	Amount   float64         `json:"amount"`
	Currency string          `json:"currency"`
	Metadata GatewayMetadata `json:"metadata"`
}

// GatewayEvent is the signed webhook payload delivered by the payment
// gateway. Delivery is at-least-once.
type GatewayEvent struct {
	Type string           `json:"type"`
	Data GatewayEventData `json:"data"`
}

// NotificationEvent is the fan-out message published to Kafka for the
// notification service (buyer confirmation email, seller and admin alerts).
type NotificationEvent struct {
	EventType     string         `json:"event_type"`
	RecipientID   int            `json:"recipient_id"`
	RecipientRole string         `json:"recipient_role"`
	Title         string         `json:"title"`
	Message       string         `json:"message"`
	Link          string         `json:"link,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}
