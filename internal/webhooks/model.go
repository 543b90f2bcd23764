package webhooks

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventWildcard subscribes to every event type.
const EventWildcard = "*"

// Subscription is one owner's webhook registration. Event types use the
// event log type constants ("agent.registered", "feedback.given", ...) or
// the wildcard.
type Subscription struct {
	ID        uuid.UUID      `json:"id"`
	Owner     common.Address `json:"owner"`
	URL       string         `json:"url"`
	Events    []string       `json:"events"`
	Secret    string         `json:"-"` // never returned in API responses
	Active    bool           `json:"active"`
	CreatedAt time.Time      `json:"created_at"`
}

// Delivery records the outcome of a single delivery attempt.
type Delivery struct {
	ID             uuid.UUID `json:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	EventType      string    `json:"event_type"`
	StatusCode     int       `json:"status_code"`
	Attempt        int       `json:"attempt"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `json:"error_message"`
	DeliveredAt    time.Time `json:"delivered_at"`
}

// CreateSubscriptionRequest is the payload for creating a subscription.
type CreateSubscriptionRequest struct {
	URL    string   `json:"url"    binding:"required,url"`
	Events []string `json:"events" binding:"required"`
}
