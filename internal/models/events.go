package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeCartTotalsUpdated = "CART_TOTALS_UPDATED"
	EventTypeCartCompleted     = "CART_COMPLETED"
	EventTypeCartExpired       = "CART_EXPIRED"
	EventTypeCheckoutCompleted = "CHECKOUT_COMPLETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// CartTotalsUpdatedEvent published after totals are persisted
type CartTotalsUpdatedEvent struct {
	BaseEvent
	CartID        int64           `json:"cart_id"`
	Total         decimal.Decimal `json:"total"`
	TotalSessions int64           `json:"total_sessions"`
}

// CartCompletedEvent published when a cart leaves active after checkout
type CartCompletedEvent struct {
	BaseEvent
	CartID int64           `json:"cart_id"`
	UserID int64           `json:"user_id"`
	Total  decimal.Decimal `json:"total"`
}

// CartExpiredEvent published when an abandoned cart is expired
type CartExpiredEvent struct {
	BaseEvent
	CartID int64 `json:"cart_id"`
	UserID int64 `json:"user_id"`
}

// CheckoutCompletedEvent is consumed from the payment gateway bridge
type CheckoutCompletedEvent struct {
	BaseEvent
	CartID        int64  `json:"cart_id"`
	UserID        int64  `json:"user_id"`
	PaymentStatus string `json:"payment_status"`
	SessionID     string `json:"session_id"`
}

// PaymentStatusPaid is the only checkout payment status that completes a cart.
const PaymentStatusPaid = "paid"
