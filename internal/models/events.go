package models

import "time"

// Domain events handed to the notification dispatcher. Delivery is
// best-effort; the core never fails an operation on a publish error.

type OrderStatusEvent struct {
	OrderID       string    `json:"order_id"`
	UserID        string    `json:"user_id"`
	OrderStatus   string    `json:"order_status"`
	PaymentStatus string    `json:"payment_status"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type WalletEvent struct {
	UserID     string    `json:"user_id"`
	Type       string    `json:"type"` // credit | debit | low_balance
	Amount     int64     `json:"amount,omitempty"`
	Balance    int64     `json:"balance"`
	OrderID    string    `json:"order_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type PaymentRecordedEvent struct {
	OrderID          string    `json:"order_id"`
	UserID           string    `json:"user_id"`
	Channel          string    `json:"channel"`
	Amount           int64     `json:"amount"`
	GatewayPaymentID string    `json:"gateway_payment_id,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// GatewayResultEvent is the shape the external payment-gateway collaborator
// publishes on the gateway results topic.
type GatewayResultEvent struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Succeeded bool   `json:"succeeded"`
	Reason    string `json:"reason,omitempty"`
}
