package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/uptrace/bun"
)

// Order fulfillment pipeline. Cancelled is reachable from any non-terminal
// status. Counter (walk-up) orders are created directly in completed.
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusPreparing = "preparing"
	OrderStatusReady     = "ready"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// Payment axis, independent of the fulfillment pipeline.
const (
	PaymentStatusUnpaid              = "unpaid"
	PaymentStatusVerificationPending = "verification_pending"
	PaymentStatusPaid                = "paid"
)

type OrderItem struct {
	Name      string `json:"name"`
	Qty       int    `json:"qty"`
	UnitPrice int64  `json:"unit_price"`
}

// OrderItems serializes as JSON text so the same model works against
// postgres and the sqlite test databases.
type OrderItems []OrderItem

func (i OrderItems) Value() (driver.Value, error) {
	if i == nil {
		return "[]", nil
	}
	b, err := json.Marshal(i)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (i *OrderItems) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*i = OrderItems{}
		return nil
	case []byte:
		return json.Unmarshal(v, i)
	case string:
		return json.Unmarshal([]byte(v), i)
	default:
		return errors.New("unsupported type for OrderItems")
	}
}

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID                 string     `bun:"id,pk" json:"id"`
	UserID             string     `bun:"user_id,notnull" json:"user_id"`
	Items              OrderItems `bun:"items,type:text" json:"items"`
	TotalAmount        int64      `bun:"total_amount,notnull" json:"total_amount"`
	SlotID             string     `bun:"slot_id,nullzero" json:"slot_id,omitempty"`
	OrderStatus        string     `bun:"order_status,notnull" json:"order_status"`
	PaymentStatus      string     `bun:"payment_status,notnull" json:"payment_status"`
	PaymentMethod      string     `bun:"payment_method,nullzero" json:"payment_method,omitempty"`
	GatewayPaymentID   string     `bun:"gateway_payment_id,nullzero" json:"gateway_payment_id,omitempty"`
	PlacedAt           time.Time  `bun:"placed_at,notnull" json:"placed_at"`
	ConfirmedAt        *time.Time `bun:"confirmed_at,nullzero" json:"confirmed_at,omitempty"`
	ReadyAt            *time.Time `bun:"ready_at,nullzero" json:"ready_at,omitempty"`
	CompletedAt        *time.Time `bun:"completed_at,nullzero" json:"completed_at,omitempty"`
	CancellationReason string     `bun:"cancellation_reason,nullzero" json:"cancellation_reason,omitempty"`
	CounterStaffID     string     `bun:"counter_staff_id,nullzero" json:"counter_staff_id,omitempty"`
}

// nextStatuses enumerates the legal fulfillment transitions.
var nextStatuses = map[string][]string{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing: {OrderStatusReady, OrderStatusCancelled},
	OrderStatusReady:     {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted: {},
	OrderStatusCancelled: {},
}

// CanTransition reports whether an order may move from one fulfillment
// status to another.
func CanTransition(from, to string) bool {
	for _, next := range nextStatuses[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether a fulfillment status admits no further
// transitions.
func IsTerminalStatus(status string) bool {
	return len(nextStatuses[status]) == 0
}
