package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Slot is a capacity-bounded pickup time window for scheduled orders.
// Invariant: 0 <= BookedCount <= Capacity. IsActive flips to false in the
// same transaction as the increment that fills the last seat.
type Slot struct {
	bun.BaseModel `bun:"table:order_slots"`

	ID           string     `bun:"id,pk" json:"id"`
	Date         string     `bun:"date,notnull" json:"date"` // YYYY-MM-DD
	StartTime    string     `bun:"start_time,notnull" json:"start_time"`
	Capacity     int        `bun:"capacity,notnull" json:"capacity"`
	BookedCount  int        `bun:"booked_count,notnull,default:0" json:"booked_count"`
	IsActive     bool       `bun:"is_active,notnull" json:"is_active"`
	AutoClosedAt *time.Time `bun:"auto_closed_at,nullzero" json:"auto_closed_at,omitempty"`
}
