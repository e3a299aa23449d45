package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-canteen/internal/database"
	"ms-canteen/internal/logger"
	"ms-canteen/internal/models"
	slotdb "ms-canteen/internal/slot/db"
)

var (
	ErrSlotFull     = errors.New("pickup slot is full")
	ErrSlotNotFound = errors.New("pickup slot not found")
)

// Publisher receives the order-created event after a reservation commits.
type Publisher interface {
	OrderStatusEvent(evt models.OrderStatusEvent)
}

// ReserveRequest is the order payload a reservation creates atomically with
// the seat it takes.
type ReserveRequest struct {
	UserID string
	Items  models.OrderItems
}

// Service manages fixed-capacity pickup slots. Reserve books a seat
// atomically against current occupancy and auto-closes the slot when full.
type Service struct {
	db        *bun.DB
	pub       Publisher
	log       *logger.Logger
	txRetries int
}

func NewService(db *bun.DB, pub Publisher, log *logger.Logger, txRetries int) *Service {
	return &Service{db: db, pub: pub, log: log, txRetries: txRetries}
}

// Reserve reads the slot's occupancy, creates the order, and increments
// booked_count as one atomic unit. If the increment fills the last seat the
// slot is closed in the same transaction. Two students racing for the last
// seat resolve to exactly one success and one ErrSlotFull.
func (s *Service) Reserve(ctx context.Context, slotID string, req ReserveRequest) (*models.Order, error) {
	var total int64
	for _, item := range req.Items {
		total += int64(item.Qty) * item.UnitPrice
	}

	var order *models.Order
	err := database.RunInTxWithRetry(ctx, s.db, s.txRetries, func(ctx context.Context, tx bun.Tx) error {
		slot, err := slotdb.GetSlot(ctx, tx, slotID)
		if err != nil {
			if slotdb.IsNoRows(err) {
				return ErrSlotNotFound
			}
			return err
		}

		if !slot.IsActive || slot.BookedCount >= slot.Capacity {
			return ErrSlotFull
		}

		now := time.Now()
		newCount := slot.BookedCount + 1
		stillActive := newCount < slot.Capacity
		var autoClosedAt *time.Time
		if !stillActive {
			autoClosedAt = &now
		}
		if err := slotdb.SwapOccupancy(ctx, tx, slotID, slot.BookedCount, newCount, stillActive, autoClosedAt); err != nil {
			return err
		}

		order = &models.Order{
			ID:            uuid.NewString(),
			UserID:        req.UserID,
			Items:         req.Items,
			TotalAmount:   total,
			SlotID:        slotID,
			OrderStatus:   models.OrderStatusPending,
			PaymentStatus: models.PaymentStatusUnpaid,
			PlacedAt:      now,
		}
		return slotdb.InsertOrder(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	s.log.LogOrder("RESERVE", order.ID, fmt.Sprintf("seat booked in slot %s for user %s", slotID, req.UserID))
	if s.pub != nil {
		s.pub.OrderStatusEvent(models.OrderStatusEvent{
			OrderID:       order.ID,
			UserID:        order.UserID,
			OrderStatus:   order.OrderStatus,
			PaymentStatus: order.PaymentStatus,
			OccurredAt:    order.PlacedAt,
		})
	}
	return order, nil
}

// ListOpen returns active slots for a date ordered by start time.
func (s *Service) ListOpen(ctx context.Context, date string) ([]models.Slot, error) {
	return slotdb.ListOpen(ctx, s.db, date)
}

// Reopen administratively reactivates a closed slot. Only valid while
// seats remain; a full slot stays closed.
func (s *Service) Reopen(ctx context.Context, slotID string) error {
	return database.RunInTxWithRetry(ctx, s.db, s.txRetries, func(ctx context.Context, tx bun.Tx) error {
		slot, err := slotdb.GetSlot(ctx, tx, slotID)
		if err != nil {
			if slotdb.IsNoRows(err) {
				return ErrSlotNotFound
			}
			return err
		}
		if slot.BookedCount >= slot.Capacity {
			return ErrSlotFull
		}
		return slotdb.SwapOccupancy(ctx, tx, slotID, slot.BookedCount, slot.BookedCount, true, nil)
	})
}
