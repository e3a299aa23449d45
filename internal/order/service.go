package order

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
	orderdb "ms-canteen/internal/order/db"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("illegal order status transition")
)

// Publisher receives domain events after an order transaction commits.
type Publisher interface {
	OrderStatusEvent(evt models.OrderStatusEvent)
	PaymentRecordedEvent(evt models.PaymentRecordedEvent)
}

type Options struct {
	TxRetries int
	// GatewayWriteRetries bounds retries of a store write that fails after
	// the external gateway has already confirmed the payment.
	GatewayWriteRetries int
}

// Service owns the order aggregate and its two independent status axes:
// the fulfillment pipeline and the payment reconciliation state machine.
type Service struct {
	db   *bun.DB
	pub  Publisher
	log  *logger.Logger
	opts Options
}

func NewService(db *bun.DB, pub Publisher, log *logger.Logger, opts Options) *Service {
	if opts.GatewayWriteRetries <= 0 {
		opts.GatewayWriteRetries = 3
	}
	return &Service{db: db, pub: pub, log: log, opts: opts}
}

// Get fetches one order.
func (s *Service) Get(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := orderdb.GetOrder(ctx, s.db, orderID)
	if err != nil {
		if orderdb.IsNoRows(err) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// ListByUser returns a user's orders newest-first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]models.Order, error) {
	return orderdb.GetOrdersByUser(ctx, s.db, userID, limit)
}

// PlaceCounterOrder creates a walk-up order. Payment and fulfillment are
// simultaneous at a staffed counter, so the order is born completed and
// paid with the given channel (cash or wallet settled separately).
func (s *Service) PlaceCounterOrder(ctx context.Context, userID string, items models.OrderItems, channel, staffID string) (*models.Order, error) {
	var total int64
	for _, item := range items {
		total += int64(item.Qty) * item.UnitPrice
	}

	now := time.Now()
	order := &models.Order{
		ID:             uuid.NewString(),
		UserID:         userID,
		Items:          items,
		TotalAmount:    total,
		OrderStatus:    models.OrderStatusCompleted,
		PaymentStatus:  models.PaymentStatusPaid,
		PaymentMethod:  channel,
		PlacedAt:       now,
		CompletedAt:    &now,
		CounterStaffID: staffID,
	}
	if err := orderdb.InsertOrder(ctx, s.db, order); err != nil {
		return nil, err
	}

	s.log.LogOrder("COUNTER", order.ID, fmt.Sprintf("walk-up order settled by %s via %s", staffID, channel))
	s.publishStatus(order)
	return order, nil
}

// AdvanceStatus moves an order one step along the fulfillment pipeline,
// stamping the matching timestamp. Cancellation goes through Cancel.
func (s *Service) AdvanceStatus(ctx context.Context, orderID, next, staffID string) (*models.Order, error) {
	if next == models.OrderStatusCancelled {
		return nil, ErrInvalidTransition
	}

	var order *models.Order
	err := database.RunInTxWithRetry(ctx, s.db, s.opts.TxRetries, func(ctx context.Context, tx bun.Tx) error {
		var err error
		order, err = orderdb.GetOrder(ctx, tx, orderID)
		if err != nil {
			if orderdb.IsNoRows(err) {
				return ErrOrderNotFound
			}
			return err
		}

		if !models.CanTransition(order.OrderStatus, next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.OrderStatus, next)
		}

		prevStatus := order.OrderStatus
		now := time.Now()
		order.OrderStatus = next
		switch next {
		case models.OrderStatusConfirmed:
			order.ConfirmedAt = &now
		case models.OrderStatusReady:
			order.ReadyAt = &now
		case models.OrderStatusCompleted:
			order.CompletedAt = &now
		}
		return orderdb.UpdateOrder(ctx, tx, order, prevStatus, order.PaymentStatus)
	})
	if err != nil {
		return nil, err
	}

	s.log.LogOrder("STATUS", orderID, fmt.Sprintf("moved to %s by %s", next, staffID))
	s.publishStatus(order)
	return order, nil
}

// Cancel marks the order cancelled. This is a status write only: the
// wallet is not refunded and the slot seat is not released. Known gap in
// the reference behavior, kept until a product decision says otherwise.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (*models.Order, error) {
	var order *models.Order
	err := database.RunInTxWithRetry(ctx, s.db, s.opts.TxRetries, func(ctx context.Context, tx bun.Tx) error {
		var err error
		order, err = orderdb.GetOrder(ctx, tx, orderID)
		if err != nil {
			if orderdb.IsNoRows(err) {
				return ErrOrderNotFound
			}
			return err
		}

		if models.IsTerminalStatus(order.OrderStatus) {
			return fmt.Errorf("%w: %s -> cancelled", ErrInvalidTransition, order.OrderStatus)
		}

		prevStatus := order.OrderStatus
		order.OrderStatus = models.OrderStatusCancelled
		order.CancellationReason = reason
		return orderdb.UpdateOrder(ctx, tx, order, prevStatus, order.PaymentStatus)
	})
	if err != nil {
		return nil, err
	}

	if order.PaymentStatus == models.PaymentStatusPaid {
		s.log.Warn("ORDER", fmt.Sprintf("order %s cancelled after payment; settlement retained, no auto-refund", orderID))
	}
	if order.SlotID != "" {
		s.log.Warn("ORDER", fmt.Sprintf("order %s cancelled; slot %s seat not released", orderID, order.SlotID))
	}
	s.publishStatus(order)
	return order, nil
}

// AssertManualPayment records the payer's claim that a manual QR-display
// transfer was made. The system cannot observe the bank transfer itself,
// so the order parks in verification_pending until staff confirm.
func (s *Service) AssertManualPayment(ctx context.Context, orderID string) (*models.Order, error) {
	var order *models.Order
	err := database.RunInTxWithRetry(ctx, s.db, s.opts.TxRetries, func(ctx context.Context, tx bun.Tx) error {
		var err error
		order, err = orderdb.GetOrder(ctx, tx, orderID)
		if err != nil {
			if orderdb.IsNoRows(err) {
				return ErrOrderNotFound
			}
			return err
		}

		if order.PaymentStatus != models.PaymentStatusUnpaid {
			return fmt.Errorf("%w: payment %s -> verification_pending", ErrInvalidTransition, order.PaymentStatus)
		}

		prevPayment := order.PaymentStatus
		order.PaymentStatus = models.PaymentStatusVerificationPending
		order.PaymentMethod = models.ChannelManualQR
		return orderdb.UpdateOrder(ctx, tx, order, order.OrderStatus, prevPayment)
	})
	if err != nil {
		return nil, err
	}

	s.log.LogOrder("PAYMENT", orderID, "manual payment asserted, awaiting staff verification")
	s.publishStatus(order)
	return order, nil
}

// ConfirmManualPayment is the staff-side verification step. Confirming an
// already-paid manual order is a no-op, not a double credit.
func (s *Service) ConfirmManualPayment(ctx context.Context, orderID, staffID string) (*models.Order, error) {
	var order *models.Order
	var confirmed bool
	err := database.RunInTxWithRetry(ctx, s.db, s.opts.TxRetries, func(ctx context.Context, tx bun.Tx) error {
		confirmed = false
		var err error
		order, err = orderdb.GetOrder(ctx, tx, orderID)
		if err != nil {
			if orderdb.IsNoRows(err) {
				return ErrOrderNotFound
			}
			return err
		}

		if order.PaymentStatus == models.PaymentStatusPaid && order.PaymentMethod == models.ChannelManualQR {
			return nil // already verified, idempotent
		}
		if order.PaymentStatus != models.PaymentStatusVerificationPending {
			return fmt.Errorf("%w: payment %s -> paid", ErrInvalidTransition, order.PaymentStatus)
		}

		prevPayment := order.PaymentStatus
		order.PaymentStatus = models.PaymentStatusPaid
		if err := orderdb.UpdateOrder(ctx, tx, order, order.OrderStatus, prevPayment); err != nil {
			return err
		}
		confirmed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if confirmed {
		s.log.LogOrder("PAYMENT", orderID, fmt.Sprintf("manual payment verified by %s", staffID))
		s.publishStatus(order)
		s.publishPayment(order, models.ChannelManualQR)
	}
	return order, nil
}

// RecordGatewayResult consumes the client-reported terminal event of a
// gateway payment. The report is treated as authoritative without a
// server-side webhook check; the reference system trusts the client here
// and that trade-off is preserved. A write that fails after the gateway
// confirmed is retried with increasing delay, and if every retry fails the
// error carries the payment and order ids for manual reconciliation:
// money has moved but the record has not, which must never be hidden.
func (s *Service) RecordGatewayResult(ctx context.Context, orderID, paymentID string, succeeded bool, reason string) (*models.Order, error) {
	if !succeeded {
		s.log.LogOrder("PAYMENT", orderID, fmt.Sprintf("gateway payment %s failed: %s", paymentID, reason))
		order, err := s.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return order, nil
	}

	var order *models.Order
	var applyErr error
	for attempt := 0; attempt <= s.opts.GatewayWriteRetries; attempt++ {
		if attempt > 0 {
			s.log.Warn("PAYMENT", fmt.Sprintf("retrying gateway result write for order %s (attempt %d/%d)",
				orderID, attempt, s.opts.GatewayWriteRetries))
			select {
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		order, applyErr = s.applyGatewaySuccess(ctx, orderID, paymentID)
		if applyErr == nil {
			break
		}
		if errors.Is(applyErr, ErrOrderNotFound) || errors.Is(applyErr, ErrInvalidTransition) {
			return nil, applyErr
		}
	}
	if applyErr != nil {
		return nil, fmt.Errorf("gateway payment %s confirmed but order %s could not be marked paid, manual reconciliation required: %w",
			paymentID, orderID, applyErr)
	}

	s.log.LogOrder("PAYMENT", orderID, fmt.Sprintf("gateway payment %s recorded as paid", paymentID))
	s.publishStatus(order)
	s.publishPayment(order, models.ChannelGateway)
	return order, nil
}

func (s *Service) applyGatewaySuccess(ctx context.Context, orderID, paymentID string) (*models.Order, error) {
	var order *models.Order
	err := database.RunInTxWithRetry(ctx, s.db, s.opts.TxRetries, func(ctx context.Context, tx bun.Tx) error {
		var err error
		order, err = orderdb.GetOrder(ctx, tx, orderID)
		if err != nil {
			if orderdb.IsNoRows(err) {
				return ErrOrderNotFound
			}
			return err
		}

		// A retried report after a timeout may find the order already paid.
		if order.PaymentStatus == models.PaymentStatusPaid {
			return nil
		}
		if order.PaymentStatus != models.PaymentStatusUnpaid {
			return fmt.Errorf("%w: payment %s -> paid", ErrInvalidTransition, order.PaymentStatus)
		}

		prevPayment := order.PaymentStatus
		order.PaymentStatus = models.PaymentStatusPaid
		order.PaymentMethod = models.ChannelGateway
		order.GatewayPaymentID = paymentID
		return orderdb.UpdateOrder(ctx, tx, order, order.OrderStatus, prevPayment)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) publishStatus(order *models.Order) {
	if s.pub == nil {
		return
	}
	s.pub.OrderStatusEvent(models.OrderStatusEvent{
		OrderID:       order.ID,
		UserID:        order.UserID,
		OrderStatus:   order.OrderStatus,
		PaymentStatus: order.PaymentStatus,
		OccurredAt:    time.Now(),
	})
}

func (s *Service) publishPayment(order *models.Order, channel string) {
	if s.pub == nil {
		return
	}
	s.pub.PaymentRecordedEvent(models.PaymentRecordedEvent{
		OrderID:          order.ID,
		UserID:           order.UserID,
		Channel:          channel,
		Amount:           order.TotalAmount,
		GatewayPaymentID: order.GatewayPaymentID,
		OccurredAt:       time.Now(),
	})
}
