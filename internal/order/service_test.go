package order_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-canteen/internal/logger"
	"ms-canteen/internal/models"
	"ms-canteen/internal/order"
)

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, bunDB.ResetModel(context.Background(), (*models.Order)(nil)))

	t.Cleanup(func() { bunDB.Close() })
	return bunDB
}

func newTestService(t *testing.T, db *bun.DB) *order.Service {
	t.Helper()
	return order.NewService(db, nil, logger.NewLogger(), order.Options{
		TxRetries:           3,
		GatewayWriteRetries: 3,
	})
}

func seedOrder(t *testing.T, db *bun.DB, id, orderStatus, paymentStatus string) {
	t.Helper()
	o := &models.Order{
		ID:            id,
		UserID:        "stu-1",
		Items:         models.OrderItems{{Name: "dosa", Qty: 1, UnitPrice: 8000}},
		TotalAmount:   8000,
		SlotID:        "slot-1",
		OrderStatus:   orderStatus,
		PaymentStatus: paymentStatus,
		PlacedAt:      time.Now(),
	}
	_, err := db.NewInsert().Model(o).Exec(context.Background())
	require.NoError(t, err)
}

func TestPlaceCounterOrderBornSettled(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)

	items := models.OrderItems{{Name: "chai", Qty: 2, UnitPrice: 1500}}
	placed, err := svc.PlaceCounterOrder(context.Background(), "stu-1", items, models.ChannelCash, "staff-1")
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusCompleted, placed.OrderStatus)
	assert.Equal(t, models.PaymentStatusPaid, placed.PaymentStatus)
	assert.Equal(t, models.ChannelCash, placed.PaymentMethod)
	assert.Equal(t, int64(3000), placed.TotalAmount)
	assert.Equal(t, "staff-1", placed.CounterStaffID)
	assert.NotNil(t, placed.CompletedAt)
}

func TestAdvanceStatusWalksThePipeline(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	seedOrder(t, db, "ord-1", models.OrderStatusPending, models.PaymentStatusPaid)

	for _, next := range []string{
		models.OrderStatusConfirmed,
		models.OrderStatusPreparing,
		models.OrderStatusReady,
		models.OrderStatusCompleted,
	} {
		updated, err := svc.AdvanceStatus(ctx, "ord-1", next, "staff-1")
		require.NoError(t, err, "transition to %s", next)
		assert.Equal(t, next, updated.OrderStatus)
	}

	final, err := svc.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.NotNil(t, final.ConfirmedAt)
	assert.NotNil(t, final.ReadyAt)
	assert.NotNil(t, final.CompletedAt)
}

func TestAdvanceStatusRejectsSkipsAndCancellation(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	seedOrder(t, db, "ord-1", models.OrderStatusPending, models.PaymentStatusPaid)

	_, err := svc.AdvanceStatus(ctx, "ord-1", models.OrderStatusReady, "staff-1")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	// Cancellation has its own entry point.
	_, err = svc.AdvanceStatus(ctx, "ord-1", models.OrderStatusCancelled, "staff-1")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	_, err = svc.AdvanceStatus(ctx, "missing", models.OrderStatusConfirmed, "staff-1")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestCancelFromAnyNonTerminalStatus(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	seedOrder(t, db, "ord-1", models.OrderStatusPreparing, models.PaymentStatusPaid)

	cancelled, err := svc.Cancel(ctx, "ord-1", "student no-show")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.OrderStatus)
	assert.Equal(t, "student no-show", cancelled.CancellationReason)
	// Settlement is retained; cancellation never rewrites the payment axis.
	assert.Equal(t, models.PaymentStatusPaid, cancelled.PaymentStatus)
}

func TestCancelRejectsTerminalOrders(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	seedOrder(t, db, "done", models.OrderStatusCompleted, models.PaymentStatusPaid)
	seedOrder(t, db, "gone", models.OrderStatusCancelled, models.PaymentStatusUnpaid)

	_, err := svc.Cancel(ctx, "done", "")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
	_, err = svc.Cancel(ctx, "gone", "")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
}

func TestManualPaymentAssertThenConfirm(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	seedOrder(t, db, "ord-1", models.OrderStatusPending, models.PaymentStatusUnpaid)

	asserted, err := svc.AssertManualPayment(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusVerificationPending, asserted.PaymentStatus)
	assert.Equal(t, models.ChannelManualQR, asserted.PaymentMethod)

	// A second assertion while pending is rejected.
	_, err = svc.AssertManualPayment(ctx, "ord-1")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	confirmed, err := svc.ConfirmManualPayment(ctx, "ord-1", "staff-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, confirmed.PaymentStatus)

	// Confirming again is a no-op, not an error or double credit.
	again, err := svc.ConfirmManualPayment(ctx, "ord-1", "staff-2")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, again.PaymentStatus)
}

func TestConfirmManualPaymentRequiresAssertion(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)

	seedOrder(t, db, "ord-1", models.OrderStatusPending, models.PaymentStatusUnpaid)

	_, err := svc.ConfirmManualPayment(context.Background(), "ord-1", "staff-1")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
}

func TestRecordGatewayResultSuccess(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	seedOrder(t, db, "ord-1", models.OrderStatusPending, models.PaymentStatusUnpaid)

	updated, err := svc.RecordGatewayResult(ctx, "ord-1", "pi_123", true, "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, updated.PaymentStatus)
	assert.Equal(t, models.ChannelGateway, updated.PaymentMethod)
	assert.Equal(t, "pi_123", updated.GatewayPaymentID)

	// A duplicate report after a client timeout lands on an already paid
	// order and stays idempotent.
	again, err := svc.RecordGatewayResult(ctx, "ord-1", "pi_123", true, "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, again.PaymentStatus)
}

func TestRecordGatewayResultFailureChangesNothing(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	seedOrder(t, db, "ord-1", models.OrderStatusPending, models.PaymentStatusUnpaid)

	updated, err := svc.RecordGatewayResult(ctx, "ord-1", "pi_123", false, "card declined")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusUnpaid, updated.PaymentStatus)
	assert.Empty(t, updated.GatewayPaymentID)
}

func TestRecordGatewayResultRejectsVerificationPending(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)

	seedOrder(t, db, "ord-1", models.OrderStatusPending, models.PaymentStatusVerificationPending)

	_, err := svc.RecordGatewayResult(context.Background(), "ord-1", "pi_123", true, "")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
}
