package wallet_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-canteen/internal/logger"
	"ms-canteen/internal/models"
	"ms-canteen/internal/wallet"
)

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	ctx := context.Background()
	require.NoError(t, bunDB.ResetModel(ctx, (*models.User)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Order)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.LedgerEntry)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.UsedTokenSession)(nil)))

	t.Cleanup(func() { bunDB.Close() })
	return bunDB
}

func newTestService(t *testing.T, db *bun.DB) *wallet.Service {
	t.Helper()
	return wallet.NewService(db, nil, logger.NewLogger(), wallet.Options{
		TxRetries:           3,
		LowBalanceThreshold: 10000,
	})
}

func seedUser(t *testing.T, db *bun.DB, id string, balance int64) {
	t.Helper()
	user := &models.User{
		ID:            id,
		Name:          "Test Student",
		Role:          models.RoleStudent,
		WalletBalance: balance,
		CreatedAt:     time.Now(),
	}
	_, err := db.NewInsert().Model(user).Exec(context.Background())
	require.NoError(t, err)
}

func seedOrder(t *testing.T, db *bun.DB, id, userID string, total int64) {
	t.Helper()
	order := &models.Order{
		ID:            id,
		UserID:        userID,
		Items:         models.OrderItems{{Name: "thali", Qty: 1, UnitPrice: total}},
		TotalAmount:   total,
		OrderStatus:   models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusUnpaid,
		PlacedAt:      time.Now(),
	}
	_, err := db.NewInsert().Model(order).Exec(context.Background())
	require.NoError(t, err)
}

func TestCreditAppendsEntry(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	seedUser(t, db, "stu-1", 0)

	entry, err := svc.Credit(ctx, "stu-1", 50000, "admin-1", "monthly topup")
	require.NoError(t, err)

	assert.Equal(t, int64(0), entry.BalanceBefore)
	assert.Equal(t, int64(50000), entry.BalanceAfter)
	assert.Equal(t, models.EntryTypeCredit, entry.Type)
	assert.Equal(t, "admin-1", entry.ActorID)

	balance, err := svc.Balance(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balance)
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)

	seedUser(t, db, "stu-1", 0)

	_, err := svc.Credit(context.Background(), "stu-1", 0, "admin-1", "")
	assert.ErrorIs(t, err, wallet.ErrInvalidAmount)

	_, err = svc.Credit(context.Background(), "stu-1", -500, "admin-1", "")
	assert.ErrorIs(t, err, wallet.ErrInvalidAmount)
}

func TestCreditUnknownUser(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)

	_, err := svc.Credit(context.Background(), "nobody", 1000, "admin-1", "")
	assert.ErrorIs(t, err, wallet.ErrUserNotFound)
}

func TestDebitSettlesOrderAtomically(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	// 500 rupees in, a 300 rupee meal out.
	seedUser(t, db, "stu-1", 50000)
	seedOrder(t, db, "ord-1", "stu-1", 30000)

	entry, err := svc.Debit(ctx, "stu-1", 30000, "staff-1", "ord-1")
	require.NoError(t, err)

	assert.Equal(t, int64(50000), entry.BalanceBefore)
	assert.Equal(t, int64(20000), entry.BalanceAfter)
	assert.Equal(t, "ord-1", entry.RelatedOrderID)

	balance, err := svc.Balance(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), balance)

	var order models.Order
	require.NoError(t, db.NewSelect().Model(&order).Where("id = ?", "ord-1").Scan(ctx))
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, models.ChannelWallet, order.PaymentMethod)
}

func TestDebitInsufficientFundsLeavesNoTrace(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	seedUser(t, db, "stu-1", 10000)
	seedOrder(t, db, "ord-1", "stu-1", 30000)

	_, err := svc.Debit(ctx, "stu-1", 30000, "staff-1", "ord-1")
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	// Nothing changed: no partial debit, no ledger row, order still unpaid.
	balance, err := svc.Balance(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), balance)

	entries, err := svc.Ledger(ctx, "stu-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	var order models.Order
	require.NoError(t, db.NewSelect().Model(&order).Where("id = ?", "ord-1").Scan(ctx))
	assert.Equal(t, models.PaymentStatusUnpaid, order.PaymentStatus)
}

func TestDebitUnknownOrderRollsBack(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	seedUser(t, db, "stu-1", 50000)

	_, err := svc.Debit(ctx, "stu-1", 30000, "staff-1", "no-such-order")
	assert.ErrorIs(t, err, wallet.ErrOrderNotFound)

	// The balance swap ran before the order lookup but must not survive
	// the rollback.
	balance, err := svc.Balance(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balance)

	entries, err := svc.Ledger(ctx, "stu-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDebitWithSessionIsSingleUse(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	seedUser(t, db, "stu-1", 100000)
	seedOrder(t, db, "ord-1", "stu-1", 30000)
	seedOrder(t, db, "ord-2", "stu-1", 30000)

	_, err := svc.DebitWithSession(ctx, "stu-1", 30000, "staff-1", "ord-1", "sess-abc")
	require.NoError(t, err)

	// Replaying the same session against a different order must fail and
	// must not touch the balance again.
	_, err = svc.DebitWithSession(ctx, "stu-1", 30000, "staff-2", "ord-2", "sess-abc")
	assert.ErrorIs(t, err, wallet.ErrSessionAlreadyUsed)

	balance, err := svc.Balance(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, int64(70000), balance)

	entries, err := svc.Ledger(ctx, "stu-1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDebitWithSessionUnderContention(t *testing.T) {
	db := setupTestDB(t)
	// Goroutines serialize on the single sqlite connection and retry
	// through conflicts, so the retry budget is raised here.
	svc := wallet.NewService(db, nil, logger.NewLogger(), wallet.Options{
		TxRetries:           20,
		LowBalanceThreshold: 10000,
	})
	ctx := context.Background()

	seedUser(t, db, "stu-1", 100000)

	const workers = 8
	for i := 0; i < workers; i++ {
		seedOrder(t, db, fmt.Sprintf("ord-%d", i), "stu-1", 30000)
	}

	// All workers present the same session against different orders.
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = svc.DebitWithSession(ctx, "stu-1", 30000, "staff-1", fmt.Sprintf("ord-%d", n), "sess-abc")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, wallet.ErrSessionAlreadyUsed)
		}
	}
	assert.Equal(t, 1, winners, "exactly one debit consumes the session")

	balance, err := svc.Balance(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, int64(70000), balance, "the balance moves once")

	entries, err := svc.Ledger(ctx, "stu-1", 50, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLedgerChainsBalances(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	seedUser(t, db, "stu-1", 0)
	seedOrder(t, db, "ord-1", "stu-1", 12000)

	_, err := svc.Credit(ctx, "stu-1", 50000, "admin-1", "topup")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond) // distinct created_at for ordering
	_, err = svc.Debit(ctx, "stu-1", 12000, "staff-1", "ord-1")
	require.NoError(t, err)

	entries, err := svc.Ledger(ctx, "stu-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest-first: entries[1] is the credit, entries[0] the debit.
	assert.Equal(t, entries[1].BalanceAfter, entries[0].BalanceBefore)
	assert.Equal(t, int64(38000), entries[0].BalanceAfter)
}

func TestPurgeExpiredSessions(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	now := time.Now()
	stale := &models.UsedTokenSession{
		SessionID: "old", UserID: "stu-1", AdminID: "staff-1",
		Amount: 100, OrderID: "ord-x",
		UsedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}
	fresh := &models.UsedTokenSession{
		SessionID: "new", UserID: "stu-1", AdminID: "staff-1",
		Amount: 100, OrderID: "ord-y",
		UsedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	_, err := db.NewInsert().Model(stale).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewInsert().Model(fresh).Exec(ctx)
	require.NoError(t, err)

	purged, err := svc.PurgeExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	count, err := db.NewSelect().Model((*models.UsedTokenSession)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
