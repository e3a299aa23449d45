package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"ms-canteen/internal/database"
	"ms-canteen/internal/models"
)

// Queries take a bun.IDB so they run either standalone or inside a
// surrounding transaction.

// GetUser fetches a wallet owner. sql.ErrNoRows is returned untranslated so
// the service can map it to its own sentinel.
func GetUser(ctx context.Context, idb bun.IDB, userID string) (*models.User, error) {
	var user models.User
	err := idb.NewSelect().
		Model(&user).
		Where("id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SwapBalance writes the new balance only if the balance it was computed
// from is still current. A lost race surfaces as database.ErrTxConflict,
// which the transaction runner retries.
func SwapBalance(ctx context.Context, idb bun.IDB, userID string, before, after int64) error {
	res, err := idb.NewUpdate().
		Model((*models.User)(nil)).
		Set("wallet_balance = ?", after).
		Where("id = ? AND wallet_balance = ?", userID, before).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return database.ErrTxConflict
	}
	return nil
}

// InsertEntry appends a ledger entry. Entries are never updated or deleted.
func InsertEntry(ctx context.Context, idb bun.IDB, entry *models.LedgerEntry) error {
	_, err := idb.NewInsert().Model(entry).Exec(ctx)
	return err
}

// GetEntries returns a user's ledger newest-first.
func GetEntries(ctx context.Context, idb bun.IDB, userID string, limit, offset int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []models.LedgerEntry
	err := idb.NewSelect().
		Model(&entries).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// GetOrder fetches the order a debit settles, for the paid-status update.
func GetOrder(ctx context.Context, idb bun.IDB, orderID string) (*models.Order, error) {
	var order models.Order
	err := idb.NewSelect().
		Model(&order).
		Where("id = ?", orderID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// MarkOrderWalletPaid flips the order's payment axis to paid in the debit
// transaction.
func MarkOrderWalletPaid(ctx context.Context, idb bun.IDB, orderID string) error {
	res, err := idb.NewUpdate().
		Model((*models.Order)(nil)).
		Set("payment_status = ?", models.PaymentStatusPaid).
		Set("payment_method = ?", models.ChannelWallet).
		Where("id = ?", orderID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// InsertUsedSession records a payment-grade token session as consumed.
// Returns false without error when the session was already recorded.
func InsertUsedSession(ctx context.Context, idb bun.IDB, session *models.UsedTokenSession) (bool, error) {
	res, err := idb.NewInsert().
		Model(session).
		Ignore().
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// DeleteExpiredSessions purges replay-registry rows past their expiry.
// Housekeeping only; the tokens themselves have long expired.
func DeleteExpiredSessions(ctx context.Context, idb bun.IDB, now time.Time) (int64, error) {
	res, err := idb.NewDelete().
		Model((*models.UsedTokenSession)(nil)).
		Where("expires_at < ?", now).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// IsNoRows reports whether err is the driver's empty-result error.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
