package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
)

// ErrConcurrentConflict is returned when a transaction keeps losing to
// concurrent writers after every retry is spent.
var ErrConcurrentConflict = errors.New("concurrent conflict: transaction retries exhausted")

// ErrTxConflict signals that a compare-and-swap write observed a stale read
// set. Returning it from the transaction body triggers a retry of the whole
// read-validate-write cycle.
var ErrTxConflict = errors.New("transaction read set invalidated")

// DefaultTxRetries bounds the automatic retries of a conflicted transaction.
const DefaultTxRetries = 3

// RunInTxWithRetry executes fn inside a single atomic transaction. If the
// transaction fails with a serialization or deadlock conflict it is retried
// with increasing delay; any other error aborts immediately and is returned
// as-is so typed sentinels (insufficient funds, slot full, ...) survive.
func RunInTxWithRetry(ctx context.Context, db bun.IDB, retries int, fn func(ctx context.Context, tx bun.Tx) error) error {
	if retries <= 0 {
		retries = DefaultTxRetries
	}

	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err = db.RunInTx(ctx, &sql.TxOptions{}, fn)
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return err
		}
	}

	return ErrConcurrentConflict
}

// isConflict recognizes postgres serialization failures and deadlocks, the
// cases where re-running the read-validate-write cycle can succeed.
func isConflict(err error) bool {
	if errors.Is(err, ErrTxConflict) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	// sqlite (test databases) reports contention as a busy/locked error
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
