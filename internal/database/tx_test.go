package database_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-canteen/internal/database"
)

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })
	return bunDB
}

func TestRunInTxWithRetrySucceedsFirstTry(t *testing.T) {
	db := setupTestDB(t)

	calls := 0
	err := database.RunInTxWithRetry(context.Background(), db, 3, func(ctx context.Context, tx bun.Tx) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunInTxWithRetryRetriesConflicts(t *testing.T) {
	db := setupTestDB(t)

	calls := 0
	err := database.RunInTxWithRetry(context.Background(), db, 3, func(ctx context.Context, tx bun.Tx) error {
		calls++
		if calls < 3 {
			return database.ErrTxConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRunInTxWithRetryExhaustsToConcurrentConflict(t *testing.T) {
	db := setupTestDB(t)

	calls := 0
	err := database.RunInTxWithRetry(context.Background(), db, 2, func(ctx context.Context, tx bun.Tx) error {
		calls++
		return database.ErrTxConflict
	})
	assert.ErrorIs(t, err, database.ErrConcurrentConflict)
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
}

func TestRunInTxWithRetryPassesThroughOtherErrors(t *testing.T) {
	db := setupTestDB(t)

	boom := errors.New("boom")
	calls := 0
	err := database.RunInTxWithRetry(context.Background(), db, 3, func(ctx context.Context, tx bun.Tx) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "non-conflict errors are not retried")
}
