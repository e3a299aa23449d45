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

// GetSlot fetches one pickup slot.
func GetSlot(ctx context.Context, idb bun.IDB, slotID string) (*models.Slot, error) {
	var slot models.Slot
	err := idb.NewSelect().
		Model(&slot).
		Where("id = ?", slotID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

// ListOpen returns active slots for a date ordered by start time. Read-only
// projection for the student UI; freshness only, no correctness obligation.
func ListOpen(ctx context.Context, idb bun.IDB, date string) ([]models.Slot, error) {
	var slots []models.Slot
	err := idb.NewSelect().
		Model(&slots).
		Where("date = ? AND is_active = ?", date, true).
		Order("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return slots, nil
}

// SwapOccupancy writes the new occupancy only if the occupancy it was
// computed from is still current, closing the slot in the same statement
// when the increment fills the last seat. A lost race surfaces as
// database.ErrTxConflict so the reservation re-reads and re-decides.
func SwapOccupancy(ctx context.Context, idb bun.IDB, slotID string, fromCount, toCount int, stillActive bool, autoClosedAt *time.Time) error {
	res, err := idb.NewUpdate().
		Model((*models.Slot)(nil)).
		Set("booked_count = ?", toCount).
		Set("is_active = ?", stillActive).
		Set("auto_closed_at = ?", autoClosedAt).
		Where("id = ? AND booked_count = ?", slotID, fromCount).
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

// InsertOrder creates the order document inside the reservation transaction.
func InsertOrder(ctx context.Context, idb bun.IDB, order *models.Order) error {
	_, err := idb.NewInsert().Model(order).Exec(ctx)
	return err
}

// IsNoRows reports whether err is the driver's empty-result error.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
