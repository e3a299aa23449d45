package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"ms-canteen/internal/database"
	"ms-canteen/internal/models"
)

// GetOrder fetches one order by its ID.
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

// GetOrdersByUser returns a user's orders newest-first.
func GetOrdersByUser(ctx context.Context, idb bun.IDB, userID string, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var orders []models.Order
	err := idb.NewSelect().
		Model(&orders).
		Where("user_id = ?", userID).
		Order("placed_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// InsertOrder creates an order. Walk-up counter orders are born completed
// and paid; scheduled orders are created by the slot coordinator instead.
func InsertOrder(ctx context.Context, idb bun.IDB, order *models.Order) error {
	_, err := idb.NewInsert().Model(order).Exec(ctx)
	return err
}

// UpdateOrder writes the mutable status columns of an order that was read
// in the same transaction. The guard on order_status and payment_status
// turns a concurrent change into database.ErrTxConflict.
func UpdateOrder(ctx context.Context, idb bun.IDB, order *models.Order, expectOrderStatus, expectPaymentStatus string) error {
	res, err := idb.NewUpdate().
		Model(order).
		Column("order_status", "payment_status", "payment_method", "gateway_payment_id",
			"confirmed_at", "ready_at", "completed_at", "cancellation_reason").
		Where("id = ? AND order_status = ? AND payment_status = ?",
			order.ID, expectOrderStatus, expectPaymentStatus).
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

// IsNoRows reports whether err is the driver's empty-result error.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
