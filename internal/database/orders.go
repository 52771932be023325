package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/trading-engine/internal/models"
)

const orderColumns = `id, client_order_id, exchange_order_id, account, symbol, side, kind, status,
	       quantity, limit_price, filled_quantity, avg_fill_price, commission, commission_asset,
	       created_at, updated_at, executed_at`

// CreateOrder inserts a new order in NEW state
func (db *DB) CreateOrder(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO trading_orders (
			client_order_id, exchange_order_id, account, symbol, side, kind, status,
			quantity, limit_price, filled_quantity, avg_fill_price, commission, commission_asset,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`
	now := time.Now()
	err := db.conn.QueryRowContext(ctx, query,
		o.ClientOrderID, nullString(o.ExchangeOrderID), o.Account, o.Symbol, o.Side, o.Kind, o.Status,
		o.Quantity, nullDecimal(o.LimitPrice), o.FilledQuantity, nullDecimal(o.AvgFillPrice),
		o.Commission, nullString(o.CommissionAsset), now, now,
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	o.CreatedAt = now
	o.UpdatedAt = now
	return nil
}

// UpdateOrderExecution persists a state transition atomically: status, fill
// progress, commission and timestamps move together or not at all.
func (db *DB) UpdateOrderExecution(ctx context.Context, o *models.Order) error {
	query := `
		UPDATE trading_orders SET
			exchange_order_id = $2, status = $3, filled_quantity = $4, avg_fill_price = $5,
			commission = $6, commission_asset = $7, updated_at = $8, executed_at = $9
		WHERE client_order_id = $1
	`
	o.UpdatedAt = time.Now()
	var executedAt sql.NullTime
	if o.ExecutedAt != nil {
		executedAt = sql.NullTime{Time: *o.ExecutedAt, Valid: true}
	}
	result, err := db.conn.ExecContext(ctx, query,
		o.ClientOrderID, nullString(o.ExchangeOrderID), o.Status, o.FilledQuantity,
		nullDecimal(o.AvgFillPrice), o.Commission, nullString(o.CommissionAsset),
		o.UpdatedAt, executedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", o.ClientOrderID, err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("order %s: %w", o.ClientOrderID, models.ErrOrderNotFound)
	}
	return nil
}

// GetOrderByClientID retrieves an order by its idempotency id
func (db *DB) GetOrderByClientID(ctx context.Context, clientOrderID string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM trading_orders WHERE client_order_id = $1`
	o, err := scanOrder(db.conn.QueryRowContext(ctx, query, clientOrderID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", clientOrderID, models.ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// RecentOrders returns the newest orders, most recent first
func (db *DB) RecentOrders(ctx context.Context, limit int) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM trading_orders ORDER BY created_at DESC, id DESC LIMIT $1`
	return db.queryOrders(ctx, query, limit)
}

// ActiveOrders returns orders in a non-terminal state, newest first
func (db *DB) ActiveOrders(ctx context.Context) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM trading_orders
		WHERE status IN ('NEW', 'PARTIALLY_FILLED')
		ORDER BY created_at DESC, id DESC`
	return db.queryOrders(ctx, query)
}

// CountOrdersCreatedSince counts orders for an account created at or after t
func (db *DB) CountOrdersCreatedSince(ctx context.Context, account string, t time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM trading_orders WHERE account = $1 AND created_at >= $2`
	var n int
	if err := db.conn.QueryRowContext(ctx, query, account, t).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return n, nil
}

// LastOrderCreatedAt returns the creation time of the account's most recent
// order, or nil when the account has never ordered.
func (db *DB) LastOrderCreatedAt(ctx context.Context, account string) (*time.Time, error) {
	query := `SELECT created_at FROM trading_orders WHERE account = $1 ORDER BY created_at DESC, id DESC LIMIT 1`
	var t time.Time
	err := db.conn.QueryRowContext(ctx, query, account).Scan(&t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last order time: %w", err)
	}
	return &t, nil
}

func (db *DB) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*models.Order, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var exchangeOrderID, commissionAsset sql.NullString
	var limitPrice, avgFillPrice sql.NullString
	var executedAt sql.NullTime

	err := row.Scan(
		&o.ID, &o.ClientOrderID, &exchangeOrderID, &o.Account, &o.Symbol, &o.Side, &o.Kind, &o.Status,
		&o.Quantity, &limitPrice, &o.FilledQuantity, &avgFillPrice, &o.Commission, &commissionAsset,
		&o.CreatedAt, &o.UpdatedAt, &executedAt,
	)
	if err != nil {
		return nil, err
	}

	if exchangeOrderID.Valid {
		o.ExchangeOrderID = exchangeOrderID.String
	}
	if commissionAsset.Valid {
		o.CommissionAsset = commissionAsset.String
	}
	if limitPrice.Valid {
		o.LimitPrice, _ = decimal.NewFromString(limitPrice.String)
	}
	if avgFillPrice.Valid {
		o.AvgFillPrice, _ = decimal.NewFromString(avgFillPrice.String)
	}
	if executedAt.Valid {
		o.ExecutedAt = &executedAt.Time
	}
	return &o, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDecimal(d decimal.Decimal) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}
