package database

import (
	"context"
	"fmt"
	"time"

	"github.com/trogers1052/trading-engine/internal/models"
)

// UpsertBalance writes one asset row. The total column is generated by the
// database from free + locked and never written here.
func (db *DB) UpsertBalance(ctx context.Context, b *models.PortfolioBalance) error {
	query := `
		INSERT INTO portfolio_balances (asset, free, locked, usd_value, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (asset) DO UPDATE SET
			free = EXCLUDED.free, locked = EXCLUDED.locked,
			usd_value = EXCLUDED.usd_value, updated_at = EXCLUDED.updated_at
	`
	b.UpdatedAt = time.Now()
	_, err := db.conn.ExecContext(ctx, query, b.Asset, b.Free, b.Locked, b.USDValue, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert balance for %s: %w", b.Asset, err)
	}
	return nil
}

// GetBalances returns all asset rows ordered by asset symbol
func (db *DB) GetBalances(ctx context.Context) ([]*models.PortfolioBalance, error) {
	query := `SELECT asset, free, locked, usd_value, updated_at FROM portfolio_balances ORDER BY asset ASC`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []*models.PortfolioBalance
	for rows.Next() {
		var b models.PortfolioBalance
		if err := rows.Scan(&b.Asset, &b.Free, &b.Locked, &b.USDValue, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, &b)
	}
	return balances, rows.Err()
}
