package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trogers1052/trading-engine/internal/models"
)

// UpsertMetric writes the (date, symbol) rollup, replacing the previous
// values for the day.
func (db *DB) UpsertMetric(ctx context.Context, m *models.PerformanceMetric) error {
	query := `
		INSERT INTO performance_metrics (
			metric_date, symbol, pnl, volume, trade_count, winners, losers, flat_closes,
			win_rate, avg_profit, avg_loss, max_drawdown, sharpe_ratio, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (metric_date, symbol) DO UPDATE SET
			pnl = EXCLUDED.pnl, volume = EXCLUDED.volume, trade_count = EXCLUDED.trade_count,
			winners = EXCLUDED.winners, losers = EXCLUDED.losers, flat_closes = EXCLUDED.flat_closes,
			win_rate = EXCLUDED.win_rate, avg_profit = EXCLUDED.avg_profit, avg_loss = EXCLUDED.avg_loss,
			max_drawdown = EXCLUDED.max_drawdown, sharpe_ratio = EXCLUDED.sharpe_ratio,
			updated_at = EXCLUDED.updated_at
	`
	m.UpdatedAt = time.Now()
	_, err := db.conn.ExecContext(ctx, query,
		m.Date, m.Symbol, m.PnL, m.Volume, m.TradeCount, m.Winners, m.Losers, m.FlatCloses,
		m.WinRate, m.AvgProfit, m.AvgLoss, m.MaxDrawdown, m.SharpeRatio, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert metric %s/%s: %w", m.Date.Format("2006-01-02"), m.Symbol, err)
	}
	return nil
}

// MetricsForDate returns all symbol rows for one trading day
func (db *DB) MetricsForDate(ctx context.Context, date time.Time) ([]*models.PerformanceMetric, error) {
	query := `
		SELECT id, metric_date, symbol, pnl, volume, trade_count, winners, losers, flat_closes,
		       win_rate, avg_profit, avg_loss, max_drawdown, sharpe_ratio, updated_at
		FROM performance_metrics
		WHERE metric_date = $1
		ORDER BY symbol ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	return scanMetrics(rows)
}

// MetricsSince returns every row on or after the given date, oldest first.
// Used to rehydrate the performance aggregator at startup.
func (db *DB) MetricsSince(ctx context.Context, from time.Time) ([]*models.PerformanceMetric, error) {
	query := `
		SELECT id, metric_date, symbol, pnl, volume, trade_count, winners, losers, flat_closes,
		       win_rate, avg_profit, avg_loss, max_drawdown, sharpe_ratio, updated_at
		FROM performance_metrics
		WHERE metric_date >= $1
		ORDER BY metric_date ASC, symbol ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, from)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	return scanMetrics(rows)
}

func scanMetrics(rows *sql.Rows) ([]*models.PerformanceMetric, error) {
	defer rows.Close()

	var metrics []*models.PerformanceMetric
	for rows.Next() {
		var m models.PerformanceMetric
		err := rows.Scan(
			&m.ID, &m.Date, &m.Symbol, &m.PnL, &m.Volume, &m.TradeCount,
			&m.Winners, &m.Losers, &m.FlatCloses,
			&m.WinRate, &m.AvgProfit, &m.AvgLoss, &m.MaxDrawdown, &m.SharpeRatio, &m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		metrics = append(metrics, &m)
	}
	return metrics, rows.Err()
}
