package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trogers1052/trading-engine/internal/models"
)

// LatestRiskConfig returns the most recently committed config version, or
// nil when no version has ever been committed.
func (db *DB) LatestRiskConfig(ctx context.Context) (*models.RiskConfigVersion, error) {
	query := `
		SELECT version, max_trades_per_day, cooldown_sec, daily_max_loss,
		       daily_trail_drawdown, advisor_threshold, created_at
		FROM risk_config_versions
		ORDER BY version DESC
		LIMIT 1
	`
	var c models.RiskConfigVersion
	err := db.conn.QueryRowContext(ctx, query).Scan(
		&c.Version, &c.MaxTradesPerDay, &c.CooldownSec, &c.DailyMaxLoss,
		&c.DailyTrailDrawdown, &c.AdvisorThreshold, &c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest risk config: %w", err)
	}
	return &c, nil
}

// InsertRiskConfigVersion commits a new version. The caller validates; the
// database assigns the version number.
func (db *DB) InsertRiskConfigVersion(ctx context.Context, c *models.RiskConfigVersion) error {
	query := `
		INSERT INTO risk_config_versions (
			max_trades_per_day, cooldown_sec, daily_max_loss,
			daily_trail_drawdown, advisor_threshold, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING version
	`
	now := time.Now()
	err := db.conn.QueryRowContext(ctx, query,
		c.MaxTradesPerDay, c.CooldownSec, c.DailyMaxLoss,
		c.DailyTrailDrawdown, c.AdvisorThreshold, now,
	).Scan(&c.Version)
	if err != nil {
		return fmt.Errorf("failed to insert risk config version: %w", err)
	}
	c.CreatedAt = now
	return nil
}
