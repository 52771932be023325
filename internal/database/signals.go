package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trogers1052/trading-engine/internal/models"
)

// CreateSignal persists a new signal as unprocessed
func (db *DB) CreateSignal(ctx context.Context, s *models.TradingSignal) error {
	indicators, err := json.Marshal(s.Indicators)
	if err != nil {
		return fmt.Errorf("failed to marshal indicators: %w", err)
	}

	query := `
		INSERT INTO trading_signals (
			account, symbol, kind, direction, strength, confidence,
			reference_price, volume, indicators, is_processed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10)
		RETURNING id
	`
	now := time.Now()
	err = db.conn.QueryRowContext(ctx, query,
		s.Account, s.Symbol, s.Kind, s.Direction, s.Strength, s.Confidence,
		s.ReferencePrice, s.Volume, indicators, now,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to create signal: %w", err)
	}
	s.Processed = false
	s.CreatedAt = now
	return nil
}

// UnprocessedSignals returns up to limit unprocessed signals with id greater
// than afterID, in creation order with insertion id as the tiebreaker.
func (db *DB) UnprocessedSignals(ctx context.Context, afterID int64, limit int) ([]*models.TradingSignal, error) {
	query := `
		SELECT id, account, symbol, kind, direction, strength, confidence,
		       reference_price, volume, indicators, is_processed, created_at
		FROM trading_signals
		WHERE is_processed = FALSE AND id > $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`
	rows, err := db.conn.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unprocessed signals: %w", err)
	}
	defer rows.Close()

	var signals []*models.TradingSignal
	for rows.Next() {
		var s models.TradingSignal
		var indicators []byte
		err := rows.Scan(
			&s.ID, &s.Account, &s.Symbol, &s.Kind, &s.Direction, &s.Strength, &s.Confidence,
			&s.ReferencePrice, &s.Volume, &indicators, &s.Processed, &s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		if len(indicators) > 0 {
			if err := json.Unmarshal(indicators, &s.Indicators); err != nil {
				return nil, fmt.Errorf("failed to unmarshal indicators for signal %d: %w", s.ID, err)
			}
		}
		signals = append(signals, &s)
	}
	return signals, rows.Err()
}

// MarkSignalProcessed flips the processed flag exactly once. Marking an
// already-processed signal returns ErrSignalAlreadyProcessed.
func (db *DB) MarkSignalProcessed(ctx context.Context, id int64) error {
	query := `UPDATE trading_signals SET is_processed = TRUE WHERE id = $1 AND is_processed = FALSE`
	result, err := db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark signal %d processed: %w", id, err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("signal %d: %w", id, models.ErrSignalAlreadyProcessed)
	}
	return nil
}
