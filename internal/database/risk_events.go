package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trogers1052/trading-engine/internal/models"
)

// CreateRiskEvent appends an event to the journal
func (db *DB) CreateRiskEvent(ctx context.Context, e *models.RiskEvent) error {
	query := `
		INSERT INTO risk_events (type, severity, severity_rank, symbol, description, payload, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		RETURNING id
	`
	now := time.Now()
	var payload interface{}
	if len(e.Payload) > 0 {
		payload = []byte(e.Payload)
	}
	err := db.conn.QueryRowContext(ctx, query,
		e.Type, e.Severity, e.Severity.Rank(), nullString(e.Symbol), e.Description, payload, now,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to create risk event: %w", err)
	}
	e.Resolved = false
	e.CreatedAt = now
	return nil
}

// ResolveRiskEvent marks an event resolved; resolution is the only mutation
// permitted on an existing record.
func (db *DB) ResolveRiskEvent(ctx context.Context, id int64) error {
	query := `UPDATE risk_events SET resolved = TRUE, resolved_at = $2 WHERE id = $1 AND resolved = FALSE`
	result, err := db.conn.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to resolve risk event %d: %w", id, err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("risk event not found or already resolved: %d", id)
	}
	return nil
}

// ActiveRiskEvents returns unresolved events ordered by severity descending,
// then recency descending (the dashboard sort).
func (db *DB) ActiveRiskEvents(ctx context.Context) ([]*models.RiskEvent, error) {
	query := `
		SELECT id, type, severity, symbol, description, payload, resolved, created_at, resolved_at
		FROM risk_events
		WHERE resolved = FALSE
		ORDER BY severity_rank DESC, created_at DESC
	`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk events: %w", err)
	}
	defer rows.Close()

	var events []*models.RiskEvent
	for rows.Next() {
		var e models.RiskEvent
		var symbol sql.NullString
		var payload []byte
		var resolvedAt sql.NullTime
		err := rows.Scan(&e.ID, &e.Type, &e.Severity, &symbol, &e.Description, &payload, &e.Resolved, &e.CreatedAt, &resolvedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan risk event: %w", err)
		}
		if symbol.Valid {
			e.Symbol = symbol.String
		}
		if len(payload) > 0 {
			e.Payload = payload
		}
		if resolvedAt.Valid {
			e.ResolvedAt = &resolvedAt.Time
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
