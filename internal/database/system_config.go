package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetSystemValue reads one key from system_config. Missing keys return an
// empty string, not an error.
func (db *DB) GetSystemValue(ctx context.Context, key string) (string, error) {
	query := `SELECT value FROM system_config WHERE key = $1`
	var value string
	err := db.conn.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read system config %q: %w", key, err)
	}
	return value, nil
}

// SetSystemValue upserts one key in system_config.
func (db *DB) SetSystemValue(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO system_config (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := db.conn.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to write system config %q: %w", key, err)
	}
	return nil
}
