package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/trading-engine/internal/models"
)

func TestCreateRiskEvent_WritesSeverityRank(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`INSERT INTO risk_events`).
		WithArgs("DRAWDOWN_BREACH", "CRITICAL", 4, sqlmock.AnyArg(), "drawdown 0.12 over limit 0.1", nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	e := &models.RiskEvent{
		Type:        models.RiskEventDrawdownBreach,
		Severity:    models.SeverityCritical,
		Symbol:      "BTCUSDT",
		Description: "drawdown 0.12 over limit 0.1",
	}
	require.NoError(t, db.CreateRiskEvent(context.Background(), e))
	assert.Equal(t, int64(3), e.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveRiskEvent_AlreadyResolved(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE risk_events SET resolved = TRUE`).
		WithArgs(int64(9), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.ResolveRiskEvent(context.Background(), 9)
	require.Error(t, err)
}

func TestActiveRiskEvents_ScansRows(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "type", "severity", "symbol", "description", "payload", "resolved", "created_at", "resolved_at",
	}).
		AddRow(int64(2), "DRAWDOWN_BREACH", "CRITICAL", "BTCUSDT", "over limit", nil, false, now, nil).
		AddRow(int64(1), "DAILY_LOSS_BREACH", "HIGH", nil, "at limit", nil, false, now, nil)
	mock.ExpectQuery(`SELECT .+ FROM risk_events`).WillReturnRows(rows)

	events, err := db.ActiveRiskEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.SeverityCritical, events[0].Severity)
	assert.Empty(t, events[1].Symbol)
}
