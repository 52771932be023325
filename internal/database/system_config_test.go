package database

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSystemValue_MissingKeyIsEmpty(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT value FROM system_config`).
		WithArgs("equity_peak").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	value, err := db.GetSystemValue(context.Background(), "equity_peak")
	require.NoError(t, err)
	assert.Empty(t, value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSystemValue_RoundTrip(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(`INSERT INTO system_config`).
		WithArgs("equity_peak", "1000").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT value FROM system_config`).
		WithArgs("equity_peak").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("1000"))

	require.NoError(t, db.SetSystemValue(context.Background(), "equity_peak", "1000"))

	value, err := db.GetSystemValue(context.Background(), "equity_peak")
	require.NoError(t, err)
	assert.Equal(t, "1000", value)
	require.NoError(t, mock.ExpectationsWereMet())
}
