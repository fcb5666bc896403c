package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KevinKickass/SensorIntegration/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClient(t *testing.T) (*PostgresClient, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("Failed to create mock connection: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewWithDB(mock), mock
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil, "x"))
	assert.ErrorIs(t, mapError(pgx.ErrNoRows, "machine"), types.ErrNotFound)
	assert.ErrorIs(t, mapError(&pgconn.PgError{Code: "23505"}, "account"), types.ErrConflict)
	assert.ErrorIs(t, mapError(&pgconn.PgError{Code: "23503"}, "sensor"), types.ErrInvalidInput)

	other := errors.New("connection reset")
	assert.ErrorIs(t, mapError(other, "machine"), other)
}

func TestCountMachines(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM machines`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(7)))

	n, err := c.CountMachines(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMachineExists(t *testing.T) {
	c, mock := newMockClient(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := c.MachineExists(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMachineNotFound(t *testing.T) {
	c, mock := newMockClient(t)
	id := uuid.New()

	mock.ExpectQuery(`FROM machines WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := c.GetMachine(context.Background(), id)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMachine(t *testing.T) {
	c, mock := newMockClient(t)
	id := uuid.New()

	mock.ExpectExec(`DELETE FROM machines`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM machines`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, c.DeleteMachine(context.Background(), id))
	assert.ErrorIs(t, c.DeleteMachine(context.Background(), id), types.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateReadingsCommitsBatch(t *testing.T) {
	c, mock := newMockClient(t)
	ts := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO readings`).
		WithArgs(int64(1), 21.5, ts).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(100)))
	mock.ExpectQuery(`INSERT INTO readings`).
		WithArgs(int64(2), 3.2, ts).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(101)))
	mock.ExpectCommit()

	batch := []*Reading{
		{SensorID: 1, Value: 21.5, Timestamp: ts},
		{SensorID: 2, Value: 3.2, Timestamp: ts},
	}
	require.NoError(t, c.CreateReadings(context.Background(), batch))
	assert.Equal(t, int64(100), batch[0].ID)
	assert.Equal(t, int64(101), batch[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateReadingsRollsBackOnError(t *testing.T) {
	c, mock := newMockClient(t)
	ts := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO readings`).
		WithArgs(int64(9), 1.0, ts).
		WillReturnError(&pgconn.PgError{Code: "23503"})
	mock.ExpectRollback()

	err := c.CreateReadings(context.Background(), []*Reading{{SensorID: 9, Value: 1.0, Timestamp: ts}})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountOutOfThreshold(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM readings r JOIN sensors s`).
		WithArgs(int64(4)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))

	n, err := c.CountOutOfThreshold(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteGatewayTokenNotFound(t *testing.T) {
	c, mock := newMockClient(t)
	id := uuid.New()

	mock.ExpectExec(`DELETE FROM gateway_tokens`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	assert.ErrorIs(t, c.DeleteGatewayToken(context.Background(), id), types.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRefreshToken(t *testing.T) {
	c, mock := newMockClient(t)
	accountID := uuid.New()

	mock.ExpectQuery(`UPDATE refresh_tokens SET revoked_at = NOW\(\)\s+WHERE token_hash = \$1 AND revoked_at IS NULL AND expires_at > NOW\(\)\s+RETURNING account_id`).
		WithArgs("hash").
		WillReturnRows(pgxmock.NewRows([]string{"account_id"}).AddRow(accountID))
	mock.ExpectQuery(`UPDATE refresh_tokens SET revoked_at = NOW\(\)`).
		WithArgs("hash").
		WillReturnError(pgx.ErrNoRows)

	got, err := c.ClaimRefreshToken(context.Background(), "hash")
	require.NoError(t, err)
	assert.Equal(t, accountID, got)

	_, err = c.ClaimRefreshToken(context.Background(), "hash")
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementFailedLoginAttemptsResetsExpiredLock(t *testing.T) {
	c, mock := newMockClient(t)
	id := uuid.New()

	mock.ExpectExec(`WHEN locked_until < NOW\(\) THEN 1`).
		WithArgs(id, 5, float64(60)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, c.IncrementFailedLoginAttempts(context.Background(), id, 5, time.Minute))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS machines`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, c.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildDiagnosticWhere(t *testing.T) {
	id := uuid.New()
	where, args := buildDiagnosticWhere(DiagnosticFilter{
		MachineID:      &id,
		DiagnosticType: "Vibration",
		Status:         []string{"completed", "resolved"},
		Critical:       true,
	})

	assert.Contains(t, where, "machine_id = $1")
	assert.Contains(t, where, "diagnostic_type = $2")
	assert.Contains(t, where, "status = ANY($3)")
	assert.Contains(t, where, "ILIKE '%urgent%'")
	assert.Len(t, args, 3)

	where, args = buildDiagnosticWhere(DiagnosticFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)
}
