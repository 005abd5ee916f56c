package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallmesh/recallmesh/pkg/database"
)

type stubBreaker struct {
	state string
}

func (s *stubBreaker) State() string { return s.state }

func newHealthDB(t *testing.T) (*database.Database, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return database.NewDatabaseWithConnection(sqlx.NewDb(mockDB, "sqlmock")), mock
}

func TestHealthCheckOK(t *testing.T) {
	db, mock := newHealthDB(t)
	mock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	svc := NewHealthService(db, &stubBreaker{state: "closed"}, "test", "1.2.3", nil)
	report := svc.Check(context.Background())

	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, "ok", report.Database)
	assert.Equal(t, "ok", report.Embedding)
	assert.Equal(t, "test", report.Environment)
	assert.Equal(t, "1.2.3", report.Version)
	require.NotNil(t, report.LatencyMS)
	assert.GreaterOrEqual(t, *report.LatencyMS, 0.0)
	assert.GreaterOrEqual(t, report.UptimeSeconds, 0.0)
	assert.WithinDuration(t, time.Now().UTC(), report.Timestamp, time.Minute)
	assert.Nil(t, report.Notes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthCheckDatabaseDown(t *testing.T) {
	db, mock := newHealthDB(t)
	mock.ExpectQuery("SELECT 1").
		WillReturnError(errors.New("connection refused"))

	svc := NewHealthService(db, nil, "test", "1.2.3", nil)
	report := svc.Check(context.Background())

	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, "down", report.Database)
	assert.Nil(t, report.LatencyMS)
	require.NotNil(t, report.Notes)
	assert.Contains(t, *report.Notes, "connection refused")
	// No breaker wired still reports the embedding chain as healthy.
	assert.Equal(t, "ok", report.Embedding)
}

func TestHealthCheckBreakerOpen(t *testing.T) {
	db, mock := newHealthDB(t)
	mock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	svc := NewHealthService(db, &stubBreaker{state: "open"}, "test", "1.2.3", nil)
	report := svc.Check(context.Background())

	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, "failed", report.Embedding)
}
