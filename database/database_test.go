package database_test

import (
	"testing"

	"sensor_telemetry/database"
	"sensor_telemetry/database/dbtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		name        string
		dsn         string
		busyTimeout int
		want        string
	}{
		{"plain path", "telemetry.db", 5000, "telemetry.db?_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL"},
		{"default timeout", "telemetry.db", 0, "telemetry.db?_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL"},
		{"existing params", "file:t.db?cache=private", 250, "file:t.db?cache=private&_busy_timeout=250&_txlock=immediate&_journal_mode=WAL"},
		{"explicit values win", "t.db?_txlock=deferred&_busy_timeout=10", 5000, "t.db?_txlock=deferred&_busy_timeout=10&_journal_mode=WAL"},
		{"memory", "file:x?mode=memory&cache=shared", 5000, "file:x?mode=memory&cache=shared&_busy_timeout=5000&_txlock=immediate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, database.SQLiteDSN(tt.dsn, tt.busyTimeout))
		})
	}
}

func TestConnect_SQLiteFileIsConfiguredForConcurrentWriters(t *testing.T) {
	db := dbtest.NewFile(t)

	var timeout int
	require.NoError(t, db.Raw("PRAGMA busy_timeout").Row().Scan(&timeout))
	assert.Equal(t, 5000, timeout)

	var mode string
	require.NoError(t, db.Raw("PRAGMA journal_mode").Row().Scan(&mode))
	assert.Equal(t, "wal", mode)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 50, sqlDB.Stats().MaxOpenConnections)
}
