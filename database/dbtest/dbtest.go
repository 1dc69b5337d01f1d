// Package dbtest opens migrated SQLite stores for tests.
package dbtest

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"sensor_telemetry/config"
	"sensor_telemetry/database"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var seq atomic.Int64

// New returns a migrated in-memory store private to the calling test. The
// pool is limited to one connection so the database lives as long as the
// test; use NewFile when connections must run concurrently.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_foreign_keys=1", name, seq.Add(1))

	db, err := database.Open(sqlite.Open(dsn), gormlogger.Silent)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

// NewFile returns a migrated file-backed store opened through
// database.Connect with a production sized pool.
func NewFile(t testing.TB) *gorm.DB {
	t.Helper()
	t.Setenv(config.DSNEnvVar, "")

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "telemetry.db")},
			ConnectionPool: config.PoolConfig{
				MaxIdleConns: 10,
				MaxOpenConns: 50,
			},
		},
		Logging: config.LoggingConfig{LogLevel: "error"},
	}

	db, err := database.Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	require.NoError(t, database.AutoMigrate(db))
	return db
}
