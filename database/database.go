package database

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"sensor_telemetry/config"
	"sensor_telemetry/logger"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Dialector selects the gorm dialector for a configured driver
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

const defaultSQLiteBusyTimeout = 5000

// SQLiteDSN adds the parameters concurrent writers need to a SQLite DSN: a
// busy timeout in milliseconds, BEGIN IMMEDIATE so a transaction holds the
// write lock before its first read, and WAL for file databases. Parameters
// already present in dsn win.
func SQLiteDSN(dsn string, busyTimeout int) string {
	if busyTimeout <= 0 {
		busyTimeout = defaultSQLiteBusyTimeout
	}
	params := [][2]string{
		{"_busy_timeout", strconv.Itoa(busyTimeout)},
		{"_txlock", "immediate"},
	}
	if !strings.Contains(dsn, ":memory:") && !strings.Contains(dsn, "mode=memory") {
		params = append(params, [2]string{"_journal_mode", "WAL"})
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range params {
		if strings.Contains(dsn, p[0]+"=") {
			continue
		}
		dsn += sep + p[0] + "=" + p[1]
		sep = "&"
	}
	return dsn
}

// Open opens a gorm handle with driver error translation enabled, so that
// uniqueness violations surface as gorm.ErrDuplicatedKey on every engine
func Open(dialector gorm.Dialector, level gormlogger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Connect establishes a pooled database connection based on the provided configuration.
// The returned handle is safe for concurrent use and is meant to be injected.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := cfg.GetDSN()
	if cfg.Database.Driver == "sqlite" {
		dsn = SQLiteDSN(dsn, cfg.Database.SQLite.BusyTimeout)
	}

	dialector, err := Dialector(cfg.Database.Driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := Open(dialector, logger.GormLevel(cfg.Logging.LogLevel))
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	pool := cfg.Database.ConnectionPool
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetime) * time.Second)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// IsConnected checks if database is connected
func IsConnected(db *gorm.DB) bool {
	if db == nil {
		return false
	}

	sqlDB, err := db.DB()
	if err != nil {
		return false
	}

	return sqlDB.Ping() == nil
}

// GetDatabaseInfo returns information about the connected database
func GetDatabaseInfo(db *gorm.DB, cfg *config.Config) map[string]interface{} {
	info := make(map[string]interface{})
	info["driver"] = cfg.Database.Driver
	info["connected"] = IsConnected(db)

	if db != nil {
		sqlDB, err := db.DB()
		if err == nil {
			stats := sqlDB.Stats()
			info["max_open_connections"] = stats.MaxOpenConnections
			info["open_connections"] = stats.OpenConnections
			info["in_use"] = stats.InUse
			info["idle"] = stats.Idle
		}
	}

	switch cfg.Database.Driver {
	case "mysql":
		info["host"] = cfg.Database.MySQL.Host
		info["port"] = cfg.Database.MySQL.Port
		info["database"] = cfg.Database.MySQL.DBName
	case "postgres":
		info["host"] = cfg.Database.PostgreSQL.Host
		info["port"] = cfg.Database.PostgreSQL.Port
		info["database"] = cfg.Database.PostgreSQL.DBName
	case "sqlite":
		info["path"] = cfg.Database.SQLite.Path
	}

	return info
}
