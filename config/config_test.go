package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
database:
  driver: sqlite
  sqlite:
    path: telemetry.db
`))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Database.SQLite.BusyTimeout)
	assert.Equal(t, "result.log", cfg.Logging.LogFile)
	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "migrations", cfg.Migration.MigrationTable)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownDuration())
	assert.Equal(t, "telemetry/readings", cfg.MQTT.Topic)
	assert.Equal(t, 5*time.Second, cfg.MQTT.HandlerDuration())
	assert.Equal(t, 4, cfg.Ingest.WorkerCount)
}

func TestParse_RejectsUnsupportedDriver(t *testing.T) {
	_, err := Parse([]byte("database:\n  driver: oracle\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestParse_RejectsMissingPostgresHost(t *testing.T) {
	_, err := Parse([]byte(`
database:
  driver: postgres
  postgres:
    user: telemetry
    dbname: telemetry
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres host is required")
}

func TestParse_RejectsBadQoS(t *testing.T) {
	_, err := Parse([]byte(`
database:
  driver: sqlite
  sqlite:
    path: telemetry.db
mqtt:
  qos: 3
`))
	require.Error(t, err)
}

func TestGetDSN(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{
		Driver: "postgres",
		PostgreSQL: PostgresConfig{
			Host: "db", Port: 5432, User: "u", Password: "p",
			DBName: "telemetry", SSLMode: "disable", TimeZone: "UTC",
		},
	}}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=telemetry sslmode=disable TimeZone=UTC", cfg.GetDSN())

	cfg.Database.Driver = "mysql"
	cfg.Database.MySQL = MySQLConfig{
		Host: "db", Port: 3306, User: "u", Password: "p", DBName: "telemetry",
		Charset: "utf8mb4", ParseTime: true, Loc: "UTC",
	}
	assert.Equal(t, "u:p@tcp(db:3306)/telemetry?charset=utf8mb4&parseTime=true&loc=UTC", cfg.GetDSN())

	t.Setenv(DSNEnvVar, "override.db")
	assert.Equal(t, "override.db", cfg.GetDSN())
}

func TestLoad_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: sqlite
  sqlite:
    path: telemetry.db
server:
  addr: ":9090"
  allowed_origins: ["http://localhost:3000"]
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
}
