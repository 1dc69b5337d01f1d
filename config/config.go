package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DSNEnvVar overrides the DSN built from the database section when set
const DSNEnvVar = "SENSOR_TELEMETRY_DSN"

// DatabaseConfig holds all database configuration
type DatabaseConfig struct {
	Driver         string         `yaml:"driver"`
	MySQL          MySQLConfig    `yaml:"mysql"`
	PostgreSQL     PostgresConfig `yaml:"postgres"`
	SQLite         SQLiteConfig   `yaml:"sqlite"`
	ConnectionPool PoolConfig     `yaml:"connection_pool"`
}

// MySQLConfig holds MySQL specific configuration
type MySQLConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	DBName    string `yaml:"dbname"`
	Charset   string `yaml:"charset"`
	ParseTime bool   `yaml:"parse_time"`
	Loc       string `yaml:"loc"`
}

// PostgresConfig holds PostgreSQL specific configuration
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	TimeZone string `yaml:"timezone"`
}

// SQLiteConfig holds SQLite specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
	// BusyTimeout is how long, in milliseconds, a writer waits for the
	// database lock before failing
	BusyTimeout int `yaml:"busy_timeout"`
}

// PoolConfig holds connection pool configuration
type PoolConfig struct {
	MaxIdleConns    int `yaml:"max_idle_conns"`
	MaxOpenConns    int `yaml:"max_open_conns"`
	ConnMaxLifetime int `yaml:"conn_max_lifetime"`
}

// MigrationConfig holds migration specific configuration
type MigrationConfig struct {
	AutoMigrate    bool   `yaml:"auto_migrate"`
	MigrationTable string `yaml:"migration_table"`
	MigrationDir   string `yaml:"migration_dir"`
}

// LoggingConfig holds logging specific configuration
type LoggingConfig struct {
	LogFile      string `yaml:"log_file"`
	LogToConsole bool   `yaml:"log_to_console"`
	LogLevel     string `yaml:"log_level"`
	Format       string `yaml:"format"`
}

// ServerConfig holds the HTTP listener configuration. Timeouts are in seconds.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     int      `yaml:"read_timeout"`
	WriteTimeout    int      `yaml:"write_timeout"`
	ShutdownTimeout int      `yaml:"shutdown_timeout"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// MQTTConfig holds the broker subscription used for device ingestion
type MQTTConfig struct {
	Broker         string `yaml:"broker"`
	ClientID       string `yaml:"client_id"`
	Topic          string `yaml:"topic"`
	QoS            byte   `yaml:"qos"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	HandlerTimeout int    `yaml:"handler_timeout"`
}

// IngestConfig holds bulk ingestion settings
type IngestConfig struct {
	WorkerCount int `yaml:"worker_count"`
}

// Config holds the complete application configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Migration MigrationConfig `yaml:"migration"`
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// Load loads configuration from the specified YAML file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.LogFile == "" {
		c.Logging.LogFile = "result.log"
	}
	if c.Logging.LogLevel == "" {
		c.Logging.LogLevel = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Database.SQLite.BusyTimeout == 0 {
		c.Database.SQLite.BusyTimeout = 5000
	}
	if c.Migration.MigrationTable == "" {
		c.Migration.MigrationTable = "migrations"
	}
	if c.Migration.MigrationDir == "" {
		c.Migration.MigrationDir = "migrations"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "sensor-telemetry"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "telemetry/readings"
	}
	if c.MQTT.HandlerTimeout == 0 {
		c.MQTT.HandlerTimeout = 5
	}
	if c.Ingest.WorkerCount == 0 {
		c.Ingest.WorkerCount = 4
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql":
		if c.Database.MySQL.Host == "" {
			return fmt.Errorf("mysql host is required")
		}
		if c.Database.MySQL.User == "" {
			return fmt.Errorf("mysql user is required")
		}
		if c.Database.MySQL.DBName == "" {
			return fmt.Errorf("mysql database name is required")
		}
	case "postgres":
		if c.Database.PostgreSQL.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if c.Database.PostgreSQL.User == "" {
			return fmt.Errorf("postgres user is required")
		}
		if c.Database.PostgreSQL.DBName == "" {
			return fmt.Errorf("postgres database name is required")
		}
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	switch c.Logging.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", c.Logging.LogLevel)
	}

	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}
	if c.Ingest.WorkerCount < 0 {
		return fmt.Errorf("ingest worker count must not be negative")
	}

	return nil
}

// GetDSN returns the database connection string based on the configured driver
func (c *Config) GetDSN() string {
	if dsn := os.Getenv(DSNEnvVar); dsn != "" {
		return dsn
	}

	switch c.Database.Driver {
	case "mysql":
		mysql := c.Database.MySQL
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
			mysql.User, mysql.Password, mysql.Host, mysql.Port, mysql.DBName,
			mysql.Charset, mysql.ParseTime, mysql.Loc)
		return dsn
	case "postgres":
		pg := c.Database.PostgreSQL
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
			pg.Host, pg.Port, pg.User, pg.Password, pg.DBName, pg.SSLMode, pg.TimeZone)
		return dsn
	case "sqlite":
		return c.Database.SQLite.Path
	default:
		return ""
	}
}

// ShutdownDuration returns the graceful shutdown window of the HTTP server
func (s ServerConfig) ShutdownDuration() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// HandlerDuration returns the per-message processing budget
func (m MQTTConfig) HandlerDuration() time.Duration {
	return time.Duration(m.HandlerTimeout) * time.Second
}
