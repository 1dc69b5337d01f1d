package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sensor_telemetry/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

var (
	base    = zap.NewNop()
	sugar   *zap.SugaredLogger
	logPath string
)

// LogLevel constants
const (
	DEBUG = "debug"
	INFO  = "info"
	WARN  = "warn"
	ERROR = "error"
)

// ParseLevel maps a configured level name to a zap level, defaulting to info
func ParseLevel(level string) zapcore.Level {
	switch level {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a zap logger from the logging section without touching package state
func New(cfg config.LoggingConfig) (*zap.Logger, string, error) {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "timestamp"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zcfg.Level = zap.NewAtomicLevelAt(ParseLevel(cfg.LogLevel))

	path := cfg.LogFile
	if path != "" && !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("failed to get current working directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	zcfg.OutputPaths = nil
	if path != "" {
		zcfg.OutputPaths = append(zcfg.OutputPaths, path)
	}
	if cfg.LogToConsole || path == "" {
		zcfg.OutputPaths = append(zcfg.OutputPaths, "stdout")
	}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	zl, err := zcfg.Build()
	if err != nil {
		return nil, "", fmt.Errorf("failed to build logger: %w", err)
	}
	return zl.With(zap.String("service_name", "sensor-telemetry")), path, nil
}

// Init initializes the logging system using configuration and returns the
// structured logger to inject into components
func Init(cfg *config.Config) (*zap.Logger, error) {
	zl, path, err := New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	base = zl
	sugar = zl.Sugar()
	logPath = path

	sugar.Infow("session started", "log_file", path, "log_level", cfg.Logging.LogLevel,
		"log_to_console", cfg.Logging.LogToConsole)

	return zl, nil
}

// L returns the structured logger, a no-op logger before Init
func L() *zap.Logger {
	return base
}

// GormLevel maps the configured level onto gorm's SQL logger
func GormLevel(level string) gormlogger.LogLevel {
	switch level {
	case DEBUG:
		return gormlogger.Info
	case ERROR:
		return gormlogger.Error
	default:
		return gormlogger.Warn
	}
}

// Close flushes buffered log entries
func Close() error {
	if sugar == nil {
		return nil
	}
	sugar.Infow("session ended")
	err := sugar.Sync()
	// syncing stdout is not supported on every platform
	if err != nil && strings.Contains(err.Error(), "/dev/stdout") {
		return nil
	}
	return err
}

func line(format string, v ...interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, v...), "\n")
}

// Printf prints formatted text to log
func Printf(format string, v ...interface{}) {
	if sugar != nil {
		sugar.Info(line(format, v...))
		return
	}
	fmt.Printf(format, v...)
}

// Println prints a line to log
func Println(v ...interface{}) {
	if sugar != nil {
		sugar.Info(strings.TrimRight(fmt.Sprintln(v...), "\n"))
		return
	}
	fmt.Println(v...)
}

// Debugf prints formatted debug text
func Debugf(format string, v ...interface{}) {
	if sugar != nil {
		sugar.Debug(line(format, v...))
	}
}

// Warnf prints formatted warning text
func Warnf(format string, v ...interface{}) {
	if sugar != nil {
		sugar.Warn(line(format, v...))
		return
	}
	fmt.Printf("WARN: "+format, v...)
}

// Errorf prints formatted error text
func Errorf(format string, v ...interface{}) {
	if sugar != nil {
		sugar.Error(line(format, v...))
		return
	}
	fmt.Fprintf(os.Stderr, "ERROR: "+format, v...)
}

// Fatalf prints formatted fatal error and exits
func Fatalf(format string, v ...interface{}) {
	if sugar != nil {
		sugar.Error(line(format, v...))
		_ = Close()
	} else {
		fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", v...)
	}
	os.Exit(1)
}

// LogCommand logs the command being executed
func LogCommand(command string, args []string) {
	if sugar == nil {
		return
	}
	if len(args) > 1 {
		args = args[1:]
	} else {
		args = nil
	}
	sugar.Infow("command executed", "command", command, "args", args)
}

// LogDivider prints a divider line for better log organization
func LogDivider() {
	Println("------------------------------------------------------------")
}

// LogResult logs a result with status
func LogResult(operation string, success bool, details string) {
	status := "SUCCESS"
	if !success {
		status = "FAILED"
	}
	if details != "" {
		Printf("%s: %s - %s", operation, status, details)
		return
	}
	Printf("%s: %s", operation, status)
}

// GetLogFileName returns the current log file name
func GetLogFileName() string {
	if logPath != "" {
		return logPath
	}
	return "result.log"
}
