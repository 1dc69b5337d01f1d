package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"sensor_telemetry/config"
	"sensor_telemetry/database"
	"sensor_telemetry/logger"
	"sensor_telemetry/models"
	"sensor_telemetry/scanner"
	"sensor_telemetry/server"
	"sensor_telemetry/subscriber"
	"sensor_telemetry/telemetry"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func main() {
	if len(os.Args) < 2 {
		showHelp()
		return
	}

	command := os.Args[1]

	if needsLogging(command) {
		cfg := loadConfig()
		if _, err := logger.Init(cfg); err != nil {
			log.Fatalf("Failed to initialize logging: %v", err)
		}
		defer func() {
			if err := logger.Close(); err != nil {
				log.Fatalf("Failed to close logging: %v", err)
			}
		}()
		logger.LogCommand(os.Args[0], os.Args)
	}

	switch command {
	case "connect":
		connectCommand()
	case "migrate":
		migrateCommand()
	case "migrate:create":
		if len(os.Args) < 3 {
			fmt.Println("Error: migration name required")
			fmt.Println("Usage: go run main.go migrate:create <migration_name>")
			return
		}
		createMigrationCommand(os.Args[2])
	case "migrate:status":
		migrationStatusCommand()
	case "db:info":
		dbInfoCommand()
	case "scan":
		if len(os.Args) < 3 {
			fmt.Println("Error: directory path required")
			fmt.Println("Usage: go run main.go scan <directory_path>")
			return
		}
		scanCommand(os.Args[2])
	case "register":
		if len(os.Args) < 3 {
			fmt.Println("Error: transmitter MAC address required")
			fmt.Println("Usage: go run main.go register <mac>")
			return
		}
		registerCommand(os.Args[2])
	case "ingest":
		if len(os.Args) < 6 {
			fmt.Println("Error: missing arguments")
			fmt.Println("Usage: go run main.go ingest <transmitter_mac> <sensor_device_mac> <sensor_address> <temperature>")
			return
		}
		ingestCommand(os.Args[2], os.Args[3], os.Args[4], os.Args[5])
	case "latest":
		if len(os.Args) < 3 {
			fmt.Println("Error: sensor device id required")
			fmt.Println("Usage: go run main.go latest <sensor_device_id>")
			return
		}
		latestCommand(os.Args[2])
	case "report":
		if len(os.Args) < 5 {
			fmt.Println("Error: missing arguments")
			fmt.Println("Usage: go run main.go report <sensor_device_id> <from> <to>")
			return
		}
		reportCommand(os.Args[2], os.Args[3], os.Args[4])
	case "serve":
		serveCommand()
	case "subscribe":
		subscribeCommand()
	case "help":
		showHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		showHelp()
	}
}

// needsLogging determines which commands need logging
func needsLogging(command string) bool {
	loggingCommands := map[string]bool{
		"connect":        true,
		"migrate":        true,
		"migrate:create": true,
		"migrate:status": true,
		"scan":           true,
		"register":       true,
		"ingest":         true,
		"latest":         true,
		"report":         true,
		"serve":          true,
		"subscribe":      true,
	}
	return loggingCommands[command]
}

func showHelp() {
	fmt.Println("Sensor Telemetry - Ingestion and Aggregation Tool")
	fmt.Println("")
	fmt.Println("Usage: go run main.go <command> [arguments]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  connect                          Test database connection")
	fmt.Println("  migrate                          Run pending migrations")
	fmt.Println("  migrate:create <name>            Create a new migration file")
	fmt.Println("  migrate:status                   Show migration status")
	fmt.Println("  db:info                          Show database information")
	fmt.Println("  scan <directory>                 Import telemetry CSV files (non-recursive)")
	fmt.Println("  register <mac>                   Register a transmitter")
	fmt.Println("  ingest <t_mac> <sd_mac> <addr> <temp>  Store one reading")
	fmt.Println("  latest <device_id>               Latest reading per sensor of a sensor device")
	fmt.Println("  report <device_id> <from> <to>   Readings per sensor within [from, to] (RFC 3339)")
	fmt.Println("  serve                            Run the HTTP API (and MQTT subscriber if configured)")
	fmt.Println("  subscribe                        Run the MQTT subscriber only")
	fmt.Println("  help                             Show this help message")
	fmt.Println("")
	fmt.Println("Configuration:")
	fmt.Println("  Edit config.yaml to configure database, server and MQTT settings")
	fmt.Printf("  %s overrides the database DSN\n", config.DSNEnvVar)
	fmt.Println("")
	fmt.Println("CSV File Format:")
	fmt.Println("  Expected columns: timestamp,transmitter_mac,sensor_device_mac,sensor_address,temperature")
	fmt.Println("  Timestamp format: ISO8601 (e.g., 2025-09-05T12:30:45Z)")
}

func loadConfig() *config.Config {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	return cfg
}

func connectDatabase() (*config.Config, *gorm.DB, error) {
	cfg := loadConfig()

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return cfg, db, nil
}

func mustConnect() (*config.Config, *gorm.DB) {
	cfg, db, err := connectDatabase()
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	return cfg, db
}

func connectCommand() {
	logger.Println("Testing database connection...")

	cfg, db, err := connectDatabase()
	if err != nil {
		logger.Fatalf("Connection failed: %v", err)
	}
	defer database.Close(db)

	logger.Printf("✓ Successfully connected to %s database", cfg.Database.Driver)

	info := database.GetDatabaseInfo(db, cfg)
	infoJSON, _ := json.MarshalIndent(info, "", "  ")
	logger.Printf("Connection info: %s", infoJSON)
}

func migrateCommand() {
	logger.Println("Running database migrations...")

	cfg, db := mustConnect()
	defer database.Close(db)

	runner := database.NewMigrationRunner(db, cfg)
	if err := runner.RunMigrations(context.Background()); err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}
}

func createMigrationCommand(name string) {
	logger.Printf("Creating migration: %s", name)

	cfg := loadConfig()
	runner := database.NewMigrationRunner(nil, cfg)

	filePath, err := runner.CreateMigration(name)
	if err != nil {
		logger.Fatalf("Failed to create migration: %v", err)
	}

	logger.Printf("✓ Migration created: %s", filePath)
}

func migrationStatusCommand() {
	logger.Println("Checking migration status...")

	cfg, db := mustConnect()
	defer database.Close(db)

	runner := database.NewMigrationRunner(db, cfg)
	migrations, err := runner.GetMigrationStatus(context.Background())
	if err != nil {
		logger.Fatalf("Failed to get migration status: %v", err)
	}

	if len(migrations) == 0 {
		logger.Println("No migrations found")
		return
	}

	logger.Printf("%-20s %-40s %s", "Version", "Name", "Status")
	logger.LogDivider()

	for _, migration := range migrations {
		status := "Pending"
		switch {
		case migration.Modified:
			status = "Applied (modified since)"
		case migration.Applied:
			status = "Applied"
		}
		logger.Printf("%-20s %-40s %s", migration.Version, migration.Name, status)
	}
}

func dbInfoCommand() {
	fmt.Println("Database Information:")
	fmt.Println(strings.Repeat("=", 50))

	cfg, db, err := connectDatabase()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	info := database.GetDatabaseInfo(db, cfg)

	fmt.Printf("Database Type:     %v\n", info["driver"])
	fmt.Printf("Connection Status: %v\n", getConnectionStatusText(info["connected"]))

	switch cfg.Database.Driver {
	case "mysql", "postgres":
		fmt.Printf("Host:              %v\n", info["host"])
		fmt.Printf("Port:              %v\n", info["port"])
		fmt.Printf("Database:          %v\n", info["database"])
	case "sqlite":
		fmt.Printf("File Path:         %v\n", info["path"])
	}

	if info["connected"] != true {
		fmt.Println("\nConnection failed - unable to retrieve detailed information")
		fmt.Println(strings.Repeat("=", 50))
		return
	}

	fmt.Println("\nConnection Pool:")
	fmt.Printf("  Max Connections: %v\n", info["max_open_connections"])
	fmt.Printf("  Open Connections:%v\n", info["open_connections"])
	fmt.Printf("  In Use:          %v\n", info["in_use"])
	fmt.Printf("  Idle:            %v\n", info["idle"])

	count := func(model interface{}) int64 {
		var n int64
		db.Model(model).Count(&n)
		return n
	}

	fmt.Println("\nData Information:")
	fmt.Printf("  Transmitters:    %d\n", count(&models.Transmitter{}))
	fmt.Printf("  Sensor Devices:  %d\n", count(&models.SensorDevice{}))
	fmt.Printf("  Sensors:         %d\n", count(&models.Sensor{}))
	readings := count(&models.Reading{})
	fmt.Printf("  Readings:        %d\n", readings)

	if readings > 0 {
		var earliest, latest models.Reading
		db.Order("recorded_at ASC").Limit(1).Find(&earliest)
		db.Order("recorded_at DESC").Limit(1).Find(&latest)
		fmt.Printf("  Date Range:      %s to %s\n",
			earliest.RecordedAt.UTC().Format("2006-01-02 15:04:05"),
			latest.RecordedAt.UTC().Format("2006-01-02 15:04:05"))
	}

	fmt.Println(strings.Repeat("=", 50))
}

func getConnectionStatusText(connected interface{}) string {
	if conn, ok := connected.(bool); ok && conn {
		return "✓ Connected"
	}
	return "✗ Disconnected"
}

func scanCommand(directoryPath string) {
	cfg, db := mustConnect()
	defer database.Close(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	csvScanner := scanner.NewCSVScanner(telemetry.NewPipeline(db, logger.L()))
	csvScanner.SetWorkerCount(cfg.Ingest.WorkerCount)

	if _, err := csvScanner.ScanDirectory(ctx, directoryPath); err != nil {
		logger.Fatalf("Scan failed: %v", err)
	}

	logger.Println("✓ Directory scan completed successfully")
}

func registerCommand(mac string) {
	_, db := mustConnect()
	defer database.Close(db)

	pipeline := telemetry.NewPipeline(db, logger.L())
	id, existed, err := pipeline.RegisterTransmitter(context.Background(), mac)
	if err != nil {
		logger.Fatalf("Registration failed: %v", err)
	}

	logger.LogResult("register "+mac, true, fmt.Sprintf("id=%d already_existed=%t", id, existed))
}

func ingestCommand(transmitterMAC, sensorDeviceMAC, sensorAddress, temperature string) {
	value, err := strconv.ParseFloat(temperature, 64)
	if err != nil {
		logger.Fatalf("Invalid temperature %q: %v", temperature, err)
	}

	_, db := mustConnect()
	defer database.Close(db)

	pipeline := telemetry.NewPipeline(db, logger.L())
	res, err := pipeline.Ingest(context.Background(), telemetry.Sample{
		TransmitterMAC:  transmitterMAC,
		SensorDeviceMAC: sensorDeviceMAC,
		SensorAddress:   sensorAddress,
		Temperature:     value,
	})
	if err != nil {
		logger.Fatalf("Ingest failed: %v", err)
	}

	logger.LogResult("ingest", true, fmt.Sprintf("reading_id=%d sensor_id=%d sensor_device_id=%d",
		res.ReadingID, res.SensorID, res.SensorDeviceID))
}

func parseDeviceID(raw string) uint {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		logger.Fatalf("Invalid sensor device id: %s", raw)
	}
	return uint(id)
}

func latestCommand(rawID string) {
	deviceID := parseDeviceID(rawID)

	_, db := mustConnect()
	defer database.Close(db)

	sensors, err := telemetry.NewReader(db, logger.L()).LatestPerSensor(context.Background(), deviceID)
	if err != nil {
		logger.Fatalf("Query failed: %v", err)
	}

	if len(sensors) == 0 {
		logger.Printf("Sensor device %d has no sensors", deviceID)
		return
	}

	logger.Printf("%-8s %-20s %-10s %-12s %s", "Sensor", "Name", "Depth", "Temperature", "Recorded At")
	logger.LogDivider()
	for _, s := range sensors {
		depth, temp, at := "-", "-", "-"
		if s.Depth != nil {
			depth = strconv.FormatFloat(*s.Depth, 'f', 2, 64)
		}
		if s.LatestReading != nil {
			temp = strconv.FormatFloat(s.LatestReading.Temperature, 'f', 2, 64)
			at = s.LatestReading.RecordedAt.Format(time.RFC3339)
		}
		logger.Printf("%-8d %-20s %-10s %-12s %s", s.SensorID, s.Name, depth, temp, at)
	}
}

func reportCommand(rawID, rawFrom, rawTo string) {
	deviceID := parseDeviceID(rawID)
	from, err := time.Parse(time.RFC3339, rawFrom)
	if err != nil {
		logger.Fatalf("Invalid from timestamp %q: %v", rawFrom, err)
	}
	to, err := time.Parse(time.RFC3339, rawTo)
	if err != nil {
		logger.Fatalf("Invalid to timestamp %q: %v", rawTo, err)
	}

	_, db := mustConnect()
	defer database.Close(db)

	report, err := telemetry.NewReader(db, logger.L()).GroupedReadings(context.Background(), deviceID, from, to)
	if err != nil {
		logger.Fatalf("Query failed: %v", err)
	}

	for _, s := range report {
		logger.Printf("Sensor %d (%s): %d reading(s)", s.SensorID, s.Name, len(s.Readings))
		for _, r := range s.Readings {
			logger.Printf("  %s  %.2f", r.RecordedAt.Format(time.RFC3339), r.Temperature)
		}
	}
}

func serveCommand() {
	cfg, db := mustConnect()
	defer database.Close(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gin.SetMode(gin.ReleaseMode)
	zl := logger.L()
	pipeline := telemetry.NewPipeline(db, zl)
	srv := server.New(cfg.Server, pipeline, telemetry.NewReader(db, zl), zl)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if cfg.MQTT.Broker != "" {
		sub := subscriber.New(cfg.MQTT, pipeline, zl)
		g.Go(func() error {
			return sub.Run(gctx)
		})
	} else {
		zl.Info("mqtt broker not configured, subscriber disabled")
	}

	if err := g.Wait(); err != nil {
		logger.Fatalf("Server failed: %v", err)
	}
	zl.Info("shutdown complete", zap.String("addr", cfg.Server.Addr))
}

func subscribeCommand() {
	cfg, db := mustConnect()
	defer database.Close(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub := subscriber.New(cfg.MQTT, telemetry.NewPipeline(db, logger.L()), logger.L())
	if err := sub.Run(ctx); err != nil {
		logger.Fatalf("Subscriber failed: %v", err)
	}
}
