package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"sensor_telemetry/config"
	"sensor_telemetry/logger"
	"sensor_telemetry/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const versionLayout = "20060102_150405"

// Migration is a row of the migration table
type Migration struct {
	ID          uint   `gorm:"primaryKey"`
	Version     string `gorm:"unique;not null"`
	Name        string `gorm:"not null"`
	Checksum    string `gorm:"size:64"`
	Applied     bool   `gorm:"default:false"`
	AppliedAt   *time.Time
	Description string
}

// MigrationFile is a SQL file in the migration directory.
// Modified is set by GetMigrationStatus when an applied file changed on disk.
type MigrationFile struct {
	Version     string
	Name        string
	Description string
	FilePath    string
	Checksum    string
	Applied     bool
	Modified    bool
}

// MigrationRunner applies the telemetry schema: gorm models first, then SQL
// files named YYYYMMDD_HHMMSS_description.sql in version order
type MigrationRunner struct {
	db             *gorm.DB
	autoMigrate    bool
	migrationTable string
	migrationDir   string
	log            *zap.Logger
}

// NewMigrationRunner reads the migration settings from cfg
func NewMigrationRunner(db *gorm.DB, cfg *config.Config) *MigrationRunner {
	return &MigrationRunner{
		db:             db,
		autoMigrate:    cfg.Migration.AutoMigrate,
		migrationTable: cfg.Migration.MigrationTable,
		migrationDir:   cfg.Migration.MigrationDir,
		log:            logger.L().Named("migrate"),
	}
}

// AutoMigrate creates or updates the telemetry tables on db
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.GetAllModels()...); err != nil {
		return fmt.Errorf("failed to migrate telemetry models: %w", err)
	}
	return nil
}

func (mr *MigrationRunner) table(ctx context.Context) *gorm.DB {
	return mr.db.WithContext(ctx).Table(mr.migrationTable)
}

// parseMigrationFile splits a migration file name into version and description
func parseMigrationFile(filename string) (MigrationFile, error) {
	parts := strings.SplitN(strings.TrimSuffix(filename, ".sql"), "_", 3)
	if len(parts) < 3 || parts[2] == "" {
		return MigrationFile{}, fmt.Errorf("invalid migration filename format: %s (expected: YYYYMMDD_HHMMSS_description.sql)", filename)
	}

	version := parts[0] + "_" + parts[1]
	if _, err := time.Parse(versionLayout, version); err != nil {
		return MigrationFile{}, fmt.Errorf("invalid migration version in %s: %w", filename, err)
	}

	return MigrationFile{
		Version:     version,
		Name:        strings.ReplaceAll(parts[2], "_", " "),
		Description: parts[2],
	}, nil
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// GetMigrationFiles lists the SQL files of the migration directory. A missing
// directory has no migrations.
func (mr *MigrationRunner) GetMigrationFiles() ([]MigrationFile, error) {
	entries, err := os.ReadDir(mr.migrationDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var files []MigrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		file, err := parseMigrationFile(entry.Name())
		if err != nil {
			return nil, err
		}
		file.FilePath = filepath.Join(mr.migrationDir, entry.Name())

		content, err := os.ReadFile(file.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file: %w", err)
		}
		file.Checksum = checksum(content)

		files = append(files, file)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// GetAppliedMigrations returns applied migrations keyed by version
func (mr *MigrationRunner) GetAppliedMigrations(ctx context.Context) (map[string]Migration, error) {
	if err := mr.table(ctx).AutoMigrate(&Migration{}); err != nil {
		return nil, fmt.Errorf("failed to initialize migration table: %w", err)
	}

	var rows []Migration
	if err := mr.table(ctx).Where("applied = ?", true).Order("version ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	applied := make(map[string]Migration, len(rows))
	for _, row := range rows {
		applied[row.Version] = row
	}
	return applied, nil
}

// GetPendingMigrations returns files without an applied row, in version order
func (mr *MigrationRunner) GetPendingMigrations(ctx context.Context) ([]MigrationFile, error) {
	status, err := mr.GetMigrationStatus(ctx)
	if err != nil {
		return nil, err
	}

	var pending []MigrationFile
	for _, file := range status {
		if !file.Applied {
			pending = append(pending, file)
		}
	}
	return pending, nil
}

// GetMigrationStatus returns every migration file with its applied state
func (mr *MigrationRunner) GetMigrationStatus(ctx context.Context) ([]MigrationFile, error) {
	files, err := mr.GetMigrationFiles()
	if err != nil {
		return nil, err
	}

	applied, err := mr.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	for i := range files {
		row, ok := applied[files[i].Version]
		files[i].Applied = ok
		// rows written before checksums were recorded have none to compare
		files[i].Modified = ok && row.Checksum != "" && row.Checksum != files[i].Checksum
	}
	return files, nil
}

// RunMigrations migrates the telemetry models when auto_migrate is on, then
// executes all pending SQL migrations, each in its own transaction
func (mr *MigrationRunner) RunMigrations(ctx context.Context) error {
	if mr.autoMigrate {
		mr.log.Info("auto-migrating telemetry tables", zap.Int("models", len(models.GetAllModels())))
		if err := AutoMigrate(mr.db.WithContext(ctx)); err != nil {
			return err
		}
	}

	pending, err := mr.GetPendingMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get pending migrations: %w", err)
	}

	if len(pending) == 0 {
		mr.log.Info("no pending migrations")
		return nil
	}

	for _, file := range pending {
		if err := mr.apply(ctx, file); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", file.Version, err)
		}
	}

	mr.log.Info("migrations applied", zap.Int("count", len(pending)))
	return nil
}

func (mr *MigrationRunner) apply(ctx context.Context, file MigrationFile) error {
	mr.log.Info("running migration", zap.String("version", file.Version), zap.String("name", file.Name))

	content, err := os.ReadFile(file.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	return mr.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(string(content)).Error; err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}

		now := time.Now().UTC()
		row := Migration{
			Version:     file.Version,
			Name:        file.Name,
			Checksum:    checksum(content),
			Applied:     true,
			AppliedAt:   &now,
			Description: file.Description,
		}
		if err := tx.Table(mr.migrationTable).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		return nil
	})
}

// CreateMigration writes an empty migration file stamped with the current time
func (mr *MigrationRunner) CreateMigration(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("migration name is required")
	}
	if err := os.MkdirAll(mr.migrationDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create migrations directory: %w", err)
	}

	now := time.Now()
	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	path := filepath.Join(mr.migrationDir, fmt.Sprintf("%s_%s.sql", now.Format(versionLayout), slug))

	body := fmt.Sprintf(`-- Migration: %s
-- Created: %s

-- e.g. CREATE INDEX idx_readings_recorded_at ON readings (recorded_at);
`, name, now.Format(time.RFC3339))

	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return "", fmt.Errorf("failed to create migration file: %w", err)
	}
	return path, nil
}
