package database_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"sensor_telemetry/config"
	"sensor_telemetry/database"
	"sensor_telemetry/database/dbtest"
	"sensor_telemetry/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func migrationConfig(dir string) *config.Config {
	return &config.Config{Migration: config.MigrationConfig{
		AutoMigrate:    true,
		MigrationTable: "schema_migrations",
		MigrationDir:   dir,
	}}
}

func TestRunMigrations_AppliesModelsAndSQLFiles(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20250101_000000_readings_recorded_at.sql"),
		[]byte("CREATE INDEX idx_readings_recorded_at ON readings (recorded_at);"), 0644))

	runner := database.NewMigrationRunner(db, migrationConfig(dir))
	require.NoError(t, runner.RunMigrations(ctx))

	for _, m := range models.GetAllModels() {
		assert.True(t, db.Migrator().HasTable(m))
	}
	assert.True(t, db.Migrator().HasTable("schema_migrations"))
	assert.True(t, db.Migrator().HasIndex(&models.Reading{}, "idx_readings_recorded_at"))

	status, err := runner.GetMigrationStatus(ctx)
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.True(t, status[0].Applied)
	assert.False(t, status[0].Modified)
	assert.Equal(t, "readings recorded at", status[0].Name)

	// second run finds nothing pending
	pending, err := runner.GetPendingMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	require.NoError(t, runner.RunMigrations(ctx))
}

func TestGetMigrationStatus_FlagsEditedFile(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "20250101_000000_noop.sql")
	require.NoError(t, os.WriteFile(path, []byte("SELECT 1;"), 0644))

	runner := database.NewMigrationRunner(db, migrationConfig(dir))
	require.NoError(t, runner.RunMigrations(ctx))

	require.NoError(t, os.WriteFile(path, []byte("SELECT 2;"), 0644))

	status, err := runner.GetMigrationStatus(ctx)
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.True(t, status[0].Applied)
	assert.True(t, status[0].Modified)
}

func TestGetMigrationFiles_RejectsBadName(t *testing.T) {
	for _, name := range []string{"bad.sql", "2025_0101_x.sql", "20250101_000000_.sql"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0644))

			runner := database.NewMigrationRunner(nil, migrationConfig(dir))
			_, err := runner.GetMigrationFiles()
			assert.Error(t, err)
		})
	}
}

func TestGetMigrationFiles_MissingDirectory(t *testing.T) {
	runner := database.NewMigrationRunner(nil, migrationConfig(filepath.Join(t.TempDir(), "none")))
	files, err := runner.GetMigrationFiles()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestCreateMigration_WritesTemplate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "migrations")
	runner := database.NewMigrationRunner(nil, migrationConfig(dir))

	path, err := runner.CreateMigration("Add Sensor Index")
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(path), "_add_sensor_index.sql")

	files, err := runner.GetMigrationFiles()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "add sensor index", files[0].Name)

	_, err = runner.CreateMigration("  ")
	assert.Error(t, err)
}
