package migrations

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/vodarr/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return db
}

func TestAllMigrations_ReturnsExpectedCount(t *testing.T) {
	migrations := AllMigrations()

	// Migrations:
	// 001: Create all database tables (schema)
	// 002: Add output_path column to conversion_records
	assert.Len(t, migrations, 2)
}

func TestAllMigrations_VersionsAreUnique(t *testing.T) {
	migrations := AllMigrations()
	versions := make(map[string]bool)

	for _, m := range migrations {
		assert.False(t, versions[m.Version], "duplicate version %s", m.Version)
		versions[m.Version] = true
		assert.NotEmpty(t, m.Description)
		assert.NotNil(t, m.Up)
	}
}

func TestMigrator_Up_AppliesAll(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	require.NoError(t, migrator.Up(ctx))

	// The schema exists and accepts writes.
	assert.True(t, db.Migrator().HasTable("conversion_records"))
	assert.True(t, db.Migrator().HasColumn("conversion_records", "output_path"))

	record := &models.ConversionRecord{
		SessionID:  "0b6d8f6e-4a50-4f2a-8f65-9a5cb1f7d8d1",
		Source:     "/media/movie.mkv",
		Mode:       models.ModeStreamed,
		FinalState: models.ConversionCompleted,
	}
	require.NoError(t, db.Create(record).Error)

	// All versions are tracked.
	var records []MigrationRecord
	require.NoError(t, db.Find(&records).Error)
	assert.Len(t, records, len(AllMigrations()))
}

func TestMigrator_Up_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	require.NoError(t, migrator.Up(ctx))
	require.NoError(t, migrator.Up(ctx))

	var count int64
	require.NoError(t, db.Model(&MigrationRecord{}).Count(&count).Error)
	assert.EqualValues(t, len(AllMigrations()), count)
}

func TestMigrator_Down_RollsBackLast(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	require.NoError(t, migrator.Up(ctx))
	require.NoError(t, migrator.Down(ctx))

	assert.False(t, db.Migrator().HasColumn("conversion_records", "output_path"))
	assert.True(t, db.Migrator().HasTable("conversion_records"))

	var count int64
	require.NoError(t, db.Model(&MigrationRecord{}).Count(&count).Error)
	assert.EqualValues(t, len(AllMigrations())-1, count)
}

func TestMigrator_Down_EmptyIsNoop(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	assert.NoError(t, migrator.Down(ctx))
}

func TestMigrator_Status(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	statuses, err := migrator.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, len(AllMigrations()))
	for _, s := range statuses {
		assert.False(t, s.Applied)
		assert.Nil(t, s.AppliedAt)
	}

	require.NoError(t, migrator.Up(ctx))

	statuses, err = migrator.Status(ctx)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.True(t, s.Applied, "migration %s not applied", s.Version)
		assert.NotNil(t, s.AppliedAt)
	}
}
