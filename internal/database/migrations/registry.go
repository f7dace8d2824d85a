// Package migrations provides database migration management for vodarr.
package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/vodarr/internal/models"
)

// AllMigrations returns all registered migrations in order.
// - 001: Schema creation using GORM AutoMigrate
// - 002: Add output_path column for persisted fallback outputs
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002FallbackOutputPath(),
	}
}

// migration001Schema creates all database tables using GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create all database tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.ConversionRecord{},
			)
		},
		Down: func(tx *gorm.DB) error {
			tables := []string{
				"conversion_records",
			}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

// migration002FallbackOutputPath adds the output_path column to
// conversion_records. Earlier schemas recorded fallback conversions without
// pointing at the file they produced, which left the janitor unable to sweep
// orphaned outputs. Fresh installations get the column from migration 001.
func migration002FallbackOutputPath() Migration {
	return Migration{
		Version:     "002",
		Description: "Add output_path column to conversion_records",
		Up: func(tx *gorm.DB) error {
			if !tx.Migrator().HasColumn("conversion_records", "output_path") {
				if err := tx.Exec("ALTER TABLE conversion_records ADD COLUMN output_path VARCHAR(1024) NOT NULL DEFAULT ''").Error; err != nil {
					return err
				}
			}
			return nil
		},
		Down: func(tx *gorm.DB) error {
			// SQLite cannot drop a column directly, so the rollback rebuilds
			// the table without it.
			if tx.Migrator().HasColumn("conversion_records", "output_path") {
				queries := []string{
					"CREATE TABLE conversion_records_backup AS SELECT id, created_at, updated_at, deleted_at, session_id, source, container, video_codec, audio_codec, preset, quality, mode, final_state, attempts, chunks_appended, bytes_appended, source_duration, error, started_at, finished_at FROM conversion_records",
					"DROP TABLE conversion_records",
					"ALTER TABLE conversion_records_backup RENAME TO conversion_records",
					"CREATE UNIQUE INDEX idx_conversion_records_session_id ON conversion_records (session_id)",
				}
				for _, q := range queries {
					if err := tx.Exec(q).Error; err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}
