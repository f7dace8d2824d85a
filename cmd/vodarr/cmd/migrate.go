package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/database"
	"github.com/jmylchreest/vodarr/internal/database/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration commands",
	Long: `Commands for managing the vodarr database schema.

The serve command applies pending migrations automatically on startup;
these commands exist for operating on the schema without running the
server.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE:  runMigrateDown,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE:  runMigrateStatus,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

// openMigrator connects to the configured database and returns a migrator
// with all known migrations registered. The caller closes the database.
func openMigrator() (*migrations.Migrator, *database.DB, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	db, err := database.New(cfg.Database, slog.Default(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing database: %w", err)
	}
	m := migrations.NewMigrator(db.DB, slog.Default())
	m.RegisterAll(migrations.AllMigrations())
	return m, db, nil
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	m, db, err := openMigrator()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := m.Up(cmd.Context()); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	m, db, err := openMigrator()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := m.Down(cmd.Context()); err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	m, db, err := openMigrator()
	if err != nil {
		return err
	}
	defer db.Close()

	statuses, err := m.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}

	for _, s := range statuses {
		marker := "pending"
		if s.Applied {
			marker = "applied"
			if s.AppliedAt != nil {
				marker = "applied " + s.AppliedAt.Format(time.RFC3339)
			}
		}
		fmt.Printf("%-6s %-45s %s\n", s.Version, s.Description, marker)
	}
	return nil
}
