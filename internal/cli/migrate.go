package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ssebridge/internal/config"
	"ssebridge/internal/database"
	"ssebridge/internal/database/migration"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the SQLite stats schema",
	Long: `Inspect or roll back the schema of the SQLite stats database (DB_PATH).
Pending migrations are always applied when the database is opened.

  ssebridge migrate status
  ssebridge migrate down --steps 1`,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current schema version",
	RunE:  runMigrateStatus,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back schema migrations",
	RunE:  runMigrateDown,
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateDownCmd.Flags().Int("steps", 1, "Number of migrations to roll back")
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	return withMigrations(cmd, func(ctx context.Context, m migration.IMigrationService) error {
		info, err := m.GetMigrationInfo(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version: %d, dirty: %t\n", info.Version, info.Dirty)
		return nil
	})
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	steps, _ := cmd.Flags().GetInt("steps")
	return withMigrations(cmd, func(ctx context.Context, m migration.IMigrationService) error {
		if err := m.Rollback(ctx, steps); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
		return nil
	})
}

// withMigrations 打开统计库并执行迁移操作
func withMigrations(cmd *cobra.Command, fn func(ctx context.Context, m migration.IMigrationService) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Stats.Backend != config.StatsBackendSQLite {
		return fmt.Errorf("migrations only apply to the %s stats backend, current backend is %s",
			config.StatsBackendSQLite, cfg.Stats.Backend)
	}

	logger, logCloser, err := newLogger(cfg, nil)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx := context.Background()
	db, err := database.InitializeWithOptions(ctx, database.Options{
		Path:      cfg.Database.Path,
		UsePureGo: cfg.Database.UsePureGo,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer database.Close(db)

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	service, err := database.NewMigrationService(sqlDB, logger)
	if err != nil {
		return err
	}
	defer service.Close()

	return fn(ctx, service)
}
