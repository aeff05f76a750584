package cmd

import (
	"context"
	"fmt"

	"botmaster/internal/config"
	"botmaster/internal/logger"
	"botmaster/internal/store/postgres"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or roll back the database schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(postgres.Up), string(postgres.Down)},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return runMigrate(cmd.Context(), cmd, cfg, postgres.Direction(args[0]))
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(ctx context.Context, cmd *cobra.Command, cfg *config.Config, dir postgres.Direction) error {
	log, closeLog, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()

	db, err := postgres.New(ctx, postgres.PoolConfig{
		DatabaseURL:    cfg.DatabaseURL,
		MaxOpenConns:   1,
		MaxIdleConns:   1,
		AcquireTimeout: cfg.DBAcquireTimeout,
		IdleTimeout:    cfg.DBIdleTimeout,
	}, log)
	if err != nil {
		return err
	}
	defer db.Close()

	schemaVersion, err := postgres.Migrate(db.DB(), dir)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", dir, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema is at version %d\n", schemaVersion)
	return nil
}
