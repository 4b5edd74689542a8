package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/marketmap/shopcrawler/internal/config"
	"github.com/marketmap/shopcrawler/internal/logging"
	"github.com/marketmap/shopcrawler/internal/storage/postgres"
)

// newMigrateCmd creates the 'migrate' subcommand, which applies the
// Postgres schema and exits. Serve also ensures the schema on startup;
// this command exists for deployments where the service user lacks DDL
// privileges and migrations run separately.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the database schema and exits",
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Provider != "postgres" {
		return fmt.Errorf("migrate requires store.provider=postgres, got %q", cfg.Store.Provider)
	}
	logger, err := logging.New("migrate", cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx := cmd.Context()
	pool, err := postgres.Connect(ctx, postgres.Config{DSN: cfg.Store.DSN})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	logger.Info("schema applied", zap.String("store", cfg.Store.Provider))
	return nil
}
