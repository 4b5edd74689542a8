package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/marketmap/shopcrawler/internal/app"
	"github.com/marketmap/shopcrawler/internal/config"
	"github.com/marketmap/shopcrawler/internal/logging"
)

// newServeCmd creates the 'serve' subcommand, which runs the full crawl
// service: the HTTP API, the job controller, and the worker pool.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the crawl API and worker pool",
		Long: `Starts the HTTP API for job submission together with the frontier,
the politeness controller, and the worker pool. Interrupted work from a
previous run is recovered from the configured store before workers start.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New("api", cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
