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

// newWorkerCmd creates the 'worker' subcommand, which runs the worker
// pool without the HTTP API. It only makes sense against shared backends;
// with the in-memory store it would never see submitted jobs.
func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Runs the worker pool without the HTTP API",
		Long: `Starts the frontier, the politeness controller, and the worker pool
against the configured store and dedup backends, without the submission
API. Use it to scale fetch capacity separately from the API process.`,
		RunE: runWorker,
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Provider == "memory" {
		return fmt.Errorf("worker requires a shared store, got store.provider=memory")
	}
	logger, err := logging.New("worker", cfg.Logging.Development)
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

	if err := a.RunWorker(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
