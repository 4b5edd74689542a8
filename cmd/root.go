// Package cmd defines the CLI commands for the shopcrawler executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shopcrawler",
		Short: "A distributed crawl orchestration engine for storefront catalogs.",
		Long: `shopcrawler accepts crawl jobs over HTTP and executes them with a
shared worker pool: seeds are admitted into a per-domain frontier,
fetched under politeness limits, and discovered links are followed to
the job's depth limit. Results are queryable per job while it runs.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults apply when unset)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
