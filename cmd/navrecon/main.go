// navrecon is the NAV reconciliation break analysis CLI. It drives the
// drill-down engine against the reconciliation database: analyze a break,
// seed demo data, or replay a saved run.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"navrecon/internal/config"
	"navrecon/internal/logging"
)

var (
	// Global flags
	cfgPath  string
	dbPath   string
	logLevel string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "navrecon",
	Short: "NAV reconciliation break drill-down engine",
	Long: `navrecon investigates NAV breaks between the consolidated platform (CPU)
and the incumbent accounting system.

Given a break alert it drills down through four levels of evidence
(NAV, GL buckets, positions, transactions), dispatches domain specialists,
matches the break against the historical pattern library, and produces a
root cause report or an escalation to human review.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dbPath != "" {
			cfg.Database.Path = dbPath
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logger, err = logging.New(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "navrecon.yaml", "path to config file (missing file uses defaults)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "override reconciliation database path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(showCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
