package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"navrecon/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo reconciliation data into the database",
	Long: `Populates the reconciliation database with a small demo data set:
one fund with GL balances, positions, and transactions that produce a
position-driven NAV break, plus a handful of historical break patterns.

Analyze the demo break with:
  navrecon analyze --break-id BRK-DEMO-001 --account FUND01 \
    --valuation-date 2025-06-30 --cpu-nav 105050000 --incumbent-nav 105000000 \
    --shares 5000000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Database.Path, logger)
		if err != nil {
			return fmt.Errorf("failed to open reconciliation database: %w", err)
		}
		defer st.Close()

		if err := st.SeedDemo(cmd.Context()); err != nil {
			return fmt.Errorf("failed to seed demo data: %w", err)
		}
		fmt.Printf("Demo data loaded into %s\n", cfg.Database.Path)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print a previously saved analysis run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Database.Path, logger)
		if err != nil {
			return fmt.Errorf("failed to open reconciliation database: %w", err)
		}
		defer st.Close()

		run, err := st.LoadRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(run)
		}
		printReport(run)
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&jsonOut, "json", false, "print the full run state as JSON")
}
