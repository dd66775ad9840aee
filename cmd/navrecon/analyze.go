package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"navrecon/internal/engine"
	"navrecon/internal/reasoner"
	"navrecon/internal/store"
	"navrecon/internal/types"
)

var (
	alertFile string
	jsonOut   bool

	// Inline alert flags, used when no alert file is given.
	flagBreakID       string
	flagAccount       string
	flagShareClass    string
	flagValuationDate string
	flagCPUNAV        float64
	flagIncumbentNAV  float64
	flagShares        float64
	flagFundType      string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the drill-down analysis for one NAV break",
	Long: `Runs the full hierarchical drill-down for a break alert and prints the
resulting report. The alert comes either from --alert-file (a JSON file)
or from the inline flags.

Example:
  navrecon analyze --break-id BRK-2025-001 --account FUND01 \
    --valuation-date 2025-06-30 --cpu-nav 105050000 --incumbent-nav 105000000 \
    --shares 5000000`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&alertFile, "alert-file", "", "JSON file containing the break alert")
	analyzeCmd.Flags().BoolVar(&jsonOut, "json", false, "print the full run state as JSON")
	analyzeCmd.Flags().StringVar(&flagBreakID, "break-id", "", "break identifier")
	analyzeCmd.Flags().StringVar(&flagAccount, "account", "", "fund account")
	analyzeCmd.Flags().StringVar(&flagShareClass, "share-class", "A", "share class")
	analyzeCmd.Flags().StringVar(&flagValuationDate, "valuation-date", "", "valuation date (YYYY-MM-DD)")
	analyzeCmd.Flags().Float64Var(&flagCPUNAV, "cpu-nav", 0, "CPU system NAV")
	analyzeCmd.Flags().Float64Var(&flagIncumbentNAV, "incumbent-nav", 0, "incumbent system NAV")
	analyzeCmd.Flags().Float64Var(&flagShares, "shares", 0, "shares outstanding")
	analyzeCmd.Flags().StringVar(&flagFundType, "fund-type", "", "fund type (e.g. EQUITY, FIXED_INCOME)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	alert, err := loadAlert()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open reconciliation database: %w", err)
	}
	defer st.Close()

	eng := engine.New(st, st, st, buildReasoner(ctx), cfg.Thresholds, logger)
	state := eng.RunDrillDown(ctx, alert)

	if err := st.SaveRun(ctx, state); err != nil {
		logger.Warn("failed to persist run", zap.Error(err))
	}

	if jsonOut {
		return printJSON(state)
	}
	printReport(state)
	return nil
}

// buildReasoner returns the Gemini-backed reasoner when an API key is
// configured, and the disabled stand-in otherwise. The engine degrades to
// deterministic fallbacks with the stand-in, so analysis still works offline.
// Live calls are deadline-bounded so a hung backend degrades the run instead
// of suspending it.
func buildReasoner(ctx context.Context) types.Reasoner {
	if cfg.Reasoner.APIKey == "" {
		logger.Info("no reasoner API key configured, using deterministic fallbacks")
		return reasoner.Disabled{}
	}
	r, err := reasoner.NewGemini(ctx, cfg.Reasoner.APIKey, cfg.Reasoner.Model, logger)
	if err != nil {
		logger.Warn("reasoner unavailable, using deterministic fallbacks", zap.Error(err))
		return reasoner.Disabled{}
	}
	return reasoner.WithTimeout(r, cfg.Reasoner.Timeout())
}

func loadAlert() (*types.BreakAlert, error) {
	if alertFile != "" {
		data, err := os.ReadFile(alertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read alert file: %w", err)
		}
		var alert types.BreakAlert
		if err := json.Unmarshal(data, &alert); err != nil {
			return nil, fmt.Errorf("failed to parse alert file: %w", err)
		}
		return &alert, nil
	}

	if flagBreakID == "" || flagAccount == "" || flagValuationDate == "" {
		return nil, fmt.Errorf("either --alert-file or --break-id, --account and --valuation-date are required")
	}

	alert := &types.BreakAlert{
		BreakID:           flagBreakID,
		Account:           flagAccount,
		ShareClass:        flagShareClass,
		ValuationDate:     flagValuationDate,
		CPUNAV:            flagCPUNAV,
		IncumbentNAV:      flagIncumbentNAV,
		SharesOutstanding: flagShares,
		FundType:          flagFundType,
	}
	alert.VarianceAbsolute = alert.CPUNAV - alert.IncumbentNAV
	if alert.IncumbentNAV != 0 {
		alert.VarianceRelative = alert.VarianceAbsolute / alert.IncumbentNAV
	}
	if alert.SharesOutstanding != 0 {
		alert.NAVPerShareVariance = alert.VarianceAbsolute / alert.SharesOutstanding
	}
	return alert, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(state *types.RunState) {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("NAV Break Analysis Report  (run %s)\n", state.RunID)
	fmt.Println(strings.Repeat("=", 72))

	if state.Alert != nil {
		a := state.Alert
		fmt.Printf("Break:      %s  %s/%s  %s\n", a.BreakID, a.Account, a.ShareClass, a.ValuationDate)
		fmt.Printf("NAV:        CPU %.2f vs Incumbent %.2f  (variance %.2f, %.4f%%)\n",
			a.CPUNAV, a.IncumbentNAV, a.VarianceAbsolute, a.VarianceRelative*100)
	}
	fmt.Printf("Strategy:   %s\n", state.Strategy)
	fmt.Printf("Outcome:    %s\n", state.Phase)
	fmt.Printf("Driver:     %s\n", state.PrimaryDriver)
	fmt.Printf("Category:   %s\n", orDash(state.BreakCategory))
	fmt.Printf("Confidence: %.0f%%\n", state.OverallConfidence*100)

	if len(state.RootCauses) > 0 {
		fmt.Println("\nRoot Causes:")
		for i, rc := range state.RootCauses {
			fmt.Printf("  %d. [%s, %.0f%%] %s\n", i+1, rc.Level, rc.Confidence*100, rc.Description)
			if rc.RecommendedAction != "" {
				fmt.Printf("     Action: %s\n", rc.RecommendedAction)
			}
		}
	}

	if state.ShouldEscalate {
		fmt.Println("\nEscalated to human review:")
		for _, r := range state.EscalationReasons {
			fmt.Printf("  - [%s] %s\n", r.Kind, r.Description)
		}
	}

	fmt.Println("\nNarrative:")
	fmt.Println(state.RootCauseNarrative)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
