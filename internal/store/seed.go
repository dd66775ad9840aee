package store

import (
	"context"
	"fmt"

	"navrecon/internal/types"
)

// Insert methods used by the seed command and tests. Each is an upsert so
// re-seeding is safe.

func (s *Store) InsertGLBalance(ctx context.Context, account, date, system, glAccount, category string, balance float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO gl_balances
			(account, valuation_dt, system, gl_account, category, balance)
		VALUES (?, ?, ?, ?, ?, ?)`,
		account, date, system, glAccount, category, balance)
	if err != nil {
		return fmt.Errorf("insert gl balance: %w", err)
	}
	return nil
}

func (s *Store) InsertPosition(ctx context.Context, account, date string, p types.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO positions
			(account, valuation_dt, system, asset_id, shares, market_value_base,
			 book_value_base, income_base, market_price, currency, security_type, security_desc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account, date, p.System, p.AssetID, p.Shares, p.MarketValueBase,
		p.BookValueBase, p.IncomeBase, p.MarketPrice, p.Currency,
		p.SecurityType, p.SecurityDescription)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

func (s *Store) InsertTransaction(ctx context.Context, account string, t types.Txn) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO transactions
			(transaction_id, system, account, asset_id, trans_code, trade_date,
			 settle_date, units, amount_base, currency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TransactionID, t.System, account, t.AssetID, t.TransCode, t.TradeDate,
		t.SettleDate, t.Units, t.AmountBase, t.Currency)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *Store) InsertCategoryMapping(ctx context.Context, account, cpuCategory, incumbentCategory string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO gl_category_map
			(account, cpu_category, incumbent_category)
		VALUES (?, ?, ?)`,
		account, cpuCategory, incumbentCategory)
	if err != nil {
		return fmt.Errorf("insert category mapping: %w", err)
	}
	return nil
}

func (s *Store) InsertPattern(ctx context.Context, p types.Pattern, category, fundType string, minVariance, maxVariance float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO break_patterns
			(pattern_id, pattern_name, break_category, fund_type, min_variance,
			 max_variance, occurrence_count, avg_confidence, resolution_template)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.PatternID, p.PatternName, category, fundType, minVariance, maxVariance,
		p.OccurrenceCount, p.AvgConfidence, p.ResolutionTemplate)
	if err != nil {
		return fmt.Errorf("insert pattern: %w", err)
	}
	return nil
}

func (s *Store) InsertHistoricalBreak(ctx context.Context, account, date, status string, b types.HistoricalBreak) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO break_instances
			(break_id, account, valuation_dt, break_category, variance_absolute,
			 root_cause_summary, confidence_score, status, resolution_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.BreakID, account, date, b.Category, b.VarianceAbsolute,
		b.RootCauseSummary, b.Confidence, status, b.ResolutionType)
	if err != nil {
		return fmt.Errorf("insert historical break: %w", err)
	}
	return nil
}

// SeedDemo loads a self-consistent demo scenario: one fund with a
// position-driven NAV break traceable to a stale equity price, plus the
// pattern library and resolved history the pattern stage matches against.
func (s *Store) SeedDemo(ctx context.Context) error {
	const (
		account = "FUND01"
		date    = "2025-06-30"
	)

	glRows := []struct {
		system, glAccount, category string
		balance                     float64
	}{
		{types.SystemCPU, "1000", "ASSET", 105_050_000},
		{types.SystemCPU, "4000", "INCOME", 1_200_000},
		{types.SystemCPU, "5000", "EXPENSE", -350_000},
		{types.SystemCPU, "3000", "EQUITY", 104_700_000},
		{types.SystemIncumbent, "1000", "ASSET", 105_000_000},
		{types.SystemIncumbent, "4000", "INCOME", 1_200_000},
		{types.SystemIncumbent, "5000", "EXPENSE", -350_000},
		{types.SystemIncumbent, "3000", "EQUITY", 104_650_000},
	}
	for _, r := range glRows {
		if err := s.InsertGLBalance(ctx, account, date, r.system, r.glAccount, r.category, r.balance); err != nil {
			return err
		}
	}

	positions := []types.Position{
		{AssetID: "US0378331005", System: types.SystemCPU, Shares: 100_000,
			MarketValueBase: 1_050_000, MarketPrice: 10.50, Currency: "USD",
			SecurityType: "EQUITY", SecurityDescription: "APPLE INC"},
		{AssetID: "US0378331005", System: types.SystemIncumbent, Shares: 100_000,
			MarketValueBase: 1_000_000, MarketPrice: 10.00, Currency: "USD",
			SecurityType: "EQUITY", SecurityDescription: "APPLE INC"},
		{AssetID: "US5949181045", System: types.SystemCPU, Shares: 50_000,
			MarketValueBase: 2_500_000, MarketPrice: 50.00, Currency: "USD",
			SecurityType: "EQUITY", SecurityDescription: "MICROSOFT CORP"},
		{AssetID: "US5949181045", System: types.SystemIncumbent, Shares: 50_000,
			MarketValueBase: 2_500_000, MarketPrice: 50.00, Currency: "USD",
			SecurityType: "EQUITY", SecurityDescription: "MICROSOFT CORP"},
	}
	for _, p := range positions {
		if err := s.InsertPosition(ctx, account, date, p); err != nil {
			return err
		}
	}

	txns := []types.Txn{
		{TransactionID: "T-CPU-001", System: types.SystemCPU, AssetID: "US0378331005",
			TransCode: "BUY", TradeDate: "2025-06-27", Units: 10_000, AmountBase: -105_000, Currency: "USD"},
		{TransactionID: "T-INC-001", System: types.SystemIncumbent, AssetID: "US0378331005",
			TransCode: "BUY", TradeDate: "2025-06-27", Units: 10_000, AmountBase: -105_000, Currency: "USD"},
		{TransactionID: "T-CPU-002", System: types.SystemCPU, AssetID: "US0378331005",
			TransCode: "DIV", TradeDate: "2025-06-30", AmountBase: 1_000.00, Currency: "USD"},
		{TransactionID: "T-INC-002", System: types.SystemIncumbent, AssetID: "US0378331005",
			TransCode: "DIV", TradeDate: "2025-06-30", AmountBase: 1_000.50, Currency: "USD"},
	}
	for _, t := range txns {
		if err := s.InsertTransaction(ctx, account, t); err != nil {
			return err
		}
	}

	for _, category := range []string{"ASSET", "INCOME", "EXPENSE", "EQUITY"} {
		if err := s.InsertCategoryMapping(ctx, account, category, category); err != nil {
			return err
		}
	}

	patterns := []struct {
		p                        types.Pattern
		category, fundType       string
		minVariance, maxVariance float64
	}{
		{types.Pattern{PatternID: "PTN-PRICE-001", PatternName: "Stale vendor price on equity position",
			OccurrenceCount: 14, AvgConfidence: 0.88,
			ResolutionTemplate: "Refresh vendor price snap and re-run valuation"},
			"PRICING", "", 1_000, 10_000_000},
		{types.Pattern{PatternID: "PTN-TIME-001", PatternName: "Trade booked across valuation date boundary",
			OccurrenceCount: 9, AvgConfidence: 0.82,
			ResolutionTemplate: "Align trade date cutoff between systems"},
			"TIMING", "", 100, 1_000_000},
		{types.Pattern{PatternID: "PTN-DATA-001", PatternName: "Missing transaction feed record",
			OccurrenceCount: 6, AvgConfidence: 0.75,
			ResolutionTemplate: "Replay the transaction feed for the affected asset"},
			"DATA", "", 0, 1_000_000_000},
	}
	for _, e := range patterns {
		if err := s.InsertPattern(ctx, e.p, e.category, e.fundType, e.minVariance, e.maxVariance); err != nil {
			return err
		}
	}

	history := []types.HistoricalBreak{
		{BreakID: "BRK-2025-0412", Category: "PRICING", VarianceAbsolute: 32_500,
			RootCauseSummary: "Vendor price snap missed the 16:00 close for two equities",
			Confidence: 0.91, ResolutionType: "PRICE_REFRESH"},
		{BreakID: "BRK-2025-0388", Category: "DATA", VarianceAbsolute: 4_812.40,
			RootCauseSummary: "Dividend feed dropped one record during maintenance window",
			Confidence: 0.84, ResolutionType: "FEED_REPLAY"},
	}
	for i, b := range history {
		seedDate := fmt.Sprintf("2025-05-%02d", 10+i)
		if err := s.InsertHistoricalBreak(ctx, account, seedDate, "RESOLVED", b); err != nil {
			return err
		}
	}

	s.log.Info("demo data seeded")
	return nil
}
