package store

import (
	"context"
	"fmt"

	"navrecon/internal/types"
)

// FetchGLBalances returns GL balances grouped by category for one system,
// ordered by category for stable output.
func (s *Store) FetchGLBalances(ctx context.Context, account, date, system string) ([]types.CategoryBalance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, SUM(balance), COUNT(*)
		FROM gl_balances
		WHERE account = ? AND valuation_dt = ? AND system = ?
		GROUP BY category
		ORDER BY category`,
		account, date, system)
	if err != nil {
		return nil, fmt.Errorf("fetch gl balances: %w", err)
	}
	defer rows.Close()

	var out []types.CategoryBalance
	for rows.Next() {
		var b types.CategoryBalance
		if err := rows.Scan(&b.Category, &b.TotalBalance, &b.AccountCount); err != nil {
			return nil, fmt.Errorf("scan gl balance: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// FetchPositions returns sub-ledger positions for both systems, ordered by
// asset then system.
func (s *Store) FetchPositions(ctx context.Context, account, date string) ([]types.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT asset_id, system, shares, market_value_base, book_value_base,
		       income_base, market_price, currency, security_type, security_desc
		FROM positions
		WHERE account = ? AND valuation_dt = ?
		ORDER BY asset_id, system`,
		account, date)
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}
	defer rows.Close()

	var out []types.Position
	for rows.Next() {
		var p types.Position
		if err := rows.Scan(&p.AssetID, &p.System, &p.Shares, &p.MarketValueBase,
			&p.BookValueBase, &p.IncomeBase, &p.MarketPrice, &p.Currency,
			&p.SecurityType, &p.SecurityDescription); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FetchTransactions returns transactions for one asset across both systems,
// ordered by trade date then transaction id.
func (s *Store) FetchTransactions(ctx context.Context, account, asset, date string) ([]types.Txn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, system, asset_id, trans_code, trade_date,
		       settle_date, units, amount_base, currency
		FROM transactions
		WHERE account = ? AND asset_id = ? AND trade_date <= ?
		ORDER BY trade_date, transaction_id`,
		account, asset, date)
	if err != nil {
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}
	defer rows.Close()

	var out []types.Txn
	for rows.Next() {
		var t types.Txn
		if err := rows.Scan(&t.TransactionID, &t.System, &t.AssetID, &t.TransCode,
			&t.TradeDate, &t.SettleDate, &t.Units, &t.AmountBase, &t.Currency); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MapGLCategories returns CPU category -> incumbent category for the account.
func (s *Store) MapGLCategories(ctx context.Context, account string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cpu_category, incumbent_category
		FROM gl_category_map
		WHERE account = ?`,
		account)
	if err != nil {
		return nil, fmt.Errorf("fetch category map: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var cpu, incumbent string
		if err := rows.Scan(&cpu, &incumbent); err != nil {
			return nil, fmt.Errorf("scan category mapping: %w", err)
		}
		out[cpu] = incumbent
	}
	return out, rows.Err()
}
