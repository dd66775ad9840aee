package types

import (
	"context"
)

// System identifiers for the two reconciled record-keeping systems.
const (
	SystemCPU       = "CPU"
	SystemIncumbent = "INCUMBENT"
)

// LedgerStore provides GL, position, and transaction data for both systems.
// Every fetch is best-effort from the engine's perspective: a returned error
// is treated at the call site as an empty result, never as a fatal condition.
type LedgerStore interface {
	// FetchGLBalances returns GL balances grouped by category for one system.
	FetchGLBalances(ctx context.Context, account, date, system string) ([]CategoryBalance, error)
	// FetchPositions returns sub-ledger positions for both systems.
	FetchPositions(ctx context.Context, account, date string) ([]Position, error)
	// FetchTransactions returns transactions for one asset, both systems.
	FetchTransactions(ctx context.Context, account, asset, date string) ([]Txn, error)
}

// CategoryMapper cross-maps GL category names between the two systems.
type CategoryMapper interface {
	// MapGLCategories returns CPU category -> incumbent category for the account.
	MapGLCategories(ctx context.Context, account string) (map[string]string, error)
}

// PatternStore looks up historical break patterns and similar resolved breaks.
type PatternStore interface {
	SearchPatterns(ctx context.Context, category string, variance float64, fundType string) ([]Pattern, error)
	FindSimilarBreaks(ctx context.Context, account string) ([]HistoricalBreak, error)
}

// Reasoner is the narrow interface to the natural-language reasoning step.
// Implementations may call an LLM; the engine never depends on that. Both
// calls must be given a deterministic fallback at every call site so the
// core stays fully testable with the Reasoner stubbed out.
type Reasoner interface {
	// Classify returns exactly one of categories for the given text.
	Classify(ctx context.Context, text string, categories []string) (string, error)
	// Summarize returns a plain-language summary for the given prompt.
	Summarize(ctx context.Context, prompt string) (string, error)
}
