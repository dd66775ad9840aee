// Package txmatch implements fuzzy transaction matching between the two
// systems' feeds for one asset: clean matches, amount differences on
// matched pairs, and orphans present in one system only.
package txmatch

import (
	"math"

	"navrecon/internal/types"
)

// Amount tolerance for considering two transactions the same event:
// 0.1% of the CPU amount with a $1 floor. A matched pair whose amounts
// still differ by more than a cent is reported as an amount difference.
const (
	relTolerance   = 0.001
	floorTolerance = 1.0
	cleanThreshold = 0.01
)

// MatchResult describes one CPU transaction's classification.
type MatchResult struct {
	TransactionID   string  `json:"transaction_id"`
	TransCode       string  `json:"trans_code"`
	TradeDate       string  `json:"trade_date"`
	AssetID         string  `json:"asset_id,omitempty"`
	CPUAmount       float64 `json:"cpu_amount"`
	IncumbentAmount float64 `json:"incumbent_amount,omitempty"`
	Difference      float64 `json:"difference,omitempty"`
	System          string  `json:"system,omitempty"` // set for orphans
}

// Result partitions the CPU transaction set. Every CPU transaction appears
// in exactly one of the three lists.
type Result struct {
	Matched     []MatchResult
	AmountDiffs []MatchResult
	Orphans     []MatchResult
}

// Match classifies cpuTxns against incumbentTxns. Matching is greedy and
// not globally optimal: each CPU transaction scans the incumbent set in
// order and binds to the first unconsumed candidate with the same code,
// the same trade date, and an amount within tolerance. Acceptable for the
// aggregate-variance use case.
func Match(cpuTxns, incumbentTxns []types.Txn) Result {
	var res Result
	consumed := make([]bool, len(incumbentTxns))

	for _, txn := range cpuTxns {
		bound := false
		for i, inc := range incumbentTxns {
			if consumed[i] || !fuzzyMatch(txn, inc) {
				continue
			}
			consumed[i] = true
			bound = true

			rec := MatchResult{
				TransactionID:   txn.TransactionID,
				TransCode:       txn.TransCode,
				TradeDate:       txn.TradeDate,
				AssetID:         txn.AssetID,
				CPUAmount:       txn.AmountBase,
				IncumbentAmount: inc.AmountBase,
			}
			if diff := txn.AmountBase - inc.AmountBase; math.Abs(diff) > cleanThreshold {
				rec.Difference = diff
				res.AmountDiffs = append(res.AmountDiffs, rec)
			} else {
				res.Matched = append(res.Matched, rec)
			}
			break
		}

		if !bound {
			system := txn.System
			if system == "" {
				system = types.SystemCPU
			}
			res.Orphans = append(res.Orphans, MatchResult{
				TransactionID: txn.TransactionID,
				TransCode:     txn.TransCode,
				TradeDate:     txn.TradeDate,
				AssetID:       txn.AssetID,
				CPUAmount:     txn.AmountBase,
				System:        system,
			})
		}
	}

	return res
}

// fuzzyMatch reports whether the two transactions describe the same event.
func fuzzyMatch(a, b types.Txn) bool {
	if a.TransCode != b.TransCode {
		return false
	}
	if a.TradeDate != b.TradeDate {
		return false
	}
	tol := math.Max(math.Abs(a.AmountBase)*relTolerance, floorTolerance)
	return math.Abs(a.AmountBase-b.AmountBase) <= tol
}
