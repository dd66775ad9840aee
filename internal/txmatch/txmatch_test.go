package txmatch

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navrecon/internal/types"
)

func cpuTxn(id, code, date string, amount float64) types.Txn {
	return types.Txn{
		TransactionID: id, System: types.SystemCPU,
		TransCode: code, TradeDate: date, AmountBase: amount,
	}
}

func incTxn(id, code, date string, amount float64) types.Txn {
	return types.Txn{
		TransactionID: id, System: types.SystemIncumbent,
		TransCode: code, TradeDate: date, AmountBase: amount,
	}
}

func TestMatchCleanPair(t *testing.T) {
	res := Match(
		[]types.Txn{cpuTxn("T1", "BUY", "2026-08-14", 50000)},
		[]types.Txn{incTxn("I1", "BUY", "2026-08-14", 50000.005)},
	)
	require.Len(t, res.Matched, 1)
	assert.Empty(t, res.AmountDiffs)
	assert.Empty(t, res.Orphans)
	assert.Equal(t, "T1", res.Matched[0].TransactionID)
}

// Same DIV on the same date, amounts 1000.00 vs 1000.50: within the
// max(0.1%, $1) tolerance so it binds, but over the one-cent cleanliness
// threshold, so it is an amount difference with delta -0.50.
func TestMatchAmountDifferenceWithinTolerance(t *testing.T) {
	res := Match(
		[]types.Txn{cpuTxn("T1", "DIV", "2026-08-14", 1000.00)},
		[]types.Txn{incTxn("I1", "DIV", "2026-08-14", 1000.50)},
	)
	require.Len(t, res.AmountDiffs, 1)
	assert.Empty(t, res.Matched)
	assert.Empty(t, res.Orphans)
	assert.InDelta(t, -0.50, res.AmountDiffs[0].Difference, 1e-9)
	assert.Equal(t, 1000.00, res.AmountDiffs[0].CPUAmount)
	assert.Equal(t, 1000.50, res.AmountDiffs[0].IncumbentAmount)
}

func TestMatchOrphans(t *testing.T) {
	tests := []struct {
		name string
		inc  types.Txn
	}{
		{"code mismatch", incTxn("I1", "SELL", "2026-08-14", 1000)},
		{"date mismatch", incTxn("I1", "BUY", "2026-08-15", 1000)},
		{"amount outside tolerance", incTxn("I1", "BUY", "2026-08-14", 1002)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Match(
				[]types.Txn{cpuTxn("T1", "BUY", "2026-08-14", 1000)},
				[]types.Txn{tt.inc},
			)
			require.Len(t, res.Orphans, 1)
			assert.Equal(t, types.SystemCPU, res.Orphans[0].System)
		})
	}
}

func TestMatchToleranceScalesWithAmount(t *testing.T) {
	// 0.1% of 5,000,000 is 5,000: a 4,000 difference still binds.
	res := Match(
		[]types.Txn{cpuTxn("T1", "SELL", "2026-08-14", 5_000_000)},
		[]types.Txn{incTxn("I1", "SELL", "2026-08-14", 4_996_000)},
	)
	require.Len(t, res.AmountDiffs, 1)
	assert.InDelta(t, 4000, res.AmountDiffs[0].Difference, 1e-6)
}

func TestMatchIncumbentConsumedOnce(t *testing.T) {
	// Two identical CPU txns, one incumbent: greedy binding consumes the
	// incumbent for the first and orphans the second.
	res := Match(
		[]types.Txn{
			cpuTxn("T1", "DIV", "2026-08-14", 100),
			cpuTxn("T2", "DIV", "2026-08-14", 100),
		},
		[]types.Txn{incTxn("I1", "DIV", "2026-08-14", 100)},
	)
	require.Len(t, res.Matched, 1)
	require.Len(t, res.Orphans, 1)
	assert.Equal(t, "T1", res.Matched[0].TransactionID)
	assert.Equal(t, "T2", res.Orphans[0].TransactionID)
}

// Every CPU transaction lands in exactly one of {matched, diffs, orphans}
// for arbitrary synthetic inputs.
func TestMatchClassificationExhaustive(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	codes := []string{"BUY", "SELL", "DIV", "INT", "SPLIT"}
	dates := []string{"2026-08-13", "2026-08-14"}

	for trial := 0; trial < 200; trial++ {
		var cpu, inc []types.Txn
		for i := 0; i < rng.Intn(12); i++ {
			cpu = append(cpu, cpuTxn(
				fmt.Sprintf("T%d", i),
				codes[rng.Intn(len(codes))],
				dates[rng.Intn(len(dates))],
				float64(rng.Intn(20000))/10,
			))
		}
		for i := 0; i < rng.Intn(12); i++ {
			inc = append(inc, incTxn(
				fmt.Sprintf("I%d", i),
				codes[rng.Intn(len(codes))],
				dates[rng.Intn(len(dates))],
				float64(rng.Intn(20000))/10,
			))
		}

		res := Match(cpu, inc)
		require.Equal(t, len(cpu),
			len(res.Matched)+len(res.AmountDiffs)+len(res.Orphans))

		seen := map[string]int{}
		for _, m := range res.Matched {
			seen[m.TransactionID]++
		}
		for _, m := range res.AmountDiffs {
			seen[m.TransactionID]++
		}
		for _, m := range res.Orphans {
			seen[m.TransactionID]++
		}
		for id, n := range seen {
			require.Equal(t, 1, n, "txn %s classified %d times", id, n)
		}
	}
}

func TestOrphanAction(t *testing.T) {
	assert.Contains(t, OrphanAction("DIV"), "timing")
	assert.Contains(t, OrphanAction("INT"), "timing")
	assert.Contains(t, OrphanAction("BUY"), "feed completeness")
	assert.Contains(t, OrphanAction("SPLIT"), "corporate action")
	assert.Contains(t, OrphanAction("XYZ"), "Manual investigation")
}

func TestDiffAction(t *testing.T) {
	assert.Contains(t, DiffAction("INT"), "accrual")
	assert.Contains(t, DiffAction("SELL"), "FX rates")
	assert.Contains(t, DiffAction("XYZ"), "field by field")
}

func TestIsCorporateAction(t *testing.T) {
	for _, code := range []string{"SPLIT", "SPINOFF", "CALL", "MAT", "MERGER"} {
		assert.True(t, IsCorporateAction(code), code)
	}
	assert.False(t, IsCorporateAction("DIV"))
	assert.False(t, IsCorporateAction(""))
}
