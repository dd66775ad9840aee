package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"navrecon/internal/config"
	"navrecon/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeBackend stubs the ledger, category map, and pattern library in one
// place so table setups stay compact.
type fakeBackend struct {
	glBySystem map[string][]types.CategoryBalance
	positions  []types.Position
	txns       []types.Txn
	mapping    map[string]string
	patterns   []types.Pattern
	similar    []types.HistoricalBreak

	glErr  error
	posErr error
	txnErr error
}

func (f *fakeBackend) FetchGLBalances(_ context.Context, _, _, system string) ([]types.CategoryBalance, error) {
	if f.glErr != nil {
		return nil, f.glErr
	}
	return f.glBySystem[system], nil
}

func (f *fakeBackend) FetchPositions(context.Context, string, string) ([]types.Position, error) {
	if f.posErr != nil {
		return nil, f.posErr
	}
	return f.positions, nil
}

func (f *fakeBackend) FetchTransactions(context.Context, string, string, string) ([]types.Txn, error) {
	if f.txnErr != nil {
		return nil, f.txnErr
	}
	return f.txns, nil
}

func (f *fakeBackend) MapGLCategories(context.Context, string) (map[string]string, error) {
	return f.mapping, nil
}

func (f *fakeBackend) SearchPatterns(context.Context, string, float64, string) ([]types.Pattern, error) {
	return f.patterns, nil
}

func (f *fakeBackend) FindSimilarBreaks(context.Context, string) ([]types.HistoricalBreak, error) {
	return f.similar, nil
}

// downReasoner fails every call, forcing the deterministic fallbacks.
type downReasoner struct{}

func (downReasoner) Classify(context.Context, string, []string) (string, error) {
	return "", errors.New("reasoner unavailable")
}

func (downReasoner) Summarize(context.Context, string) (string, error) {
	return "", errors.New("reasoner unavailable")
}

func newTestEngine(backend *fakeBackend) *Engine {
	return New(backend, backend, backend, downReasoner{},
		config.DefaultConfig().Thresholds, zap.NewNop())
}

func materialAlert() *types.BreakAlert {
	return &types.BreakAlert{
		BreakID:             "BRK-2025-001",
		Account:             "FUND01",
		ShareClass:          "A",
		ValuationDate:       "2025-06-30",
		CPUNAV:              105_050_000,
		IncumbentNAV:        105_000_000,
		VarianceAbsolute:    50_000,
		VarianceRelative:    0.00047,
		SharesOutstanding:   5_000_000,
		NAVPerShareVariance: 0.01,
		FundType:            "EQUITY",
	}
}

func TestRunDrillDownMissingAlert(t *testing.T) {
	e := newTestEngine(&fakeBackend{})

	for name, alert := range map[string]*types.BreakAlert{
		"nil":            nil,
		"blank break id": {Account: "FUND01"},
	} {
		t.Run(name, func(t *testing.T) {
			state := e.RunDrillDown(context.Background(), alert)

			assert.Equal(t, types.PhaseCompleted, state.Phase)
			assert.Empty(t, state.AllFindings)
			assert.False(t, state.ShouldEscalate)
			require.NotEmpty(t, state.Trace)
			assert.Equal(t, "error", state.Trace[0].Action)
		})
	}
}

func TestRunDrillDownImmaterialShortCircuit(t *testing.T) {
	// Per-share variance under the half-cent threshold ends the run after
	// L0 even though the relative variance exceeds the relative threshold.
	backend := &fakeBackend{}
	e := newTestEngine(backend)

	alert := materialAlert()
	alert.VarianceAbsolute = 12_600
	alert.VarianceRelative = 0.00012
	alert.NAVPerShareVariance = 0.00245

	state := e.RunDrillDown(context.Background(), alert)

	assert.Equal(t, types.PhaseCompleted, state.Phase)
	assert.Equal(t, types.StrategyStandardDrillDown, state.Strategy)
	require.NotNil(t, state.NAVVariance)
	assert.False(t, state.NAVVariance.IsMaterial)

	assert.Len(t, state.L0Findings, 1)
	assert.Empty(t, state.L1Findings)
	assert.Empty(t, state.L2Findings)
	assert.Empty(t, state.L3Findings)
	assert.Empty(t, state.SpecialistFindings)
	assert.Empty(t, state.PatternFindings)
	assert.False(t, state.PatternSearched)

	assert.False(t, state.ShouldEscalate)
	assert.Empty(t, state.EscalationReasons)
	assert.Len(t, state.RootCauses, 1)
	assert.Contains(t, state.RootCauseNarrative, "Analysis identified 1 root cause(s)")
}

func TestRunDrillDownNoBreakingBucketsIsNovel(t *testing.T) {
	// Material NAV break but every GL bucket agrees: L2/L3 are skipped,
	// the pattern stage still runs, and an empty pattern library makes
	// the break novel and escalates it.
	backend := &fakeBackend{
		glBySystem: map[string][]types.CategoryBalance{
			types.SystemCPU: {
				{Category: "ASSET", TotalBalance: 105_000_000, AccountCount: 3},
			},
			types.SystemIncumbent: {
				{Category: "ASSET", TotalBalance: 105_000_000, AccountCount: 3},
			},
		},
	}
	e := newTestEngine(backend)

	state := e.RunDrillDown(context.Background(), materialAlert())

	assert.Empty(t, state.BreakingBuckets)
	assert.Empty(t, state.L2Findings)
	assert.Empty(t, state.L3Findings)
	assert.Empty(t, state.SpecialistsInvoked())

	assert.True(t, state.PatternSearched)
	assert.Equal(t, "DATA", state.BreakCategory)
	require.Len(t, state.PatternFindings, 1)
	assert.Contains(t, state.PatternFindings[0].Description, "novel")

	assert.Equal(t, types.PhaseEscalated, state.Phase)
	kinds := make([]types.ReasonKind, 0, len(state.EscalationReasons))
	for _, r := range state.EscalationReasons {
		kinds = append(kinds, r.Kind)
	}
	assert.Contains(t, kinds, types.ReasonNovelPattern)
}

func TestRunDrillDownFullFlow(t *testing.T) {
	backend := &fakeBackend{
		glBySystem: map[string][]types.CategoryBalance{
			types.SystemCPU: {
				{Category: "ASSET", TotalBalance: 105_050_000, AccountCount: 3},
				{Category: "INCOME", TotalBalance: 10_000, AccountCount: 1},
			},
			types.SystemIncumbent: {
				{Category: "ASSET", TotalBalance: 105_000_000, AccountCount: 3},
				{Category: "INCOME", TotalBalance: 10_000, AccountCount: 1},
			},
		},
		positions: []types.Position{
			{AssetID: "US0378331005", System: types.SystemCPU, MarketValueBase: 1_050_000, MarketPrice: 10.50, Shares: 100_000, Currency: "USD"},
			{AssetID: "US0378331005", System: types.SystemIncumbent, MarketValueBase: 1_000_000, MarketPrice: 10.00, Shares: 100_000, Currency: "USD"},
			{AssetID: "US5949181045", System: types.SystemCPU, MarketValueBase: 500_000, Currency: "USD"},
			{AssetID: "US5949181045", System: types.SystemIncumbent, MarketValueBase: 500_000, Currency: "USD"},
		},
		txns: []types.Txn{
			{TransactionID: "T1", System: types.SystemCPU, AssetID: "US0378331005", TransCode: "BUY", TradeDate: "2025-06-25", AmountBase: 10_000},
			{TransactionID: "T1I", System: types.SystemIncumbent, AssetID: "US0378331005", TransCode: "BUY", TradeDate: "2025-06-25", AmountBase: 10_000},
			{TransactionID: "T2", System: types.SystemCPU, AssetID: "US0378331005", TransCode: "DIV", TradeDate: "2025-06-26", AmountBase: 1_000},
			{TransactionID: "T2I", System: types.SystemIncumbent, AssetID: "US0378331005", TransCode: "DIV", TradeDate: "2025-06-26", AmountBase: 1_000.50},
			{TransactionID: "T3", System: types.SystemCPU, AssetID: "US0378331005", TransCode: "SPLIT", TradeDate: "2025-06-27", AmountBase: 0},
		},
		patterns: []types.Pattern{
			{PatternID: "PTN-PRICE-001", PatternName: "Stale vendor price", OccurrenceCount: 14, AvgConfidence: 0.88, ResolutionTemplate: "Refresh price feed"},
		},
		similar: []types.HistoricalBreak{
			{BreakID: "BRK-2025-000", Category: "PRICING", ResolutionType: "PRICE_REFRESH"},
		},
	}
	e := newTestEngine(backend)

	alert := materialAlert()
	alert.VarianceRelative = 0.0012 // past the critical magnitude threshold

	state := e.RunDrillDown(context.Background(), alert)

	assert.Equal(t, types.StrategyCriticalFullDrillDown, state.Strategy)
	// ASSET dominates the CPU GL totals.
	assert.Equal(t, types.DriverPosition, state.PrimaryDriver)

	if diff := cmp.Diff([]string{"ASSET"}, state.BreakingBuckets); diff != "" {
		t.Errorf("breaking buckets mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, state.BreakingPositions, 1)
	assert.Equal(t, "US0378331005", state.BreakingPositions[0].AssetID)
	assert.InDelta(t, 50_000, state.BreakingPositions[0].VarianceAbsolute, 1e-9)
	assert.Equal(t, "USD", state.BreakingPositions[0].Currency)

	// T1 matches cleanly, T2 carries an amount difference, SPLIT is a
	// one-sided corporate action orphan.
	assert.Contains(t, state.MatchedTransactions, "T1")
	assert.Contains(t, state.AmountDifferences, "T2")
	assert.Contains(t, state.OrphanTransactions, "T3")

	// Income did not dominate, so the accrual specialist stays out.
	worklist := state.SpecialistsInvoked()
	assert.Contains(t, worklist, "PricingSpecialist")
	assert.Contains(t, worklist, "FXSpecialist")
	assert.Contains(t, worklist, "CorporateActionSpecialist")
	assert.NotContains(t, worklist, "AccrualSpecialist")
	assert.NotEmpty(t, state.SpecialistFindings)

	assert.True(t, state.PatternSearched)
	assert.Equal(t, []string{"PTN-PRICE-001"}, state.MatchedPatterns)
	assert.Equal(t, []string{"BRK-2025-000"}, state.SimilarBreaks)

	assert.Equal(t, types.PhaseEscalated, state.Phase)
	kinds := make([]types.ReasonKind, 0, len(state.EscalationReasons))
	for _, r := range state.EscalationReasons {
		kinds = append(kinds, r.Kind)
	}
	assert.Contains(t, kinds, types.ReasonCriticalMagnitude)
	assert.NotContains(t, kinds, types.ReasonNovelPattern)

	assert.NotEmpty(t, state.RootCauses)
	assert.True(t, strings.HasPrefix(state.RootCauseNarrative, "Analysis identified"))
	assert.Greater(t, state.OverallConfidence, 0.0)
}

func TestRunDrillDownFetchFailuresDegrade(t *testing.T) {
	// Every store call failing still produces a terminal run.
	backend := &fakeBackend{
		glErr:  errors.New("gl down"),
		posErr: errors.New("positions down"),
		txnErr: errors.New("transactions down"),
	}
	e := newTestEngine(backend)

	state := e.RunDrillDown(context.Background(), materialAlert())

	assert.True(t, state.Phase.Terminal())
	// No GL data and a failing reasoner default the driver.
	assert.Equal(t, types.DriverMultiFactor, state.PrimaryDriver)
	assert.Empty(t, state.BreakingBuckets)
	assert.True(t, state.PatternSearched)
}

func TestTriageStrategy(t *testing.T) {
	e := newTestEngine(&fakeBackend{})

	cases := []struct {
		name     string
		relative float64
		want     types.Strategy
	}{
		{"critical", 0.0012, types.StrategyCriticalFullDrillDown},
		{"critical negative", -0.0012, types.StrategyCriticalFullDrillDown},
		{"standard", 0.0003, types.StrategyStandardDrillDown},
		{"quick", 0.00005, types.StrategyQuickCheck},
		{"at critical boundary", 0.0005, types.StrategyStandardDrillDown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := e.triageStrategy(&types.BreakAlert{VarianceRelative: tc.relative})
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyDriverDominance(t *testing.T) {
	e := newTestEngine(&fakeBackend{})
	alert := &types.BreakAlert{VarianceAbsolute: 100}

	cases := []struct {
		name     string
		balances []types.CategoryBalance
		want     types.BreakDriver
	}{
		{
			"income dominant",
			[]types.CategoryBalance{{Category: "INCOME", TotalBalance: 60}},
			types.DriverIncome,
		},
		{
			"income checked before expense",
			[]types.CategoryBalance{
				{Category: "EXPENSE", TotalBalance: -80},
				{Category: "INCOME", TotalBalance: 60},
			},
			types.DriverIncome,
		},
		{
			"negative expense dominant",
			[]types.CategoryBalance{{Category: "EXPENSE", TotalBalance: -80}},
			types.DriverExpense,
		},
		{
			"asset dominant",
			[]types.CategoryBalance{{Category: "ASSET", TotalBalance: 90}},
			types.DriverPosition,
		},
		{
			"equity dominant",
			[]types.CategoryBalance{{Category: "EQUITY", TotalBalance: 55}},
			types.DriverCapitalActivity,
		},
		{
			"nothing dominant",
			[]types.CategoryBalance{
				{Category: "INCOME", TotalBalance: 10},
				{Category: "ASSET", TotalBalance: 20},
			},
			types.DriverMultiFactor,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := e.classifyDriver(context.Background(), alert, tc.balances, zap.NewNop())
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGLVariancesMapsIncumbentCategories(t *testing.T) {
	e := newTestEngine(&fakeBackend{})

	cpu := []types.CategoryBalance{
		{Category: "ASSET", TotalBalance: 1_000_000},
		{Category: "INCOME", TotalBalance: 5_000},
	}
	incumbent := []types.CategoryBalance{
		{Category: "TOTAL_ASSETS", TotalBalance: 998_000},
		{Category: "INCOME", TotalBalance: 5_000},
	}
	mapping := map[string]string{"ASSET": "TOTAL_ASSETS"}

	variances := e.glVariances(cpu, incumbent, mapping)
	require.Len(t, variances, 2)

	// Sorted by CPU category name after translation.
	assert.Equal(t, "ASSET", variances[0].Component)
	assert.InDelta(t, 2_000, variances[0].VarianceAbsolute, 1e-9)
	assert.True(t, variances[0].IsMaterial)

	assert.Equal(t, "INCOME", variances[1].Component)
	assert.False(t, variances[1].IsMaterial)
}

func TestPositionVariancesOneSidedHolding(t *testing.T) {
	e := newTestEngine(&fakeBackend{})

	variances := e.positionVariances([]types.Position{
		{AssetID: "ONLY_CPU", System: types.SystemCPU, MarketValueBase: 42_000},
		{AssetID: "BOTH", System: types.SystemCPU, MarketValueBase: 10_000},
		{AssetID: "BOTH", System: types.SystemIncumbent, MarketValueBase: 8_000},
	})
	require.Len(t, variances, 2)

	assert.Equal(t, "BOTH", variances[0].Component)
	assert.True(t, variances[0].IsMaterial)

	// A holding seen in one system only gets a placeholder zero variance.
	assert.Equal(t, "ONLY_CPU", variances[1].Component)
	assert.Zero(t, variances[1].VarianceAbsolute)
	assert.False(t, variances[1].IsMaterial)
}
