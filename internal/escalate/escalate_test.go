package escalate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navrecon/internal/types"
)

func kinds(reasons []types.EscalationReason) []types.ReasonKind {
	out := make([]types.ReasonKind, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, r.Kind)
	}
	return out
}

func cleanState() *types.RunState {
	s := types.NewRunState("run-1", &types.BreakAlert{
		BreakID:          "BRK-001",
		VarianceRelative: 0.0001,
	})
	s.Phase = types.PhaseReportGen
	s.OverallConfidence = 0.92
	s.PatternSearched = true
	s.MatchedPatterns = []string{"PTN-001"}
	s.RootCauses = []types.RootCause{
		{Description: "pricing stale", Confidence: 0.92},
		{Description: "accrual missed", Confidence: 0.60},
	}
	return s
}

func TestEvaluateCleanRunNoReasons(t *testing.T) {
	reasons := DefaultPolicy().Evaluate(cleanState())
	assert.Empty(t, reasons)
}

func TestEvaluateLowConfidence(t *testing.T) {
	s := cleanState()
	s.OverallConfidence = 0.55

	reasons := DefaultPolicy().Evaluate(s)
	require.Len(t, reasons, 1)
	assert.Equal(t, types.ReasonLowConfidence, reasons[0].Kind)
	assert.InDelta(t, 0.70, reasons[0].Threshold, 1e-9)
	assert.InDelta(t, 0.55, reasons[0].Actual, 1e-9)
}

func TestEvaluateLowConfidenceSuppressedAtL0(t *testing.T) {
	// A run that never got past L0 has definitionally low confidence.
	// The rule must not fire for it.
	for _, phase := range []types.AnalysisPhase{types.PhaseInitiated, types.PhaseL0NAV} {
		s := cleanState()
		s.Phase = phase
		s.OverallConfidence = 0.10

		assert.NotContains(t, kinds(DefaultPolicy().Evaluate(s)),
			types.ReasonLowConfidence, "phase %s", phase)
	}

	s := cleanState()
	s.Phase = types.PhaseL1GL
	s.OverallConfidence = 0.10
	assert.Contains(t, kinds(DefaultPolicy().Evaluate(s)), types.ReasonLowConfidence)
}

func TestEvaluateCriticalMagnitude(t *testing.T) {
	s := cleanState()
	s.Alert.VarianceRelative = -0.002 // sign must not matter

	reasons := DefaultPolicy().Evaluate(s)
	require.Len(t, reasons, 1)
	assert.Equal(t, types.ReasonCriticalMagnitude, reasons[0].Kind)
	assert.InDelta(t, 0.002, reasons[0].Actual, 1e-9)
}

func TestEvaluateCriticalMagnitudeAtThreshold(t *testing.T) {
	s := cleanState()
	s.Alert.VarianceRelative = 0.0005 // exactly at threshold: not critical

	assert.NotContains(t, kinds(DefaultPolicy().Evaluate(s)), types.ReasonCriticalMagnitude)
}

func TestEvaluateNovelPattern(t *testing.T) {
	s := cleanState()
	s.MatchedPatterns = nil

	reasons := DefaultPolicy().Evaluate(s)
	require.Len(t, reasons, 1)
	assert.Equal(t, types.ReasonNovelPattern, reasons[0].Kind)
}

func TestEvaluateNovelPatternOnlyWhenSearchRan(t *testing.T) {
	// A run that short-circuited before the pattern stage has an empty
	// pattern list for a different reason; it is not novel.
	s := cleanState()
	s.MatchedPatterns = nil
	s.PatternSearched = false

	assert.NotContains(t, kinds(DefaultPolicy().Evaluate(s)), types.ReasonNovelPattern)
}

func TestEvaluateConflictingCauses(t *testing.T) {
	s := cleanState()
	s.RootCauses = []types.RootCause{
		{Description: "pricing stale", Confidence: 0.80},
		{Description: "fx rate mismatch", Confidence: 0.72},
	}

	reasons := DefaultPolicy().Evaluate(s)
	require.Len(t, reasons, 1)
	assert.Equal(t, types.ReasonConflictingCauses, reasons[0].Kind)
	assert.InDelta(t, 0.08, reasons[0].Actual, 1e-9)
}

func TestEvaluateConflictingCausesNeedsTwo(t *testing.T) {
	s := cleanState()
	s.RootCauses = s.RootCauses[:1]

	assert.Empty(t, DefaultPolicy().Evaluate(s))
}

func TestEvaluateRulesUnion(t *testing.T) {
	s := cleanState()
	s.OverallConfidence = 0.40
	s.Alert.VarianceRelative = 0.01
	s.MatchedPatterns = nil
	s.RootCauses = []types.RootCause{
		{Description: "a", Confidence: 0.50},
		{Description: "b", Confidence: 0.48},
	}

	got := kinds(DefaultPolicy().Evaluate(s))
	assert.ElementsMatch(t, []types.ReasonKind{
		types.ReasonLowConfidence,
		types.ReasonCriticalMagnitude,
		types.ReasonNovelPattern,
		types.ReasonConflictingCauses,
	}, got)
}

func TestEvaluateIdempotent(t *testing.T) {
	s := cleanState()
	s.OverallConfidence = 0.40
	s.MatchedPatterns = nil

	first := DefaultPolicy().Evaluate(s)
	second := DefaultPolicy().Evaluate(s)
	assert.Equal(t, first, second)
}

func TestEvaluateNilAlert(t *testing.T) {
	s := cleanState()
	s.Alert = nil

	assert.NotPanics(t, func() { DefaultPolicy().Evaluate(s) })
}
