// Package escalate decides whether a finished drill-down run should be
// routed to human review. The rules are independent, deterministic, and
// advisory: they never change the report, only the terminal phase.
package escalate

import (
	"fmt"
	"math"

	"navrecon/internal/types"
)

// Policy holds the escalation thresholds.
type Policy struct {
	// ConfidenceThreshold is the floor under which a run escalates for
	// low confidence (only once the analysis is past L0).
	ConfidenceThreshold float64
	// CriticalThreshold is the relative NAV variance above which the
	// break magnitude alone escalates.
	CriticalThreshold float64
	// ConflictGap is the confidence gap under which the top two root
	// causes are considered conflicting.
	ConflictGap float64
}

// DefaultPolicy mirrors production thresholds: 70% confidence floor,
// 0.05% critical relative variance, 0.15 conflict gap.
func DefaultPolicy() Policy {
	return Policy{
		ConfidenceThreshold: 0.70,
		CriticalThreshold:   0.0005,
		ConflictGap:         0.15,
	}
}

// Evaluate applies every rule to the run state and returns the union of
// fired reasons. Rules do not short-circuit. Calling Evaluate twice on the
// same state yields identical reasons.
func (p Policy) Evaluate(s *types.RunState) []types.EscalationReason {
	var reasons []types.EscalationReason

	if s.OverallConfidence < p.ConfidenceThreshold && pastL0(s.Phase) {
		reasons = append(reasons, types.EscalationReason{
			Kind: types.ReasonLowConfidence,
			Description: fmt.Sprintf("confidence %.0f%% below threshold %.0f%%",
				s.OverallConfidence*100, p.ConfidenceThreshold*100),
			Threshold: p.ConfidenceThreshold,
			Actual:    s.OverallConfidence,
		})
	}

	if s.Alert != nil && math.Abs(s.Alert.VarianceRelative) > p.CriticalThreshold {
		reasons = append(reasons, types.EscalationReason{
			Kind: types.ReasonCriticalMagnitude,
			Description: fmt.Sprintf("break magnitude %.4f%% exceeds critical threshold %.4f%%",
				math.Abs(s.Alert.VarianceRelative)*100, p.CriticalThreshold*100),
			Threshold: p.CriticalThreshold,
			Actual:    math.Abs(s.Alert.VarianceRelative),
		})
	}

	if len(s.MatchedPatterns) == 0 && s.PatternSearched {
		reasons = append(reasons, types.EscalationReason{
			Kind:        types.ReasonNovelPattern,
			Description: "no matching historical patterns found",
		})
	}

	if len(s.RootCauses) >= 2 {
		gap := s.RootCauses[0].Confidence - s.RootCauses[1].Confidence
		if gap < p.ConflictGap {
			reasons = append(reasons, types.EscalationReason{
				Kind:        types.ReasonConflictingCauses,
				Description: "multiple root causes with similar confidence scores",
				Threshold:   p.ConflictGap,
				Actual:      gap,
			})
		}
	}

	return reasons
}

// pastL0 reports whether the phase is beyond the L0 NAV stage. L0 confidence
// is definitionally high, so the low-confidence rule never fires at or
// before it.
func pastL0(p types.AnalysisPhase) bool {
	return p != types.PhaseInitiated && p != types.PhaseL0NAV
}
