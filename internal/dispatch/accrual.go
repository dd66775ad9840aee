package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"navrecon/internal/types"
)

// Accrual validates day count conventions, accrual periods, and rate
// inputs for income-related position variances.
type Accrual struct {
	Reasoner types.Reasoner
	Log      *zap.Logger
}

func (a *Accrual) Name() string { return SpecialistAccrual }

// Triggered fires when the break is income-related and at least one
// position is breaking.
func (a *Accrual) Triggered(s *types.RunState) bool {
	if len(s.BreakingPositions) == 0 {
		return false
	}
	return s.PrimaryDriver == types.DriverIncome || s.PrimaryDriver == types.DriverMultiFactor
}

func (a *Accrual) Analyze(ctx context.Context, s *types.RunState) []types.Finding {
	if !a.Triggered(s) {
		return nil
	}
	var findings []types.Finding
	for _, pos := range s.BreakingPositions {
		summary, confidence, action := a.validate(ctx, pos)

		findings = append(findings, newFinding(
			SpecialistAccrual, types.LevelAccrual,
			fmt.Sprintf("Accrual analysis for %s: %s", pos.AssetID, summary),
			map[string]any{
				types.EvidenceAssetID:          pos.AssetID,
				types.EvidenceVarianceAbsolute: pos.VarianceAbsolute,
			},
			confidence, action,
		))
	}
	return findings
}

func (a *Accrual) validate(ctx context.Context, pos types.BreakingPosition) (summary string, confidence float64, action string) {
	prompt := fmt.Sprintf(
		"You are a fixed income accrual calculation expert. Analyze the accrual "+
			"variance and identify the root cause. Common causes: day count convention "+
			"mismatch (30/360 vs ACT/ACT), accrual period difference, rate input "+
			"difference, amortization method difference.\n"+
			"Security: %s\nPosition Variance: %.2f",
		pos.AssetID, pos.VarianceAbsolute)

	text, err := a.Reasoner.Summarize(ctx, prompt)
	if err != nil {
		a.Log.Warn("accrual reasoner unavailable",
			zap.String("asset_id", pos.AssetID), zap.Error(err))
		return "Accrual validation requires manual calculation review",
			0.60, "Manual accrual parameter comparison required"
	}
	return text, 0.85, "Verify day count convention configuration between systems"
}
