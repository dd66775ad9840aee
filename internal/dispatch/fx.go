package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"navrecon/internal/types"
)

// FX analyzes FX rate impact for breaking positions. The trigger is
// deliberately broad: currency attribution in position data is unreliable,
// so every non-zero position variance gets an FX look.
type FX struct {
	Reasoner types.Reasoner
	Log      *zap.Logger
}

func (f *FX) Name() string { return SpecialistFX }

func (f *FX) Triggered(s *types.RunState) bool {
	for _, pos := range s.BreakingPositions {
		if pos.VarianceAbsolute != 0 {
			return true
		}
	}
	return false
}

func (f *FX) Analyze(ctx context.Context, s *types.RunState) []types.Finding {
	var findings []types.Finding
	for _, pos := range s.BreakingPositions {
		if pos.VarianceAbsolute == 0 {
			continue
		}
		summary, confidence, action := f.analyzeImpact(ctx, pos)

		findings = append(findings, newFinding(
			SpecialistFX, types.LevelFX,
			fmt.Sprintf("FX analysis for %s: %s", pos.AssetID, summary),
			map[string]any{
				types.EvidenceAssetID:          pos.AssetID,
				types.EvidenceVarianceAbsolute: pos.VarianceAbsolute,
			},
			confidence, action,
		))
	}
	return findings
}

func (f *FX) analyzeImpact(ctx context.Context, pos types.BreakingPosition) (summary string, confidence float64, action string) {
	currency := pos.Currency
	if currency == "" {
		currency = "Unknown"
	}
	prompt := fmt.Sprintf(
		"You are an FX and multi-currency fund accounting expert. Analyze the FX "+
			"impact on the position variance.\n"+
			"Security: %s\nSecurity Currency: %s\nPosition Variance: %.2f\n"+
			"Possible causes: FX rate source difference, snap time difference, "+
			"spot vs forward rate, unrealized FX gain calculation.",
		pos.AssetID, currency, pos.VarianceAbsolute)

	text, err := f.Reasoner.Summarize(ctx, prompt)
	if err != nil {
		f.Log.Warn("fx reasoner unavailable",
			zap.String("asset_id", pos.AssetID), zap.Error(err))
		return "FX analysis requires manual rate comparison",
			0.55, "Manual FX rate comparison required"
	}
	return text, 0.75, "Compare FX rate sources and snap times"
}
