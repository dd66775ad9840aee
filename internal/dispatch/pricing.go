package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"navrecon/internal/types"
)

// Pricing compares prices between the two systems for every breaking
// position and asks the reasoner for the most likely cause. When price data
// or the reasoner is unavailable it degrades to a numeric price-difference
// finding at reduced confidence.
type Pricing struct {
	Store    types.LedgerStore
	Reasoner types.Reasoner
	Log      *zap.Logger
}

func (p *Pricing) Name() string { return SpecialistPricing }

// Triggered fires on any breaking position with a non-zero variance.
func (p *Pricing) Triggered(s *types.RunState) bool {
	for _, pos := range s.BreakingPositions {
		if pos.VarianceAbsolute != 0 {
			return true
		}
	}
	return false
}

func (p *Pricing) Analyze(ctx context.Context, s *types.RunState) []types.Finding {
	var findings []types.Finding
	prices := p.fetchPrices(ctx, s)

	for _, pos := range s.BreakingPositions {
		if pos.VarianceAbsolute == 0 {
			continue
		}
		cpuPrice, shares := prices[pos.AssetID].price, prices[pos.AssetID].shares

		// Back out the price the incumbent must have used, assuming the
		// share count agrees.
		incumbentPrice := cpuPrice
		if shares != 0 {
			incumbentPrice = cpuPrice - pos.VarianceAbsolute/shares
		}

		summary, confidence, action := p.explain(ctx, pos, cpuPrice, incumbentPrice, shares)

		findings = append(findings, newFinding(
			SpecialistPricing, types.LevelPricing,
			fmt.Sprintf("Pricing analysis for %s: %s. CPU price=%.6f, Incumbent price=%.6f.",
				pos.AssetID, summary, cpuPrice, incumbentPrice),
			map[string]any{
				types.EvidenceAssetID:          pos.AssetID,
				types.EvidenceCPUValue:         cpuPrice,
				types.EvidenceIncumbentValue:   incumbentPrice,
				types.EvidenceVarianceAbsolute: pos.VarianceAbsolute,
			},
			confidence, action,
		))
	}
	return findings
}

type priceInfo struct {
	price  float64
	shares float64
}

func (p *Pricing) fetchPrices(ctx context.Context, s *types.RunState) map[string]priceInfo {
	out := map[string]priceInfo{}
	if s.Alert == nil {
		return out
	}
	positions, err := p.Store.FetchPositions(ctx, s.Alert.Account, s.Alert.ValuationDate)
	if err != nil {
		p.Log.Warn("price fetch failed, proceeding without price data",
			zap.String("run_id", s.RunID), zap.Error(err))
		return out
	}
	for _, pos := range positions {
		if pos.System == types.SystemCPU {
			out[pos.AssetID] = priceInfo{price: pos.MarketPrice, shares: pos.Shares}
		}
	}
	return out
}

func (p *Pricing) explain(ctx context.Context, pos types.BreakingPosition, cpuPrice, incumbentPrice, shares float64) (summary string, confidence float64, action string) {
	prompt := fmt.Sprintf(
		"You are a fund accounting pricing expert. Analyze the pricing difference "+
			"and determine the most likely cause. Be concise.\n"+
			"Security: %s\nCPU Price: %.6f\nImplied Incumbent Price: %.6f\n"+
			"Price Difference: %.6f\nShares: %.2f\nMarket Value Variance: %.2f\n"+
			"Possible causes: pricing source difference, snap time difference, "+
			"price override, stale price, exchange rate difference.",
		pos.AssetID, cpuPrice, incumbentPrice, cpuPrice-incumbentPrice, shares, pos.VarianceAbsolute)

	text, err := p.Reasoner.Summarize(ctx, prompt)
	if err != nil {
		p.Log.Warn("pricing reasoner unavailable, using numeric fallback",
			zap.String("asset_id", pos.AssetID), zap.Error(err))
		return fmt.Sprintf("Price difference of %.6f detected", cpuPrice-incumbentPrice),
			0.65, "Manual pricing source comparison required"
	}
	return text, 0.80, "Verify pricing sources and snap times between systems"
}
