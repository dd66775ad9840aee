package dispatch

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"navrecon/internal/txmatch"
	"navrecon/internal/types"
)

// CorporateAction validates corporate action processing for every
// transaction-level finding that carries a CA transaction code or mentions
// one in its description.
type CorporateAction struct {
	Reasoner types.Reasoner
	Log      *zap.Logger
}

func (c *CorporateAction) Name() string { return SpecialistCorporateAction }

func (c *CorporateAction) Triggered(s *types.RunState) bool {
	return len(caFindings(s)) > 0
}

func (c *CorporateAction) Analyze(ctx context.Context, s *types.RunState) []types.Finding {
	var findings []types.Finding
	for _, src := range caFindings(s) {
		assetID, _ := src.Evidence[types.EvidenceAssetID].(string)
		transCode, _ := src.Evidence[types.EvidenceTransCode].(string)

		summary, confidence, action := c.validate(ctx, assetID, transCode, src.Description)

		findings = append(findings, newFinding(
			SpecialistCorporateAction, types.LevelCA,
			fmt.Sprintf("Corporate action validation for %s (%s): %s", assetID, transCode, summary),
			map[string]any{
				types.EvidenceAssetID:   assetID,
				types.EvidenceTransCode: transCode,
			},
			confidence, action,
		))
	}
	return findings
}

// caFindings selects L3 findings that look corporate-action related.
func caFindings(s *types.RunState) []types.Finding {
	var out []types.Finding
	for _, f := range s.L3Findings {
		code, _ := f.Evidence[types.EvidenceTransCode].(string)
		if code != "" && txmatch.IsCorporateAction(code) {
			out = append(out, f)
			continue
		}
		if strings.Contains(strings.ToLower(f.Description), "corporate action") {
			out = append(out, f)
		}
	}
	return out
}

func (c *CorporateAction) validate(ctx context.Context, assetID, transCode, evidence string) (summary string, confidence float64, action string) {
	prompt := fmt.Sprintf(
		"You are a fund accounting corporate actions expert. Validate the corporate "+
			"action processing and identify discrepancies.\n"+
			"Security: %s\nTransaction Code: %s\nTransaction Evidence: %s\n"+
			"Validate: Was the CA processed correctly in both systems? Check ex-date, "+
			"record date, pay date, ratio/rate, entitlement calculation.",
		assetID, transCode, evidence)

	text, err := c.Reasoner.Summarize(ctx, prompt)
	if err != nil {
		c.Log.Warn("corporate action reasoner unavailable",
			zap.String("asset_id", assetID), zap.Error(err))
		return "CA validation requires manual review", 0.50, "Manual CA event comparison required"
	}
	return text, 0.75, "Compare CA processing parameters between systems"
}
