// Package aggregate rolls the run's findings up into an overall confidence
// score and an ordered, deduplicated root-cause list.
package aggregate

import (
	"sort"
	"strings"

	"navrecon/internal/types"
)

// Level weights for the confidence rollup. Deeper levels carry more weight
// because their evidence is more specific; unknown levels fall back to the
// L0 weight.
var levelWeights = map[string]float64{
	types.LevelL0NAV:         0.10,
	types.LevelL1GL:          0.20,
	types.LevelL2SubLedger:   0.25,
	types.LevelL3Transaction: 0.25,
	types.LevelPricing:       0.15,
	types.LevelCA:            0.15,
	types.LevelAccrual:       0.15,
	types.LevelFX:            0.15,
	types.LevelPatternMatch:  0.20,
}

const defaultWeight = 0.10

// Root-cause extraction parameters: findings below the confidence floor are
// not causes; descriptions deduplicate on their first 100 lower-cased
// characters; the list is capped for report size.
const (
	confidenceFloor = 0.60
	dedupePrefixLen = 100
	maxRootCauses   = 10
)

// OverallConfidence computes the confidence-weighted rollup over all
// findings, clamped to [0,1]. An empty finding set yields exactly 0.
func OverallConfidence(findings []types.Finding) float64 {
	if len(findings) == 0 {
		return 0.0
	}

	var weighted, total float64
	for _, f := range findings {
		w, ok := levelWeights[f.Level]
		if !ok {
			w = defaultWeight
		}
		weighted += f.Confidence * w
		total += w
	}
	if total == 0 {
		return 0.0
	}

	c := weighted / total
	if c < 0 {
		return 0.0
	}
	if c > 1 {
		return 1.0
	}
	return c
}

// RootCauses extracts the run's root causes: findings sorted by descending
// confidence (ties keep insertion order), the sub-floor ones dropped,
// near-duplicates removed, capped at the top survivors.
func RootCauses(findings []types.Finding) []types.RootCause {
	ordered := make([]types.Finding, len(findings))
	copy(ordered, findings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Confidence > ordered[j].Confidence
	})

	seen := map[string]bool{}
	var causes []types.RootCause
	for _, f := range ordered {
		if f.Confidence < confidenceFloor {
			continue
		}
		key := dedupeKey(f.Description)
		if seen[key] {
			continue
		}
		seen[key] = true

		causes = append(causes, types.RootCause{
			Agent:             f.Agent,
			Level:             f.Level,
			Description:       f.Description,
			Confidence:        f.Confidence,
			Evidence:          f.Evidence,
			RecommendedAction: f.RecommendedAction,
		})
		if len(causes) == maxRootCauses {
			break
		}
	}
	return causes
}

func dedupeKey(description string) string {
	s := strings.ToLower(description)
	if len(s) > dedupePrefixLen {
		s = s[:dedupePrefixLen]
	}
	return s
}
