// Package engine implements the hierarchical break drill-down: the state
// machine that takes one NAV break alert and walks it through NAV, GL,
// position, and transaction analysis, dispatches specialists, matches
// historical patterns, and produces a terminal, fully aggregated run state.
package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"navrecon/internal/aggregate"
	"navrecon/internal/config"
	"navrecon/internal/dispatch"
	"navrecon/internal/escalate"
	"navrecon/internal/txmatch"
	"navrecon/internal/types"
	"navrecon/internal/variance"
)

// Break categories the pattern stage classifies into.
var breakCategories = []string{
	"TIMING", "METHODOLOGY", "DATA", "PRICING", "CONFIGURATION", "ROUNDING",
}

const (
	fallbackBreakCategory = "DATA"
	classifyInputLimit    = 2000
	supervisorStage       = "supervisor"
)

// Engine runs the drill-down for break alerts. One Engine serves any number
// of concurrent runs; all mutable state lives in the per-run RunState.
type Engine struct {
	store      types.LedgerStore
	mapper     types.CategoryMapper
	patterns   types.PatternStore
	reasoner   types.Reasoner
	dispatcher *dispatch.Dispatcher
	policy     escalate.Policy
	thresholds config.ThresholdsConfig
	log        *zap.Logger
}

// New builds an engine over the four collaborators.
func New(
	store types.LedgerStore,
	mapper types.CategoryMapper,
	patterns types.PatternStore,
	reasoner types.Reasoner,
	thresholds config.ThresholdsConfig,
	log *zap.Logger,
) *Engine {
	return &Engine{
		store:      store,
		mapper:     mapper,
		patterns:   patterns,
		reasoner:   reasoner,
		dispatcher: dispatch.New(store, reasoner, log),
		policy: escalate.Policy{
			ConfidenceThreshold: thresholds.ConfidenceEscalation,
			CriticalThreshold:   thresholds.CriticalMagnitude,
			ConflictGap:         thresholds.ConflictGap,
		},
		thresholds: thresholds,
		log:        log,
	}
}

// RunDrillDown executes the full drill-down for one alert and returns the
// terminal run state. It never returns an error: collaborator failures
// degrade the analysis, and a missing alert produces an empty COMPLETED run.
// A cancelled context makes the remaining collaborator calls fail, so the
// run degrades stage by stage but still reaches a terminal phase.
func (e *Engine) RunDrillDown(ctx context.Context, alert *types.BreakAlert) *types.RunState {
	state := types.NewRunState(uuid.NewString(), alert)

	if alert.Empty() {
		state.AddTrace(supervisorStage, "error", "no break alert provided")
		state.Phase = types.PhaseCompleted
		e.log.Warn("drill-down invoked without alert", zap.String("run_id", state.RunID))
		return state
	}

	log := e.log.With(
		zap.String("run_id", state.RunID),
		zap.String("break_id", alert.BreakID),
		zap.String("account", alert.Account))
	log.Info("drill-down started",
		zap.Float64("variance_absolute", alert.VarianceAbsolute),
		zap.Float64("variance_relative", alert.VarianceRelative))

	e.initialize(ctx, state, log)
	e.runL0(ctx, state, log)

	if state.NAVVariance == nil || !state.NAVVariance.IsMaterial {
		log.Info("break immaterial, skipping drill-down")
		e.finalize(ctx, state, log)
		return state
	}

	e.runL1(ctx, state, log)
	if len(state.BreakingBuckets) == 0 {
		e.runPatternMatching(ctx, state, log)
		e.finalize(ctx, state, log)
		return state
	}

	e.runL2(ctx, state, log)
	if len(state.BreakingPositions) > 0 {
		e.runL3(ctx, state, log)
	}

	if worklist := state.SpecialistsInvoked(); len(worklist) > 0 {
		state.Phase = types.PhaseSpecialist
		log.Info("dispatching specialists", zap.Strings("worklist", worklist))
		e.dispatcher.Run(ctx, state)
	}

	e.runPatternMatching(ctx, state, log)
	e.finalize(ctx, state, log)
	return state
}

// initialize triages the alert into an analysis strategy.
func (e *Engine) initialize(ctx context.Context, state *types.RunState, log *zap.Logger) {
	alert := state.Alert
	state.Strategy = e.triageStrategy(alert)

	// Historical context is advisory only; fetch failure changes nothing.
	history, err := e.patterns.FindSimilarBreaks(ctx, alert.Account)
	if err != nil {
		log.Warn("historical context unavailable", zap.Error(err))
	}

	state.AddTrace(supervisorStage, "initializing",
		fmt.Sprintf("strategy=%s historical_breaks=%d", state.Strategy, len(history)))
	log.Info("analysis initialized", zap.String("strategy", string(state.Strategy)))
}

func (e *Engine) triageStrategy(alert *types.BreakAlert) types.Strategy {
	pct := math.Abs(alert.VarianceRelative)
	switch {
	case pct > e.thresholds.CriticalMagnitude:
		return types.StrategyCriticalFullDrillDown
	case pct > e.thresholds.NAVRelativeMateriality:
		return types.StrategyStandardDrillDown
	default:
		return types.StrategyQuickCheck
	}
}

// runL0 performs the NAV-level comparison and classifies the primary driver.
func (e *Engine) runL0(ctx context.Context, state *types.RunState, log *zap.Logger) {
	state.Phase = types.PhaseL0NAV
	alert := state.Alert

	// Materiality at L0 is a per-share dollar test, not the relative test
	// used for triage.
	nav := types.VarianceDetail{
		Component:        "NAV",
		CPUValue:         alert.CPUNAV,
		IncumbentValue:   alert.IncumbentNAV,
		VarianceAbsolute: alert.VarianceAbsolute,
		VarianceRelative: alert.VarianceRelative,
		IsMaterial:       math.Abs(alert.NAVPerShareVariance) > e.thresholds.NAVPerShareMateriality,
	}
	state.NAVVariance = &nav

	balances, err := e.store.FetchGLBalances(ctx, alert.Account, alert.ValuationDate, types.SystemCPU)
	if err != nil {
		log.Warn("gl balance fetch failed, driver classification degrades", zap.Error(err))
		balances = nil
	}
	state.PrimaryDriver = e.classifyDriver(ctx, alert, balances, log)

	finding := types.Finding{
		Agent: "L0NAV",
		Level: types.LevelL0NAV,
		Description: fmt.Sprintf(
			"NAV break detected for %s/%s on %s: CPU NAV=%.2f, Incumbent NAV=%.2f, "+
				"Variance=%.2f (%.4f%%). Primary driver: %s. Material: %v.",
			alert.Account, alert.ShareClass, alert.ValuationDate,
			alert.CPUNAV, alert.IncumbentNAV,
			alert.VarianceAbsolute, alert.VarianceRelative*100,
			state.PrimaryDriver, nav.IsMaterial),
		Evidence: map[string]any{
			types.EvidenceCPUValue:         alert.CPUNAV,
			types.EvidenceIncumbentValue:   alert.IncumbentNAV,
			types.EvidenceVarianceAbsolute: alert.VarianceAbsolute,
			types.EvidenceVarianceRelative: alert.VarianceRelative,
			types.EvidencePrimaryDriver:    string(state.PrimaryDriver),
			"nav_per_share_variance":       alert.NAVPerShareVariance,
			"shares_outstanding":           alert.SharesOutstanding,
		},
		Confidence: 0.95, // deterministic comparison
		RecommendedAction: fmt.Sprintf(
			"Decompose GL balances with focus on %s accounts", state.PrimaryDriver),
		Timestamp: time.Now().UTC(),
	}
	state.L0Findings = append(state.L0Findings, finding)
	state.AddFinding(finding)
	state.AddTrace("l0_nav", "nav_comparison_complete",
		fmt.Sprintf("material=%v driver=%s", nav.IsMaterial, state.PrimaryDriver))
}

// classifyDriver picks the dominant GL category contribution, falling back
// to the reasoner when no GL breakdown is available and to MULTI_FACTOR when
// the reasoner fails too.
func (e *Engine) classifyDriver(ctx context.Context, alert *types.BreakAlert, balances []types.CategoryBalance, log *zap.Logger) types.BreakDriver {
	if len(balances) == 0 {
		text := fmt.Sprintf("NAV variance of %.2f (%.4f%%) for fund type %s",
			alert.VarianceAbsolute, alert.VarianceRelative*100, orUnknown(alert.FundType))
		categories := make([]string, len(types.BreakDrivers))
		for i, d := range types.BreakDrivers {
			categories[i] = string(d)
		}
		answer, err := e.reasoner.Classify(ctx, text, categories)
		if err != nil {
			log.Warn("driver classification fallback", zap.Error(err))
			return types.DriverMultiFactor
		}
		for _, d := range types.BreakDrivers {
			if answer == string(d) {
				return d
			}
		}
		return types.DriverMultiFactor
	}

	totals := map[string]float64{}
	for _, b := range balances {
		totals[b.Category] += b.TotalBalance
	}
	dominance := math.Abs(alert.VarianceAbsolute) * 0.5
	switch {
	case math.Abs(totals["INCOME"]) > dominance:
		return types.DriverIncome
	case math.Abs(totals["EXPENSE"]) > dominance:
		return types.DriverExpense
	case math.Abs(totals["ASSET"]) > dominance:
		return types.DriverPosition
	case math.Abs(totals["EQUITY"]) > dominance:
		return types.DriverCapitalActivity
	default:
		return types.DriverMultiFactor
	}
}

// runL1 decomposes the break into GL category variances.
func (e *Engine) runL1(ctx context.Context, state *types.RunState, log *zap.Logger) {
	state.Phase = types.PhaseL1GL
	alert := state.Alert

	cpuGL := e.fetchGL(ctx, alert, types.SystemCPU, log)
	incumbentGL := e.fetchGL(ctx, alert, types.SystemIncumbent, log)

	mapping, err := e.mapper.MapGLCategories(ctx, alert.Account)
	if err != nil {
		log.Warn("gl category map unavailable, assuming identical names", zap.Error(err))
		mapping = nil
	}

	state.GLVariances = e.glVariances(cpuGL, incumbentGL, mapping)
	for _, v := range state.GLVariances {
		if v.IsMaterial {
			state.BreakingBuckets = append(state.BreakingBuckets, v.Component)
		}
	}

	for _, v := range state.GLVariances {
		if !v.IsMaterial {
			continue
		}
		contribution := 0.0
		if alert.VarianceAbsolute != 0 {
			contribution = v.VarianceAbsolute / alert.VarianceAbsolute * 100
		}
		finding := types.Finding{
			Agent: "L1GL",
			Level: types.LevelL1GL,
			Description: fmt.Sprintf(
				"GL bucket '%s' shows material variance: CPU=%.2f, Incumbent=%.2f, "+
					"Variance=%.2f (%.4f%%)",
				v.Component, v.CPUValue, v.IncumbentValue,
				v.VarianceAbsolute, v.VarianceRelative*100),
			Evidence: map[string]any{
				types.EvidenceGLBucket:         v.Component,
				types.EvidenceCPUValue:         v.CPUValue,
				types.EvidenceIncumbentValue:   v.IncumbentValue,
				types.EvidenceVarianceAbsolute: v.VarianceAbsolute,
				"contribution_pct":             contribution,
			},
			Confidence:        0.90,
			RecommendedAction: fmt.Sprintf("Drill into sub-ledger positions for GL bucket '%s'", v.Component),
			Timestamp:         time.Now().UTC(),
		}
		state.L1Findings = append(state.L1Findings, finding)
		state.AddFinding(finding)
	}

	summary := types.Finding{
		Agent: "L1GL",
		Level: types.LevelL1GL,
		Description: fmt.Sprintf(
			"GL decomposition complete: %d breaking buckets identified out of %d total "+
				"GL categories. Breaking buckets: %s",
			len(state.BreakingBuckets), len(state.GLVariances),
			strings.Join(state.BreakingBuckets, ", ")),
		Evidence:          map[string]any{"breaking_buckets": state.BreakingBuckets},
		Confidence:        0.90,
		RecommendedAction: "Drill into position-level detail for breaking buckets",
		Timestamp:         time.Now().UTC(),
	}
	state.L1Findings = append(state.L1Findings, summary)
	state.AddFinding(summary)
	state.AddTrace("l1_gl", "gl_decomposition_complete",
		fmt.Sprintf("breaking_buckets=%d", len(state.BreakingBuckets)))
}

func (e *Engine) fetchGL(ctx context.Context, alert *types.BreakAlert, system string, log *zap.Logger) []types.CategoryBalance {
	balances, err := e.store.FetchGLBalances(ctx, alert.Account, alert.ValuationDate, system)
	if err != nil {
		log.Warn("gl balance fetch failed, proceeding with empty set",
			zap.String("system", system), zap.Error(err))
		return nil
	}
	return balances
}

// glVariances compares category totals between the systems. Incumbent
// categories are translated into CPU naming through the cross-system map;
// unmapped names compare under their own name.
func (e *Engine) glVariances(cpuGL, incumbentGL []types.CategoryBalance, mapping map[string]string) []types.VarianceDetail {
	cpuByCat := map[string]float64{}
	for _, b := range cpuGL {
		cpuByCat[b.Category] += b.TotalBalance
	}

	toCPU := map[string]string{} // incumbent category -> CPU category
	for cpu, inc := range mapping {
		toCPU[inc] = cpu
	}
	incByCat := map[string]float64{}
	for _, b := range incumbentGL {
		cat := b.Category
		if mapped, ok := toCPU[cat]; ok {
			cat = mapped
		}
		incByCat[cat] += b.TotalBalance
	}

	all := map[string]bool{}
	for cat := range cpuByCat {
		all[cat] = true
	}
	for cat := range incByCat {
		all[cat] = true
	}
	categories := make([]string, 0, len(all))
	for cat := range all {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	tol := variance.Tolerance{Absolute: e.thresholds.GLMateriality}
	out := make([]types.VarianceDetail, 0, len(categories))
	for _, cat := range categories {
		out = append(out, variance.Compare(cat, cpuByCat[cat], incByCat[cat], tol))
	}
	return out
}

// runL2 drills into position-level detail within the breaking buckets.
func (e *Engine) runL2(ctx context.Context, state *types.RunState, log *zap.Logger) {
	state.Phase = types.PhaseL2SubLedger
	alert := state.Alert

	positions, err := e.store.FetchPositions(ctx, alert.Account, alert.ValuationDate)
	if err != nil {
		log.Warn("position fetch failed, proceeding with empty set", zap.Error(err))
		positions = nil
	}

	state.PositionVariances = e.positionVariances(positions)
	currencies := map[string]string{}
	for _, p := range positions {
		if p.System == types.SystemCPU {
			currencies[p.AssetID] = p.Currency
		}
	}
	for _, v := range state.PositionVariances {
		if v.IsMaterial {
			state.BreakingPositions = append(state.BreakingPositions, types.BreakingPosition{
				AssetID:          v.Component,
				CPUValue:         v.CPUValue,
				IncumbentValue:   v.IncumbentValue,
				VarianceAbsolute: v.VarianceAbsolute,
				VarianceRelative: v.VarianceRelative,
				Currency:         currencies[v.Component],
			})
		}
	}

	for _, pos := range state.BreakingPositions {
		summary, confidence := e.positionSummary(ctx, pos, log)
		finding := types.Finding{
			Agent: "L2SubLedger",
			Level: types.LevelL2SubLedger,
			Description: fmt.Sprintf("Position break: %s - Variance=%.2f. %s",
				pos.AssetID, pos.VarianceAbsolute, summary),
			Evidence: map[string]any{
				types.EvidenceAssetID:          pos.AssetID,
				types.EvidenceCPUValue:         pos.CPUValue,
				types.EvidenceIncumbentValue:   pos.IncumbentValue,
				types.EvidenceVarianceAbsolute: pos.VarianceAbsolute,
				types.EvidenceVarianceRelative: pos.VarianceRelative,
			},
			Confidence:        confidence,
			RecommendedAction: "Proceed to transaction-level forensics",
			Timestamp:         time.Now().UTC(),
		}
		state.L2Findings = append(state.L2Findings, finding)
		state.AddFinding(finding)
	}

	// Deterministic specialist triggers run on the evidence so far.
	e.dispatcher.Plan(state)

	summary := types.Finding{
		Agent: "L2SubLedger",
		Level: types.LevelL2SubLedger,
		Description: fmt.Sprintf(
			"Sub-ledger analysis: %d positions compared, %d show material variance. "+
				"Specialists needed: %s",
			len(state.PositionVariances), len(state.BreakingPositions),
			orNone(strings.Join(state.SpecialistsInvoked(), ", "))),
		Evidence: map[string]any{
			"total_positions":     len(state.PositionVariances),
			"breaking_positions":  len(state.BreakingPositions),
			"specialists_invoked": state.SpecialistsInvoked(),
		},
		Confidence:        0.85,
		RecommendedAction: "Run transaction forensics and flagged specialists",
		Timestamp:         time.Now().UTC(),
	}
	state.L2Findings = append(state.L2Findings, summary)
	state.AddFinding(summary)
	state.AddTrace("l2_subledger", "position_comparison_complete",
		fmt.Sprintf("breaking_positions=%d", len(state.BreakingPositions)))
}

// positionVariances pairs positions by asset across systems. An asset seen
// in only one system gets a placeholder zero variance: missing counterpart
// data never fails the stage, and one-sided holdings surface through the
// transaction level instead.
func (e *Engine) positionVariances(positions []types.Position) []types.VarianceDetail {
	type pair struct {
		cpu, incumbent *types.Position
	}
	byAsset := map[string]*pair{}
	var order []string
	for i := range positions {
		p := &positions[i]
		entry, ok := byAsset[p.AssetID]
		if !ok {
			entry = &pair{}
			byAsset[p.AssetID] = entry
			order = append(order, p.AssetID)
		}
		switch p.System {
		case types.SystemCPU:
			entry.cpu = p
		case types.SystemIncumbent:
			entry.incumbent = p
		}
	}
	sort.Strings(order)

	tol := variance.Tolerance{Absolute: e.thresholds.PositionMateriality}
	out := make([]types.VarianceDetail, 0, len(order))
	for _, asset := range order {
		entry := byAsset[asset]
		if entry.cpu == nil || entry.incumbent == nil {
			value := 0.0
			if entry.cpu != nil {
				value = entry.cpu.MarketValueBase
			} else if entry.incumbent != nil {
				value = entry.incumbent.MarketValueBase
			}
			out = append(out, types.VarianceDetail{
				Component:      asset,
				CPUValue:       value,
				IncumbentValue: value,
			})
			continue
		}
		out = append(out, variance.Compare(asset,
			entry.cpu.MarketValueBase, entry.incumbent.MarketValueBase, tol))
	}
	return out
}

func (e *Engine) positionSummary(ctx context.Context, pos types.BreakingPosition, log *zap.Logger) (string, float64) {
	prompt := fmt.Sprintf(
		"You are a fund accounting expert analyzing a position-level reconciliation "+
			"break. Provide a concise analysis.\n"+
			"Position: %s\nVariance: %.2f\nCPU Market Value: %.2f\n"+
			"Incumbent Market Value: %.2f",
		pos.AssetID, pos.VarianceAbsolute, pos.CPUValue, pos.IncumbentValue)
	summary, err := e.reasoner.Summarize(ctx, prompt)
	if err != nil {
		log.Warn("position summary fallback",
			zap.String("asset_id", pos.AssetID), zap.Error(err))
		return "Further investigation needed.", 0.60
	}
	return summary, 0.75
}

// runL3 performs transaction-level forensics for every breaking position.
func (e *Engine) runL3(ctx context.Context, state *types.RunState, log *zap.Logger) {
	state.Phase = types.PhaseL3Transaction
	alert := state.Alert

	for _, pos := range state.BreakingPositions {
		txns, err := e.store.FetchTransactions(ctx, alert.Account, pos.AssetID, alert.ValuationDate)
		if err != nil {
			log.Warn("transaction fetch failed, proceeding with empty set",
				zap.String("asset_id", pos.AssetID), zap.Error(err))
			txns = nil
		}

		var cpu, incumbent []types.Txn
		for _, t := range txns {
			if t.System == types.SystemIncumbent {
				incumbent = append(incumbent, t)
			} else {
				cpu = append(cpu, t)
			}
		}

		res := txmatch.Match(cpu, incumbent)
		for _, m := range res.Matched {
			state.MatchedTransactions = append(state.MatchedTransactions, m.TransactionID)
		}

		for _, orphan := range res.Orphans {
			state.OrphanTransactions = append(state.OrphanTransactions, orphan.TransactionID)
			finding := types.Finding{
				Agent: "L3Transaction",
				Level: types.LevelL3Transaction,
				Description: fmt.Sprintf(
					"Orphan transaction: %s (%s) for %s - present in %s only. "+
						"Amount: %.2f, Trade date: %s",
					orphan.TransactionID, orphan.TransCode, pos.AssetID,
					orphan.System, orphan.CPUAmount, orphan.TradeDate),
				Evidence: map[string]any{
					types.EvidenceTransactionID: orphan.TransactionID,
					types.EvidenceTransCode:     orphan.TransCode,
					types.EvidenceTradeDate:     orphan.TradeDate,
					types.EvidenceAssetID:       pos.AssetID,
					types.EvidenceSystem:        orphan.System,
					"amount_base":               orphan.CPUAmount,
				},
				Confidence:        0.90,
				RecommendedAction: txmatch.OrphanAction(orphan.TransCode),
				Timestamp:         time.Now().UTC(),
			}
			state.L3Findings = append(state.L3Findings, finding)
			state.AddFinding(finding)
		}

		for _, diff := range res.AmountDiffs {
			state.AmountDifferences = append(state.AmountDifferences, diff.TransactionID)
			finding := types.Finding{
				Agent: "L3Transaction",
				Level: types.LevelL3Transaction,
				Description: fmt.Sprintf(
					"Amount difference on matched transaction: %s (%s) - "+
						"CPU=%.2f, Incumbent=%.2f, Diff=%.2f",
					diff.TransactionID, diff.TransCode,
					diff.CPUAmount, diff.IncumbentAmount, diff.Difference),
				Evidence: map[string]any{
					types.EvidenceTransactionID:  diff.TransactionID,
					types.EvidenceTransCode:      diff.TransCode,
					types.EvidenceTradeDate:      diff.TradeDate,
					types.EvidenceAssetID:        pos.AssetID,
					types.EvidenceCPUValue:       diff.CPUAmount,
					types.EvidenceIncumbentValue: diff.IncumbentAmount,
					types.EvidenceDifference:     diff.Difference,
				},
				Confidence:        0.85,
				RecommendedAction: txmatch.DiffAction(diff.TransCode),
				Timestamp:         time.Now().UTC(),
			}
			state.L3Findings = append(state.L3Findings, finding)
			state.AddFinding(finding)
		}

		for _, t := range txns {
			if !txmatch.IsCorporateAction(t.TransCode) {
				continue
			}
			finding := types.Finding{
				Agent: "L3Transaction",
				Level: types.LevelL3Transaction,
				Description: fmt.Sprintf(
					"Corporate action detected: %s for %s on %s. Amount: %.2f. "+
						"Requires corporate action validation.",
					t.TransCode, pos.AssetID, t.TradeDate, t.AmountBase),
				Evidence: map[string]any{
					types.EvidenceTransactionID: t.TransactionID,
					types.EvidenceTransCode:     t.TransCode,
					types.EvidenceTradeDate:     t.TradeDate,
					types.EvidenceAssetID:       pos.AssetID,
					types.EvidenceSystem:        t.System,
					"amount_base":               t.AmountBase,
				},
				Confidence:        0.70,
				RecommendedAction: "Invoke corporate action specialist",
				Timestamp:         time.Now().UTC(),
			}
			state.L3Findings = append(state.L3Findings, finding)
			state.AddFinding(finding)
		}
	}

	// CA findings above may add the corporate action specialist.
	e.dispatcher.Plan(state)

	summary := types.Finding{
		Agent: "L3Transaction",
		Level: types.LevelL3Transaction,
		Description: fmt.Sprintf(
			"Transaction forensics complete: %d matched, %d orphans, %d amount differences.",
			len(state.MatchedTransactions), len(state.OrphanTransactions),
			len(state.AmountDifferences)),
		Evidence: map[string]any{
			"matched_count": len(state.MatchedTransactions),
			"orphan_count":  len(state.OrphanTransactions),
			"diff_count":    len(state.AmountDifferences),
		},
		Confidence:        0.85,
		RecommendedAction: "Match against historical break patterns",
		Timestamp:         time.Now().UTC(),
	}
	state.L3Findings = append(state.L3Findings, summary)
	state.AddFinding(summary)
	state.AddTrace("l3_transaction", "transaction_forensics_complete",
		fmt.Sprintf("matched=%d orphans=%d diffs=%d",
			len(state.MatchedTransactions), len(state.OrphanTransactions),
			len(state.AmountDifferences)))
}

// runPatternMatching classifies the break and looks it up against the
// historical pattern library. It always appends at least one finding.
func (e *Engine) runPatternMatching(ctx context.Context, state *types.RunState, log *zap.Logger) {
	state.Phase = types.PhasePatternMatching
	state.PatternSearched = true
	alert := state.Alert

	state.BreakCategory = e.classifyBreakCategory(ctx, state, log)

	patterns, err := e.patterns.SearchPatterns(ctx, state.BreakCategory, alert.VarianceAbsolute, alert.FundType)
	if err != nil {
		log.Warn("pattern search failed, treating as no matches", zap.Error(err))
		patterns = nil
	}
	for _, p := range patterns {
		state.MatchedPatterns = append(state.MatchedPatterns, p.PatternID)
		finding := types.Finding{
			Agent: "PatternMatch",
			Level: types.LevelPatternMatch,
			Description: fmt.Sprintf(
				"Matched historical pattern: '%s' (seen %d times, avg confidence %.0f%%). "+
					"Resolution: %s",
				p.PatternName, p.OccurrenceCount, p.AvgConfidence*100,
				orDefault(p.ResolutionTemplate, "N/A")),
			Evidence: map[string]any{
				types.EvidencePatternID: p.PatternID,
				"pattern_name":          p.PatternName,
				"occurrence_count":      p.OccurrenceCount,
			},
			Confidence:        p.AvgConfidence,
			RecommendedAction: orDefault(p.ResolutionTemplate, "Apply known resolution"),
			Timestamp:         time.Now().UTC(),
		}
		state.PatternFindings = append(state.PatternFindings, finding)
		state.AddFinding(finding)
	}

	similar, err := e.patterns.FindSimilarBreaks(ctx, alert.Account)
	if err != nil {
		log.Warn("similar break search failed, treating as none", zap.Error(err))
		similar = nil
	}
	if len(similar) > 0 {
		for _, b := range similar {
			state.SimilarBreaks = append(state.SimilarBreaks, b.BreakID)
		}
		finding := types.Finding{
			Agent: "PatternMatch",
			Level: types.LevelPatternMatch,
			Description: fmt.Sprintf(
				"Found %d similar historical breaks. Most common resolution: %s",
				len(similar), orUnknown(similar[0].ResolutionType)),
			Evidence:          map[string]any{"similar_breaks": state.SimilarBreaks},
			Confidence:        0.80,
			RecommendedAction: "Review similar break resolutions for guidance",
			Timestamp:         time.Now().UTC(),
		}
		state.PatternFindings = append(state.PatternFindings, finding)
		state.AddFinding(finding)
	}

	if len(patterns) == 0 && len(similar) == 0 {
		finding := types.Finding{
			Agent: "PatternMatch",
			Level: types.LevelPatternMatch,
			Description: "No matching historical patterns found. " +
				"This appears to be a novel break type.",
			Confidence:        0.50,
			RecommendedAction: "Escalate to human analyst for novel pattern investigation",
			Timestamp:         time.Now().UTC(),
		}
		state.PatternFindings = append(state.PatternFindings, finding)
		state.AddFinding(finding)
	}

	state.AddTrace("pattern_match", "pattern_matching_complete",
		fmt.Sprintf("category=%s patterns=%d similar=%d",
			state.BreakCategory, len(patterns), len(similar)))
}

func (e *Engine) classifyBreakCategory(ctx context.Context, state *types.RunState, log *zap.Logger) string {
	descriptions := make([]string, 0, len(state.AllFindings))
	for _, f := range state.AllFindings {
		descriptions = append(descriptions, f.Description)
	}
	combined := strings.Join(descriptions, " ")
	if len(combined) > classifyInputLimit {
		combined = combined[:classifyInputLimit]
	}

	category, err := e.reasoner.Classify(ctx, combined, breakCategories)
	if err != nil {
		log.Warn("break category classification fallback", zap.Error(err))
		return fallbackBreakCategory
	}
	return category
}

// finalize aggregates findings, writes the narrative, evaluates escalation,
// and moves the run to its terminal phase.
func (e *Engine) finalize(ctx context.Context, state *types.RunState, log *zap.Logger) {
	state.Phase = types.PhaseReportGen
	state.AddTrace(supervisorStage, "finalizing_analysis", "")

	state.RootCauses = aggregate.RootCauses(state.AllFindings)
	state.OverallConfidence = aggregate.OverallConfidence(state.AllFindings)
	state.RootCauseNarrative = e.narrative(ctx, state, log)

	state.EscalationReasons = e.policy.Evaluate(state)
	state.ShouldEscalate = len(state.EscalationReasons) > 0

	if state.ShouldEscalate {
		state.Phase = types.PhaseEscalated
		kinds := make([]string, 0, len(state.EscalationReasons))
		for _, r := range state.EscalationReasons {
			kinds = append(kinds, string(r.Kind))
		}
		log.Info("analysis escalated to human review",
			zap.Strings("reasons", kinds),
			zap.Float64("overall_confidence", state.OverallConfidence))
	} else {
		state.Phase = types.PhaseCompleted
		log.Info("analysis complete",
			zap.Int("root_causes", len(state.RootCauses)),
			zap.Float64("overall_confidence", state.OverallConfidence))
	}
	state.AddTrace(supervisorStage, "analysis_terminal", string(state.Phase))
}

// narrative produces the plain-language report. When the reasoner is
// unavailable it assembles a deterministic narrative from the top causes.
func (e *Engine) narrative(ctx context.Context, state *types.RunState, log *zap.Logger) string {
	if len(state.RootCauses) == 0 {
		return "No root causes identified. Manual investigation required."
	}
	alert := state.Alert

	top := state.RootCauses
	if len(top) > 5 {
		top = top[:5]
	}
	var lines []string
	for _, rc := range top {
		lines = append(lines, fmt.Sprintf("- [%s] %s (confidence: %.0f%%)",
			rc.Level, rc.Description, rc.Confidence*100))
	}

	prompt := fmt.Sprintf(
		"You are a senior fund accounting analyst writing a root cause analysis "+
			"report. Write a clear, concise narrative explaining the NAV break root "+
			"cause(s). Use plain language suitable for operations managers. Include "+
			"specific numbers and evidence. Structure: 1) Summary, 2) Root Cause(s), "+
			"3) Recommended Actions.\n\n"+
			"Break Context:\nFund: %s, Share Class: %s, NAV Date: %s, Variance: %.2f (%.4f%%)\n\n"+
			"Analysis Findings:\n%s",
		alert.Account, alert.ShareClass, alert.ValuationDate,
		alert.VarianceAbsolute, alert.VarianceRelative*100,
		strings.Join(lines, "\n"))

	text, err := e.reasoner.Summarize(ctx, prompt)
	if err != nil {
		log.Warn("narrative fallback", zap.Error(err))
		causes := make([]string, 0, 3)
		for i, rc := range state.RootCauses {
			if i == 3 {
				break
			}
			desc := rc.Description
			if len(desc) > 100 {
				desc = desc[:100]
			}
			causes = append(causes, desc)
		}
		return fmt.Sprintf(
			"Analysis identified %d root cause(s) for the NAV variance of %.2f in fund %s: %s",
			len(state.RootCauses), alert.VarianceAbsolute, alert.Account,
			strings.Join(causes, "; "))
	}
	return text
}

func orUnknown(s string) string {
	return orDefault(s, "Unknown")
}

func orNone(s string) string {
	return orDefault(s, "None")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
