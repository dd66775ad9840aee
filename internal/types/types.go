// Package types defines the shared data model for the navrecon drill-down
// engine: the break alert input, the per-level variance and finding records,
// and the run state that every analysis stage reads from and writes to.
package types

import (
	"time"
)

// AnalysisPhase is the current phase of a drill-down run. Transitions are
// one-directional; a run never re-enters a phase.
type AnalysisPhase string

const (
	PhaseInitiated       AnalysisPhase = "INITIATED"
	PhaseL0NAV           AnalysisPhase = "L0_NAV"
	PhaseL1GL            AnalysisPhase = "L1_GL"
	PhaseL2SubLedger     AnalysisPhase = "L2_SUBLEDGER"
	PhaseL3Transaction   AnalysisPhase = "L3_TRANSACTION"
	PhaseSpecialist      AnalysisPhase = "SPECIALIST"
	PhasePatternMatching AnalysisPhase = "PATTERN_MATCHING"
	PhaseReportGen       AnalysisPhase = "REPORT_GENERATION"
	PhaseEscalated       AnalysisPhase = "ESCALATED"
	PhaseCompleted       AnalysisPhase = "COMPLETED"
)

// Terminal reports whether the phase ends a run.
func (p AnalysisPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseEscalated
}

// BreakDriver is the primary driver classification assigned at L0.
type BreakDriver string

const (
	DriverIncome          BreakDriver = "INCOME_DRIVEN"
	DriverExpense         BreakDriver = "EXPENSE_DRIVEN"
	DriverPosition        BreakDriver = "POSITION_DRIVEN"
	DriverCapitalActivity BreakDriver = "CAPITAL_ACTIVITY_DRIVEN"
	DriverMultiFactor     BreakDriver = "MULTI_FACTOR"
)

// BreakDrivers lists every driver category, in classification order.
var BreakDrivers = []BreakDriver{
	DriverIncome, DriverExpense, DriverPosition, DriverCapitalActivity, DriverMultiFactor,
}

// Strategy is the triage strategy chosen when a run initializes.
type Strategy string

const (
	StrategyCriticalFullDrillDown Strategy = "CRITICAL_FULL_DRILL_DOWN"
	StrategyStandardDrillDown     Strategy = "STANDARD_DRILL_DOWN"
	StrategyQuickCheck            Strategy = "QUICK_CHECK"
)

// Finding level tags. A Finding's Level must be one of these.
const (
	LevelL0NAV         = "L0_NAV"
	LevelL1GL          = "L1_GL"
	LevelL2SubLedger   = "L2_SUBLEDGER"
	LevelL3Transaction = "L3_TRANSACTION"
	LevelPricing       = "SPECIALIST_PRICING"
	LevelCA            = "SPECIALIST_CA"
	LevelAccrual       = "SPECIALIST_ACCRUAL"
	LevelFX            = "SPECIALIST_FX"
	LevelPatternMatch  = "PATTERN_MATCH"
)

// BreakAlert is the immutable input describing a detected top-level NAV
// mismatch between the new (CPU) system and the incumbent system. It is
// created once by the break-detection collaborator and never mutated.
type BreakAlert struct {
	BreakID             string  `json:"break_id"`
	Account             string  `json:"account"`
	ShareClass          string  `json:"share_class"`
	ValuationDate       string  `json:"valuation_date"` // YYYY-MM-DD
	CPUNAV              float64 `json:"cpu_nav"`
	IncumbentNAV        float64 `json:"incumbent_nav"`
	VarianceAbsolute    float64 `json:"variance_absolute"`
	VarianceRelative    float64 `json:"variance_relative"`
	SharesOutstanding   float64 `json:"shares_outstanding"`
	NAVPerShareVariance float64 `json:"nav_per_share_variance"`
	FundType            string  `json:"fund_type,omitempty"`
	SourceSystem        string  `json:"source_system,omitempty"`
}

// Empty reports whether the alert carries no identifiable break.
// An empty alert means there is nothing to analyze, not an error.
func (a *BreakAlert) Empty() bool {
	return a == nil || a.BreakID == ""
}

// VarianceDetail captures variance data at any reconciliation level:
// a NAV component, a GL category, a position, or a transaction. The
// producing stage owns it; it is read-only afterward.
type VarianceDetail struct {
	Component        string           `json:"component"`
	CPUValue         float64          `json:"cpu_value"`
	IncumbentValue   float64          `json:"incumbent_value"`
	VarianceAbsolute float64          `json:"variance_absolute"`
	VarianceRelative float64          `json:"variance_relative"`
	IsMaterial       bool             `json:"is_material"`
	SubDetails       []VarianceDetail `json:"sub_details,omitempty"`
}

// Well-known evidence keys. Finding evidence is a structured key/value map;
// stages populate the keys relevant to their level so the aggregator and
// specialists can read evidence without guessing at free-form payloads.
const (
	EvidenceAssetID          = "asset_id"
	EvidenceTransCode        = "trans_code"
	EvidenceTransactionID    = "transaction_id"
	EvidenceTradeDate        = "trade_date"
	EvidenceSystem           = "system"
	EvidenceCPUValue         = "cpu_value"
	EvidenceIncumbentValue   = "incumbent_value"
	EvidenceVarianceAbsolute = "variance_absolute"
	EvidenceVarianceRelative = "variance_relative"
	EvidenceDifference       = "difference"
	EvidenceGLBucket         = "gl_bucket"
	EvidencePrimaryDriver    = "primary_driver"
	EvidencePatternID        = "pattern_id"
)

// Finding is a single result from one analysis stage. Findings are
// append-only: every stage adds to the run's ordered sequence and never
// removes or alters a prior finding.
type Finding struct {
	Agent             string         `json:"agent"`
	Level             string         `json:"level"`
	Description       string         `json:"description"`
	Evidence          map[string]any `json:"evidence,omitempty"`
	Confidence        float64        `json:"confidence"`
	RecommendedAction string         `json:"recommended_action,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// ReasonKind enumerates why a run escalates to human review.
type ReasonKind string

const (
	ReasonLowConfidence     ReasonKind = "LOW_CONFIDENCE"
	ReasonCriticalMagnitude ReasonKind = "CRITICAL_MAGNITUDE"
	ReasonNovelPattern      ReasonKind = "NOVEL_PATTERN"
	ReasonConflictingCauses ReasonKind = "CONFLICTING_CAUSES"
	// ReasonConfigChange is reserved for config-drift detection; the
	// current policy never fires it.
	ReasonConfigChange ReasonKind = "CONFIG_CHANGE"
)

// EscalationReason explains one fired escalation rule.
type EscalationReason struct {
	Kind        ReasonKind `json:"kind"`
	Description string     `json:"description"`
	Threshold   float64    `json:"threshold,omitempty"`
	Actual      float64    `json:"actual,omitempty"`
}

// RootCause is one aggregated, deduplicated cause extracted from the
// run's findings, ordered by descending confidence.
type RootCause struct {
	Agent             string         `json:"agent"`
	Level             string         `json:"level"`
	Description       string         `json:"description"`
	Confidence        float64        `json:"confidence"`
	Evidence          map[string]any `json:"evidence,omitempty"`
	RecommendedAction string         `json:"recommended_action,omitempty"`
}

// TraceEntry is one audit-trail record of a stage action.
type TraceEntry struct {
	Stage     string    `json:"stage"`
	Action    string    `json:"action"`
	Step      int       `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// BreakingPosition describes one position whose variance is material.
type BreakingPosition struct {
	AssetID          string  `json:"asset_id"`
	CPUValue         float64 `json:"cpu_value"`
	IncumbentValue   float64 `json:"incumbent_value"`
	VarianceAbsolute float64 `json:"variance_absolute"`
	VarianceRelative float64 `json:"variance_relative"`
	Currency         string  `json:"currency,omitempty"`
}

// RunState is the aggregate root for one drill-down run. It is created
// when a BreakAlert arrives, mutated monotonically by each stage, and
// becomes immutable once the phase is terminal.
type RunState struct {
	RunID string      `json:"run_id"`
	Alert *BreakAlert `json:"alert,omitempty"`

	Phase    AnalysisPhase `json:"phase"`
	Strategy Strategy      `json:"strategy,omitempty"`

	// L0
	NAVVariance   *VarianceDetail `json:"nav_variance,omitempty"`
	PrimaryDriver BreakDriver     `json:"primary_driver,omitempty"`
	L0Findings    []Finding       `json:"l0_findings,omitempty"`

	// L1
	GLVariances     []VarianceDetail `json:"gl_variances,omitempty"`
	BreakingBuckets []string         `json:"breaking_buckets,omitempty"`
	L1Findings      []Finding        `json:"l1_findings,omitempty"`

	// L2
	PositionVariances []VarianceDetail   `json:"position_variances,omitempty"`
	BreakingPositions []BreakingPosition `json:"breaking_positions,omitempty"`
	L2Findings        []Finding          `json:"l2_findings,omitempty"`

	// L3
	MatchedTransactions []string  `json:"matched_transactions,omitempty"`
	OrphanTransactions  []string  `json:"orphan_transactions,omitempty"`
	AmountDifferences   []string  `json:"amount_differences,omitempty"`
	L3Findings          []Finding `json:"l3_findings,omitempty"`

	// Specialists
	SpecialistFindings []Finding `json:"specialist_findings,omitempty"`
	specialistsInvoked []string
	specialistSeen     map[string]bool

	// Pattern matching. PatternSearched records that the pattern stage ran;
	// runs that short-circuit before it must not be treated as novel.
	PatternSearched bool      `json:"pattern_searched"`
	BreakCategory   string    `json:"break_category,omitempty"`
	MatchedPatterns []string  `json:"matched_patterns,omitempty"`
	SimilarBreaks   []string  `json:"similar_breaks,omitempty"`
	PatternFindings []Finding `json:"pattern_findings,omitempty"`

	// Aggregates
	AllFindings        []Finding   `json:"all_findings,omitempty"`
	RootCauses         []RootCause `json:"root_causes,omitempty"`
	OverallConfidence  float64     `json:"overall_confidence"`
	RootCauseNarrative string      `json:"root_cause_narrative,omitempty"`

	// Escalation
	ShouldEscalate    bool               `json:"should_escalate"`
	EscalationReasons []EscalationReason `json:"escalation_reasons,omitempty"`

	Trace []TraceEntry `json:"trace,omitempty"`
	step  int
}

// NewRunState creates the run state for one alert.
func NewRunState(runID string, alert *BreakAlert) *RunState {
	return &RunState{
		RunID:          runID,
		Alert:          alert,
		Phase:          PhaseInitiated,
		specialistSeen: map[string]bool{},
	}
}

// AddFinding appends a finding to the run's ordered sequence. Insertion
// order is causal order; callers also bucket the finding per level.
func (s *RunState) AddFinding(f Finding) {
	s.AllFindings = append(s.AllFindings, f)
	s.step++
}

// AddTrace appends an audit-trail entry for the current step.
func (s *RunState) AddTrace(stage, action, detail string) {
	s.Trace = append(s.Trace, TraceEntry{
		Stage:     stage,
		Action:    action,
		Step:      s.step,
		Timestamp: time.Now().UTC(),
		Detail:    detail,
	})
}

// InvokeSpecialist records a specialist in the worklist. The worklist has
// set semantics with insertion order preserved; duplicates are ignored.
// Returns true when the specialist was newly added.
func (s *RunState) InvokeSpecialist(name string) bool {
	if s.specialistSeen == nil {
		s.specialistSeen = map[string]bool{}
	}
	if s.specialistSeen[name] {
		return false
	}
	s.specialistSeen[name] = true
	s.specialistsInvoked = append(s.specialistsInvoked, name)
	return true
}

// SpecialistsInvoked returns the worklist in insertion order.
func (s *RunState) SpecialistsInvoked() []string {
	out := make([]string, len(s.specialistsInvoked))
	copy(out, s.specialistsInvoked)
	return out
}

// CategoryBalance is one GL category total for one system.
type CategoryBalance struct {
	Category     string  `json:"category"`
	TotalBalance float64 `json:"total_balance"`
	AccountCount int     `json:"account_count"`
}

// Position is one sub-ledger holding as reported by one system.
type Position struct {
	AssetID             string  `json:"asset_id"`
	System              string  `json:"system"`
	Shares              float64 `json:"shares"`
	MarketValueBase     float64 `json:"market_value_base"`
	BookValueBase       float64 `json:"book_value_base,omitempty"`
	IncomeBase          float64 `json:"income_base,omitempty"`
	MarketPrice         float64 `json:"market_price,omitempty"`
	Currency            string  `json:"currency,omitempty"`
	SecurityType        string  `json:"security_type,omitempty"`
	SecurityDescription string  `json:"security_description,omitempty"`
}

// Txn is one transaction as reported by one system.
type Txn struct {
	TransactionID string  `json:"transaction_id"`
	System        string  `json:"system"`
	AssetID       string  `json:"asset_id"`
	TransCode     string  `json:"trans_code"`
	TradeDate     string  `json:"trade_date"` // YYYY-MM-DD
	SettleDate    string  `json:"settle_date,omitempty"`
	Units         float64 `json:"units,omitempty"`
	AmountBase    float64 `json:"amount_base"`
	Currency      string  `json:"currency,omitempty"`
}

// Pattern is a matched historical break pattern from the pattern store.
type Pattern struct {
	PatternID          string  `json:"pattern_id"`
	PatternName        string  `json:"pattern_name"`
	OccurrenceCount    int     `json:"occurrence_count"`
	AvgConfidence      float64 `json:"avg_confidence"`
	ResolutionTemplate string  `json:"resolution_template,omitempty"`
}

// HistoricalBreak is one structurally similar resolved break.
type HistoricalBreak struct {
	BreakID          string  `json:"break_id"`
	Category         string  `json:"category,omitempty"`
	VarianceAbsolute float64 `json:"variance_absolute"`
	RootCauseSummary string  `json:"root_cause_summary,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`
	ResolutionType   string  `json:"resolution_type,omitempty"`
}
