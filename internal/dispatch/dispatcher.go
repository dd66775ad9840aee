// Package dispatch selects and runs the domain specialists. Specialists are
// triggered on-demand from accumulated drill-down evidence, run in parallel,
// and contribute findings without ever failing the run.
package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"navrecon/internal/types"
)

// Specialist names, also used as the Agent field on produced findings.
const (
	SpecialistPricing         = "PricingSpecialist"
	SpecialistCorporateAction = "CorporateActionSpecialist"
	SpecialistAccrual         = "AccrualSpecialist"
	SpecialistFX              = "FXSpecialist"
)

// Specialist is one on-demand domain analyzer. Analyze is best-effort: a
// specialist degrades to deterministic fallback findings instead of
// returning an error, so the drill-down never aborts on specialist failure.
type Specialist interface {
	Name() string
	// Triggered reports whether the run's evidence warrants this specialist.
	Triggered(s *types.RunState) bool
	// Analyze inspects the run state (read-only) and returns its findings.
	Analyze(ctx context.Context, s *types.RunState) []types.Finding
}

// Dispatcher plans and executes the specialist worklist for a run.
type Dispatcher struct {
	specialists []Specialist
	log         *zap.Logger
}

// New builds a dispatcher with the standard four specialists.
func New(store types.LedgerStore, reasoner types.Reasoner, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		specialists: []Specialist{
			&Pricing{Store: store, Reasoner: reasoner, Log: log},
			&CorporateAction{Reasoner: reasoner, Log: log},
			&Accrual{Reasoner: reasoner, Log: log},
			&FX{Reasoner: reasoner, Log: log},
		},
		log: log,
	}
}

// NewWith builds a dispatcher over an explicit specialist list. Tests use it.
func NewWith(log *zap.Logger, specialists ...Specialist) *Dispatcher {
	return &Dispatcher{specialists: specialists, log: log}
}

// Plan evaluates every trigger against the run state and records fired
// specialists in the run's worklist. Re-planning is idempotent: a specialist
// already on the worklist stays there exactly once.
func (d *Dispatcher) Plan(s *types.RunState) []string {
	for _, sp := range d.specialists {
		if sp.Triggered(s) {
			if s.InvokeSpecialist(sp.Name()) {
				d.log.Debug("specialist triggered",
					zap.String("run_id", s.RunID),
					zap.String("specialist", sp.Name()))
			}
		}
	}
	return s.SpecialistsInvoked()
}

// Run executes every specialist on the worklist in parallel and appends
// their findings to the run state. Collection is serialized; findings are
// appended in worklist order regardless of completion order, so output is
// deterministic.
func (d *Dispatcher) Run(ctx context.Context, s *types.RunState) {
	worklist := s.SpecialistsInvoked()
	if len(worklist) == 0 {
		return
	}

	byName := make(map[string]Specialist, len(d.specialists))
	for _, sp := range d.specialists {
		byName[sp.Name()] = sp
	}

	var mu sync.Mutex
	results := make(map[string][]types.Finding, len(worklist))

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range worklist {
		sp, ok := byName[name]
		if !ok {
			d.log.Warn("unknown specialist on worklist",
				zap.String("run_id", s.RunID), zap.String("specialist", name))
			continue
		}
		g.Go(func() error {
			findings := sp.Analyze(gctx, s)
			mu.Lock()
			results[sp.Name()] = findings
			mu.Unlock()
			return nil
		})
	}
	// Specialists never return errors; Wait only joins the goroutines.
	_ = g.Wait()

	for _, name := range worklist {
		for _, f := range results[name] {
			s.SpecialistFindings = append(s.SpecialistFindings, f)
			s.AddFinding(f)
		}
		s.AddTrace(name, "specialist_analysis_complete", "")
	}
}

func newFinding(agent, level, description string, evidence map[string]any, confidence float64, action string) types.Finding {
	return types.Finding{
		Agent:             agent,
		Level:             level,
		Description:       description,
		Evidence:          evidence,
		Confidence:        confidence,
		RecommendedAction: action,
		Timestamp:         time.Now().UTC(),
	}
}
