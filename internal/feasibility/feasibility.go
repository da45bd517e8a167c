// Package feasibility turns constraint findings and live state into a
// verdict that gates wizard confirmation and plan activation.
package feasibility

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gogetter/internal/adapters"
	"gogetter/internal/constraints"
	"gogetter/internal/goals"
	"gogetter/internal/metrics"
	"gogetter/internal/store"
)

// Reader is the live state the engine consults. *store.Store and *store.Tx
// both satisfy it.
type Reader interface {
	ActivePlans(ctx context.Context, goGetterID int64) ([]store.ActivePlanRef, error)
	ActiveGroupForGoGetter(ctx context.Context, goGetterID int64) (*goals.GoalGroup, error)
}

// Engine evaluates candidates. It is safe for concurrent use.
type Engine struct {
	reader   Reader
	limits   constraints.Limits
	enricher adapters.Enricher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Engine)

// WithEnricher attaches a best-effort explanation collaborator.
func WithEnricher(e adapters.Enricher) Option {
	return func(eng *Engine) { eng.enricher = e }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(eng *Engine) { eng.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(eng *Engine) { eng.now = now }
}

func New(reader Reader, limits constraints.Limits, opts ...Option) *Engine {
	e := &Engine{
		reader: reader,
		limits: limits,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Limits returns the thresholds the engine applies.
func (e *Engine) Limits() constraints.Limits {
	return e.limits
}

// Snapshot loads the go getter's live plans and group.
func (e *Engine) Snapshot(ctx context.Context, goGetterID int64) (constraints.Snapshot, error) {
	var snap constraints.Snapshot
	refs, err := e.reader.ActivePlans(ctx, goGetterID)
	if err != nil {
		return snap, fmt.Errorf("load active plans: %w", err)
	}
	for _, ref := range refs {
		if ref.TargetStatus != goals.TargetActive {
			continue
		}
		snap.ActivePlans = append(snap.ActivePlans, constraints.ActivePlan{
			PlanID:        ref.PlanID,
			Title:         ref.PlanTitle,
			TargetID:      ref.TargetID,
			SubcategoryID: ref.SubcategoryID,
		})
	}
	group, err := e.reader.ActiveGroupForGoGetter(ctx, goGetterID)
	if err != nil {
		return snap, fmt.Errorf("load active group: %w", err)
	}
	if group != nil {
		id := group.ID
		snap.ActiveGroupID = &id
	}
	return snap, nil
}

// Evaluate checks a whole candidate group against live state.
func (e *Engine) Evaluate(ctx context.Context, goGetterID int64, c constraints.Candidate) (goals.FeasibilityResult, error) {
	snap, err := e.Snapshot(ctx, goGetterID)
	if err != nil {
		return goals.FeasibilityResult{}, err
	}
	return e.evaluate(ctx, c, snap), nil
}

// EvaluateTarget checks a single target's plan window. Group-level state is
// not part of a single-target scope, and the target's own active plan never
// counts as a collision.
func (e *Engine) EvaluateTarget(ctx context.Context, goGetterID int64, spec goals.TargetSpec, start, end time.Time, c goals.Constraint) (goals.FeasibilityResult, error) {
	snap, err := e.Snapshot(ctx, goGetterID)
	if err != nil {
		return goals.FeasibilityResult{}, err
	}
	snap.ActiveGroupID = nil
	candidate := constraints.Candidate{
		WindowStart: &start,
		WindowEnd:   &end,
		Specs:       []goals.TargetSpec{spec},
		Constraints: goals.ConstraintMap{goals.SubcategoryKey(spec.SubcategoryID): c},
	}
	return e.evaluate(ctx, candidate, snap), nil
}

func (e *Engine) evaluate(ctx context.Context, c constraints.Candidate, snap constraints.Snapshot) goals.FeasibilityResult {
	res := goals.NewFeasibilityResult(constraints.Check(c, snap, e.limits), e.now())
	e.enrich(ctx, res.Risks)
	e.metrics.ObserveFeasibility(res)
	return res
}

// enrich fills Explanation in place. Failures leave the raw messages.
func (e *Engine) enrich(ctx context.Context, risks []goals.Risk) {
	if e.enricher == nil || len(risks) == 0 {
		return
	}
	explanations, err := e.enricher.Explain(ctx, risks)
	if err != nil {
		e.metrics.ObserveEnrichmentFailure()
		e.logger.Warn("feasibility enrichment failed", "error", err)
		return
	}
	if len(explanations) != len(risks) {
		e.metrics.ObserveEnrichmentFailure()
		e.logger.Warn("feasibility enrichment discarded", "risks", len(risks), "explanations", len(explanations))
		return
	}
	for i := range risks {
		risks[i].Explanation = explanations[i]
	}
}
