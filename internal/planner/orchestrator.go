// Package planner owns the draft, validate and swap protocol that turns a
// draft plan into the active plan for a target.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gogetter/internal/adapters"
	"gogetter/internal/feasibility"
	"gogetter/internal/goals"
	"gogetter/internal/guard"
	"gogetter/internal/metrics"
	"gogetter/internal/store"
)

// Orchestrator drafts plans and swaps them in atomically.
type Orchestrator struct {
	store       *store.Store
	drafter     adapters.PlanDrafter
	feasibility *feasibility.Engine
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Orchestrator)

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(s *store.Store, drafter adapters.PlanDrafter, eng *feasibility.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       s,
		drafter:     drafter,
		feasibility: eng,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Boundary is the freeze boundary for the orchestrator's clock.
func (o *Orchestrator) Boundary() time.Time {
	return FreezeBoundary(o.now())
}

// GenerateRequest asks for a new plan version for one target.
type GenerateRequest struct {
	TargetID          int64
	Start             time.Time
	End               time.Time
	Constraint        goals.Constraint
	GroupID           *int64
	ExtraInstructions string
	// DeactivateExisting activates the draft when it validates, superseding
	// the target's current plan. Wizard drafts leave it false.
	DeactivateExisting bool
}

// GenerateResult describes the outcome of Generate. Plan is always the new
// version; it stays a draft unless Activated.
type GenerateResult struct {
	Plan        *goals.Plan             `json:"plan"`
	Feasibility goals.FeasibilityResult `json:"feasibility"`
	Activated   bool                    `json:"activated"`
	Boundary    time.Time               `json:"boundary"`
	Activation  *Activation             `json:"activation,omitempty"`
}

// Activation reports what a swap changed.
type Activation struct {
	PlanID          int64  `json:"plan_id"`
	TargetID        int64  `json:"target_id"`
	SupersededID    *int64 `json:"superseded_id,omitempty"`
	SupersededTasks int    `json:"superseded_tasks"`
}

// Generate drafts a new plan version, validates it for its target and,
// when requested and valid, swaps it in. The drafting call happens before
// any transaction is opened.
func (o *Orchestrator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	const op = "planner.generate"

	target, err := o.store.GetTarget(ctx, req.TargetID)
	if err != nil {
		return nil, store.Classify(op, err)
	}
	gg, err := o.store.GetGoGetter(ctx, target.GoGetterID)
	if err != nil {
		return nil, store.Classify(op, err)
	}
	existing, err := o.store.ActivePlanForTarget(ctx, target.ID)
	if err != nil {
		return nil, &goals.Error{Kind: goals.KindFatal, Op: op, Err: err}
	}

	boundary := FreezeBoundary(o.now())
	start := goals.Day(req.Start)
	end := goals.Day(req.End)
	if existing != nil && start.Before(boundary) {
		start = boundary
	}
	if end.Before(start) {
		return nil, goals.Validationf(op, "plan window %s..%s ends before %s",
			goals.Day(req.Start).Format(goals.DateLayout), end.Format(goals.DateLayout), start.Format(goals.DateLayout))
	}

	began := time.Now()
	draft, err := o.drafter.Draft(ctx, adapters.DraftRequest{
		GoGetterName:      gg.Name,
		Grade:             gg.Grade,
		Target:            *target,
		Start:             start,
		End:               end,
		DailyMinutes:      req.Constraint.Minutes(),
		PreferredDays:     req.Constraint.Days(),
		ExtraInstructions: req.ExtraInstructions,
	})
	if err == nil {
		err = adapters.ValidateDraft(draft)
	}
	o.metrics.ObserveDraft(err, time.Since(began))
	if err != nil {
		o.logger.Warn("plan draft failed", "target_id", target.ID, "drafter", o.drafter.Name(), "error", err)
		return nil, goals.Upstream("planner.draft", err)
	}

	var plan *goals.Plan
	err = o.store.Update(ctx, func(tx *store.Tx) error {
		version, err := tx.NextPlanVersion(ctx, target.ID)
		if err != nil {
			return err
		}
		plan, err = BuildPlan(target.ID, version, start, end, draft)
		if err != nil {
			return goals.Upstream("planner.draft", err)
		}
		plan.GroupID = req.GroupID
		return tx.InsertPlan(ctx, plan)
	})
	if err != nil {
		return nil, store.Classify(op, err)
	}
	o.logger.Info("draft plan created", "target_id", target.ID, "plan_id", plan.ID, "version", plan.Version)

	spec := goals.TargetSpec{TargetID: target.ID, SubcategoryID: target.SubcategoryID, Priority: target.Priority}
	verdict, err := o.feasibility.EvaluateTarget(ctx, target.GoGetterID, spec, req.Start, req.End, req.Constraint)
	if err != nil {
		return nil, err
	}
	res := &GenerateResult{Plan: plan, Feasibility: verdict, Boundary: boundary}
	if !req.DeactivateExisting || !verdict.Passed {
		if !verdict.Passed {
			o.logger.Info("draft plan failed validation", "plan_id", plan.ID, "risks", verdict.Codes())
		}
		return res, nil
	}

	err = o.store.Update(ctx, func(tx *store.Tx) error {
		res.Activation, err = ActivateDraft(ctx, tx, plan.ID, boundary)
		return err
	})
	if err != nil {
		return nil, o.activationFailed(op, plan.ID, err)
	}
	o.metrics.ObserveActivation(1)
	plan.Status = goals.PlanActive
	res.Activated = true
	o.logger.Info("plan activated", "target_id", target.ID, "plan_id", plan.ID, "superseded_id", res.Activation.SupersededID)
	return res, nil
}

func (o *Orchestrator) activationFailed(op string, planID int64, err error) error {
	if goals.KindOf(err) == goals.KindFatal {
		o.logger.Error("plan activation invariant violated", "plan_id", planID, "error", err)
	}
	return store.Classify(op, err)
}

// ActivateDraft promotes a draft inside tx. The target's current plan, if
// any, has its tasks from boundary onward superseded and is itself
// superseded by the draft. A draft that would start before boundary while
// a plan is live is a conflict: the weeks in between would run twice. The transaction must end with exactly one
// active plan for the target.
func ActivateDraft(ctx context.Context, tx *store.Tx, draftID int64, boundary time.Time) (*Activation, error) {
	const op = "plan.activate"

	draft, err := tx.GetPlan(ctx, draftID)
	if err != nil {
		return nil, store.Classify(op, err)
	}
	if draft.Status != goals.PlanDraft {
		return nil, goals.Conflictf(op, "plan %d is %s, not draft", draft.ID, draft.Status)
	}
	prev, err := tx.ActivePlanForTarget(ctx, draft.TargetID)
	if err != nil {
		return nil, &goals.Error{Kind: goals.KindFatal, Op: op, Err: err}
	}

	if prev != nil && draft.StartDate.Before(boundary) {
		return nil, goals.Conflictf(op,
			"plan %d starts %s, before the freeze boundary %s; regenerate the draft",
			draft.ID, draft.StartDate.Format(goals.DateLayout), boundary.Format(goals.DateLayout))
	}

	act := &Activation{PlanID: draft.ID, TargetID: draft.TargetID}
	if prev != nil {
		n, err := tx.SupersedeTasksFrom(ctx, prev.ID, boundary)
		if err != nil {
			return nil, err
		}
		if err := tx.SupersedePlan(ctx, prev.ID, draft.ID); err != nil {
			return nil, store.Classify(op, err)
		}
		prevID := prev.ID
		act.SupersededID = &prevID
		act.SupersededTasks = n
	}
	if err := tx.TransitionPlan(ctx, draft.ID, goals.PlanDraft, goals.PlanActive); err != nil {
		return nil, store.Classify(op, err)
	}
	if err := guard.AssertSingleActivePlan(ctx, tx, op, draft.TargetID); err != nil {
		return nil, err
	}
	return act, nil
}

// RetirePlan ends a target's active plan without a successor: tasks from
// boundary onward are superseded and the plan is cancelled.
func RetirePlan(ctx context.Context, tx *store.Tx, planID int64, boundary time.Time) (int, error) {
	n, err := tx.SupersedeTasksFrom(ctx, planID, boundary)
	if err != nil {
		return 0, err
	}
	if err := tx.TransitionPlan(ctx, planID, goals.PlanActive, goals.PlanCancelled); err != nil {
		return 0, store.Classify("plan.retire", err)
	}
	return n, nil
}

// Describe renders a one-line summary for logs and notifications.
func (r *GenerateResult) Describe() string {
	state := "draft"
	if r.Activated {
		state = "active"
	}
	return fmt.Sprintf("plan %d v%d %s (%d risks)", r.Plan.ID, r.Plan.Version, state, len(r.Feasibility.Risks))
}
