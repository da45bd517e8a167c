// Package wizard drives guided goal-group creation: scope, targets and
// constraints are collected step by step, drafts are generated without
// touching live plans, and confirmation swaps everything in at once.
package wizard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gogetter/internal/audit"
	"gogetter/internal/constraints"
	"gogetter/internal/feasibility"
	"gogetter/internal/goals"
	"gogetter/internal/guard"
	"gogetter/internal/guardrails"
	"gogetter/internal/metrics"
	"gogetter/internal/notify"
	"gogetter/internal/planner"
	"gogetter/internal/store"
)

const (
	DefaultTTL         = 24 * time.Hour
	DefaultParallelism = 4
)

// Service runs wizard steps on behalf of an actor.
type Service struct {
	store       *store.Store
	planner     *planner.Orchestrator
	feasibility *feasibility.Engine
	guard       *guard.Guard
	policy      *guard.Policy
	audit       *audit.Logger
	notifier    notify.Notifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time

	ttl             time.Duration
	parallelism     int
	verifyIsolation bool
}

type Option func(*Service)

// WithTTL sets how long a wizard may stay unfinished.
func WithTTL(d time.Duration) Option {
	return func(s *Service) { s.ttl = d }
}

// WithParallelism bounds concurrent draft generation.
func WithParallelism(n int) Option {
	return func(s *Service) { s.parallelism = n }
}

// WithIsolationCheck compares the active plan set before and after every
// pre-confirm step.
func WithIsolationCheck(on bool) Option {
	return func(s *Service) { s.verifyIsolation = on }
}

func WithPolicy(p *guard.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithAudit(l *audit.Logger) Option {
	return func(s *Service) { s.audit = l }
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(s *store.Store, p *planner.Orchestrator, eng *feasibility.Engine, g *guard.Guard, opts ...Option) *Service {
	svc := &Service{
		store:       s,
		planner:     p,
		feasibility: eng,
		guard:       g,
		policy:      guard.DefaultPolicy(),
		notifier:    &notify.Log{},
		logger:      slog.Default(),
		now:         time.Now,
		ttl:         DefaultTTL,
		parallelism: DefaultParallelism,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.parallelism < 1 {
		svc.parallelism = 1
	}
	return svc
}

// Create starts a wizard for a go getter that has none in progress.
func (s *Service) Create(ctx context.Context, actor goals.Actor, goGetterID int64) (*goals.Wizard, error) {
	const op = "wizard.create"

	gg, err := s.store.GetGoGetter(ctx, goGetterID)
	if err != nil {
		return nil, store.Classify(op, err)
	}
	if err := s.policy.Authorize(actor, gg, guard.CapWizardWrite); err != nil {
		return nil, err
	}

	w := &goals.Wizard{
		GoGetterID: gg.ID,
		State:      goals.WizardCollectingScope,
		ExpiresAt:  s.now().UTC().Add(s.ttl).Truncate(time.Second),
	}
	err = s.store.Update(ctx, func(tx *store.Tx) error {
		if err := guard.AssertNoActiveWizard(ctx, tx, op, gg.ID); err != nil {
			return err
		}
		return tx.CreateWizard(ctx, w)
	})
	if err != nil {
		return nil, store.Classify(op, err)
	}

	s.metrics.ObserveWizard(w.State)
	s.logger.Info("wizard created", "wizard_id", w.ID, "go_getter_id", gg.ID, "expires_at", w.ExpiresAt)
	s.audit.Record(ctx, actor, audit.EventWizardCreated, map[string]any{
		"wizard_id":    w.ID,
		"go_getter_id": gg.ID,
	})
	return w, nil
}

// Status returns the wizard snapshot.
func (s *Service) Status(ctx context.Context, actor goals.Actor, wizardID int64) (*goals.Wizard, error) {
	return s.load(ctx, actor, "wizard.status", wizardID, guard.CapWizardRead)
}

// Feasibility returns the last verdict recorded on the wizard.
func (s *Service) Feasibility(ctx context.Context, actor goals.Actor, wizardID int64) (*goals.FeasibilityResult, error) {
	const op = "wizard.feasibility"
	w, err := s.load(ctx, actor, op, wizardID, guard.CapWizardRead)
	if err != nil {
		return nil, err
	}
	if w.Feasibility == nil {
		return nil, goals.NotFoundf(op, "feasibility check has not been run for wizard %d", w.ID)
	}
	return w.Feasibility, nil
}

// Cancel discards the wizard's drafts and moves it to cancelled. Cancelling
// a terminal wizard returns it unchanged.
func (s *Service) Cancel(ctx context.Context, actor goals.Actor, wizardID int64) (*goals.Wizard, error) {
	const op = "wizard.cancel"

	w, err := s.load(ctx, actor, op, wizardID, guard.CapWizardWrite)
	if err != nil {
		return nil, err
	}
	if w.State.Terminal() {
		return w, nil
	}

	var drafts int
	changed := false
	err = s.store.Update(ctx, func(tx *store.Tx) error {
		cur, err := tx.GetWizard(ctx, wizardID)
		if err != nil {
			return err
		}
		w = cur
		if cur.State.Terminal() {
			return nil
		}
		if drafts, err = tx.CancelDraftPlans(ctx, cur.DraftPlanIDs); err != nil {
			return err
		}
		expect := cur.State
		cur.State = goals.WizardCancelled
		changed = true
		return tx.SaveWizard(ctx, cur, expect)
	})
	if err != nil {
		return nil, store.Classify(op, err)
	}
	if !changed {
		return w, nil
	}

	s.metrics.ObserveWizard(w.State)
	s.logger.Info("wizard cancelled", "wizard_id", w.ID, "drafts", drafts)
	s.audit.Record(ctx, actor, audit.EventWizardCancelled, map[string]any{
		"wizard_id":       w.ID,
		"drafts_canceled": drafts,
	})
	return w, nil
}

// Expire cancels every wizard whose TTL has elapsed.
func (s *Service) Expire(ctx context.Context) (guard.ExpireResult, error) {
	res, err := s.guard.ExpireStale(ctx, s.now().UTC())
	if err != nil {
		return res, err
	}
	if res.Wizards > 0 {
		s.audit.Record(ctx, goals.System, audit.EventWizardsExpired, res)
		title, msg := notify.FormatWizardsExpired(res.Wizards)
		s.announce(ctx, title, msg)
	}
	return res, nil
}

// load reads a wizard and authorizes the actor against its go getter. A
// wizard whose go getter vanished is failed when a write was requested.
func (s *Service) load(ctx context.Context, actor goals.Actor, op string, wizardID int64, capability guard.Capability) (*goals.Wizard, error) {
	w, err := s.store.GetWizard(ctx, wizardID)
	if err != nil {
		return nil, store.Classify(op, err)
	}
	gg, err := s.store.GetGoGetter(ctx, w.GoGetterID)
	if errors.Is(err, store.ErrNotFound) {
		if capability == guard.CapWizardWrite && !w.State.Terminal() {
			s.fail(ctx, w, goals.GenerationError{Error: "GoGetter not found"})
		}
		return nil, goals.NotFoundf(op, "go getter %d of wizard %d not found", w.GoGetterID, w.ID)
	}
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(actor, gg, capability); err != nil {
		return nil, err
	}
	return w, nil
}

// writable refuses terminal and expired wizards.
func (s *Service) writable(op string, w *goals.Wizard) error {
	if w.State.Terminal() {
		return goals.Conflictf(op, "wizard %d is in terminal state '%s' and cannot be modified", w.ID, w.State)
	}
	if s.now().After(w.ExpiresAt) {
		return goals.Conflictf(op, "wizard %d expired at %s", w.ID, w.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func expectState(op string, w *goals.Wizard, allowed ...goals.WizardState) error {
	for _, st := range allowed {
		if w.State == st {
			return nil
		}
	}
	return goals.Conflictf(op, "wizard %d is %s; expected one of %v", w.ID, w.State, allowed)
}

// fail moves w to failed and discards its drafts.
func (s *Service) fail(ctx context.Context, w *goals.Wizard, cause goals.GenerationError) {
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		if _, err := tx.CancelDraftPlans(ctx, w.DraftPlanIDs); err != nil {
			return err
		}
		expect := w.State
		w.State = goals.WizardFailed
		w.GenerationErrors = append(w.GenerationErrors, cause)
		return tx.SaveWizard(ctx, w, expect)
	})
	if err != nil {
		s.logger.Error("failed to mark wizard failed", "wizard_id", w.ID, "error", err)
		return
	}
	s.metrics.ObserveWizard(w.State)
	s.logger.Warn("wizard failed", "wizard_id", w.ID, "cause", cause.Error)
}

// isolated runs fn and, when verification is on, refuses if the go getter's
// active plan set moved while it ran.
func (s *Service) isolated(ctx context.Context, op string, w *goals.Wizard, fn func() error) error {
	if !s.verifyIsolation {
		return fn()
	}
	check, err := guardrails.NewIsolationCheck(ctx, s.store, w.GoGetterID)
	if err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	if err := check.CaptureAfter(ctx, s.store); err != nil {
		return err
	}
	if !check.HasChanges() {
		return nil
	}
	s.logger.Error("draft isolation violated", "wizard_id", w.ID, "step", op)
	s.audit.Record(ctx, goals.System, audit.EventIsolation, guardrails.BuildViolation("active_plans_changed", map[string]any{
		"wizard_id":   w.ID,
		"step":        op,
		"before_hash": check.BeforeHash,
		"after_hash":  check.AfterHash,
	}))
	return goals.Fatalf(op, "active plans of go getter %d changed before confirmation", w.GoGetterID)
}

func (s *Service) announce(ctx context.Context, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, title, message); err != nil {
		s.logger.Warn("notification failed", "title", title, "error", err)
	}
}

func candidate(w *goals.Wizard) constraints.Candidate {
	return constraints.Candidate{
		WindowStart: w.WindowStart,
		WindowEnd:   w.WindowEnd,
		Specs:       w.TargetSpecs,
		Constraints: w.Constraints,
	}
}
