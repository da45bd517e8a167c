// Package groups manages an active goal group after confirmation: target
// membership changes, the rolling change limit and group re-planning.
package groups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gogetter/internal/audit"
	"gogetter/internal/goals"
	"gogetter/internal/guard"
	"gogetter/internal/guardrails"
	"gogetter/internal/metrics"
	"gogetter/internal/notify"
	"gogetter/internal/planner"
	"gogetter/internal/store"
)

const continuityInstruction = "This is a re-plan triggered by a group change: %s. Maintain continuity with the previous plan."

// Service runs group operations on behalf of an actor.
type Service struct {
	store    *store.Store
	planner  *planner.Orchestrator
	guard    *guard.Guard
	policy   *guard.Policy
	audit    *audit.Logger
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Service)

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

func New(s *store.Store, p *planner.Orchestrator, g *guard.Guard, opts ...Option) *Service {
	svc := &Service{
		store:    s,
		planner:  p,
		guard:    g,
		policy:   guard.DefaultPolicy(),
		notifier: &notify.Log{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// View is a group with its targets and their active plans.
type View struct {
	Group   *goals.GoalGroup `json:"group"`
	Targets []goals.Target   `json:"targets"`
	Plans   []goals.Plan     `json:"plans"`
}

// ChangeResult is the outcome of a group change and the re-plan it caused.
type ChangeResult struct {
	Change *goals.GoalGroupChange `json:"change"`
	Replan *ReplanResult          `json:"replan,omitempty"`
}

// ReplanResult reports what a re-plan did per target.
type ReplanResult struct {
	GroupID   int64                   `json:"group_id"`
	ChangeID  int64                   `json:"change_id"`
	Boundary  time.Time               `json:"boundary"`
	Activated []planner.Activation    `json:"activated"`
	Retired   []int64                 `json:"retired,omitempty"`
	Failed    []goals.GenerationError `json:"failed,omitempty"`
	// Completed is set when the window had already closed and the group
	// was marked completed.
	Completed bool `json:"completed,omitempty"`
}

// CompleteResult reports the groups closed by a completion sweep.
type CompleteResult struct {
	Groups   int     `json:"groups"`
	GroupIDs []int64 `json:"group_ids,omitempty"`
}

// CancelResult reports a cancelled group and the plans it retired.
type CancelResult struct {
	Group   *goals.GoalGroup       `json:"group"`
	Change  *goals.GoalGroupChange `json:"change"`
	Retired []int64                `json:"retired,omitempty"`
}

// Show returns the group, its targets and their active plans.
func (s *Service) Show(ctx context.Context, actor goals.Actor, groupID int64) (*View, error) {
	const op = "group.show"
	group, err := s.authorized(ctx, actor, op, groupID, guard.CapGroupRead)
	if err != nil {
		return nil, err
	}
	targets, err := s.store.ListGroupTargets(ctx, group.ID, "")
	if err != nil {
		return nil, err
	}
	view := &View{Group: group, Targets: targets}
	for _, t := range targets {
		p, err := s.store.ActivePlanForTarget(ctx, t.ID)
		if err != nil {
			return nil, &goals.Error{Kind: goals.KindFatal, Op: op, Err: err}
		}
		if p != nil {
			view.Plans = append(view.Plans, *p)
		}
	}
	return view, nil
}

// Changes lists the group's change log, oldest first.
func (s *Service) Changes(ctx context.Context, actor goals.Actor, groupID int64) ([]goals.GoalGroupChange, error) {
	group, err := s.authorized(ctx, actor, "group.changes", groupID, guard.CapGroupRead)
	if err != nil {
		return nil, err
	}
	return s.store.ListChanges(ctx, group.ID)
}

// AddTarget attaches an active target to the group and re-plans.
func (s *Service) AddTarget(ctx context.Context, actor goals.Actor, groupID, targetID int64) (*ChangeResult, error) {
	const op = "group.add_target"
	group, err := s.changeable(ctx, actor, op, groupID)
	if err != nil {
		return nil, err
	}
	target, err := s.memberCandidate(ctx, op, group, targetID)
	if err != nil {
		return nil, err
	}

	change := &goals.GoalGroupChange{
		GroupID:    group.ID,
		ChangeType: goals.ChangeTargetAdded,
		TargetID:   &target.ID,
		NewValue:   map[string]any{"target_title": target.Title},
	}
	err = s.record(ctx, op, group.ID, change, func(tx *store.Tx) error {
		if err := guard.AssertSubcategoryAvailable(ctx, tx, op, group.GoGetterID, target.SubcategoryID, target.ID); err != nil {
			return err
		}
		return tx.SetTargetGroup(ctx, group.ID, target.ID)
	})
	if err != nil {
		return nil, err
	}
	return s.afterChange(ctx, actor, change)
}

// RemoveTarget cancels a member target, retires its active plan from the
// freeze boundary onward and re-plans the remaining targets.
func (s *Service) RemoveTarget(ctx context.Context, actor goals.Actor, groupID, targetID int64) (*ChangeResult, error) {
	const op = "group.remove_target"
	group, err := s.changeable(ctx, actor, op, groupID)
	if err != nil {
		return nil, err
	}
	target, err := s.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, store.Classify(op, err)
	}
	if target.GroupID == nil || *target.GroupID != group.ID {
		return nil, goals.Validationf(op, "target %d is not in goal group %d", target.ID, group.ID)
	}
	if target.Status != goals.TargetActive {
		return nil, goals.Conflictf(op, "target %d is already %s", target.ID, target.Status)
	}

	boundary := s.planner.Boundary()
	change := &goals.GoalGroupChange{
		GroupID:    group.ID,
		ChangeType: goals.ChangeTargetRemoved,
		TargetID:   &target.ID,
		OldValue:   map[string]any{"target_title": target.Title},
	}
	err = s.record(ctx, op, group.ID, change, func(tx *store.Tx) error {
		if err := tx.SetTargetStatus(ctx, target.ID, goals.TargetCancelled); err != nil {
			return err
		}
		active, err := tx.ActivePlanForTarget(ctx, target.ID)
		if err != nil {
			return &goals.Error{Kind: goals.KindFatal, Op: op, Err: err}
		}
		if active == nil {
			return nil
		}
		n, err := planner.RetirePlan(ctx, tx, active.ID, boundary)
		if err != nil {
			return err
		}
		change.OldValue["plan_id"] = active.ID
		change.OldValue["superseded_tasks"] = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.afterChange(ctx, actor, change)
}

// RequestReplan records a manual re-plan request and runs it.
func (s *Service) RequestReplan(ctx context.Context, actor goals.Actor, groupID int64, reason string) (*ChangeResult, error) {
	const op = "group.request_replan"
	group, err := s.changeable(ctx, actor, op, groupID)
	if err != nil {
		return nil, err
	}
	change := &goals.GoalGroupChange{
		GroupID:    group.ID,
		ChangeType: goals.ChangeReplanRequested,
		NewValue:   map[string]any{"reason": strings.TrimSpace(reason)},
	}
	if err := s.record(ctx, op, group.ID, change, nil); err != nil {
		return nil, err
	}
	return s.afterChange(ctx, actor, change)
}

// Replan regenerates every active member target's plan from the freeze
// boundary to the end of the group window, holding the group's re-plan
// token throughout. The token always returns to idle.
func (s *Service) Replan(ctx context.Context, groupID int64, change *goals.GoalGroupChange) (res *ReplanResult, err error) {
	const op = "group.replan"

	if err := s.guard.AcquireReplan(ctx, groupID); err != nil {
		s.metrics.ObserveReplan(err)
		return nil, err
	}
	defer func() {
		if rerr := s.guard.ReleaseReplan(context.WithoutCancel(ctx), groupID); rerr != nil {
			s.logger.Error("failed to release replan token", "group_id", groupID, "error", rerr)
			if err == nil {
				err = rerr
			}
		}
		s.metrics.ObserveReplan(err)
	}()

	group, err := s.store.GetGoalGroup(ctx, groupID)
	if err != nil {
		return nil, store.Classify(op, err)
	}
	targets, err := s.store.ListGroupTargets(ctx, group.ID, goals.TargetActive)
	if err != nil {
		return nil, err
	}

	boundary := s.planner.Boundary()
	res = &ReplanResult{GroupID: group.ID, ChangeID: change.ID, Boundary: boundary}
	s.audit.Record(ctx, goals.System, audit.EventReplanStarted, map[string]any{
		"group_id":  group.ID,
		"change_id": change.ID,
		"targets":   len(targets),
	})

	diffs := map[int64]string{}
	for _, target := range targets {
		if boundary.After(group.WindowEnd) {
			retired, err := s.retire(ctx, target.ID, boundary)
			if err != nil {
				return nil, err
			}
			if retired != 0 {
				res.Retired = append(res.Retired, retired)
			}
			continue
		}

		start := group.WindowStart
		if start.Before(boundary) {
			start = boundary
		}
		gen, err := s.planner.Generate(ctx, planner.GenerateRequest{
			TargetID:           target.ID,
			Start:              start,
			End:                group.WindowEnd,
			Constraint:         group.Constraints.For(target.SubcategoryID),
			GroupID:            &group.ID,
			ExtraInstructions:  fmt.Sprintf(continuityInstruction, change.ChangeType),
			DeactivateExisting: true,
		})
		switch {
		case err != nil:
			s.logger.Warn("replan target failed", "group_id", group.ID, "target_id", target.ID, "error", err)
			res.Failed = append(res.Failed, goals.GenerationError{TargetID: target.ID, Error: guardrails.SanitizeError(err)})
		case !gen.Activated:
			res.Failed = append(res.Failed, goals.GenerationError{
				TargetID: target.ID,
				Error:    fmt.Sprintf("draft plan %d failed validation: %v", gen.Plan.ID, gen.Feasibility.Codes()),
			})
		default:
			s.logger.Info("replan target", "group_id", group.ID, "target_id", target.ID, "result", gen.Describe())
			res.Activated = append(res.Activated, *gen.Activation)
			if d := s.diff(ctx, gen.Activation); d != "" {
				diffs[gen.Plan.ID] = d
			}
		}
	}

	if boundary.After(group.WindowEnd) {
		if err := s.store.TransitionGroup(ctx, group.ID, goals.GroupActive, goals.GroupCompleted); err != nil {
			return nil, store.Classify(op, err)
		}
		res.Completed = true
		s.metrics.ObserveGroupsClosed(goals.GroupCompleted, 1)
	}

	var primary *int64
	if len(res.Activated) > 0 {
		id := res.Activated[0].PlanID
		primary = &id
	}
	if change.ID != 0 {
		if err := s.store.MarkChangeReplanned(ctx, change.ID, s.guard.Now(), primary); err != nil {
			return nil, err
		}
	}

	s.logger.Info("group replan complete",
		"group_id", group.ID,
		"activated", len(res.Activated),
		"retired", len(res.Retired),
		"failed", len(res.Failed),
		"completed", res.Completed,
	)
	s.audit.Record(ctx, goals.System, audit.EventReplanFinished, map[string]any{
		"result": res,
		"diffs":  diffs,
	})
	title, msg := notify.FormatReplan(group.Title, string(change.ChangeType), len(res.Activated), len(res.Failed))
	s.announce(ctx, title, msg)
	return res, nil
}

// Complete marks every active group whose window closed before today as
// completed, freeing the go getter for a new group. Groups holding the
// re-plan token are left for the next sweep.
func (s *Service) Complete(ctx context.Context) (CompleteResult, error) {
	const op = "group.complete"
	var res CompleteResult
	today := goals.Day(s.guard.Now())
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		ended, err := tx.EndedActiveGroups(ctx, today)
		if err != nil {
			return err
		}
		for _, g := range ended {
			if g.ReplanStatus != goals.ReplanIdle {
				continue
			}
			if err := tx.TransitionGroup(ctx, g.ID, goals.GroupActive, goals.GroupCompleted); err != nil {
				return err
			}
			res.GroupIDs = append(res.GroupIDs, g.ID)
		}
		return nil
	})
	if err != nil {
		return CompleteResult{}, store.Classify(op, err)
	}
	res.Groups = len(res.GroupIDs)
	if res.Groups == 0 {
		return res, nil
	}

	s.metrics.ObserveGroupsClosed(goals.GroupCompleted, res.Groups)
	s.logger.Info("goal groups completed", "groups", res.Groups, "group_ids", res.GroupIDs)
	s.audit.Record(ctx, goals.System, audit.EventGroupsCompleted, res)
	return res, nil
}

// Cancel ends an active group early. Each member's live plan is retired
// from the freeze boundary; the lived-in week is left as it is. The group
// holds its re-plan token while this runs, so a concurrent re-plan gets a
// conflict.
func (s *Service) Cancel(ctx context.Context, actor goals.Actor, groupID int64, reason string) (res *CancelResult, err error) {
	const op = "group.cancel"
	group, err := s.authorized(ctx, actor, op, groupID, guard.CapGroupWrite)
	if err != nil {
		return nil, err
	}
	if group.Status != goals.GroupActive {
		return nil, goals.Conflictf(op, "goal group %d is %s", group.ID, group.Status)
	}
	if err := s.guard.AcquireReplan(ctx, group.ID); err != nil {
		return nil, err
	}
	defer func() {
		if rerr := s.guard.ReleaseReplan(context.WithoutCancel(ctx), group.ID); rerr != nil {
			s.logger.Error("failed to release replan token", "group_id", group.ID, "error", rerr)
			if err == nil {
				err = rerr
			}
		}
	}()

	boundary := s.planner.Boundary()
	res = &CancelResult{Change: &goals.GoalGroupChange{
		GroupID:    group.ID,
		ChangeType: goals.ChangeGroupCancelled,
		NewValue:   map[string]any{"reason": strings.TrimSpace(reason)},
	}}
	err = s.store.Update(ctx, func(tx *store.Tx) error {
		targets, err := tx.ListGroupTargets(ctx, group.ID, goals.TargetActive)
		if err != nil {
			return err
		}
		for _, target := range targets {
			active, err := tx.ActivePlanForTarget(ctx, target.ID)
			if err != nil {
				return &goals.Error{Kind: goals.KindFatal, Op: op, Err: err}
			}
			if active == nil {
				continue
			}
			if _, err := planner.RetirePlan(ctx, tx, active.ID, boundary); err != nil {
				return err
			}
			res.Retired = append(res.Retired, active.ID)
		}
		if err := tx.TransitionGroup(ctx, group.ID, goals.GroupActive, goals.GroupCancelled); err != nil {
			return err
		}
		return tx.RecordChange(ctx, res.Change)
	})
	if err != nil {
		return nil, store.Classify(op, err)
	}

	res.Group, err = s.store.GetGoalGroup(ctx, group.ID)
	if err != nil {
		return nil, store.Classify(op, err)
	}
	s.metrics.ObserveGroupsClosed(goals.GroupCancelled, 1)
	s.logger.Info("goal group cancelled", "group_id", group.ID, "retired", len(res.Retired))
	s.audit.Record(ctx, actor, audit.EventGroupCancelled, res)
	return res, nil
}

// retire ends a target's active plan when no future weeks remain.
func (s *Service) retire(ctx context.Context, targetID int64, boundary time.Time) (int64, error) {
	var retired int64
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		active, err := tx.ActivePlanForTarget(ctx, targetID)
		if err != nil {
			return &goals.Error{Kind: goals.KindFatal, Op: "group.replan", Err: err}
		}
		if active == nil {
			return nil
		}
		if _, err := planner.RetirePlan(ctx, tx, active.ID, boundary); err != nil {
			return err
		}
		retired = active.ID
		return nil
	})
	return retired, err
}

func (s *Service) diff(ctx context.Context, act *planner.Activation) string {
	if act.SupersededID == nil {
		return ""
	}
	prev, err := s.store.GetPlanDetail(ctx, *act.SupersededID)
	if err != nil {
		return ""
	}
	next, err := s.store.GetPlanDetail(ctx, act.PlanID)
	if err != nil {
		return ""
	}
	d, err := planner.DiffPlans(prev, next)
	if err != nil {
		s.logger.Debug("plan diff failed", "plan_id", act.PlanID, "error", err)
		return ""
	}
	return d
}

// authorized loads a group and checks the actor against its go getter.
func (s *Service) authorized(ctx context.Context, actor goals.Actor, op string, groupID int64, capability guard.Capability) (*goals.GoalGroup, error) {
	group, err := s.store.GetGoalGroup(ctx, groupID)
	if err != nil {
		return nil, store.Classify(op, err)
	}
	gg, err := s.store.GetGoGetter(ctx, group.GoGetterID)
	if err != nil {
		return nil, store.Classify(op, err)
	}
	if err := s.policy.Authorize(actor, gg, capability); err != nil {
		return nil, err
	}
	return group, nil
}

// changeable authorizes a write and applies the group-level change gates.
func (s *Service) changeable(ctx context.Context, actor goals.Actor, op string, groupID int64) (*goals.GoalGroup, error) {
	group, err := s.authorized(ctx, actor, op, groupID, guard.CapGroupWrite)
	if err != nil {
		return nil, err
	}
	if group.Status != goals.GroupActive {
		return nil, goals.Conflictf(op, "goal group %d is %s", group.ID, group.Status)
	}
	if group.ReplanStatus == goals.ReplanInProgress {
		return nil, goals.Conflictf(op, "another re-plan is already in progress for goal group %d", group.ID)
	}
	if err := s.guard.AssertChangeAllowed(group); err != nil {
		return nil, err
	}
	return group, nil
}

func (s *Service) memberCandidate(ctx context.Context, op string, group *goals.GoalGroup, targetID int64) (*goals.Target, error) {
	target, err := s.store.GetTarget(ctx, targetID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, goals.Validationf(op, "target %d not found", targetID)
	}
	if err != nil {
		return nil, err
	}
	switch {
	case target.GoGetterID != group.GoGetterID:
		return nil, goals.Validationf(op, "target %d does not belong to go getter %d", target.ID, group.GoGetterID)
	case target.Status != goals.TargetActive:
		return nil, goals.Conflictf(op, "target %d is %s", target.ID, target.Status)
	case target.GroupID != nil && *target.GroupID == group.ID:
		return nil, goals.Conflictf(op, "target %d is already in goal group %d", target.ID, group.ID)
	}
	return target, nil
}

// record writes a change in one transaction together with fn, re-checking
// the rolling limit against the stored group and stamping last_change_at.
func (s *Service) record(ctx context.Context, op string, groupID int64, change *goals.GoalGroupChange, fn func(tx *store.Tx) error) error {
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		group, err := tx.GetGoalGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if err := s.guard.AssertChangeAllowed(group); err != nil {
			return err
		}
		if fn != nil {
			if err := fn(tx); err != nil {
				return err
			}
		}
		if err := tx.RecordChange(ctx, change); err != nil {
			return err
		}
		return tx.SetLastChange(ctx, groupID, s.guard.Now())
	})
	if err != nil {
		return store.Classify(op, err)
	}
	s.logger.Info("goal group changed", "group_id", groupID, "change", change.ChangeType, "change_id", change.ID)
	return nil
}

func (s *Service) afterChange(ctx context.Context, actor goals.Actor, change *goals.GoalGroupChange) (*ChangeResult, error) {
	s.audit.Record(ctx, actor, audit.EventGroupChange, change)
	res := &ChangeResult{Change: change}
	replan, err := s.Replan(ctx, change.GroupID, change)
	if err != nil {
		return res, err
	}
	res.Replan = replan
	return res, nil
}

func (s *Service) announce(ctx context.Context, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, title, message); err != nil {
		s.logger.Warn("notification failed", "title", title, "error", err)
	}
}
