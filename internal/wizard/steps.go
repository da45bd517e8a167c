package wizard

import (
	"context"
	"errors"
	"slices"

	"golang.org/x/sync/errgroup"

	"gogetter/internal/audit"
	"gogetter/internal/constraints"
	"gogetter/internal/goals"
	"gogetter/internal/guard"
	"gogetter/internal/guardrails"
	"gogetter/internal/planner"
	"gogetter/internal/store"
)

// SetScope records the title and window and moves on to target selection.
func (s *Service) SetScope(ctx context.Context, actor goals.Actor, wizardID int64, scope Scope) (*goals.Wizard, error) {
	const op = "wizard.set_scope"
	if err := validate.Struct(scope); err != nil {
		return nil, invalid(op, "scope", err)
	}
	start, end := goals.Day(scope.Start), goals.Day(scope.End)
	if err := constraints.CheckSpan(start, end, s.feasibility.Limits()); err != nil {
		return nil, goals.Validationf(op, "%v", err)
	}

	return s.step(ctx, actor, wizardID, op,
		[]goals.WizardState{goals.WizardCollectingScope, goals.WizardCollectingTargets, goals.WizardCollectingConstraints},
		func(w *goals.Wizard) error {
			w.Title = scope.Title
			w.Description = scope.Description
			w.WindowStart = &start
			w.WindowEnd = &end
			w.State = goals.WizardCollectingTargets
			return nil
		})
}

// SetTargets replaces the candidate targets. Subcategories always come from
// storage.
func (s *Service) SetTargets(ctx context.Context, actor goals.Actor, wizardID int64, targets []TargetInput) (*goals.Wizard, error) {
	const op = "wizard.set_targets"
	if err := validateTargets(op, targets); err != nil {
		return nil, err
	}

	return s.step(ctx, actor, wizardID, op,
		[]goals.WizardState{goals.WizardCollectingTargets, goals.WizardCollectingConstraints},
		func(w *goals.Wizard) error {
			specs, err := s.resolveTargets(ctx, op, w.GoGetterID, targets)
			if err != nil {
				return err
			}
			w.TargetSpecs = specs
			w.State = goals.WizardCollectingConstraints
			return nil
		})
}

// SetConstraints stores the per-subcategory budget, drafts a plan for every
// target and evaluates the whole candidate group.
func (s *Service) SetConstraints(ctx context.Context, actor goals.Actor, wizardID int64, m goals.ConstraintMap) (*goals.Wizard, error) {
	const op = "wizard.set_constraints"
	if err := validateConstraints(op, m); err != nil {
		return nil, err
	}
	return s.regenerate(ctx, actor, wizardID, op,
		[]goals.WizardState{goals.WizardCollectingConstraints},
		func(w *goals.Wizard) error {
			w.Constraints = goals.ConstraintMap{}.Merge(m)
			return nil
		})
}

// Adjust merges patch into the wizard, discards the previous drafts and
// runs generation and feasibility again.
func (s *Service) Adjust(ctx context.Context, actor goals.Actor, wizardID int64, patch Patch) (*goals.Wizard, error) {
	const op = "wizard.adjust"
	if patch.empty() {
		return nil, goals.Validationf(op, "patch changes nothing")
	}
	if len(patch.Targets) > 0 {
		if err := validateTargets(op, patch.Targets); err != nil {
			return nil, err
		}
	}
	if err := validateConstraints(op, patch.Constraints); err != nil {
		return nil, err
	}

	return s.regenerate(ctx, actor, wizardID, op,
		[]goals.WizardState{goals.WizardGeneratingPlans, goals.WizardFeasibilityCheck, goals.WizardAdjusting},
		func(w *goals.Wizard) error {
			specs, err := s.mergeTargets(ctx, op, w, patch)
			if err != nil {
				return err
			}
			w.TargetSpecs = specs
			w.Constraints = w.Constraints.Merge(patch.Constraints)
			return nil
		})
}

// RunFeasibility re-evaluates the current candidate without redrafting.
func (s *Service) RunFeasibility(ctx context.Context, actor goals.Actor, wizardID int64) (*goals.Wizard, error) {
	const op = "wizard.run_feasibility"
	return s.step(ctx, actor, wizardID, op,
		[]goals.WizardState{goals.WizardGeneratingPlans, goals.WizardFeasibilityCheck, goals.WizardAdjusting},
		func(w *goals.Wizard) error {
			return s.evaluate(ctx, w)
		})
}

// step applies a single-save transition guarded by the expected state.
func (s *Service) step(ctx context.Context, actor goals.Actor, wizardID int64, op string, allowed []goals.WizardState, apply func(*goals.Wizard) error) (*goals.Wizard, error) {
	w, err := s.load(ctx, actor, op, wizardID, guard.CapWizardWrite)
	if err != nil {
		return nil, err
	}
	if err := s.writable(op, w); err != nil {
		return nil, err
	}
	if err := expectState(op, w, allowed...); err != nil {
		return nil, err
	}

	expect := w.State
	err = s.isolated(ctx, op, w, func() error {
		if err := apply(w); err != nil {
			return err
		}
		return s.store.SaveWizard(ctx, w, expect)
	})
	if err != nil {
		return nil, store.Classify(op, err)
	}

	s.metrics.ObserveWizard(w.State)
	s.logger.Info("wizard step", "wizard_id", w.ID, "step", op, "state", w.State)
	s.audit.Record(ctx, actor, audit.EventWizardStep, map[string]any{
		"wizard_id": w.ID,
		"step":      op,
		"state":     w.State,
	})
	return w, nil
}

// regenerate applies a change, discards the previous drafts, drafts every
// target again and records the group verdict.
func (s *Service) regenerate(ctx context.Context, actor goals.Actor, wizardID int64, op string, allowed []goals.WizardState, apply func(*goals.Wizard) error) (*goals.Wizard, error) {
	w, err := s.load(ctx, actor, op, wizardID, guard.CapWizardWrite)
	if err != nil {
		return nil, err
	}
	if err := s.writable(op, w); err != nil {
		return nil, err
	}
	if err := expectState(op, w, allowed...); err != nil {
		return nil, err
	}
	if w.WindowStart == nil || w.WindowEnd == nil {
		return nil, goals.Conflictf(op, "wizard %d has no scope", w.ID)
	}

	err = s.isolated(ctx, op, w, func() error {
		if err := apply(w); err != nil {
			return err
		}
		if len(w.TargetSpecs) == 0 {
			return goals.Validationf(op, "wizard %d has no targets", w.ID)
		}

		expect := w.State
		stale := w.DraftPlanIDs
		w.State = goals.WizardGeneratingPlans
		w.DraftPlanIDs = nil
		w.GenerationErrors = nil
		w.Feasibility = nil
		err := s.store.Update(ctx, func(tx *store.Tx) error {
			if _, err := tx.CancelDraftPlans(ctx, stale); err != nil {
				return err
			}
			return tx.SaveWizard(ctx, w, expect)
		})
		if err != nil {
			return err
		}
		s.metrics.ObserveWizard(w.State)

		ids, genErrs := s.generateDrafts(ctx, w)
		w.DraftPlanIDs = ids
		w.GenerationErrors = genErrs
		if ctx.Err() != nil {
			s.discard(ids)
			return ctx.Err()
		}

		evalErr := s.evaluate(ctx, w)
		if err := s.store.SaveWizard(ctx, w, goals.WizardGeneratingPlans); err != nil {
			// Lost to a concurrent cancel or sweep; the new drafts are orphans.
			s.discard(ids)
			return err
		}
		return evalErr
	})
	if err != nil {
		return nil, store.Classify(op, err)
	}

	s.metrics.ObserveWizard(w.State)
	s.logger.Info("wizard drafts generated",
		"wizard_id", w.ID,
		"drafts", len(w.DraftPlanIDs),
		"generation_errors", len(w.GenerationErrors),
		"passed", w.FeasibilityPassed(),
		"state", w.State,
	)
	s.audit.Record(ctx, actor, audit.EventWizardStep, map[string]any{
		"wizard_id":         w.ID,
		"step":              op,
		"state":             w.State,
		"draft_plan_ids":    w.DraftPlanIDs,
		"generation_errors": w.GenerationErrors,
	})
	return w, nil
}

// evaluate runs the group check and picks the follow-up state.
func (s *Service) evaluate(ctx context.Context, w *goals.Wizard) error {
	verdict, err := s.feasibility.Evaluate(ctx, w.GoGetterID, candidate(w))
	if err != nil {
		return err
	}
	w.Feasibility = &verdict
	if verdict.Passed {
		w.State = goals.WizardFeasibilityCheck
	} else {
		w.State = goals.WizardAdjusting
	}
	return nil
}

// generateDrafts drafts one plan per target spec, in spec order. Live plans
// are never deactivated here.
func (s *Service) generateDrafts(ctx context.Context, w *goals.Wizard) ([]int64, []goals.GenerationError) {
	type outcome struct {
		planID int64
		err    error
	}
	outcomes := make([]outcome, len(w.TargetSpecs))

	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for i, spec := range w.TargetSpecs {
		i, spec := i, spec
		g.Go(func() error {
			res, err := s.planner.Generate(ctx, planner.GenerateRequest{
				TargetID:           spec.TargetID,
				Start:              *w.WindowStart,
				End:                *w.WindowEnd,
				Constraint:         w.Constraints.For(spec.SubcategoryID),
				DeactivateExisting: false,
			})
			if err != nil {
				outcomes[i].err = err
				return nil
			}
			outcomes[i].planID = res.Plan.ID
			return nil
		})
	}
	_ = g.Wait()

	var ids []int64
	var genErrs []goals.GenerationError
	for i, o := range outcomes {
		targetID := w.TargetSpecs[i].TargetID
		if o.err != nil {
			level := s.logger.Warn
			if goals.KindOf(o.err) == goals.KindFatal {
				level = s.logger.Error
			}
			level("wizard draft failed", "wizard_id", w.ID, "target_id", targetID, "error", o.err)
			genErrs = append(genErrs, goals.GenerationError{TargetID: targetID, Error: guardrails.SanitizeError(o.err)})
			continue
		}
		ids = append(ids, o.planID)
	}
	return ids, genErrs
}

// discard cancels drafts nobody references any more. It runs on a fresh
// context so a cancelled request still cleans up.
func (s *Service) discard(ids []int64) {
	if len(ids) == 0 {
		return
	}
	ctx := context.Background()
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		_, err := tx.CancelDraftPlans(ctx, ids)
		return err
	})
	if err != nil {
		s.logger.Error("failed to discard orphan drafts", "plan_ids", ids, "error", err)
	}
}

// resolveTargets looks every input up in storage and refuses targets of
// another go getter.
func (s *Service) resolveTargets(ctx context.Context, op string, goGetterID int64, inputs []TargetInput) ([]goals.TargetSpec, error) {
	specs := make([]goals.TargetSpec, 0, len(inputs))
	for _, in := range inputs {
		target, err := s.store.GetTarget(ctx, in.TargetID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, goals.Validationf(op, "target %d not found", in.TargetID)
		}
		if err != nil {
			return nil, err
		}
		if target.GoGetterID != goGetterID {
			return nil, goals.Validationf(op, "target %d does not belong to go getter %d", in.TargetID, goGetterID)
		}
		priority := in.Priority
		if priority == 0 {
			priority = goals.DefaultPriority
		}
		specs = append(specs, goals.TargetSpec{
			TargetID:      target.ID,
			SubcategoryID: target.SubcategoryID,
			Priority:      priority,
		})
	}
	return specs, nil
}

// mergeTargets applies a patch to the wizard's specs: removals first, then
// updates by target id, then new targets appended in patch order.
func (s *Service) mergeTargets(ctx context.Context, op string, w *goals.Wizard, patch Patch) ([]goals.TargetSpec, error) {
	patched, err := s.resolveTargets(ctx, op, w.GoGetterID, patch.Targets)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]goals.TargetSpec, len(patched))
	for _, spec := range patched {
		byID[spec.TargetID] = spec
	}

	out := make([]goals.TargetSpec, 0, len(w.TargetSpecs)+len(patched))
	seen := make(map[int64]bool, len(w.TargetSpecs))
	for _, spec := range w.TargetSpecs {
		if slices.Contains(patch.RemoveTargets, spec.TargetID) {
			continue
		}
		if p, ok := byID[spec.TargetID]; ok {
			spec = p
		}
		seen[spec.TargetID] = true
		out = append(out, spec)
	}
	for _, spec := range patched {
		if !seen[spec.TargetID] && !slices.Contains(patch.RemoveTargets, spec.TargetID) {
			seen[spec.TargetID] = true
			out = append(out, spec)
		}
	}
	return out, nil
}
