package wizard

import (
	"context"

	"gogetter/internal/audit"
	"gogetter/internal/goals"
	"gogetter/internal/guard"
	"gogetter/internal/notify"
	"gogetter/internal/planner"
	"gogetter/internal/store"
)

const defaultGroupTitle = "My Goal Group"

// Confirmation is the outcome of a successful Confirm.
type Confirmation struct {
	Wizard      *goals.Wizard        `json:"wizard"`
	Group       *goals.GoalGroup     `json:"group"`
	Activations []planner.Activation `json:"activations"`
}

// Confirm creates the goal group and activates every draft in a single
// transaction. Any failure leaves no group, no activated draft and the
// wizard in its previous state.
func (s *Service) Confirm(ctx context.Context, actor goals.Actor, wizardID int64) (*Confirmation, error) {
	const op = "wizard.confirm"

	w, err := s.load(ctx, actor, op, wizardID, guard.CapWizardWrite)
	if err != nil {
		return nil, err
	}
	if err := s.writable(op, w); err != nil {
		return nil, err
	}
	if err := confirmable(op, w); err != nil {
		return nil, err
	}

	boundary := s.planner.Boundary()
	res := &Confirmation{}
	err = s.store.Update(ctx, func(tx *store.Tx) error {
		cur, err := tx.GetWizard(ctx, wizardID)
		if err != nil {
			return err
		}
		if err := confirmable(op, cur); err != nil {
			return err
		}
		if err := guard.AssertNoActiveGroup(ctx, tx, op, cur.GoGetterID); err != nil {
			return err
		}

		title := cur.Title
		if title == "" {
			title = defaultGroupTitle
		}
		group := &goals.GoalGroup{
			GoGetterID:   cur.GoGetterID,
			Title:        title,
			Description:  cur.Description,
			Status:       goals.GroupActive,
			WindowStart:  *cur.WindowStart,
			WindowEnd:    *cur.WindowEnd,
			ReplanStatus: goals.ReplanIdle,
			Constraints:  cur.Constraints,
		}
		if err := tx.CreateGoalGroup(ctx, group); err != nil {
			return err
		}

		targetIDs := make([]int64, 0, len(cur.DraftPlanIDs))
		for _, planID := range cur.DraftPlanIDs {
			act, err := planner.ActivateDraft(ctx, tx, planID, boundary)
			if err != nil {
				return err
			}
			if err := assertTargetJoinable(ctx, tx, op, cur.GoGetterID, act.TargetID); err != nil {
				return err
			}
			if err := tx.SetPlanGroup(ctx, planID, group.ID); err != nil {
				return err
			}
			targetIDs = append(targetIDs, act.TargetID)
			res.Activations = append(res.Activations, *act)
		}
		if err := tx.SetTargetGroup(ctx, group.ID, targetIDs...); err != nil {
			return err
		}

		expect := cur.State
		cur.State = goals.WizardConfirmed
		cur.GoalGroupID = &group.ID
		if err := tx.SaveWizard(ctx, cur, expect); err != nil {
			return err
		}
		res.Wizard = cur
		res.Group = group
		return nil
	})
	if err != nil {
		if goals.KindOf(err) == goals.KindFatal {
			s.logger.Error("wizard confirmation invariant violated", "wizard_id", wizardID, "error", err)
		}
		return nil, store.Classify(op, err)
	}

	s.metrics.ObserveActivation(len(res.Activations))
	s.metrics.ObserveWizard(goals.WizardConfirmed)
	s.logger.Info("wizard confirmed",
		"wizard_id", res.Wizard.ID,
		"group_id", res.Group.ID,
		"plans", len(res.Activations),
	)
	s.audit.Record(ctx, actor, audit.EventWizardConfirmed, map[string]any{
		"wizard_id":   res.Wizard.ID,
		"group_id":    res.Group.ID,
		"activations": res.Activations,
	})
	for _, act := range res.Activations {
		s.audit.Record(ctx, actor, audit.EventPlanActivated, act)
	}
	title, msg := notify.FormatGroupConfirmed(res.Group.Title, len(res.Activations))
	s.announce(ctx, title, msg)
	return res, nil
}

// confirmable checks the wizard-local preconditions of Confirm.
func confirmable(op string, w *goals.Wizard) error {
	switch {
	case w.State.Terminal():
		return goals.Conflictf(op, "wizard %d is in terminal state '%s' and cannot be modified", w.ID, w.State)
	case w.Feasibility == nil:
		return goals.Conflictf(op, "feasibility check has not been run yet")
	case !w.Feasibility.Passed:
		return goals.Conflictf(op, "cannot confirm: wizard has blocking feasibility issues; fix them or adjust first")
	case w.State != goals.WizardFeasibilityCheck:
		return goals.Conflictf(op, "wizard %d is %s, not %s", w.ID, w.State, goals.WizardFeasibilityCheck)
	case len(w.GenerationErrors) > 0:
		return goals.Conflictf(op, "cannot confirm: plan generation failed for %d target(s); adjust to retry or remove them", len(w.GenerationErrors))
	case len(w.DraftPlanIDs) == 0:
		return goals.Conflictf(op, "no draft plans found; set constraints first")
	case w.WindowStart == nil || w.WindowEnd == nil:
		return goals.Conflictf(op, "wizard %d has no scope", w.ID)
	}
	return nil
}

// assertTargetJoinable refuses targets that are no longer active or whose
// subcategory is taken by another active target.
func assertTargetJoinable(ctx context.Context, tx *store.Tx, op string, goGetterID, targetID int64) error {
	target, err := tx.GetTarget(ctx, targetID)
	if err != nil {
		return err
	}
	if target.Status != goals.TargetActive {
		return goals.Conflictf(op, "target %d is %s", target.ID, target.Status)
	}
	return guard.AssertSubcategoryAvailable(ctx, tx, op, goGetterID, target.SubcategoryID, target.ID)
}
