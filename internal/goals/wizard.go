package goals

import "time"

// WizardState is a node of the guided group-creation state machine.
type WizardState string

const (
	WizardCollectingScope       WizardState = "collecting_scope"
	WizardCollectingTargets     WizardState = "collecting_targets"
	WizardCollectingConstraints WizardState = "collecting_constraints"
	WizardGeneratingPlans       WizardState = "generating_plans"
	WizardFeasibilityCheck      WizardState = "feasibility_check"
	WizardAdjusting             WizardState = "adjusting"
	WizardConfirmed             WizardState = "confirmed"
	WizardCancelled             WizardState = "cancelled"
	WizardFailed                WizardState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s WizardState) Terminal() bool {
	switch s {
	case WizardConfirmed, WizardCancelled, WizardFailed:
		return true
	}
	return false
}

// TerminalWizardStates lists the terminal states, for storage filters.
var TerminalWizardStates = []WizardState{WizardConfirmed, WizardCancelled, WizardFailed}

// Wizard is the persisted record of one guided group creation.
type Wizard struct {
	ID               int64              `json:"id"`
	GoGetterID       int64              `json:"go_getter_id"`
	State            WizardState        `json:"state"`
	Title            string             `json:"title,omitempty"`
	Description      string             `json:"description,omitempty"`
	WindowStart      *time.Time         `json:"window_start,omitempty"`
	WindowEnd        *time.Time         `json:"window_end,omitempty"`
	TargetSpecs      []TargetSpec       `json:"target_specs"`
	Constraints      ConstraintMap      `json:"constraints"`
	DraftPlanIDs     []int64            `json:"draft_plan_ids"`
	GenerationErrors []GenerationError  `json:"generation_errors,omitempty"`
	Feasibility      *FeasibilityResult `json:"feasibility,omitempty"`
	ExpiresAt        time.Time          `json:"expires_at"`
	GoalGroupID      *int64             `json:"goal_group_id,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// FeasibilityPassed reports whether a check ran and found no blocker.
func (w *Wizard) FeasibilityPassed() bool {
	return w.Feasibility != nil && w.Feasibility.Passed
}
