package adapters

import (
	"context"
	"time"

	"gogetter/internal/goals"
)

// PlanDrafter drafts a study plan for one target. Implementations may be
// slow and may fail; callers never hold a transaction open across Draft.
type PlanDrafter interface {
	Name() string
	Draft(ctx context.Context, req DraftRequest) (*Draft, error)
}

// Enricher returns one human-readable explanation per risk, in order.
type Enricher interface {
	Explain(ctx context.Context, risks []goals.Risk) ([]string, error)
}

// DraftRequest describes the plan to draft.
type DraftRequest struct {
	GoGetterName      string
	Grade             string
	Target            goals.Target
	Start             time.Time
	End               time.Time
	DailyMinutes      int
	PreferredDays     []int
	ExtraInstructions string
}

// TotalWeeks is the number of weeks the draft must cover.
func (r DraftRequest) TotalWeeks() int {
	return goals.TotalWeeks(r.Start, r.End)
}

// Draft is the structured plan returned by a drafter.
type Draft struct {
	Title    string      `json:"title" validate:"required"`
	Overview string      `json:"overview"`
	Weeks    []DraftWeek `json:"weeks" validate:"required,min=1,dive"`
}

type DraftWeek struct {
	WeekNumber  int         `json:"week_number" validate:"gte=1"`
	Title       string      `json:"title" validate:"required"`
	Description string      `json:"description"`
	Tasks       []DraftTask `json:"tasks" validate:"dive"`
}

type DraftTask struct {
	DayOfWeek        int    `json:"day_of_week" validate:"gte=0,lte=6"`
	SequenceInDay    int    `json:"sequence_in_day" validate:"gte=0"`
	Title            string `json:"title" validate:"required"`
	Description      string `json:"description"`
	EstimatedMinutes int    `json:"estimated_minutes" validate:"gte=1,lte=600"`
	TaskType         string `json:"task_type"`
	XPReward         int    `json:"xp_reward" validate:"gte=0"`
	IsOptional       bool   `json:"is_optional"`
}
