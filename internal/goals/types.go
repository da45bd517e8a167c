package goals

import (
	"sort"
	"strconv"
	"time"
)

// DateLayout is the storage and wire layout for calendar dates.
const DateLayout = "2006-01-02"

// GroupStatus is the lifecycle of a GoalGroup. A draft group is never stored;
// wizards hold the candidate until confirmation.
type GroupStatus string

const (
	GroupActive    GroupStatus = "active"
	GroupCompleted GroupStatus = "completed"
	GroupCancelled GroupStatus = "cancelled"
)

// ReplanStatus is the optimistic lock token on a GoalGroup.
type ReplanStatus string

const (
	ReplanIdle       ReplanStatus = "idle"
	ReplanInProgress ReplanStatus = "in_progress"
)

type TargetStatus string

const (
	TargetActive     TargetStatus = "active"
	TargetCompleted  TargetStatus = "completed"
	TargetCancelled  TargetStatus = "cancelled"
	TargetSuperseded TargetStatus = "superseded"
)

type PlanStatus string

const (
	PlanDraft      PlanStatus = "draft"
	PlanActive     PlanStatus = "active"
	PlanCancelled  PlanStatus = "cancelled"
	PlanSuperseded PlanStatus = "superseded"
)

type TaskStatus string

const (
	TaskActive     TaskStatus = "active"
	TaskCancelled  TaskStatus = "cancelled"
	TaskSuperseded TaskStatus = "superseded"
)

// TaskType classifies a task. Unknown values from a drafter collapse to TaskOther.
type TaskType string

const (
	TaskReading  TaskType = "reading"
	TaskWriting  TaskType = "writing"
	TaskMath     TaskType = "math"
	TaskPractice TaskType = "practice"
	TaskReview   TaskType = "review"
	TaskProject  TaskType = "project"
	TaskQuiz     TaskType = "quiz"
	TaskOther    TaskType = "other"
)

// ParseTaskType maps a free-form type onto the known set.
func ParseTaskType(s string) TaskType {
	switch TaskType(s) {
	case TaskReading, TaskWriting, TaskMath, TaskPractice, TaskReview, TaskProject, TaskQuiz, TaskOther:
		return TaskType(s)
	case "":
		return TaskPractice
	default:
		return TaskOther
	}
}

// ChangeType names an entry in a GoalGroup's change log.
type ChangeType string

const (
	ChangeTargetAdded     ChangeType = "target_added"
	ChangeTargetRemoved   ChangeType = "target_removed"
	ChangeReplanRequested ChangeType = "replan_requested"
	ChangeGroupCancelled  ChangeType = "group_cancelled"
)

type BestPal struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type GoGetter struct {
	ID        int64     `json:"id"`
	BestPalID *int64    `json:"best_pal_id,omitempty"`
	Name      string    `json:"name"`
	Grade     string    `json:"grade"`
	CreatedAt time.Time `json:"created_at"`
}

// Target is a single goal tied to one taxonomy subcategory. SubcategoryID is
// immutable once the target exists.
type Target struct {
	ID            int64        `json:"id"`
	GoGetterID    int64        `json:"go_getter_id"`
	SubcategoryID int64        `json:"subcategory_id"`
	Title         string       `json:"title"`
	Subject       string       `json:"subject"`
	Description   string       `json:"description"`
	Priority      int          `json:"priority"`
	Status        TargetStatus `json:"status"`
	GroupID       *int64       `json:"group_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

type GoalGroup struct {
	ID           int64         `json:"id"`
	GoGetterID   int64         `json:"go_getter_id"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	Status       GroupStatus   `json:"status"`
	WindowStart  time.Time     `json:"window_start"`
	WindowEnd    time.Time     `json:"window_end"`
	LastChangeAt *time.Time    `json:"last_change_at,omitempty"`
	ReplanStatus ReplanStatus  `json:"replan_status"`
	Constraints  ConstraintMap `json:"constraints,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

type GoalGroupChange struct {
	ID                int64          `json:"id"`
	GroupID           int64          `json:"group_id"`
	ChangeType        ChangeType     `json:"change_type"`
	TargetID          *int64         `json:"target_id,omitempty"`
	OldValue          map[string]any `json:"old_value,omitempty"`
	NewValue          map[string]any `json:"new_value,omitempty"`
	TriggeredReplanAt *time.Time     `json:"triggered_replan_at,omitempty"`
	ReplanPlanID      *int64         `json:"replan_plan_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

type Plan struct {
	ID             int64             `json:"id"`
	TargetID       int64             `json:"target_id"`
	GroupID        *int64            `json:"group_id,omitempty"`
	Status         PlanStatus        `json:"status"`
	Version        int               `json:"version"`
	SupersededByID *int64            `json:"superseded_by_id,omitempty"`
	Title          string            `json:"title"`
	Overview       string            `json:"overview,omitempty"`
	StartDate      time.Time         `json:"start_date"`
	EndDate        time.Time         `json:"end_date"`
	TotalWeeks     int               `json:"total_weeks"`
	CreatedAt      time.Time         `json:"created_at"`
	Milestones     []WeeklyMilestone `json:"milestones,omitempty"`
}

type WeeklyMilestone struct {
	ID          int64     `json:"id"`
	PlanID      int64     `json:"plan_id"`
	WeekNumber  int       `json:"week_number"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Tasks       []Task    `json:"tasks,omitempty"`
}

type Task struct {
	ID               int64      `json:"id"`
	MilestoneID      int64      `json:"milestone_id"`
	DayOfWeek        int        `json:"day_of_week"`
	SequenceInDay    int        `json:"sequence_in_day"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	TaskType         TaskType   `json:"task_type"`
	XPReward         int        `json:"xp_reward"`
	IsOptional       bool       `json:"is_optional"`
	Status           TaskStatus `json:"status"`
}

type CheckIn struct {
	ID         int64     `json:"id"`
	TaskID     int64     `json:"task_id"`
	GoGetterID int64     `json:"go_getter_id"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TargetSpec is a wizard candidate target. SubcategoryID is always copied
// from storage, never from the caller.
type TargetSpec struct {
	TargetID      int64 `json:"target_id"`
	SubcategoryID int64 `json:"subcategory_id"`
	Priority      int   `json:"priority"`
}

// Constraint is the per-target scheduling budget. A nil DailyMinutes or nil
// PreferredDays means the default applies; an explicit empty day list does not.
type Constraint struct {
	DailyMinutes  *int  `json:"daily_minutes,omitempty"`
	PreferredDays []int `json:"preferred_days"`
}

const (
	DefaultDailyMinutes = 60
	DefaultPriority     = 3
)

// DefaultPreferredDays is every day of the week, 0=Monday.
var DefaultPreferredDays = []int{0, 1, 2, 3, 4, 5, 6}

// Minutes returns the daily minutes with the default applied.
func (c Constraint) Minutes() int {
	if c.DailyMinutes == nil {
		return DefaultDailyMinutes
	}
	return *c.DailyMinutes
}

// Days returns the preferred days with the default applied.
func (c Constraint) Days() []int {
	if c.PreferredDays == nil {
		return append([]int(nil), DefaultPreferredDays...)
	}
	return c.PreferredDays
}

// ConstraintMap holds constraints keyed by the decimal string form of a
// subcategory id. The string keys are part of the persisted document shape.
type ConstraintMap map[string]Constraint

// SubcategoryKey renders a subcategory id as a ConstraintMap key.
func SubcategoryKey(subcategoryID int64) string {
	return strconv.FormatInt(subcategoryID, 10)
}

// For returns the constraint for a subcategory, or the zero Constraint.
func (m ConstraintMap) For(subcategoryID int64) Constraint {
	if m == nil {
		return Constraint{}
	}
	return m[SubcategoryKey(subcategoryID)]
}

// Merge returns a copy of m with every entry of patch applied over it.
func (m ConstraintMap) Merge(patch ConstraintMap) ConstraintMap {
	out := make(ConstraintMap, len(m)+len(patch))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Keys returns the map keys in sorted order.
func (m ConstraintMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type GenerationError struct {
	TargetID int64  `json:"target_id,omitempty"`
	Error    string `json:"error"`
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date as midnight UTC.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// SpanDays is the whole-day distance from start to end.
func SpanDays(start, end time.Time) int {
	return int(Day(end).Sub(Day(start)).Hours() / 24)
}

// TotalWeeks is the number of plan weeks covering start..end inclusive.
func TotalWeeks(start, end time.Time) int {
	weeks := (SpanDays(start, end) + 1 + 6) / 7
	if weeks < 1 {
		return 1
	}
	return weeks
}
