package planner

import (
	"fmt"
	"strings"

	"gogetter/internal/goals"
)

func ValidatePlan(plan *goals.Plan) error {
	if plan.TargetID == 0 {
		return fmt.Errorf("plan target_id is required")
	}
	if plan.Version < 1 {
		return fmt.Errorf("plan version must be positive")
	}
	if strings.TrimSpace(plan.Title) == "" {
		return fmt.Errorf("plan title is required")
	}
	if plan.EndDate.Before(plan.StartDate) {
		return fmt.Errorf("plan end_date %s is before start_date %s",
			plan.EndDate.Format(goals.DateLayout), plan.StartDate.Format(goals.DateLayout))
	}
	if len(plan.Milestones) == 0 {
		return fmt.Errorf("plan must include at least one week")
	}
	seen := make(map[int]bool, len(plan.Milestones))
	for idx, ms := range plan.Milestones {
		if seen[ms.WeekNumber] {
			return fmt.Errorf("week %d appears more than once", ms.WeekNumber)
		}
		seen[ms.WeekNumber] = true
		if err := ValidateMilestone(plan, ms); err != nil {
			return fmt.Errorf("plan week %d: %w", idx+1, err)
		}
	}
	return nil
}

func ValidateMilestone(plan *goals.Plan, ms goals.WeeklyMilestone) error {
	if strings.TrimSpace(ms.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if ms.StartDate.Before(plan.StartDate) || ms.EndDate.After(plan.EndDate) {
		return fmt.Errorf("dates fall outside the plan window")
	}
	for _, t := range ms.Tasks {
		if t.DayOfWeek < 0 || t.DayOfWeek > 6 {
			return fmt.Errorf("task %q: day_of_week must be 0..6", t.Title)
		}
		if t.EstimatedMinutes <= 0 {
			return fmt.Errorf("task %q: estimated_minutes must be positive", t.Title)
		}
		if strings.TrimSpace(t.Title) == "" {
			return fmt.Errorf("task title is required")
		}
	}
	return nil
}
