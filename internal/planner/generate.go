package planner

import (
	"fmt"
	"time"

	"gogetter/internal/adapters"
	"gogetter/internal/goals"
)

// BuildPlan converts a draft into a plan for start..end. Milestone dates
// are derived from the week number; weeks past the window are dropped.
func BuildPlan(targetID int64, version int, start, end time.Time, draft *adapters.Draft) (*goals.Plan, error) {
	if draft == nil {
		return nil, fmt.Errorf("draft is required")
	}
	start = goals.Day(start)
	end = goals.Day(end)
	totalWeeks := goals.TotalWeeks(start, end)

	plan := &goals.Plan{
		TargetID:   targetID,
		Status:     goals.PlanDraft,
		Version:    version,
		Title:      draft.Title,
		Overview:   draft.Overview,
		StartDate:  start,
		EndDate:    end,
		TotalWeeks: totalWeeks,
	}
	for _, week := range draft.Weeks {
		if week.WeekNumber < 1 || week.WeekNumber > totalWeeks {
			continue
		}
		msStart := start.AddDate(0, 0, (week.WeekNumber-1)*7)
		msEnd := msStart.AddDate(0, 0, 6)
		if msEnd.After(end) {
			msEnd = end
		}
		ms := goals.WeeklyMilestone{
			WeekNumber:  week.WeekNumber,
			Title:       week.Title,
			Description: week.Description,
			StartDate:   msStart,
			EndDate:     msEnd,
		}
		for _, t := range week.Tasks {
			seq := t.SequenceInDay
			if seq < 1 {
				seq = 1
			}
			ms.Tasks = append(ms.Tasks, goals.Task{
				DayOfWeek:        t.DayOfWeek,
				SequenceInDay:    seq,
				Title:            t.Title,
				Description:      t.Description,
				EstimatedMinutes: t.EstimatedMinutes,
				TaskType:         goals.ParseTaskType(t.TaskType),
				XPReward:         t.XPReward,
				IsOptional:       t.IsOptional,
				Status:           goals.TaskActive,
			})
		}
		plan.Milestones = append(plan.Milestones, ms)
	}
	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}
	return plan, nil
}
