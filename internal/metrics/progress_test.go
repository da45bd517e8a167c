package metrics

import (
	"testing"

	"gogetter/internal/goals"
)

func TestScorePlan(t *testing.T) {
	plan := &goals.Plan{
		ID:      7,
		Version: 2,
		Status:  goals.PlanActive,
		Milestones: []goals.WeeklyMilestone{
			{WeekNumber: 2, Tasks: []goals.Task{
				{ID: 4, Status: goals.TaskActive, XPReward: 10},
				{ID: 5, Status: goals.TaskActive, XPReward: 10, IsOptional: true},
			}},
			{WeekNumber: 1, Tasks: []goals.Task{
				{ID: 1, Status: goals.TaskActive, XPReward: 20},
				{ID: 2, Status: goals.TaskActive, XPReward: 20},
				{ID: 3, Status: goals.TaskSuperseded, XPReward: 30},
			}},
		},
	}

	got := ScorePlan(plan, map[int64]int{1: 2, 3: 1})

	if got.Planned != 4 || got.Done != 2 {
		t.Fatalf("planned/done = %d/%d, want 4/2", got.Planned, got.Done)
	}
	if got.XPEarned != 50 || got.XPAvailable != 80 {
		t.Fatalf("xp = %d/%d, want 50/80", got.XPEarned, got.XPAvailable)
	}
	if got.PercentComplete != 50 {
		t.Fatalf("percent = %v, want 50", got.PercentComplete)
	}
	if got.Weeks[0].WeekNumber != 1 || got.Weeks[0].PercentComplete != 66.7 {
		t.Fatalf("week 1 = %+v", got.Weeks[0])
	}
	if got.Weeks[1].Planned != 1 || got.Weeks[1].Done != 0 {
		t.Fatalf("week 2 = %+v", got.Weeks[1])
	}
}

func TestScorePlanEmpty(t *testing.T) {
	got := ScorePlan(&goals.Plan{ID: 1}, nil)
	if got.PercentComplete != 0 || got.Planned != 0 {
		t.Fatalf("unexpected %+v", got)
	}
}
