package metrics

import (
	"math"
	"sort"

	"gogetter/internal/goals"
)

// WeekProgress scores one milestone.
type WeekProgress struct {
	WeekNumber      int     `json:"week_number"`
	Planned         int     `json:"planned"`
	Done            int     `json:"done"`
	PercentComplete float64 `json:"percent_complete"`
}

// PlanProgress summarises check-ins against a plan's tasks.
type PlanProgress struct {
	PlanID          int64          `json:"plan_id"`
	Version         int            `json:"version"`
	Status          string         `json:"status"`
	Planned         int            `json:"planned"`
	Done            int            `json:"done"`
	XPEarned        int            `json:"xp_earned"`
	XPAvailable     int            `json:"xp_available"`
	PercentComplete float64        `json:"percent_complete"`
	Weeks           []WeekProgress `json:"weeks"`
}

// ScorePlan computes progress from per-task check-in counts. Active
// required tasks are planned; any task with a check-in counts as done and
// as planned, whatever its status became after a re-plan.
func ScorePlan(plan *goals.Plan, checkIns map[int64]int) *PlanProgress {
	p := &PlanProgress{
		PlanID:  plan.ID,
		Version: plan.Version,
		Status:  string(plan.Status),
		Weeks:   []WeekProgress{},
	}
	for _, ms := range plan.Milestones {
		week := WeekProgress{WeekNumber: ms.WeekNumber}
		for _, task := range ms.Tasks {
			done := checkIns[task.ID] > 0
			switch {
			case done:
				week.Planned++
				week.Done++
				p.XPEarned += task.XPReward
				p.XPAvailable += task.XPReward
			case task.Status == goals.TaskActive && !task.IsOptional:
				week.Planned++
				p.XPAvailable += task.XPReward
			}
		}
		week.PercentComplete = percentDone(week.Done, week.Planned)
		p.Planned += week.Planned
		p.Done += week.Done
		p.Weeks = append(p.Weeks, week)
	}
	sort.SliceStable(p.Weeks, func(i, j int) bool {
		return p.Weeks[i].WeekNumber < p.Weeks[j].WeekNumber
	})
	p.PercentComplete = percentDone(p.Done, p.Planned)
	return p
}

func percentDone(done, planned int) float64 {
	if planned == 0 {
		return 0
	}
	progress := float64(done) / float64(planned)
	if math.IsNaN(progress) || math.IsInf(progress, 0) {
		return 0
	}
	if progress > 1 {
		progress = 1
	}
	return math.Round(progress*1000) / 10
}
