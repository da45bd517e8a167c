package planner

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"gogetter/internal/goals"
)

var weekdays = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// RenderPlan renders a plan as stable text lines for diffing.
func RenderPlan(p *goals.Plan) []string {
	if p == nil {
		return nil
	}
	lines := []string{
		fmt.Sprintf("plan v%d [%s] %s", p.Version, p.Status, p.Title),
		fmt.Sprintf("window %s..%s (%d weeks)", p.StartDate.Format(goals.DateLayout), p.EndDate.Format(goals.DateLayout), p.TotalWeeks),
	}
	for _, ms := range p.Milestones {
		lines = append(lines, fmt.Sprintf("week %d %s..%s: %s",
			ms.WeekNumber, ms.StartDate.Format(goals.DateLayout), ms.EndDate.Format(goals.DateLayout), ms.Title))
		for _, t := range ms.Tasks {
			day := "?"
			if t.DayOfWeek >= 0 && t.DayOfWeek < len(weekdays) {
				day = weekdays[t.DayOfWeek]
			}
			lines = append(lines, fmt.Sprintf("  %s #%d [%s] %s (%d min, %s)",
				day, t.SequenceInDay, t.Status, t.Title, t.EstimatedMinutes, t.TaskType))
		}
	}
	return lines
}

// DiffPlans returns a unified diff between two plan versions, or "" when
// they render identically.
func DiffPlans(old, updated *goals.Plan) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        RenderPlan(old),
		B:        RenderPlan(updated),
		FromFile: planLabel(old),
		ToFile:   planLabel(updated),
		Context:  3,
	}
	// RenderPlan lines carry no terminators.
	for i := range diff.A {
		diff.A[i] += "\n"
	}
	for i := range diff.B {
		diff.B[i] += "\n"
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("diff plans: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	return text, nil
}

func planLabel(p *goals.Plan) string {
	if p == nil {
		return "/dev/null"
	}
	return fmt.Sprintf("plan-%d-v%d", p.ID, p.Version)
}
