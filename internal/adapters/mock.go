package adapters

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"gogetter/internal/goals"
)

// MockDrafter is a deterministic, offline drafter used for tests and for
// running without an LLM. It schedules one task per preferred day.
type MockDrafter struct {
	// Fail, when set, is consulted before drafting; a non-nil result fails the call.
	Fail  func(req DraftRequest) error
	calls atomic.Int64
}

func (m *MockDrafter) Name() string {
	return "mock"
}

// Calls returns how many drafts were requested.
func (m *MockDrafter) Calls() int {
	return int(m.calls.Load())
}

func (m *MockDrafter) Draft(ctx context.Context, req DraftRequest) (*Draft, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Fail != nil {
		if err := m.Fail(req); err != nil {
			return nil, err
		}
	}

	minutes := req.DailyMinutes
	if minutes <= 0 {
		minutes = goals.DefaultDailyMinutes
	}
	days := append([]int(nil), req.PreferredDays...)
	sort.Ints(days)
	xp := minutes
	if xp > 60 {
		xp = 60
	}

	d := &Draft{
		Title:    fmt.Sprintf("%s plan", req.Target.Title),
		Overview: fmt.Sprintf("Mock plan for %s from %s to %s.", req.Target.Title, req.Start.Format(goals.DateLayout), req.End.Format(goals.DateLayout)),
	}
	for w := 1; w <= req.TotalWeeks(); w++ {
		week := DraftWeek{
			WeekNumber:  w,
			Title:       fmt.Sprintf("Week %d", w),
			Description: fmt.Sprintf("Week %d of %s", w, req.Target.Subject),
		}
		for _, day := range days {
			week.Tasks = append(week.Tasks, DraftTask{
				DayOfWeek:        day,
				SequenceInDay:    1,
				Title:            fmt.Sprintf("%s practice", req.Target.Subject),
				EstimatedMinutes: minutes,
				TaskType:         string(goals.TaskPractice),
				XPReward:         xp,
			})
		}
		d.Weeks = append(d.Weeks, week)
	}
	return d, nil
}

// MockEnricher explains risks by restating them.
type MockEnricher struct {
	Err error
}

func (m *MockEnricher) Explain(ctx context.Context, risks []goals.Risk) ([]string, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]string, 0, len(risks))
	for _, r := range risks {
		out = append(out, fmt.Sprintf("%s (%s): %s", r.Code, r.Level, r.Message))
	}
	return out, nil
}
