// Package storetest seeds SQLite stores for package tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gogetter/internal/goals"
	"gogetter/internal/store"
)

// Open creates a store in a temporary directory and closes it on cleanup.
func Open(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "state.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// GoGetter inserts a learner owned by a new best pal.
func GoGetter(t *testing.T, s *store.Store) (*goals.GoGetter, *goals.BestPal) {
	t.Helper()
	ctx := context.Background()
	bp, err := s.CreateBestPal(ctx, "Pat")
	require.NoError(t, err)
	g := &goals.GoGetter{BestPalID: &bp.ID, Name: "Robin", Grade: "5"}
	require.NoError(t, s.CreateGoGetter(ctx, g))
	return g, bp
}

// Target inserts an active target in the given subcategory.
func Target(t *testing.T, s *store.Store, goGetterID, subcategoryID int64) *goals.Target {
	t.Helper()
	target := &goals.Target{
		GoGetterID:    goGetterID,
		SubcategoryID: subcategoryID,
		Title:         "Target",
		Subject:       "Math",
		Description:   "Practice fractions",
	}
	require.NoError(t, s.CreateTarget(context.Background(), target))
	return target
}

// Plan inserts a plan for a target with one milestone per week starting at
// start, each holding one active task. The plan gets the given status.
func Plan(t *testing.T, s *store.Store, targetID int64, status goals.PlanStatus, start time.Time, weeks int) *goals.Plan {
	t.Helper()
	ctx := context.Background()
	version, err := s.NextPlanVersion(ctx, targetID)
	require.NoError(t, err)

	start = goals.Day(start)
	p := &goals.Plan{
		TargetID:   targetID,
		Status:     status,
		Version:    version,
		Title:      "Seeded plan",
		StartDate:  start,
		EndDate:    start.AddDate(0, 0, weeks*7-1),
		TotalWeeks: weeks,
	}
	for w := 1; w <= weeks; w++ {
		ms := start.AddDate(0, 0, (w-1)*7)
		p.Milestones = append(p.Milestones, goals.WeeklyMilestone{
			WeekNumber: w,
			Title:      "Week",
			StartDate:  ms,
			EndDate:    ms.AddDate(0, 0, 6),
			Tasks: []goals.Task{{
				DayOfWeek:        0,
				SequenceInDay:    1,
				Title:            "Task",
				EstimatedMinutes: 30,
				TaskType:         goals.TaskPractice,
				XPReward:         30,
			}},
		})
	}
	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		return tx.InsertPlan(ctx, p)
	}))
	return p
}

// Group inserts an active goal group for the go getter.
func Group(t *testing.T, s *store.Store, goGetterID int64, start, end time.Time) *goals.GoalGroup {
	t.Helper()
	g := &goals.GoalGroup{
		GoGetterID:  goGetterID,
		Title:       "Summer",
		WindowStart: goals.Day(start),
		WindowEnd:   goals.Day(end),
	}
	require.NoError(t, s.CreateGoalGroup(context.Background(), g))
	return g
}
