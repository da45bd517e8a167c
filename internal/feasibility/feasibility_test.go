package feasibility

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gogetter/internal/adapters"
	"gogetter/internal/constraints"
	"gogetter/internal/goals"
	"gogetter/internal/metrics"
	"gogetter/internal/store/storetest"
)

type fixedEnricher []string

func (f fixedEnricher) Explain(context.Context, []goals.Risk) ([]string, error) {
	return f, nil
}

func window(days int) (*time.Time, *time.Time) {
	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, days)
	return &start, &end
}

func TestEvaluateUsesLiveState(t *testing.T) {
	ctx := context.Background()
	s := storetest.Open(t)
	gg, _ := storetest.GoGetter(t, s)
	live := storetest.Target(t, s, gg.ID, 7)
	storetest.Plan(t, s, live.ID, goals.PlanActive, time.Now(), 2)
	storetest.Group(t, s, gg.ID, time.Now(), time.Now().AddDate(0, 1, 0))

	start, end := window(30)
	eng := New(s, constraints.DefaultLimits())
	res, err := eng.Evaluate(ctx, gg.ID, constraints.Candidate{
		WindowStart: start,
		WindowEnd:   end,
		Specs:       []goals.TargetSpec{{TargetID: live.ID + 100, SubcategoryID: 7}},
	})
	require.NoError(t, err)
	assert.Equal(t, []goals.RiskCode{goals.RiskExistingActiveSubcategory, goals.RiskExistingActiveGroup}, res.Codes())
	assert.False(t, res.Passed)
}

func TestEvaluateIgnoresPlansOnInactiveTargets(t *testing.T) {
	ctx := context.Background()
	s := storetest.Open(t)
	gg, _ := storetest.GoGetter(t, s)
	old := storetest.Target(t, s, gg.ID, 7)
	storetest.Plan(t, s, old.ID, goals.PlanActive, time.Now(), 1)
	require.NoError(t, s.SetTargetStatus(ctx, old.ID, goals.TargetCancelled))

	start, end := window(30)
	res, err := New(s, constraints.DefaultLimits()).Evaluate(ctx, gg.ID, constraints.Candidate{
		WindowStart: start,
		WindowEnd:   end,
		Specs:       []goals.TargetSpec{{TargetID: 999, SubcategoryID: 7}},
	})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Risks)
}

func TestEvaluateTargetExcludesOwnPlanAndGroup(t *testing.T) {
	ctx := context.Background()
	s := storetest.Open(t)
	gg, _ := storetest.GoGetter(t, s)
	target := storetest.Target(t, s, gg.ID, 3)
	storetest.Plan(t, s, target.ID, goals.PlanActive, time.Now(), 2)
	storetest.Group(t, s, gg.ID, time.Now(), time.Now().AddDate(0, 1, 0))

	start, end := window(21)
	res, err := New(s, constraints.DefaultLimits()).EvaluateTarget(ctx, gg.ID,
		goals.TargetSpec{TargetID: target.ID, SubcategoryID: 3}, *start, *end, goals.Constraint{})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Risks)
}

func TestEnrichmentIsBestEffort(t *testing.T) {
	ctx := context.Background()
	s := storetest.Open(t)
	gg, _ := storetest.GoGetter(t, s)
	start, end := window(3)
	candidate := constraints.Candidate{WindowStart: start, WindowEnd: end}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	cases := []struct {
		name     string
		enricher adapters.Enricher
		want     string
	}{
		{name: "applied", enricher: fixedEnricher{"Pick a longer window."}, want: "Pick a longer window."},
		{name: "count mismatch", enricher: fixedEnricher{"a", "b"}, want: ""},
		{name: "failure", enricher: &adapters.MockEnricher{Err: errors.New("llm down")}, want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := New(s, constraints.DefaultLimits(), WithEnricher(tc.enricher), WithMetrics(m))
			res, err := eng.Evaluate(ctx, gg.ID, candidate)
			require.NoError(t, err)
			require.Len(t, res.Risks, 1)
			assert.Equal(t, goals.RiskSpanTooShort, res.Risks[0].Code)
			assert.False(t, res.Passed)
			assert.Equal(t, tc.want, res.Risks[0].Explanation)
			assert.NotEmpty(t, res.Risks[0].Message)
		})
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EnrichmentFailures))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FeasibilityChecks.WithLabelValues("blocked")))
}

func TestEvaluateIsDeterministic(t *testing.T) {
	ctx := context.Background()
	s := storetest.Open(t)
	gg, _ := storetest.GoGetter(t, s)
	start, end := window(4)
	fixed := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	eng := New(s, constraints.DefaultLimits(), WithClock(func() time.Time { return fixed }))
	candidate := constraints.Candidate{
		WindowStart: start,
		WindowEnd:   end,
		Specs:       []goals.TargetSpec{{TargetID: 1, SubcategoryID: 7}, {TargetID: 2, SubcategoryID: 7}},
	}

	first, err := eng.Evaluate(ctx, gg.ID, candidate)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := eng.Evaluate(ctx, gg.ID, candidate)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
