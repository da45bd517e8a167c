package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"gogetter/internal/goals"
)

func TestObserveFeasibility(t *testing.T) {
	m := New(prometheus.NewRegistry())
	res := goals.NewFeasibilityResult([]goals.Risk{
		{Code: goals.RiskSpanTooShort, Level: goals.LevelBlocker},
		{Code: goals.RiskTooFewDays, Level: goals.LevelWarning},
	}, time.Now())

	m.ObserveFeasibility(res)
	m.ObserveFeasibility(goals.NewFeasibilityResult(nil, time.Now()))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeasibilityChecks.WithLabelValues("blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeasibilityChecks.WithLabelValues("passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Risks.WithLabelValues("SPAN_TOO_SHORT", "blocker")))
}

func TestObserveReplanClassifiesConflicts(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveReplan(nil)
	m.ObserveReplan(goals.Conflictf("replan", "busy"))
	m.ObserveReplan(errors.New("disk"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Replans.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Replans.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Replans.WithLabelValues("error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDraft(nil, time.Second)
		m.ObserveExpired(3)
		m.ObserveJob("wizard_sweep", "succeeded")
	})
}
