package goals

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstraintMapUsesStringKeys(t *testing.T) {
	minutes := 45
	m := ConstraintMap{}
	m[SubcategoryKey(7)] = Constraint{DailyMinutes: &minutes, PreferredDays: []int{0, 2, 4}}

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"7":{"daily_minutes":45,"preferred_days":[0,2,4]}}`, string(data))

	var decoded ConstraintMap
	require.NoError(t, json.Unmarshal([]byte(`{"7":{"daily_minutes":30,"preferred_days":[1]}}`), &decoded))
	assert.Equal(t, 30, decoded.For(7).Minutes())
	assert.Equal(t, []int{1}, decoded.For(7).Days())
	assert.Equal(t, DefaultDailyMinutes, decoded.For(8).Minutes())
}

func TestConstraintDefaults(t *testing.T) {
	var c Constraint
	assert.Equal(t, 60, c.Minutes())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, c.Days())

	// An explicit empty list is kept, so it can trip the too-few-days rule.
	var explicit Constraint
	require.NoError(t, json.Unmarshal([]byte(`{"preferred_days":[]}`), &explicit))
	assert.NotNil(t, explicit.PreferredDays)
	assert.Empty(t, explicit.Days())
}

func TestConstraintMapMerge(t *testing.T) {
	a, b := 30, 90
	base := ConstraintMap{"1": {DailyMinutes: &a}, "2": {DailyMinutes: &a}}
	merged := base.Merge(ConstraintMap{"2": {DailyMinutes: &b}, "3": {}})

	assert.Equal(t, []string{"1", "2", "3"}, merged.Keys())
	assert.Equal(t, 90, merged.For(2).Minutes())
	assert.Equal(t, 30, base.For(2).Minutes(), "merge must not mutate the receiver")
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrap: %w", Conflictf("wizard.create", "wizard %d already active", 4))

	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Contains(t, err.Error(), "wizard 4 already active")

	up := Upstream("planner.draft", errors.New("timeout"))
	assert.True(t, errors.Is(up, ErrUpstream))
	assert.Equal(t, "planner.draft: upstream: timeout", up.Error())

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestFeasibilityResultVerdict(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	warn := Risk{Code: RiskOverload, Level: LevelWarning}
	block := Risk{Code: RiskSpanTooShort, Level: LevelBlocker}

	assert.True(t, NewFeasibilityResult(nil, now).Passed)
	assert.True(t, NewFeasibilityResult([]Risk{warn}, now).Passed)

	res := NewFeasibilityResult([]Risk{warn, block}, now)
	assert.False(t, res.Passed)
	assert.Equal(t, []RiskCode{RiskOverload, RiskSpanTooShort}, res.Codes())
	assert.Len(t, res.Blockers(), 1)
}

func TestWizardStateTerminal(t *testing.T) {
	for _, s := range TerminalWizardStates {
		assert.True(t, s.Terminal(), s)
	}
	assert.False(t, WizardAdjusting.Terminal())
	assert.False(t, WizardFeasibilityCheck.Terminal())
}

func TestSpanDays(t *testing.T) {
	start, _ := ParseDay("2025-06-01")
	end, _ := ParseDay("2025-06-05")
	assert.Equal(t, 4, SpanDays(start, end))
}

func TestParseActorRoundTrip(t *testing.T) {
	for _, in := range []string{"admin", "best_pal:4", "go_getter:12"} {
		a, err := ParseActor(in)
		require.NoError(t, err, in)
		assert.Equal(t, in, a.String())
	}
	for _, bad := range []string{"", "root", "best_pal:", "best_pal:x", "go_getter:-1", "mentor:3"} {
		_, err := ParseActor(bad)
		assert.Error(t, err, bad)
	}
}
