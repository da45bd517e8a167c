package guard

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gogetter/internal/goals"
	"gogetter/internal/store"
	"gogetter/internal/store/storetest"
)

func TestAssertNoActiveWizard(t *testing.T) {
	ctx := context.Background()
	s := storetest.Open(t)
	gg, _ := storetest.GoGetter(t, s)
	require.NoError(t, AssertNoActiveWizard(ctx, s, "wizard.create", gg.ID))

	require.NoError(t, s.CreateWizard(ctx, &goals.Wizard{GoGetterID: gg.ID, ExpiresAt: time.Now().Add(time.Hour)}))
	err := AssertNoActiveWizard(ctx, s, "wizard.create", gg.ID)
	assert.ErrorIs(t, err, goals.ErrConflict)
	assertOp(t, err, "wizard.create")
}

func TestAssertNoActiveGroupInsideTx(t *testing.T) {
	ctx := context.Background()
	s := storetest.Open(t)
	gg, _ := storetest.GoGetter(t, s)
	storetest.Group(t, s, gg.ID, time.Now(), time.Now().AddDate(0, 1, 0))

	err := s.Update(ctx, func(tx *store.Tx) error {
		return AssertNoActiveGroup(ctx, tx, "wizard.confirm", gg.ID)
	})
	assert.ErrorIs(t, err, goals.ErrConflict)
	assertOp(t, err, "wizard.confirm")
}

func TestAssertSubcategoryAvailable(t *testing.T) {
	ctx := context.Background()
	s := storetest.Open(t)
	gg, _ := storetest.GoGetter(t, s)
	target := storetest.Target(t, s, gg.ID, 4)

	assert.NoError(t, AssertSubcategoryAvailable(ctx, s, "group.add_target", gg.ID, 4, target.ID))
	assert.NoError(t, AssertSubcategoryAvailable(ctx, s, "group.add_target", gg.ID, 5, 0))
	err := AssertSubcategoryAvailable(ctx, s, "group.add_target", gg.ID, 4, 0)
	assert.ErrorIs(t, err, goals.ErrConflict)
	assertOp(t, err, "group.add_target")
}

func TestAssertSingleActivePlanIsFatal(t *testing.T) {
	ctx := context.Background()
	s := storetest.Open(t)
	gg, _ := storetest.GoGetter(t, s)
	target := storetest.Target(t, s, gg.ID, 4)

	assert.ErrorIs(t, AssertSingleActivePlan(ctx, s, "plan.activate", target.ID), goals.ErrFatal)
	storetest.Plan(t, s, target.ID, goals.PlanActive, time.Now(), 1)
	assert.NoError(t, AssertSingleActivePlan(ctx, s, "plan.activate", target.ID))
	storetest.Plan(t, s, target.ID, goals.PlanActive, time.Now(), 1)
	err := AssertSingleActivePlan(ctx, s, "plan.activate", target.ID)
	assert.Equal(t, goals.KindFatal, goals.KindOf(err))
	assertOp(t, err, "plan.activate")
}

func TestAssertChangeAllowed(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	g := New(nil, WithClock(func() time.Time { return now }))

	assert.NoError(t, g.AssertChangeAllowed(&goals.GoalGroup{}))

	recent := now.Add(-2 * 24 * time.Hour)
	err := g.AssertChangeAllowed(&goals.GoalGroup{LastChangeAt: &recent})
	require.ErrorIs(t, err, goals.ErrConflict)
	assert.Contains(t, err.Error(), "Next change allowed in 120 hours.")

	old := now.Add(-7 * 24 * time.Hour)
	assert.NoError(t, g.AssertChangeAllowed(&goals.GoalGroup{LastChangeAt: &old}))
}

func TestReplanTokenSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := storetest.Open(t)
	gg, _ := storetest.GoGetter(t, s)
	group := storetest.Group(t, s, gg.ID, time.Now(), time.Now().AddDate(0, 1, 0))
	g := New(s)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = g.AcquireReplan(ctx, group.ID)
		}(i)
	}
	wg.Wait()

	var won, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case goals.KindOf(err) == goals.KindConflict:
			conflicted++
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, conflicted)

	require.NoError(t, g.ReleaseReplan(ctx, group.ID))
	got, err := s.GetGoalGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, goals.ReplanIdle, got.ReplanStatus)

	// Releasing twice is harmless.
	require.NoError(t, g.ReleaseReplan(ctx, group.ID))
}

func TestAcquireReplanUnknownGroup(t *testing.T) {
	s := storetest.Open(t)
	err := New(s).AcquireReplan(context.Background(), 42)
	assert.ErrorIs(t, err, goals.ErrNotFound)
}

func TestExpireStaleCancelsDraftsOnly(t *testing.T) {
	ctx := context.Background()
	s := storetest.Open(t)
	gg, _ := storetest.GoGetter(t, s)
	target := storetest.Target(t, s, gg.ID, 4)
	live := storetest.Plan(t, s, target.ID, goals.PlanActive, time.Now(), 1)
	draft := storetest.Plan(t, s, target.ID, goals.PlanDraft, time.Now(), 1)

	created := time.Now().UTC()
	w := &goals.Wizard{
		GoGetterID:   gg.ID,
		ExpiresAt:    created.Add(24 * time.Hour),
		DraftPlanIDs: []int64{draft.ID, live.ID},
	}
	require.NoError(t, s.CreateWizard(ctx, w))

	g := New(s)
	res, err := g.ExpireStale(ctx, created.Add(23*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, res.Wizards)

	res, err = g.ExpireStale(ctx, created.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Wizards)
	assert.Equal(t, 1, res.Drafts)
	assert.Equal(t, []int64{w.ID}, res.WizardIDs)

	got, err := s.GetWizard(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, goals.WizardCancelled, got.State)

	livePlan, err := s.GetPlan(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, goals.PlanActive, livePlan.Status)
	draftPlan, err := s.GetPlan(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, goals.PlanCancelled, draftPlan.Status)

	res, err = g.ExpireStale(ctx, created.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, res.Wizards, "terminal wizards are not swept twice")
}

func TestAuthorize(t *testing.T) {
	bp := int64(10)
	gg := &goals.GoGetter{ID: 1, BestPalID: &bp}
	p := DefaultPolicy()

	assert.NoError(t, p.Authorize(goals.System, gg, CapGroupWrite))
	assert.NoError(t, p.Authorize(goals.Actor{Role: goals.RoleBestPal, ID: 10}, gg, CapWizardWrite))
	assert.ErrorIs(t, p.Authorize(goals.Actor{Role: goals.RoleBestPal, ID: 11}, gg, CapWizardWrite), goals.ErrForbidden)
	assert.NoError(t, p.Authorize(goals.Actor{Role: goals.RoleGoGetter, ID: 1}, gg, CapPlanRead))
	assert.ErrorIs(t, p.Authorize(goals.Actor{Role: goals.RoleGoGetter, ID: 1}, gg, CapWizardWrite), goals.ErrForbidden)
	assert.NoError(t, p.Authorize(goals.Actor{Role: goals.RoleGoGetter, ID: 1}, gg, CapCheckIn))
	assert.ErrorIs(t, p.Authorize(goals.Actor{Role: goals.RoleGoGetter, ID: 2}, gg, CapPlanRead), goals.ErrForbidden)
	assert.ErrorIs(t, p.Authorize(goals.Actor{Role: goals.RoleUnknown}, gg, CapPlanRead), goals.ErrForbidden)
}

func TestLoadPolicyDelegations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "permissions.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
roles:
  best_pal: [wizard.write]
rules: [delegated_explicitly]
delegations:
  "20": [1]
`), 0o644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	bp := int64(10)
	gg := &goals.GoGetter{ID: 1, BestPalID: &bp}

	assert.NoError(t, p.Authorize(goals.Actor{Role: goals.RoleBestPal, ID: 20}, gg, CapWizardWrite))
	assert.Error(t, p.Authorize(goals.Actor{Role: goals.RoleBestPal, ID: 10}, gg, CapWizardWrite), "owner_match is not enabled")
	assert.Error(t, p.Authorize(goals.Actor{Role: goals.RoleBestPal, ID: 20}, gg, CapGroupWrite))

	missing, err := LoadPolicy(filepath.Join(t.TempDir(), "none.yml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), missing)
}

func assertOp(t *testing.T, err error, op string) {
	t.Helper()
	var gerr *goals.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, op, gerr.Op)
}
