package wizard

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gogetter/internal/adapters"
	"gogetter/internal/audit"
	"gogetter/internal/constraints"
	"gogetter/internal/feasibility"
	"gogetter/internal/goals"
	"gogetter/internal/groups"
	"gogetter/internal/guard"
	"gogetter/internal/notify"
	"gogetter/internal/planner"
	"gogetter/internal/store"
	"gogetter/internal/store/storetest"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type fixture struct {
	store *store.Store
	svc   *Service
	mock  *adapters.MockDrafter
	notes *notify.Recorder
	audit *audit.Logger
	clock *clock
	gg    *goals.GoGetter
	owner goals.Actor
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := goals.ParseDay(s)
	require.NoError(t, err)
	return d
}

func minutes(n int) *int { return &n }

// newFixture runs on Wednesday 2025-06-04, so the freeze boundary is
// Monday 2025-06-09.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := storetest.Open(t)
	gg, bp := storetest.GoGetter(t, s)
	c := &clock{t: day(t, "2025-06-04").Add(10 * time.Hour)}
	mock := &adapters.MockDrafter{}
	notes := &notify.Recorder{}
	auditLog := audit.NewLogger(filepath.Join(t.TempDir(), "events.db"), nil)

	eng := feasibility.New(s, constraints.DefaultLimits(), feasibility.WithClock(c.now))
	orch := planner.New(s, mock, eng, planner.WithClock(c.now))
	g := guard.New(s, guard.WithClock(c.now))
	svc := New(s, orch, eng, g,
		WithClock(c.now),
		WithNotifier(notes),
		WithAudit(auditLog),
		WithIsolationCheck(true),
	)
	return &fixture{
		store: s,
		svc:   svc,
		mock:  mock,
		notes: notes,
		audit: auditLog,
		clock: c,
		gg:    gg,
		owner: goals.Actor{Role: goals.RoleBestPal, ID: bp.ID},
	}
}

// scoped creates a wizard and sets a four-week window starting at the
// freeze boundary.
func (f *fixture) scoped(t *testing.T) *goals.Wizard {
	t.Helper()
	ctx := context.Background()
	w, err := f.svc.Create(ctx, f.owner, f.gg.ID)
	require.NoError(t, err)
	w, err = f.svc.SetScope(ctx, f.owner, w.ID, Scope{
		Title: "Summer",
		Start: day(t, "2025-06-09"),
		End:   day(t, "2025-07-06"),
	})
	require.NoError(t, err)
	return w
}

func TestHappyPathConfirmSupersedesLivePlan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	reading := storetest.Target(t, f.store, f.gg.ID, 3)
	writing := storetest.Target(t, f.store, f.gg.ID, 4)
	live := storetest.Plan(t, f.store, reading.ID, goals.PlanActive, day(t, "2025-06-02"), 4)

	w := f.scoped(t)
	assert.Equal(t, goals.WizardCollectingTargets, w.State)

	w, err := f.svc.SetTargets(ctx, f.owner, w.ID, []TargetInput{{TargetID: reading.ID}, {TargetID: writing.ID, Priority: 1}})
	require.NoError(t, err)
	assert.Equal(t, goals.WizardCollectingConstraints, w.State)
	assert.Equal(t, []goals.TargetSpec{
		{TargetID: reading.ID, SubcategoryID: 3, Priority: goals.DefaultPriority},
		{TargetID: writing.ID, SubcategoryID: 4, Priority: 1},
	}, w.TargetSpecs)

	w, err = f.svc.SetConstraints(ctx, f.owner, w.ID, goals.ConstraintMap{
		"3": {DailyMinutes: minutes(30), PreferredDays: []int{0, 2, 4}},
		"4": {DailyMinutes: minutes(45), PreferredDays: []int{1, 3, 5}},
	})
	require.NoError(t, err)
	assert.Equal(t, goals.WizardFeasibilityCheck, w.State)
	require.True(t, w.FeasibilityPassed())
	require.Len(t, w.DraftPlanIDs, 2)
	assert.Empty(t, w.GenerationErrors)

	// Drafts never touch the live plan.
	active, err := f.store.ActivePlanForTarget(ctx, reading.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, live.ID, active.ID)

	res, err := f.svc.Confirm(ctx, f.owner, w.ID)
	require.NoError(t, err)
	assert.Equal(t, goals.WizardConfirmed, res.Wizard.State)
	require.NotNil(t, res.Wizard.GoalGroupID)
	assert.Equal(t, res.Group.ID, *res.Wizard.GoalGroupID)
	assert.Equal(t, goals.GroupActive, res.Group.Status)
	require.Len(t, res.Activations, 2)

	for _, id := range w.DraftPlanIDs {
		p, err := f.store.GetPlan(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, goals.PlanActive, p.Status)
		require.NotNil(t, p.GroupID)
		assert.Equal(t, res.Group.ID, *p.GroupID)
	}

	old, err := f.store.GetPlan(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, goals.PlanSuperseded, old.Status)
	require.NotNil(t, old.SupersededByID)
	assert.Equal(t, w.DraftPlanIDs[0], *old.SupersededByID)

	linked, err := f.store.ListGroupTargets(ctx, res.Group.ID, goals.TargetActive)
	require.NoError(t, err)
	assert.Len(t, linked, 2)

	group, err := f.store.GetGoalGroup(ctx, res.Group.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, group.Constraints.For(3).Minutes())

	require.Len(t, f.notes.Messages(), 1)
	assert.Equal(t, "Summer: 2 plan(s) are now active", f.notes.Messages()[0].Message)

	events, err := f.audit.Recent(ctx, 10, audit.EventWizardConfirmed)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestConfirmRefusedWithBlocker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := storetest.Target(t, f.store, f.gg.ID, 7)
	b := storetest.Target(t, f.store, f.gg.ID, 7)

	w := f.scoped(t)
	_, err := f.svc.SetTargets(ctx, f.owner, w.ID, []TargetInput{{TargetID: a.ID}, {TargetID: b.ID}})
	require.NoError(t, err)
	w, err = f.svc.SetConstraints(ctx, f.owner, w.ID, goals.ConstraintMap{"7": {DailyMinutes: minutes(30)}})
	require.NoError(t, err)
	assert.Equal(t, goals.WizardAdjusting, w.State)
	assert.False(t, w.FeasibilityPassed())
	assert.Contains(t, w.Feasibility.Codes(), goals.RiskDuplicateSubcategory)

	_, err = f.svc.Confirm(ctx, f.owner, w.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, goals.ErrConflict)

	n, err := f.store.CountActiveGroups(ctx, f.gg.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := f.svc.Status(ctx, f.owner, w.ID)
	require.NoError(t, err)
	assert.Equal(t, goals.WizardAdjusting, got.State)
	for _, id := range got.DraftPlanIDs {
		p, err := f.store.GetPlan(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, goals.PlanDraft, p.Status)
	}
}

func TestAdjustReplacesDrafts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := storetest.Target(t, f.store, f.gg.ID, 7)
	b := storetest.Target(t, f.store, f.gg.ID, 7)
	c := storetest.Target(t, f.store, f.gg.ID, 8)

	w := f.scoped(t)
	_, err := f.svc.SetTargets(ctx, f.owner, w.ID, []TargetInput{{TargetID: a.ID}, {TargetID: b.ID}})
	require.NoError(t, err)
	w, err = f.svc.SetConstraints(ctx, f.owner, w.ID, goals.ConstraintMap{"7": {DailyMinutes: minutes(30)}})
	require.NoError(t, err)
	stale := w.DraftPlanIDs
	require.Len(t, stale, 2)

	w, err = f.svc.Adjust(ctx, f.owner, w.ID, Patch{
		RemoveTargets: []int64{b.ID},
		Targets:       []TargetInput{{TargetID: c.ID, Priority: 2}},
		Constraints:   goals.ConstraintMap{"8": {DailyMinutes: minutes(20), PreferredDays: []int{0, 1, 2}}},
	})
	require.NoError(t, err)
	assert.Equal(t, goals.WizardFeasibilityCheck, w.State)
	assert.True(t, w.FeasibilityPassed())
	assert.Equal(t, []int64{a.ID, c.ID}, []int64{w.TargetSpecs[0].TargetID, w.TargetSpecs[1].TargetID})
	assert.Equal(t, 30, w.Constraints.For(7).Minutes(), "earlier constraints survive a patch")
	require.Len(t, w.DraftPlanIDs, 2)

	for _, id := range stale {
		p, err := f.store.GetPlan(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, goals.PlanCancelled, p.Status)
	}
}

func TestGenerationErrorsBlockConfirm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ok := storetest.Target(t, f.store, f.gg.ID, 3)
	bad := storetest.Target(t, f.store, f.gg.ID, 4)
	f.mock.Fail = func(req adapters.DraftRequest) error {
		if req.Target.ID == bad.ID {
			return errors.New("model unavailable")
		}
		return nil
	}

	w := f.scoped(t)
	_, err := f.svc.SetTargets(ctx, f.owner, w.ID, []TargetInput{{TargetID: ok.ID}, {TargetID: bad.ID}})
	require.NoError(t, err)
	w, err = f.svc.SetConstraints(ctx, f.owner, w.ID, goals.ConstraintMap{})
	require.NoError(t, err)
	require.Len(t, w.GenerationErrors, 1)
	assert.Equal(t, bad.ID, w.GenerationErrors[0].TargetID)
	assert.Contains(t, w.GenerationErrors[0].Error, "model unavailable")
	assert.Len(t, w.DraftPlanIDs, 1)

	_, err = f.svc.Confirm(ctx, f.owner, w.ID)
	assert.ErrorIs(t, err, goals.ErrConflict)

	f.mock.Fail = nil
	w, err = f.svc.Adjust(ctx, f.owner, w.ID, Patch{Targets: []TargetInput{{TargetID: bad.ID}}})
	require.NoError(t, err)
	assert.Empty(t, w.GenerationErrors)
	assert.Len(t, w.DraftPlanIDs, 2)
}

func TestSweepExpiresStaleWizards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	target := storetest.Target(t, f.store, f.gg.ID, 3)
	live := storetest.Plan(t, f.store, target.ID, goals.PlanActive, day(t, "2025-06-02"), 4)

	idle, err := f.svc.Create(ctx, f.owner, f.gg.ID)
	require.NoError(t, err)

	other, _ := storetest.GoGetter(t, f.store)
	otherTarget := storetest.Target(t, f.store, other.ID, 5)
	w, err := f.svc.Create(ctx, goals.System, other.ID)
	require.NoError(t, err)
	_, err = f.svc.SetScope(ctx, goals.System, w.ID, Scope{Title: "x", Start: day(t, "2025-06-09"), End: day(t, "2025-06-22")})
	require.NoError(t, err)
	_, err = f.svc.SetTargets(ctx, goals.System, w.ID, []TargetInput{{TargetID: otherTarget.ID}})
	require.NoError(t, err)
	w, err = f.svc.SetConstraints(ctx, goals.System, w.ID, nil)
	require.NoError(t, err)
	require.Len(t, w.DraftPlanIDs, 1)

	f.clock.t = f.clock.t.Add(25 * time.Hour)
	res, err := f.svc.Expire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Wizards)
	assert.Equal(t, 1, res.Drafts)

	for _, id := range []int64{idle.ID, w.ID} {
		got, err := f.store.GetWizard(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, goals.WizardCancelled, got.State)
	}
	draft, err := f.store.GetPlan(ctx, w.DraftPlanIDs[0])
	require.NoError(t, err)
	assert.Equal(t, goals.PlanCancelled, draft.Status)

	stillLive, err := f.store.GetPlan(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, goals.PlanActive, stillLive.Status)

	_, err = f.svc.Create(ctx, f.owner, f.gg.ID)
	assert.NoError(t, err, "an expired wizard no longer blocks a new one")
}

func TestCreateRejectsSecondActiveWizard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.Create(ctx, f.owner, f.gg.ID)
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, f.owner, f.gg.ID)
	assert.ErrorIs(t, err, goals.ErrConflict)

	n, err := f.store.CountActiveWizards(ctx, f.gg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSetScopeRejectsShortWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w, err := f.svc.Create(ctx, f.owner, f.gg.ID)
	require.NoError(t, err)

	_, err = f.svc.SetScope(ctx, f.owner, w.ID, Scope{Title: "Short", Start: day(t, "2025-06-01"), End: day(t, "2025-06-05")})
	require.Error(t, err)
	assert.ErrorIs(t, err, goals.ErrValidation)
	assert.Contains(t, err.Error(), "got 4 days")

	_, err = f.svc.SetScope(ctx, f.owner, w.ID, Scope{Start: day(t, "2025-06-01"), End: day(t, "2025-06-30")})
	assert.ErrorIs(t, err, goals.ErrValidation, "title is required")

	got, err := f.svc.Status(ctx, f.owner, w.ID)
	require.NoError(t, err)
	assert.Equal(t, goals.WizardCollectingScope, got.State)
}

func TestSetTargetsRejectsForeignTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	other, _ := storetest.GoGetter(t, f.store)
	foreign := storetest.Target(t, f.store, other.ID, 3)

	w := f.scoped(t)
	_, err := f.svc.SetTargets(ctx, f.owner, w.ID, []TargetInput{{TargetID: foreign.ID}})
	assert.ErrorIs(t, err, goals.ErrValidation)

	_, err = f.svc.SetTargets(ctx, f.owner, w.ID, []TargetInput{{TargetID: 9999}})
	assert.ErrorIs(t, err, goals.ErrValidation)

	_, err = f.svc.SetTargets(ctx, f.owner, w.ID, nil)
	assert.ErrorIs(t, err, goals.ErrValidation)
}

func TestSetConstraintsRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	target := storetest.Target(t, f.store, f.gg.ID, 3)
	w := f.scoped(t)
	_, err := f.svc.SetTargets(ctx, f.owner, w.ID, []TargetInput{{TargetID: target.ID}})
	require.NoError(t, err)

	cases := map[string]goals.ConstraintMap{
		"non numeric key": {"reading": {}},
		"bad weekday":     {"3": {PreferredDays: []int{0, 7}}},
		"repeated day":    {"3": {PreferredDays: []int{1, 1}}},
		"zero minutes":    {"3": {DailyMinutes: minutes(0)}},
	}
	for name, m := range cases {
		_, err := f.svc.SetConstraints(ctx, f.owner, w.ID, m)
		assert.ErrorIs(t, err, goals.ErrValidation, name)
	}
	assert.Zero(t, f.mock.Calls())
}

func TestCancelIsIdempotentAndKeepsLivePlans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	target := storetest.Target(t, f.store, f.gg.ID, 3)
	live := storetest.Plan(t, f.store, target.ID, goals.PlanActive, day(t, "2025-06-02"), 4)

	w := f.scoped(t)
	_, err := f.svc.SetTargets(ctx, f.owner, w.ID, []TargetInput{{TargetID: target.ID}})
	require.NoError(t, err)
	w, err = f.svc.SetConstraints(ctx, f.owner, w.ID, nil)
	require.NoError(t, err)
	require.Len(t, w.DraftPlanIDs, 1)

	cancelled, err := f.svc.Cancel(ctx, f.owner, w.ID)
	require.NoError(t, err)
	assert.Equal(t, goals.WizardCancelled, cancelled.State)

	again, err := f.svc.Cancel(ctx, f.owner, w.ID)
	require.NoError(t, err)
	assert.Equal(t, goals.WizardCancelled, again.State)

	draft, err := f.store.GetPlan(ctx, w.DraftPlanIDs[0])
	require.NoError(t, err)
	assert.Equal(t, goals.PlanCancelled, draft.Status)

	stillLive, err := f.store.GetPlan(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, goals.PlanActive, stillLive.Status)

	_, err = f.svc.SetScope(ctx, f.owner, w.ID, Scope{Title: "x", Start: day(t, "2025-06-09"), End: day(t, "2025-06-30")})
	assert.ErrorIs(t, err, goals.ErrConflict)

	events, err := f.audit.Recent(ctx, 10, audit.EventWizardCancelled)
	require.NoError(t, err)
	assert.Len(t, events, 1, "a repeated cancel records nothing")
}

func TestConfirmRefusedWhenGroupExists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	target := storetest.Target(t, f.store, f.gg.ID, 3)
	storetest.Group(t, f.store, f.gg.ID, day(t, "2025-06-02"), day(t, "2025-06-30"))

	w := f.scoped(t)
	_, err := f.svc.SetTargets(ctx, f.owner, w.ID, []TargetInput{{TargetID: target.ID}})
	require.NoError(t, err)
	w, err = f.svc.SetConstraints(ctx, f.owner, w.ID, nil)
	require.NoError(t, err)
	assert.True(t, w.FeasibilityPassed())
	assert.Contains(t, w.Feasibility.Codes(), goals.RiskExistingActiveGroup)

	_, err = f.svc.Confirm(ctx, f.owner, w.ID)
	assert.ErrorIs(t, err, goals.ErrConflict)

	draft, err := f.store.GetPlan(ctx, w.DraftPlanIDs[0])
	require.NoError(t, err)
	assert.Equal(t, goals.PlanDraft, draft.Status, "the rollback leaves the draft untouched")
}

func TestConfirmAfterEarlierGroupCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	target := storetest.Target(t, f.store, f.gg.ID, 3)
	earlier := storetest.Group(t, f.store, f.gg.ID, day(t, "2025-05-05"), day(t, "2025-06-01"))

	w := f.scoped(t)
	_, err := f.svc.SetTargets(ctx, f.owner, w.ID, []TargetInput{{TargetID: target.ID}})
	require.NoError(t, err)
	_, err = f.svc.SetConstraints(ctx, f.owner, w.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, f.owner, w.ID)
	require.ErrorIs(t, err, goals.ErrConflict)
	var gerr *goals.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "wizard.confirm", gerr.Op)

	eng := feasibility.New(f.store, constraints.DefaultLimits(), feasibility.WithClock(f.clock.now))
	orch := planner.New(f.store, f.mock, eng, planner.WithClock(f.clock.now))
	closed, err := groups.New(f.store, orch, guard.New(f.store, guard.WithClock(f.clock.now))).Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{earlier.ID}, closed.GroupIDs)

	res, err := f.svc.Confirm(ctx, f.owner, w.ID)
	require.NoError(t, err)
	assert.Equal(t, goals.GroupActive, res.Group.Status)
	assert.NotEqual(t, earlier.ID, res.Group.ID)

	prev, err := f.store.GetGoalGroup(ctx, earlier.ID)
	require.NoError(t, err)
	assert.Equal(t, goals.GroupCompleted, prev.Status)
}

func TestConfirmRefusedWhenBoundaryMovedPastDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.clock.t = day(t, "2025-06-08").Add(22 * time.Hour)
	reading := storetest.Target(t, f.store, f.gg.ID, 3)
	live := storetest.Plan(t, f.store, reading.ID, goals.PlanActive, day(t, "2025-06-02"), 4)

	w := f.scoped(t)
	_, err := f.svc.SetTargets(ctx, f.owner, w.ID, []TargetInput{{TargetID: reading.ID}})
	require.NoError(t, err)
	w, err = f.svc.SetConstraints(ctx, f.owner, w.ID, nil)
	require.NoError(t, err)
	require.Len(t, w.DraftPlanIDs, 1)
	draft, err := f.store.GetPlan(ctx, w.DraftPlanIDs[0])
	require.NoError(t, err)
	require.Equal(t, day(t, "2025-06-09"), draft.StartDate)

	// Monday arrives before confirmation: the draft's first week is now lived in.
	f.clock.t = day(t, "2025-06-09").Add(8 * time.Hour)
	_, err = f.svc.Confirm(ctx, f.owner, w.ID)
	require.ErrorIs(t, err, goals.ErrConflict)
	assert.Contains(t, err.Error(), "freeze boundary")

	got, err := f.svc.Status(ctx, f.owner, w.ID)
	require.NoError(t, err)
	assert.Equal(t, goals.WizardFeasibilityCheck, got.State)

	active, err := f.store.ActivePlanForTarget(ctx, reading.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, live.ID, active.ID)
	detail, err := f.store.GetPlanDetail(ctx, live.ID)
	require.NoError(t, err)
	for _, ms := range detail.Milestones {
		assert.Equal(t, goals.TaskActive, ms.Tasks[0].Status, "week %d", ms.WeekNumber)
	}
	n, err := f.store.CountActiveGroups(ctx, f.gg.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConfirmBeforeFeasibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.scoped(t)

	_, err := f.svc.Confirm(ctx, f.owner, w.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, goals.ErrConflict)
	assert.Contains(t, err.Error(), "feasibility check has not been run")

	_, err = f.svc.Feasibility(ctx, f.owner, w.ID)
	assert.ErrorIs(t, err, goals.ErrNotFound)
}

func TestAuthorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, stranger := storetest.GoGetter(t, f.store)

	_, err := f.svc.Create(ctx, goals.Actor{Role: goals.RoleBestPal, ID: stranger.ID}, f.gg.ID)
	assert.ErrorIs(t, err, goals.ErrForbidden)

	w, err := f.svc.Create(ctx, f.owner, f.gg.ID)
	require.NoError(t, err)

	self := goals.Actor{Role: goals.RoleGoGetter, ID: f.gg.ID}
	_, err = f.svc.Status(ctx, self, w.ID)
	assert.NoError(t, err)
	_, err = f.svc.Cancel(ctx, self, w.ID)
	assert.ErrorIs(t, err, goals.ErrForbidden)
}

func TestExpiredWizardRefusesSteps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w, err := f.svc.Create(ctx, f.owner, f.gg.ID)
	require.NoError(t, err)

	f.clock.t = f.clock.t.Add(DefaultTTL + time.Minute)
	_, err = f.svc.SetScope(ctx, f.owner, w.ID, Scope{Title: "late", Start: day(t, "2025-06-09"), End: day(t, "2025-06-30")})
	assert.ErrorIs(t, err, goals.ErrConflict)
}

func TestRunFeasibilityReevaluates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	target := storetest.Target(t, f.store, f.gg.ID, 3)
	w := f.scoped(t)
	_, err := f.svc.SetTargets(ctx, f.owner, w.ID, []TargetInput{{TargetID: target.ID}})
	require.NoError(t, err)
	_, err = f.svc.SetConstraints(ctx, f.owner, w.ID, nil)
	require.NoError(t, err)

	// A competing target in the same subcategory goes live elsewhere.
	rival := storetest.Target(t, f.store, f.gg.ID, 3)
	storetest.Plan(t, f.store, rival.ID, goals.PlanActive, day(t, "2025-06-02"), 2)

	w, err = f.svc.RunFeasibility(ctx, f.owner, w.ID)
	require.NoError(t, err)
	assert.Equal(t, goals.WizardAdjusting, w.State)
	assert.Contains(t, w.Feasibility.Codes(), goals.RiskExistingActiveSubcategory)

	_, err = f.svc.Confirm(ctx, f.owner, w.ID)
	assert.ErrorIs(t, err, goals.ErrConflict)
}

func TestIsolationViolationIsFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	target := storetest.Target(t, f.store, f.gg.ID, 3)
	elsewhere := storetest.Target(t, f.store, f.gg.ID, 9)
	f.mock.Fail = func(adapters.DraftRequest) error {
		// A drafter must never activate anything; this one does.
		storetest.Plan(t, f.store, elsewhere.ID, goals.PlanActive, day(t, "2025-06-02"), 1)
		return nil
	}

	w := f.scoped(t)
	_, err := f.svc.SetTargets(ctx, f.owner, w.ID, []TargetInput{{TargetID: target.ID}})
	require.NoError(t, err)
	_, err = f.svc.SetConstraints(ctx, f.owner, w.ID, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, goals.ErrFatal)

	events, err := f.audit.Recent(ctx, 10, audit.EventIsolation)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
