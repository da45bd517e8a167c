// Package guard enforces the cross-entity uniqueness rules, the rolling
// change limit and the re-plan concurrency token. Every assertion runs
// against either a *store.Store or a *store.Tx, so callers can make it part
// of the transaction that depends on it.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gogetter/internal/goals"
	"gogetter/internal/metrics"
	"gogetter/internal/store"
)

// DefaultChangeCooldown is the rolling window between two group changes.
const DefaultChangeCooldown = 7 * 24 * time.Hour

type wizardCounter interface {
	CountActiveWizards(ctx context.Context, goGetterID int64) (int, error)
}

type groupCounter interface {
	CountActiveGroups(ctx context.Context, goGetterID int64) (int, error)
}

type subcategoryLookup interface {
	ActiveTargetsForSubcategory(ctx context.Context, goGetterID, subcategoryID int64) ([]goals.Target, error)
}

type planCounter interface {
	CountActivePlans(ctx context.Context, targetID int64) (int, error)
}

// AssertNoActiveWizard refuses when the go getter has a non-terminal wizard.
func AssertNoActiveWizard(ctx context.Context, r wizardCounter, op string, goGetterID int64) error {
	n, err := r.CountActiveWizards(ctx, goGetterID)
	if err != nil {
		return err
	}
	if n > 0 {
		return goals.Conflictf(op, "go getter %d already has an active wizard", goGetterID)
	}
	return nil
}

// AssertNoActiveGroup refuses when the go getter has an active goal group.
func AssertNoActiveGroup(ctx context.Context, r groupCounter, op string, goGetterID int64) error {
	n, err := r.CountActiveGroups(ctx, goGetterID)
	if err != nil {
		return err
	}
	if n > 0 {
		return goals.Conflictf(op, "go getter %d already has an active goal group", goGetterID)
	}
	return nil
}

// AssertSubcategoryAvailable refuses when another active target of the go
// getter already uses the subcategory. exceptTargetID is ignored.
func AssertSubcategoryAvailable(ctx context.Context, r subcategoryLookup, op string, goGetterID, subcategoryID, exceptTargetID int64) error {
	targets, err := r.ActiveTargetsForSubcategory(ctx, goGetterID, subcategoryID)
	if err != nil {
		return err
	}
	for _, t := range targets {
		if t.ID != exceptTargetID {
			return goals.Conflictf(op,
				"subcategory %d already has active target %d for go getter %d", subcategoryID, t.ID, goGetterID)
		}
	}
	return nil
}

// AssertSingleActivePlan is the activation post-condition. Anything other
// than exactly one active plan means the transactional discipline was
// bypassed somewhere.
func AssertSingleActivePlan(ctx context.Context, r planCounter, op string, targetID int64) error {
	n, err := r.CountActivePlans(ctx, targetID)
	if err != nil {
		return err
	}
	if n != 1 {
		return goals.Fatalf(op, "target %d has %d active plans after activation", targetID, n)
	}
	return nil
}

// Guard owns the time-dependent and token-based protections.
type Guard struct {
	store    *store.Store
	cooldown time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Guard)

func WithCooldown(d time.Duration) Option {
	return func(g *Guard) { g.cooldown = d }
}

func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

func New(s *store.Store, opts ...Option) *Guard {
	g := &Guard{
		store:    s,
		cooldown: DefaultChangeCooldown,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Now returns the guard's clock reading in UTC.
func (g *Guard) Now() time.Time {
	return g.now().UTC()
}

// AssertChangeAllowed enforces at most one change per group within the
// rolling cooldown window anchored at last_change_at.
func (g *Guard) AssertChangeAllowed(group *goals.GoalGroup) error {
	if group.LastChangeAt == nil {
		return nil
	}
	next := group.LastChangeAt.Add(g.cooldown)
	remaining := next.Sub(g.Now())
	if remaining <= 0 {
		return nil
	}
	hours := int(math.Ceil(remaining.Hours()))
	return goals.Conflictf("group.change",
		"goal group was already changed recently. Next change allowed in %d hours.", hours)
}

// AcquireReplan flips replan_status from idle to in_progress with a single
// conditional update. A group already in progress yields a conflict.
func (g *Guard) AcquireReplan(ctx context.Context, groupID int64) error {
	ok, err := g.store.CompareAndSwapReplan(ctx, groupID, goals.ReplanIdle, goals.ReplanInProgress)
	if err != nil {
		return err
	}
	if ok {
		g.logger.Debug("replan token acquired", "group_id", groupID)
		return nil
	}
	if _, err := g.store.GetGoalGroup(ctx, groupID); errors.Is(err, store.ErrNotFound) {
		return goals.NotFoundf("group.replan", "goal group %d not found", groupID)
	} else if err != nil {
		return err
	}
	return goals.Conflictf("group.replan", "another re-plan is already in progress for goal group %d", groupID)
}

// ReleaseReplan returns the token to idle. Releasing an idle token is
// logged and otherwise ignored.
func (g *Guard) ReleaseReplan(ctx context.Context, groupID int64) error {
	ok, err := g.store.CompareAndSwapReplan(ctx, groupID, goals.ReplanInProgress, goals.ReplanIdle)
	if err != nil {
		return fmt.Errorf("release replan token: %w", err)
	}
	if !ok {
		g.logger.Warn("replan token was not held", "group_id", groupID)
	}
	return nil
}

// ExpireResult reports what a sweep cancelled.
type ExpireResult struct {
	Wizards   int     `json:"wizards"`
	Drafts    int     `json:"drafts"`
	WizardIDs []int64 `json:"wizard_ids,omitempty"`
}

// ExpireStale cancels every non-terminal wizard whose TTL elapsed before
// now, discarding its drafts. Live plans are never touched.
func (g *Guard) ExpireStale(ctx context.Context, now time.Time) (ExpireResult, error) {
	var res ExpireResult
	err := g.store.Update(ctx, func(tx *store.Tx) error {
		expired, err := tx.ListExpiredWizards(ctx, now)
		if err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}
		var drafts []int64
		ids := make([]int64, 0, len(expired))
		for _, w := range expired {
			ids = append(ids, w.ID)
			drafts = append(drafts, w.DraftPlanIDs...)
		}
		if res.Drafts, err = tx.CancelDraftPlans(ctx, drafts); err != nil {
			return err
		}
		if res.Wizards, err = tx.CancelWizards(ctx, ids); err != nil {
			return err
		}
		res.WizardIDs = ids
		return nil
	})
	if err != nil {
		return ExpireResult{}, fmt.Errorf("expire stale wizards: %w", err)
	}
	g.metrics.ObserveExpired(res.Wizards)
	if res.Wizards > 0 {
		g.logger.Info("expired stale wizards", "wizards", res.Wizards, "drafts", res.Drafts)
	}
	return res, nil
}
