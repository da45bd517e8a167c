package daemon

import (
	"context"

	"gogetter/internal/groups"
	"gogetter/internal/guard"
	"gogetter/internal/store"
)

const (
	// JobWizardSweep cancels wizards whose TTL elapsed.
	JobWizardSweep = "wizard_sweep"
	// JobGroupComplete closes goal groups whose window has ended.
	JobGroupComplete = "group_complete"
)

// Sweeper expires stale wizards. *wizard.Service satisfies it.
type Sweeper interface {
	Expire(ctx context.Context) (guard.ExpireResult, error)
}

// Completer closes ended goal groups. *groups.Service satisfies it.
type Completer interface {
	Complete(ctx context.Context) (groups.CompleteResult, error)
}

// DefaultHandlers returns the built-in daemon handlers.
func DefaultHandlers(sweeper Sweeper) map[string]HandlerFunc {
	return map[string]HandlerFunc{
		JobWizardSweep: wizardSweep(sweeper),
	}
}

func wizardSweep(sweeper Sweeper) HandlerFunc {
	return func(ctx context.Context, job *store.Job) (any, error) {
		res, err := sweeper.Expire(ctx)
		if err != nil {
			return nil, err
		}
		return res, nil
	}
}

// GroupCompletion returns the handler for JobGroupComplete.
func GroupCompletion(c Completer) HandlerFunc {
	return func(ctx context.Context, job *store.Job) (any, error) {
		res, err := c.Complete(ctx)
		if err != nil {
			return nil, err
		}
		return res, nil
	}
}
