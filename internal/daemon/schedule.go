package daemon

import (
	"context"
	"fmt"
	"slices"
	"time"

	"gogetter/internal/store"
)

const watermarkKey = "scheduler_watermark"

// Scheduler enqueues recurring jobs between the stored watermark and now.
type Scheduler struct {
	store     *store.Store
	interval  time.Duration
	recurring []string
}

// NewScheduler creates a scheduler that enqueues a sweep every interval.
func NewScheduler(s *store.Store, interval time.Duration) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	return &Scheduler{store: s, interval: interval, recurring: []string{JobWizardSweep}}, nil
}

// Every adds jobType to the jobs enqueued on each interval slot.
func (s *Scheduler) Every(jobType string) {
	if slices.Contains(s.recurring, jobType) {
		return
	}
	s.recurring = append(s.recurring, jobType)
}

// Recurring lists the job types enqueued on each interval slot.
func (s *Scheduler) Recurring() []string {
	return slices.Clone(s.recurring)
}

// Tick schedules any jobs that became due since the last tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	now = now.UTC()
	watermarkStr, err := s.store.GetKV(ctx, watermarkKey)
	if err != nil {
		return fmt.Errorf("get scheduler watermark: %w", err)
	}

	var lastWatermark time.Time
	if watermarkStr != "" {
		lastWatermark, err = time.Parse(time.RFC3339, watermarkStr)
		if err != nil {
			return fmt.Errorf("parse watermark: %w", err)
		}
	}

	// First run only records the watermark; the startup sweep covers it.
	if !lastWatermark.IsZero() {
		for _, jobType := range s.recurring {
			if err := s.scheduleEvery(ctx, lastWatermark, now, jobType); err != nil {
				return fmt.Errorf("schedule %s: %w", jobType, err)
			}
		}
	}

	if err := s.store.SetKV(ctx, watermarkKey, now.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("update watermark: %w", err)
	}
	return nil
}

// EnqueueNow schedules an immediate job, used for the startup sweep and
// for manual runs.
func (s *Scheduler) EnqueueNow(ctx context.Context, jobType string, now time.Time, reason string) (string, error) {
	id, _, err := s.store.EnqueueUnique(ctx, jobType, now.UTC().Truncate(time.Second), map[string]any{
		"reason": reason,
	})
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	return id, nil
}

// scheduleEvery enqueues the latest interval slot in (lastWatermark, now].
// Missed slots collapse into one job since a sweep covers everything
// stale at the time it runs.
func (s *Scheduler) scheduleEvery(ctx context.Context, lastWatermark, now time.Time, jobType string) error {
	slot := now.Truncate(s.interval)
	if !slot.After(lastWatermark) {
		return nil
	}
	payload := map[string]any{
		"scheduled_time": slot.Format(time.RFC3339),
		"reason":         "interval",
	}
	if _, _, err := s.store.EnqueueUnique(ctx, jobType, slot, payload); err != nil {
		return fmt.Errorf("enqueue %s at %s: %w", jobType, slot, err)
	}
	return nil
}
