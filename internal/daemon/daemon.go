// Package daemon runs scheduled maintenance jobs against the state store.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gogetter/internal/audit"
	"gogetter/internal/goals"
	"gogetter/internal/metrics"
	"gogetter/internal/store"
)

// HandlerFunc is the function signature for job handlers.
type HandlerFunc func(ctx context.Context, job *store.Job) (any, error)

// Daemon is a long-running process that claims and executes jobs.
type Daemon struct {
	store        *store.Store
	scheduler    *Scheduler
	handlers     map[string]HandlerFunc
	audit        *audit.Logger
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer
	logger       *slog.Logger
	now          func() time.Time
	leaseOwner   string
	leaseFor     time.Duration
	pollInterval time.Duration
	metricsAddr  string
}

// Config holds daemon configuration.
type Config struct {
	SweepInterval time.Duration
	PollInterval  time.Duration
	LeaseOwner    string
	LeaseFor      time.Duration
	// MetricsAddr, when set, serves the gatherer on /metrics.
	MetricsAddr string
}

type Option func(*Daemon)

func WithAudit(l *audit.Logger) Option {
	return func(d *Daemon) { d.audit = l }
}

// WithMetrics records job outcomes and exposes gatherer on /metrics.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(d *Daemon) {
		d.metrics = m
		d.gatherer = gatherer
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(d *Daemon) { d.now = now }
}

// New creates a daemon with the default handlers.
func New(s *store.Store, sweeper Sweeper, cfg Config, opts ...Option) (*Daemon, error) {
	scheduler, err := NewScheduler(s, cfg.SweepInterval)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	if cfg.LeaseOwner == "" {
		hostname, _ := os.Hostname()
		cfg.LeaseOwner = fmt.Sprintf("daemon-%s-%d", hostname, os.Getpid())
	}
	if cfg.LeaseFor == 0 {
		cfg.LeaseFor = 5 * time.Minute
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}

	d := &Daemon{
		store:        s,
		scheduler:    scheduler,
		handlers:     DefaultHandlers(sweeper),
		logger:       slog.Default(),
		now:          time.Now,
		leaseOwner:   cfg.LeaseOwner,
		leaseFor:     cfg.LeaseFor,
		pollInterval: cfg.PollInterval,
		metricsAddr:  cfg.MetricsAddr,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// RegisterHandler registers a handler for a specific job type.
func (d *Daemon) RegisterHandler(jobType string, handler HandlerFunc) {
	d.handlers[jobType] = handler
}

// Scheduler exposes the scheduler for manual enqueues.
func (d *Daemon) Scheduler() *Scheduler {
	return d.scheduler
}

// Run enqueues one startup job per recurring type and then ticks the scheduler and claims
// jobs until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if d.metricsAddr != "" && d.gatherer != nil {
		stop := d.serveMetrics()
		defer stop()
	}

	d.audit.Record(ctx, goals.System, audit.EventDaemonStarted, map[string]any{
		"lease_owner":   d.leaseOwner,
		"poll_interval": d.pollInterval.String(),
		"metrics_addr":  d.metricsAddr,
	})
	d.logger.Info("daemon started", "lease_owner", d.leaseOwner, "poll_interval", d.pollInterval)

	for _, jobType := range d.scheduler.Recurring() {
		if _, err := d.scheduler.EnqueueNow(ctx, jobType, d.now(), "startup"); err != nil {
			d.logger.Error("startup job not enqueued", "job_type", jobType, "error", err)
		}
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.Step(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("daemon step failed", "error", err)
		}
		select {
		case <-ctx.Done():
			d.audit.Record(context.WithoutCancel(ctx), goals.System, audit.EventDaemonStopped, map[string]any{
				"lease_owner": d.leaseOwner,
			})
			d.logger.Info("daemon stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Step ticks the scheduler and executes at most one due job. It reports
// whether a job ran.
func (d *Daemon) Step(ctx context.Context) (bool, error) {
	if err := d.scheduler.Tick(ctx, d.now()); err != nil {
		d.logger.Error("scheduler tick failed", "error", err)
	}
	return d.claimAndExecute(ctx)
}

func (d *Daemon) claimAndExecute(ctx context.Context) (bool, error) {
	job, err := d.store.ClaimNext(ctx, d.now().UTC(), d.leaseOwner, d.leaseFor)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	logger := d.logger.With("job_id", job.ID, "job_type", job.Type)
	d.audit.Record(ctx, goals.System, audit.EventJobStarted, map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"payload":  job.PayloadJSON,
	})

	var result any
	handler, ok := d.handlers[job.Type]
	if !ok {
		err = fmt.Errorf("no handler for job type: %s", job.Type)
	} else {
		result, err = handler(ctx, job)
	}

	if err != nil {
		// The job outcome is stored even when the run was interrupted.
		if ferr := d.store.Fail(context.WithoutCancel(ctx), job.ID, err); ferr != nil {
			logger.Error("mark job failed", "error", ferr)
		}
		d.finished(ctx, job, "failed", map[string]any{"error": err.Error()})
		logger.Warn("job failed", "error", err)
		return true, err
	}

	if err := d.store.Succeed(ctx, job.ID, result); err != nil {
		return true, fmt.Errorf("mark job succeeded: %w", err)
	}
	d.finished(ctx, job, "succeeded", map[string]any{"result": result})
	logger.Info("job succeeded")
	return true, nil
}

func (d *Daemon) finished(ctx context.Context, job *store.Job, status string, extra map[string]any) {
	d.metrics.ObserveJob(job.Type, status)
	payload := map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"status":   status,
	}
	for k, v := range extra {
		payload[k] = v
	}
	d.audit.Record(context.WithoutCancel(ctx), goals.System, audit.EventJobFinished, payload)
}

func (d *Daemon) serveMetrics() func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              d.metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("metrics server failed", "addr", d.metricsAddr, "error", err)
		}
	}()
	d.logger.Info("serving metrics", "addr", d.metricsAddr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
