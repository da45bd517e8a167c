// Package app assembles the orchestration services from a workspace
// configuration.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"gogetter/internal/adapters"
	"gogetter/internal/audit"
	"gogetter/internal/config"
	"gogetter/internal/daemon"
	"gogetter/internal/feasibility"
	"gogetter/internal/groups"
	"gogetter/internal/guard"
	"gogetter/internal/metrics"
	"gogetter/internal/notify"
	"gogetter/internal/planner"
	"gogetter/internal/store"
	"gogetter/internal/taxonomy"
	"gogetter/internal/wizard"
)

// App holds every wired component for one workspace.
type App struct {
	Workspace *config.Workspace
	Config    *config.Config
	Logger    *slog.Logger

	Store       *store.Store
	Audit       *audit.Logger
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
	Policy      *guard.Policy
	Taxonomy    *taxonomy.Catalogue
	Guard       *guard.Guard
	Feasibility *feasibility.Engine
	Planner     *planner.Orchestrator
	Wizards     *wizard.Service
	Groups      *groups.Service
	Records     *Records
}

// Open loads the workspace config and wires the services.
func Open(ws *config.Workspace, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	policy, err := guard.LoadPolicy(ws.PermissionsPath)
	if err != nil {
		return nil, err
	}
	catalogue, err := loadTaxonomy(ws.TaxonomyPath)
	if err != nil {
		return nil, err
	}

	s, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	drafter, enricher, err := buildAdapters(cfg.Drafter, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	auditLog := audit.NewLogger(cfg.AuditDB, logger)
	notifier := buildNotifier(cfg.DesktopNotifications, logger)

	g := guard.New(s,
		guard.WithCooldown(cfg.Groups.ChangeCooldown),
		guard.WithMetrics(m),
		guard.WithLogger(logger.With("component", "guard")),
	)
	engOpts := []feasibility.Option{
		feasibility.WithMetrics(m),
		feasibility.WithLogger(logger.With("component", "feasibility")),
	}
	if enricher != nil {
		engOpts = append(engOpts, feasibility.WithEnricher(enricher))
	}
	eng := feasibility.New(s, cfg.Limits, engOpts...)
	p := planner.New(s, drafter, eng,
		planner.WithMetrics(m),
		planner.WithLogger(logger.With("component", "planner")),
	)
	wiz := wizard.New(s, p, eng, g,
		wizard.WithTTL(cfg.Wizard.TTL),
		wizard.WithParallelism(cfg.Wizard.Parallelism),
		wizard.WithIsolationCheck(cfg.Wizard.VerifyIsolation),
		wizard.WithPolicy(policy),
		wizard.WithAudit(auditLog),
		wizard.WithNotifier(notifier),
		wizard.WithMetrics(m),
		wizard.WithLogger(logger.With("component", "wizard")),
	)
	grp := groups.New(s, p, g,
		groups.WithPolicy(policy),
		groups.WithAudit(auditLog),
		groups.WithNotifier(notifier),
		groups.WithMetrics(m),
		groups.WithLogger(logger.With("component", "groups")),
	)

	return &App{
		Workspace:   ws,
		Config:      cfg,
		Logger:      logger,
		Store:       s,
		Audit:       auditLog,
		Registry:    reg,
		Metrics:     m,
		Policy:      policy,
		Taxonomy:    catalogue,
		Guard:       g,
		Feasibility: eng,
		Planner:     p,
		Wizards:     wiz,
		Groups:      grp,
		Records:     &Records{store: s, policy: policy, taxonomy: catalogue},
	}, nil
}

// Daemon builds the job runner over the app's store and wizard sweep.
func (a *App) Daemon() (*daemon.Daemon, error) {
	d, err := daemon.New(a.Store, a.Wizards, daemon.Config{
		SweepInterval: a.Config.Daemon.SweepInterval,
		PollInterval:  a.Config.Daemon.PollInterval,
		MetricsAddr:   a.Config.Daemon.MetricsAddr,
	},
		daemon.WithAudit(a.Audit),
		daemon.WithMetrics(a.Metrics, a.Registry),
		daemon.WithLogger(a.Logger.With("component", "daemon")),
	)
	if err != nil {
		return nil, err
	}
	d.RegisterHandler(daemon.JobGroupComplete, daemon.GroupCompletion(a.Groups))
	d.Scheduler().Every(daemon.JobGroupComplete)
	return d, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}

// loadTaxonomy falls back to the built-in catalogue when the workspace has
// none.
func loadTaxonomy(path string) (*taxonomy.Catalogue, error) {
	c, err := taxonomy.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return taxonomy.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func buildAdapters(cfg config.Drafter, logger *slog.Logger) (adapters.PlanDrafter, adapters.Enricher, error) {
	switch cfg.Kind {
	case "mock":
		var enricher adapters.Enricher
		if cfg.Enrich {
			enricher = &adapters.MockEnricher{}
		}
		return &adapters.MockDrafter{}, enricher, nil
	case "openai":
		client, err := adapters.NewOpenAI(adapters.OpenAIConfig{
			APIKey:            cfg.LLM.APIKey,
			BaseURL:           cfg.LLM.BaseURL,
			Model:             cfg.LLM.Model,
			RequestsPerSecond: cfg.LLM.RequestsPerSecond,
			Burst:             cfg.LLM.Burst,
			Timeout:           cfg.LLM.Timeout,
		}, logger.With("component", "llm"))
		if err != nil {
			return nil, nil, fmt.Errorf("build openai drafter: %w", err)
		}
		if cfg.Enrich {
			return client, client, nil
		}
		return client, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown drafter: %s", cfg.Kind)
	}
}

func buildNotifier(desktop bool, logger *slog.Logger) notify.Notifier {
	log := &notify.Log{Logger: logger.With("component", "notify")}
	if desktop {
		return notify.Multi{log, &notify.Desktop{Enabled: true}}
	}
	return log
}
