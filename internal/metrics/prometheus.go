package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gogetter/internal/goals"
)

// Metrics holds the orchestration counters. A nil *Metrics records nothing.
type Metrics struct {
	FeasibilityChecks  *prometheus.CounterVec
	Risks              *prometheus.CounterVec
	EnrichmentFailures prometheus.Counter
	Drafts             *prometheus.CounterVec
	DraftDuration      prometheus.Histogram
	Activations        prometheus.Counter
	Replans            *prometheus.CounterVec
	WizardTransitions  *prometheus.CounterVec
	WizardsExpired     prometheus.Counter
	GroupsClosed       *prometheus.CounterVec
	Jobs               *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FeasibilityChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gogetter_feasibility_checks_total",
			Help: "Feasibility evaluations by verdict",
		}, []string{"verdict"}),
		Risks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gogetter_feasibility_risks_total",
			Help: "Risks reported by feasibility evaluations",
		}, []string{"code", "level"}),
		EnrichmentFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "gogetter_feasibility_enrichment_failures_total",
			Help: "Risk explanation calls that failed or were discarded",
		}),
		Drafts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gogetter_plan_drafts_total",
			Help: "Plan drafting calls by result",
		}, []string{"result"}),
		DraftDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gogetter_plan_draft_duration_seconds",
			Help:    "Time spent drafting a plan",
			Buckets: []float64{0.01, 0.1, 1, 5, 15, 30, 60, 120},
		}),
		Activations: f.NewCounter(prometheus.CounterOpts{
			Name: "gogetter_plan_activations_total",
			Help: "Draft plans promoted to active",
		}),
		Replans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gogetter_replans_total",
			Help: "Goal group re-plans by result",
		}, []string{"result"}),
		WizardTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gogetter_wizard_transitions_total",
			Help: "Wizard state transitions by target state",
		}, []string{"state"}),
		WizardsExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "gogetter_wizards_expired_total",
			Help: "Wizards cancelled by the TTL sweep",
		}),
		GroupsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gogetter_groups_closed_total",
			Help: "Goal groups that left active, by final status",
		}, []string{"status"}),
		Jobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gogetter_jobs_total",
			Help: "Daemon jobs by type and status",
		}, []string{"type", "status"}),
	}
}

func (m *Metrics) ObserveFeasibility(res goals.FeasibilityResult) {
	if m == nil {
		return
	}
	verdict := "passed"
	if !res.Passed {
		verdict = "blocked"
	}
	m.FeasibilityChecks.WithLabelValues(verdict).Inc()
	for _, r := range res.Risks {
		m.Risks.WithLabelValues(string(r.Code), string(r.Level)).Inc()
	}
}

func (m *Metrics) ObserveEnrichmentFailure() {
	if m == nil {
		return
	}
	m.EnrichmentFailures.Inc()
}

func (m *Metrics) ObserveDraft(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Drafts.WithLabelValues(result).Inc()
	m.DraftDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveActivation(n int) {
	if m == nil {
		return
	}
	m.Activations.Add(float64(n))
}

func (m *Metrics) ObserveReplan(err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case goals.KindOf(err) == goals.KindConflict:
		result = "conflict"
	default:
		result = "error"
	}
	m.Replans.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveWizard(state goals.WizardState) {
	if m == nil {
		return
	}
	m.WizardTransitions.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) ObserveExpired(n int) {
	if m == nil {
		return
	}
	m.WizardsExpired.Add(float64(n))
}

func (m *Metrics) ObserveGroupsClosed(status goals.GroupStatus, n int) {
	if m == nil {
		return
	}
	m.GroupsClosed.WithLabelValues(string(status)).Add(float64(n))
}

func (m *Metrics) ObserveJob(jobType, status string) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(jobType, status).Inc()
}
