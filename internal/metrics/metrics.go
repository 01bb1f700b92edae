package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for ensemble
type Metrics struct {
	// Agent process metrics
	AgentRuns        *prometheus.CounterVec
	AgentRunDuration *prometheus.HistogramVec
	AgentEvents      *prometheus.CounterVec
	AgentActive      prometheus.Gauge

	// Job metrics
	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
	JobSkipped  *prometheus.CounterVec
	PersistErrs prometheus.Counter

	// Routing and configuration metrics
	RoutingDecisions *prometheus.CounterVec
	Invalidations    *prometheus.CounterVec
	SkillUsage       *prometheus.CounterVec
	UsageDropped     prometheus.Counter
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics. Registration happens
// once per process; later calls return the shared instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			AgentRuns: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ensemble_agent_runs_total",
					Help: "Agent process runs by execution mode and outcome",
				},
				[]string{"mode", "outcome"},
			),
			AgentRunDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "ensemble_agent_run_duration_seconds",
					Help:    "Wall-clock duration of agent process runs",
					Buckets: prometheus.ExponentialBuckets(1, 2, 11), // 1s to ~17min
				},
				[]string{"mode"},
			),
			AgentEvents: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ensemble_agent_events_total",
					Help: "Protocol events emitted by streaming runs",
				},
				[]string{"kind"},
			),
			AgentActive: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "ensemble_agent_processes_active",
					Help: "Agent processes currently running",
				},
			),
			JobRuns: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ensemble_job_runs_total",
					Help: "Job executions by job id and result",
				},
				[]string{"job_id", "result"},
			),
			JobDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "ensemble_job_duration_seconds",
					Help:    "Duration of job executions",
					Buckets: prometheus.ExponentialBuckets(1, 2, 12),
				},
				[]string{"job_id"},
			),
			JobSkipped: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ensemble_job_skipped_total",
					Help: "Cron ticks skipped because the job was still running",
				},
				[]string{"job_id"},
			),
			PersistErrs: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "ensemble_result_persist_errors_total",
					Help: "Failed writes to the job result store",
				},
			),
			RoutingDecisions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ensemble_routing_decisions_total",
					Help: "Routing resolutions by the tier that matched",
				},
				[]string{"tier"},
			),
			Invalidations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ensemble_cache_invalidations_total",
					Help: "Explicit cache invalidations",
				},
				[]string{"cache"},
			),
			SkillUsage: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ensemble_prompt_fragment_usage_total",
					Help: "Skill and modifier fragments included in assembled prompts",
				},
				[]string{"kind", "name"},
			),
			UsageDropped: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "ensemble_usage_records_dropped_total",
					Help: "Usage records dropped because the side channel was full",
				},
			),
		}
	})

	return sharedMetrics
}

// RecordAgentRun records the outcome of one agent process run.
func (m *Metrics) RecordAgentRun(mode, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.AgentRuns.WithLabelValues(mode, outcome).Inc()
	m.AgentRunDuration.WithLabelValues(mode).Observe(seconds)
}

// RecordJob records a completed job execution.
func (m *Metrics) RecordJob(jobID, result string, seconds float64) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(jobID, result).Inc()
	m.JobDuration.WithLabelValues(jobID).Observe(seconds)
}
