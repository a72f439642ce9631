package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the orchestrator's operational signals:
//   - tool execution counts and latency
//   - findings by severity
//   - cache hits and misses per analyzer
//   - schedule run outcomes
//   - analysis run latency per tier
type Metrics struct {
	// ToolExecutions counts tool attempts.
	// Labels: tool_id, status (success|error|timeout|cancelled)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool_id
	ToolDuration *prometheus.HistogramVec

	// Findings counts findings emitted after consolidation.
	// Labels: severity, category
	Findings *prometheus.CounterVec

	// CacheRequests counts cache lookups.
	// Labels: analyzer, outcome (hit|miss|stale)
	CacheRequests *prometheus.CounterVec

	// ScheduleRuns counts scheduler-triggered runs.
	// Labels: cadence, status (success|failed|error)
	ScheduleRuns *prometheus.CounterVec

	// RunDuration measures whole-run latency per tier in seconds.
	// Labels: tier (quick|comprehensive|targeted)
	RunDuration *prometheus.HistogramVec

	// HTTPRequests counts webhook requests.
	// Labels: event, status_code
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the given
// registerer. Pass prometheus.DefaultRegisterer in production; tests use a
// fresh registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewd_tool_executions_total",
				Help: "Total tool attempts by tool id and status",
			},
			[]string{"tool_id", "status"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reviewd_tool_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_id"},
		),
		Findings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewd_findings_total",
				Help: "Consolidated findings by severity and category",
			},
			[]string{"severity", "category"},
		),
		CacheRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewd_cache_requests_total",
				Help: "Cache lookups by analyzer and outcome",
			},
			[]string{"analyzer", "outcome"},
		),
		ScheduleRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewd_schedule_runs_total",
				Help: "Scheduler-triggered runs by cadence and status",
			},
			[]string{"cadence", "status"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reviewd_run_duration_seconds",
				Help:    "Analysis run latency per tier in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"tier"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewd_http_requests_total",
				Help: "Webhook requests by event and status code",
			},
			[]string{"event", "status_code"},
		),
	}
}
