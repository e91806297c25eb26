// Package metrics provides Prometheus instrumentation for the decision engine,
// the scheduler and the ops API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionCycles counts decision cycles by outcome
	// (replied, escalated, held, failed).
	DecisionCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_decision_cycles_total",
			Help: "Decision cycles by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	// DecisionDuration tracks end-to-end cycle latency.
	DecisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_decision_duration_seconds",
			Help:    "Decision cycle duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60, 90},
		},
		[]string{"source"},
	)

	// Fallbacks counts collaborator failures recovered into safe defaults.
	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_fallbacks_total",
			Help: "Collaborator failures recovered into defaults",
		},
		[]string{"stage"},
	)

	// Escalations counts escalations created.
	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_escalations_total",
			Help: "Escalations created",
		},
		[]string{"workspace_id"},
	)

	// BufferPending is the number of conversations waiting in the buffer.
	BufferPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inbox_buffer_pending",
			Help: "Conversations waiting in the message buffer",
		},
	)

	// BufferFlushes counts flushed buffer entries by status.
	BufferFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_buffer_flushes_total",
			Help: "Buffer entries flushed",
		},
		[]string{"status"},
	)

	// FollowUps counts processed follow-ups by final status.
	FollowUps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_followups_total",
			Help: "Follow-ups processed by status",
		},
		[]string{"status"},
	)

	// JobRuns counts scheduler job runs by result.
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_job_runs_total",
			Help: "Scheduler job runs",
		},
		[]string{"job", "result"},
	)

	// JobDuration tracks scheduler job run latency.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_job_duration_seconds",
			Help:    "Scheduler job run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	// HTTPRequests counts ops API requests.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_http_requests_total",
			Help: "Ops API requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration tracks ops API latency.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_http_request_duration_seconds",
			Help:    "Ops API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordCycle records one decision cycle.
func RecordCycle(source, outcome string, seconds float64) {
	DecisionCycles.WithLabelValues(source, outcome).Inc()
	DecisionDuration.WithLabelValues(source).Observe(seconds)
}

// RecordJob records one scheduler job run.
func RecordJob(job string, err error, seconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	JobRuns.WithLabelValues(job, result).Inc()
	JobDuration.WithLabelValues(job).Observe(seconds)
}

// RecordRequest records one ops API request.
func RecordRequest(method, route, status string, seconds float64) {
	HTTPRequests.WithLabelValues(method, route, status).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(seconds)
}
