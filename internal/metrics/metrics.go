package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Job metrics
	JobsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_jobs_created_total",
			Help: "Total number of research jobs created",
		},
		[]string{"mode"},
	)

	JobStatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_job_status_transitions_total",
			Help: "Total number of job status transitions",
		},
		[]string{"from", "to"},
	)

	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fathom_jobs_active",
			Help: "Number of jobs currently cached in memory",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fathom_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"mode", "status"},
	)

	// Workflow metrics
	WorkflowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_workflows_started_total",
			Help: "Total number of workflows started",
		},
		[]string{"workflow_type"},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_workflows_completed_total",
			Help: "Total number of workflows completed",
		},
		[]string{"workflow_type", "status"},
	)

	PlanIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fathom_plan_iterations",
			Help:    "Planner iterations consumed per workflow",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	StepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_steps_executed_total",
			Help: "Total number of plan steps executed",
		},
		[]string{"step_type", "status"},
	)

	// Streaming metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_events_published_total",
			Help: "Total number of stream events published",
		},
		[]string{"type"},
	)

	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fathom_stream_subscribers",
			Help: "Number of active stream subscribers",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_events_dropped_total",
			Help: "Events dropped due to slow subscribers",
		},
	)

	// Persistence metrics
	DBWriteQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fathom_db_write_queue_depth",
			Help: "Pending entries in the async DB write queue",
		},
	)

	DBWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_db_write_failures_total",
			Help: "Failed durable writes by operation",
		},
		[]string{"op"},
	)

	// Collaborator metrics
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_search_requests_total",
			Help: "Search collaborator requests by status",
		},
		[]string{"status"},
	)

	AgentTurns = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fathom_agent_turns",
			Help:    "Agent turns consumed per step execution",
			Buckets: []float64{1, 2, 5, 10, 15, 20, 25},
		},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
)

// RecordJobCompletion records terminal job metrics in one place.
func RecordJobCompletion(mode, status string, durationSeconds float64) {
	JobDuration.WithLabelValues(mode, status).Observe(durationSeconds)
	WorkflowsCompleted.WithLabelValues("research", status).Inc()
}
