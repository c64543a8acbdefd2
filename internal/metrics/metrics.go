package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Development backend.
var (
	JobsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobsync_backend_jobs_submitted_total",
		Help: "Total number of jobs submitted to the backend",
	})

	JobsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobsync_backend_jobs_completed_total",
		Help: "Total number of jobs completed successfully",
	})

	JobsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobsync_backend_jobs_failed_total",
		Help: "Total number of jobs that failed",
	})

	JobsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobsync_backend_jobs_cancelled_total",
		Help: "Total number of jobs cancelled before finishing",
	})

	JobProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jobsync_backend_job_processing_duration_seconds",
		Help:    "Time taken to process jobs in seconds",
		Buckets: prometheus.DefBuckets,
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jobsync_backend_active_workers",
		Help: "Current number of active workers",
	})

	PendingJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jobsync_backend_pending_jobs",
		Help: "Current number of pending jobs",
	})

	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jobsync_backend_websocket_clients",
		Help: "Current number of connected websocket clients",
	})
)

// Client side synchronization.
var (
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jobsync_connection_state",
		Help: "Push connection state: 0 disconnected, 1 connecting, 2 open, 3 closing",
	})

	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobsync_reconnects_total",
		Help: "Total number of scheduled reconnect attempts",
	})

	PushMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobsync_push_messages_total",
		Help: "Inbound push messages by type",
	}, []string{"type"})

	ProtocolErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobsync_protocol_errors_total",
		Help: "Malformed or unknown push messages that were dropped",
	})

	DiscardedUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobsync_discarded_updates_total",
		Help: "Job updates dropped without being applied",
	}, []string{"reason"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobsync_api_requests_total",
		Help: "Requests sent to the job service by operation and outcome",
	}, []string{"op", "outcome"})

	ResultFetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobsync_result_fetches_total",
		Help: "Result fetches started after a job turned terminal",
	})

	TerminalDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobsync_terminal_deliveries_total",
		Help: "Completion and failure notifications delivered to observers",
	}, []string{"status"})

	TrackedJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jobsync_tracked_jobs",
		Help: "Jobs currently observed by a synchronizer",
	})
)
