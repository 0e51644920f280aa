// Package metrics holds the Prometheus collectors shared by the server and
// worker processes. Collectors register with the default registry in init.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome label values.
const (
	OutcomeCompleted   = "completed"
	OutcomeFailed      = "failed"
	OutcomeSoftTimeout = "soft_timeout"
	OutcomeHardTimeout = "hard_timeout"
	OutcomeRequeued    = "requeued"
	OutcomeDuplicate   = "duplicate"
	OutcomeExhausted   = "exhausted"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genqueue_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genqueue_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	JobsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genqueue_jobs_created_total",
			Help: "Jobs accepted by the orchestrator, by job type.",
		},
		[]string{"job_type"},
	)

	EnqueueFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "genqueue_enqueue_failures_total",
			Help: "Jobs failed because the broker refused the delivery.",
		},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genqueue_worker_deliveries_total",
			Help: "Deliveries handled by workers, by outcome.",
		},
		[]string{"outcome"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genqueue_job_duration_seconds",
			Help:    "Time spent running a job in a worker, in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 90, 120},
		},
		[]string{"job_type"},
	)

	WorkerBusySlots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "genqueue_worker_busy_slots",
			Help: "Worker slots currently running a job.",
		},
	)

	ReapedJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genqueue_reaped_jobs_total",
			Help: "Jobs failed by the reaper, by the status they were stuck in.",
		},
		[]string{"status"},
	)

	NotificationsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genqueue_notifications_published_total",
			Help: "Status events published to the notification channel.",
		},
		[]string{"result"},
	)

	NotificationsForwardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "genqueue_notifications_forwarded_total",
			Help: "Status events forwarded to live connections.",
		},
	)

	SubscriberReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "genqueue_notification_subscriber_reconnects_total",
			Help: "Times the notification subscriber resubscribed after an error.",
		},
	)

	HTTPPanicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "genqueue_http_panics_total",
			Help: "Handler panics recovered by the HTTP server.",
		},
	)

	LiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "genqueue_live_connections",
			Help: "Open WebSocket connections on this server.",
		},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsCreatedTotal)
	prometheus.MustRegister(EnqueueFailuresTotal)
	prometheus.MustRegister(DeliveriesTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(WorkerBusySlots)
	prometheus.MustRegister(ReapedJobsTotal)
	prometheus.MustRegister(NotificationsPublishedTotal)
	prometheus.MustRegister(NotificationsForwardedTotal)
	prometheus.MustRegister(SubscriberReconnectsTotal)
	prometheus.MustRegister(HTTPPanicsTotal)
	prometheus.MustRegister(LiveConnections)

	for _, o := range []string{OutcomeCompleted, OutcomeFailed, OutcomeSoftTimeout,
		OutcomeHardTimeout, OutcomeRequeued, OutcomeDuplicate, OutcomeExhausted} {
		DeliveriesTotal.WithLabelValues(o)
	}
}
