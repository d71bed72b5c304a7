package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/courtbook/relay/internal/express"
	"github.com/courtbook/relay/internal/notify"
	"github.com/courtbook/relay/internal/worker"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	JobsCompleted *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobsRetried   *prometheus.CounterVec
	JobsStalled   *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	QueueDepth    *prometheus.GaugeVec

	NotificationsDispatched *prometheus.CounterVec
	ExpressDepth            *prometheus.GaugeVec
	ExpressDropped          prometheus.Counter
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs that finished successfully.",
		}, []string{"queue"}),

		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of terminally failed jobs (retries exhausted or terminal error).",
		}, []string{"queue"}),

		JobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_retried_total",
			Help: "Total number of attempts that were rescheduled with backoff.",
		}, []string{"queue"}),

		JobsStalled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_stalled_total",
			Help: "Total number of expired leases reclaimed by the sweeper.",
		}, []string{"queue"}),

		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_processing_seconds",
			Help:    "Handler execution latency from lease to ack.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_ready_depth",
			Help: "Current number of leasable jobs per queue.",
		}, []string{"queue"}),

		NotificationsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_dispatched_total",
			Help: "Total number of notification rows created per recipient type.",
		}, []string{"recipient_type"}),

		ExpressDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "express_queue_depth",
			Help: "Current number of buffered express messages per priority tier.",
		}, []string{"priority"}),

		ExpressDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "express_dropped_total",
			Help: "Total number of express messages dropped after send failure.",
		}),
	}

	reg.MustRegister(
		m.JobsCompleted,
		m.JobsFailed,
		m.JobsRetried,
		m.JobsStalled,
		m.JobDuration,
		m.QueueDepth,
		m.NotificationsDispatched,
		m.ExpressDepth,
		m.ExpressDropped,
	)

	return m
}

// WorkerHooks returns the metric callbacks expected by the worker pool.
// Centralises the prometheus observation calls so the pool stays
// import-free.
func (m *Metrics) WorkerHooks() worker.MetricHooks {
	return worker.MetricHooks{
		OnCompleted: func(queue string, duration time.Duration) {
			m.JobsCompleted.WithLabelValues(queue).Inc()
			m.JobDuration.WithLabelValues(queue).Observe(duration.Seconds())
		},
		OnFailed: func(queue string) {
			m.JobsFailed.WithLabelValues(queue).Inc()
		},
		OnRetried: func(queue string) {
			m.JobsRetried.WithLabelValues(queue).Inc()
		},
		OnStalled: func(queue string) {
			m.JobsStalled.WithLabelValues(queue).Inc()
		},
		OnDepth: func(queue string, depth int64) {
			m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
		},
	}
}

// DispatcherHooks returns the metric callbacks expected by the
// notification dispatcher.
func (m *Metrics) DispatcherHooks() notify.Hooks {
	return notify.Hooks{
		OnDispatched: func(recipientType string) {
			m.NotificationsDispatched.WithLabelValues(recipientType).Inc()
		},
	}
}

// ExpressHooks returns the metric callbacks expected by the express
// drainer.
func (m *Metrics) ExpressHooks() express.DrainHooks {
	return express.DrainHooks{
		OnDropped: func() {
			m.ExpressDropped.Inc()
		},
		OnDepth: func(high, medium, low int) {
			m.ExpressDepth.WithLabelValues("high").Set(float64(high))
			m.ExpressDepth.WithLabelValues("medium").Set(float64(medium))
			m.ExpressDepth.WithLabelValues("low").Set(float64(low))
		},
	}
}
