package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency. Shared across all handlers.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "relay",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

var DeliveriesEnqueuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "delivery",
		Name:      "enqueued_total",
		Help:      "Total number of deliveries enqueued, by organization.",
	},
	[]string{"organization_id"},
)

var DeliveriesCompletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "delivery",
		Name:      "completed_total",
		Help:      "Total number of deliveries completed, by final status.",
	},
	[]string{"status"},
)

var DeliveryAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "delivery",
		Name:      "attempts_total",
		Help:      "Total number of per-destination delivery attempts.",
	},
	[]string{"destination_type", "outcome"},
)

var DeliveryAttemptDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "relay",
		Subsystem: "delivery",
		Name:      "attempt_duration_seconds",
		Help:      "Duration of a single destination delivery attempt in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"destination_type"},
)

var QueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current number of queue items by status.",
	},
	[]string{"status"},
)

var QueueDequeuedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "queue",
		Name:      "dequeued_total",
		Help:      "Total number of queue items claimed for processing.",
	},
)

var QueueStuckRecoveredTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "queue",
		Name:      "stuck_recovered_total",
		Help:      "Total number of stuck processing items recovered by the watchdog.",
	},
)

var BreakerStateChangesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "breaker",
		Name:      "state_changes_total",
		Help:      "Total number of circuit breaker state transitions, by destination and new state.",
	},
	[]string{"destination_id", "state"},
)

var BreakerOpenGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "breaker",
		Name:      "open",
		Help:      "1 if the destination's circuit breaker is open, 0 otherwise.",
	},
	[]string{"destination_id"},
)

var RetryScheduledTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "retry",
		Name:      "scheduled_total",
		Help:      "Total number of retry attempts scheduled, by destination type.",
	},
	[]string{"destination_type"},
)

var RetryBackoffSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "relay",
		Subsystem: "retry",
		Name:      "backoff_seconds",
		Help:      "Computed backoff duration before a retry, in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	},
	[]string{"destination_type"},
)

var AlertsReceivedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "alerts",
		Name:      "received_total",
		Help:      "Total number of alerts received, by type.",
	},
	[]string{"alert_type"},
)

var AlertsDebouncedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "alerts",
		Name:      "debounced_total",
		Help:      "Total number of alerts suppressed by the debouncer, by reason.",
	},
	[]string{"reason"},
)

var AlertsEscalatedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "alerts",
		Name:      "escalated_total",
		Help:      "Total number of alerts escalated.",
	},
	[]string{"alert_type"},
)

// All returns all relay-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		DeliveriesEnqueuedTotal,
		DeliveriesCompletedTotal,
		DeliveryAttemptsTotal,
		DeliveryAttemptDuration,
		QueueDepth,
		QueueDequeuedTotal,
		QueueStuckRecoveredTotal,
		BreakerStateChangesTotal,
		BreakerOpenGauge,
		RetryScheduledTotal,
		RetryBackoffSeconds,
		AlertsReceivedTotal,
		AlertsDebouncedTotal,
		AlertsEscalatedTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional collectors passed
// as arguments (typically the result of All()).
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
