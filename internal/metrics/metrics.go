package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sweeper metrics

	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "notifier",
		Name:      "sweep_duration_seconds",
		Help:      "Time taken for one Hourly Sweeper tick.",
		Buckets:   prometheus.DefBuckets,
	})

	SweepOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "notifier",
		Name:      "sweep_outcomes_total",
		Help:      "Scheduled sends processed by a sweep, by outcome.",
	}, []string{"outcome"}) // queued | skipped_not_due | skipped_already_queued | failed

	// Dispatcher (queue) metrics

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "notifier",
		Name:      "queue_depth",
		Help:      "Number of not-yet-claimed jobs in the dispatcher queue.",
	})

	QueueEnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "notifier",
		Name:      "queue_enqueued_total",
		Help:      "Total jobs enqueued to the dispatcher.",
	})

	QueueClaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "notifier",
		Name:      "queue_claimed_total",
		Help:      "Total jobs claimed by delivery workers.",
	})

	// Delivery Worker metrics

	DeliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "notifier",
		Name:      "delivery_duration_seconds",
		Help:      "Duration of delivery endpoint calls.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"outcome"})

	DeliveryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "notifier",
		Name:      "delivery_outcomes_total",
		Help:      "Delivery attempts finished, by classification.",
	}, []string{"outcome"}) // sent | rejected | transient_failure

	RetriesScheduledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "notifier",
		Name:      "retries_scheduled_total",
		Help:      "Total retries scheduled after a transient delivery failure.",
	})

	// Circuit breaker metrics

	CircuitBreakerStateChangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "notifier",
		Name:      "circuit_breaker_state_changes_total",
		Help:      "Circuit breaker state transitions, by resulting state.",
	}, []string{"state"}) // closed | half-open | open

	// HTTP metrics (Manual Trigger + health/metrics server)

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "notifier",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "notifier",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		SweepDuration,
		SweepOutcomesTotal,
		QueueDepth,
		QueueEnqueuedTotal,
		QueueClaimedTotal,
		DeliveryDuration,
		DeliveryOutcomesTotal,
		RetriesScheduledTotal,
		CircuitBreakerStateChangesTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
