// Package observability provides Prometheus metrics, health checks, and logging.
//
// Uses github.com/prometheus/client_golang - the official Prometheus client.
// Chosen for its maturity, wide adoption, and seamless integration with
// the Prometheus ecosystem (Grafana, Alertmanager, etc.).
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gutenberg pipeline.
// Metrics are automatically registered via promauto.
//
// Key metrics for monitoring:
//   - webhook_call_success_total / webhook_call_failure_total: per-account
//     delivery health, the primary customer-facing signal
//   - events_expired_total: events deleted after the retry budget (alerts)
//   - delivery_duration_seconds: callback latency distribution
type Metrics struct {
	EventsProcessed prometheus.Counter
	EventsDeleted   prometheus.Counter
	EventsBackedOff prometheus.Counter
	EventsRequeued  prometheus.Counter
	EventsExpired   prometheus.Counter
	EventsRejected  prometheus.Counter

	WebhookCallSuccess *prometheus.CounterVec
	WebhookCallFailure *prometheus.CounterVec
	CallsThrottled     *prometheus.CounterVec
	DeliveryDuration   prometheus.Histogram

	IngestMessages prometheus.Counter
	IngestRejected prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
// The namespace prefixes all metric names (e.g., "gutenberg_events_processed_total").
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		EventsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Total number of queue messages processed",
		}),
		EventsDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_deleted_total",
			Help:      "Total number of events fully delivered and removed from the queue",
		}),
		EventsBackedOff: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_backed_off_total",
			Help:      "Total number of events delayed for redelivery with no new progress",
		}),
		EventsRequeued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_requeued_total",
			Help:      "Total number of events replaced on the queue carrying partial delivery progress",
		}),
		EventsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_expired_total",
			Help:      "Total number of events dropped after exhausting the retry budget",
		}),
		EventsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Total number of unprocessable queue messages deleted without delivery",
		}),
		WebhookCallSuccess: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_call_success_total",
			Help:      "Total number of webhook calls answered with a 2xx",
		}, []string{"user_id"}),
		WebhookCallFailure: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_call_failure_total",
			Help:      "Total number of webhook calls that failed or returned non-2xx",
		}, []string{"user_id"}),
		CallsThrottled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_calls_throttled_total",
			Help:      "Total number of webhook calls skipped by rate limiting or an open circuit breaker",
		}, []string{"webhook_id"}),
		DeliveryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Duration of webhook callback attempts in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		IngestMessages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_total",
			Help:      "Total number of producer events bridged onto the event queue",
		}),
		IngestRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rejected_total",
			Help:      "Total number of producer events rejected as malformed",
		}),
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method and path",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}
