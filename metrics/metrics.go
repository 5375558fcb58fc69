package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "toeic",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toeic",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "toeic",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"method", "route"},
	)

	httpSlow = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toeic",
			Subsystem: "http",
			Name:      "slow_requests_total",
			Help:      "Requests slower than the configured threshold.",
		},
		[]string{"method", "route"},
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toeic",
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Requests rejected by a rate limit policy.",
		},
		[]string{"policy"},
	)

	aiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toeic",
			Subsystem: "ai",
			Name:      "requests_total",
			Help:      "Generative AI provider calls by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	aiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "toeic",
			Subsystem: "ai",
			Name:      "request_duration_seconds",
			Help:      "Duration of generative AI provider calls.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9),
		},
		[]string{"kind"},
	)

	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toeic",
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Payment webhook events by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	emailsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toeic",
			Subsystem: "notifications",
			Name:      "emails_total",
			Help:      "Transactional emails by event type and outcome.",
		},
		[]string{"type", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpInFlight,
		httpRequests,
		httpDuration,
		httpSlow,
		rateLimited,
		aiRequests,
		aiDuration,
		webhookEvents,
		emailsSent,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func IncInFlight() { httpInFlight.Inc() }
func DecInFlight() { httpInFlight.Dec() }

func RecordHTTPRequest(method, route, status string, d time.Duration) {
	httpRequests.WithLabelValues(method, route, status).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func RecordSlowRequest(method, route string) {
	httpSlow.WithLabelValues(method, route).Inc()
}

func RecordRateLimited(policy string) {
	rateLimited.WithLabelValues(policy).Inc()
}

func RecordAIRequest(kind, outcome string, d time.Duration) {
	aiRequests.WithLabelValues(kind, outcome).Inc()
	aiDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func RecordWebhookEvent(eventType, outcome string) {
	webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func RecordEmail(eventType, outcome string) {
	emailsSent.WithLabelValues(eventType, outcome).Inc()
}
