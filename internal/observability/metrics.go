package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes service counters on a private registry.
type Metrics struct {
	registry       *prometheus.Registry
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	errors         *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	renderFailures *prometheus.CounterVec
	reports        *prometheus.CounterVec
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repair_http_requests_total",
			Help: "HTTP requests by path, method and status.",
		}, []string{"path", "method", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repair_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repair_http_errors_total",
			Help: "HTTP errors by domain error code.",
		}, []string{"path", "method", "code"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repair_transitions_total",
			Help: "Committed ticket transitions by target status.",
		}, []string{"to"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repair_delivery_attempts_total",
			Help: "Notification delivery attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		renderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repair_render_failures_total",
			Help: "Template render failures by reason.",
		}, []string{"reason"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repair_daily_reports_total",
			Help: "Daily report runs by supplier and resulting status.",
		}, []string{"supplier", "status"}),
	}
	m.registry.MustRegister(m.requests, m.requestLatency, m.errors, m.transitions, m.deliveries, m.renderFailures, m.reports)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestLatency.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// RecordTransition counts a committed transition.
func (m *Metrics) RecordTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

// RecordDelivery counts one delivery attempt.
func (m *Metrics) RecordDelivery(channel, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(channel, outcome).Inc()
}

// RecordRenderFailure counts a message that could not be rendered.
func (m *Metrics) RecordRenderFailure(reason string) {
	if m == nil {
		return
	}
	m.renderFailures.WithLabelValues(reason).Inc()
}

// RecordReport counts a daily report run.
func (m *Metrics) RecordReport(supplier, status string) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(supplier, status).Inc()
}
