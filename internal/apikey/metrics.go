package apikey

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds Prometheus collectors for key operations. Each instance owns
// its registry, which also carries the Go runtime and process collectors, so
// tests can build as many as they like.
type Metrics struct {
	validationTotal    *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
	createdTotal       prometheus.Counter
	revokedTotal       prometheus.Counter
	exchangeTotal      *prometheus.CounterVec
	touchFailures      prometheus.Counter
	registry           *prometheus.Registry
	namespace          string
}

// NewMetrics creates and registers the collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "keymint"
	}

	m := &Metrics{registry: prometheus.NewRegistry(), namespace: namespace}

	m.validationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "validation_total",
			Help:      "Total number of API key validation attempts",
		},
		[]string{"status", "reason"},
	)

	m.validationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "validation_duration_seconds",
			Help:      "API key validation duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"status"},
	)

	m.createdTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "created_total",
			Help:      "Total number of API keys created",
		},
	)

	m.revokedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "revoked_total",
			Help:      "Total number of API keys revoked",
		},
	)

	m.exchangeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "exchange_total",
			Help:      "Total number of api_key grant exchanges by result",
		},
		[]string{"result"},
	)

	m.touchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "last_used_update_failures_total",
			Help:      "Total number of failed last-used timestamp writes",
		},
	)

	m.registry.MustRegister(
		m.validationTotal,
		m.validationDuration,
		m.createdTotal,
		m.revokedTotal,
		m.exchangeTotal,
		m.touchFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordValidation records one validation attempt.
func (m *Metrics) RecordValidation(status, reason string, duration time.Duration) {
	m.validationTotal.WithLabelValues(status, reason).Inc()
	m.validationDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordCreated records a newly created key.
func (m *Metrics) RecordCreated() {
	m.createdTotal.Inc()
}

// RecordRevoked records a successful revocation.
func (m *Metrics) RecordRevoked() {
	m.revokedTotal.Inc()
}

// RecordExchange records the outcome of an api_key grant.
func (m *Metrics) RecordExchange(result string) {
	m.exchangeTotal.WithLabelValues(result).Inc()
}

// RecordTouchFailure records a swallowed last-used write failure.
func (m *Metrics) RecordTouchFailure() {
	m.touchFailures.Inc()
}

// Registry returns the Prometheus registry holding these collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Namespace is the metric name prefix shared by every collector.
func (m *Metrics) Namespace() string {
	return m.namespace
}
