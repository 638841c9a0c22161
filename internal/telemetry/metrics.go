// Package telemetry owns the Prometheus collectors of the service.
package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kitchenledger"

const (
	OutcomeOK       = "ok"
	OutcomeReplayed = "replayed"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

type Metrics struct {
	events       *prometheus.CounterVec
	retries      *prometheus.CounterVec
	shortages    prometheus.Counter
	revenue      prometheus.Counter
	publishFails prometheus.Counter
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in tests
// to keep them isolated from the default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_events_total",
			Help:      "Business events handled, by type and outcome.",
		}, []string{"type", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_retries_total",
			Help:      "Store commits retried after a conflict or a retryable transient error.",
		}, []string{"op"}),
		shortages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "production_shortages_total",
			Help:      "Production runs rejected for insufficient stock.",
		}),
		revenue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_revenue_total",
			Help:      "Revenue recorded through sales.",
		}),
		publishFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Ledger events that could not be published after commit.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.events, m.retries, m.shortages, m.revenue, m.publishFails, m.httpRequests, m.httpLatency)
	return m
}

func (m *Metrics) ObserveEvent(eventType, outcome string) {
	m.events.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) ObserveRetry(op string) {
	m.retries.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveShortage() {
	m.shortages.Inc()
}

func (m *Metrics) AddRevenue(amount float64) {
	if amount > 0 {
		m.revenue.Add(amount)
	}
}

func (m *Metrics) ObservePublishFailure() {
	m.publishFails.Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// EventCounter returns one series of the event counter.
func (m *Metrics) EventCounter(eventType, outcome string) prometheus.Counter {
	return m.events.WithLabelValues(eventType, outcome)
}

func (m *Metrics) RetryCounter(op string) prometheus.Counter {
	return m.retries.WithLabelValues(op)
}
