package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveEvent("purchase", OutcomeOK)
	m.ObserveEvent("purchase", OutcomeOK)
	m.ObserveEvent("production", OutcomeRejected)
	m.ObserveRetry("production")
	m.ObserveShortage()
	m.AddRevenue(12.5)
	m.AddRevenue(-3)
	m.ObservePublishFailure()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("purchase", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("production", OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("production")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.shortages))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.revenue))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishFails))
}

func TestMetricsHTTP(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveHTTP("GET", "/api/v1/inventory", 200, 15*time.Millisecond)
	m.ObserveHTTP("GET", "/api/v1/inventory", 200, 30*time.Millisecond)
	m.ObserveHTTP("POST", "/api/v1/production", 409, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/inventory", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/api/v1/production", "409")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.httpLatency))
}
