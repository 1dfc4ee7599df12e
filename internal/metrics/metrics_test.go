package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveGeneration(t *testing.T) {
	m := New()
	m.ObserveGeneration("graph-from-text", "ok", 1500*time.Millisecond, 300)
	m.ObserveGeneration("graph-from-text", "ok", time.Second, 10)
	m.ObserveGeneration("docs", "error", time.Second, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.generations.WithLabelValues("graph-from-text", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generations.WithLabelValues("docs", "error")))
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.ValidationReject("request")
	m.LayoutFailure("ordering")
	m.HTTPRequest("/v1/health", "200")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `blueprint_validation_rejects_total{source="request"} 1`)
	assert.Contains(t, string(body), `blueprint_layout_failures_total{stage="ordering"} 1`)
	assert.Contains(t, string(body), `blueprint_http_requests_total{code="200",route="/v1/health"} 1`)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveGeneration("docs", "ok", time.Second, 1)
		m.ValidationReject("model")
		m.LayoutFailure("placement")
		m.HTTPRequest("/", "200")
	})
	assert.Nil(t, m.Registry())
}
