// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blueprint"

// Metrics is a set of collectors bound to one registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	generations        *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	outputBytes        *prometheus.HistogramVec
	validationRejects  *prometheus.CounterVec
	layoutFailures     *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		generations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Model generations by task and outcome.",
		}, []string{"task", "status"}),
		generationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall time of one model call including output handling.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"task"}),
		outputBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_output_bytes",
			Help:      "Size of raw model output.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"task"}),
		validationRejects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_rejects_total",
			Help:      "Graphs or stacks rejected by validation, by source.",
		}, []string{"source"}),
		layoutFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layout_failures_total",
			Help:      "Layout runs that fell back to origin positions.",
		}, []string{"stage"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
	}
}

func (m *Metrics) ObserveGeneration(task, status string, d time.Duration, outputBytes int) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(task, status).Inc()
	m.generationDuration.WithLabelValues(task).Observe(d.Seconds())
	m.outputBytes.WithLabelValues(task).Observe(float64(outputBytes))
}

// ValidationReject counts a rejection; source is "request" or "model".
func (m *Metrics) ValidationReject(source string) {
	if m == nil {
		return
	}
	m.validationRejects.WithLabelValues(source).Inc()
}

func (m *Metrics) LayoutFailure(stage string) {
	if m == nil {
		return
	}
	m.layoutFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) HTTPRequest(route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, code).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
