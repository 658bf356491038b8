package metricbus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder exposes every fired sample as a Prometheus
// histogram labeled by metric name, grounded on the
// prometheus/client_golang registry/HistogramVec pattern used by
// phenomenon0-polymarket-agents' pkg/trader/metrics package.
type PrometheusRecorder struct {
	registry *prometheus.Registry
	latency  *prometheus.HistogramVec
}

// NewPrometheusRecorder builds a recorder with its own registry so the
// engine's internal bus metrics don't collide with any other
// Prometheus exposition in the process.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stress_engine_metric_ms",
			Help:    "LLM request metric values in milliseconds, labeled by metric name.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16), // 1ms .. ~32s
		},
		[]string{"metric"},
	)
	registry.MustRegister(latency)
	return &PrometheusRecorder{registry: registry, latency: latency}
}

// Record implements Recorder.
func (p *PrometheusRecorder) Record(name string, valueMs float64, contentLength int) {
	p.latency.WithLabelValues(name).Observe(valueMs)
}

// Handler returns an http.Handler exposing the registry in Prometheus
// text format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, for tests that want to
// gather and assert on exposed families directly.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}
