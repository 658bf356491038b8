package metricbus

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelRecorder mirrors every fired sample into an OpenTelemetry
// histogram instrument, grounded on mcpdrill's internal/otel/metrics.go
// Metrics.RecordOperationLatency (meter.Float64Histogram +
// metric.WithAttributes per call).
type OTelRecorder struct {
	ctx       context.Context
	histogram metric.Float64Histogram
}

// NewOTelRecorder creates a recorder backed by a single histogram
// instrument on meter. Returns an error only if instrument creation
// fails (the meter itself is never nil: callers pass a no-op meter when
// OTel export is disabled).
func NewOTelRecorder(meter metric.Meter) (*OTelRecorder, error) {
	histogram, err := meter.Float64Histogram(
		"stress_engine.metric",
		metric.WithDescription("LLM request metric values, labeled by metric name"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &OTelRecorder{ctx: context.Background(), histogram: histogram}, nil
}

// Record implements Recorder.
func (o *OTelRecorder) Record(name string, valueMs float64, contentLength int) {
	o.histogram.Record(o.ctx, valueMs, metric.WithAttributes(
		attribute.String("metric", name),
	))
}
