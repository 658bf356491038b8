package otelobs

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Instruments holds the OTel metric instruments mirrored from the Metric
// Event Bus's named series (spec.md §4.6) plus job-lifecycle counters.
// Grounded on bc-dunia-mcpdrill's internal/otel/metrics.go
// registerInstruments, adapted from a fixed per-purpose instrument set
// (operationLatency, errorCounter, ...) to one shared latency histogram
// keyed by a "metric_name" attribute, since the Metric Event Bus's series
// names are open-ended (spec.md §4.5/§4.6 fire arbitrary named metrics,
// not a fixed enum) rather than the teacher's small closed set of MCP
// operation kinds.
type Instruments struct {
	requestLatency metric.Float64Histogram
	jobsClaimed    metric.Int64Counter
	jobsTerminal   metric.Int64Counter
	activeJobs     metric.Int64UpDownCounter
}

func newInstruments(mp *sdkmetric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter("github.com/lmeterx/stress-engine")

	requestLatency, err := meter.Float64Histogram(
		"stress_engine.request.latency",
		metric.WithDescription("Per-request latency metrics fired by the Response Processor, keyed by metric_name"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("request latency histogram: %w", err)
	}

	jobsClaimed, err := meter.Int64Counter(
		"stress_engine.jobs.claimed",
		metric.WithDescription("Jobs claimed from the Job Store Gateway"),
	)
	if err != nil {
		return nil, fmt.Errorf("jobs claimed counter: %w", err)
	}

	jobsTerminal, err := meter.Int64Counter(
		"stress_engine.jobs.terminal",
		metric.WithDescription("Jobs reaching a terminal status, keyed by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("jobs terminal counter: %w", err)
	}

	activeJobs, err := meter.Int64UpDownCounter(
		"stress_engine.jobs.active",
		metric.WithDescription("Jobs currently running under this engine instance"),
	)
	if err != nil {
		return nil, fmt.Errorf("active jobs counter: %w", err)
	}

	return &Instruments{
		requestLatency: requestLatency,
		jobsClaimed:    jobsClaimed,
		jobsTerminal:   jobsTerminal,
		activeJobs:     activeJobs,
	}, nil
}

// JobClaimed records a job claim (spec.md §4.1).
func (in *Instruments) JobClaimed(ctx context.Context, flavor string) {
	if in == nil {
		return
	}
	in.jobsClaimed.Add(ctx, 1, metric.WithAttributes(attribute.String("flavor", flavor)))
	in.activeJobs.Add(ctx, 1)
}

// JobTerminal records a job reaching a terminal status (spec.md §3, §4.10).
func (in *Instruments) JobTerminal(ctx context.Context, status string) {
	if in == nil {
		return
	}
	in.jobsTerminal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	in.activeJobs.Add(ctx, -1)
}

// MetricRecorder adapts Instruments into an internal/metricbus.Recorder so
// the runner subprocess's Metric Event Bus fans every Fire call out to the
// OTel histogram alongside its own in-memory series.
type MetricRecorder struct {
	in  *Instruments
	ctx context.Context
}

// NewMetricRecorder builds a metricbus.Recorder bound to ctx; ctx should
// outlive the run (the caller typically passes context.Background(), since
// Fire calls happen on request goroutines whose own per-request context may
// already be cancelled by the time the recorder is invoked).
func NewMetricRecorder(ctx context.Context, in *Instruments) *MetricRecorder {
	return &MetricRecorder{in: in, ctx: ctx}
}

// Record implements metricbus.Recorder.
func (r *MetricRecorder) Record(name string, valueMs float64, contentLength int) {
	if r == nil || r.in == nil {
		return
	}
	r.in.requestLatency.Record(r.ctx, valueMs, metric.WithAttributes(attribute.String("metric_name", name)))
}

var (
	globalInstruments   *Instruments
	globalInstrumentsMu sync.RWMutex
)

// SetGlobalInstruments sets the process-wide Instruments singleton.
func SetGlobalInstruments(in *Instruments) {
	globalInstrumentsMu.Lock()
	defer globalInstrumentsMu.Unlock()
	globalInstruments = in
}

// GlobalInstruments returns the process-wide Instruments singleton, or nil
// if Setup was never called (all methods on a nil *Instruments are no-ops).
func GlobalInstruments() *Instruments {
	globalInstrumentsMu.RLock()
	defer globalInstrumentsMu.RUnlock()
	return globalInstruments
}
