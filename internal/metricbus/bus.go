package metricbus

import "sync"

// Recorder receives a copy of every fired sample, for sinks layered on
// top of the in-memory bus (Prometheus exposition, OpenTelemetry
// instruments). A Recorder must not block; Bus.Fire calls Record
// synchronously.
type Recorder interface {
	Record(name string, valueMs float64, contentLength int)
}

// Bus is the lock-protected, single-process metric registry (spec.md
// §4.6). Locust's own per-endpoint aggregation is assumed to exist in
// the Swarm Controller; Bus only carries the LLM-specific metric names
// layered on top (Time_to_first_output_token, Total_time, ...).
type Bus struct {
	mu        sync.RWMutex
	series    map[string]*series
	threshold int
	recorders []Recorder
}

// NewBus constructs an empty Bus using config.DefaultMetricBusExactThreshold
// as the exact/reservoir cutover.
func NewBus() *Bus {
	return &Bus{
		series:    make(map[string]*series),
		threshold: defaultThreshold,
	}
}

// AddRecorder attaches a Recorder that observes every Fire call from
// this point forward. Safe to call concurrently with Fire: both take b.mu,
// and a Fire already in progress uses the recorder list it read.
func (b *Bus) AddRecorder(r Recorder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recorders = append(b.recorders, r)
}

// Fire appends a sample to the named series and forwards it to any
// attached Recorders. Implements respproc.MetricSink.
func (b *Bus) Fire(name string, valueMs float64, contentLength int) {
	b.mu.Lock()
	s, ok := b.series[name]
	if !ok {
		s = newSeries(b.threshold)
		b.series[name] = s
	}
	recorders := b.recorders
	b.mu.Unlock()

	s.record(valueMs)
	for _, r := range recorders {
		r.Record(name, valueMs, contentLength)
	}
}

// Snapshot returns the current Stats for name, or the zero Stats if
// nothing has been fired under that name yet.
func (b *Bus) Snapshot(name string) Stats {
	b.mu.RLock()
	s, ok := b.series[name]
	b.mu.RUnlock()
	if !ok {
		return Stats{}
	}
	return s.snapshot()
}

// Names returns the metric names currently tracked, in no particular
// order.
func (b *Bus) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.series))
	for name := range b.series {
		names = append(names, name)
	}
	return names
}

// SnapshotAll returns Stats for every tracked metric, keyed by name.
func (b *Bus) SnapshotAll() map[string]Stats {
	b.mu.RLock()
	names := make([]string, 0, len(b.series))
	for name := range b.series {
		names = append(names, name)
	}
	b.mu.RUnlock()

	out := make(map[string]Stats, len(names))
	for _, name := range names {
		out[name] = b.Snapshot(name)
	}
	return out
}
