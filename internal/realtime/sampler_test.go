package realtime

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lmeterx/stress-engine/internal/metricbus"
	"github.com/lmeterx/stress-engine/internal/respproc"
)

type fakeSource struct {
	users atomic.Int64
	reqs  atomic.Int64
	fails atomic.Int64
}

func (f *fakeSource) ActiveUsers() int64   { return f.users.Load() }
func (f *fakeSource) TotalRequests() int64 { return f.reqs.Load() }
func (f *fakeSource) TotalFailures() int64 { return f.fails.Load() }

func TestSamplerAppendsOneLinePerTickAndDrainReadsThemBack(t *testing.T) {
	dir := t.TempDir()

	src := &fakeSource{}
	src.users.Store(3)
	src.reqs.Store(10)

	bus := metricbus.NewBus()
	bus.Fire(respproc.MetricTotalTime, 100, 0)
	bus.Fire(respproc.MetricTotalTime, 200, 0)

	s, err := NewSampler(dir, "task-1", src, bus)
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	s.sampleOnce()
	src.reqs.Store(20)
	s.sampleOnce()

	s.Stop()

	if _, err := os.Stat(SidecarPath(dir, "task-1")); err != nil {
		t.Fatalf("expected sidecar file to exist: %v", err)
	}

	samples, err := Drain(SidecarPath(dir, "task-1"))
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("len(samples) = %d, want 2", len(samples))
	}
	if samples[0].CurrentUsers != 3 {
		t.Fatalf("CurrentUsers = %d, want 3", samples[0].CurrentUsers)
	}
	if samples[1].TotalRequests != 20 {
		t.Fatalf("second sample TotalRequests = %d, want 20", samples[1].TotalRequests)
	}
	if samples[0].MedianResponseTimeMs == 0 {
		t.Fatalf("expected non-zero median response time from fired bus samples")
	}
}

func TestDrainOfMissingFileReturnsEmptyNotError(t *testing.T) {
	samples, err := Drain("/nonexistent/path/realtime_metrics.jsonl")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(samples) != 0 {
		t.Fatalf("expected no samples, got %d", len(samples))
	}
}

func TestSampleIntervalDefault(t *testing.T) {
	// NewSampler must default to config.DefaultRealtimeSampleInterval (2s).
	dir := t.TempDir()
	src := &fakeSource{}
	s, err := NewSampler(dir, "task-2", src, metricbus.NewBus())
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	defer s.Stop()
	if s.interval != 2*time.Second {
		t.Fatalf("interval = %v, want 2s", s.interval)
	}
}
