package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmeterx/stress-engine/internal/config"
	"github.com/lmeterx/stress-engine/internal/metricbus"
	"github.com/lmeterx/stress-engine/internal/respproc"
)

// Source is the live state the Sampler reads from, implemented by
// *swarm.Engine. Kept as a narrow interface so this package never
// imports internal/swarm.
type Source interface {
	ActiveUsers() int64
	TotalRequests() int64
	TotalFailures() int64
}

// SidecarPath returns the well-known JSONL path spec.md §4.8 names:
// <tmp>/locust_result/<task-id>/realtime_metrics.jsonl.
func SidecarPath(tempRoot, taskID string) string {
	return filepath.Join(tempRoot, "locust_result", taskID, "realtime_metrics.jsonl")
}

// Sampler snapshots Source and the metric bus's Total_time series every
// config.DefaultRealtimeSampleInterval and appends one JSON line per
// snapshot to the sidecar file, following telemetry_shipper.go's
// ticker-driven background-goroutine shape.
type Sampler struct {
	source Source
	bus    *metricbus.Bus
	path   string

	interval time.Duration

	mu         sync.Mutex
	file       *os.File
	lastReqs   int64
	lastFails  int64
	lastSample time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSampler creates a Sampler writing to <tempRoot>/locust_result/<taskID>/realtime_metrics.jsonl,
// creating the directory if needed.
func NewSampler(tempRoot, taskID string, source Source, bus *metricbus.Bus) (*Sampler, error) {
	path := SidecarPath(tempRoot, taskID)
	if err := os.MkdirAll(filepath.Dir(path), config.DefaultRealtimeDirPerms); err != nil {
		return nil, fmt.Errorf("realtime: create sidecar dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("realtime: create sidecar file: %w", err)
	}

	return &Sampler{
		source:   source,
		bus:      bus,
		path:     path,
		interval: config.DefaultRealtimeSampleInterval,
		file:     f,
	}, nil
}

// Start begins sampling in the background.
func (s *Sampler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.lastSample = time.Now()

	s.wg.Add(1)
	go s.run()
}

func (s *Sampler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

func (s *Sampler) sampleOnce() {
	now := time.Now()
	elapsed := now.Sub(s.lastSample).Seconds()
	if elapsed <= 0 {
		elapsed = s.interval.Seconds()
	}

	reqs := s.source.TotalRequests()
	fails := s.source.TotalFailures()

	sample := Sample{
		Timestamp:         now,
		CurrentUsers:      s.source.ActiveUsers(),
		CurrentRPS:        float64(reqs-s.lastReqs) / elapsed,
		CurrentFailPerSec: float64(fails-s.lastFails) / elapsed,
		TotalRequests:     reqs,
		TotalFailures:     fails,
	}

	stats := s.bus.Snapshot(respproc.MetricTotalTime)
	sample.AvgResponseTimeMs = stats.Mean
	sample.MinResponseTimeMs = stats.Min
	sample.MaxResponseTimeMs = stats.Max
	sample.MedianResponseTimeMs = stats.Median
	sample.P95ResponseTimeMs = stats.P95

	s.lastReqs, s.lastFails, s.lastSample = reqs, fails, now

	s.append(sample)
}

func (s *Sampler) append(sample Sample) {
	line, err := json.Marshal(sample)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return
	}
	s.file.Write(line)
	s.file.Write([]byte("\n"))
}

// Stop halts sampling and closes the sidecar file. The file is left on
// disk for Drain to read; callers remove the result directory afterward.
func (s *Sampler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
}

// Path returns the sidecar file path.
func (s *Sampler) Path() string {
	return s.path
}
