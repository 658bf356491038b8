// Package metricbus implements the Metric Event Bus component (spec.md
// §4.6, C6): a single-process, lock-protected registry of named metric
// series. fire(name, value_ms, content_length) appends to a per-name
// series; queries return count/sum/min/max/mean/median/p95, computed
// exactly below a size threshold and from a reservoir sample above it.
// Percentile math is grounded on mcpdrill's internal/analysis/aggregator.go
// computePercentile (sorted-slice, nearest-rank).
package metricbus

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/lmeterx/stress-engine/internal/config"
)

// Stats is a point-in-time snapshot of one metric series.
type Stats struct {
	Count  int64
	Sum    float64
	Min    float64
	Max    float64
	Mean   float64
	Median float64
	P95    float64
}

// series accumulates one metric's samples. Below
// config.DefaultMetricBusExactThreshold entries it keeps the exact
// series; beyond that it switches to reservoir sampling (Vitter's
// algorithm R) so memory stays bounded while percentiles stay
// representative. count/sum/min/max are always exact regardless of
// which regime the percentile estimate is in.
type series struct {
	mu sync.Mutex

	count int64
	sum   float64
	min   float64
	max   float64

	// reservoir holds either the exact series (count <= threshold) or a
	// bounded random sample once count exceeds threshold.
	reservoir []float64
	threshold int
	rng       *rand.Rand
}

func newSeries(threshold int) *series {
	return &series{
		threshold: threshold,
		rng:       rand.New(rand.NewSource(1)),
	}
}

func (s *series) record(value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		s.min, s.max = value, value
	} else {
		if value < s.min {
			s.min = value
		}
		if value > s.max {
			s.max = value
		}
	}
	s.sum += value
	s.count++

	if len(s.reservoir) < s.threshold {
		s.reservoir = append(s.reservoir, value)
		return
	}
	// Reservoir sampling: replace a uniformly random existing entry with
	// decreasing probability as count grows.
	j := s.rng.Int63n(s.count)
	if int(j) < s.threshold {
		s.reservoir[j] = value
	}
}

func (s *series) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return Stats{}
	}

	sorted := make([]float64, len(s.reservoir))
	copy(sorted, s.reservoir)
	sort.Float64s(sorted)

	return Stats{
		Count:  s.count,
		Sum:    s.sum,
		Min:    s.min,
		Max:    s.max,
		Mean:   s.sum / float64(s.count),
		Median: percentile(sorted, 50),
		P95:    percentile(sorted, 95),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p / 100.0) * float64(len(sorted))
	idx := int(rank)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// defaultThreshold exposes config.DefaultMetricBusExactThreshold for
// series constructed without an explicit override.
var defaultThreshold = config.DefaultMetricBusExactThreshold
