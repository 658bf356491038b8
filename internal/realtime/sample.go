// Package realtime implements the Real-Time Metrics Sampler component
// (spec.md §4.8, C8): a periodic sampler that snapshots live swarm state
// to an append-only JSONL sidecar, later drained into the Job Store at
// test-stop. Grounded on mcpdrill's internal/worker/telemetry_shipper.go
// (ticker-driven background goroutine accumulating into a buffer and
// flushing on an interval) for the sampler loop, and
// internal/artifacts/store.go (FilesystemStore's baseDir/runID path
// layout, directory-create-on-write discipline) for the sidecar file's
// location under the task's temp directory.
package realtime

import "time"

// Sample is one row of the append-only sidecar (spec.md §3 "Real-Time
// Sample"): a point-in-time view of the swarm plus the cumulative
// request/failure counts used to compute current_rps and
// current_fail_per_sec as deltas between consecutive samples.
type Sample struct {
	Timestamp         time.Time `json:"timestamp"`
	CurrentUsers      int64     `json:"current_users"`
	CurrentRPS        float64   `json:"current_rps"`
	CurrentFailPerSec float64   `json:"current_fail_per_sec"`

	AvgResponseTimeMs    float64 `json:"avg_response_time_ms"`
	MinResponseTimeMs    float64 `json:"min_response_time_ms"`
	MaxResponseTimeMs    float64 `json:"max_response_time_ms"`
	MedianResponseTimeMs float64 `json:"median_response_time_ms"`
	P95ResponseTimeMs    float64 `json:"p95_response_time_ms"`

	TotalRequests int64 `json:"total_requests"`
	TotalFailures int64 `json:"total_failures"`
}
