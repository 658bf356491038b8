package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/lmeterx/stress-engine/internal/store"
)

// resultFile mirrors the runner's result.json contract (spec.md §6
// "Result-file contract"): custom_metrics holds the LLM token/latency
// metric stats keyed by name, locust_stats holds one row per
// endpoint-or-metric aggregate ready to insert verbatim into the result
// table.
type resultFile struct {
	CustomMetrics map[string]metricStats `json:"custom_metrics"`
	LocustStats   []locustStatRow        `json:"locust_stats"`
}

// metricStats is one named metric's snapshot, shaped like
// metricbus.Stats but with its own JSON tags since that package has no
// wire format of its own.
type metricStats struct {
	Count  int64   `json:"count"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
}

// locustStatRow is one row of locust_stats, field-for-field the same
// shape as store.ResultRow absent the database-only created_at column.
type locustStatRow struct {
	TaskID           string  `json:"task_id"`
	MetricType       string  `json:"metric_type"`
	NumRequests      int64   `json:"num_requests"`
	NumFailures      int64   `json:"num_failures"`
	AvgLatency       float64 `json:"avg_latency"`
	MinLatency       float64 `json:"min_latency"`
	MaxLatency       float64 `json:"max_latency"`
	MedianLatency    float64 `json:"median_latency"`
	P95Latency       float64 `json:"p95_latency"`
	RPS              float64 `json:"rps"`
	AvgContentLength float64 `json:"avg_content_length"`
}

// ResultDir returns <tempRoot>/locust_result/<taskID>, the directory the
// runner writes result.json and realtime_metrics.jsonl into.
func ResultDir(tempRoot, taskID string) string {
	return filepath.Join(tempRoot, "locust_result", taskID)
}

func resultFilePath(tempRoot, taskID string) string {
	return filepath.Join(ResultDir(tempRoot, taskID), "result.json")
}

// readResultFile loads and parses result.json for taskID, or returns
// (nil, nil) if the runner never wrote one (spec.md §4.10 step 4 "else ->
// mark failed", which the caller distinguishes from a parse error).
func readResultFile(tempRoot, taskID string) (*resultFile, error) {
	data, err := os.ReadFile(resultFilePath(tempRoot, taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rf resultFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, err
	}
	return &rf, nil
}

// toResultRows flattens a resultFile into the rows the Job Store Gateway
// persists, including one "token_metrics" row built from CustomMetrics
// the way spec.md §6 describes ("the LLM variant additionally stores a
// token_metrics row whose latency columns hold the custom token
// metrics").
func (rf *resultFile) toResultRows(taskID string) []store.ResultRow {
	rows := make([]store.ResultRow, 0, len(rf.LocustStats)+1)
	for _, r := range rf.LocustStats {
		rows = append(rows, store.ResultRow{
			TaskID:           taskID,
			MetricType:       r.MetricType,
			NumRequests:      r.NumRequests,
			NumFailures:      r.NumFailures,
			AvgLatency:       r.AvgLatency,
			MinLatency:       r.MinLatency,
			MaxLatency:       r.MaxLatency,
			MedianLatency:    r.MedianLatency,
			P95Latency:       r.P95Latency,
			RPS:              r.RPS,
			AvgContentLength: r.AvgContentLength,
		})
	}

	if tm, ok := rf.tokenMetricsRow(taskID); ok {
		rows = append(rows, tm)
	}
	return rows
}

func (rf *resultFile) tokenMetricsRow(taskID string) (store.ResultRow, bool) {
	if len(rf.CustomMetrics) == 0 {
		return store.ResultRow{}, false
	}
	row := store.ResultRow{TaskID: taskID, MetricType: "token_metrics"}
	any := false
	for _, stats := range rf.CustomMetrics {
		any = true
		row.NumRequests += stats.Count
		if stats.Min < row.MinLatency || row.MinLatency == 0 {
			row.MinLatency = stats.Min
		}
		if stats.Max > row.MaxLatency {
			row.MaxLatency = stats.Max
		}
	}
	return row, any
}

// hadHTTPFailures reports whether the run generated any load-level HTTP
// failures (spec.md §4.10 step 4 "failed_requests" branch), as opposed
// to the engine itself failing to run.
func (rf *resultFile) hadHTTPFailures() bool {
	for _, r := range rf.LocustStats {
		if r.NumFailures > 0 {
			return true
		}
	}
	return false
}

// cleanup removes the result directory, deleting result.json and the
// real-time sidecar together (spec.md §6 "both are deleted after the
// pipeline reads them").
func cleanup(tempRoot, taskID string) error {
	return os.RemoveAll(ResultDir(tempRoot, taskID))
}
