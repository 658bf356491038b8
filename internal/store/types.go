// Package store implements the Job Store Gateway component (spec.md
// §4.1, C1): typed access to the job, result, and real-time-metric
// tables, including the row-level-locked claim that gives leader-less
// coordination across engine replicas. Grounded on ClusterCockpit-cc-backend's
// internal/repository package (dbConnection.go's sqlx.Open/connection-pool
// setup, migration.go's golang-migrate/iofs wiring, job.go's named-query
// shape) adapted from its read-heavy job archive to this engine's
// claim-update-insert lifecycle.
package store

import "time"

// Flavor discriminates the two job shapes that share one lifecycle
// (spec.md §3 "Job (two flavors, same lifecycle; discriminator =
// flavor)"). The abstract schema in spec.md §6 describes "common_tasks"
// and "tasks" as two extension tables sharing a base; this gateway keeps
// both shapes in one "tasks" table distinguished by Flavor, since Go code
// has no need for the inheritance-table split the original schema used
// and a single table keeps ClaimNextPending's row-lock a single query.
type Flavor string

const (
	FlavorCommon Flavor = "common"
	FlavorLLM    Flavor = "llm"
)

// Status is a job's lifecycle state (spec.md §3 "status").
type Status string

const (
	StatusCreated        Status = "created"
	StatusLocked         Status = "locked"
	StatusRunning        Status = "running"
	StatusStopping       Status = "stopping"
	StatusStopped        Status = "stopped"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusFailedRequests Status = "failed_requests"
)

// allowedTransitions enumerates the legal status edges (spec.md §3
// invariant, §4.10 state machine): created -> locked -> running ->
// {completed | failed | failed_requests | stopping}; stopping ->
// stopped; locked -> failed.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusCreated: {
		StatusLocked: {},
	},
	StatusLocked: {
		StatusRunning: {},
		StatusFailed:  {},
	},
	StatusRunning: {
		StatusCompleted:      {},
		StatusFailed:         {},
		StatusFailedRequests: {},
		StatusStopping:       {},
	},
	StatusStopping: {
		StatusStopped: {},
	},
}

// CanTransition reports whether a status transition is on an allowed
// edge of the job lifecycle (spec.md §3, §8 property table).
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// LoadMode selects the load profile (spec.md §3 "load configuration").
type LoadMode string

const (
	LoadModeFixed   LoadMode = "fixed"
	LoadModeStepped LoadMode = "stepped"
)

// Job is the row read from the tasks table (spec.md §3, §6).
type Job struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	CreatedBy string    `db:"created_by"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	IsDeleted bool      `db:"is_deleted"`

	Flavor Flavor `db:"flavor"`

	TargetHost string `db:"target_host"`
	APIPath    string `db:"api_path"`
	Method     string `db:"method"`

	HeadersJSON string `db:"headers"`
	CookiesJSON string `db:"cookies"`

	RequestPayload string `db:"request_payload"`
	TestData       string `db:"test_data"`

	LoadMode            LoadMode `db:"load_mode"`
	Users               int      `db:"users"`
	SpawnRate           float64  `db:"spawn_rate"`
	DurationSeconds     int      `db:"duration_seconds"`
	StepStartUsers      int      `db:"step_start_users"`
	StepIncrement       int      `db:"step_increment"`
	StepDurationSeconds int      `db:"step_duration_seconds"`
	StepMaxUsers        int      `db:"step_max_users"`
	StepSustainSeconds  int      `db:"step_sustain_seconds"`

	Model         string `db:"model"`
	APIType       string `db:"api_type"`
	StreamMode    bool   `db:"stream_mode"`
	ChatType      int    `db:"chat_type"`
	FieldMapping  string `db:"field_mapping"`
	CertFile      string `db:"cert_file"`
	KeyFile       string `db:"key_file"`
	WarmupEnabled bool   `db:"warmup_enabled"`
	// WarmupDurationSeconds may be absent on rows predating the column
	// (spec.md Open Question: "the engine must tolerate missing
	// columns"); a zero value means "use the engine default".
	WarmupDurationSeconds int `db:"warmup_duration_seconds"`

	Status       Status `db:"status"`
	ErrorMessage string `db:"error_message"`
}

// Headers returns the job's headers map, decoded from HeadersJSON.
func (j *Job) Headers() map[string]string { return decodeStringMap(j.HeadersJSON) }

// Cookies returns the job's cookies map, decoded from CookiesJSON.
func (j *Job) Cookies() map[string]string { return decodeStringMap(j.CookiesJSON) }

// ResultRow is one per-metric aggregate persisted for a job (spec.md §3
// "Result row", §6 "Result table").
type ResultRow struct {
	TaskID            string    `db:"task_id"`
	MetricType        string    `db:"metric_type"`
	NumRequests       int64     `db:"num_requests"`
	NumFailures       int64     `db:"num_failures"`
	AvgLatency        float64   `db:"avg_latency"`
	MinLatency        float64   `db:"min_latency"`
	MaxLatency        float64   `db:"max_latency"`
	MedianLatency     float64   `db:"median_latency"`
	P95Latency        float64   `db:"p95_latency"`
	RPS               float64   `db:"rps"`
	AvgContentLength  float64   `db:"avg_content_length"`
	CreatedAt         time.Time `db:"created_at"`
}

// RealtimeSampleRow is one row of the real-time sample table (spec.md
// §3 "Real-Time Sample", §6).
type RealtimeSampleRow struct {
	TaskID            string  `db:"task_id"`
	Timestamp         float64 `db:"timestamp"`
	CurrentUsers      int64   `db:"current_users"`
	CurrentRPS        float64 `db:"current_rps"`
	CurrentFailPerSec float64 `db:"current_fail_per_sec"`
	AvgResponseTime   float64 `db:"avg_response_time"`
	MinResponseTime   float64 `db:"min_response_time"`
	MaxResponseTime   float64 `db:"max_response_time"`
	MedianResponseTime float64 `db:"median_response_time"`
	P95ResponseTime   float64 `db:"p95_response_time"`
	TotalRequests     int64   `db:"total_requests"`
	TotalFailures     int64   `db:"total_failures"`
}

func decodeStringMap(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	m, err := decodeJSONStringMap(raw)
	if err != nil {
		return nil
	}
	return m
}
