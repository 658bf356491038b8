// Package supervisor implements the Process Supervisor component
// (spec.md §4.9, C9): it launches the runner subprocess (the "Locust"
// swarm master) for a claimed job, captures its output, tracks the
// master/worker PID group, enforces run-time/stop-timeout/grace
// budgets, terminates process groups on stop or timeout, and reconciles
// orphaned processes left over from a previous engine instance.
// Grounded on bc-dunia-mcpdrill's cmd/agent/main.go (gopsutil process
// discovery: NewProcess, Children, Connections) generalized from
// port-based PID discovery to cmdline/task-id matching, and
// internal/controlplane/scheduler/heartbeat_monitor.go's liveness-poll
// shape for PollWorkerPIDs' stable-reads loop.
package supervisor

import (
	"os/exec"
	"time"
)

// RunSpec carries everything the supervisor needs to build argv/env for
// one runner invocation and to size its wait budget (spec.md §6
// "Subprocess command-line contract").
type RunSpec struct {
	TaskID string

	Host     string
	APIPath  string
	Method   string
	Headers  map[string]string
	Cookies  map[string]string

	Users      int
	SpawnRate  float64
	RunTime    time.Duration // fixed-mode only
	Duration   time.Duration
	StopTimeout time.Duration

	ModelName      string
	APIType        string
	StreamMode     bool
	ChatType       int
	RequestPayload string
	FieldMapping   string
	TestData       string
	DatasetFile    string
	RequestBody    string
	CertFile       string
	KeyFile        string
	WarmupMode     bool

	LoadMode           string // "fixed" | "stepped"
	StepStartUsers     int
	StepIncrement      int
	StepDurationSec    int
	StepMaxUsers       int
	StepSustainSec     int

	// LogSink receives every line of the runner's stdout/stderr, the way
	// the Task Pipeline's per-task log file does (spec.md §4.9 step 2,
	// §5 "Log sinks").
	LogSink func(line string)
}

// RunHandle is the live state the supervisor tracks for one launched
// runner (spec.md §4.9 step 4 "Register the (master-PID, worker-PIDs,
// port) triple in a task-scoped map").
type RunHandle struct {
	TaskID     string
	Cmd        *exec.Cmd
	MasterPID  int
	WorkerPIDs []int
	StartedAt  time.Time
}

// RunResult is the outcome of waiting for a launched runner to exit
// (spec.md §4.9 step 5-6).
type RunResult struct {
	ExitCode   int
	Signaled   bool
	Timeout    bool
	Stderr     string
	ResultPath string
}
