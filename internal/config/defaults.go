// Package config holds the stress engine's immutable run configuration and
// its default values. There is no package-level mutable config singleton:
// callers build an EngineConfig once at process start and pass it by value
// into the components that need it.
package config

import "time"

// Default configuration constants for polling, timeouts and buffering.
const (
	DefaultEventBufferSize   = 10000
	DefaultChannelBufferSize = 10000

	// DefaultClaimPollInterval is how often the engine polls the Job Store
	// Gateway for a job in "created" state.
	DefaultClaimPollInterval = 3 * time.Second

	// DefaultStopPollInterval is how often the engine scans for jobs in
	// "stopping" state (spec.md §4.10).
	DefaultStopPollInterval = 5 * time.Second

	// DefaultRealtimeSampleInterval is the real-time metrics sampler tick
	// (spec.md §4.8, open question: currently fixed, not load-proportional).
	DefaultRealtimeSampleInterval = 2 * time.Second

	// DefaultWarmupDuration is used when a job omits warmup_duration.
	DefaultWarmupDuration = 120 * time.Second
	// DefaultWarmupSettleDelay is the sleep after warmup exits, to let
	// downstream caches stabilize (spec.md §4.10 step 2).
	DefaultWarmupSettleDelay = 3 * time.Second
	// DefaultWarmupStopTimeout bounds how long a warmup run is allowed to
	// drain in-flight requests once cancelled.
	DefaultWarmupStopTimeout = 10 * time.Second

	// DefaultStopTimeout is the drain budget given to in-flight virtual
	// users once a run is asked to stop.
	DefaultStopTimeout = 99 * time.Second
	// DefaultSupervisorBuffer pads the subprocess wait deadline beyond
	// duration+stop-timeout (spec.md §4.9 step 5, §5).
	DefaultSupervisorBuffer = 30 * time.Second
	// DefaultTerminateWait is how long the supervisor waits between SIGTERM
	// and SIGKILL for a process group.
	DefaultTerminateWait = 10 * time.Second

	// DefaultErrorMessageMaxBytes is the truncation limit for the job
	// error_message column (spec.md §4.1).
	DefaultErrorMessageMaxBytes = 65000

	// DefaultProcessesCPUThreshold is the virtual-user count above which the
	// Process Supervisor adds --processes N to fan out across cores
	// (spec.md §4.9 step 3).
	DefaultProcessesCPUThreshold = 50

	// DefaultWorkerPIDPollCap bounds how long the supervisor polls for
	// stable worker PIDs under a master process.
	DefaultWorkerPIDPollCap = 15 * time.Second
	// DefaultWorkerPIDStableReads is the number of consecutive stable polls
	// required before trusting the discovered worker PID set.
	DefaultWorkerPIDStableReads = 3

	// DefaultConnectTimeout, DefaultReadTimeout, DefaultWriteTimeout and
	// DefaultPoolTimeout are the per-request HTTP timeouts from spec.md §5.
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultPoolTimeout    = 5 * time.Second

	// DefaultMasterFinalizeBaseDelay and the clamp bounds implement the
	// "base_delay + 0.1*concurrent_users, clamped [2,60]" formula workers
	// use before the master finalizes token stats (spec.md §4.7).
	DefaultMasterFinalizeBaseDelay = 2.0
	DefaultMasterFinalizePerUser   = 0.1
	DefaultMasterFinalizeClampMinS = 2.0
	DefaultMasterFinalizeClampMaxS = 60.0

	// DefaultMetricBusExactThreshold is the per-metric series size below
	// which median/p95 are computed exactly rather than from a reservoir
	// (spec.md §4.6).
	DefaultMetricBusExactThreshold = 100000

	DefaultRealtimeDirPerms = 0o755
)

// EngineConfig is the immutable configuration for one run of the engine
// daemon. It is built once in cmd/engine from flags/environment and passed
// by value (or as a read-only pointer) to the Task Pipeline, Process
// Supervisor and Job Store Gateway. No component mutates it.
type EngineConfig struct {
	DatabaseDSN  string
	TempRoot     string
	ClaimPoll    time.Duration
	StopPoll     time.Duration
	RunnerBinary string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PoolTimeout    time.Duration

	ProcessesCPUThreshold int

	OTLPEndpoint string
}

// DefaultEngineConfig returns an EngineConfig populated with the package
// defaults; callers override individual fields from flags/env.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TempRoot:              "/tmp",
		ClaimPoll:             DefaultClaimPollInterval,
		StopPoll:              DefaultStopPollInterval,
		RunnerBinary:          "lmeterx-runner",
		ConnectTimeout:        DefaultConnectTimeout,
		ReadTimeout:           DefaultReadTimeout,
		WriteTimeout:          DefaultWriteTimeout,
		PoolTimeout:           DefaultPoolTimeout,
		ProcessesCPUThreshold: DefaultProcessesCPUThreshold,
	}
}
