// Package pipeline implements the Task Pipeline component (spec.md
// §4.10, C10): the per-job state machine that takes a claimed job
// through an optional warmup run, the main load run, result aggregation
// and persistence, and a terminal status transition. Grounded on
// bc-dunia-mcpdrill's internal/controlplane/runmanager package (its
// state_machine.go CanTransition gate and the claim/execute/finalize
// shape of run_manager.go), adapted from mcpdrill's single HTTP-drill
// run to this engine's warmup+main two-phase run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/lmeterx/stress-engine/internal/config"
	"github.com/lmeterx/stress-engine/internal/events"
	"github.com/lmeterx/stress-engine/internal/otelobs"
	"github.com/lmeterx/stress-engine/internal/realtime"
	"github.com/lmeterx/stress-engine/internal/store"
	"github.com/lmeterx/stress-engine/internal/supervisor"
)

// Pipeline runs claimed jobs to completion. One Pipeline is shared by
// every goroutine the engine spawns per claimed job; its only mutable
// state is the stopped-set bookkeeping spec.md §4.10 step 5 names
// ("forget the task ID from the stopped-set").
type Pipeline struct {
	gw  store.Gateway
	sup *supervisor.Supervisor
	cfg config.EngineConfig

	mu         sync.Mutex
	stoppedSet map[string]bool
}

// New builds a Pipeline over gw and sup using cfg's temp-root and timing
// defaults.
func New(gw store.Gateway, sup *supervisor.Supervisor, cfg config.EngineConfig) *Pipeline {
	return &Pipeline{gw: gw, sup: sup, cfg: cfg, stoppedSet: make(map[string]bool)}
}

// RunJob drives one claimed (already "locked") job through warmup, the
// main run, aggregation, persistence and a terminal transition (spec.md
// §4.10 steps 2-5). The caller is expected to have obtained job via
// Gateway.ClaimNextPending.
func (p *Pipeline) RunJob(ctx context.Context, job *store.Job) error {
	ctx, span := otelobs.StartJobSpan(ctx, job.ID, string(job.Flavor))
	defer span.End()

	logger := events.NewEventLogger(job.ID, "pipeline")
	logPath := filepath.Join(p.cfg.TempRoot, "logs", job.ID+".log")
	logFile, sink := p.openLogSink(logPath)
	defer func() {
		if logFile != nil {
			logFile.Close()
		}
		p.forget(job.ID)
		_ = cleanup(p.cfg.TempRoot, job.ID)
	}()

	logger.LogJobLocked(job.ID)
	otelobs.AddStageEvent(span, "locked")

	if job.Flavor == store.FlavorLLM && job.WarmupEnabled {
		otelobs.AddStageEvent(span, "warmup_started")
		aborted, err := p.runWarmup(ctx, job, logger, sink)
		if err != nil {
			otelobs.RecordOutcome(span, string(store.StatusFailed), err)
			return p.finish(ctx, job.ID, store.StatusFailed, fmt.Sprintf("warmup failed: %v", err))
		}
		if aborted {
			otelobs.RecordOutcome(span, string(store.StatusStopped), nil)
			return nil
		}
		otelobs.AddStageEvent(span, "warmup_completed")
		time.Sleep(config.DefaultWarmupSettleDelay)
	}

	if err := p.gw.UpdateStatus(ctx, job.ID, store.StatusRunning, ""); err != nil {
		return fmt.Errorf("pipeline: transition to running: %w", err)
	}

	if p.stopRequested(ctx, job.ID) {
		if err := p.finish(ctx, job.ID, store.StatusStopping, ""); err != nil {
			return err
		}
		otelobs.RecordOutcome(span, string(store.StatusStopped), nil)
		return p.finish(ctx, job.ID, store.StatusStopped, "stopped before main run started")
	}
	logger.LogRunStarted(job.ID, job.Users, string(job.LoadMode))
	otelobs.AddStageEvent(span, "run_started")

	spec := p.buildRunSpec(job, false, sink)
	handle, err := p.sup.Launch(ctx, spec)
	if err != nil {
		otelobs.RecordOutcome(span, string(store.StatusFailed), err)
		return p.finish(ctx, job.ID, store.StatusFailed, fmt.Sprintf("failed to launch runner: %v", err))
	}

	waitTimeout := time.Duration(job.DurationSeconds)*time.Second + config.DefaultStopTimeout + config.DefaultSupervisorBuffer
	result, err := p.sup.Wait(ctx, handle, waitTimeout)
	if err != nil && !errors.Is(err, context.Canceled) {
		otelobs.RecordOutcome(span, string(store.StatusFailed), err)
		return p.finish(ctx, job.ID, store.StatusFailed, fmt.Sprintf("runner wait failed: %v", err))
	}

	_, _ = supervisor.CleanupOrphans(job.ID)

	otelobs.AddStageEvent(span, "aggregating")
	return p.finalize(ctx, job, result, logger)
}

// runWarmup launches a warmup-mode runner (no dataset, original request
// body, workers skip token-stat collection) and reports whether the
// parent job should abort the main run entirely (spec.md §4.10 step 2).
func (p *Pipeline) runWarmup(ctx context.Context, job *store.Job, logger *events.EventLogger, sink func(string)) (aborted bool, err error) {
	duration := time.Duration(job.WarmupDurationSeconds) * time.Second
	if duration <= 0 {
		duration = config.DefaultWarmupDuration
	}
	logger.LogWarmupStarted(job.ID, int(duration.Seconds()))

	spec := p.buildRunSpec(job, true, sink)
	spec.Duration = duration
	spec.RunTime = duration
	spec.StopTimeout = config.DefaultWarmupStopTimeout
	spec.DatasetFile = ""
	spec.TestData = ""

	handle, err := p.sup.Launch(ctx, spec)
	if err != nil {
		return false, err
	}

	result, err := p.sup.Wait(ctx, handle, duration+config.DefaultWarmupStopTimeout+config.DefaultSupervisorBuffer)
	if err != nil {
		return false, err
	}

	if p.stopRequested(ctx, job.ID) || result.Signaled {
		logger.LogWarmupAborted(job.ID, "stop observed during warmup")
		// The state machine has no locked->stopped edge, since nothing is
		// "stopped" until a run has actually started; walk the job through
		// running->stopping->stopped so the abort still lands on a legal
		// terminal state.
		if err := p.finish(ctx, job.ID, store.StatusRunning, ""); err != nil {
			return true, err
		}
		if err := p.finish(ctx, job.ID, store.StatusStopping, ""); err != nil {
			return true, err
		}
		return true, p.finish(ctx, job.ID, store.StatusStopped, "stopped during warmup")
	}
	return false, nil
}

// finalize implements spec.md §4.10 step 4: decide the job's terminal
// state from the re-read job status and the runner's result file.
func (p *Pipeline) finalize(ctx context.Context, job *store.Job, result *supervisor.RunResult, logger *events.EventLogger) error {
	span := trace.SpanFromContext(ctx)
	current, err := p.gw.GetJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("pipeline: re-read job: %w", err)
	}
	if current.Status == store.StatusStopping || current.Status == store.StatusStopped {
		logger.LogRunStopped(job.ID, string(store.StatusStopped), "stop signal raced the run to completion")
		otelobs.RecordOutcome(span, string(store.StatusStopped), nil)
		return p.finish(ctx, job.ID, store.StatusStopped, "")
	}

	rf, rerr := readResultFile(p.cfg.TempRoot, job.ID)
	if rerr != nil || rf == nil {
		stderr := result.Stderr
		if stderr == "" {
			stderr = "runner exited without producing a result file"
		}
		logger.LogRunStopped(job.ID, string(store.StatusFailed), stderr)
		otelobs.RecordOutcome(span, string(store.StatusFailed), rerr)
		return p.finish(ctx, job.ID, store.StatusFailed, stderr)
	}

	if err := p.gw.InsertResultRows(ctx, job.ID, rf.toResultRows(job.ID)); err != nil {
		return fmt.Errorf("pipeline: insert result rows: %w", err)
	}
	otelobs.AddStageEvent(span, "persisted")

	if samples, derr := realtime.Drain(realtime.SidecarPath(p.cfg.TempRoot, job.ID)); derr == nil && len(samples) > 0 {
		rows := make([]store.RealtimeSampleRow, 0, len(samples))
		for _, s := range samples {
			rows = append(rows, store.RealtimeSampleRow{
				Timestamp:          float64(s.Timestamp.UnixNano()) / 1e9,
				CurrentUsers:       s.CurrentUsers,
				CurrentRPS:         s.CurrentRPS,
				CurrentFailPerSec:  s.CurrentFailPerSec,
				AvgResponseTime:    s.AvgResponseTimeMs,
				MinResponseTime:    s.MinResponseTimeMs,
				MaxResponseTime:    s.MaxResponseTimeMs,
				MedianResponseTime: s.MedianResponseTimeMs,
				P95ResponseTime:    s.P95ResponseTimeMs,
				TotalRequests:      s.TotalRequests,
				TotalFailures:      s.TotalFailures,
			})
		}
		if err := p.gw.InsertRealtimeSamples(ctx, job.ID, rows); err != nil {
			return fmt.Errorf("pipeline: insert realtime samples: %w", err)
		}
	}

	if result.Timeout && !result.Signaled {
		logger.LogRunStopped(job.ID, string(store.StatusFailed), "run exceeded its wait deadline")
		otelobs.RecordOutcome(span, string(store.StatusFailed), nil)
		return p.finish(ctx, job.ID, store.StatusFailed, "run exceeded its wait deadline")
	}

	if rf.hadHTTPFailures() {
		logger.LogRunStopped(job.ID, string(store.StatusFailedRequests), "")
		otelobs.RecordOutcome(span, string(store.StatusFailedRequests), nil)
		return p.finish(ctx, job.ID, store.StatusFailedRequests, "")
	}

	logger.LogRunStopped(job.ID, string(store.StatusCompleted), "")
	otelobs.RecordOutcome(span, string(store.StatusCompleted), nil)
	return p.finish(ctx, job.ID, store.StatusCompleted, "")
}

// terminalStatuses are the Status values for which finish reports a
// stress_engine.jobs.terminal count (spec.md §3 terminal states); stopping
// is an intermediate state on the way to stopped, not terminal itself.
var terminalStatuses = map[store.Status]bool{
	store.StatusCompleted:      true,
	store.StatusFailed:         true,
	store.StatusFailedRequests: true,
	store.StatusStopped:        true,
}

func (p *Pipeline) finish(ctx context.Context, jobID string, status store.Status, msg string) error {
	if err := p.gw.UpdateStatus(ctx, jobID, status, msg); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		return fmt.Errorf("pipeline: transition to %s: %w", status, err)
	}
	if terminalStatuses[status] {
		otelobs.GlobalInstruments().JobTerminal(ctx, string(status))
	}
	return nil
}

func (p *Pipeline) buildRunSpec(job *store.Job, warmup bool, sink func(string)) supervisor.RunSpec {
	return supervisor.RunSpec{
		TaskID:              job.ID,
		Host:                job.TargetHost,
		APIPath:             job.APIPath,
		Method:              job.Method,
		Headers:             job.Headers(),
		Cookies:             job.Cookies(),
		Users:               job.Users,
		SpawnRate:           job.SpawnRate,
		RunTime:             time.Duration(job.DurationSeconds) * time.Second,
		Duration:            time.Duration(job.DurationSeconds) * time.Second,
		StopTimeout:         config.DefaultStopTimeout,
		ModelName:           job.Model,
		APIType:             job.APIType,
		StreamMode:          job.StreamMode,
		ChatType:            job.ChatType,
		RequestPayload:      job.RequestPayload,
		FieldMapping:        job.FieldMapping,
		TestData:            job.TestData,
		DatasetFile:         job.TestData,
		RequestBody:         job.RequestPayload,
		CertFile:            job.CertFile,
		KeyFile:             job.KeyFile,
		WarmupMode:          warmup,
		LoadMode:            string(job.LoadMode),
		StepStartUsers:      job.StepStartUsers,
		StepIncrement:       job.StepIncrement,
		StepDurationSec:     job.StepDurationSeconds,
		StepMaxUsers:        job.StepMaxUsers,
		StepSustainSec:      job.StepSustainSeconds,
		LogSink:             sink,
	}
}

func (p *Pipeline) openLogSink(path string) (*os.File, func(string)) {
	if err := os.MkdirAll(filepath.Dir(path), config.DefaultRealtimeDirPerms); err != nil {
		return nil, func(string) {}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, func(string) {}
	}
	var mu sync.Mutex
	return f, func(line string) {
		mu.Lock()
		defer mu.Unlock()
		f.WriteString(line)
		f.WriteString("\n")
	}
}

// stopRequested reports whether jobID has been asked to stop, either via
// the local stopped-set (set by the stop poller racing this same
// pipeline instance) or by re-reading its DB status.
func (p *Pipeline) stopRequested(ctx context.Context, jobID string) bool {
	p.mu.Lock()
	if p.stoppedSet[jobID] {
		p.mu.Unlock()
		return true
	}
	p.mu.Unlock()

	job, err := p.gw.GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	return job.Status == store.StatusStopping || job.Status == store.StatusStopped
}

func (p *Pipeline) markStopRequested(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stoppedSet[jobID] = true
}

func (p *Pipeline) forget(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.stoppedSet, jobID)
}
