package pipeline

import (
	"context"
	"time"

	"github.com/lmeterx/stress-engine/internal/config"
	"github.com/lmeterx/stress-engine/internal/events"
	"github.com/lmeterx/stress-engine/internal/store"
	"github.com/lmeterx/stress-engine/internal/supervisor"
)

// StopPoller scans for jobs in the "stopping" state and drives them to a
// stopped process group (spec.md §4.10 "Stop signal path"). It runs
// alongside the claim-poll loop for the lifetime of the engine process.
type StopPoller struct {
	gw       store.Gateway
	sup      *supervisor.Supervisor
	pipeline *Pipeline
	interval time.Duration
	logger   *events.EventLogger
}

// NewStopPoller builds a StopPoller using config.DefaultStopPollInterval.
func NewStopPoller(gw store.Gateway, sup *supervisor.Supervisor, pl *Pipeline) *StopPoller {
	return &StopPoller{
		gw:       gw,
		sup:      sup,
		pipeline: pl,
		interval: config.DefaultStopPollInterval,
		logger:   events.GetGlobalEventLogger(),
	}
}

// Run blocks scanning for stopping jobs every interval until ctx is
// cancelled.
func (sp *StopPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(sp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sp.sweep(ctx)
		}
	}
}

func (sp *StopPoller) sweep(ctx context.Context) {
	ids, err := sp.gw.ListStoppingIDs(ctx)
	if err != nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		sp.stopOne(ctx, id)
	}
}

// stopOne signals the process group for id, escalating SIGTERM -> wait
// -> SIGKILL, then transitions the row to stopped. If this engine
// instance's Supervisor has no handle for id (the job is owned by
// another replica, or the process has already exited), it falls back to
// cmdline matching before marking the row stopped regardless, since the
// DB row is the source of truth for "stopping means stopped eventually".
func (sp *StopPoller) stopOne(ctx context.Context, id string) {
	sp.logger.LogStopSignalObserved(id)
	sp.pipeline.markStopRequested(id)

	if handle, ok := sp.sup.Handle(id); ok {
		sp.sup.TerminateGroup(handle)
		if !sp.waitForExit(handle, config.DefaultTerminateWait) {
			sp.sup.Kill(handle)
		}
	} else if pid := supervisor.FindOrphanPID(id); pid > 0 {
		_, _ = supervisor.CleanupOrphans(id)
	}

	if err := sp.gw.UpdateStatus(ctx, id, store.StatusStopped, ""); err != nil {
		sp.logger.Logger().Warn("stop_poller_update_failed", "job_id", id, "error", err.Error())
	}
}

// waitForExit polls Supervisor.Handle until the handle is unregistered
// (the pipeline's own Wait call removes it on exit) or timeout elapses.
func (sp *StopPoller) waitForExit(handle *supervisor.RunHandle, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, ok := sp.sup.Handle(handle.TaskID); !ok {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return false
}
