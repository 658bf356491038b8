// Command engine is the stress engine daemon: it polls the Job Store
// Gateway for claimable work, supervises one runner subprocess per job via
// the Process Supervisor, and drives each job through the Task Pipeline to
// a terminal state. Grounded on bc-dunia-mcpdrill's cmd/server/main.go
// (flag parsing, component wiring order, signal-driven graceful shutdown),
// adapted from an HTTP control plane startup to a headless poll-loop daemon
// since this engine has no inbound API surface of its own (spec.md §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lmeterx/stress-engine/internal/config"
	"github.com/lmeterx/stress-engine/internal/events"
	"github.com/lmeterx/stress-engine/internal/otelobs"
	"github.com/lmeterx/stress-engine/internal/pipeline"
	"github.com/lmeterx/stress-engine/internal/store"
	"github.com/lmeterx/stress-engine/internal/supervisor"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("ENGINE_DATABASE_DSN"), "MySQL DSN, e.g. user:pass@tcp(host:3306)/dbname")
	tempRoot := flag.String("temp-root", "/tmp", "root directory for per-task log sinks and result sidecars")
	runnerBinary := flag.String("runner-binary", "lmeterx-runner", "path to the runner subprocess binary")
	claimPoll := flag.Duration("claim-poll-interval", config.DefaultClaimPollInterval, "interval between claim-next-pending polls")
	stopPoll := flag.Duration("stop-poll-interval", config.DefaultStopPollInterval, "interval between stopping-job sweeps")
	migrate := flag.Bool("migrate", false, "apply pending schema migrations at startup and exit")
	otlpEndpoint := flag.String("otlp-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "OTLP HTTP endpoint for traces/metrics (empty disables OTel export)")
	shutdownTimeout := flag.Duration("shutdown-timeout", 60*time.Second, "grace period for in-flight jobs to reach a terminal state on shutdown")
	flag.Parse()

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "engine: -dsn (or ENGINE_DATABASE_DSN) is required")
		os.Exit(1)
	}

	events.SetGlobalEventLogger(events.NewEventLogger("", "engine"))
	logger := events.GetGlobalEventLogger().Logger()

	if *migrate {
		if err := store.MigrateUp(*dsn); err != nil {
			logger.Error("migrate_failed", "error", err.Error())
			os.Exit(1)
		}
		logger.Info("migrate_completed")
		return
	}

	cfg := config.DefaultEngineConfig()
	cfg.DatabaseDSN = *dsn
	cfg.TempRoot = *tempRoot
	cfg.RunnerBinary = *runnerBinary
	cfg.ClaimPoll = *claimPoll
	cfg.StopPoll = *stopPoll
	cfg.OTLPEndpoint = *otlpEndpoint

	gw, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		logger.Error("open_store_failed", "error", err.Error())
		os.Exit(1)
	}
	defer gw.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := otelobs.Setup(ctx, otelobs.Config{
		ServiceName:  "lmeterx-stress-engine",
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Error("otel_setup_failed", "error", err.Error())
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("otel_shutdown_failed", "error", err.Error())
		}
	}()

	sup := supervisor.New(cfg)
	pl := pipeline.New(gw, sup, cfg)

	reconcileWithRetry(ctx, gw, logger)

	stopPoller := pipeline.NewStopPoller(gw, sup, pl)
	go stopPoller.Run(ctx)

	d := newDaemon(gw, pl, cfg, logger)
	d.run(ctx)

	logger.Info("draining_in_flight_jobs", "timeout", shutdownTimeout.String())
	d.waitForInFlight(*shutdownTimeout)
	logger.Info("engine_stopped")
}

// reconcileWithRetry wraps ReconcileOnStartup in the backoff policy spec.md
// §7 assigns to transient DB errors, since a fresh engine process has no
// poll ticker yet to provide its own retry cadence.
//
// liveCheck must answer "does an OS process for this task-id still exist",
// not "does this Supervisor instance still hold a handle for it": a fresh
// engine process always has an empty in-memory handles map (Supervisor.New
// just started), so Supervisor.IsAlive would never report a live orphan
// and the terminate callback below would never fire. supervisor.FindOrphanPID
// does the real pgrep-equivalent check spec.md §4.1/§4.9 step 7 calls for.
func reconcileWithRetry(ctx context.Context, gw store.Gateway, logger *slog.Logger) {
	op := func() error {
		return gw.ReconcileOnStartup(ctx, func(jobID string) bool {
			return supervisor.FindOrphanPID(jobID) != 0
		}, func(jobID string) {
			if killed, err := supervisor.CleanupOrphans(jobID); err == nil && killed > 0 {
				events.GetGlobalEventLogger().LogOrphanReconciled(jobID, string(store.StatusRunning), "terminated")
			}
		})
	}
	if err := backoff.Retry(op, store.NewRetryBackoff()); err != nil {
		logger.Error("reconcile_on_startup_failed", "error", err.Error())
	}
}

// daemon owns the claim-poll loop and tracks in-flight RunJob goroutines so
// shutdown can wait for them to reach a terminal state instead of killing
// the process out from under a running job (spec.md §4.10).
type daemon struct {
	gw     store.Gateway
	pl     *pipeline.Pipeline
	cfg    config.EngineConfig
	logger *slog.Logger

	wg sync.WaitGroup
}

func newDaemon(gw store.Gateway, pl *pipeline.Pipeline, cfg config.EngineConfig, logger *slog.Logger) *daemon {
	return &daemon{gw: gw, pl: pl, cfg: cfg, logger: logger}
}

// run blocks in the claim-poll loop until ctx is cancelled.
func (d *daemon) run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.ClaimPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pollOnce(ctx)
		}
	}
}

func (d *daemon) pollOnce(ctx context.Context) {
	job, err := d.gw.ClaimNextPending(ctx)
	if err != nil {
		d.logger.Warn("claim_failed", "error", err.Error())
		return
	}
	if job == nil {
		return
	}

	events.GetGlobalEventLogger().LogJobClaimed(job.ID, string(job.Flavor))
	otelobs.GlobalInstruments().JobClaimed(ctx, string(job.Flavor))
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// A claimed job runs to completion on a background context: cancelling
		// the daemon's own ctx must not yank a runner subprocess mid-request,
		// since that would leave the job's status stuck at "running" forever
		// (spec.md §4.10 "the stop signal path is the only abort route").
		if err := d.pl.RunJob(context.Background(), job); err != nil {
			d.logger.Error("run_job_failed", "job_id", job.ID, "error", err.Error())
		}
	}()
}

// waitForInFlight blocks until every RunJob goroutine started by this
// daemon finishes, or timeout elapses.
func (d *daemon) waitForInFlight(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		d.logger.Warn("shutdown_timeout_exceeded_jobs_may_still_be_running")
	}
}
