// Package events provides structured, correlation-tagged logging for the
// stress engine's key lifecycle events (job claim, warmup, run stop, ...).
package events

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// EventLogger provides structured logging for key events in the stress
// engine. It wraps a slog.Logger pre-populated with task_id/component
// attributes so every log line emitted for a job carries its correlation
// key without call sites having to repeat it.
type EventLogger struct {
	logger    *slog.Logger
	taskID    string
	component string
}

// NewEventLogger creates a new EventLogger with JSON output to stdout.
func NewEventLogger(taskID, component string) *EventLogger {
	return NewEventLoggerWithWriter(taskID, component, os.Stdout)
}

// NewEventLoggerWithWriter creates a new EventLogger with JSON output to a
// custom writer. Useful for testing or redirecting per-task output to a
// log sink file (spec.md §4.9 step 2, §5 "Log sinks").
func NewEventLoggerWithWriter(taskID, component string, w io.Writer) *EventLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(handler).With("task_id", taskID, "component", component)
	return &EventLogger{logger: logger, taskID: taskID, component: component}
}

// LogJobClaimed logs a successful job claim (spec.md §4.1).
func (el *EventLogger) LogJobClaimed(jobID, flavor string) {
	el.logger.Info("job_claimed", "job_id", jobID, "flavor", flavor)
}

// LogJobLocked logs the created->locked transition.
func (el *EventLogger) LogJobLocked(jobID string) {
	el.logger.Info("job_locked", "job_id", jobID)
}

// LogWarmupStarted logs the start of the optional warmup phase.
func (el *EventLogger) LogWarmupStarted(jobID string, durationSeconds int) {
	el.logger.Info("warmup_started", "job_id", jobID, "duration_seconds", durationSeconds)
}

// LogWarmupAborted logs a warmup phase cancelled by an external stop.
func (el *EventLogger) LogWarmupAborted(jobID, reason string) {
	el.logger.Warn("warmup_aborted", "job_id", jobID, "reason", reason)
}

// LogRunStarted logs the main load run starting.
func (el *EventLogger) LogRunStarted(jobID string, users int, mode string) {
	el.logger.Info("run_started", "job_id", jobID, "users", users, "mode", mode)
}

// LogRunStopped logs the main load run reaching a terminal state.
func (el *EventLogger) LogRunStopped(jobID, finalState, reason string) {
	el.logger.Info("run_stopped", "job_id", jobID, "final_state", finalState, "reason", reason)
}

// LogStopSignalObserved logs the stop-signal poller observing a "stopping"
// row (spec.md §4.10 stop signal path).
func (el *EventLogger) LogStopSignalObserved(jobID string) {
	el.logger.Info("stop_signal_observed", "job_id", jobID)
}

// LogOrphanReconciled logs a startup reconciliation action against a
// leftover running/locked job (spec.md §4.1 reconcile_on_startup).
func (el *EventLogger) LogOrphanReconciled(jobID, previousState, action string) {
	el.logger.Warn("orphan_reconciled", "job_id", jobID, "previous_state", previousState, "action", action)
}

// LogDBRetry logs a transient database error being retried with back-off
// (spec.md §7).
func (el *EventLogger) LogDBRetry(op string, attempt int, backoffMs int64, err error) {
	el.logger.Warn("db_retry", "op", op, "attempt", attempt, "backoff_ms", backoffMs, "error", err.Error())
}

// Logger exposes the underlying slog.Logger for call sites that need an
// arbitrary structured log line outside the named helpers above.
func (el *EventLogger) Logger() *slog.Logger {
	return el.logger
}

var (
	globalLogger *EventLogger
	globalMu     sync.RWMutex

	noopOnce   sync.Once
	noopLogger *EventLogger
)

// SetGlobalEventLogger sets the global event logger instance.
func SetGlobalEventLogger(l *EventLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalEventLogger returns the global event logger instance. If none
// has been set, it returns a shared no-op logger rather than a fresh one
// each call, so call sites can safely cache the pointer.
func GetGlobalEventLogger() *EventLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return NoopEventLogger()
}

// NoopEventLogger returns an event logger that discards all events. Useful
// for testing or when event logging is disabled.
func NoopEventLogger() *EventLogger {
	noopOnce.Do(func() {
		handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})
		noopLogger = &EventLogger{logger: slog.New(handler)}
	})
	return noopLogger
}
