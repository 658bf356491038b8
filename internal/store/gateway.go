package store

import (
	"context"
	"errors"
)

// Errors returned by Gateway implementations. Callers branch on these
// with errors.Is (spec.md §7 "the Job Store Gateway... to tell
// 'transient' from 'row not found'").
var (
	// ErrNoJobAvailable names the case where no job in state "created"
	// is available to claim; ClaimNextPending reports that case as
	// (nil, nil) and does not return this error.
	ErrNoJobAvailable = errors.New("store: no job available to claim")
	// ErrJobNotFound is returned when a lookup by ID finds no row.
	ErrJobNotFound = errors.New("store: job not found")
	// ErrInvalidTransition is returned when UpdateStatus is asked to
	// move a job along a disallowed edge (spec.md §3 invariant).
	ErrInvalidTransition = errors.New("store: invalid status transition")
	// ErrTransient wraps a recoverable connection-level failure; the
	// caller logs and retries on the next poll rather than failing the
	// job (spec.md §4.1 "Fails silently... on transient connection
	// loss").
	ErrTransient = errors.New("store: transient database error")
)

// Gateway is the Job Store Gateway's public interface (spec.md §4.1,
// C1). Production code talks to MySQLGateway; tests talk to FakeGateway
// (spec.md's own test-tooling guidance and SPEC_FULL.md §1.4 "an
// interface + a map-backed fake").
type Gateway interface {
	// ClaimNextPending selects a job in status "created", not deleted,
	// locks the row, and transitions it to "locked" in one transaction.
	// Returns (nil, nil) when nothing is claimable, and also on a
	// recoverable connection failure (which is logged), so the next poll
	// retries.
	ClaimNextPending(ctx context.Context) (*Job, error)

	// GetJob re-reads a job by ID, used by the Task Pipeline to check for
	// a stop race after a subprocess exits (spec.md §4.10 step 4).
	GetJob(ctx context.Context, id string) (*Job, error)

	// ListStoppingIDs returns the IDs of every job currently in status
	// "stopping", for the stop-signal poller (spec.md §4.10).
	ListStoppingIDs(ctx context.Context) ([]string, error)

	// UpdateStatus transitions a job to newStatus, recording errMsg
	// (truncated per spec.md §4.1) when non-empty. Returns
	// ErrInvalidTransition if the edge is not allowed.
	UpdateStatus(ctx context.Context, id string, newStatus Status, errMsg string) error

	// InsertResultRows batch-inserts per-metric result rows for a job.
	// Idempotent at the retry level: duplicate rows on retry are
	// acceptable (spec.md §4.1, §8 property 7).
	InsertResultRows(ctx context.Context, jobID string, rows []ResultRow) error

	// InsertRealtimeSamples batch-inserts real-time sample rows drained
	// from a task's sidecar file.
	InsertRealtimeSamples(ctx context.Context, jobID string, samples []RealtimeSampleRow) error

	// ReconcileOnStartup marks every job left in "running" or "locked"
	// as failed with an explanatory message, terminating any live OS
	// process that still matches the task ID first (spec.md §4.1,
	// scenario S6). liveCheck reports whether a process is still
	// running for a given job ID; terminate is invoked when it is.
	ReconcileOnStartup(ctx context.Context, liveCheck func(jobID string) bool, terminate func(jobID string)) error
}
