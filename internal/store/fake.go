package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// FakeGateway is an in-memory Gateway used by Task Pipeline and Process
// Supervisor tests, mirroring bc-dunia-mcpdrill's
// scheduler.Registry in-memory map pattern rather than pulling in a
// mocking framework (SPEC_FULL.md §1.4).
type FakeGateway struct {
	mu      sync.Mutex
	jobs    map[string]Job
	results map[string][]ResultRow
	samples map[string][]RealtimeSampleRow
	order   []string
}

// NewFakeGateway builds a FakeGateway seeded with jobs, in the order
// given (ClaimNextPending respects this order, same as ORDER BY
// created_at in the real gateway).
func NewFakeGateway(jobs ...Job) *FakeGateway {
	g := &FakeGateway{
		jobs:    make(map[string]Job),
		results: make(map[string][]ResultRow),
		samples: make(map[string][]RealtimeSampleRow),
	}
	for _, j := range jobs {
		g.jobs[j.ID] = j
		g.order = append(g.order, j.ID)
	}
	return g
}

// AddJob inserts or replaces a job row, appending to claim order if new.
func (g *FakeGateway) AddJob(j Job) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.jobs[j.ID]; !exists {
		g.order = append(g.order, j.ID)
	}
	g.jobs[j.ID] = j
}

func (g *FakeGateway) ClaimNextPending(ctx context.Context) (*Job, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, id := range g.order {
		j := g.jobs[id]
		if j.Status == StatusCreated && !j.IsDeleted {
			j.Status = StatusLocked
			j.UpdatedAt = nowOrFixed()
			g.jobs[id] = j
			cp := j
			return &cp, nil
		}
	}
	return nil, nil
}

func (g *FakeGateway) GetJob(ctx context.Context, id string) (*Job, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	j, ok := g.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := j
	return &cp, nil
}

func (g *FakeGateway) ListStoppingIDs(ctx context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ids []string
	for _, id := range g.order {
		if g.jobs[id].Status == StatusStopping {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (g *FakeGateway) UpdateStatus(ctx context.Context, id string, newStatus Status, errMsg string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	j, ok := g.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if !CanTransition(j.Status, newStatus) {
		return ErrInvalidTransition
	}
	j.Status = newStatus
	j.ErrorMessage = TruncateErrorMessage(errMsg, DefaultErrorMessageMaxBytes)
	j.UpdatedAt = nowOrFixed()
	g.jobs[id] = j
	return nil
}

func (g *FakeGateway) InsertResultRows(ctx context.Context, jobID string, rows []ResultRow) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range rows {
		rows[i].TaskID = jobID
		rows[i].CreatedAt = nowOrFixed()
	}
	g.results[jobID] = append(g.results[jobID], rows...)
	return nil
}

func (g *FakeGateway) InsertRealtimeSamples(ctx context.Context, jobID string, samples []RealtimeSampleRow) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range samples {
		samples[i].TaskID = jobID
	}
	g.samples[jobID] = append(g.samples[jobID], samples...)
	return nil
}

func (g *FakeGateway) ReconcileOnStartup(ctx context.Context, liveCheck func(jobID string) bool, terminate func(jobID string)) error {
	g.mu.Lock()
	ids := make([]string, 0)
	for _, id := range g.order {
		switch g.jobs[id].Status {
		case StatusRunning, StatusLocked:
			ids = append(ids, id)
		}
	}
	g.mu.Unlock()

	for _, id := range ids {
		g.mu.Lock()
		j := g.jobs[id]
		g.mu.Unlock()

		msg := "Task process was aborted before execution."
		if j.Status == StatusRunning {
			msg = "Task process was not found after an engine restart."
			if liveCheck != nil && liveCheck(id) {
				msg = "Task process was terminated during engine restart reconciliation."
				if terminate != nil {
					terminate(id)
				}
			}
		}

		g.mu.Lock()
		j = g.jobs[id]
		if CanTransition(j.Status, StatusFailed) {
			j.Status = StatusFailed
			j.ErrorMessage = msg
			g.jobs[id] = j
		}
		g.mu.Unlock()
	}
	return nil
}

// Results returns a copy of the result rows recorded for jobID, for test
// assertions.
func (g *FakeGateway) Results(jobID string) []ResultRow {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ResultRow, len(g.results[jobID]))
	copy(out, g.results[jobID])
	return out
}

// Samples returns a copy of the real-time sample rows recorded for
// jobID, for test assertions.
func (g *FakeGateway) Samples(jobID string) []RealtimeSampleRow {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]RealtimeSampleRow, len(g.samples[jobID]))
	copy(out, g.samples[jobID])
	return out
}

// nowOrFixed is a seam so tests can be deterministic if a future change
// needs it; today it is simply time.Now.
func nowOrFixed() time.Time { return time.Now() }

var _ Gateway = (*FakeGateway)(nil)
var _ Gateway = (*MySQLGateway)(nil)
