package store

import (
	"context"
	"strings"
	"testing"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusCreated, StatusLocked, true},
		{StatusLocked, StatusRunning, true},
		{StatusLocked, StatusFailed, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailedRequests, true},
		{StatusRunning, StatusStopping, true},
		{StatusStopping, StatusStopped, true},
		{StatusCreated, StatusRunning, false},
		{StatusStopped, StatusRunning, false},
		{StatusCompleted, StatusFailed, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestTruncateErrorMessage(t *testing.T) {
	short := "boom"
	if got := TruncateErrorMessage(short, DefaultErrorMessageMaxBytes); got != short {
		t.Errorf("short message should pass through unchanged, got %q", got)
	}

	long := strings.Repeat("x", DefaultErrorMessageMaxBytes+500)
	got := TruncateErrorMessage(long, DefaultErrorMessageMaxBytes)
	if len(got) > DefaultErrorMessageMaxBytes {
		t.Errorf("truncated message length %d exceeds max %d", len(got), DefaultErrorMessageMaxBytes)
	}
	wantSuffix := "... (truncated, original length: " // exact prefix of the spec.md suffix
	if !strings.Contains(got, wantSuffix) {
		t.Errorf("truncated message missing expected suffix, got %q", got)
	}
}

func TestFakeGatewayClaimIsExclusive(t *testing.T) {
	g := NewFakeGateway(Job{ID: "t1", Status: StatusCreated})
	ctx := context.Background()

	j, err := g.ClaimNextPending(ctx)
	if err != nil || j == nil {
		t.Fatalf("expected a claim, got job=%v err=%v", j, err)
	}
	if j.Status != StatusLocked {
		t.Errorf("claimed job status = %s, want locked", j.Status)
	}

	j2, err := g.ClaimNextPending(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j2 != nil {
		t.Errorf("second claim should find nothing, got %v", j2)
	}
}

func TestFakeGatewaySkipsDeletedAndNonCreated(t *testing.T) {
	g := NewFakeGateway(
		Job{ID: "deleted", Status: StatusCreated, IsDeleted: true},
		Job{ID: "running", Status: StatusRunning},
		Job{ID: "eligible", Status: StatusCreated},
	)
	j, err := g.ClaimNextPending(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j == nil || j.ID != "eligible" {
		t.Fatalf("expected to claim 'eligible', got %v", j)
	}
}

func TestFakeGatewayUpdateStatusRejectsInvalidTransition(t *testing.T) {
	g := NewFakeGateway(Job{ID: "t1", Status: StatusCreated})
	err := g.UpdateStatus(context.Background(), "t1", StatusRunning, "")
	if err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestFakeGatewayInsertResultRowsIdempotentAtRetryLevel(t *testing.T) {
	g := NewFakeGateway(Job{ID: "t1", Status: StatusLocked})
	ctx := context.Background()
	rows := []ResultRow{{MetricType: "default", NumRequests: 10}}

	if err := g.InsertResultRows(ctx, "t1", rows); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.InsertResultRows(ctx, "t1", rows); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := g.Results("t1")
	if len(got) != 2 {
		t.Fatalf("expected duplicate rows to both be stored (spec.md §8 property 7), got %d rows", len(got))
	}
}

func TestReconcileOnStartupMarksOrphansFailed(t *testing.T) {
	g := NewFakeGateway(
		Job{ID: "running-orphan", Status: StatusRunning},
		Job{ID: "locked-orphan", Status: StatusLocked},
	)
	terminated := make(map[string]bool)
	err := g.ReconcileOnStartup(context.Background(),
		func(id string) bool { return id == "running-orphan" },
		func(id string) { terminated[id] = true })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runningJob, _ := g.GetJob(context.Background(), "running-orphan")
	if runningJob.Status != StatusFailed {
		t.Errorf("running orphan status = %s, want failed", runningJob.Status)
	}
	if !terminated["running-orphan"] {
		t.Errorf("expected the live running-orphan process to be terminated")
	}

	lockedJob, _ := g.GetJob(context.Background(), "locked-orphan")
	if lockedJob.Status != StatusFailed {
		t.Errorf("locked orphan status = %s, want failed", lockedJob.Status)
	}
}

func TestEncodeDecodeStringMap(t *testing.T) {
	m := map[string]string{"Authorization": "Bearer x"}
	encoded := EncodeStringMap(m)
	j := Job{HeadersJSON: encoded}
	decoded := j.Headers()
	if decoded["Authorization"] != "Bearer x" {
		t.Errorf("round-tripped headers = %v, want %v", decoded, m)
	}
}
