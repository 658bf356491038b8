package supervisor

import (
	"strings"
	"testing"
	"time"
)

func TestBuildArgsFixedMode(t *testing.T) {
	spec := RunSpec{
		TaskID:      "job-1",
		Host:        "https://api.example.com",
		APIPath:     "/v1/chat/completions",
		Method:      "POST",
		Headers:     map[string]string{"Authorization": "Bearer x"},
		Users:       10,
		SpawnRate:   2.5,
		RunTime:     60 * time.Second,
		Duration:    60 * time.Second,
		StopTimeout: 99 * time.Second,
		ChatType:    0,
		LoadMode:    "fixed",
	}
	args := BuildArgs(spec)
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"--task-id job-1",
		"--host https://api.example.com",
		"--users 10",
		"--spawn-rate 2.5",
		"--run-time 60s",
		"--stop-timeout 99",
		"--headless",
		"--only-summary",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
}

func TestBuildArgsSteppedModeOmitsRunTime(t *testing.T) {
	spec := RunSpec{TaskID: "job-2", LoadMode: "stepped"}
	args := BuildArgs(spec)
	for i, a := range args {
		if a == "--run-time" {
			t.Fatalf("stepped mode should not pass --run-time, found at index %d in %v", i, args)
		}
	}
}

func TestBuildEnvSteppedMode(t *testing.T) {
	spec := RunSpec{
		TaskID:          "job-3",
		LoadMode:        "stepped",
		StepStartUsers:  5,
		StepIncrement:   5,
		StepDurationSec: 30,
		StepMaxUsers:    50,
		StepSustainSec:  60,
	}
	env := BuildEnv(spec)
	joined := strings.Join(env, " ")
	for _, want := range []string{
		"LOAD_MODE=stepped",
		"STEP_START_USERS=5",
		"STEP_INCREMENT=5",
		"STEP_DURATION=30",
		"STEP_MAX_USERS=50",
		"STEP_SUSTAIN_DURATION=60",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("env %v missing %q", env, want)
		}
	}
}

func TestBuildEnvFixedMode(t *testing.T) {
	env := BuildEnv(RunSpec{TaskID: "job-4", LoadMode: "fixed"})
	joined := strings.Join(env, " ")
	if !strings.Contains(joined, "LOAD_MODE=fixed") {
		t.Errorf("expected LOAD_MODE=fixed, got %v", env)
	}
	if strings.Contains(joined, "STEP_") {
		t.Errorf("fixed mode should not set STEP_ vars, got %v", env)
	}
}

func TestProcessesFlag(t *testing.T) {
	if got := ProcessesFlag(10, 50, 8); got != nil {
		t.Errorf("users below threshold should produce no flag, got %v", got)
	}
	if got := ProcessesFlag(100, 50, 1); got != nil {
		t.Errorf("single-core host should produce no flag, got %v", got)
	}
	got := ProcessesFlag(100, 50, 8)
	if len(got) != 2 || got[0] != "--processes" || got[1] != "8" {
		t.Errorf("expected [--processes 8], got %v", got)
	}
}

func TestSamePIDSet(t *testing.T) {
	cases := []struct {
		a, b []int
		want bool
	}{
		{[]int{1, 2, 3}, []int{3, 2, 1}, true},
		{[]int{1, 2}, []int{1, 2, 3}, false},
		{nil, nil, true},
		{[]int{1}, []int{2}, false},
	}
	for _, c := range cases {
		if got := samePIDSet(c.a, c.b); got != c.want {
			t.Errorf("samePIDSet(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
