package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/lmeterx/stress-engine/internal/config"
	"github.com/lmeterx/stress-engine/internal/events"
)

// Supervisor launches and tracks runner subprocesses, one per claimed job.
// Grounded on bc-dunia-mcpdrill's cmd/agent/main.go (process discovery via
// gopsutil) and internal/controlplane/scheduler/lease_manager.go (a
// mutex-protected map keyed by task/run ID as the registry of live work).
type Supervisor struct {
	cfg    config.EngineConfig
	logger *events.EventLogger

	mu       sync.Mutex
	handles  map[string]*RunHandle
	cpuCount int
}

// New builds a Supervisor. cpuCount is probed once via gopsutil so the
// --processes fan-out decision (spec.md §4.9 step 3) doesn't re-query the
// host on every launch.
func New(cfg config.EngineConfig) *Supervisor {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		n = 1
	}
	return &Supervisor{
		cfg:      cfg,
		logger:   events.GetGlobalEventLogger(),
		handles:  make(map[string]*RunHandle),
		cpuCount: n,
	}
}

// Launch starts the runner binary for spec, registers its PID group, and
// returns a handle the caller uses with Wait/TerminateGroup (spec.md
// §4.9 steps 1-4).
func (s *Supervisor) Launch(ctx context.Context, spec RunSpec) (*RunHandle, error) {
	args := BuildArgs(spec)
	if flag := ProcessesFlag(spec.Users, s.cfg.ProcessesCPUThreshold, s.cpuCount); flag != nil {
		args = append(args, flag...)
	}

	cmd := exec.CommandContext(ctx, s.cfg.RunnerBinary, args...)
	cmd.Env = append(os.Environ(), BuildEnv(spec)...)
	// Setpgid puts the runner (and anything it forks) in its own process
	// group so TerminateGroup can signal the whole tree at once.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: start runner: %w", err)
	}

	sink := spec.LogSink
	if sink == nil {
		sink = func(string) {}
	}
	go streamLines(stdout, sink)
	go streamLines(stderr, sink)

	handle := &RunHandle{
		TaskID:    spec.TaskID,
		Cmd:       cmd,
		MasterPID: cmd.Process.Pid,
		StartedAt: time.Now(),
	}

	s.mu.Lock()
	s.handles[spec.TaskID] = handle
	s.mu.Unlock()

	if len(args) > 0 {
		if workers, err := s.pollWorkerPIDs(ctx, handle.MasterPID); err == nil {
			handle.WorkerPIDs = workers
		}
	}

	return handle, nil
}

func streamLines(r io.Reader, sink func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		sink(scanner.Text())
	}
}

// Wait blocks until the runner exits or timeout elapses, escalating to
// SIGTERM then SIGKILL on timeout (spec.md §4.9 steps 5-6, §5 "stop
// timeout escalation").
func (s *Supervisor) Wait(ctx context.Context, handle *RunHandle, timeout time.Duration) (*RunResult, error) {
	done := make(chan error, 1)
	go func() { done <- handle.Cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		s.unregister(handle.TaskID)
		return exitResult(handle.Cmd, err, false), nil
	case <-timer.C:
		s.TerminateGroup(handle)
		select {
		case err := <-done:
			s.unregister(handle.TaskID)
			return exitResult(handle.Cmd, err, true), nil
		case <-time.After(config.DefaultTerminateWait):
			s.killGroup(handle)
			<-done
			s.unregister(handle.TaskID)
			return &RunResult{ExitCode: -1, Signaled: true, Timeout: true}, nil
		}
	case <-ctx.Done():
		s.TerminateGroup(handle)
		<-done
		s.unregister(handle.TaskID)
		return &RunResult{ExitCode: -1, Signaled: true}, ctx.Err()
	}
}

func exitResult(cmd *exec.Cmd, waitErr error, timedOut bool) *RunResult {
	res := &RunResult{Timeout: timedOut}
	if waitErr == nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
		return res
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			res.Signaled = true
		}
		return res
	}
	res.ExitCode = -1
	res.Stderr = waitErr.Error()
	return res
}

// TerminateGroup sends SIGTERM to the runner's process group, asking it
// to begin its own graceful drain (spec.md §4.10 stop path).
func (s *Supervisor) TerminateGroup(handle *RunHandle) {
	if handle == nil || handle.MasterPID <= 0 {
		return
	}
	_ = syscall.Kill(-handle.MasterPID, syscall.SIGTERM)
}

// Kill sends SIGKILL to the runner's process group, used by callers that
// already escalated through TerminateGroup and a grace wait (spec.md
// §4.10 "sends SIGKILL if still alive").
func (s *Supervisor) Kill(handle *RunHandle) {
	s.killGroup(handle)
}

// killGroup sends SIGKILL to the process group after the terminate-wait
// grace period has elapsed without the runner exiting on its own.
func (s *Supervisor) killGroup(handle *RunHandle) {
	if handle == nil || handle.MasterPID <= 0 {
		return
	}
	_ = syscall.Kill(-handle.MasterPID, syscall.SIGKILL)
}

func (s *Supervisor) unregister(taskID string) {
	s.mu.Lock()
	delete(s.handles, taskID)
	s.mu.Unlock()
}

// Handle returns the live handle for taskID, if the supervisor currently
// has a runner registered for it.
func (s *Supervisor) Handle(taskID string) (*RunHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[taskID]
	return h, ok
}

// IsAlive reports whether this Supervisor instance currently holds a live
// in-memory handle for taskID. Not suitable as store.Gateway.ReconcileOnStartup's
// liveCheck: a freshly started engine process always has an empty handles
// map, so this would never detect an orphan left running by a previous,
// crashed instance. FindOrphanPID's process-table scan is what
// ReconcileOnStartup actually uses for that (spec.md §4.1, §4.9 step 7).
func (s *Supervisor) IsAlive(taskID string) bool {
	_, ok := s.Handle(taskID)
	return ok
}

// pollWorkerPIDs discovers the runner's worker child PIDs and waits for
// the set to stabilize across DefaultWorkerPIDStableReads consecutive
// polls, bounded by DefaultWorkerPIDPollCap. Grounded on
// bc-dunia-mcpdrill's heartbeat_monitor.go poll-until-stable shape,
// generalized from a single liveness flag to a PID-set fixpoint.
func (s *Supervisor) pollWorkerPIDs(ctx context.Context, masterPID int) ([]int, error) {
	deadline := time.Now().Add(config.DefaultWorkerPIDPollCap)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var last []int
	stableReads := 0

	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
			current, err := childPIDs(masterPID)
			if err == nil && samePIDSet(current, last) && len(current) > 0 {
				stableReads++
				if stableReads >= config.DefaultWorkerPIDStableReads {
					return current, nil
				}
			} else {
				stableReads = 0
			}
			last = current
			if time.Now().After(deadline) {
				return last, nil
			}
		}
	}
}

func childPIDs(masterPID int) ([]int, error) {
	p, err := process.NewProcess(int32(masterPID))
	if err != nil {
		return nil, err
	}
	children, err := p.Children()
	if err != nil {
		return nil, nil // a master with no children yet is not an error
	}
	pids := make([]int, 0, len(children))
	for _, c := range children {
		pids = append(pids, int(c.Pid))
	}
	return pids, nil
}

func samePIDSet(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[int]bool, len(a))
	for _, p := range a {
		seen[p] = true
	}
	for _, p := range b {
		if !seen[p] {
			return false
		}
	}
	return true
}

// CleanupOrphans scans every running process for a command line
// containing both the runner binary name and taskID, and sends SIGTERM
// to its process group (or to the process alone if the group signal
// fails); it returns how many processes were signalled. Used at engine startup to reconcile jobs left "running"
// by a crashed previous engine instance whose in-memory Supervisor.handles
// map (and thus MasterPID) is gone (spec.md §4.1 scenario S6, §4.9 step 6:
// "remove any remaining orphan processes whose cmdline contains both
// `locust` and the task-id" — lmeterx-runner is this engine's runner
// binary, the rewrite's equivalent of the Python engine's `locust`).
// Generalized from bc-dunia-mcpdrill's cmd/agent findProcessByPort
// port-matching to cmdline/task-id matching since the runner has no
// fixed listening port.
func CleanupOrphans(taskID string) (int, error) {
	procs, err := process.Processes()
	if err != nil {
		return 0, fmt.Errorf("supervisor: list processes: %w", err)
	}

	runnerBinary := config.DefaultEngineConfig().RunnerBinary
	killed := 0
	for _, p := range procs {
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			continue
		}
		if !strings.Contains(cmdline, runnerBinary) || !strings.Contains(cmdline, taskID) {
			continue
		}
		pid := int(p.Pid)
		if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
			_ = syscall.Kill(pid, syscall.SIGTERM)
		}
		killed++
	}
	return killed, nil
}

// FindOrphanPID returns the PID of a running process whose command line
// contains taskID, or 0 if none is found. Used as the liveCheck callback
// passed to store.Gateway.ReconcileOnStartup.
func FindOrphanPID(taskID string) int {
	procs, err := process.Processes()
	if err != nil {
		return 0
	}
	for _, p := range procs {
		cmdline, err := p.Cmdline()
		if err != nil {
			continue
		}
		if strings.Contains(cmdline, "--task-id "+taskID) || strings.Contains(cmdline, "--task-id="+taskID) {
			return int(p.Pid)
		}
	}
	return 0
}

