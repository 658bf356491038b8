package swarm

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Engine is the Swarm Controller (spec.md §4.7, C7): it ramps a pool of
// virtual users toward the target LoadShape reports each second, retires
// users as the target falls, and drains everyone once the shape signals
// stop. Adapted from mcpdrill's internal/vu.Engine — same
// spawn-goroutine-per-VU / WaitGroup-drain shape, generalized from
// fixed-vs-swarm VU modes to a single continuous ramp driven by a
// pluggable LoadShape instead of a fixed VU count.
type Engine struct {
	cfg   VUConfig
	shape LoadShape

	limiter *RateLimiter

	vus   map[string]*vuHandle
	vuMu  sync.Mutex
	vuCtr atomic.Int64

	target      atomic.Int64
	activeUsers atomic.Int64

	stopping atomic.Bool
	closed   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	vuWG   sync.WaitGroup
	loopWG sync.WaitGroup

	totalRequests atomic.Int64
	totalFailures atomic.Int64

	tokenMu    sync.Mutex
	tokenStats TokenStats

	finalizeOnce sync.Once
	finalized    chan struct{}
}

type vuHandle struct {
	id       string
	cancel   context.CancelFunc
	retiring atomic.Bool
}

// NewEngine builds an Engine for one run. cfg.Queue, cfg.Client and
// cfg.Bus may be reused across successive runs (warmup then main run);
// everything else is read-only for the lifetime of the Engine.
func NewEngine(cfg VUConfig, shape LoadShape) *Engine {
	return &Engine{
		cfg:       cfg,
		shape:     shape,
		vus:       make(map[string]*vuHandle),
		finalized: make(chan struct{}),
	}
}

// Start begins ramping toward the shape's target and returns immediately;
// the run proceeds on background goroutines until the shape signals stop
// or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.limiter = NewRateLimiter(e.shape.SpawnRate())

	target, stop := e.shape.Tick(0)
	e.target.Store(int64(target))
	if stop {
		e.beginStop()
		return
	}

	e.loopWG.Add(2)
	go e.shapeLoop()
	go e.rampLoop()
}

// shapeLoop re-evaluates the LoadShape once per elapsed second, updating
// the live target and spawn rate, retiring users when the target falls,
// and triggering the stop sequence once the shape is done.
func (e *Engine) shapeLoop() {
	defer e.loopWG.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	elapsed := 1.0
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			target, stop := e.shape.Tick(elapsed)
			if stop {
				e.beginStop()
				return
			}
			e.target.Store(int64(target))
			e.limiter.UpdateRate(e.shape.SpawnRate())
			e.retireExcess(target)
			elapsed++
		}
	}
}

// rampLoop spawns new users, paced by the shape's current spawn rate,
// whenever the live count is below target (spec.md §4.7 "new users are
// scheduled at 1/spawn-rate intervals until target is reached").
func (e *Engine) rampLoop() {
	defer e.loopWG.Done()

	for {
		if e.ctx.Err() != nil {
			return
		}

		if int64(e.ActiveUsers()) >= e.target.Load() {
			select {
			case <-e.ctx.Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
			continue
		}

		if err := e.limiter.Acquire(e.ctx); err != nil {
			return
		}
		if int64(e.ActiveUsers()) >= e.target.Load() {
			continue
		}
		e.spawnVU()
	}
}

func (e *Engine) spawnVU() {
	num := e.vuCtr.Add(1)
	id := fmt.Sprintf("%s-vu-%d", e.cfg.TaskID, num)

	vuCtx, vuCancel := context.WithCancel(e.ctx)
	h := &vuHandle{id: id, cancel: vuCancel}

	e.vuMu.Lock()
	e.vus[id] = h
	e.vuMu.Unlock()
	e.activeUsers.Add(1)

	e.vuWG.Add(1)
	go func() {
		defer e.vuWG.Done()
		e.runVU(vuCtx, h)

		e.vuMu.Lock()
		delete(e.vus, id)
		e.vuMu.Unlock()
		e.activeUsers.Add(-1)
	}()
}

// retireExcess stops live users down to target when the shape lowers its
// target. Which users are retired follows map iteration order, not age.
// Neither FixedShape nor SteppedShape ever lowers its target.
func (e *Engine) retireExcess(target int) {
	e.vuMu.Lock()
	defer e.vuMu.Unlock()

	toRemove := len(e.vus) - target
	if toRemove <= 0 {
		return
	}
	for id, h := range e.vus {
		if toRemove <= 0 {
			break
		}
		if h.retiring.CompareAndSwap(false, true) {
			h.cancel()
			toRemove--
		}
		_ = id
	}
}

// beginStop retires every live user and waits for them to drain, giving
// up after finalizeWait() (2-60 s) and hard-cancelling the rest, then
// finalizes token-stat accumulation. The drain deadline does not depend
// on the runner's --stop-timeout or on the context passed to Stop. Safe
// to call more than once (only the first call runs the drain).
func (e *Engine) beginStop() {
	if !e.stopping.CompareAndSwap(false, true) {
		return
	}

	e.vuMu.Lock()
	for _, h := range e.vus {
		h.retiring.Store(true)
	}
	e.vuMu.Unlock()

	go func() {
		drained := make(chan struct{})
		go func() {
			e.vuWG.Wait()
			close(drained)
		}()

		select {
		case <-drained:
		case <-time.After(e.finalizeWait()):
			e.cancel()
			<-drained
		}

		// Nothing else should keep running once the drain is complete:
		// this also unblocks rampLoop, which only watches e.ctx.
		e.cancel()

		e.finalizeOnce.Do(func() { close(e.finalized) })
	}()
}

// finalizeWait implements spec.md §4.7's "base_delay + 0.1*concurrent_users,
// clamped to [2, 60]" formula for how long the master waits for late
// worker token-stat messages before finalizing.
func (e *Engine) finalizeWait() time.Duration {
	users := float64(e.ActiveUsers())
	seconds := 2.0 + 0.1*users
	seconds = math.Max(2.0, math.Min(60.0, seconds))
	return time.Duration(seconds * float64(time.Second))
}

// Stop requests an immediate stop (e.g. a "stopping" row observed by the
// Task Pipeline) instead of waiting for the LoadShape to finish on its
// own, then blocks until the drain completes or ctx is done.
func (e *Engine) Stop(ctx context.Context) error {
	e.beginStop()
	select {
	case <-e.finalized:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the run has fully stopped and token stats are final.
func (e *Engine) Wait() {
	<-e.finalized
}

// ActiveUsers returns the current live virtual-user count.
func (e *Engine) ActiveUsers() int64 {
	return e.activeUsers.Load()
}

// TotalRequests returns the cumulative request count across all users,
// including warmup-mode requests.
func (e *Engine) TotalRequests() int64 {
	return e.totalRequests.Load()
}

// TotalFailures returns the cumulative failed-request count.
func (e *Engine) TotalFailures() int64 {
	return e.totalFailures.Load()
}

// TokenStats returns a snapshot of the accumulated token-stat totals.
// Warmup-mode runs never contribute (spec.md §4.10 step 2: "workers skip
// token-stat collection" during warmup).
func (e *Engine) TokenStats() TokenStats {
	e.tokenMu.Lock()
	defer e.tokenMu.Unlock()
	return e.tokenStats
}
