package swarm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// RateLimiter is a token-bucket limiter used to pace new-user spawns at
// the shape's configured spawn rate. Adapted from mcpdrill's
// internal/vu/rate_limiter.go RateLimiter, unchanged in mechanism:
// refill is lazy (computed from elapsed wall-clock time on Acquire) and
// disabled entirely (Acquire is a no-op) when the configured rate is
// <= 0.
type RateLimiter struct {
	targetRate atomic.Value
	tokens     float64
	maxTokens  float64
	lastRefill time.Time
	refillRate float64
	mu         sync.Mutex
	enabled    atomic.Bool
}

// NewRateLimiter builds a limiter refilling at targetRate tokens/second.
// targetRate <= 0 disables limiting (Acquire always succeeds instantly).
func NewRateLimiter(targetRate float64) *RateLimiter {
	r := &RateLimiter{}
	r.targetRate.Store(targetRate)

	if targetRate <= 0 {
		r.enabled.Store(false)
		return r
	}

	maxTokens := targetRate
	if maxTokens < 1 {
		maxTokens = 1
	}
	if maxTokens > 10000 {
		maxTokens = 10000
	}

	r.tokens = maxTokens
	r.maxTokens = maxTokens
	r.lastRefill = time.Now()
	r.refillRate = targetRate
	r.enabled.Store(true)

	return r
}

// Acquire blocks until a token is available or ctx is cancelled.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if !r.enabled.Load() {
		return nil
	}

	for {
		waitDuration, done := func() (time.Duration, bool) {
			r.mu.Lock()
			defer r.mu.Unlock()

			if !r.enabled.Load() {
				return 0, true
			}

			r.refill()

			if r.tokens >= 1 {
				r.tokens--
				return 0, true
			}

			wait := time.Duration(float64(time.Second) / r.refillRate)
			if wait < 100*time.Microsecond {
				wait = 100 * time.Microsecond
			}
			return wait, false
		}()

		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitDuration):
		}
	}
}

func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.lastRefill = now

	r.tokens += elapsed * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
}

// Enabled reports whether this limiter currently paces Acquire calls.
func (r *RateLimiter) Enabled() bool {
	return r.enabled.Load()
}

// UpdateRate changes the refill rate in place, used when a stepped shape
// reports a new spawn rate for the next tick.
func (r *RateLimiter) UpdateRate(targetRate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.targetRate.Store(targetRate)

	if targetRate <= 0 {
		r.enabled.Store(false)
		return
	}

	r.enabled.Store(true)
	r.refillRate = targetRate

	maxTokens := targetRate
	if maxTokens < 1 {
		maxTokens = 1
	}
	if maxTokens > 10000 {
		maxTokens = 10000
	}
	r.maxTokens = maxTokens

	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
}
