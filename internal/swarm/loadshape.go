// Package swarm implements the Swarm Controller component (spec.md §4.7,
// C7): a cooperative virtual-user pool that ramps toward a target
// concurrency under a pluggable LoadShape, drives each user's request
// loop, and reports token-usage deltas for the master to finalize at
// test-stop. Adapted from mcpdrill's internal/vu package (Engine,
// VUExecutor, RateLimiter) — same spawn/drain/rate-limit shapes,
// generalized from MCP operation sampling to a single repeated HTTP call.
package swarm

import "math"

// LoadShape is a stateful callback controlling target concurrency over
// the life of a run (spec.md §4.7). Tick is called once per second (the
// controller may call it more often internally, e.g. right before each
// spawn decision) with the number of seconds elapsed since the run
// started, and reports the current target user count and whether the run
// should stop.
type LoadShape interface {
	// Tick returns the target user count for elapsed seconds t, plus
	// stop=true once the shape has run its course.
	Tick(t float64) (targetUsers int, stop bool)

	// SpawnRate is the users/second at which new users are scheduled
	// while ramping toward the current target.
	SpawnRate() float64
}

// FixedShape holds a constant target user count for durationSeconds, then
// signals stop.
type FixedShape struct {
	Users           int
	Rate            float64
	DurationSeconds float64
}

func (f *FixedShape) Tick(t float64) (int, bool) {
	if t > f.DurationSeconds {
		return f.Users, true
	}
	return f.Users, false
}

func (f *FixedShape) SpawnRate() float64 {
	return f.Rate
}

// SteppedShape ramps from StartUsers toward MaxUsers in Increment-sized
// steps every StepDurationSeconds, then holds at MaxUsers for
// SustainSeconds before stopping (spec.md §3, §4.7, scenario S2).
//
// rampSeconds is the number of steps (including the initial one at t=0)
// times the step duration; the shape holds target=MaxUsers from the
// moment the ramp formula reaches it until rampSeconds+SustainSeconds,
// matching the worked example in spec.md §8 (start=1, increment=2,
// step_duration=2s, max=5, sustain=2s -> ticks 1,3,5,5,5 at
// t=0,2,4,6,8, stop at t=10).
type SteppedShape struct {
	StartUsers          int
	Increment           int
	StepDurationSeconds float64
	MaxUsers            int
	SustainSeconds      float64
	Rate                float64
}

func (s *SteppedShape) rampSeconds() float64 {
	numSteps := math.Ceil(float64(s.MaxUsers-s.StartUsers)/float64(s.Increment)) + 1
	return numSteps * s.StepDurationSeconds
}

func (s *SteppedShape) Tick(t float64) (int, bool) {
	stopAt := s.rampSeconds() + s.SustainSeconds
	if t > stopAt {
		return s.MaxUsers, true
	}
	step := math.Floor(t / s.StepDurationSeconds)
	target := s.StartUsers + int(step)*s.Increment
	if target > s.MaxUsers {
		target = s.MaxUsers
	}
	return target, false
}

func (s *SteppedShape) SpawnRate() float64 {
	return s.Rate
}

// TotalRunSeconds is the planned wall-clock duration of a stepped run,
// per spec.md §3's closed-form formula: ⌈(max-start)/increment + 1⌉ *
// step_duration + sustain_duration. It equals rampSeconds()+Sustain.
func (s *SteppedShape) TotalRunSeconds() float64 {
	return s.rampSeconds() + s.SustainSeconds
}
