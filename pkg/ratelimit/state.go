// Package ratelimit implements adaptive request pacing for the registry scan.
// A single Controller is shared by every worker: it tracks recent
// success/failure history and computes the delay each worker sleeps before
// its next request, slowing down under sustained failures and speeding up
// when the remote service responds quickly.
package ratelimit

import (
	"time"
)

// Pacing defaults. The controller is reactive rather than a token bucket:
// it trades strict rate guarantees for self-tuning against a remote service
// whose limits are unknown.
const (
	// DefaultInitialInterval is the inter-request delay a fresh controller starts with.
	DefaultInitialInterval = 300 * time.Millisecond

	// DefaultMinInterval is the floor for the adaptive interval.
	DefaultMinInterval = 50 * time.Millisecond

	// DefaultMaxInterval is the ceiling for the adaptive interval.
	DefaultMaxInterval = 5 * time.Second

	// DefaultSpeedUpWindow is how close two consecutive successes must be
	// before the controller shortens the interval.
	DefaultSpeedUpWindow = 500 * time.Millisecond

	// DefaultSlowdownAfter is the number of accumulated timeouts after which
	// a further failure lengthens the interval.
	DefaultSlowdownAfter = 2

	// DefaultStormThreshold is the error score above which the controller
	// imposes a cooldown pause on all callers.
	DefaultStormThreshold = 10

	// DefaultCooldownPerPoint is the pause contributed by each error point
	// during a storm cooldown.
	DefaultCooldownPerPoint = 5 * time.Second

	// DefaultCooldownCap bounds the storm cooldown pause.
	DefaultCooldownCap = 60 * time.Second
)

// Adjustment factors applied to the interval.
const (
	speedUpFactor  = 0.9
	slowdownFactor = 1.5
)

// Config holds the tuning knobs of a Controller.
type Config struct {
	// InitialInterval is the starting inter-request delay.
	InitialInterval time.Duration

	// MinInterval and MaxInterval clamp the adaptive interval.
	MinInterval time.Duration
	MaxInterval time.Duration

	// SpeedUpWindow is the success-to-success spacing below which the
	// interval is shortened.
	SpeedUpWindow time.Duration

	// SlowdownAfter is the timeout count above which a failure lengthens
	// the interval.
	SlowdownAfter int

	// StormThreshold is the error score above which a failure triggers a
	// cooldown pause.
	StormThreshold float64

	// CooldownPerPoint and CooldownCap size the cooldown pause:
	// min(CooldownCap, CooldownPerPoint * errorScore).
	CooldownPerPoint time.Duration
	CooldownCap      time.Duration
}

// DefaultConfig returns the controller configuration used by production scans.
func DefaultConfig() Config {
	return Config{
		InitialInterval:  DefaultInitialInterval,
		MinInterval:      DefaultMinInterval,
		MaxInterval:      DefaultMaxInterval,
		SpeedUpWindow:    DefaultSpeedUpWindow,
		SlowdownAfter:    DefaultSlowdownAfter,
		StormThreshold:   DefaultStormThreshold,
		CooldownPerPoint: DefaultCooldownPerPoint,
		CooldownCap:      DefaultCooldownCap,
	}
}

// State is a point-in-time snapshot of the controller, used for progress
// logging and tests. It is a copy; mutating it has no effect.
type State struct {
	// Interval is the current inter-request delay.
	Interval time.Duration `json:"interval"`

	// TimeoutCount is the accumulated timeout score. Incremented by one on
	// every failure, decremented by one on success, never negative.
	TimeoutCount int `json:"timeout_count"`

	// ErrorScore is the accumulated error score. Incremented by one on
	// every failure, decremented by 0.5 on success, never negative.
	ErrorScore float64 `json:"error_score"`

	// LastSuccess is when the most recent success was reported.
	LastSuccess time.Time `json:"last_success"`
}

// cooldownFor returns the storm pause for the given error score.
func cooldownFor(score float64, perPoint, limit time.Duration) time.Duration {
	d := time.Duration(score * float64(perPoint))
	if d > limit {
		return limit
	}
	return d
}
