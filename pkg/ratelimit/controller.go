package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for request pacing.
var (
	paceReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cinescan_pace_reports_total",
		Help: "Total number of outcome reports received by the pacing controller",
	}, []string{"outcome"}) // "success", "failure"

	paceIntervalSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cinescan_pace_interval_seconds",
		Help: "Current adaptive inter-request interval in seconds",
	})

	paceCooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cinescan_pace_cooldowns_total",
		Help: "Total number of error-storm cooldowns engaged",
	})

	paceCooldownSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cinescan_pace_cooldown_seconds",
		Help:    "Duration of error-storm cooldown pauses in seconds",
		Buckets: []float64{5, 10, 20, 30, 45, 60},
	})
)

// Controller adaptively paces outgoing requests based on recent
// success/failure history. One instance is shared by reference across all
// workers of a run; a single mutex guards every read and write.
//
// During an error-storm cooldown the mutex stays held, so every other
// caller stalls until the pause ends. The storm is a systemic signal, not
// a per-identifier condition.
type Controller struct {
	mu sync.Mutex

	cfg      Config
	interval time.Duration

	timeoutCount int
	errorScore   float64
	lastSuccess  time.Time

	logger zerolog.Logger

	// sleep is swapped out in tests to avoid real cooldown pauses.
	sleep func(ctx context.Context, d time.Duration)
}

// NewController creates a pacing controller. Zero config fields fall back
// to their defaults.
func NewController(cfg Config, logger zerolog.Logger) *Controller {
	def := DefaultConfig()
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.SpeedUpWindow <= 0 {
		cfg.SpeedUpWindow = def.SpeedUpWindow
	}
	if cfg.SlowdownAfter <= 0 {
		cfg.SlowdownAfter = def.SlowdownAfter
	}
	if cfg.StormThreshold <= 0 {
		cfg.StormThreshold = def.StormThreshold
	}
	if cfg.CooldownPerPoint <= 0 {
		cfg.CooldownPerPoint = def.CooldownPerPoint
	}
	if cfg.CooldownCap <= 0 {
		cfg.CooldownCap = def.CooldownCap
	}

	interval := clamp(cfg.InitialInterval, cfg.MinInterval, cfg.MaxInterval)
	paceIntervalSeconds.Set(interval.Seconds())

	return &Controller{
		cfg:      cfg,
		interval: interval,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Interval returns the current pacing delay without mutating state.
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Snapshot returns a copy of the controller state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Interval:     c.interval,
		TimeoutCount: c.timeoutCount,
		ErrorScore:   c.errorScore,
		LastSuccess:  c.lastSuccess,
	}
}

// Report records the outcome of one attempt and returns the updated
// interval, so the caller can apply the new pacing immediately.
//
// Success decays both counters and shortens the interval when successes
// arrive within SpeedUpWindow of each other. Failure grows both counters,
// lengthens the interval once the timeout count passes SlowdownAfter, and
// past StormThreshold blocks the caller for
// min(CooldownCap, CooldownPerPoint*errorScore) before resetting the error
// score. The cooldown honours ctx cancellation but still resets the score.
func (c *Controller) Report(ctx context.Context, success bool) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if success {
		c.reportSuccess()
	} else {
		c.reportFailure(ctx)
	}

	paceIntervalSeconds.Set(c.interval.Seconds())
	return c.interval
}

func (c *Controller) reportSuccess() {
	paceReportsTotal.WithLabelValues("success").Inc()

	if c.timeoutCount > 0 {
		c.timeoutCount--
	}
	c.errorScore -= 0.5
	if c.errorScore < 0 {
		c.errorScore = 0
	}

	now := time.Now()
	if !c.lastSuccess.IsZero() && now.Sub(c.lastSuccess) < c.cfg.SpeedUpWindow {
		c.interval = clamp(time.Duration(float64(c.interval)*speedUpFactor), c.cfg.MinInterval, c.cfg.MaxInterval)
	}
	c.lastSuccess = now
}

func (c *Controller) reportFailure(ctx context.Context) {
	paceReportsTotal.WithLabelValues("failure").Inc()

	c.timeoutCount++
	c.errorScore++

	if c.timeoutCount > c.cfg.SlowdownAfter {
		c.interval = clamp(time.Duration(float64(c.interval)*slowdownFactor), c.cfg.MinInterval, c.cfg.MaxInterval)
		c.logger.Warn().
			Int("timeout_count", c.timeoutCount).
			Dur("interval", c.interval).
			Msg("Repeated timeouts - slowing down")
	}

	if c.errorScore > c.cfg.StormThreshold {
		pause := cooldownFor(c.errorScore, c.cfg.CooldownPerPoint, c.cfg.CooldownCap)

		c.logger.Warn().
			Float64("error_score", c.errorScore).
			Dur("pause", pause).
			Msg("Error storm - pausing all workers")

		paceCooldownsTotal.Inc()
		paceCooldownSeconds.Observe(pause.Seconds())

		// Sleeping with the mutex held stalls every concurrent caller.
		c.sleep(ctx, pause)
		c.errorScore = 0
	}
}

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
