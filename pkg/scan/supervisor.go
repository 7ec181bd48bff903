package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/filmstat/cinescan/pkg/ratelimit"
)

// Sink is the result store the supervisor feeds and checkpoints.
type Sink interface {
	Recorder
	Counts() (records, failures int)
	SnapshotAndPersist(ctx context.Context, at time.Time) error
}

// Defaults for a scan run.
const (
	// DefaultWorkers is the size of the worker pool.
	DefaultWorkers = 5

	// DefaultMaxAttempts is the per-identifier attempt budget.
	DefaultMaxAttempts = 3

	// DefaultSnapshotEvery is the periodic checkpoint interval.
	DefaultSnapshotEvery = time.Hour

	// DefaultProgressEvery is how often progress is logged.
	DefaultProgressEvery = 10 * time.Second

	// DefaultJoinTimeout bounds the wait for workers on cancellation.
	DefaultJoinTimeout = 5 * time.Second
)

// finalPersistTimeout bounds the closing snapshot, which runs on a fresh
// context because the run context is already cancelled on the interrupt
// path.
const finalPersistTimeout = 30 * time.Second

// RunConfig holds the configuration of one scan run.
type RunConfig struct {
	// StartID and EndID bound the inclusive identifier range.
	StartID int64
	EndID   int64

	// Workers is the worker pool size.
	Workers int

	// MaxAttempts is the attempt budget per identifier.
	MaxAttempts int

	// SnapshotEvery is the periodic checkpoint interval; ProgressEvery
	// is the progress log interval.
	SnapshotEvery time.Duration
	ProgressEvery time.Duration

	// JoinTimeout bounds how long cancellation waits for workers to
	// finish their current attempt.
	JoinTimeout time.Duration

	// Pacing selects the pacing mode. Empty means PacingOptimistic.
	Pacing PacingMode

	// MaxRPS adds a hard requests-per-second cap on top of the adaptive
	// pacing. Zero disables the cap.
	MaxRPS float64
}

// DefaultRunConfig returns the default configuration for the given range.
func DefaultRunConfig(start, end int64) RunConfig {
	return RunConfig{
		StartID:       start,
		EndID:         end,
		Workers:       DefaultWorkers,
		MaxAttempts:   DefaultMaxAttempts,
		SnapshotEvery: DefaultSnapshotEvery,
		ProgressEvery: DefaultProgressEvery,
		JoinTimeout:   DefaultJoinTimeout,
		Pacing:        PacingOptimistic,
	}
}

// Supervisor owns one scan run: it seeds the queue, spawns the worker pool,
// checkpoints the sink periodically, and shuts everything down cleanly on
// cancellation.
type Supervisor struct {
	cfg    RunConfig
	lookup Lookuper
	pace   *ratelimit.Controller
	store  Sink
	logger zerolog.Logger

	// sleep is swapped out in tests to skip real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSupervisor creates a supervisor. Zero-valued optional fields of cfg are
// filled from the defaults.
func NewSupervisor(cfg RunConfig, lookup Lookuper, pace *ratelimit.Controller, store Sink, logger zerolog.Logger) (*Supervisor, error) {
	if lookup == nil {
		return nil, fmt.Errorf("lookuper is required")
	}
	if pace == nil {
		return nil, fmt.Errorf("pace controller is required")
	}
	if store == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.StartID > cfg.EndID {
		return nil, fmt.Errorf("identifier range is inverted (start %d > end %d)", cfg.StartID, cfg.EndID)
	}
	if cfg.MaxRPS < 0 {
		return nil, fmt.Errorf("max rps must not be negative (got %v)", cfg.MaxRPS)
	}

	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = DefaultSnapshotEvery
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	switch cfg.Pacing {
	case "":
		cfg.Pacing = PacingOptimistic
	case PacingOptimistic, PacingConfirmed:
	default:
		return nil, fmt.Errorf("unknown pacing mode %q", cfg.Pacing)
	}

	return &Supervisor{
		cfg:    cfg,
		lookup: lookup,
		pace:   pace,
		store:  store,
		logger: logger.With().Str("component", "supervisor").Logger(),
		sleep:  sleepCtx,
	}, nil
}

// Run blocks until every identifier in the range has reached a terminal
// outcome or ctx is cancelled. On cancellation the queue is drained, workers
// are joined with a bounded timeout, and the final snapshot still runs; the
// context error is returned so callers can tell interrupt from completion.
func (s *Supervisor) Run(ctx context.Context) error {
	total := s.cfg.EndID - s.cfg.StartID + 1
	queue := NewQueue(s.cfg.StartID, s.cfg.EndID)

	s.logger.Info().
		Int64("start", s.cfg.StartID).
		Int64("end", s.cfg.EndID).
		Int64("total", total).
		Int("workers", s.cfg.Workers).
		Str("pacing", string(s.cfg.Pacing)).
		Msg("Starting scan")

	var limiter *rate.Limiter
	if s.cfg.MaxRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.MaxRPS), 1)
	}

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		w := &worker{
			id:       i,
			queue:    queue,
			lookup:   s.lookup,
			pace:     s.pace,
			sink:     s.store,
			limiter:  limiter,
			attempts: s.cfg.MaxAttempts,
			mode:     s.cfg.Pacing,
			logger:   s.logger.With().Int("worker", i).Logger(),
			sleep:    s.sleep,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	snapshotTicker := time.NewTicker(s.cfg.SnapshotEvery)
	defer snapshotTicker.Stop()
	progressTicker := time.NewTicker(s.cfg.ProgressEvery)
	defer progressTicker.Stop()

	for {
		select {
		case <-done:
			return s.finish(nil)

		case <-ctx.Done():
			dropped := queue.Drain()
			s.logger.Warn().
				Int("dropped", dropped).
				Msg("Cancellation requested, draining queue")
			s.joinWorkers(done)
			return s.finish(ctx.Err())

		case <-snapshotTicker.C:
			if err := s.store.SnapshotAndPersist(ctx, time.Now()); err != nil {
				s.logger.Error().Err(err).Msg("Periodic snapshot failed")
			}

		case <-progressTicker.C:
			records, failures := s.store.Counts()
			s.logger.Info().
				Int("remaining", queue.Remaining()).
				Int64("total", total).
				Int("records", records).
				Int("failures", failures).
				Msg("Scan progress")
		}
	}
}

// joinWorkers waits for the pool to exit, up to the configured timeout.
// Workers finishing a slow attempt past the deadline are left to the
// runtime; they can no longer touch the queue.
func (s *Supervisor) joinWorkers(done <-chan struct{}) {
	timer := time.NewTimer(s.cfg.JoinTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn().
			Dur("timeout", s.cfg.JoinTimeout).
			Msg("Workers did not exit before join timeout")
	}
}

// finish runs the closing snapshot and returns runErr. Persist failures are
// logged and swallowed; they never mask the run outcome.
func (s *Supervisor) finish(runErr error) error {
	ctx, cancel := context.WithTimeout(context.Background(), finalPersistTimeout)
	defer cancel()

	if err := s.store.SnapshotAndPersist(ctx, time.Now()); err != nil {
		s.logger.Error().Err(err).Msg("Final snapshot failed")
	}

	records, failures := s.store.Counts()
	s.logger.Info().
		Int("records", records).
		Int("failures", failures).
		Msg("Scan completed")

	return runErr
}
