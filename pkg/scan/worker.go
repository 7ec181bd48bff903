package scan

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/filmstat/cinescan/pkg/endata"
	"github.com/filmstat/cinescan/pkg/ratelimit"
)

// Lookuper performs one lookup attempt for one identifier.
type Lookuper interface {
	Lookup(ctx context.Context, id int64) (*endata.Record, error)
}

// Recorder receives terminal per-identifier outcomes.
type Recorder interface {
	AddRecord(rec *endata.Record)
	AddFailure(id int64, reason string, at time.Time)
}

// PacingMode selects when the pace controller is credited with a success.
type PacingMode string

const (
	// PacingOptimistic reports success before every attempt and sleeps
	// the returned interval, reproducing the historical scraper's bias
	// toward speeding up. Failures are reported when they happen.
	PacingOptimistic PacingMode = "optimistic"

	// PacingConfirmed sleeps the current interval without reporting and
	// credits the controller only once the endpoint has answered cleanly.
	PacingConfirmed PacingMode = "confirmed"
)

// worker drains the queue until it is empty or the context is cancelled.
type worker struct {
	id       int
	queue    *Queue
	lookup   Lookuper
	pace     *ratelimit.Controller
	sink     Recorder
	limiter  *rate.Limiter // optional hard cap, nil when unset
	attempts int
	mode     PacingMode
	logger   zerolog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func (w *worker) run(ctx context.Context) {
	workersActive.Inc()
	defer workersActive.Dec()

	for {
		if ctx.Err() != nil {
			w.logger.Debug().Msg("Worker stopping on cancellation")
			return
		}
		id, ok := w.queue.TryPop()
		if !ok {
			w.logger.Debug().Msg("Worker stopping on empty queue")
			return
		}
		w.process(ctx, id)
	}
}

// process runs the retry loop for one identifier and routes its terminal
// outcome to the sink. Every identifier ends in exactly one of: record,
// no-record, failure entry, or abandoned on cancellation.
func (w *worker) process(ctx context.Context, id int64) {
	var lastErr error

	for attempt := 0; attempt < w.attempts; attempt++ {
		if attempt > 0 {
			retriesTotal.Inc()
		}

		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				w.abandon(id, attempt)
				return
			}
		}
		if err := w.paceSleep(ctx); err != nil {
			w.abandon(id, attempt)
			return
		}

		rec, err := w.lookup.Lookup(ctx, id)
		if err == nil {
			if w.mode == PacingConfirmed {
				w.pace.Report(ctx, true)
			}
			w.sink.AddRecord(rec)
			identifiersTotal.WithLabelValues("record").Inc()
			w.logger.Debug().Int64("id", id).Int("attempt", attempt+1).Msg("Record stored")
			return
		}

		if ctx.Err() != nil {
			// Shutdown, not an endpoint failure.
			w.abandon(id, attempt)
			return
		}

		if errors.Is(err, endata.ErrNoRecord) {
			if w.mode == PacingConfirmed {
				// The endpoint answered cleanly; credit the pace.
				w.pace.Report(ctx, true)
			}
			identifiersTotal.WithLabelValues("no_record").Inc()
			return
		}

		if !endata.ShouldRetry(err) {
			// Malformed 200. Terminal for this identifier, but the
			// pace still hears about the bad answer.
			w.pace.Report(ctx, false)
			identifiersTotal.WithLabelValues("malformed").Inc()
			w.logger.Warn().Int64("id", id).Err(err).Msg("Discarding identifier after malformed response")
			return
		}

		w.pace.Report(ctx, false)
		lastErr = err
		w.logger.Debug().
			Int64("id", id).
			Int("attempt", attempt+1).
			Int("max_attempts", w.attempts).
			Err(err).
			Msg("Attempt failed")

		if attempt < w.attempts-1 {
			backoff := backoffFor(attempt)
			retryBackoffSeconds.Observe(backoff.Seconds())
			if err := w.sleep(ctx, backoff); err != nil {
				w.abandon(id, attempt)
				return
			}
		}
	}

	w.sink.AddFailure(id, lastErr.Error(), time.Now())
	identifiersTotal.WithLabelValues("failure").Inc()
	w.logger.Warn().
		Int64("id", id).
		Int("attempts", w.attempts).
		Err(lastErr).
		Msg("Retries exhausted")
}

// paceSleep applies the adaptive pacing delay before an attempt.
func (w *worker) paceSleep(ctx context.Context) error {
	var pause time.Duration
	if w.mode == PacingOptimistic {
		pause = w.pace.Report(ctx, true)
	} else {
		pause = w.pace.Interval()
	}
	return w.sleep(ctx, pause)
}

// abandon drops an identifier mid-budget on cancellation. No outcome is
// recorded: a failure entry would claim the retry budget was exhausted
// when it was not.
func (w *worker) abandon(id int64, attempt int) {
	identifiersTotal.WithLabelValues("abandoned").Inc()
	w.logger.Debug().Int64("id", id).Int("attempt", attempt+1).Msg("Abandoning identifier on cancellation")
}
