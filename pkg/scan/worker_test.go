package scan

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/filmstat/cinescan/pkg/endata"
	"github.com/filmstat/cinescan/pkg/ratelimit"
)

// lookupFunc adapts a function to the Lookuper interface.
type lookupFunc func(ctx context.Context, id int64) (*endata.Record, error)

func (f lookupFunc) Lookup(ctx context.Context, id int64) (*endata.Record, error) {
	return f(ctx, id)
}

// fakeSink collects outcomes and counts persists.
type fakeSink struct {
	mu           sync.Mutex
	records      []*endata.Record
	failures     []fakeFailure
	persists     int
	persistSizes []int
}

type fakeFailure struct {
	id     int64
	reason string
	at     time.Time
}

func (s *fakeSink) AddRecord(rec *endata.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *fakeSink) AddFailure(id int64, reason string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, fakeFailure{id: id, reason: reason, at: at})
}

func (s *fakeSink) Counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), len(s.failures)
}

func (s *fakeSink) SnapshotAndPersist(ctx context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persists++
	s.persistSizes = append(s.persistSizes, len(s.records))
	return nil
}

func (s *fakeSink) persistCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persists
}

// newTestPace returns a controller with millisecond intervals so pacing
// never slows a test down.
func newTestPace(t *testing.T) *ratelimit.Controller {
	t.Helper()
	return ratelimit.NewController(ratelimit.Config{
		InitialInterval:  time.Millisecond,
		MinInterval:      time.Millisecond,
		MaxInterval:      5 * time.Millisecond,
		SpeedUpWindow:    ratelimit.DefaultSpeedUpWindow,
		SlowdownAfter:    ratelimit.DefaultSlowdownAfter,
		StormThreshold:   ratelimit.DefaultStormThreshold,
		CooldownPerPoint: time.Millisecond,
		CooldownCap:      5 * time.Millisecond,
	}, zerolog.Nop())
}

// newTestWorker builds a worker whose sleeps are recorded instead of slept.
func newTestWorker(t *testing.T, lookup Lookuper, sink Recorder, mode PacingMode, attempts int) (*worker, *[]time.Duration) {
	t.Helper()

	slept := &[]time.Duration{}
	w := &worker{
		id:       0,
		lookup:   lookup,
		pace:     newTestPace(t),
		sink:     sink,
		attempts: attempts,
		mode:     mode,
		logger:   zerolog.Nop(),
		sleep: func(ctx context.Context, d time.Duration) error {
			*slept = append(*slept, d)
			return ctx.Err()
		},
	}
	return w, slept
}

func networkErr(msg string) error {
	return &endata.LookupError{Class: endata.ErrorClassNetwork, Message: msg}
}

func cinemaRecord(t *testing.T, id int64, name, code string) *endata.Record {
	t.Helper()
	rec := endata.NewRecord()
	rec.Set(endata.FieldID, id)
	rec.Set(endata.FieldName, name)
	rec.Set(endata.FieldCode, code)
	return rec
}

func TestWorker_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	lookup := lookupFunc(func(ctx context.Context, id int64) (*endata.Record, error) {
		calls++
		return cinemaRecord(t, id, "A", "44010001"), nil
	})

	sink := &fakeSink{}
	w, _ := newTestWorker(t, lookup, sink, PacingOptimistic, 3)

	w.process(context.Background(), 1)

	if calls != 1 {
		t.Errorf("lookup calls = %d, want 1", calls)
	}
	records, failures := sink.Counts()
	if records != 1 || failures != 0 {
		t.Errorf("sink = %d records / %d failures, want 1/0", records, failures)
	}
}

func TestWorker_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	lookup := lookupFunc(func(ctx context.Context, id int64) (*endata.Record, error) {
		calls++
		if calls < 3 {
			return nil, networkErr("connection reset")
		}
		return cinemaRecord(t, id, "A", "44010001"), nil
	})

	sink := &fakeSink{}
	w, slept := newTestWorker(t, lookup, sink, PacingOptimistic, 3)

	w.process(context.Background(), 1)

	if calls != 3 {
		t.Errorf("lookup calls = %d, want 3", calls)
	}
	records, failures := sink.Counts()
	if records != 1 || failures != 0 {
		t.Errorf("sink = %d records / %d failures, want 1/0", records, failures)
	}

	// Two backoff sleeps among the recorded pauses: 2^0+jitter then
	// 2^1+jitter seconds.
	var backoffs []time.Duration
	for _, d := range *slept {
		if d >= time.Second {
			backoffs = append(backoffs, d)
		}
	}
	if len(backoffs) != 2 {
		t.Fatalf("backoff sleeps = %d, want 2 (all sleeps: %v)", len(backoffs), *slept)
	}
	if backoffs[0] < time.Second || backoffs[0] >= 2*time.Second {
		t.Errorf("first backoff = %v, want in [1s,2s)", backoffs[0])
	}
	if backoffs[1] < 2*time.Second || backoffs[1] >= 3*time.Second {
		t.Errorf("second backoff = %v, want in [2s,3s)", backoffs[1])
	}
}

func TestWorker_ExhaustsRetryBudget(t *testing.T) {
	calls := 0
	lookup := lookupFunc(func(ctx context.Context, id int64) (*endata.Record, error) {
		calls++
		return nil, networkErr("connection refused")
	})

	sink := &fakeSink{}
	w, _ := newTestWorker(t, lookup, sink, PacingOptimistic, 3)

	before := time.Now()
	w.process(context.Background(), 9)

	if calls != 3 {
		t.Errorf("lookup calls = %d, want 3", calls)
	}
	records, failures := sink.Counts()
	if records != 0 || failures != 1 {
		t.Fatalf("sink = %d records / %d failures, want 0/1", records, failures)
	}

	failure := sink.failures[0]
	if failure.id != 9 {
		t.Errorf("failure id = %d, want 9", failure.id)
	}
	if !strings.Contains(failure.reason, "connection refused") {
		t.Errorf("failure reason = %q, want the last error message", failure.reason)
	}
	if failure.at.Before(before) {
		t.Errorf("failure timestamp %v predates the run", failure.at)
	}
}

func TestWorker_NoRecordIsTerminal(t *testing.T) {
	calls := 0
	lookup := lookupFunc(func(ctx context.Context, id int64) (*endata.Record, error) {
		calls++
		return nil, endata.ErrNoRecord
	})

	sink := &fakeSink{}
	w, _ := newTestWorker(t, lookup, sink, PacingOptimistic, 3)

	w.process(context.Background(), 1)

	if calls != 1 {
		t.Errorf("lookup calls = %d, want 1 (no retries for a clean miss)", calls)
	}
	records, failures := sink.Counts()
	if records != 0 || failures != 0 {
		t.Errorf("sink = %d records / %d failures, want 0/0", records, failures)
	}
}

func TestWorker_MalformedResponseIsTerminal(t *testing.T) {
	calls := 0
	lookup := lookupFunc(func(ctx context.Context, id int64) (*endata.Record, error) {
		calls++
		return nil, &endata.LookupError{Class: endata.ErrorClassDecode, Message: "malformed response body"}
	})

	sink := &fakeSink{}
	w, _ := newTestWorker(t, lookup, sink, PacingOptimistic, 3)

	w.process(context.Background(), 1)

	if calls != 1 {
		t.Errorf("lookup calls = %d, want 1 (decode errors are not retried)", calls)
	}
	records, failures := sink.Counts()
	if records != 0 || failures != 0 {
		t.Errorf("sink = %d records / %d failures, want 0/0", records, failures)
	}

	// The pace still heard about the bad answer.
	if got := w.pace.Snapshot().ErrorScore; got == 0 {
		t.Error("pace controller never heard about the malformed response")
	}
}

func TestWorker_OptimisticPacingCreditsBeforeOutcome(t *testing.T) {
	lookup := lookupFunc(func(ctx context.Context, id int64) (*endata.Record, error) {
		return nil, networkErr("timeout")
	})

	sink := &fakeSink{}
	w, _ := newTestWorker(t, lookup, sink, PacingOptimistic, 1)

	w.process(context.Background(), 1)

	// The pre-attempt credit lands even though the attempt failed.
	if w.pace.Snapshot().LastSuccess.IsZero() {
		t.Error("optimistic pacing should credit the controller before the attempt")
	}
}

func TestWorker_ConfirmedPacingCreditsOnlyOutcomes(t *testing.T) {
	t.Run("failure leaves controller uncredited", func(t *testing.T) {
		lookup := lookupFunc(func(ctx context.Context, id int64) (*endata.Record, error) {
			return nil, networkErr("timeout")
		})
		w, _ := newTestWorker(t, lookup, &fakeSink{}, PacingConfirmed, 1)

		w.process(context.Background(), 1)

		if !w.pace.Snapshot().LastSuccess.IsZero() {
			t.Error("confirmed pacing credited the controller on a failed attempt")
		}
	})

	t.Run("success credits controller", func(t *testing.T) {
		lookup := lookupFunc(func(ctx context.Context, id int64) (*endata.Record, error) {
			return cinemaRecord(t, id, "A", "44010001"), nil
		})
		w, _ := newTestWorker(t, lookup, &fakeSink{}, PacingConfirmed, 1)

		w.process(context.Background(), 1)

		if w.pace.Snapshot().LastSuccess.IsZero() {
			t.Error("confirmed pacing never credited a successful attempt")
		}
	})

	t.Run("clean no-record credits controller", func(t *testing.T) {
		lookup := lookupFunc(func(ctx context.Context, id int64) (*endata.Record, error) {
			return nil, endata.ErrNoRecord
		})
		w, _ := newTestWorker(t, lookup, &fakeSink{}, PacingConfirmed, 1)

		w.process(context.Background(), 1)

		if w.pace.Snapshot().LastSuccess.IsZero() {
			t.Error("confirmed pacing never credited a clean no-record answer")
		}
	})
}

func TestWorker_AbandonsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	lookup := lookupFunc(func(ctx context.Context, id int64) (*endata.Record, error) {
		calls++
		cancel() // cancellation lands mid-attempt
		return nil, networkErr("request aborted")
	})

	sink := &fakeSink{}
	w, _ := newTestWorker(t, lookup, sink, PacingOptimistic, 3)

	w.process(ctx, 1)

	if calls != 1 {
		t.Errorf("lookup calls = %d, want 1 (no retries after cancellation)", calls)
	}
	records, failures := sink.Counts()
	if records != 0 || failures != 0 {
		t.Errorf("sink = %d records / %d failures, want 0/0 for an abandoned identifier", records, failures)
	}
}

func TestWorker_RunDrainsQueue(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int64]int)
	lookup := lookupFunc(func(ctx context.Context, id int64) (*endata.Record, error) {
		mu.Lock()
		seen[id]++
		mu.Unlock()
		return cinemaRecord(t, id, "A", "44010001"), nil
	})

	sink := &fakeSink{}
	w, _ := newTestWorker(t, lookup, sink, PacingOptimistic, 3)
	w.queue = NewQueue(1, 5)

	w.run(context.Background())

	if w.queue.Remaining() != 0 {
		t.Errorf("queue remaining = %d, want 0", w.queue.Remaining())
	}
	records, _ := sink.Counts()
	if records != 5 {
		t.Errorf("records = %d, want 5", records)
	}
	for id := int64(1); id <= 5; id++ {
		if seen[id] != 1 {
			t.Errorf("identifier %d processed %d times, want exactly once", id, seen[id])
		}
	}
}

func TestWorker_RunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lookup := lookupFunc(func(ctx context.Context, id int64) (*endata.Record, error) {
		t.Error("lookup called after cancellation")
		return nil, nil
	})

	w, _ := newTestWorker(t, lookup, &fakeSink{}, PacingOptimistic, 3)
	w.queue = NewQueue(1, 5)

	w.run(ctx)

	if got := w.queue.Remaining(); got != 5 {
		t.Errorf("queue remaining = %d, want 5 (nothing popped)", got)
	}
}
