// Package scan implements the concurrent identifier scan: a shared work
// queue seeded with the identifier range, a pool of workers that fetch one
// record per identifier under adaptive pacing, a per-identifier retry policy
// with exponential backoff, and a supervisor that checkpoints results
// periodically and shuts the pool down cleanly on cancellation.
//
// # Architecture
//
//	Supervisor.Run
//	  ├── Queue            identifiers [start,end], popped exactly once
//	  ├── worker × N       TryPop → pace → Lookup → retry/backoff → Sink
//	  │     ├── ratelimit.Controller   shared adaptive pacing
//	  │     └── endata.Client          one POST per attempt
//	  └── monitor loop     progress logs, periodic snapshots, drain on cancel
//
// # Usage
//
//	pace := ratelimit.NewController(ratelimit.DefaultConfig(), logger)
//	client, err := endata.New(endata.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	store, err := sink.NewStore(sink.StoreConfig{Dir: "out"}, logger)
//	if err != nil {
//		return err
//	}
//
//	sup, err := scan.NewSupervisor(scan.DefaultRunConfig(1, 50000), client, pace, store, logger)
//	if err != nil {
//		return err
//	}
//	if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
//		return err
//	}
//
// # Outcome model
//
// Every identifier ends in exactly one of three states: a record appended to
// the sink, a clean "no record" answer (recorded nowhere, the identifier
// simply does not exist), or a failure entry after the retry budget is
// exhausted. Malformed 200 responses are terminal for the identifier and
// surface only in logs and metrics.
//
// # Pacing modes
//
// PacingOptimistic reproduces the historical behavior of the scraper this
// scanner replaces: the controller is told "success" before every attempt
// and the returned interval is slept, so the pace speeds up even on attempts
// that go on to fail. PacingConfirmed sleeps the current interval without
// reporting and credits the controller only after a confirmed answer.
// Both modes report every failed attempt.
package scan
