package scan

import (
	"context"
	"math/rand"
	"time"
)

// backoffFor returns the delay before retrying a failed attempt:
// 2^attempt seconds plus up to one second of jitter, attempt counted
// from zero.
func backoffFor(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	return base + jitter
}

// sleepCtx waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
