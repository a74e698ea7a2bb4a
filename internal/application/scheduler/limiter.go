package scheduler

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// limiter bounds the number of concurrently executing node bodies.
// A max of zero or less disables gating entirely.
type limiter struct {
	sem *semaphore.Weighted
}

func newLimiter(max int) *limiter {
	if max <= 0 {
		return &limiter{}
	}
	return &limiter{sem: semaphore.NewWeighted(int64(max))}
}

// acquire blocks until a permit is free or ctx is cancelled.
func (l *limiter) acquire(ctx context.Context) error {
	if l.sem == nil {
		return ctx.Err()
	}
	return l.sem.Acquire(ctx, 1)
}

// release returns a permit. It must run on every exit path from node
// execution, including error paths, to prevent permit leakage.
func (l *limiter) release() {
	if l.sem != nil {
		l.sem.Release(1)
	}
}
