package worker

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate is the admission control for job execution: a counting semaphore of
// fixed capacity that every job must hold one unit of while it runs. Waiters
// are admitted in arrival order. Gates are plain values injected into the
// runner so tests can build independent instances with their own capacity.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate builds a gate admitting at most n concurrent jobs.
func NewGate(n int) *Gate {
	if n < 1 {
		n = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(n))}
}

// Acquire blocks until a slot frees or ctx is cancelled.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// TryAcquire claims a slot without blocking.
func (g *Gate) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

// Release returns a held slot. Must be called exactly once per successful
// acquire, on every exit path.
func (g *Gate) Release() {
	g.sem.Release(1)
}
