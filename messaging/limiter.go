package messaging

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// memoryLimiter bounds the memory held by in-flight inbound requests. The
// accounted cost of a request is BasicRequestSize plus the size of its
// (decompressed) message body times BloatFactor; dispatch blocks while the
// budget is exhausted.
type memoryLimiter struct {
	limit int64
	sem   *semaphore.Weighted
}

func newMemoryLimiter(limit uint64) *memoryLimiter {
	return &memoryLimiter{
		limit: int64(limit),
		sem:   semaphore.NewWeighted(int64(limit)),
	}
}

// clamp caps a cost at the semaphore's capacity - Acquire with a weight over
// capacity can never succeed, so an oversized request admits alone instead of
// deadlocking.
func (l *memoryLimiter) clamp(n uint64) int64 {
	cost := int64(n)
	if cost > l.limit || cost < 0 {
		cost = l.limit
	}
	return cost
}

func (l *memoryLimiter) acquire(n uint64) {
	if err := l.sem.Acquire(context.Background(), l.clamp(n)); err != nil {
		// Acquire only fails when the context is cancelled
		panic(err)
	}
}

func (l *memoryLimiter) release(n uint64) {
	l.sem.Release(l.clamp(n))
}
