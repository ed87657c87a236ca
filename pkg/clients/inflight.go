package clients

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/ajitpratap0/daktela-extractor/pkg/metrics"
)

// InFlightLimiter caps the number of requests outstanding at once across
// every table sharing it. Acquire blocks until a slot is free.
type InFlightLimiter struct {
	sem      *semaphore.Weighted
	capacity int64

	current  int64
	peak     int64
	acquired int64
}

// InFlightStats describes limiter usage.
type InFlightStats struct {
	Capacity int64 `json:"capacity"`
	Current  int64 `json:"current"`
	Peak     int64 `json:"peak"`
	Acquired int64 `json:"acquired"`
}

// NewInFlightLimiter creates a limiter with the given capacity (minimum 1).
func NewInFlightLimiter(capacity int) *InFlightLimiter {
	if capacity < 1 {
		capacity = 1
	}
	return &InFlightLimiter{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
}

// Acquire blocks until a slot is available or ctx is done. The returned
// release function must be called exactly once.
func (l *InFlightLimiter) Acquire(ctx context.Context) (release func(), err error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	n := atomic.AddInt64(&l.current, 1)
	atomic.AddInt64(&l.acquired, 1)
	for {
		peak := atomic.LoadInt64(&l.peak)
		if n <= peak || atomic.CompareAndSwapInt64(&l.peak, peak, n) {
			break
		}
	}
	metrics.InFlightRequests.Inc()

	var released int32
	return func() {
		if !atomic.CompareAndSwapInt32(&released, 0, 1) {
			return
		}
		atomic.AddInt64(&l.current, -1)
		metrics.InFlightRequests.Dec()
		l.sem.Release(1)
	}, nil
}

// Stats returns a snapshot of limiter usage.
func (l *InFlightLimiter) Stats() InFlightStats {
	return InFlightStats{
		Capacity: l.capacity,
		Current:  atomic.LoadInt64(&l.current),
		Peak:     atomic.LoadInt64(&l.peak),
		Acquired: atomic.LoadInt64(&l.acquired),
	}
}
