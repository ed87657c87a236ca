// Package clients provides the shared HTTP machinery used to talk to the
// Daktela API: a token-bucket rate limiter, an in-flight request limiter and
// a retrying HTTP client built on both.
package clients

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/daktela-extractor/pkg/metrics"
)

// RateLimiter blocks callers until they may issue a request.
type RateLimiter interface {
	// Wait blocks until a request is allowed. It never drops a caller; it
	// only returns early when ctx is done.
	Wait(ctx context.Context) error

	// Allow consumes a token if one is available right now.
	Allow() bool

	// Stats returns rate limiter statistics
	Stats() RateLimiterStats
}

// RateLimiterStats describes limiter activity.
type RateLimiterStats struct {
	Rate            float64       `json:"rate"`
	Burst           int           `json:"burst"`
	AllowedRequests int64         `json:"allowed_requests"`
	CanceledWaits   int64         `json:"canceled_waits"`
	CurrentTokens   float64       `json:"current_tokens"`
	AverageWaitTime time.Duration `json:"average_wait_time"`
}

// TokenBucketRateLimiter implements the token bucket algorithm.
// Tokens are added at a constant rate up to burst and consumed by requests.
type TokenBucketRateLimiter struct {
	rate     float64
	burst    int
	tokens   float64
	lastTime time.Time
	now      func() time.Time

	allowedRequests int64
	canceledWaits   int64
	totalWaitTime   int64

	mu sync.Mutex
}

// NewTokenBucketRateLimiter creates a limiter refilling rate tokens per
// second with capacity burst. The bucket starts full.
func NewTokenBucketRateLimiter(rate float64, burst int) *TokenBucketRateLimiter {
	if burst < 1 {
		burst = 1
	}
	if rate <= 0 {
		rate = float64(burst)
	}
	return &TokenBucketRateLimiter{
		rate:     rate,
		burst:    burst,
		tokens:   float64(burst),
		lastTime: time.Now(),
		now:      time.Now,
	}
}

// Allow checks if a request is allowed immediately.
func (tb *TokenBucketRateLimiter) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens--
		atomic.AddInt64(&tb.allowedRequests, 1)
		return true
	}
	return false
}

// Wait blocks until a request is allowed
func (tb *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.RateLimiterWait.Observe(time.Since(start).Seconds())
	}()

	for {
		tb.mu.Lock()
		tb.refill()

		if tb.tokens >= 1.0 {
			tb.tokens--
			atomic.AddInt64(&tb.allowedRequests, 1)
			atomic.AddInt64(&tb.totalWaitTime, time.Since(start).Nanoseconds())
			tb.mu.Unlock()
			return nil
		}

		deficit := 1.0 - tb.tokens
		waitTime := time.Duration(deficit / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		timer := time.NewTimer(waitTime)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			atomic.AddInt64(&tb.canceledWaits, 1)
			return ctx.Err()
		}
	}
}

// Stats returns rate limiter statistics
func (tb *TokenBucketRateLimiter) Stats() RateLimiterStats {
	tb.mu.Lock()
	tb.refill()
	tokens := tb.tokens
	tb.mu.Unlock()

	allowed := atomic.LoadInt64(&tb.allowedRequests)
	var avg time.Duration
	if allowed > 0 {
		avg = time.Duration(atomic.LoadInt64(&tb.totalWaitTime) / allowed)
	}

	return RateLimiterStats{
		Rate:            tb.rate,
		Burst:           tb.burst,
		AllowedRequests: allowed,
		CanceledWaits:   atomic.LoadInt64(&tb.canceledWaits),
		CurrentTokens:   tokens,
		AverageWaitTime: avg,
	}
}

// refill adds tokens for the time elapsed since the last refill.
// Must be called with mu held.
func (tb *TokenBucketRateLimiter) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastTime).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.rate
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}
	tb.lastTime = now
}
