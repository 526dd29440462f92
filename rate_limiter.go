// rate_limiter.go
// ----------------
// This file defines the RateLimiter type, a token bucket that bounds how many requests a client
// issues inside a rolling window.
//
// Responsibilities:
// - Continuous (fractional) refill: elapsed/window * capacity tokens, capped at capacity.
// - Granting one token per Acquire, in FIFO order across concurrent callers.
// - Blocking for a full window plus a safety margin when the bucket is empty.
//
// All state changes happen inside one critical section held through a weighted semaphore, whose
// waiters are served in arrival order. A caller that is blocked waiting for tokens keeps the
// section, so later callers queue behind it instead of overtaking it.
package anvilbridge

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	DefaultRequestLimit   = 200
	DefaultRequestLimitMS = 5000

	// limiterSafetyMargin is added to every full-window wait.
	limiterSafetyMargin = 50 * time.Millisecond
)

// RateLimiter is a continuous-refill token bucket shared by every call of a client.
//
// Refill runs while tokens are spent, so a bucket that starts full can admit up to roughly
// twice its capacity inside a single window: the full bucket plus what refills during it. It
// never holds more than capacity tokens and never grants out of arrival order.
type RateLimiter struct {
	capacity float64
	window   time.Duration
	margin   time.Duration

	turn *semaphore.Weighted

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	metrics *MetricsCollector
}

// NewRateLimiter returns a full bucket of capacity tokens refilled over window.
func NewRateLimiter(capacity int, window time.Duration) *RateLimiter {
	if capacity <= 0 {
		capacity = DefaultRequestLimit
	}
	if window <= 0 {
		window = DefaultRequestLimitMS * time.Millisecond
	}
	r := &RateLimiter{
		capacity: float64(capacity),
		window:   window,
		margin:   limiterSafetyMargin,
		turn:     semaphore.NewWeighted(1),
		now:      time.Now,
		sleep:    sleepContext,
	}
	r.tokens = r.capacity
	r.lastRefill = r.now()
	return r
}

// Acquire blocks until one request may be issued or ctx is done.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	start := r.now()
	if err := r.turn.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.turn.Release(1)

	for {
		if tokens, ok := r.take(); ok {
			r.metrics.recordLimiterWait(r.now().Sub(start), tokens)
			return nil
		}
		if err := r.sleep(ctx, r.window+r.margin); err != nil {
			return err
		}
	}
}

// take refills the bucket and consumes one token if available.
func (r *RateLimiter) take() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	elapsed := now.Sub(r.lastRefill)
	if elapsed > 0 {
		r.tokens += float64(elapsed) / float64(r.window) * r.capacity
		if r.tokens > r.capacity {
			r.tokens = r.capacity
		}
		r.lastRefill = now
	}

	if r.tokens < 1 {
		return r.tokens, false
	}
	r.tokens--
	return r.tokens, true
}

// Tokens returns the tokens available as of the last acquisition.
func (r *RateLimiter) Tokens() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens
}

// Capacity returns the bucket size.
func (r *RateLimiter) Capacity() int {
	return int(r.capacity)
}

// Window returns the refill window.
func (r *RateLimiter) Window() time.Duration {
	return r.window
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
