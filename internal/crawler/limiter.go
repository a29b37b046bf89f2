package crawler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces requests per host: one token bucket per hostname,
// refilled every interval, burst of one
type RateLimiter struct {
	interval time.Duration
	clock    Clock
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter creates a limiter spacing requests to one host by interval.
// A zero interval still routes every request through Acquire but never waits.
func NewRateLimiter(interval time.Duration, clock Clock) *RateLimiter {
	if clock == nil {
		clock = SystemClock
	}
	return &RateLimiter{
		interval: interval,
		clock:    clock,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Acquire blocks until a token for the host of rawURL is available or ctx is
// done. Waiting on one host never blocks callers acquiring another.
func (rl *RateLimiter) Acquire(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	limiter := rl.limiterFor(HostOf(rawURL))
	reservation := limiter.ReserveN(rl.clock.Now(), 1)
	delay := reservation.DelayFrom(rl.clock.Now())
	if delay <= 0 {
		return nil
	}

	select {
	case <-rl.clock.After(delay):
		return nil
	case <-ctx.Done():
		reservation.CancelAt(rl.clock.Now())
		return ctx.Err()
	}
}

// Hosts returns the number of hosts seen so far
func (rl *RateLimiter) Hosts() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}

// limiterFor gets or creates the bucket for a host
func (rl *RateLimiter) limiterFor(host string) *rate.Limiter {
	rl.mu.RLock()
	if limiter, exists := rl.limiters[host]; exists {
		rl.mu.RUnlock()
		return limiter
	}
	rl.mu.RUnlock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Another worker may have created it between the locks
	if limiter, exists := rl.limiters[host]; exists {
		return limiter
	}

	limit := rate.Inf
	if rl.interval > 0 {
		limit = rate.Every(rl.interval)
	}
	limiter := rate.NewLimiter(limit, 1)
	rl.limiters[host] = limiter
	return limiter
}
