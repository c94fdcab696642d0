package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter applies a per-key token bucket, keyed by client IP at the
// login endpoint.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int

	lastCleanup time.Time
	cleanupAge  time.Duration
}

// NewRateLimiter creates a limiter allowing rps sustained requests per key
// with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 5
	}
	return &RateLimiter{
		limiters:    make(map[string]*rate.Limiter),
		rps:         rps,
		burst:       burst,
		lastCleanup: time.Now(),
		cleanupAge:  10 * time.Minute,
	}
}

// Allow reports whether a request for key fits its bucket.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) > rl.cleanupAge {
		rl.cleanup()
	}

	limiter, ok := rl.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(rl.rps), rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter.Allow()
}

// cleanup resets the map when it grows too large. Fresh buckets start
// full, so a reset briefly forgives offenders rather than punishing
// everyone.
func (rl *RateLimiter) cleanup() {
	if len(rl.limiters) > 10000 {
		rl.limiters = make(map[string]*rate.Limiter)
	}
	rl.lastCleanup = time.Now()
}
