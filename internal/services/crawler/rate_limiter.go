package crawler

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostRateLimiter paces requests per host with token buckets. Every host
// gets its own limiter so a slow or rate-limiting site cannot stall fetches
// to the rest.
type HostRateLimiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.Mutex
	defaultDelay time.Duration
}

// NewHostRateLimiter creates a limiter enforcing a minimum gap between
// requests to the same host. A zero delay disables pacing.
func NewHostRateLimiter(defaultDelay time.Duration) *HostRateLimiter {
	return &HostRateLimiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultDelay: defaultDelay,
	}
}

// Wait blocks until the host's rate limit is satisfied or the context is
// cancelled
func (rl *HostRateLimiter) Wait(ctx context.Context, rawURL string) error {
	if rl.defaultDelay <= 0 {
		return nil
	}

	host := hostOf(rawURL)
	if host == "" {
		return nil
	}

	rl.mu.Lock()
	limiter, exists := rl.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(rl.defaultDelay), 1)
		rl.limiters[host] = limiter
	}
	rl.mu.Unlock()

	return limiter.Wait(ctx)
}

// SlowDown halves the host's request rate. Called when a host answers 429
// so subsequent requests back off even before the per-URL deferral logic.
func (rl *HostRateLimiter) SlowDown(rawURL string) {
	host := hostOf(rawURL)
	if host == "" {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(rl.defaultDelay), 1)
		rl.limiters[host] = limiter
	}

	current := limiter.Limit()
	if current > 0 {
		limiter.SetLimit(current / 2)
	}
}

// hostOf parses the host (with port) from a URL
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
