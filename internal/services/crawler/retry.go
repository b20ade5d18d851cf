package crawler

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"
)

// RetryPolicy defines retry behavior for fetches. Transport errors and 5xx
// responses share one retry budget; timeouts get exactly one retry; 429
// deferrals are tracked separately and never consume the retry budget.
type RetryPolicy struct {
	MaxAttempts        int           // Retries after the initial try, for 5xx and transport errors
	TimeoutRetries     int           // Retries after a per-request deadline expiry
	RateLimitDeferrals int           // Maximum 429 waits per URL before giving up
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	BackoffMultiplier  float64
}

// NewRetryPolicy creates the fetch retry policy with the given retry budget
func NewRetryPolicy(retryAttempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:        retryAttempts,
		TimeoutRetries:     1,
		RateLimitDeferrals: 6,
		InitialBackoff:     500 * time.Millisecond,
		MaxBackoff:         30 * time.Second,
		BackoffMultiplier:  2.0,
	}
}

// Backoff returns the wait before retry number attempt (0-based):
// initial * multiplier^attempt with ±20% jitter, capped at MaxBackoff.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= p.BackoffMultiplier
	}
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	// ±20% jitter
	jitter := backoff * 0.2 * (rand.Float64()*2 - 1)
	backoff += jitter

	if backoff < 0 {
		backoff = float64(p.InitialBackoff)
	}

	return time.Duration(backoff)
}

// RateLimitDelay returns the wait after the nth 429 for a URL (1-based):
// the larger of the server-advised Retry-After and the exponential backoff
// for that deferral, capped at MaxBackoff.
func (p *RetryPolicy) RateLimitDelay(deferral int, retryAfter string) time.Duration {
	backoff := float64(p.InitialBackoff)
	for i := 0; i < deferral; i++ {
		backoff *= p.BackoffMultiplier
	}
	delay := time.Duration(backoff)

	if advised := parseRetryAfter(retryAfter); advised > delay {
		delay = advised
	}

	if delay > p.MaxBackoff {
		delay = p.MaxBackoff
	}
	return delay
}

// parseRetryAfter handles both forms of the Retry-After header: a delay in
// seconds or an HTTP date
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}

	return 0
}

// isTimeoutError reports whether an error is a request deadline expiry
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// sleepContext waits for d or until the context is cancelled
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
