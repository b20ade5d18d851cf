package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/lustro/internal/models"
)

// maxBodySize bounds how much of a response body is read (10 MB).
// Validation probes keep only enough of the body to find a title.
const (
	maxBodySize   = 10 * 1024 * 1024
	probeBodySize = 64 * 1024
)

// FailureKind classifies why a fetch gave up on a URL
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"      // Deadline expired twice
	FailureRateLimited FailureKind = "rate_limited" // 429 persisted past all deferrals
	FailureTransport   FailureKind = "transport"    // Connection errors exhausted the retry budget
)

// FetchResult is a completed HTTP exchange. Any status code can appear
// here: 4xx and exhausted 5xx responses are results, not failures, because
// the analysis records them as error pages.
type FetchResult struct {
	URL        string // Canonical URL that was requested
	FinalURL   string // Canonical URL after redirects; equals URL when none occurred
	StatusCode int
	Headers    http.Header
	Body       []byte
	Elapsed    time.Duration
}

// FetchFailure means no usable response was obtained for a URL
type FetchFailure struct {
	URL      string
	Kind     FailureKind
	Attempts int // Total requests sent, including rate-limit deferrals
	Err      error
}

func (f *FetchFailure) Error() string {
	return fmt.Sprintf("fetch %s failed (%s) after %d attempts: %v", f.URL, f.Kind, f.Attempts, f.Err)
}

func (f *FetchFailure) Unwrap() error {
	return f.Err
}

// Fetcher performs paced, bounded HTTP fetches for one run. Crawl fetches
// follow redirects and pass through a concurrency semaphore; probes (used
// for link validation) send a single request without redirects so 3xx
// answers stay observable.
type Fetcher struct {
	client           *http.Client
	noRedirectClient *http.Client
	policy           *RetryPolicy
	limiter          *HostRateLimiter
	sem              chan struct{}
	userAgent        string
	logger           arbor.ILogger
}

// NewFetcher builds a fetcher from a run configuration
func NewFetcher(config models.AnalysisConfig, limiter *HostRateLimiter, logger arbor.ILogger) *Fetcher {
	timeout := config.Timeout()

	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		noRedirectClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		policy:    NewRetryPolicy(config.RetryAttempts),
		limiter:   limiter,
		sem:       make(chan struct{}, config.MaxConcurrentRequests),
		userAgent: config.UserAgent,
		logger:    logger,
	}
}

// Fetch retrieves a page for the crawl. The retry ladder:
//   - 2xx, 3xx, 4xx (except 429): returned immediately as the result
//   - 429: wait max(Retry-After, exponential backoff), up to 6 deferrals,
//     without consuming the retry budget; then a rate_limited failure
//   - 5xx: retried up to the budget; the last response becomes the result
//   - timeout: retried exactly once; a second expiry is a timeout failure
//   - transport error: retried up to the budget, then a transport failure
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, *FetchFailure) {
	select {
	case f.sem <- struct{}{}:
		defer func() { <-f.sem }()
	case <-ctx.Done():
		return nil, &FetchFailure{URL: rawURL, Kind: FailureTransport, Err: ctx.Err()}
	}

	var (
		retries     int // Shared budget for 5xx and transport errors
		timeouts    int
		deferrals   int // 429 waits
		attempts    int
		lastFailure error
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, &FetchFailure{URL: rawURL, Kind: FailureTransport, Attempts: attempts, Err: err}
		}

		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return nil, &FetchFailure{URL: rawURL, Kind: FailureTransport, Attempts: attempts, Err: err}
		}

		attempts++
		result, err := f.do(ctx, f.client, rawURL, maxBodySize)

		if err != nil {
			if ctx.Err() != nil {
				return nil, &FetchFailure{URL: rawURL, Kind: FailureTransport, Attempts: attempts, Err: ctx.Err()}
			}

			if isTimeoutError(err) {
				timeouts++
				if timeouts > f.policy.TimeoutRetries {
					f.logger.Debug().Str("url", rawURL).Int("attempts", attempts).Msg("Fetch timed out twice")
					return nil, &FetchFailure{URL: rawURL, Kind: FailureTimeout, Attempts: attempts, Err: err}
				}
				continue
			}

			lastFailure = err
			retries++
			if retries > f.policy.MaxAttempts {
				f.logger.Debug().Str("url", rawURL).Int("attempts", attempts).Err(err).Msg("Fetch retry budget exhausted")
				return nil, &FetchFailure{URL: rawURL, Kind: FailureTransport, Attempts: attempts, Err: lastFailure}
			}
			if err := sleepContext(ctx, f.policy.Backoff(retries-1)); err != nil {
				return nil, &FetchFailure{URL: rawURL, Kind: FailureTransport, Attempts: attempts, Err: err}
			}
			continue
		}

		switch {
		case result.StatusCode == http.StatusTooManyRequests:
			deferrals++
			f.limiter.SlowDown(rawURL)
			if deferrals > f.policy.RateLimitDeferrals {
				return nil, &FetchFailure{
					URL:      rawURL,
					Kind:     FailureRateLimited,
					Attempts: attempts,
					Err:      fmt.Errorf("still rate limited after %d deferrals", f.policy.RateLimitDeferrals),
				}
			}
			delay := f.policy.RateLimitDelay(deferrals, result.Headers.Get("Retry-After"))
			f.logger.Debug().Str("url", rawURL).Dur("delay", delay).Int("deferral", deferrals).Msg("Rate limited, deferring")
			if err := sleepContext(ctx, delay); err != nil {
				return nil, &FetchFailure{URL: rawURL, Kind: FailureTransport, Attempts: attempts, Err: err}
			}
			continue

		case result.StatusCode >= 500:
			retries++
			if retries > f.policy.MaxAttempts {
				// Exhausted retries: hand back the error response so the
				// page is recorded rather than lost
				return result, nil
			}
			if err := sleepContext(ctx, f.policy.Backoff(retries-1)); err != nil {
				return nil, &FetchFailure{URL: rawURL, Kind: FailureTransport, Attempts: attempts, Err: err}
			}
			continue

		default:
			return result, nil
		}
	}
}

// Probe sends a single validation request without redirects or retries.
// The result carries whatever status the server answered, 429 and 5xx
// included; only transport-level problems produce a failure. The body is
// retained up to probeBodySize so callers can pull a title out of it.
func (f *Fetcher) Probe(ctx context.Context, rawURL string) (*FetchResult, *FetchFailure) {
	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return nil, &FetchFailure{URL: rawURL, Kind: FailureTransport, Err: err}
	}

	result, err := f.do(ctx, f.noRedirectClient, rawURL, probeBodySize)
	if err != nil {
		if ctx.Err() == nil && isTimeoutError(err) {
			return nil, &FetchFailure{URL: rawURL, Kind: FailureTimeout, Attempts: 1, Err: err}
		}
		return nil, &FetchFailure{URL: rawURL, Kind: FailureTransport, Attempts: 1, Err: err}
	}

	return result, nil
}

// do performs one GET, retaining at most bodyLimit bytes of the response
func (f *Fetcher) do(ctx context.Context, client *http.Client, rawURL string, bodyLimit int64) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	result := &FetchResult{
		URL:        rawURL,
		FinalURL:   rawURL,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
	}

	if resp.Request != nil && resp.Request.URL != nil {
		if finalURL, cerr := CanonicalURL(resp.Request.URL.String()); cerr == nil {
			result.FinalURL = finalURL
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, bodyLimit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > bodyLimit {
		body = body[:bodyLimit]
	}
	result.Body = body

	result.Elapsed = time.Since(start)
	return result, nil
}
