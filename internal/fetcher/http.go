package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/tract-rollup/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	RateLimiters map[string]*AdaptiveLimiter
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		initialRate: initialRate,
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 1.2
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher implements Fetcher using net/http with per-host rate limiting.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	limiters map[string]*AdaptiveLimiter
	fallback *rate.Limiter
}

// DefaultRateLimiters returns the default per-host rate limiters.
func DefaultRateLimiters() map[string]*AdaptiveLimiter {
	return map[string]*AdaptiveLimiter{
		"api.census.gov": NewAdaptiveLimiter(5, 5),
		"www2.census.gov": NewAdaptiveLimiter(2, 2),
	}
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "tract-rollup/1.0"
	}
	limiters := DefaultRateLimiters()
	for k, v := range opts.RateLimiters {
		limiters[k] = v
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: limiters,
		fallback: rate.NewLimiter(20, 20),
	}
}

func (f *HTTPFetcher) limiterFor(rawURL string) *AdaptiveLimiter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return f.limiters[u.Host]
}

// do performs a single GET and classifies the outcome. The caller owns retries.
func (f *HTTPFetcher) do(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "create request"), 0)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	adaptive := f.limiterFor(rawURL)
	if adaptive != nil {
		err = adaptive.Wait(ctx)
	} else {
		err = f.fallback.Wait(ctx)
	}
	if err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "request cancelled")
		}
		return nil, resilience.NewTransientError(eris.Wrapf(err, "get %s", redact(rawURL)), 0)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_ = resp.Body.Close()
		if adaptive != nil {
			adaptive.OnRateLimit()
		}
		return nil, resilience.NewTransientError(
			eris.Errorf("http 429 from %s", redact(rawURL)), resp.StatusCode)
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		_ = resp.Body.Close()
		return nil, resilience.NewTransientError(
			eris.Errorf("http %d from %s", resp.StatusCode, redact(rawURL)), resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_ = resp.Body.Close()
		return nil, resilience.NewPermanentError(
			eris.Errorf("http %d from %s", resp.StatusCode, redact(rawURL)), resp.StatusCode)
	}

	if adaptive != nil {
		adaptive.OnSuccess()
	}
	return resp, nil
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := f.do(ctx, rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}
	return resp.Body, nil
}

// DownloadToFile fetches the URL and writes it to the given path. The body is
// streamed into a temp file next to path and renamed on success.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return 0, eris.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	n, err := io.Copy(tmp, body)
	if err != nil {
		_ = tmp.Close()
		return n, eris.Wrap(err, "write file")
	}
	if err := tmp.Close(); err != nil {
		return n, eris.Wrap(err, "close file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return n, eris.Wrap(err, "rename file")
	}
	return n, nil
}

// redact strips the key query parameter so credentials never reach logs.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
