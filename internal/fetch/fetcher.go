// Package fetch performs HTTP requests through the robots policy, response
// cache, and rate limiter, with retry and backoff on transient failure.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/performa-app/performa-crawler/internal/httpcache"
	"github.com/performa-app/performa-crawler/internal/metrics"
	"github.com/performa-app/performa-crawler/internal/scrape"
)

// RobotsPolicy gates fetches and supplies per-origin crawl delays.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
	CrawlDelay(ctx context.Context, rawURL string) time.Duration
}

// RateLimiter paces requests per origin and absorbs backpressure signals.
type RateLimiter interface {
	Acquire(ctx context.Context, origin string) error
	SetCrawlDelay(origin string, d time.Duration)
	ReportSuccess(origin string)
	ReportThrottled(origin string)
}

// Config controls fetcher behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
}

const defaultMaxBodyBytes = 5 << 20

// Fetcher implements scrape.Fetcher over net/http.
type Fetcher struct {
	client  *http.Client
	robots  RobotsPolicy
	limiter RateLimiter
	cache   *httpcache.Cache
	clock   scrape.Clock
	retry   *RetryPolicy
	cfg     Config
	logger  *zap.Logger
}

// New builds a Fetcher. A nil client gets a pooled-transport default.
func New(
	cfg Config,
	client *http.Client,
	robots RobotsPolicy,
	limiter RateLimiter,
	cache *httpcache.Cache,
	clock scrape.Clock,
	retry *RetryPolicy,
	logger *zap.Logger,
) *Fetcher {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{
			Timeout:   timeout,
			Transport: newHTTPTransport(),
		}
	}
	if retry == nil {
		retry = NewRetryPolicy(0, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Fetcher{
		client:  client,
		robots:  robots,
		limiter: limiter,
		cache:   cache,
		clock:   clock,
		retry:   retry,
		cfg:     cfg,
		logger:  logger,
	}
}

// Fetch retrieves a URL. Sequence: robots gate, cache lookup, rate-limited
// request with conditional revalidation, cache store.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (scrape.Document, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return scrape.Document{}, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	origin := parsed.Scheme + "://" + strings.ToLower(parsed.Host)

	if !f.robots.Allowed(ctx, rawURL) {
		metrics.ObservePolicyDenied(metrics.SanitizeOrigin(rawURL))
		return scrape.Document{}, fmt.Errorf("%s: %w", rawURL, scrape.ErrPolicyDenied)
	}
	f.limiter.SetCrawlDelay(origin, f.robots.CrawlDelay(ctx, rawURL))

	key := httpcache.Key(http.MethodGet, rawURL)
	entry, verdict := f.cache.Get(key)
	metrics.ObserveCacheLookup(verdict.String())
	if verdict == httpcache.Fresh {
		return documentFromEntry(rawURL, entry, true), nil
	}
	conditional := verdict == httpcache.Stale && entry.HasValidator()

	var lastErr error
	for attempt := 0; attempt < f.retry.MaxAttempts(); attempt++ {
		if attempt > 0 {
			metrics.ObserveRetry(metrics.SanitizeOrigin(rawURL))
		}
		doc, retryIn, err := f.attempt(ctx, rawURL, origin, key, entry, conditional)
		if err == nil {
			return doc, nil
		}
		lastErr = err

		var fe *scrape.FetchError
		if !errors.As(err, &fe) || !fe.Retryable() || attempt == f.retry.MaxAttempts()-1 {
			return scrape.Document{}, err
		}
		wait := f.retry.Backoff(attempt)
		if retryIn > wait {
			wait = retryIn
		}
		f.logger.Debug("fetch retrying",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))
		if err := sleepWithContext(ctx, wait); err != nil {
			return scrape.Document{}, err
		}
	}
	return scrape.Document{}, lastErr
}

// attempt performs one rate-limited request. retryIn carries a server-sent
// Retry-After hint for the caller's backoff.
func (f *Fetcher) attempt(
	ctx context.Context,
	rawURL, origin, key string,
	stale httpcache.Entry,
	conditional bool,
) (scrape.Document, time.Duration, error) {
	if err := f.limiter.Acquire(ctx, origin); err != nil {
		return scrape.Document{}, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return scrape.Document{}, 0, fmt.Errorf("new request: %w", err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	if conditional {
		if stale.ETag != "" {
			req.Header.Set("If-None-Match", stale.ETag)
		}
		if stale.LastModified != "" {
			req.Header.Set("If-Modified-Since", stale.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return scrape.Document{}, 0, f.wrapTransportError(rawURL, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		return scrape.Document{}, 0, f.wrapTransportError(rawURL, err)
	}

	now := f.clock.Now()
	metrics.ObservePage(metrics.SanitizeOrigin(rawURL), resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusNotModified && conditional:
		f.cache.Touch(key, now)
		f.limiter.ReportSuccess(origin)
		refreshed := stale
		refreshed.RetrievedAt = now
		return documentFromEntry(rawURL, refreshed, true), 0, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		f.cache.Put(key, httpcache.Entry{
			Body:         body,
			StatusCode:   resp.StatusCode,
			ContentType:  resp.Header.Get("Content-Type"),
			RetrievedAt:  now,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		})
		f.limiter.ReportSuccess(origin)
		return scrape.Document{
			URL:         rawURL,
			StatusCode:  resp.StatusCode,
			Body:        body,
			RetrievedAt: now,
		}, 0, nil

	// A 503 is backpressure only when the origin says so via Retry-After;
	// otherwise it is an ordinary server error.
	case resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusServiceUnavailable && resp.Header.Get("Retry-After") != ""):
		f.limiter.ReportThrottled(origin)
		retryIn := parseRetryAfter(resp.Header.Get("Retry-After"), now)
		return scrape.Document{}, retryIn, &scrape.FetchError{
			URL:        rawURL,
			Kind:       scrape.FetchRateLimited,
			StatusCode: resp.StatusCode,
		}

	case resp.StatusCode >= 500:
		return scrape.Document{}, 0, &scrape.FetchError{
			URL:        rawURL,
			Kind:       scrape.FetchServer,
			StatusCode: resp.StatusCode,
		}

	case resp.StatusCode == http.StatusNotFound:
		return scrape.Document{}, 0, &scrape.FetchError{
			URL:        rawURL,
			Kind:       scrape.FetchNotFound,
			StatusCode: resp.StatusCode,
		}

	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusUnauthorized:
		return scrape.Document{}, 0, &scrape.FetchError{
			URL:        rawURL,
			Kind:       scrape.FetchForbidden,
			StatusCode: resp.StatusCode,
		}

	default:
		return scrape.Document{}, 0, &scrape.FetchError{
			URL:        rawURL,
			Kind:       scrape.FetchBadRequest,
			StatusCode: resp.StatusCode,
		}
	}
}

func (f *Fetcher) wrapTransportError(rawURL string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	kind := scrape.FetchNetwork
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		kind = scrape.FetchTimeout
	}
	return &scrape.FetchError{URL: rawURL, Kind: kind, Err: err}
}

func documentFromEntry(rawURL string, entry httpcache.Entry, fromCache bool) scrape.Document {
	return scrape.Document{
		URL:         rawURL,
		StatusCode:  entry.StatusCode,
		Body:        entry.Body,
		RetrievedAt: entry.RetrievedAt,
		FromCache:   fromCache,
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
