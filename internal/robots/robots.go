// Package robots enforces robots.txt directives per origin, with a TTL cache
// and crawl-delay extraction.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/performa-app/performa-crawler/internal/scrape"
)

// Config controls robots.txt handling.
type Config struct {
	UserAgent string
	TTL       time.Duration
	Respect   bool
}

const defaultTTL = 24 * time.Hour

// Agent answers allow/deny and crawl-delay queries per origin. Snapshots are
// cached for the TTL and re-fetched lazily on the next query after expiry.
type Agent struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	respect   bool
	clock     scrape.Clock
	logger    *zap.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	fetched time.Time
	data    *robotstxt.RobotsData
}

// NewAgent constructs an Agent. A nil client gets a 10s-timeout default.
func NewAgent(cfg Config, client *http.Client, clock scrape.Clock, logger *zap.Logger) *Agent {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Agent{
		client:    client,
		userAgent: cfg.UserAgent,
		ttl:       ttl,
		respect:   cfg.Respect,
		clock:     clock,
		logger:    logger,
		cache:     make(map[string]cacheEntry),
	}
}

// allowAll is the snapshot cached for origins whose robots.txt could not be
// fetched; a 404 parse yields permit-everything semantics.
var allowAll, _ = robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)

// Allowed reports whether the URL's path may be fetched. Fetch failures for
// robots.txt itself fail open: absence of robots.txt is not a block.
func (a *Agent) Allowed(ctx context.Context, rawURL string) bool {
	if !a.respect {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	group := a.findGroup(a.load(ctx, parsed))
	if group == nil {
		return true
	}
	return group.Test(parsed.Path)
}

// CrawlDelay returns the crawl-delay declared for the configured user-agent
// at the URL's origin, or 0 when robots.txt declares none.
func (a *Agent) CrawlDelay(ctx context.Context, rawURL string) time.Duration {
	if !a.respect {
		return 0
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	group := a.findGroup(a.load(ctx, parsed))
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

func (a *Agent) findGroup(data *robotstxt.RobotsData) *robotstxt.Group {
	group := data.FindGroup(a.userAgent)
	if group == nil {
		group = data.FindGroup("*")
	}
	return group
}

// load returns the current robots.txt snapshot for the URL's origin. Every
// outcome is cached for the TTL, including fetch failures, which are stored
// as allow-all so a failing origin is asked for robots.txt once per TTL
// rather than once per query.
func (a *Agent) load(ctx context.Context, parsed *url.URL) *robotstxt.RobotsData {
	originKey := strings.ToLower(parsed.Scheme + "://" + parsed.Host)

	a.mu.RLock()
	entry, ok := a.cache[originKey]
	if ok && a.clock.Now().Sub(entry.fetched) < a.ttl {
		a.mu.RUnlock()
		return entry.data
	}
	a.mu.RUnlock()

	data, err := a.fetch(ctx, parsed)
	if err != nil {
		a.logger.Warn("robots fetch failed; caching allow-all snapshot",
			zap.String("host", parsed.Host), zap.Error(err))
		data = allowAll
	}

	a.mu.Lock()
	a.cache[originKey] = cacheEntry{fetched: a.clock.Now(), data: data}
	a.mu.Unlock()
	return data
}

func (a *Agent) fetch(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := parsed.Scheme + "://" + parsed.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			a.logger.Debug("close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	// FromStatusAndBytes yields allow-all for 404 and deny-all for 401/403.
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

// Purge evicts the cached snapshot for an origin.
func (a *Agent) Purge(origin string) {
	key := strings.ToLower(strings.TrimSpace(origin))
	if key == "" {
		return
	}
	a.mu.Lock()
	delete(a.cache, key)
	a.mu.Unlock()
}
