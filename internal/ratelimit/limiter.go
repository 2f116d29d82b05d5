// Package ratelimit paces requests per origin, serializing callers so that
// consecutive requests to one origin are never closer than the effective
// delay. Server backpressure escalates the delay; sustained success decays it
// back toward the configured floor.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/performa-app/performa-crawler/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// MinDelay is the global floor between requests to one origin.
	MinDelay time.Duration
	// BackoffFactor multiplies the effective delay on a throttle signal.
	BackoffFactor float64
	// MaxEscalation caps the escalation multiplier.
	MaxEscalation float64
	// DecayAfter is the number of consecutive successes before the
	// escalation is reduced by one BackoffFactor step.
	DecayAfter int
}

func (c Config) withDefaults() Config {
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 2
	}
	if c.MaxEscalation <= 1 {
		c.MaxEscalation = 10
	}
	if c.DecayAfter <= 0 {
		c.DecayAfter = 5
	}
	return c
}

// Limiter manages per-origin pacing state.
type Limiter struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	origins map[string]*originState
}

type originState struct {
	limiter   *rate.Limiter
	baseDelay time.Duration // max(crawl-delay, MinDelay)
	factor    float64       // escalation multiplier, >= 1
	successes int
}

// New creates a Limiter.
func New(cfg Config, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		origins: make(map[string]*originState),
	}
}

// Acquire blocks until a request to the origin is permitted, respecting the
// context. Concurrent callers for the same origin are serialized.
func (l *Limiter) Acquire(ctx context.Context, origin string) error {
	state := l.state(origin)

	l.mu.Lock()
	limiter := state.limiter
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(hostOf(origin), waited)
	}
	return nil
}

// SetCrawlDelay feeds the robots crawl-delay for an origin. The effective
// base delay is the larger of the crawl-delay and the configured floor.
func (l *Limiter) SetCrawlDelay(origin string, d time.Duration) {
	state := l.state(origin)

	l.mu.Lock()
	defer l.mu.Unlock()
	base := d
	if base < l.cfg.MinDelay {
		base = l.cfg.MinDelay
	}
	if base == state.baseDelay {
		return
	}
	state.baseDelay = base
	state.limiter.SetLimit(limitFor(state))
}

// ReportSuccess records a non-throttled response. After DecayAfter
// consecutive successes an escalated delay is stepped back down.
func (l *Limiter) ReportSuccess(origin string) {
	state := l.state(origin)

	l.mu.Lock()
	defer l.mu.Unlock()
	if state.factor <= 1 {
		return
	}
	state.successes++
	if state.successes < l.cfg.DecayAfter {
		return
	}
	state.successes = 0
	state.factor /= l.cfg.BackoffFactor
	if state.factor < 1 {
		state.factor = 1
	}
	state.limiter.SetLimit(limitFor(state))
	l.logger.Debug("rate limit decayed",
		zap.String("origin", origin),
		zap.Float64("factor", state.factor))
}

// ReportThrottled records a 429 or Retry-After 503 from the origin and
// escalates the effective delay.
func (l *Limiter) ReportThrottled(origin string) {
	state := l.state(origin)

	l.mu.Lock()
	defer l.mu.Unlock()
	state.successes = 0
	state.factor *= l.cfg.BackoffFactor
	if state.factor > l.cfg.MaxEscalation {
		state.factor = l.cfg.MaxEscalation
	}
	state.limiter.SetLimit(limitFor(state))
	l.logger.Warn("rate limit escalated",
		zap.String("origin", origin),
		zap.Float64("factor", state.factor),
		zap.Duration("effective_delay", effectiveDelay(state)))
}

// EffectiveDelay reports the current minimum spacing for an origin.
func (l *Limiter) EffectiveDelay(origin string) time.Duration {
	state := l.state(origin)
	l.mu.Lock()
	defer l.mu.Unlock()
	return effectiveDelay(state)
}

func (l *Limiter) state(origin string) *originState {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.origins[origin]
	if !ok {
		state = &originState{baseDelay: l.cfg.MinDelay, factor: 1}
		state.limiter = rate.NewLimiter(limitFor(state), 1)
		l.origins[origin] = state
	}
	return state
}

func effectiveDelay(state *originState) time.Duration {
	return time.Duration(float64(state.baseDelay) * state.factor)
}

func limitFor(state *originState) rate.Limit {
	d := effectiveDelay(state)
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

func hostOf(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return origin
	}
	return u.Hostname()
}
