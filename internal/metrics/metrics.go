// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperPagesTotal        *prometheus.CounterVec
	scraperRetriesTotal      *prometheus.CounterVec
	scraperCacheLookupsTotal *prometheus.CounterVec
	scraperRunsTotal         *prometheus.CounterVec
	scraperEntityFailures    *prometheus.CounterVec
	scraperRateDelaySeconds  *prometheus.HistogramVec
	scraperActiveWorkers     prometheus.Gauge
	scraperPolicyDeniedTotal *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		scraperPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_pages_total",
				Help: "Total pages fetched, labeled by origin and status class.",
			},
			[]string{"origin", "status"},
		)

		scraperRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_retries_total",
				Help: "Total fetch retries, labeled by origin.",
			},
			[]string{"origin"},
		)

		scraperCacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_cache_lookups_total",
				Help: "Response cache lookups, labeled by result (hit, stale, miss).",
			},
			[]string{"result"},
		)

		scraperRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_runs_total",
				Help: "Total crawl runs, labeled by terminal state.",
			},
			[]string{"state"},
		)

		scraperEntityFailures = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_entity_failures_total",
				Help: "Entity-level failures that were skipped, labeled by stage.",
			},
			[]string{"stage"},
		)

		scraperRateDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delay_seconds",
				Help:    "Histogram of rate limiter wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"origin"},
		)

		scraperActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of stage workers currently processing an entity.",
			},
		)

		scraperPolicyDeniedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_policy_denied_total",
				Help: "Fetches refused by robots policy, labeled by origin.",
			},
			[]string{"origin"},
		)
	})
}

// SanitizeOrigin extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeOrigin(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage records a completed page fetch.
func ObservePage(origin string, statusCode int) {
	if scraperPagesTotal == nil {
		return
	}
	scraperPagesTotal.WithLabelValues(origin, statusClass(statusCode)).Inc()
}

// ObserveRetry records a fetch retry.
func ObserveRetry(origin string) {
	if scraperRetriesTotal == nil {
		return
	}
	scraperRetriesTotal.WithLabelValues(origin).Inc()
}

// ObserveCacheLookup records a cache lookup result ("hit", "stale", "miss").
func ObserveCacheLookup(result string) {
	if scraperCacheLookupsTotal == nil {
		return
	}
	scraperCacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveRunFinished records a terminal run state.
func ObserveRunFinished(state string) {
	if scraperRunsTotal == nil {
		return
	}
	scraperRunsTotal.WithLabelValues(state).Inc()
}

// ObserveEntityFailure records a skipped entity for a stage.
func ObserveEntityFailure(stage string) {
	if scraperEntityFailures == nil {
		return
	}
	scraperEntityFailures.WithLabelValues(stage).Inc()
}

// ObserveRateLimitDelay records time spent waiting on the rate limiter.
func ObserveRateLimitDelay(origin string, d time.Duration) {
	if scraperRateDelaySeconds == nil {
		return
	}
	scraperRateDelaySeconds.WithLabelValues(origin).Observe(d.Seconds())
}

// WorkerStarted increments the active worker gauge.
func WorkerStarted() {
	if scraperActiveWorkers != nil {
		scraperActiveWorkers.Inc()
	}
}

// WorkerFinished decrements the active worker gauge.
func WorkerFinished() {
	if scraperActiveWorkers != nil {
		scraperActiveWorkers.Dec()
	}
}

// ObservePolicyDenied records a robots refusal.
func ObservePolicyDenied(origin string) {
	if scraperPolicyDeniedTotal == nil {
		return
	}
	scraperPolicyDeniedTotal.WithLabelValues(origin).Inc()
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
