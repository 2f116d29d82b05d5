// Package main hosts the scraper service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, run control, and catalog read endpoints. POST /v1/runs
//     starts at most one crawl run at a time; GET /v1/status reports progress without blocking it.
//   - Crawl pipeline: internal/run.Orchestrator drives three stages (team index, rosters, player statistics) over a
//     fixed worker pool sized by config.Crawler.Concurrency. A single team's or player's failure is counted and
//     skipped; only team discovery or a store commit failure fails the run.
//   - Politeness stack: every request passes through internal/fetch.Fetcher, which consults the robots.txt agent
//     (TTL-cached per origin), the response cache (freshness window plus ETag/Last-Modified revalidation), and the
//     per-origin rate limiter (crawl-delay aware, escalating on 429/503) before touching the network.
//   - Persistence: normalized teams, players, and stat series land in the catalog store at stage boundaries. The
//     in-memory catalog is the default; Postgres via pgx is enabled with db.enabled and a DSN.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via /metrics.
//
// Operational notes:
//   - Concurrency model: bounded worker pool per stage; network concurrency at the origin collapses to the origin's
//     crawl-delay because all workers share one rate limiter. Shutdown is coordinated via context cancellation from
//     main through the orchestrator.
//   - Rate limiting/backoff: crawl-delay from robots.txt sets the pacing floor; throttle responses double the
//     effective delay up to a cap, decaying after sustained success. Retry-After headers are honored on top.
//   - Observability: zap logs carry run IDs and entity IDs at key transitions; Prometheus counters track pages,
//     retries, cache lookups, run outcomes, and entity failures.
//
// Quick checklist:
//   - Configure env vars: PERFORMA_SERVER_PORT, PERFORMA_SOURCE_BASE_URL, PERFORMA_SOURCE_LEAGUE_PATH,
//     PERFORMA_CRAWLER_CONCURRENCY, PERFORMA_ROBOTS_RESPECT, and PERFORMA_DB_DSN when persistence beyond memory is
//     required.
//   - Run locally: go run ./cmd/scraperd -config config.yaml (or rely solely on env overrides).
package main
