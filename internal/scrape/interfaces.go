package scrape

import (
	"context"
	"time"
)

// Fetcher retrieves a URL through the politeness stack (robots, cache,
// rate limiter) and returns the raw document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Document, error)
}

// CatalogStore owns the durable lifetime of normalized records. Replace
// operations swap a sport's records wholesale at a stage commit; stat series
// merge append-only unless the run supersedes them.
type CatalogStore interface {
	ReplaceTeams(ctx context.Context, sport string, teams []Team) error
	ReplacePlayers(ctx context.Context, sport string, players []Player) error
	UpsertStatSeries(ctx context.Context, playerID string, series map[string]StatSeries, supersede bool) error

	Teams(ctx context.Context, sport string) ([]Team, error)
	Players(ctx context.Context, sport string) ([]Player, error)
	PlayerStats(ctx context.Context, playerID string) (map[string]StatSeries, error)
}

// Clock returns the current time (swappable for tests).
type Clock interface {
	Now() time.Time
}
