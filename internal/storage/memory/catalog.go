// Package memory provides an in-memory catalog store for development and
// testing.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/performa-app/performa-crawler/internal/scrape"
)

// Catalog is an in-memory scrape.CatalogStore. Replace calls swap a sport's
// records wholesale; stat series merge by date unless superseded.
type Catalog struct {
	mu      sync.RWMutex
	teams   map[string][]scrape.Team
	players map[string][]scrape.Player
	stats   map[string]map[string]scrape.StatSeries
}

// NewCatalog constructs an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		teams:   make(map[string][]scrape.Team),
		players: make(map[string][]scrape.Player),
		stats:   make(map[string]map[string]scrape.StatSeries),
	}
}

// ReplaceTeams swaps the stored team list for a sport.
func (c *Catalog) ReplaceTeams(_ context.Context, sport string, teams []scrape.Team) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teams[sport] = append([]scrape.Team(nil), teams...)
	return nil
}

// ReplacePlayers swaps the stored player list for a sport.
func (c *Catalog) ReplacePlayers(_ context.Context, sport string, players []scrape.Player) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.players[sport] = append([]scrape.Player(nil), players...)
	return nil
}

// UpsertStatSeries merges new points into a player's series. Points for an
// already stored date overwrite that date's value; with supersede set the
// incoming series replace the stored ones entirely.
func (c *Catalog) UpsertStatSeries(
	_ context.Context,
	playerID string,
	series map[string]scrape.StatSeries,
	supersede bool,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing := c.stats[playerID]
	if existing == nil || supersede {
		existing = make(map[string]scrape.StatSeries, len(series))
	}
	for metric, points := range series {
		existing[metric] = mergeSeries(existing[metric], points)
	}
	c.stats[playerID] = existing
	return nil
}

// Teams returns the stored teams for a sport.
func (c *Catalog) Teams(_ context.Context, sport string) ([]scrape.Team, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]scrape.Team(nil), c.teams[sport]...), nil
}

// Players returns the stored players for a sport.
func (c *Catalog) Players(_ context.Context, sport string) ([]scrape.Player, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]scrape.Player(nil), c.players[sport]...), nil
}

// PlayerStats returns the stored series for a player keyed by metric.
func (c *Catalog) PlayerStats(_ context.Context, playerID string) (map[string]scrape.StatSeries, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stored := c.stats[playerID]
	out := make(map[string]scrape.StatSeries, len(stored))
	for metric, points := range stored {
		out[metric] = append(scrape.StatSeries(nil), points...)
	}
	return out, nil
}

// mergeSeries folds incoming points into a stored series, keeping the
// ascending-by-date, one-point-per-date invariant. Incoming values win on
// date collisions.
func mergeSeries(stored, incoming scrape.StatSeries) scrape.StatSeries {
	byDate := make(map[string]float64, len(stored)+len(incoming))
	for _, p := range stored {
		byDate[p.Date] = p.Value
	}
	for _, p := range incoming {
		byDate[p.Date] = p.Value
	}

	merged := make(scrape.StatSeries, 0, len(byDate))
	for date, value := range byDate {
		merged = append(merged, scrape.StatPoint{Date: date, Value: value})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date < merged[j].Date })
	return merged
}
