// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/performa-app/performa-crawler/internal/scrape"
)

var validTablePrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// CatalogConfig controls the Postgres connection pool backing the catalog.
type CatalogConfig struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Catalog is a Postgres-backed scrape.CatalogStore. Replace operations run
// in a transaction so readers never observe a half-swapped sport.
type Catalog struct {
	pool   pgxPool
	prefix string
}

// NewCatalog connects a pool and returns a Catalog using the provided config.
func NewCatalog(ctx context.Context, cfg CatalogConfig) (*Catalog, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	if cfg.TablePrefix != "" && !validTablePrefix.MatchString(cfg.TablePrefix) {
		return nil, fmt.Errorf("invalid table prefix %q", cfg.TablePrefix)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Catalog{pool: pool, prefix: cfg.TablePrefix}, nil
}

// NewCatalogWithPool constructs a Catalog from an existing pool (primarily
// for testing).
func NewCatalogWithPool(pool pgxPool, tablePrefix string) (*Catalog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if tablePrefix != "" && !validTablePrefix.MatchString(tablePrefix) {
		return nil, fmt.Errorf("invalid table prefix %q", tablePrefix)
	}
	return &Catalog{pool: pool, prefix: tablePrefix}, nil
}

// Close releases the underlying pool resources.
func (c *Catalog) Close() {
	if c == nil || c.pool == nil {
		return
	}
	c.pool.Close()
}

func (c *Catalog) table(name string) string {
	return c.prefix + name
}

// ReplaceTeams swaps the stored team list for a sport.
func (c *Catalog) ReplaceTeams(ctx context.Context, sport string, teams []scrape.Team) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace teams: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE sport = $1`, c.table("teams")), sport,
	); err != nil {
		return fmt.Errorf("clear teams: %w", err)
	}
	for _, team := range teams {
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (id, sport, name, league) VALUES ($1, $2, $3, $4)`, c.table("teams")),
			team.ID, sport, team.Name, team.League,
		); err != nil {
			return fmt.Errorf("insert team %s: %w", team.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace teams: %w", err)
	}
	return nil
}

// ReplacePlayers swaps the stored player list for a sport.
func (c *Catalog) ReplacePlayers(ctx context.Context, sport string, players []scrape.Player) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace players: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE sport = $1`, c.table("players")), sport,
	); err != nil {
		return fmt.Errorf("clear players: %w", err)
	}
	for _, p := range players {
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`
INSERT INTO %s (id, sport, name, team_id, position, detailed_position, height, weight)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, c.table("players")),
			p.ID, sport, p.Name, p.TeamID, p.Position, p.DetailedPosition, p.Height, p.Weight,
		); err != nil {
			return fmt.Errorf("insert player %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace players: %w", err)
	}
	return nil
}

// UpsertStatSeries merges new points into a player's stored series. Existing
// dates are overwritten; with supersede set the player's series are cleared
// first.
func (c *Catalog) UpsertStatSeries(
	ctx context.Context,
	playerID string,
	series map[string]scrape.StatSeries,
	supersede bool,
) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert stats: %w", err)
	}
	defer tx.Rollback(ctx)

	if supersede {
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE player_id = $1`, c.table("stat_points")), playerID,
		); err != nil {
			return fmt.Errorf("clear stats: %w", err)
		}
	}

	metrics := make([]string, 0, len(series))
	for metric := range series {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	query := fmt.Sprintf(`
INSERT INTO %s (player_id, metric, stat_date, value)
VALUES ($1, $2, $3, $4)
ON CONFLICT (player_id, metric, stat_date) DO UPDATE SET value = EXCLUDED.value`,
		c.table("stat_points"))
	for _, metric := range metrics {
		for _, point := range series[metric] {
			if _, err := tx.Exec(ctx, query, playerID, metric, point.Date, point.Value); err != nil {
				return fmt.Errorf("upsert stat %s/%s: %w", metric, point.Date, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert stats: %w", err)
	}
	return nil
}

// Teams returns the stored teams for a sport.
func (c *Catalog) Teams(ctx context.Context, sport string) ([]scrape.Team, error) {
	rows, err := c.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, name, league FROM %s WHERE sport = $1 ORDER BY id`, c.table("teams")),
		sport,
	)
	if err != nil {
		return nil, fmt.Errorf("query teams: %w", err)
	}
	defer rows.Close()

	var teams []scrape.Team
	for rows.Next() {
		var t scrape.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.League); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate teams: %w", err)
	}
	return teams, nil
}

// Players returns the stored players for a sport.
func (c *Catalog) Players(ctx context.Context, sport string) ([]scrape.Player, error) {
	rows, err := c.pool.Query(ctx,
		fmt.Sprintf(`
SELECT id, name, team_id, position, sport, detailed_position, height, weight
FROM %s WHERE sport = $1 ORDER BY id`, c.table("players")),
		sport,
	)
	if err != nil {
		return nil, fmt.Errorf("query players: %w", err)
	}
	defer rows.Close()

	var players []scrape.Player
	for rows.Next() {
		var p scrape.Player
		if err := rows.Scan(
			&p.ID, &p.Name, &p.TeamID, &p.Position, &p.Sport,
			&p.DetailedPosition, &p.Height, &p.Weight,
		); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate players: %w", err)
	}
	return players, nil
}

// PlayerStats returns the stored series for a player keyed by metric.
func (c *Catalog) PlayerStats(ctx context.Context, playerID string) (map[string]scrape.StatSeries, error) {
	rows, err := c.pool.Query(ctx,
		fmt.Sprintf(`
SELECT metric, stat_date, value
FROM %s WHERE player_id = $1 ORDER BY metric, stat_date`, c.table("stat_points")),
		playerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]scrape.StatSeries)
	for rows.Next() {
		var (
			metric string
			point  scrape.StatPoint
		)
		if err := rows.Scan(&metric, &point.Date, &point.Value); err != nil {
			return nil, fmt.Errorf("scan stat point: %w", err)
		}
		stats[metric] = append(stats[metric], point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}
