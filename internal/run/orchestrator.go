package run

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/performa-app/performa-crawler/internal/metrics"
	"github.com/performa-app/performa-crawler/internal/normalize"
	"github.com/performa-app/performa-crawler/internal/scrape"
)

// Source describes the upstream origin being crawled.
type Source struct {
	BaseURL    string
	LeaguePath string
	League     string
}

func (s Source) indexURL() string {
	return s.join(s.LeaguePath, "players")
}

func (s Source) teamURL(id string) string {
	return s.join(s.LeaguePath, "teams", id)
}

func (s Source) playerURL(id string) string {
	return s.join(s.LeaguePath, "players", id)
}

func (s Source) join(parts ...string) string {
	out := strings.TrimRight(s.BaseURL, "/")
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		out += "/" + p
	}
	return out
}

// Config controls Orchestrator behavior.
type Config struct {
	// Workers bounds concurrency in the roster and stats stages.
	Workers int
	// Supersede replaces stored stat series instead of merging into them.
	Supersede bool
}

// Orchestrator drives the three-stage crawl pipeline: team discovery,
// rosters, player statistics. One entity's failure is recorded and skipped;
// only team discovery or a store commit can fail the run. Normalized records
// reach the store at stage boundaries, never mid-stage.
type Orchestrator struct {
	fetcher scrape.Fetcher
	store   scrape.CatalogStore
	tracker *Tracker
	source  Source
	cfg     Config
	logger  *zap.Logger
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(
	fetcher scrape.Fetcher,
	store scrape.CatalogStore,
	tracker *Tracker,
	source Source,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		fetcher: fetcher,
		store:   store,
		tracker: tracker,
		source:  source,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start begins a run and executes it on a new goroutine. The context should
// outlive the request that triggered the run.
func (o *Orchestrator) Start(ctx context.Context, sport string) (string, error) {
	runID, err := o.tracker.Begin(sport)
	if err != nil {
		return "", err
	}
	go func() {
		o.tracker.Finish(o.execute(ctx, runID, sport))
	}()
	return runID, nil
}

// Run executes a run synchronously and returns its terminal error.
func (o *Orchestrator) Run(ctx context.Context, sport string) (string, error) {
	runID, err := o.tracker.Begin(sport)
	if err != nil {
		return "", err
	}
	runErr := o.execute(ctx, runID, sport)
	o.tracker.Finish(runErr)
	return runID, runErr
}

func (o *Orchestrator) execute(ctx context.Context, runID, sport string) error {
	log := o.logger.With(zap.String("run_id", runID), zap.String("sport", sport))
	log.Info("crawl run started", zap.String("index_url", o.source.indexURL()))

	teams, err := o.discoverTeams(ctx, sport, log)
	if err != nil {
		log.Error("team discovery failed", zap.Error(err))
		return err
	}

	players, err := o.crawlRosters(ctx, sport, teams, log)
	if err != nil {
		return err
	}

	if err := o.crawlStats(ctx, sport, players, log); err != nil {
		return err
	}

	log.Info("crawl run finished",
		zap.Int("teams", len(teams)),
		zap.Int("players", len(players)),
	)
	return nil
}

// discoverTeams is the only stage whose failure fails the run; without the
// team index there is nothing downstream to crawl.
func (o *Orchestrator) discoverTeams(ctx context.Context, sport string, log *zap.Logger) ([]scrape.Team, error) {
	doc, err := o.fetcher.Fetch(ctx, o.source.indexURL())
	if err != nil {
		return nil, fmt.Errorf("fetch team index: %w", err)
	}

	teams, err := normalize.TeamIndex(doc, o.source.League)
	if err != nil {
		return nil, fmt.Errorf("parse team index: %w", err)
	}

	if err := o.store.ReplaceTeams(ctx, sport, teams); err != nil {
		return nil, fmt.Errorf("commit teams: %w", err)
	}
	log.Info("team discovery complete", zap.Int("teams", len(teams)))
	return teams, nil
}

func (o *Orchestrator) crawlRosters(ctx context.Context, sport string, teams []scrape.Team, log *zap.Logger) ([]scrape.Player, error) {
	var (
		mu      sync.Mutex
		players []scrape.Player
		delta   scrape.RunCounters
	)

	err := o.forEach(ctx, len(teams), func(ctx context.Context, i int) {
		team := teams[i]
		roster, err := o.fetchRoster(ctx, team, sport)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			delta.TeamsFailed++
			metrics.ObserveEntityFailure(normalize.StageRoster)
			log.Warn("team skipped",
				zap.String("team_id", team.ID),
				zap.Error(err),
			)
			return
		}
		delta.TeamsProcessed++
		players = append(players, roster...)
	})
	o.tracker.Commit(delta)
	if err != nil {
		return nil, err
	}

	if err := o.store.ReplacePlayers(ctx, sport, players); err != nil {
		return nil, fmt.Errorf("commit players: %w", err)
	}
	log.Info("roster stage complete",
		zap.Int("teams_processed", delta.TeamsProcessed),
		zap.Int("teams_failed", delta.TeamsFailed),
		zap.Int("players", len(players)),
	)
	return players, nil
}

func (o *Orchestrator) fetchRoster(ctx context.Context, team scrape.Team, sport string) ([]scrape.Player, error) {
	doc, err := o.fetcher.Fetch(ctx, o.source.teamURL(team.ID))
	if err != nil {
		return nil, err
	}
	return normalize.Roster(doc, team, sport)
}

func (o *Orchestrator) crawlStats(ctx context.Context, sport string, players []scrape.Player, log *zap.Logger) error {
	var (
		mu       sync.Mutex
		enriched = make([]scrape.Player, 0, len(players))
		series   = make(map[string]map[string]scrape.StatSeries)
		delta    scrape.RunCounters
	)

	err := o.forEach(ctx, len(players), func(ctx context.Context, i int) {
		player := players[i]
		doc, err := o.fetcher.Fetch(ctx, o.source.playerURL(player.ID))

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			delta.PlayersFailed++
			metrics.ObserveEntityFailure(normalize.StageStats)
			log.Warn("player skipped",
				zap.String("player_id", player.ID),
				zap.Error(err),
			)
			enriched = append(enriched, player)
			return
		}

		normalize.EnrichPlayer(doc, &player)
		enriched = append(enriched, player)
		delta.PlayersProcessed++

		stats, err := normalize.PlayerStats(doc)
		if err != nil {
			delta.StatsFailed++
			metrics.ObserveEntityFailure(normalize.StageStats)
			log.Warn("player stats unreadable",
				zap.String("player_id", player.ID),
				zap.Error(err),
			)
			return
		}
		series[player.ID] = stats
	})
	o.tracker.Commit(delta)
	if err != nil {
		return err
	}

	if err := o.store.ReplacePlayers(ctx, sport, enriched); err != nil {
		return fmt.Errorf("commit enriched players: %w", err)
	}
	for playerID, stats := range series {
		if err := o.store.UpsertStatSeries(ctx, playerID, stats, o.cfg.Supersede); err != nil {
			return fmt.Errorf("commit stats for player %s: %w", playerID, err)
		}
	}
	log.Info("stats stage complete",
		zap.Int("players_processed", delta.PlayersProcessed),
		zap.Int("players_failed", delta.PlayersFailed),
		zap.Int("stats_failed", delta.StatsFailed),
	)
	return nil
}

// forEach runs fn over item indexes with bounded worker concurrency.
// Workers stop picking up items once the context is canceled; the in-flight
// item is left to observe cancellation through its own fetch.
func (o *Orchestrator) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	work := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < o.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.WorkerStarted()
			defer metrics.WorkerFinished()
			for i := range work {
				if ctx.Err() != nil {
					continue
				}
				fn(ctx, i)
			}
		}()
	}

	for i := 0; i < n; i++ {
		work <- i
	}
	close(work)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}
