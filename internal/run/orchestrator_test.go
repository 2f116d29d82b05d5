package run

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/performa-app/performa-crawler/internal/scrape"
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	fail  map[string]error
	hits  map[string]int
	clock scrape.Clock
}

func newFakeFetcher(clock scrape.Clock) *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string]string),
		fail:  make(map[string]error),
		hits:  make(map[string]int),
		clock: clock,
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (scrape.Document, error) {
	if err := ctx.Err(); err != nil {
		return scrape.Document{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[url]++
	if err, ok := f.fail[url]; ok {
		return scrape.Document{}, err
	}
	body, ok := f.pages[url]
	if !ok {
		return scrape.Document{}, &scrape.FetchError{URL: url, Kind: scrape.FetchNotFound, StatusCode: 404}
	}
	return scrape.Document{
		URL:         url,
		StatusCode:  200,
		Body:        []byte(body),
		RetrievedAt: f.clock.Now(),
	}, nil
}

func (f *fakeFetcher) hitCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[url]
}

type fakeStore struct {
	mu      sync.Mutex
	teams   map[string][]scrape.Team
	players map[string][]scrape.Player
	stats   map[string]map[string]scrape.StatSeries
	failOn  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		teams:   make(map[string][]scrape.Team),
		players: make(map[string][]scrape.Player),
		stats:   make(map[string]map[string]scrape.StatSeries),
	}
}

func (s *fakeStore) ReplaceTeams(ctx context.Context, sport string, teams []scrape.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == "teams" {
		return fmt.Errorf("store unavailable")
	}
	s.teams[sport] = append([]scrape.Team(nil), teams...)
	return nil
}

func (s *fakeStore) ReplacePlayers(ctx context.Context, sport string, players []scrape.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == "players" {
		return fmt.Errorf("store unavailable")
	}
	s.players[sport] = append([]scrape.Player(nil), players...)
	return nil
}

func (s *fakeStore) UpsertStatSeries(ctx context.Context, playerID string, series map[string]scrape.StatSeries, supersede bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats[playerID] == nil || supersede {
		s.stats[playerID] = make(map[string]scrape.StatSeries)
	}
	for metric, points := range series {
		s.stats[playerID][metric] = append(scrape.StatSeries(nil), points...)
	}
	return nil
}

func (s *fakeStore) Teams(ctx context.Context, sport string) ([]scrape.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teams[sport], nil
}

func (s *fakeStore) Players(ctx context.Context, sport string) ([]scrape.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.players[sport], nil
}

func (s *fakeStore) PlayerStats(ctx context.Context, playerID string) (map[string]scrape.StatSeries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats[playerID], nil
}

const testBaseURL = "https://stats.example.com"

func testSource() Source {
	return Source{
		BaseURL:    testBaseURL,
		LeaguePath: "/sport/basketball/nba",
		League:     "NBA",
	}
}

func indexPage(teamIDs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="league-home-page__teams">`)
	for _, id := range teamIDs {
		fmt.Fprintf(&b, `<a href="/sport/basketball/nba/teams/%s"><h4>Team %s</h4></a>`, id, strings.ToUpper(id))
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func rosterPage(playerIDs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body>`)
	for _, id := range playerIDs {
		fmt.Fprintf(&b,
			`<div class="team-roster__player"><a href="/sport/basketball/nba/players/%s">Player %s</a>`+
				`<span class="team-roster__player-position">G</span></div>`,
			id, strings.ToUpper(id))
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func playerPage(points float64) string {
	return fmt.Sprintf(`<html><body>
<div class="player-card__info">
  <span class="player-card__label">Position</span><span class="player-card__value">Point Guard</span>
  <span class="player-card__label">Height</span><span class="player-card__value">6-3</span>
  <span class="player-card__label">Weight</span><span class="player-card__value">195 lbs</span>
</div>
<table class="sortable-stats-table">
  <thead><tr><th>Date</th><th>PTS</th><th>AST</th></tr></thead>
  <tbody>
    <tr><td>2026-02-01</td><td>%.0f</td><td>7</td></tr>
    <tr><td>2026-02-03</td><td>%.0f</td><td>9</td></tr>
  </tbody>
</table>
</body></html>`, points, points+2)
}

// seedOrigin wires a two-team, three-player origin into the fetcher.
func seedOrigin(f *fakeFetcher) {
	f.pages[testBaseURL+"/sport/basketball/nba/players"] = indexPage("lal", "bos")
	f.pages[testBaseURL+"/sport/basketball/nba/teams/lal"] = rosterPage("p1", "p2")
	f.pages[testBaseURL+"/sport/basketball/nba/teams/bos"] = rosterPage("p3")
	f.pages[testBaseURL+"/sport/basketball/nba/players/p1"] = playerPage(20)
	f.pages[testBaseURL+"/sport/basketball/nba/players/p2"] = playerPage(14)
	f.pages[testBaseURL+"/sport/basketball/nba/players/p3"] = playerPage(31)
}

func newTestOrchestrator(f *fakeFetcher, store *fakeStore, clock scrape.Clock) *Orchestrator {
	return NewOrchestrator(f, store, NewTracker(clock), testSource(), Config{Workers: 2}, nil)
}

func TestOrchestratorFullPipeline(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fetcher := newFakeFetcher(clock)
	seedOrigin(fetcher)
	store := newFakeStore()
	orch := newTestOrchestrator(fetcher, store, clock)

	runID, err := orch.Run(context.Background(), "basketball")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	status := orch.tracker.Snapshot()
	require.Equal(t, scrape.RunStateSucceeded, status.State)
	require.Equal(t, 2, status.Counters.TeamsProcessed)
	require.Equal(t, 3, status.Counters.PlayersProcessed)
	require.Zero(t, status.Counters.Failures())

	teams, err := store.Teams(context.Background(), "basketball")
	require.NoError(t, err)
	require.Len(t, teams, 2)
	require.Equal(t, "NBA", teams[0].League)

	players, err := store.Players(context.Background(), "basketball")
	require.NoError(t, err)
	require.Len(t, players, 3)
	for _, p := range players {
		require.Equal(t, "basketball", p.Sport)
		require.Equal(t, "Point Guard", p.DetailedPosition)
		require.Equal(t, "6-3", p.Height)
	}

	stats, err := store.PlayerStats(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, scrape.StatSeries{
		{Date: "2026-02-01", Value: 20},
		{Date: "2026-02-03", Value: 22},
	}, stats["pts"])
}

func TestOrchestratorContainsPlayerFailure(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fetcher := newFakeFetcher(clock)
	seedOrigin(fetcher)
	delete(fetcher.pages, testBaseURL+"/sport/basketball/nba/players/p2")
	store := newFakeStore()
	orch := newTestOrchestrator(fetcher, store, clock)

	_, err := orch.Run(context.Background(), "basketball")
	require.NoError(t, err)

	status := orch.tracker.Snapshot()
	require.Equal(t, scrape.RunStateSucceeded, status.State)
	require.Equal(t, 2, status.Counters.PlayersProcessed)
	require.Equal(t, 1, status.Counters.PlayersFailed)

	// The failed player keeps its roster record, just without enrichment.
	players, err := store.Players(context.Background(), "basketball")
	require.NoError(t, err)
	require.Len(t, players, 3)
	for _, p := range players {
		if p.ID == "p2" {
			require.Empty(t, p.Height)
		}
	}

	stats, err := store.PlayerStats(context.Background(), "p2")
	require.NoError(t, err)
	require.Empty(t, stats)
}

func TestOrchestratorContainsTeamFailure(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fetcher := newFakeFetcher(clock)
	seedOrigin(fetcher)
	fetcher.fail[testBaseURL+"/sport/basketball/nba/teams/bos"] = scrape.ErrPolicyDenied
	store := newFakeStore()
	orch := newTestOrchestrator(fetcher, store, clock)

	_, err := orch.Run(context.Background(), "basketball")
	require.NoError(t, err)

	status := orch.tracker.Snapshot()
	require.Equal(t, scrape.RunStateSucceeded, status.State)
	require.Equal(t, 1, status.Counters.TeamsProcessed)
	require.Equal(t, 1, status.Counters.TeamsFailed)

	players, err := store.Players(context.Background(), "basketball")
	require.NoError(t, err)
	require.Len(t, players, 2)
}

func TestOrchestratorIndexFailureFailsRun(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fetcher := newFakeFetcher(clock)
	store := newFakeStore()
	orch := newTestOrchestrator(fetcher, store, clock)

	_, err := orch.Run(context.Background(), "basketball")
	require.Error(t, err)

	status := orch.tracker.Snapshot()
	require.Equal(t, scrape.RunStateFailed, status.State)
	require.Contains(t, status.LastError, "fetch team index")

	teams, err := store.Teams(context.Background(), "basketball")
	require.NoError(t, err)
	require.Empty(t, teams)
}

func TestOrchestratorStoreCommitFailureFailsRun(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fetcher := newFakeFetcher(clock)
	seedOrigin(fetcher)
	store := newFakeStore()
	store.failOn = "teams"
	orch := newTestOrchestrator(fetcher, store, clock)

	_, err := orch.Run(context.Background(), "basketball")
	require.Error(t, err)
	require.Contains(t, err.Error(), "commit teams")
	require.Equal(t, scrape.RunStateFailed, orch.tracker.Snapshot().State)
}

func TestOrchestratorSecondConcurrentRunRejected(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fetcher := newFakeFetcher(clock)
	seedOrigin(fetcher)
	orch := newTestOrchestrator(fetcher, newFakeStore(), clock)

	_, err := orch.tracker.Begin("basketball")
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), "basketball")
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.Zero(t, fetcher.hitCount(testBaseURL+"/sport/basketball/nba/players"))
}

func TestOrchestratorDoubleRunIsIdempotent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fetcher := newFakeFetcher(clock)
	seedOrigin(fetcher)
	store := newFakeStore()
	orch := newTestOrchestrator(fetcher, store, clock)

	_, err := orch.Run(context.Background(), "basketball")
	require.NoError(t, err)
	firstPlayers, err := store.Players(context.Background(), "basketball")
	require.NoError(t, err)
	firstStats, err := store.PlayerStats(context.Background(), "p1")
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), "basketball")
	require.NoError(t, err)
	secondPlayers, err := store.Players(context.Background(), "basketball")
	require.NoError(t, err)
	secondStats, err := store.PlayerStats(context.Background(), "p1")
	require.NoError(t, err)

	require.ElementsMatch(t, firstPlayers, secondPlayers)
	require.Equal(t, firstStats, secondStats)
}

func TestOrchestratorCancellationFailsRun(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fetcher := newFakeFetcher(clock)
	seedOrigin(fetcher)
	orch := newTestOrchestrator(fetcher, newFakeStore(), clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.Run(ctx, "basketball")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, scrape.RunStateFailed, orch.tracker.Snapshot().State)
}

func TestOrchestratorStartRunsAsynchronously(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fetcher := newFakeFetcher(clock)
	seedOrigin(fetcher)
	store := newFakeStore()
	orch := newTestOrchestrator(fetcher, store, clock)

	runID, err := orch.Start(context.Background(), "basketball")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		return orch.tracker.Snapshot().State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, scrape.RunStateSucceeded, orch.tracker.Snapshot().State)
}
