package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/performa-app/performa-crawler/internal/scrape"
)

func doc(body string) scrape.Document {
	return scrape.Document{URL: "https://example.com/page", Body: []byte(body)}
}

const teamIndexHTML = `
<html><body>
<div class="league-home-page__teams">
  <a href="/sport/basketball/nba/teams/boston-celtics"><h4>Boston Celtics</h4></a>
  <a href="/sport/basketball/nba/teams/la-lakers"><h4>Los Angeles Lakers</h4></a>
  <a href="/sport/basketball/nba/schedule">Schedule</a>
</div>
</body></html>`

func TestTeamIndex(t *testing.T) {
	t.Parallel()

	teams, err := TeamIndex(doc(teamIndexHTML), "nba")
	require.NoError(t, err)
	require.Equal(t, []scrape.Team{
		{ID: "boston-celtics", Name: "Boston Celtics", League: "nba"},
		{ID: "la-lakers", Name: "Los Angeles Lakers", League: "nba"},
	}, teams)
}

func TestTeamIndex_NoTeamsIsParseError(t *testing.T) {
	t.Parallel()

	_, err := TeamIndex(doc("<html><body><p>maintenance</p></body></html>"), "nba")
	var pe *scrape.ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, StageTeams, pe.Stage)

	_, err = TeamIndex(scrape.Document{URL: "https://example.com/empty"}, "nba")
	require.ErrorAs(t, err, &pe)
}

const rosterHTML = `
<html><body>
<div class="team-roster">
  <div class="team-roster__player">
    <a href="/sport/basketball/nba/players/jayson-tatum">Jayson Tatum</a>
    <span class="team-roster__player-position">SF</span>
  </div>
  <div class="team-roster__player">
    <a href="/sport/basketball/nba/players/derrick-white">Derrick White</a>
    <span class="team-roster__player-position">PG</span>
  </div>
  <div class="team-roster__player"><span>no link</span></div>
</div>
</body></html>`

func TestRoster(t *testing.T) {
	t.Parallel()

	team := scrape.Team{ID: "boston-celtics", Name: "Boston Celtics", League: "nba"}
	players, err := Roster(doc(rosterHTML), team, "basketball")
	require.NoError(t, err)
	require.Equal(t, []scrape.Player{
		{ID: "jayson-tatum", Name: "Jayson Tatum", TeamID: "boston-celtics", Position: "SF", Sport: "basketball"},
		{ID: "derrick-white", Name: "Derrick White", TeamID: "boston-celtics", Position: "PG", Sport: "basketball"},
	}, players)
}

func TestRoster_EmptyIsParseError(t *testing.T) {
	t.Parallel()

	team := scrape.Team{ID: "boston-celtics"}
	_, err := Roster(doc("<html><body></body></html>"), team, "basketball")
	var pe *scrape.ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, StageRoster, pe.Stage)
}

const statsHTML = `
<html><body>
<table class="sortable-stats-table">
  <thead><tr><th>Date</th><th>PTS</th><th>REB</th></tr></thead>
  <tbody>
    <tr><td>2026-01-03</td><td>31</td><td>8</td></tr>
    <tr><td>2026-01-01</td><td>27</td><td>10</td></tr>
    <tr><td>2026-01-01</td><td>28</td><td>10</td></tr>
    <tr><td>Jan 5, 2026</td><td>22</td><td>6</td></tr>
    <tr><td>TOTAL</td><td>80</td><td>24</td></tr>
  </tbody>
</table>
</body></html>`

func TestPlayerStats(t *testing.T) {
	t.Parallel()

	series, err := PlayerStats(doc(statsHTML))
	require.NoError(t, err)
	require.Len(t, series, 2)

	// Ascending by date, one point per date, last duplicate wins.
	require.Equal(t, scrape.StatSeries{
		{Date: "2026-01-01", Value: 28},
		{Date: "2026-01-03", Value: 31},
		{Date: "2026-01-05", Value: 22},
	}, series["pts"])
	require.Equal(t, scrape.StatSeries{
		{Date: "2026-01-01", Value: 10},
		{Date: "2026-01-03", Value: 8},
		{Date: "2026-01-05", Value: 6},
	}, series["reb"])
}

func TestPlayerStats_NoTablesIsParseError(t *testing.T) {
	t.Parallel()

	_, err := PlayerStats(doc("<html><body><p>injured</p></body></html>"))
	var pe *scrape.ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, StageStats, pe.Stage)
}

func TestPlayerStats_TableWithoutDateColumnIsParseError(t *testing.T) {
	t.Parallel()

	html := `<html><body><table class="sortable-stats-table">
<thead><tr><th>Season</th><th>PPG</th></tr></thead>
<tbody><tr><td>2025-26</td><td>27.1</td></tr></tbody>
</table></body></html>`
	_, err := PlayerStats(doc(html))
	var pe *scrape.ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, StageStats, pe.Stage)
}

func TestPlayerStats_Deterministic(t *testing.T) {
	t.Parallel()

	first, err := PlayerStats(doc(statsHTML))
	require.NoError(t, err)
	second, err := PlayerStats(doc(statsHTML))
	require.NoError(t, err)
	require.Equal(t, first, second)
}

const playerCardHTML = `
<html><body>
<div class="player-card__info">
  <span class="player-card__label">Position</span><span class="player-card__value">Small Forward</span>
  <span class="player-card__label">Height</span><span class="player-card__value">6-8</span>
  <span class="player-card__label">Weight</span><span class="player-card__value">210 lbs</span>
</div>
</body></html>`

func TestEnrichPlayer(t *testing.T) {
	t.Parallel()

	player := scrape.Player{ID: "jayson-tatum", Position: "SF"}
	EnrichPlayer(doc(playerCardHTML), &player)
	require.Equal(t, "Small Forward", player.DetailedPosition)
	require.Equal(t, "6-8", player.Height)
	require.Equal(t, "210 lbs", player.Weight)

	// No card present leaves the player untouched.
	unchanged := scrape.Player{ID: "x"}
	EnrichPlayer(doc("<html><body></body></html>"), &unchanged)
	require.Equal(t, scrape.Player{ID: "x"}, unchanged)
}
