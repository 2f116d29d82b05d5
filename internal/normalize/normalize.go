// Package normalize maps raw fetched documents into canonical Team, Player,
// and StatSeries records. All functions are pure: same document in, same
// records out, with ParseError on structurally unexpected input.
package normalize

import (
	"bytes"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/performa-app/performa-crawler/internal/scrape"
)

// Stage names used in ParseError and failure counters.
const (
	StageTeams  = "teams"
	StageRoster = "roster"
	StageStats  = "stats"
)

var dateLayouts = []string{
	"2006-01-02",
	"Jan 2, 2006",
	"Jan 2 2006",
	"01/02/2006",
	"1/2/2006",
}

// TeamIndex extracts the league's teams from the index page.
func TeamIndex(doc scrape.Document, league string) ([]scrape.Team, error) {
	root, err := parse(doc, StageTeams)
	if err != nil {
		return nil, err
	}

	var teams []scrape.Team
	root.Find("div.league-home-page__teams a").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || !strings.Contains(href, "/teams/") {
			return
		}
		id := lastPathSegment(href)
		if id == "" {
			return
		}
		name := strings.TrimSpace(sel.Find("h4").First().Text())
		if name == "" {
			name = strings.TrimSpace(sel.Text())
		}
		if name == "" {
			return
		}
		teams = append(teams, scrape.Team{ID: id, Name: name, League: league})
	})

	if len(teams) == 0 {
		return nil, scrape.NewParseError(StageTeams, "no team links found in index page %s", doc.URL)
	}
	return teams, nil
}

// Roster extracts a team's players from its roster page.
func Roster(doc scrape.Document, team scrape.Team, sport string) ([]scrape.Player, error) {
	root, err := parse(doc, StageRoster)
	if err != nil {
		return nil, err
	}

	var players []scrape.Player
	root.Find("div.team-roster__player").Each(func(_ int, sel *goquery.Selection) {
		link := sel.Find("a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		id := lastPathSegment(href)
		name := strings.TrimSpace(link.Text())
		if id == "" || name == "" {
			return
		}
		players = append(players, scrape.Player{
			ID:       id,
			Name:     name,
			TeamID:   team.ID,
			Position: strings.TrimSpace(sel.Find(".team-roster__player-position").First().Text()),
			Sport:    sport,
		})
	})

	if len(players) == 0 {
		return nil, scrape.NewParseError(StageRoster, "no roster entries found for team %s in %s", team.ID, doc.URL)
	}
	return players, nil
}

// PlayerStats extracts per-metric series from a player's statistics page.
// Each stat table must carry a date column; remaining numeric columns become
// metrics. Series are ascending by date with one point per date (last wins).
func PlayerStats(doc scrape.Document) (map[string]scrape.StatSeries, error) {
	root, err := parse(doc, StageStats)
	if err != nil {
		return nil, err
	}

	tables := root.Find("table.sortable-stats-table")
	if tables.Length() == 0 {
		return nil, scrape.NewParseError(StageStats, "no stat tables found in %s", doc.URL)
	}

	// metric -> date -> value
	byMetric := make(map[string]map[string]float64)
	var tableErr error
	tables.EachWithBreak(func(_ int, table *goquery.Selection) bool {
		headers := tableHeaders(table)
		dateCol := indexOfDateColumn(headers)
		if dateCol < 0 {
			tableErr = scrape.NewParseError(StageStats, "stat table without date column in %s", doc.URL)
			return false
		}
		table.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() <= dateCol {
				return
			}
			date, ok := parseDate(strings.TrimSpace(cells.Eq(dateCol).Text()))
			if !ok {
				return
			}
			cells.Each(func(i int, cell *goquery.Selection) {
				if i == dateCol || i >= len(headers) {
					return
				}
				metric := metricName(headers[i])
				if metric == "" {
					return
				}
				value, err := strconv.ParseFloat(strings.TrimSpace(cell.Text()), 64)
				if err != nil {
					return
				}
				if byMetric[metric] == nil {
					byMetric[metric] = make(map[string]float64)
				}
				byMetric[metric][date] = value
			})
		})
		return true
	})
	if tableErr != nil {
		return nil, tableErr
	}

	series := make(map[string]scrape.StatSeries, len(byMetric))
	for metric, points := range byMetric {
		s := make(scrape.StatSeries, 0, len(points))
		for date, value := range points {
			s = append(s, scrape.StatPoint{Date: date, Value: value})
		}
		sort.Slice(s, func(i, j int) bool { return s[i].Date < s[j].Date })
		series[metric] = s
	}
	if len(series) == 0 {
		return nil, scrape.NewParseError(StageStats, "stat tables carried no parsable rows in %s", doc.URL)
	}
	return series, nil
}

// EnrichPlayer fills in detail fields from the player page when present.
// Missing details are not an error.
func EnrichPlayer(doc scrape.Document, player *scrape.Player) {
	root, err := parse(doc, StageStats)
	if err != nil {
		return
	}
	info := root.Find(".player-card__info").First()
	if info.Length() == 0 {
		return
	}
	info.Find(".player-card__label").Each(func(_ int, label *goquery.Selection) {
		value := strings.TrimSpace(label.NextFiltered(".player-card__value").Text())
		if value == "" {
			return
		}
		switch strings.ToLower(strings.TrimSpace(label.Text())) {
		case "position":
			player.DetailedPosition = value
		case "height":
			player.Height = value
		case "weight":
			player.Weight = value
		}
	})
}

func parse(doc scrape.Document, stage string) (*goquery.Document, error) {
	if len(doc.Body) == 0 {
		return nil, scrape.NewParseError(stage, "empty document body for %s", doc.URL)
	}
	root, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, scrape.NewParseError(stage, "unparsable HTML in %s: %v", doc.URL, err)
	}
	return root, nil
}

func tableHeaders(table *goquery.Selection) []string {
	var headers []string
	table.Find("thead th").Each(func(_ int, th *goquery.Selection) {
		headers = append(headers, strings.TrimSpace(th.Text()))
	})
	return headers
}

func indexOfDateColumn(headers []string) int {
	for i, h := range headers {
		if strings.EqualFold(h, "date") {
			return i
		}
	}
	return -1
}

func metricName(header string) string {
	return strings.ToLower(strings.TrimSpace(header))
}

func parseDate(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

func lastPathSegment(href string) string {
	href = strings.TrimSuffix(href, "/")
	if i := strings.Index(href, "?"); i >= 0 {
		href = href[:i]
	}
	if i := strings.LastIndex(href, "/"); i >= 0 {
		return href[i+1:]
	}
	return href
}
