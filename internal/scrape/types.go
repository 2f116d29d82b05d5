package scrape

import "time"

// Team is the canonical team record produced by the team-discovery stage.
// Immutable once written within a run.
type Team struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	League string `json:"league"`
}

// Player is the canonical player record produced by the roster stage.
// TeamID references a Team without owning it.
type Player struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	TeamID           string `json:"team_id"`
	Position         string `json:"position"`
	Sport            string `json:"sport"`
	DetailedPosition string `json:"detailed_position,omitempty"`
	Height           string `json:"height,omitempty"`
	Weight           string `json:"weight,omitempty"`
}

// StatPoint is a single dated measurement for one metric.
type StatPoint struct {
	Date  string  `json:"date"` // YYYY-MM-DD
	Value float64 `json:"value"`
}

// StatSeries is an ascending-by-date sequence of points for one
// player+metric, with at most one point per date.
type StatSeries []StatPoint

// RunState is the lifecycle state of a crawl run.
type RunState string

// Run states. A new run may only start from a non-Running state.
const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateSucceeded RunState = "succeeded"
	RunStateFailed    RunState = "failed"
)

// Terminal reports whether the state is a finished one.
func (s RunState) Terminal() bool {
	return s == RunStateSucceeded || s == RunStateFailed
}

// RunCounters tracks per-run progress and failure totals.
type RunCounters struct {
	TeamsProcessed   int `json:"teams_processed"`
	TeamsFailed      int `json:"teams_failed"`
	PlayersProcessed int `json:"players_processed"`
	PlayersFailed    int `json:"players_failed"`
	StatsFailed      int `json:"stats_failed"`
}

// Failures returns the total number of entity-level failures.
func (c RunCounters) Failures() int {
	return c.TeamsFailed + c.PlayersFailed + c.StatsFailed
}

// RunStatus is the snapshot of the current or last crawl run.
type RunStatus struct {
	RunID      string      `json:"run_id,omitempty"`
	Sport      string      `json:"sport,omitempty"`
	State      RunState    `json:"state"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Counters   RunCounters `json:"counters"`
	LastError  string      `json:"last_error,omitempty"`
}

// Document is a fetched resource handed to the normalizer.
type Document struct {
	URL         string
	StatusCode  int
	Body        []byte
	RetrievedAt time.Time
	FromCache   bool
}
