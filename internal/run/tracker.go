// Package run drives the crawl pipeline and tracks its lifecycle.
package run

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/performa-app/performa-crawler/internal/metrics"
	"github.com/performa-app/performa-crawler/internal/scrape"
)

// ErrAlreadyRunning is returned by Begin while a run is in progress.
var ErrAlreadyRunning = errors.New("a crawl run is already in progress")

// Tracker holds the status of the current or most recent crawl run.
// At most one run is live at a time; Begin is a compare-and-swap on the
// running state and Snapshot never blocks on an in-flight run.
type Tracker struct {
	mu     sync.Mutex
	clock  scrape.Clock
	status scrape.RunStatus
}

// NewTracker creates a Tracker in the idle state.
func NewTracker(clock scrape.Clock) *Tracker {
	return &Tracker{
		clock:  clock,
		status: scrape.RunStatus{State: scrape.RunStateIdle},
	}
}

// Begin transitions the tracker to running and returns the new run ID.
// It fails with ErrAlreadyRunning if a run is in progress; a finished run's
// status is discarded when the next one begins.
func (t *Tracker) Begin(sport string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.State == scrape.RunStateRunning {
		return "", ErrAlreadyRunning
	}

	now := t.clock.Now()
	t.status = scrape.RunStatus{
		RunID:     uuid.NewString(),
		Sport:     sport,
		State:     scrape.RunStateRunning,
		StartedAt: &now,
	}
	return t.status.RunID, nil
}

// Snapshot returns a copy of the current status.
func (t *Tracker) Snapshot() scrape.RunStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.status
	if s.StartedAt != nil {
		started := *s.StartedAt
		s.StartedAt = &started
	}
	if s.FinishedAt != nil {
		finished := *s.FinishedAt
		s.FinishedAt = &finished
	}
	return s
}

// Commit folds a completed stage's counters into the run totals.
func (t *Tracker) Commit(delta scrape.RunCounters) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.State != scrape.RunStateRunning {
		return
	}
	t.status.Counters.TeamsProcessed += delta.TeamsProcessed
	t.status.Counters.TeamsFailed += delta.TeamsFailed
	t.status.Counters.PlayersProcessed += delta.PlayersProcessed
	t.status.Counters.PlayersFailed += delta.PlayersFailed
	t.status.Counters.StatsFailed += delta.StatsFailed
}

// Finish moves the run to its terminal state. A nil err means the run
// succeeded; partial entity failures are carried in the counters, not here.
// Calling Finish on an already terminal tracker is a no-op.
func (t *Tracker) Finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.State != scrape.RunStateRunning {
		return
	}

	now := t.clock.Now()
	t.status.FinishedAt = &now
	if err != nil {
		t.status.State = scrape.RunStateFailed
		t.status.LastError = err.Error()
	} else {
		t.status.State = scrape.RunStateSucceeded
		t.status.LastError = ""
	}
	metrics.ObserveRunFinished(string(t.status.State))
}
