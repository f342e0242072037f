package progress

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/explorer-reindexer/internal/reindex"
)

// LastAttempt summarises the most recent request.
type LastAttempt struct {
	App        string    `json:"app"`
	Resource   string    `json:"resource"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	StatusCode int       `json:"status_code"`
	Outcome    string    `json:"outcome"`
	ElapsedMs  int64     `json:"elapsed_ms"`
	At         time.Time `json:"at"`
}

// Snapshot is the JSON view of a run.
type Snapshot struct {
	RunID      string       `json:"run_id,omitempty"`
	State      string       `json:"state"`
	BaseURL    string       `json:"base_url,omitempty"`
	Targets    []string     `json:"targets,omitempty"`
	StepDays   int          `json:"step_days,omitempty"`
	Cursor     string       `json:"cursor,omitempty"`
	Passes     int          `json:"passes"`
	Requests   int          `json:"requests"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	AuthLost   bool         `json:"auth_lost"`
	Last       *LastAttempt `json:"last_attempt,omitempty"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// StateIdle is reported before the driver starts.
const StateIdle = "idle"

// Tracker implements reindex.Recorder by folding notifications into a Snapshot.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker returns an idle Tracker.
func NewTracker() *Tracker {
	return &Tracker{snap: Snapshot{State: StateIdle}}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := t.snap
	snap.Targets = append([]string(nil), t.snap.Targets...)
	if t.snap.Last != nil {
		last := *t.snap.Last
		snap.Last = &last
	}
	return snap
}

// RunStarted implements reindex.Recorder.
func (t *Tracker) RunStarted(_ context.Context, info reindex.RunInfo) error {
	targets := make([]string, 0, len(info.Targets))
	for _, target := range info.Targets {
		targets = append(targets, target.String())
	}
	started := info.StartedAt
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap = Snapshot{
		RunID:     info.ID,
		State:     string(reindex.StopRunning),
		BaseURL:   info.BaseURL,
		Targets:   targets,
		StepDays:  info.StepDays,
		Cursor:    info.Start.Format(reindex.DateLayout),
		StartedAt: &started,
	}
	return nil
}

// AttemptDone implements reindex.Recorder.
func (t *Tracker) AttemptDone(_ context.Context, attempt reindex.Attempt) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Requests++
	switch attempt.Outcome {
	case reindex.OutcomeSuccess:
		t.snap.Succeeded++
	case reindex.OutcomeAuthLost:
		t.snap.AuthLost = true
	default:
		t.snap.Failed++
	}
	t.snap.Last = &LastAttempt{
		App:        attempt.Target.App,
		Resource:   attempt.Target.Resource,
		From:       attempt.Window.FromStamp(),
		To:         attempt.Window.ToStamp(),
		StatusCode: attempt.StatusCode,
		Outcome:    string(attempt.Outcome),
		ElapsedMs:  attempt.Elapsed.Milliseconds(),
		At:         attempt.RequestedAt,
	}
	return nil
}

// PassDone implements reindex.Recorder.
func (t *Tracker) PassDone(_ context.Context, pass reindex.Pass) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Passes = pass.Number
	t.snap.Cursor = pass.NextCursor.Format(reindex.DateLayout)
	return nil
}

// RunFinished implements reindex.Recorder.
func (t *Tracker) RunFinished(_ context.Context, result reindex.Result) error {
	finished := result.FinishedAt
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.State = string(result.Reason)
	t.snap.Passes = result.Passes
	t.snap.Cursor = result.Cursor.Format(reindex.DateLayout)
	t.snap.FinishedAt = &finished
	return nil
}
