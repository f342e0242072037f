package reindex

import (
	"net/http"
	"strings"
	"time"
)

// Target is an (application, resource type) pair the explorer knows how to reindex.
type Target struct {
	App      string `json:"app" mapstructure:"app"`
	Resource string `json:"resource" mapstructure:"resource"`
}

// String renders the target as resource@app, the form used in log lines.
func (t Target) String() string {
	return t.Resource + "@" + t.App
}

// DefaultTargets lists the applications reindexed when no explicit mapping is configured.
func DefaultTargets() []Target {
	return []Target{
		{App: "blog", Resource: "blog"},
		{App: "exercizer", Resource: "subject"},
		{App: "mindmap", Resource: "mindmap"},
	}
}

// Outcome classifies a single reindex response.
type Outcome string

// Outcome values.
const (
	OutcomeSuccess  Outcome = "success"
	OutcomeAuthLost Outcome = "auth_lost"
	OutcomeFailed   Outcome = "failed"
)

// Classify maps an HTTP status to an Outcome. Only 200 counts as success and
// a 302 means the backend redirected us to its login page.
func Classify(status int) Outcome {
	switch status {
	case http.StatusOK:
		return OutcomeSuccess
	case http.StatusFound:
		return OutcomeAuthLost
	default:
		return OutcomeFailed
	}
}

// StopReason explains why a run left the RUNNING state.
type StopReason string

// StopReason values.
const (
	StopRunning   StopReason = "running"
	StopCompleted StopReason = "completed"
	StopAuthLost  StopReason = "auth_lost"
	StopAborted   StopReason = "aborted"
)

// Response is what the explorer client reports for one request.
type Response struct {
	StatusCode int
	Elapsed    time.Duration
	// Batches and Messages echo the nbBatch/nbMessage counters of a 200 body
	// when it could be decoded.
	Batches  int
	Messages int
}

// Plan describes one run of the driver.
type Plan struct {
	RunID    string
	BaseURL  string
	Start    time.Time
	StepDays int
	Targets  []Target
}

// RunInfo is handed to recorders when a run begins.
type RunInfo struct {
	ID        string
	BaseURL   string
	Targets   []Target
	Start     time.Time
	StepDays  int
	StartedAt time.Time
}

// Attempt is the record of one reindex request.
type Attempt struct {
	RunID       string
	Target      Target
	Window      Window
	StatusCode  int
	Outcome     Outcome
	Elapsed     time.Duration
	Batches     int
	Messages    int
	RequestedAt time.Time
}

// Pass is reported after every target was requested for one window.
type Pass struct {
	RunID      string
	Number     int
	Window     Window
	NextCursor time.Time
}

// Result summarises a finished run.
type Result struct {
	RunID      string
	Reason     StopReason
	Passes     int
	Requests   int
	Succeeded  int
	Failed     int
	Cursor     time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Checkpoint records how far contiguous reindexing of one key has got:
// every window in [Start, Next) was requested by completed passes.
type Checkpoint struct {
	Start time.Time
	Next  time.Time
}

// CheckpointKey identifies a resumable run: the same backend and the same
// ordered target set.
func CheckpointKey(baseURL string, targets []Target) string {
	parts := make([]string, 0, len(targets))
	for _, t := range targets {
		parts = append(parts, t.App+"/"+t.Resource)
	}
	return strings.TrimRight(baseURL, "/") + "|" + strings.Join(parts, ",")
}
