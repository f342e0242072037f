package store

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/explorer-reindexer/internal/reindex"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunRecord models the runs table for the `runs` listing.
type RunRecord struct {
	ID       string
	BaseURL  string
	Targets  []reindex.Target
	Start    time.Time
	StepDays int
	// Status is running until the run finishes, then its stop reason.
	Status   reindex.StopReason

	Passes    int
	Requests  int
	Succeeded int
	Failed    int

	// Cursor is the next cursor date after the last completed pass.
	Cursor     time.Time
	StartedAt  time.Time
	// FinishedAt is nil while the run is still marked running.
	FinishedAt *time.Time
}

// History persists runs, attempts and resume checkpoints.
type History interface {
	reindex.Recorder

	// LoadCheckpoint returns the contiguous range recorded for key, with dates
	// parsed in loc. found is false when no pass was ever completed for key.
	LoadCheckpoint(ctx context.Context, key string, loc *time.Location) (checkpoint reindex.Checkpoint, found bool, err error)
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, id string) (RunRecord, error)
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	// Close releases the underlying database.
	Close() error
}
