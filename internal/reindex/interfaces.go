package reindex

import (
	"context"
	"time"
)

// Client sends one reindex request for target over window.
type Client interface {
	Reindex(ctx context.Context, target Target, window Window) (Response, error)
}

// Clock returns the current time; its location defines what "today" means.
type Clock interface {
	Now() time.Time
}

// Recorder observes a run. Errors are logged by the driver and never stop it.
type Recorder interface {
	RunStarted(ctx context.Context, info RunInfo) error
	AttemptDone(ctx context.Context, attempt Attempt) error
	PassDone(ctx context.Context, pass Pass) error
	RunFinished(ctx context.Context, result Result) error
}
