// Package app initializes and holds the services of one reindexer invocation,
// acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/explorer-reindexer/internal/api"
	"github.com/JakeFAU/explorer-reindexer/internal/clock/system"
	"github.com/JakeFAU/explorer-reindexer/internal/config"
	"github.com/JakeFAU/explorer-reindexer/internal/explorer"
	"github.com/JakeFAU/explorer-reindexer/internal/id/uuid"
	"github.com/JakeFAU/explorer-reindexer/internal/metrics"
	"github.com/JakeFAU/explorer-reindexer/internal/policy/ratelimit"
	"github.com/JakeFAU/explorer-reindexer/internal/progress"
	"github.com/JakeFAU/explorer-reindexer/internal/reindex"
	"github.com/JakeFAU/explorer-reindexer/internal/store"
	"github.com/JakeFAU/explorer-reindexer/internal/store/sqlite"
)

// Clock is the wall clock of a run; its location decides what "today" is and
// how --start is interpreted.
type Clock interface {
	reindex.Clock
	Location() *time.Location
}

// IDGenerator mints run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Option customises App construction.
type Option func(*App)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithIDGenerator replaces the UUIDv7 generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(a *App) { a.ids = g }
}

// App holds the shared services of a run: the logger, the run tracker, the
// metrics registry, the optional run history and the optional status server.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	clock   Clock
	ids     IDGenerator
	metrics *metrics.Recorder
	tracker *progress.Tracker
	history store.History
	server  *api.Server

	statusAddr string
}

// NewApp creates the services cfg asks for. It fails fast if the history
// database cannot be opened or the status server cannot listen.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rec, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	a := &App{
		cfg:     cfg,
		logger:  logger,
		clock:   system.New(),
		ids:     uuid.New(),
		metrics: rec,
		tracker: progress.NewTracker(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if cfg.Checkpoint.Path != "" {
		history, err := sqlite.Open(ctx, cfg.Checkpoint.Path)
		if err != nil {
			return nil, fmt.Errorf("open run history: %w", err)
		}
		a.history = history
		logger.Debug("Recording runs", zap.String("path", cfg.Checkpoint.Path))
	}

	if cfg.Metrics.Addr != "" {
		a.server = api.NewServer(a.tracker, rec.Handler(), logger, api.WithRequestObserver(rec))
		addr, err := a.server.Start(cfg.Metrics.Addr)
		if err != nil {
			_ = a.closeHistory()
			return nil, fmt.Errorf("start status server: %w", err)
		}
		a.statusAddr = addr
	}
	return a, nil
}

// Tracker exposes the live run snapshot.
func (a *App) Tracker() *progress.Tracker {
	return a.tracker
}

// StatusAddr is the bound address of the status server, empty when disabled.
func (a *App) StatusAddr() string {
	return a.statusAddr
}

// Recorder fans driver notifications out to every enabled sink.
func (a *App) Recorder() reindex.Recorder {
	return reindex.Recorders{a.tracker, a.metrics, a.history}
}

// Reindex runs the driver with the configured targets. An unparsable start
// date is logged and returned before any request is sent.
func (a *App) Reindex(ctx context.Context) (reindex.Result, error) {
	loc := a.clock.Location()
	start, err := reindex.ParseStart(a.cfg.Start, loc)
	if err != nil {
		a.logger.Error("Invalid date format. Please use yyyy-MM-dd.", zap.String("start", a.cfg.Start))
		return reindex.Result{Reason: reindex.StopAborted}, err
	}

	targets, unknown := reindex.SelectTargets(a.cfg.Targets, a.cfg.Apps)
	if len(unknown) > 0 {
		a.logger.Warn("Ignoring unknown applications", zap.Strings("apps", unknown))
	}
	if len(targets) == 0 {
		a.logger.Warn("No application selected, nothing will be reindexed", zap.String("apps", a.cfg.Apps))
	}

	if a.cfg.Checkpoint.Resume && a.history != nil {
		key := reindex.CheckpointKey(a.cfg.URL, targets)
		checkpoint, found, err := a.history.LoadCheckpoint(ctx, key, loc)
		if err != nil {
			return reindex.Result{Reason: reindex.StopAborted}, fmt.Errorf("load checkpoint: %w", err)
		}
		resumed := reindex.ResumeCursor(start, checkpoint, found)
		switch {
		case !resumed.Equal(start):
			a.logger.Info("Resuming from checkpoint",
				zap.String("start", start.Format(reindex.DateLayout)),
				zap.String("checkpoint", resumed.Format(reindex.DateLayout)))
		case found:
			a.logger.Info("Checkpoint does not cover the start date, reindexing from it",
				zap.String("start", start.Format(reindex.DateLayout)),
				zap.String("checkpoint_start", formatDay(checkpoint.Start)),
				zap.String("checkpoint_next", formatDay(checkpoint.Next)))
		}
		start = resumed
	}

	runID, err := a.ids.NewID()
	if err != nil {
		return reindex.Result{Reason: reindex.StopAborted}, fmt.Errorf("generate run id: %w", err)
	}

	client, err := explorer.New(explorer.Config{
		BaseURL:   a.cfg.URL,
		Token:     a.cfg.Auth,
		UserAgent: a.cfg.HTTP.UserAgent,
		Timeout:   a.cfg.HTTP.Timeout,
	})
	if err != nil {
		return reindex.Result{Reason: reindex.StopAborted}, fmt.Errorf("init explorer client: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{RPS: a.cfg.HTTP.Rate, Burst: 1}, a.metrics)
	driver := reindex.NewDriver(ratelimit.Wrap(client, limiter), a.clock, a.Recorder(), a.logger)
	return driver.Run(ctx, reindex.Plan{
		RunID:    runID,
		BaseURL:  a.cfg.URL,
		Start:    start,
		StepDays: a.cfg.Step,
		Targets:  targets,
	})
}

// Close shuts the status server down, writes the metrics textfile and closes
// the run history. It returns the joined errors of those steps.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.cfg.Metrics.File != "" {
		if err := a.metrics.WriteTextfile(a.cfg.Metrics.File); err != nil {
			errs = append(errs, err)
		} else {
			a.logger.Debug("Wrote metrics textfile", zap.String("path", a.cfg.Metrics.File))
		}
	}
	if err := a.closeHistory(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeHistory() error {
	if a.history == nil {
		return nil
	}
	err := a.history.Close()
	a.history = nil
	return err
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format(reindex.DateLayout)
}
