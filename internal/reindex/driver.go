package reindex

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Driver runs the reindex loop. It is not safe for concurrent use; a run
// issues one request at a time.
type Driver struct {
	client   Client
	clock    Clock
	recorder Recorder
	logger   *zap.Logger
}

// NewDriver wires a Driver. recorder and logger may be nil.
func NewDriver(client Client, clock Clock, recorder Recorder, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = Recorders(nil)
	}
	return &Driver{
		client:   client,
		clock:    clock,
		recorder: recorder,
		logger:   logger,
	}
}

// Run walks the cursor from plan.Start to today, inclusive, requesting every
// target once per window. It returns ErrAuthLost as soon as the backend
// answers 302, and the wrapped transport error if a request cannot be sent.
// Other statuses are logged and skipped.
func (d *Driver) Run(ctx context.Context, plan Plan) (Result, error) {
	if plan.StepDays <= 0 {
		return Result{RunID: plan.RunID, Reason: StopAborted}, fmt.Errorf("%w: %d", ErrInvalidStep, plan.StepDays)
	}
	today := Day(d.clock.Now())
	result := Result{
		RunID:     plan.RunID,
		Reason:    StopRunning,
		Cursor:    plan.Start,
		StartedAt: d.clock.Now(),
	}
	logger := d.logger.With(zap.String("run_id", plan.RunID))

	d.record(logger, "run start", d.recorder.RunStarted(ctx, RunInfo{
		ID:        plan.RunID,
		BaseURL:   plan.BaseURL,
		Targets:   plan.Targets,
		Start:     plan.Start,
		StepDays:  plan.StepDays,
		StartedAt: result.StartedAt,
	}))

	cursor := plan.Start
	for !cursor.After(today) {
		window := NewWindow(cursor, plan.StepDays)
		for _, target := range plan.Targets {
			if err := ctx.Err(); err != nil {
				return d.finish(ctx, logger, result, StopAborted), fmt.Errorf("reindex interrupted: %w", err)
			}
			stop, err := d.request(ctx, logger, plan.RunID, target, window, &result)
			if err != nil {
				return d.finish(ctx, logger, result, StopAborted), err
			}
			if stop {
				logger.Error("Stopping reindex because the script lost its credentials",
					zap.String("app", target.App),
					zap.String("resource", target.Resource),
					zap.Int("requests", result.Requests))
				return d.finish(ctx, logger, result, StopAuthLost), ErrAuthLost
			}
		}
		result.Passes++
		cursor = window.To
		result.Cursor = cursor
		d.record(logger, "pass", d.recorder.PassDone(ctx, Pass{
			RunID:      plan.RunID,
			Number:     result.Passes,
			Window:     window,
			NextCursor: cursor,
		}))
	}
	return d.finish(ctx, logger, result, StopCompleted), nil
}

// request sends one reindex call and reports whether the run must stop.
func (d *Driver) request(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	target Target,
	window Window,
	result *Result,
) (bool, error) {
	fields := []zap.Field{
		zap.String("app", target.App),
		zap.String("resource", target.Resource),
		zap.Time("from", window.From),
	}
	logger.Debug("Start reindex", fields...)

	requestedAt := d.clock.Now()
	resp, err := d.client.Reindex(ctx, target, window)
	if err != nil {
		return false, fmt.Errorf("reindex %s from %s: %w", target, window.FromStamp(), err)
	}
	result.Requests++

	outcome := Classify(resp.StatusCode)
	fields = append(fields, zap.Int64("elapsed_ms", resp.Elapsed.Milliseconds()))
	switch outcome {
	case OutcomeSuccess:
		result.Succeeded++
		logger.Info("Reindex request succeeded", append(fields,
			zap.Int("batches", resp.Batches),
			zap.Int("messages", resp.Messages))...)
	case OutcomeAuthLost:
		logger.Info("Reindex request redirected, the script is not authenticated anymore", fields...)
	default:
		result.Failed++
		logger.Warn("Reindex request failed", append(fields, zap.Int("status", resp.StatusCode))...)
	}

	d.record(logger, "attempt", d.recorder.AttemptDone(ctx, Attempt{
		RunID:       runID,
		Target:      target,
		Window:      window,
		StatusCode:  resp.StatusCode,
		Outcome:     outcome,
		Elapsed:     resp.Elapsed,
		Batches:     resp.Batches,
		Messages:    resp.Messages,
		RequestedAt: requestedAt,
	}))
	return outcome == OutcomeAuthLost, nil
}

func (d *Driver) finish(ctx context.Context, logger *zap.Logger, result Result, reason StopReason) Result {
	result.Reason = reason
	result.FinishedAt = d.clock.Now()
	// The run context may already be cancelled; recorders still get the final state.
	d.record(logger, "run finish", d.recorder.RunFinished(context.WithoutCancel(ctx), result))
	logger.Info("Reindex run finished",
		zap.String("reason", string(reason)),
		zap.Int("passes", result.Passes),
		zap.Int("requests", result.Requests),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Time("cursor", result.Cursor),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)))
	return result
}

func (d *Driver) record(logger *zap.Logger, event string, err error) {
	if err != nil {
		logger.Warn("run recorder failed", zap.String("event", event), zap.Error(err))
	}
}
