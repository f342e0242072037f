package reindex

import (
	"context"
	"errors"
)

// Recorders fans every notification out to each non-nil recorder and joins
// their errors.
type Recorders []Recorder

// RunStarted implements Recorder.
func (rs Recorders) RunStarted(ctx context.Context, info RunInfo) error {
	return rs.each(func(r Recorder) error { return r.RunStarted(ctx, info) })
}

// AttemptDone implements Recorder.
func (rs Recorders) AttemptDone(ctx context.Context, attempt Attempt) error {
	return rs.each(func(r Recorder) error { return r.AttemptDone(ctx, attempt) })
}

// PassDone implements Recorder.
func (rs Recorders) PassDone(ctx context.Context, pass Pass) error {
	return rs.each(func(r Recorder) error { return r.PassDone(ctx, pass) })
}

// RunFinished implements Recorder.
func (rs Recorders) RunFinished(ctx context.Context, result Result) error {
	return rs.each(func(r Recorder) error { return r.RunFinished(ctx, result) })
}

func (rs Recorders) each(fn func(Recorder) error) error {
	var errs []error
	for _, r := range rs {
		if r == nil {
			continue
		}
		if err := fn(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
