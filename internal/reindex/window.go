package reindex

import (
	"fmt"
	"time"
)

const (
	// DateLayout is the accepted --start format.
	DateLayout = "2006-01-02"
	// StampLayout is the HHmm-ddMMyyyy format the explorer expects in from/to.
	StampLayout = "1504-02012006"
)

// Window is the half-open interval [From, To) sent with one request.
type Window struct {
	From time.Time
	To   time.Time
}

// NewWindow starts a window at cursor and spans stepDays calendar days.
func NewWindow(cursor time.Time, stepDays int) Window {
	return Window{From: cursor, To: cursor.AddDate(0, 0, stepDays)}
}

// FromStamp formats the window start for the query string.
func (w Window) FromStamp() string {
	return w.From.Format(StampLayout)
}

// ToStamp formats the window end for the query string.
func (w Window) ToStamp() string {
	return w.To.Format(StampLayout)
}

// ParseStart parses a yyyy-MM-dd day at midnight in loc.
func ParseStart(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidStart, value)
	}
	return t, nil
}

// Day truncates t to midnight of its calendar day in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ResumeCursor returns where a resumed run should begin. The checkpoint is
// only used when the range it covers starts at or before start and reaches
// past it; otherwise windows from start on were never requested.
func ResumeCursor(start time.Time, checkpoint Checkpoint, found bool) time.Time {
	if !found || checkpoint.Start.IsZero() {
		return start
	}
	if checkpoint.Start.After(start) || !checkpoint.Next.After(start) {
		return start
	}
	return checkpoint.Next
}
