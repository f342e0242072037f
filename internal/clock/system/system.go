// Package system provides the wall clock used to decide what "today" is.
package system

import "time"

// Clock implements reindex.Clock using time.Now in a fixed location.
type Clock struct {
	loc *time.Location
}

// New creates a Clock in the process's local time zone, the zone operators
// reason about when they pass --start.
func New() *Clock {
	return NewIn(time.Local)
}

// NewIn creates a Clock reporting times in loc.
func NewIn(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.Local
	}
	return &Clock{loc: loc}
}

// Location returns the zone the clock reports in.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}
