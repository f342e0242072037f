package reindex

import "errors"

var (
	// ErrInvalidStart is returned when the start date is not yyyy-MM-dd.
	ErrInvalidStart = errors.New("invalid start date, expected yyyy-MM-dd")
	// ErrInvalidStep is returned for a non-positive step.
	ErrInvalidStep = errors.New("step must be a positive number of days")
	// ErrAuthLost is returned when the backend stops accepting the session cookie.
	ErrAuthLost = errors.New("session is no longer authenticated")
)
