// Package reindex implements the explorer reindex driver: it walks a date
// cursor from a start day to today in fixed steps and asks the explorer
// backend to rebuild its index for every selected target and window, stopping
// as soon as the session cookie is rejected.
package reindex
