// Package progress keeps a live, concurrency-safe snapshot of a reindex run
// for status endpoints. The driver updates it from its own goroutine while
// HTTP handlers read it.
package progress
