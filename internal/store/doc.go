// Package store defines the run history types and the interface the CLI
// depends on. Implementations live in sub-packages; this package must not
// import database drivers.
package store
