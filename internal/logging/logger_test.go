// Package logging includes tests for the zap logger helpers.
package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// TestNewDebugLogger confirms the debug logger builds and enables debug.
func TestNewDebugLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level to be enabled")
	}
}

// TestNewInfoLogger ensures the default logger drops debug entries.
func TestNewInfoLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level to be disabled")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info level to be enabled")
	}
}

func TestIsTruthy(t *testing.T) {
	t.Parallel()

	for _, v := range []string{"true", "True", "y", "Y"} {
		if !IsTruthy(v) {
			t.Errorf("IsTruthy(%q) = false, want true", v)
		}
	}
	for _, v := range []string{"", "false", "TRUE", "yes", "1", "n"} {
		if IsTruthy(v) {
			t.Errorf("IsTruthy(%q) = true, want false", v)
		}
	}
}
