// Package system exercises the real-time clock adapter.
package system

import (
	"testing"
	"time"
)

// TestClockNowInLocation ensures the clock reports in its configured zone.
func TestClockNowInLocation(t *testing.T) {
	t.Parallel()

	clk := NewIn(time.UTC)
	requireNotNil(t, clk)

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockDefaultsToLocal checks New and a nil location fall back to time.Local.
func TestClockDefaultsToLocal(t *testing.T) {
	t.Parallel()

	if loc := New().Location(); loc != time.Local {
		t.Fatalf("expected time.Local, got %v", loc)
	}
	if loc := NewIn(nil).Location(); loc != time.Local {
		t.Fatalf("expected time.Local for nil location, got %v", loc)
	}
}

// TestClockNowMonotonic checks successive timestamps are non-decreasing.
func TestClockNowMonotonic(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	if second.Before(first) {
		t.Fatalf("expected second call %v to be >= first %v", second, first)
	}
}

func requireNotNil(t *testing.T, v any) {
	t.Helper()
	if v == nil {
		t.Fatal("expected value to be non-nil")
	}
}
