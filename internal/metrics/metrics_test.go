package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/explorer-reindexer/internal/reindex"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestRecorderCountsRun(t *testing.T) {
	t.Parallel()

	rec, err := New()
	require.NoError(t, err)

	ctx := context.Background()
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	blog := reindex.Target{App: "blog", Resource: "blog"}
	window := reindex.NewWindow(start, 7)

	require.NoError(t, rec.RunStarted(ctx, reindex.RunInfo{ID: "run-1", BaseURL: "https://ENT.example.org", Start: start}))
	require.NoError(t, rec.AttemptDone(ctx, reindex.Attempt{
		Target: blog, Window: window, StatusCode: 200, Outcome: reindex.OutcomeSuccess,
		Elapsed: 250 * time.Millisecond, Batches: 3, Messages: 30,
	}))
	require.NoError(t, rec.AttemptDone(ctx, reindex.Attempt{
		Target: blog, Window: window, StatusCode: 500, Outcome: reindex.OutcomeFailed, Elapsed: time.Second, Batches: 9,
	}))
	require.NoError(t, rec.PassDone(ctx, reindex.Pass{Number: 1, Window: window, NextCursor: window.To}))
	require.NoError(t, rec.RunFinished(ctx, reindex.Result{Reason: reindex.StopCompleted}))

	require.Equal(t, 1.0, testutil.ToFloat64(rec.requestsTotal.WithLabelValues("blog", "blog", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(rec.requestsTotal.WithLabelValues("blog", "blog", "failed")))
	require.Equal(t, 3.0, testutil.ToFloat64(rec.batchesTotal.WithLabelValues("blog", "blog")))
	require.Equal(t, 30.0, testutil.ToFloat64(rec.messagesTotal.WithLabelValues("blog", "blog")))
	require.Equal(t, 1.0, testutil.ToFloat64(rec.passesTotal))
	require.Equal(t, float64(window.To.Unix()), testutil.ToFloat64(rec.cursorTimestamp))
	require.Equal(t, 1.0, testutil.ToFloat64(rec.runInfo.WithLabelValues("run-1", "ent.example.org")))
	require.Equal(t, 1.0, testutil.ToFloat64(rec.runFinished.WithLabelValues("completed")))
	require.Equal(t, 1, testutil.CollectAndCount(rec.requestDuration))
}

func TestRecordersAreIsolated(t *testing.T) {
	t.Parallel()

	first, err := New()
	require.NoError(t, err)
	second, err := New()
	require.NoError(t, err)

	require.NoError(t, first.PassDone(context.Background(), reindex.Pass{}))
	require.Equal(t, 1.0, testutil.ToFloat64(first.passesTotal))
	require.Equal(t, 0.0, testutil.ToFloat64(second.passesTotal))
}

func TestHandlerAndTextfile(t *testing.T) {
	t.Parallel()

	rec, err := New()
	require.NoError(t, err)
	require.NoError(t, rec.PassDone(context.Background(), reindex.Pass{}))

	srv := httptest.NewRecorder()
	rec.Handler().ServeHTTP(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, srv.Code)
	require.Contains(t, srv.Body.String(), "reindex_passes_total 1")

	path := filepath.Join(t.TempDir(), "reindex.prom")
	require.NoError(t, rec.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), "reindex_passes_total 1"))

	require.Error(t, rec.WriteTextfile(filepath.Join(t.TempDir(), "missing", "reindex.prom")))
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}

func TestObserveHTTPRequest(t *testing.T) {
	t.Parallel()

	rec, err := New()
	require.NoError(t, err)
	rec.ObserveHTTPRequest(http.MethodGet, "/status", http.StatusOK, 15*time.Millisecond)
	rec.ObserveHTTPRequest(http.MethodGet, "/status", http.StatusOK, 5*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(rec.httpRequestsTotal.WithLabelValues(http.MethodGet, "/status", "200")))
	require.Equal(t, 1, testutil.CollectAndCount(rec.httpRequestDuration))
}

func TestObserveRateLimitDelay(t *testing.T) {
	t.Parallel()

	rec, err := New()
	require.NoError(t, err)
	rec.ObserveRateLimitDelay(200 * time.Millisecond)
	require.Equal(t, 1, testutil.CollectAndCount(rec.rateLimitDelay))
}
