package explorer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/explorer-reindexer/internal/reindex"
)

func testWindow(t *testing.T) reindex.Window {
	t.Helper()
	start, err := reindex.ParseStart("2024-01-01", time.UTC)
	require.NoError(t, err)
	return reindex.NewWindow(start, 7)
}

func newTestClient(t *testing.T, baseURL string, timeout time.Duration) *Client {
	t.Helper()
	client, err := New(Config{BaseURL: baseURL, Token: "tok-123", UserAgent: "reindexer-test", Timeout: timeout})
	require.NoError(t, err)
	return client
}

func TestClientReindexSuccess(t *testing.T) {
	t.Parallel()

	var seen atomic.Pointer[http.Request]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Clone(context.Background()))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"nbBatch":2,"nbMessage":40}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, time.Second)
	resp, err := client.Reindex(context.Background(), reindex.Target{App: "exercizer", Resource: "subject"}, testWindow(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, resp.Batches)
	require.Equal(t, 40, resp.Messages)
	require.True(t, resp.Elapsed > 0)

	req := seen.Load()
	require.NotNil(t, req)
	require.Equal(t, http.MethodGet, req.Method)
	require.Equal(t, "/explorer/reindex/exercizer/subject", req.URL.Path)
	require.Equal(t, url.Values{
		"include_folders": {"true"},
		"drop":            {"false"},
		"from":            {"0000-01012024"},
		"to":              {"0000-08012024"},
	}, req.URL.Query())
	cookie, err := req.Cookie(SessionCookie)
	require.NoError(t, err)
	require.Equal(t, "tok-123", cookie.Value)
	require.Equal(t, "reindexer-test", req.UserAgent())
}

func TestClientReindexDoesNotFollowRedirect(t *testing.T) {
	t.Parallel()

	var loginHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/explorer/reindex/blog/blog", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/auth/login", http.StatusFound)
	})
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		loginHits.Add(1)
		_, _ = w.Write([]byte("login page"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL+"/", time.Second)
	resp, err := client.Reindex(context.Background(), reindex.Target{App: "blog", Resource: "blog"}, testWindow(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, reindex.OutcomeAuthLost, reindex.Classify(resp.StatusCode))
	require.Zero(t, loginHits.Load())
}

func TestClientReindexErrorStatusIsAResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, time.Second)
	resp, err := client.Reindex(context.Background(), reindex.Target{App: "blog", Resource: "blog"}, testWindow(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Zero(t, resp.Batches)
}

func TestClientReindexTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := newTestClient(t, srv.URL, 50*time.Millisecond)
	_, err := client.Reindex(context.Background(), reindex.Target{App: "blog", Resource: "blog"}, testWindow(t))
	require.Error(t, err)
}

func TestClientReindexCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	client := newTestClient(t, srv.URL, 5*time.Second)
	_, err := client.Reindex(ctx, reindex.Target{App: "blog", Resource: "blog"}, testWindow(t))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientReindexConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client := newTestClient(t, addr, time.Second)
	_, err := client.Reindex(context.Background(), reindex.Target{App: "blog", Resource: "blog"}, testWindow(t))
	require.Error(t, err)
}

func TestClientURL(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, "https://ent.example.org/", 0)
	got := client.URL(reindex.Target{App: "mindmap", Resource: "mind map"}, testWindow(t))
	require.Equal(t,
		"https://ent.example.org/explorer/reindex/mindmap/mind%20map?include_folders=true&drop=false&from=0000-01012024&to=0000-08012024",
		got)
	require.Equal(t, defaultTimeout, client.cfg.Timeout)
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseURL: "::not a url"})
	require.Error(t, err)
	_, err = New(Config{BaseURL: ""})
	require.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, "https://ent.example.org", time.Second)
	var (
		result   reindex.Response
		fetchErr error
	)
	hooks := &stubHooks{}
	client.configureCollectorHooks(hooks, time.Now(), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "oneSessionId=tok-123", collyReq.Headers.Get("Cookie"))

	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: []byte("not json")})
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Zero(t, result.Batches)

	hooks.onError(nil, nil)
	require.Error(t, fetchErr)
	hooks.onError(nil, errors.New("reset by peer"))
	require.EqualError(t, fetchErr, "reset by peer")
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }
