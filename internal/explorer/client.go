// Package explorer sends reindex requests to the ENT explorer backend using
// a colly collector.
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/explorer-reindexer/internal/reindex"
)

// SessionCookie is the cookie carrying the ENT session.
const SessionCookie = "oneSessionId"

const defaultTimeout = 60 * time.Second

// Config controls collector behavior.
type Config struct {
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration
}

// Client implements reindex.Client on top of a colly collector.
type Client struct {
	cfg           Config
	baseURL       string
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client. Redirects are never followed so that a login
// redirect reaches the driver as a 302.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid explorer base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	// The session travels in an explicit Cookie header; a jar would mix in
	// whatever the login redirect sets.
	c.DisableCookies()
	c.SetRedirectHandler(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	})

	return &Client{
		cfg:           cfg,
		baseURL:       base,
		baseCollector: c,
	}, nil
}

// URL builds the reindex endpoint for target over window.
func (c *Client) URL(target reindex.Target, window reindex.Window) string {
	return fmt.Sprintf("%s/explorer/reindex/%s/%s?include_folders=true&drop=false&from=%s&to=%s",
		c.baseURL,
		url.PathEscape(target.App),
		url.PathEscape(target.Resource),
		url.QueryEscape(window.FromStamp()),
		url.QueryEscape(window.ToStamp()),
	)
}

// Reindex executes a single GET and reports its status and wall-clock duration.
// Any HTTP status is a response; only transport failures are errors.
func (c *Client) Reindex(ctx context.Context, target reindex.Target, window reindex.Window) (reindex.Response, error) {
	var (
		result   reindex.Response
		fetchErr error
	)
	collector := c.baseCollector.Clone()
	start := time.Now()
	c.configureCollectorHooks(collector, start, &result, &fetchErr)

	if err := c.runCollector(ctx, collector, c.URL(target, window), &fetchErr); err != nil {
		return reindex.Response{}, err
	}
	if result.Elapsed == 0 {
		result.Elapsed = time.Since(start)
	}
	return result, nil
}

func (c *Client) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *reindex.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Cookie", SessionCookie+"="+c.cfg.Token)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = reindex.Response{
			StatusCode: r.StatusCode,
			Elapsed:    time.Since(start),
		}
		if r.StatusCode == http.StatusOK {
			result.Batches, result.Messages = decodeCounters(r.Body)
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		*fetchErr = err
	})
}

func (c *Client) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("reindex request canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("reindex request failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("reindex response failed: %w", *fetchErr)
		}
		return nil
	}
}

// indexResponse is the body the explorer returns on success.
type indexResponse struct {
	NbBatch   int `json:"nbBatch"`
	NbMessage int `json:"nbMessage"`
}

func decodeCounters(body []byte) (int, int) {
	var payload indexResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, 0
	}
	return payload.NbBatch, payload.NbMessage
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
	}
}
