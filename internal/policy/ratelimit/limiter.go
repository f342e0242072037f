// Package ratelimit implements a token bucket that paces reindex requests.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/explorer-reindexer/internal/reindex"
)

// DelayObserver is told how long a request waited for a token.
type DelayObserver interface {
	ObserveRateLimitDelay(d time.Duration)
}

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the sustained request rate. Zero or less disables pacing.
	RPS   float64
	Burst int
}

// Limiter paces callers of Wait.
type Limiter struct {
	limiter  *rate.Limiter
	observer DelayObserver
}

// New creates a Limiter. observer may be nil.
func New(cfg Config, observer DelayObserver) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiter:  rate.NewLimiter(r, burst),
		observer: observer,
	}
}

// Wait blocks until a token is available, respecting the context.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Tokens that were available immediately are not worth reporting.
	if d := time.Since(start); d > time.Millisecond && l.observer != nil {
		l.observer.ObserveRateLimitDelay(d)
	}
	return nil
}

// Client is a reindex.Client that waits for a token before each request.
type Client struct {
	next    reindex.Client
	limiter *Limiter
}

// Wrap paces next with l.
func Wrap(next reindex.Client, l *Limiter) *Client {
	return &Client{next: next, limiter: l}
}

// Reindex implements reindex.Client. The wait is not part of the elapsed
// time reported by the wrapped client.
func (c *Client) Reindex(ctx context.Context, target reindex.Target, window reindex.Window) (reindex.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return reindex.Response{}, err
	}
	resp, err := c.next.Reindex(ctx, target, window)
	if err != nil {
		return resp, fmt.Errorf("paced request: %w", err)
	}
	return resp, nil
}
