// Package metrics exposes Prometheus collectors for a reindex run.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/explorer-reindexer/internal/reindex"
)

// Recorder implements reindex.Recorder by updating collectors registered on
// its own registry, so a run's metrics never mix with another's.
type Recorder struct {
	registry *prometheus.Registry

	runInfo         *prometheus.GaugeVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	batchesTotal    *prometheus.CounterVec
	messagesTotal   *prometheus.CounterVec
	passesTotal     prometheus.Counter
	cursorTimestamp prometheus.Gauge
	runFinished     *prometheus.GaugeVec

	rateLimitDelay prometheus.Histogram

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry, together with the Go and
// process collectors.
func New() (*Recorder, error) {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		runInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reindex_run_info",
			Help: "Constant 1, labeled by run ID and target site.",
		}, []string{"run_id", "site"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reindex_requests_total",
			Help: "Reindex requests, labeled by app, resource and outcome.",
		}, []string{"app", "resource", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reindex_request_duration_seconds",
			Help:    "Wall time of reindex requests, labeled by app and resource.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"app", "resource"}),
		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reindex_batches_total",
			Help: "Batches reported by the explorer for successful requests.",
		}, []string{"app", "resource"}),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reindex_messages_total",
			Help: "Messages reported by the explorer for successful requests.",
		}, []string{"app", "resource"}),
		passesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reindex_passes_total",
			Help: "Completed passes over every selected target.",
		}),
		cursorTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reindex_cursor_timestamp_seconds",
			Help: "Unix time of the next window to reindex.",
		}),
		runFinished: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reindex_run_finished",
			Help: "Set to 1 for the reason the run stopped.",
		}, []string{"reason"}),
		rateLimitDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reindex_rate_limit_delay_seconds",
			Help:    "Time requests waited for the rate limiter.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reindex_status_http_requests_total",
			Help: "Requests served by the status server, labeled by method, route and code.",
		}, []string{"method", "route", "code"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reindex_status_http_request_duration_seconds",
			Help:    "Latency of status server requests, labeled by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	for _, collector := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.runInfo,
		r.requestsTotal,
		r.requestDuration,
		r.batchesTotal,
		r.messagesTotal,
		r.passesTotal,
		r.cursorTimestamp,
		r.runFinished,
		r.rateLimitDelay,
		r.httpRequestsTotal,
		r.httpRequestDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register reindex collector: %w", err)
		}
	}
	return r, nil
}

// Gatherer exposes the registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns an http.Handler serving the registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry in the text exposition format, atomically,
// for the node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// RunStarted implements reindex.Recorder.
func (r *Recorder) RunStarted(_ context.Context, info reindex.RunInfo) error {
	r.runInfo.WithLabelValues(info.ID, SanitizeSite(info.BaseURL)).Set(1)
	r.cursorTimestamp.Set(float64(info.Start.Unix()))
	return nil
}

// AttemptDone implements reindex.Recorder.
func (r *Recorder) AttemptDone(_ context.Context, attempt reindex.Attempt) error {
	app, resource := attempt.Target.App, attempt.Target.Resource
	r.requestsTotal.WithLabelValues(app, resource, string(attempt.Outcome)).Inc()
	r.requestDuration.WithLabelValues(app, resource).Observe(attempt.Elapsed.Seconds())
	if attempt.Outcome == reindex.OutcomeSuccess {
		r.batchesTotal.WithLabelValues(app, resource).Add(float64(attempt.Batches))
		r.messagesTotal.WithLabelValues(app, resource).Add(float64(attempt.Messages))
	}
	return nil
}

// PassDone implements reindex.Recorder.
func (r *Recorder) PassDone(_ context.Context, pass reindex.Pass) error {
	r.passesTotal.Inc()
	r.cursorTimestamp.Set(float64(pass.NextCursor.Unix()))
	return nil
}

// RunFinished implements reindex.Recorder.
func (r *Recorder) RunFinished(_ context.Context, result reindex.Result) error {
	r.runFinished.WithLabelValues(string(result.Reason)).Set(1)
	return nil
}

// ObserveRateLimitDelay records how long a request was held back.
func (r *Recorder) ObserveRateLimitDelay(d time.Duration) {
	r.rateLimitDelay.Observe(d.Seconds())
}

// ObserveHTTPRequest records one request served by the status server.
func (r *Recorder) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	r.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	r.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SanitizeSite extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
