// Package api hosts the optional status server an operator can scrape while
// a long reindex runs:
//   - GET /healthz for liveness probes.
//   - GET /status for the JSON snapshot of the run.
//   - GET /metrics for Prometheus scraping.
package api
