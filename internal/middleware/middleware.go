// Package middleware provides chi middleware for the status server.
package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Observer receives one observation per served request.
type Observer interface {
	ObserveHTTPRequest(method, route string, code int, duration time.Duration)
}

// Metrics is a chi middleware that reports request metrics to observer,
// labeled by route pattern rather than raw path.
func Metrics(observer Observer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			routePattern := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				routePattern = rctx.RoutePattern()
			}
			if routePattern == "" {
				routePattern = "unknown"
			}

			observer.ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
