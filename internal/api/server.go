package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/explorer-reindexer/internal/middleware"
	"github.com/JakeFAU/explorer-reindexer/internal/progress"
)

// StatusSource provides the run snapshot served on /status.
type StatusSource interface {
	Snapshot() progress.Snapshot
}

// Server wires HTTP handlers to the run tracker and metrics registry.
type Server struct {
	router  chi.Router
	status  StatusSource
	metrics http.Handler
	logger  *zap.Logger
	observe middleware.Observer

	mu   sync.Mutex
	srv  *http.Server
	done chan struct{}
}

// Option customises a Server.
type Option func(*Server)

// WithRequestObserver records metrics for every request the server handles.
func WithRequestObserver(o middleware.Observer) Option {
	return func(s *Server) { s.observe = o }
}

// NewServer constructs a Server with middleware and routes. metrics may be nil.
func NewServer(status StatusSource, metrics http.Handler, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		status:  status,
		metrics: metrics,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	r := chi.NewRouter()
	if s.observe != nil {
		r.Use(middleware.Metrics(s.observe))
	}
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/status", s.statusHandler)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background. It returns the bound
// address, which differs from addr when addr uses port 0.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})

	s.mu.Lock()
	s.srv = srv
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", zap.Error(err))
		}
	}()
	s.logger.Info("status server started", zap.String("addr", ln.Addr().String()))
	return ln.Addr().String(), nil
}

// Shutdown stops a started server and waits for the serve loop to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("status server shutdown wait: %w", ctx.Err())
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusOK, progress.Snapshot{State: progress.StateIdle})
		return
	}
	writeJSON(w, http.StatusOK, s.status.Snapshot())
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
