// Package server is the HTTP surface over CoordinatorService: the
// client-facing /_bench endpoints plus Prometheus metrics and an
// optional bearer-auth gate, built in the style of the teacher's own
// chi-based internal/server.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/user/benchctl/internal/bench/coordinator"
)

// Server is the HTTP server fronting a CoordinatorService.
type Server struct {
	coord      *coordinator.Service
	auth       *benchAuthenticator
	metrics    *benchMetrics
	joiner     ClusterJoiner
	httpServer *http.Server
	router     chi.Router
}

// New creates a Server. auth may be nil, in which case /_bench* is
// unauthenticated.
func New(coord *coordinator.Service, bindAddr string, auth *benchAuthenticator) *Server {
	srv := &Server{
		coord:   coord,
		auth:    auth,
		metrics: newBenchMetrics(),
	}
	coord.SetMetricsSink(srv.metrics)
	srv.router = srv.buildRouter()
	srv.httpServer = &http.Server{
		Addr:    bindAddr,
		Handler: srv.router,
	}
	return srv
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(structuredLogger)
	r.Use(middleware.Recoverer)

	r.Route("/_bench", func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.middleware)
		}
		r.Post("/", s.handleStart)
		r.Get("/", s.handleList)
		r.Get("/{name}", s.handleGetOne)
		r.Post("/pause/{name}", s.handlePause)
		r.Post("/resume/{name}", s.handleResume)
		r.Post("/abort/{name}", s.handleAbort)
	})

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", s.metrics.handler())
	r.Post("/_cluster/join", s.handleClusterJoin)

	return r
}

// Start begins listening for HTTP requests. Blocks until Shutdown.
func (s *Server) Start() error {
	slog.Info("bench http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("bench http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the http.Handler for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func structuredLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
