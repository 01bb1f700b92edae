// Package api exposes ensemble over HTTP: persona inspection, routing,
// live chat streams, and job triggers.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jordanhubbard/ensemble/internal/auth"
	"github.com/jordanhubbard/ensemble/internal/character"
	"github.com/jordanhubbard/ensemble/internal/logging"
	"github.com/jordanhubbard/ensemble/internal/metrics"
	"github.com/jordanhubbard/ensemble/internal/results"
	"github.com/jordanhubbard/ensemble/internal/routing"
	"github.com/jordanhubbard/ensemble/internal/runner"
	"github.com/jordanhubbard/ensemble/internal/scheduler"
	"github.com/jordanhubbard/ensemble/internal/stream"
	"github.com/jordanhubbard/ensemble/pkg/config"
	"github.com/jordanhubbard/ensemble/pkg/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Streamer runs an agent process and forwards its events.
type Streamer interface {
	RunStreaming(ctx context.Context, req runner.Request) <-chan stream.Event
}

// Jobs triggers and inspects scheduled jobs.
type Jobs interface {
	Registry() *scheduler.Registry
	RunJob(ctx context.Context, id string) ([]models.JobResult, error)
	RunAdhoc(ctx context.Context, personaID, prompt string, mode models.JobMode) ([]models.JobResult, error)
	NextRun(id string) (time.Time, bool)
	Running(id string) bool
}

// Deps wires a Server. Auth, Logs and Metrics may be nil.
type Deps struct {
	Config   *config.Config
	Store    *character.Store
	Prompts  scheduler.PromptBuilder
	Router   *routing.Router
	Streamer Streamer
	Jobs     Jobs
	Results  results.Store
	Logs     *logging.Manager
	Auth     *auth.Manager
	Metrics  *metrics.Metrics
}

// Server represents the HTTP API server
type Server struct {
	Deps
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	if deps.Config == nil {
		deps.Config = config.DefaultConfig()
	}
	return &Server{Deps: deps}
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", s.handleHealth)

	// Personas and configuration
	mux.HandleFunc("/api/v1/personas", s.handlePersonas)
	mux.HandleFunc("/api/v1/personas/", s.handlePersona)
	mux.HandleFunc("/api/v1/config/invalidate", s.handleInvalidate)

	// Routing
	mux.HandleFunc("/api/v1/route", s.handleRoute)
	mux.HandleFunc("/api/v1/routing/overrides", s.handleOverrides)

	// Live chat
	mux.HandleFunc("/api/v1/chat/stream", s.handleChatStream)
	mux.HandleFunc("/api/v1/chat/ws", s.handleChatWebSocket)

	// Jobs
	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/adhoc", s.handleAdhoc)
	mux.HandleFunc("/api/v1/jobs/", s.handleJob)
	mux.HandleFunc("/api/v1/results", s.handleResults)

	mux.HandleFunc("/api/v1/logs", s.handleLogs)
	mux.Handle("/metrics", promhttp.Handler())

	// Apply middleware
	handler := s.loggingMiddleware(mux)
	handler = s.authMiddleware(handler)
	handler = s.corsMiddleware(handler)

	return otelhttp.NewHandler(handler, "ensemble.api",
		otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/metrics" }))
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"mode":     s.Config.Mode,
		"personas": len(s.Store.Personas()),
	})
}

// Middleware

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming handlers working behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is required for the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// loggingMiddleware logs failed requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.status >= http.StatusInternalServerError {
			log.Printf("[API] %s %s failed with %d after %s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
		}
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		// Handle preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.Config.Security.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// authMiddleware handles authentication
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/health" || r.URL.Path == "/metrics" ||
			!s.Config.Security.EnableAuth || s.Auth == nil {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := s.Auth.Authenticate(r)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		scope := auth.ScopeRead
		if r.Method != http.MethodGet || strings.HasPrefix(r.URL.Path, "/api/v1/chat/") {
			scope = auth.ScopeRun
		}
		if !claims.HasScope(scope) {
			s.respondError(w, http.StatusForbidden, "Missing scope: "+scope)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper functions

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// parseJSON parses JSON request body
func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(v)
}

// extractID extracts ID from URL path
func (s *Server) extractID(path, prefix string) (id, action string) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	parts := strings.SplitN(rest, "/", 2)
	id = parts[0]
	if len(parts) > 1 {
		action = parts[1]
	}
	return id, action
}
