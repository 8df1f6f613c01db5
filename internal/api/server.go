// Package api exposes the question-answering pipeline over HTTP: a buffered
// JSON endpoint, a server-sent-events streaming endpoint, and a health check.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/civickit/k311/internal/log"
	"github.com/civickit/k311/internal/pipeline"
)

// Asker is the slice of the pipeline the server consumes.
type Asker interface {
	Answer(ctx context.Context, req pipeline.Request) (pipeline.Response, error)
	Stream(ctx context.Context, req pipeline.Request, emit pipeline.EmitFunc) error
}

// HealthChecker reports readiness of the knowledge base.
type HealthChecker interface {
	Count(ctx context.Context) (int64, error)
}

// ServerConfig wires the HTTP layer.
type ServerConfig struct {
	Logger      log.Logger
	Pipeline    Asker
	Health      HealthChecker
	CORSOrigins []string
}

func (c ServerConfig) validate() error {
	if c.Logger == nil {
		return errors.New("api: logger is required")
	}
	if c.Pipeline == nil {
		return errors.New("api: pipeline is required")
	}
	return nil
}

// Server is the HTTP front of the service.
type Server struct {
	logger  log.Logger
	pipe    Asker
	health  HealthChecker
	origins []string
	mux     *http.ServeMux
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Server{
		logger:  cfg.Logger,
		pipe:    cfg.Pipeline,
		health:  cfg.Health,
		origins: cfg.CORSOrigins,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /query", s.handleQuery)
	s.mux.HandleFunc("POST /query/stream", s.handleQueryStream)
	s.mux.HandleFunc("OPTIONS /", s.handlePreflight)
}

// Handler returns the full middleware chain: panic recovery outermost, then
// request logging, then CORS.
func (s *Server) Handler() http.Handler {
	return s.recoverer(s.requestLogger(s.cors(s.mux)))
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic in handler", "panic", rec, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// statusWriter records the status code for request logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working behind the logging middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
