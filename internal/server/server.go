// Package server exposes the engine over a JSON HTTP API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/engine"
)

// UserHeader scopes every request to one user.
const (
	UserHeader  = "X-Shiori-User"
	DefaultUser = "default"
)

// WatchService is the part of the directory watcher the API reports on.
type WatchService interface {
	Directories() []string
}

// Server is the HTTP server for the shiori API.
type Server struct {
	engine    *engine.Engine
	config    *config.ServerConfig
	delimiter string
	watch     WatchService
	sentry    bool
	logger    *zap.Logger
	server    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithSentry wraps the router with request tracing and panic capture. Sentry must already be
// initialized with InitSentry.
func WithSentry(enabled bool) Option {
	return func(s *Server) { s.sentry = enabled }
}

// WithWatcher exposes the watched directories.
func WithWatcher(w WatchService) Option {
	return func(s *Server) { s.watch = w }
}

// WithDelimiter sets the chunk delimiter used when a request does not name one.
func WithDelimiter(d string) Option {
	return func(s *Server) { s.delimiter = d }
}

// NewServer creates a server over eng. A nil logger is replaced by a no-op logger.
func NewServer(eng *engine.Engine, cfg *config.ServerConfig, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{engine: eng, config: cfg, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if s.sentry {
		r.Use(sentryMiddleware)
	}
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Group(func(r chi.Router) {
			r.Use(withUser)
			r.Get("/status", s.handleStatus)
			r.Post("/documents", s.handleIndexDocument)
			r.Get("/documents/{hash}", s.handleGetDocument)
			r.Delete("/documents/{hash}", s.handleDeleteDocument)
			r.Get("/documents/{hash}/chunks", s.handleChunkRange)
			r.Get("/documents/{hash}/top", s.handleTopWeighted)
			r.Post("/search", s.handleSearch)
			r.Post("/retrieve", s.handleRetrieve)
			r.Post("/consolidate", s.handleConsolidate)
			r.Get("/chunks/{id}/similar", s.handleSimilar)
			r.Get("/watch/directories", s.handleWatchDirectories)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type userKey struct{}

func withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get(UserHeader)
		if user == "" {
			user = DefaultUser
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

func userFrom(r *http.Request) string {
	if u, ok := r.Context().Value(userKey{}).(string); ok {
		return u
	}
	return DefaultUser
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
