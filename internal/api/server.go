package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/tradestream/internal/relay"
	"github.com/mattjoyce/tradestream/internal/store"
	"github.com/mattjoyce/tradestream/internal/stream"
)

// Streamer writes one live model turn as frames.
type Streamer interface {
	Serve(ctx context.Context, enc *stream.Encoder, history []*schema.Message, opts relay.Options) error
}

// Config holds API server configuration.
type Config struct {
	Listen string
	Token  string
}

// Server is the development chat backend. It replays recorded captures and,
// when a Streamer is configured, relays live model turns.
type Server struct {
	config    Config
	captures  *store.CaptureStore
	streamer  Streamer
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. streamer may be nil, in which case
// only captures can be served.
func New(config Config, captures *store.CaptureStore, streamer Streamer, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		captures:  captures,
		streamer:  streamer,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // chat responses are long-lived streams
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "relay", s.streamer != nil)
	if s.config.Token == "" {
		s.logger.Warn("server.token is empty; chat and capture endpoints are unauthenticated")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	// Protected
	r.Group(func(r chi.Router) {
		r.Use(s.bearerAuth)
		r.Post("/api/chat", s.handleChat)
		r.Get("/v1/captures", s.handleListCaptures)
		r.Get("/v1/captures/{capture_id}", s.handleGetCapture)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, fmt.Sprint(ww.Status())).Inc()
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
