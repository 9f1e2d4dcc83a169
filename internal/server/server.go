package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/alanyoungcy/chainbot/internal/metrics"
	"github.com/alanyoungcy/chainbot/internal/server/handler"
	"github.com/alanyoungcy/chainbot/internal/server/middleware"
	"github.com/alanyoungcy/chainbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Status    *handler.StatusHandler
}

// Server is the operator HTTP API: health, positions, risk and source
// status, Prometheus metrics and the decision websocket.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with every route registered. hub may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewRouter(cfg, handlers, hub, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// NewRouter builds the chi router used by Server.
func NewRouter(cfg Config, handlers Handlers, hub *ws.Hub, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Group(func(r chi.Router) {
		r.Use(metrics.Middleware)

		r.Get("/api/health", handlers.Health.HealthCheck)
		r.Handle("/metrics", metrics.Handler())

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.APIKey, logger))

			r.Get("/api/positions", handlers.Positions.ListPositions)
			r.Get("/api/positions/{symbol}", handlers.Positions.GetPosition)
			r.Delete("/api/positions/{symbol}", handlers.Positions.ClosePosition)
			r.Get("/api/risk", handlers.Status.GetRisk)
			r.Get("/api/sources", handlers.Status.GetSources)
		})
	})

	// Outside the metrics middleware: its writer cannot be hijacked.
	if hub != nil {
		r.With(middleware.Auth(cfg.APIKey, logger)).Get("/ws", hub.HandleWS)
	}
	return r
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
