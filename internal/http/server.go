// Package http provides the HTTP server and API surface for drift.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/driftserve/drift/internal/config"
	"github.com/driftserve/drift/internal/http/middleware"
	"github.com/driftserve/drift/internal/observability"
)

// Server is the HTTP server: a chi router carrying the huma API for the
// JSON surface and raw routes for playlist and segment delivery.
type Server struct {
	cfg        config.ServerConfig
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the router, middleware stack, and API scaffold.
// Handlers register themselves afterwards via API() and Router().
func NewServer(cfg config.ServerConfig, logger *slog.Logger, version string) *Server {
	if version == "" {
		version = "dev"
	}
	logger = observability.WithComponent(logger, "http")

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.ClientNetwork)
	router.Use(middleware.RequestID)
	router.Use(middleware.NewLoggingMiddleware(logger))
	router.Use(middleware.Recovery(logger))
	if len(cfg.CORSOrigins) > 0 {
		corsCfg := middleware.DefaultCORSConfig()
		corsCfg.AllowedOrigins = cfg.CORSOrigins
		router.Use(middleware.CORSWithConfig(corsCfg))
	} else {
		router.Use(middleware.CORS())
	}
	router.Use(middleware.SkipCompressionForMedia(chimiddleware.Compress(5)))

	humaConfig := huma.DefaultConfig("drift API", version)
	humaConfig.Info.Description = "Playback delivery: probing, planning, sessions, and HLS streaming"
	api := humachi.New(router, humaConfig)

	return &Server{
		cfg:    cfg,
		router: router,
		api:    api,
		logger: logger,
	}
}

// API returns the huma API for operation registration.
func (s *Server) API() huma.API {
	return s.api
}

// Router returns the chi router for raw route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ListenAndServe runs the server until the context is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: s.cfg.ReadTimeout,
		// Segment delivery holds response writers open; WriteTimeout
		// stays unset and slow clients are bounded by ReadTimeout on
		// their next request instead.
		IdleTimeout: s.cfg.ReadTimeout * 4,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("address", addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
