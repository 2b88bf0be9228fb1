package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/nexusadvisory/llmgate/internal/config"
	apperrors "github.com/nexusadvisory/llmgate/internal/errors"
	"github.com/nexusadvisory/llmgate/internal/observability"
	"github.com/nexusadvisory/llmgate/internal/server/handlers"
	servermw "github.com/nexusadvisory/llmgate/internal/server/middleware"
)

// Options configures a Server.
type Options struct {
	Config config.ServerConfig

	// Gateway backs /v1; nil leaves only the operational routes.
	Gateway handlers.Gateway

	// Health defaults to a manager with a gateway check registered.
	Health *handlers.HealthManager

	// ExposeMetrics mounts promhttp at /metrics.
	ExposeMetrics bool

	AdminToken string
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	mu         sync.Mutex
	server     *http.Server
	cfg        config.ServerConfig
	gateway    *handlers.GatewayHandler
	health     *handlers.HealthManager
	metrics    bool
	adminToken string
}

// New creates a new HTTP server instance
func New(opts Options) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)

	// RequestID → Metrics → Recovery
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router:     r,
		cfg:        opts.Config,
		health:     opts.Health,
		metrics:    opts.ExposeMetrics,
		adminToken: opts.AdminToken,
	}
	if s.health == nil {
		s.health = handlers.NewHealthManager(handlers.AppVersion)
	}
	if opts.Gateway != nil {
		s.gateway = handlers.NewGatewayHandler(opts.Gateway)
		s.health.RegisterChecker("gateway", s.gateway)
	}

	handlers.SetHTTPErrorResponder(HandleError)
	s.registerRoutes()
	return s
}

// Start binds the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve serves on ln. It returns nil after a graceful Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()
	s.health.MarkStarted()

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("addr", ln.Addr().String()),
			zap.Duration("write_timeout", s.cfg.WriteTimeout))
	}

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	return srv.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}
