package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nexusadvisory/llmgate/internal/observability"
	"github.com/nexusadvisory/llmgate/internal/server/handlers"
)

func (s *Server) registerRoutes() {
	s.router.Get("/health", s.health.HealthHandler)
	s.router.Get("/health/live", s.health.LivenessHandler)
	s.router.Get("/health/ready", s.health.ReadinessHandler)
	s.router.Get("/health/startup", s.health.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)
	if s.metrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	if s.gateway != nil {
		s.router.Route("/v1", func(r chi.Router) {
			r.Get("/status", s.gateway.Status)
			r.Post("/generate", s.gateway.Generate)
			r.Post("/probe", s.gateway.Probe)
		})
	}

	s.registerAdminEndpoint()
}

// registerAdminEndpoint mounts POST /admin/signal when an admin token is set.
func (s *Server) registerAdminEndpoint() {
	logger := observability.ServerLogger
	if s.adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no LLMGATE_ADMIN_TOKEN set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.adminToken,
		RateLimit: 10,
		RateBurst: 5,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("rate_limit", "10/min, burst 5"))
	}
}
