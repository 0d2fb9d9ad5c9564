package server

import (
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/novelcondense/novelcondense/internal/config"
	"github.com/novelcondense/novelcondense/internal/observability"
	"github.com/novelcondense/novelcondense/internal/server/handlers"
)

// AdminTokenEnv enables POST /admin/signal when set.
const AdminTokenEnv = config.EnvPrefix + "_ADMIN_TOKEN"

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	health := s.deps.Health
	s.router.Get("/health", health.HealthHandler)
	s.router.Get("/health/live", health.LivenessHandler)
	s.router.Get("/health/ready", health.ReadinessHandler)
	s.router.Get("/health/startup", health.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Method("GET", "/metrics", s.deps.Metrics.Handler())

	if s.deps.Dispatcher != nil {
		dh := handlers.NewDispatchHandlers(s.deps.Dispatcher)
		health.RegisterChecker("credentials", dh)

		s.router.Route("/v1", func(r chi.Router) {
			r.Post("/condense", dh.Condense)
			r.Get("/summary", dh.Summary)
			r.Get("/credentials", dh.Credentials)
		})
	}

	s.registerAdminEndpoint()
}

// registerAdminEndpoint exposes gofulmen's signal endpoint behind a bearer
// token so a running server can be asked to reload or shut down.
func (s *Server) registerAdminEndpoint() {
	adminToken := os.Getenv(AdminTokenEnv)
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + AdminTokenEnv + " set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10,
		RateBurst: 5,
		Manager:   nil,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
