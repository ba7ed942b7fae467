package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "prolicense/internal/errors"
	"prolicense/internal/license"
	"prolicense/internal/middleware"
	ws "prolicense/internal/websocket"
)

// RouterConfig carries the components the daemon router serves
type RouterConfig struct {
	Manager *license.Manager
	Health  *license.HealthChecker
	Hub     *ws.Hub

	// Metrics serves /metrics; nil uses the default Prometheus registry.
	Metrics http.Handler
	// Tracing is optional request instrumentation.
	Tracing *middleware.OTelMiddleware
	// ActionLimiter throttles activate, deactivate, validate and sync.
	ActionLimiter *middleware.RateLimiter

	Logger       *slog.Logger
	IncludeStack bool
}

// NewRouter builds the loopback license API.
//
//	GET  /api/version
//	GET  /api/health/live
//	GET  /api/license/status
//	GET  /api/license/features
//	GET  /api/license/features/{id}
//	GET  /api/license/features/{id}/require
//	POST /api/license/activate
//	POST /api/license/deactivate
//	POST /api/license/validate
//	POST /api/license/sync
//	GET  /api/license/health
//	GET  /api/license/events
//	GET  /metrics
func NewRouter(cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	errorHandler := apierrors.NewErrorHandler(logger, cfg.IncludeStack)
	gate := cfg.Manager.Gate()

	r := chi.NewRouter()

	// RequestID first so every log line and problem body carries the id
	r.Use(middleware.RequestID)
	if cfg.Tracing != nil {
		r.Use(cfg.Tracing.Handler)
	}
	r.Use(apierrors.NewErrorMiddleware(errorHandler, logger).Handler)
	r.Use(middleware.SecurityHeaders)

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	health := NewHealthHandler(cfg.Health)
	licenseHandler := NewLicenseHandler(cfg.Manager, errorHandler, logger, WithActionLimiter(cfg.ActionLimiter))
	guard := middleware.NewFeatureGuard(gate, errorHandler, logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/version", health.Version)
		r.Get("/health/live", health.LivenessCheck)

		routes := licenseHandler.Routes()
		routes.Get("/health", health.HealthCheck)
		routes.With(guard.RequireParam("id")).Get("/features/{id}/require", func(w http.ResponseWriter, r *http.Request) {
			render.JSON(w, r, map[string]interface{}{
				"id":        chi.URLParam(r, "id"),
				"available": true,
			})
		})
		if cfg.Hub != nil {
			routes.Handle("/events", NewEventsHandler(cfg.Hub, gate, errorHandler, logger))
		}
		r.Mount("/license", routes)
	})

	r.Handle("/metrics", NewMetricsHandler(cfg.Metrics))

	return r
}
