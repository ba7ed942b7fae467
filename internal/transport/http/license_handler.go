package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "prolicense/internal/errors"
	"prolicense/internal/license"
	"prolicense/internal/middleware"
	v1 "prolicense/pkg/contracts/api/v1"
)

// LicenseHandler serves the local license API over a Manager
type LicenseHandler struct {
	manager  *license.Manager
	errors   *apierrors.ErrorHandler
	validate *validator.Validate
	limiter  *middleware.RateLimiter
	now      func() time.Time
	logger   *slog.Logger
}

// LicenseHandlerOption customizes a LicenseHandler
type LicenseHandlerOption func(*LicenseHandler)

// WithActionLimiter throttles the state changing endpoints
func WithActionLimiter(rl *middleware.RateLimiter) LicenseHandlerOption {
	return func(h *LicenseHandler) { h.limiter = rl }
}

// WithHandlerClock replaces the clock used to stamp action responses
func WithHandlerClock(now func() time.Time) LicenseHandlerOption {
	return func(h *LicenseHandler) { h.now = now }
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(manager *license.Manager, errorHandler *apierrors.ErrorHandler, logger *slog.Logger, opts ...LicenseHandlerOption) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if errorHandler == nil {
		errorHandler = apierrors.NewErrorHandler(logger, false)
	}
	h := &LicenseHandler{
		manager:  manager,
		errors:   errorHandler,
		validate: middleware.NewValidator(),
		now:      time.Now,
		logger:   logger.With(slog.String("handler", "license")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns a chi router for the license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.GetStatus)
	r.Get("/features", h.ListFeatures)
	r.Get("/features/{id}", h.GetFeature)

	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Handler)
		}
		r.With(middleware.ContentTypeValidator("application/json")).Post("/activate", h.Activate)
		r.Post("/deactivate", h.Deactivate)
		r.Post("/validate", h.Validate)
		r.Post("/sync", h.Sync)
	})

	return r
}

// StatusResponse is the body of GET /api/license/status
type StatusResponse struct {
	Activated   bool                      `json:"activated"`
	State       license.State             `json:"state"`
	License     *license.Info             `json:"license,omitempty"`
	Degradation license.DegradationStatus `json:"degradation"`
	Pending     bool                      `json:"pendingDeactivation"`
}

// FeaturesResponse is the body of GET /api/license/features
type FeaturesResponse struct {
	State     license.State                      `json:"state"`
	Available []string                           `json:"available"`
	Modules   map[string][]license.FeatureStatus `json:"modules"`
}

func (h *LicenseHandler) startSpan(r *http.Request, op string) (*http.Request, trace.Span) {
	ctx, span := otel.Tracer("prolicense.license_handler").Start(r.Context(), "license_handler."+op,
		trace.WithAttributes(
			attribute.String("operation", op),
			attribute.String("request_id", middleware.GetRequestID(r.Context())),
		),
	)
	return r.WithContext(ctx), span
}

func (h *LicenseHandler) status() StatusResponse {
	gate := h.manager.Gate()
	info := h.manager.Status()
	return StatusResponse{
		Activated:   info != nil,
		State:       gate.State(),
		License:     info,
		Degradation: gate.DegradationStatus(),
		Pending:     h.manager.Pending().Pending,
	}
}

// GetStatus handles GET /api/license/status
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.status())
}

// ListFeatures handles GET /api/license/features
func (h *LicenseHandler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	gate := h.manager.Gate()

	available := gate.ListAvailable()
	if available == nil {
		available = []string{}
	}
	render.JSON(w, r, FeaturesResponse{
		State:     gate.State(),
		Available: available,
		Modules:   gate.ListByModule(),
	})
}

// GetFeature handles GET /api/license/features/{id}. Ids outside the catalog
// are still answered from the license patterns.
func (h *LicenseHandler) GetFeature(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.errors.HandleError(w, r, apierrors.ErrFeatureNotFound)
		return
	}

	gate := h.manager.Gate()
	f, ok := gate.Registry().Get(id)
	if !ok {
		f = license.Feature{ID: id, Name: gate.Registry().Name(id)}
	}
	render.JSON(w, r, license.FeatureStatus{
		Feature:   f,
		Available: gate.IsAvailable(id),
	})
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	r, span := h.startSpan(r, "activate")
	defer span.End()

	var req v1.ActivateLicenseRequest
	if err := middleware.DecodeJSON(r, h.validate, &req); err != nil {
		span.SetAttributes(attribute.Bool("license.valid_request", false))
		h.errors.HandleError(w, r, err)
		return
	}

	info, err := h.manager.Activate(r.Context(), req.Key)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "license activated via api",
		slog.String("key", info.Key),
		slog.Int("features", len(info.Features)),
	)
	render.JSON(w, r, h.status())
}

// Deactivate handles POST /api/license/deactivate
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	r, span := h.startSpan(r, "deactivate")
	defer span.End()

	outcome, err := h.manager.Deactivate(r.Context())
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	span.SetAttributes(attribute.Bool("license.offline", outcome.Offline))

	msg, status := outcome.Message, http.StatusOK
	if outcome.Offline {
		msg = "License server unreachable; deactivation will sync when it is back"
		status = http.StatusAccepted
	}
	render.Status(r, status)
	render.JSON(w, r, v1.ActionResponse{
		Success: true,
		Action:  "deactivate",
		Message: msg,
		Pending: outcome.Offline,
		At:      h.now().UTC(),
	})
}

// Validate handles POST /api/license/validate
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	r, span := h.startSpan(r, "validate")
	defer span.End()

	if _, err := h.manager.Validate(r.Context()); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, h.status())
}

// Sync handles POST /api/license/sync
func (h *LicenseHandler) Sync(w http.ResponseWriter, r *http.Request) {
	r, span := h.startSpan(r, "sync")
	defer span.End()

	changed := h.manager.SyncPending(r.Context())
	span.SetAttributes(attribute.Bool("license.sync_changed", changed))

	render.JSON(w, r, v1.SyncResponse{
		Changed: changed,
		Pending: h.manager.Pending().Pending,
	})
}
