package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "prolicense/internal/errors"
	"prolicense/internal/license"
)

// FeatureGuard rejects requests to Pro routes the current license does not
// unlock. Decisions come from the gate's in-memory snapshot.
type FeatureGuard struct {
	gate   *license.Gate
	errors *apierrors.ErrorHandler
	logger *slog.Logger
}

// NewFeatureGuard creates a guard backed by gate
func NewFeatureGuard(gate *license.Gate, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *FeatureGuard {
	if logger == nil {
		logger = slog.Default()
	}
	if errorHandler == nil {
		errorHandler = apierrors.NewErrorHandler(logger, false)
	}
	return &FeatureGuard{
		gate:   gate,
		errors: errorHandler,
		logger: logger.With(slog.String("component", "feature_guard")),
	}
}

// Require returns middleware that only passes requests while feature id is
// available. title is the friendly name shown in the denial.
func (g *FeatureGuard) Require(id, title string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.allow(w, r, id, title) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// RequireParam is Require with the feature id read from the chi URL parameter
// param. Titles come from the gate's registry.
func (g *FeatureGuard) RequireParam(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.allow(w, r, chi.URLParam(r, param), "") {
				next.ServeHTTP(w, r)
			}
		})
	}
}

func (g *FeatureGuard) allow(w http.ResponseWriter, r *http.Request, id, title string) bool {
	err := g.gate.Require(id, title)

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("license.feature", id),
		attribute.Bool("license.feature_available", err == nil),
	)
	if err == nil {
		return true
	}

	g.logger.InfoContext(r.Context(), "feature request denied",
		slog.String("feature_id", id),
		slog.String("path", r.URL.Path),
		slog.String("state", string(g.gate.State())),
	)
	g.errors.HandleError(w, r, err)
	return false
}

// RequireLicense passes requests only while the license is Active or in grace.
func (g *FeatureGuard) RequireLicense(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := g.gate.DegradationStatus()
		if status.Degraded {
			g.errors.HandleError(w, r, apierrors.NewWithDetails(
				http.StatusForbidden, "LICENSE_REQUIRED", status.Reason, status))
			return
		}
		next.ServeHTTP(w, r)
	})
}
