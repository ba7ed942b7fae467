package http

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"prolicense/internal/license"
	"prolicense/pkg/contracts"
)

// HealthHandler serves liveness, version and the license health report.
type HealthHandler struct {
	checker *license.HealthChecker
	started time.Time
}

func NewHealthHandler(checker *license.HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker, started: time.Now()}
}

// HealthCheck runs the license checks. It answers 503 when the cache
// directory is unusable.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.checker.HTTPHandler().ServeHTTP(w, r)
}

// LivenessCheck only proves the daemon is serving
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"status": "alive",
		"uptime": time.Since(h.started).Truncate(time.Second).String(),
	})
}

func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, contracts.GetVersionInfo())
}
