package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler serves Prometheus metrics
type MetricsHandler struct {
	handler http.Handler
}

// NewMetricsHandler serves h, the exporter handler from infrastructure.OTelProviders.
// A nil h serves the default Prometheus registry.
func NewMetricsHandler(h http.Handler) *MetricsHandler {
	if h == nil {
		h = promhttp.Handler()
	}
	return &MetricsHandler{handler: h}
}

// ServeHTTP handles GET /metrics
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.handler.ServeHTTP(w, r)
}
