package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newInstrumentedRouter(t *testing.T) (http.Handler, *tracetest.InMemoryExporter, *sdkmetric.ManualReader) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	m, err := NewOTelMiddleware(tp, mp)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(m.Handler)
	r.Get("/api/license/features/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	return r, exporter, reader
}

func TestOTelMiddleware_Spans(t *testing.T) {
	router, exporter, _ := newInstrumentedRouter(t)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/license/features/reports.export", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	assert.Equal(t, "GET /api/license/features/{id}", spans[0].Name)
	assert.Contains(t, spans[0].Attributes, attribute.String("http.route", "/api/license/features/{id}"))
	assert.Contains(t, spans[0].Attributes, attribute.Int("http.response.status_code", http.StatusOK))
	assert.Equal(t, codes.Unset, spans[0].Status.Code)

	assert.Equal(t, codes.Error, spans[1].Status.Code)
}

func TestOTelMiddleware_Metrics(t *testing.T) {
	router, _, reader := newInstrumentedRouter(t)

	for i := 0; i < 3; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/license/features/x", nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	var durations uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if m.Name == "http_requests_total" {
					for _, dp := range data.DataPoints {
						total += dp.Value
						route, _ := dp.Attributes.Value("route")
						assert.Equal(t, "/api/license/features/{id}", route.AsString())
					}
				}
			case metricdata.Histogram[float64]:
				if m.Name == "http_request_duration_seconds" {
					for _, dp := range data.DataPoints {
						durations += dp.Count
					}
				}
			}
		}
	}
	assert.Equal(t, int64(3), total)
	assert.Equal(t, uint64(3), durations)
}
