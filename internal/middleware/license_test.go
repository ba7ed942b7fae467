package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "prolicense/internal/errors"
	"prolicense/internal/license"
	"prolicense/internal/shared/testutil"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedSource struct{ rec *license.Record }

func (s fixedSource) Read() *license.Record { return s.rec }

func newGate(t *testing.T, activatedAt time.Time, features ...string) *license.Gate {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	var rec *license.Record
	if features != nil {
		rec = &license.Record{
			Key:             testutil.ValidKey,
			ActivatedAt:     activatedAt,
			Features:        features,
			CacheValidDays:  30,
			GracePeriodDays: 7,
			MachineID:       testutil.TestFingerprint,
		}
	}
	return license.NewGate(fixedSource{rec: rec},
		license.WithClock(func() time.Time { return now }),
		license.WithLogger(logger),
		license.WithPurchaseURL("https://example.test/buy"),
	)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestFeatureGuard_Require(t *testing.T) {
	tests := []struct {
		name       string
		features   []string
		activated  time.Time
		feature    string
		wantStatus int
	}{
		{"exact match", []string{"pro.reports.export"}, now, "pro.reports.export", http.StatusOK},
		{"family wildcard", []string{"pro.reports.*"}, now, "pro.reports.pdf", http.StatusOK},
		{"pro wildcard", []string{"pro.*"}, now, "pro.analytics.forecast", http.StatusOK},
		{"not granted", []string{"pro.reports.*"}, now, "pro.analytics.forecast", http.StatusForbidden},
		{"not activated", nil, now, "pro.reports.export", http.StatusForbidden},
		{"grace still passes", []string{"pro.*"}, now.Add(-testutil.Days(33)), "pro.reports.export", http.StatusOK},
		{"expired denies", []string{"pro.*"}, now.Add(-testutil.Days(40)), "pro.reports.export", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := testutil.NewTestLogger(t)
			guard := NewFeatureGuard(newGate(t, tt.activated, tt.features...), nil, logger)

			req := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
			rec := httptest.NewRecorder()
			guard.Require(tt.feature, "Report Export")(okHandler()).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestFeatureGuard_DenialBody(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	guard := NewFeatureGuard(newGate(t, now), apierrors.NewErrorHandler(logger, false), logger)

	req := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
	rec := httptest.NewRecorder()
	guard.Require("pro.reports.export", "Report Export")(okHandler()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apierrors.TypeFeatureUnavailable, body["type"])
	assert.Equal(t, "pro.reports.export", body["feature_id"])
	assert.Equal(t, "https://example.test/buy", body["purchase_url"])
	assert.Contains(t, body["detail"], "Report Export requires an active Pro license")

	assert.True(t, handler.ContainsMessage("feature request denied"))
	testutil.AssertNotLogged(t, handler, testutil.ValidKey)
}

func TestFeatureGuard_RequireLicense(t *testing.T) {
	t.Run("active", func(t *testing.T) {
		guard := NewFeatureGuard(newGate(t, now, "pro.*"), nil, nil)
		rec := httptest.NewRecorder()
		guard.RequireLicense(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("not activated", func(t *testing.T) {
		guard := NewFeatureGuard(newGate(t, now), nil, nil)
		rec := httptest.NewRecorder()
		guard.RequireLicense(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, http.StatusForbidden, rec.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "LICENSE_REQUIRED", body["error_code"])
		assert.Equal(t, "No license activated", body["detail"])
	})
}

func TestFeatureGuard_RequireParam(t *testing.T) {
	guard := NewFeatureGuard(newGate(t, now, "pro.reports.*"), nil, nil)

	r := chi.NewRouter()
	r.With(guard.RequireParam("id")).Get("/features/{id}/require", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := map[string]int{
		"/features/pro.reports.pdf/require":        http.StatusNoContent,
		"/features/pro.analytics.forecast/require": http.StatusForbidden,
	}
	for path, want := range tests {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rec.Code, path)
	}
}
