package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError_Render(t *testing.T) {
	tests := []struct {
		name       string
		apiError   *APIError
		wantStatus int
	}{
		{"bad request", ErrInvalidRequest, http.StatusBadRequest},
		{"not activated", ErrNotActivated, http.StatusConflict},
		{"feature not found", ErrFeatureNotFound, http.StatusNotFound},
		{"unavailable", ErrServiceUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)

			require.NoError(t, render.Render(w, r, tt.apiError))
			assert.Equal(t, tt.wantStatus, w.Code)

			var body APIError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.apiError.ErrorCode, body.ErrorCode)
		})
	}
}

func TestAPIError_WithDetails(t *testing.T) {
	err := ErrFeatureNotFound.WithDetails("pro.squads.premium")

	assert.Equal(t, "pro.squads.premium", err.Details)
	assert.Nil(t, ErrFeatureNotFound.Details, "predefined error must not be modified")
	assert.True(t, errors.Is(fmt.Errorf("lookup: %w", err), ErrFeatureNotFound))
	assert.False(t, errors.Is(err, ErrNotActivated))
}

func TestInvalidRequestWithError(t *testing.T) {
	err := InvalidRequestWithError(assert.AnError)

	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Equal(t, assert.AnError.Error(), err.Details)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
