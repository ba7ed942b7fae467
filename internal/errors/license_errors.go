package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/render"

	"prolicense/internal/license"
)

// Problem types of license failures
const (
	TypeLicenseInvalidFormat = "/errors/license/invalid-key-format"
	TypeLicenseInvalidKey    = "/errors/license/invalid-key"
	TypeLicenseExpired       = "/errors/license/expired"
	TypeLicenseSeatLimit     = "/errors/license/seat-limit"
	TypeLicenseNotActivated  = "/errors/license/not-activated"
	TypeLicenseMismatch      = "/errors/license/machine-mismatch"
	TypeLicenseCorrupted     = "/errors/license/corrupted-cache"
	TypeLicenseServer        = "/errors/license/server-error"
	TypeLicenseUnreachable   = "/errors/license/network-error"
	TypeLicenseBadResponse   = "/errors/license/invalid-response"
	TypeFeatureUnavailable   = "/errors/license/feature-unavailable"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Extensions are flattened into the top level object
	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	if retry, ok := pd.Extensions["retry_after"].(int); ok && retry > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retry))
	}
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON includes the extensions next to the standard members
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, 5+len(pd.Extensions))
	for k, v := range pd.Extensions {
		data[k] = v
	}

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// MapLicenseError converts an error from the license package into problem
// details. It returns nil for errors that are not license failures.
func MapLicenseError(err error, instance string) *ProblemDetails {
	if err == nil {
		return nil
	}

	if errors.Is(err, license.ErrInvalidKeyFormat) {
		return NewProblemDetails(http.StatusBadRequest, TypeLicenseInvalidFormat,
			"Invalid License Key Format", err.Error(), instance).
			WithExtension("error_code", "INVALID_KEY_FORMAT")
	}
	if errors.Is(err, license.ErrNotActivated) {
		return NewProblemDetails(http.StatusConflict, TypeLicenseNotActivated,
			"License Not Activated", "No license has been activated on this machine.", instance).
			WithExtension("error_code", "NOT_ACTIVATED")
	}

	var fe *license.FeatureUnavailableError
	if errors.As(err, &fe) {
		return NewProblemDetails(http.StatusForbidden, TypeFeatureUnavailable,
			"Feature Unavailable", fe.Error(), instance).
			WithExtension("error_code", "FEATURE_UNAVAILABLE").
			WithExtension("feature_id", fe.FeatureID).
			WithExtension("activate_command", fe.ActivateCommand).
			WithExtension("purchase_url", fe.PurchaseURL)
	}

	var ce *license.CacheError
	if errors.As(err, &ce) {
		problemType := TypeLicenseCorrupted
		if ce.Code == license.CodeMachineMismatch {
			problemType = TypeLicenseMismatch
		}
		return NewProblemDetails(http.StatusConflict, problemType,
			"License Cache Rejected", ce.Error(), instance).
			WithExtension("error_code", string(ce.Code))
	}

	var apiErr *license.APIError
	if !errors.As(err, &apiErr) {
		return nil
	}

	status, problemType, title := protocolProblem(apiErr.Code)
	pd := NewProblemDetails(status, problemType, title, apiErr.Message, instance).
		WithExtension("error_code", string(apiErr.Code)).
		WithExtension("retryable", apiErr.Retryable())
	if d := apiErr.Details; d != nil {
		if d.RetryAfter > 0 {
			pd.WithExtension("retry_after", d.RetryAfter)
		}
		if apiErr.Code == license.CodeSeatLimitExceeded {
			pd.WithExtension("seats", map[string]int{"used": d.Used, "max": d.Max})
		}
		if d.Status > 0 {
			pd.WithExtension("upstream_status", d.Status)
		}
	}
	return pd
}

func protocolProblem(code license.ErrorCode) (int, string, string) {
	switch code {
	case license.CodeInvalidKey:
		return http.StatusUnauthorized, TypeLicenseInvalidKey, "Invalid License Key"
	case license.CodeExpiredKey:
		return http.StatusForbidden, TypeLicenseExpired, "License Expired"
	case license.CodeSeatLimitExceeded:
		return http.StatusConflict, TypeLicenseSeatLimit, "Seat Limit Exceeded"
	case license.CodeRateLimited:
		return http.StatusTooManyRequests, TypeRateLimit, "Rate Limit Exceeded"
	case license.CodeNetworkError:
		return http.StatusServiceUnavailable, TypeLicenseUnreachable, "License Server Unreachable"
	case license.CodeInvalidResponse:
		return http.StatusBadGateway, TypeLicenseBadResponse, "Invalid License Server Response"
	default:
		return http.StatusBadGateway, TypeLicenseServer, "License Server Error"
	}
}
