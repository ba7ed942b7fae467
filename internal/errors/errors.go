package errors

import (
	"net/http"

	"github.com/go-chi/render"
)

// APIError is an error raised by the daemon's own handlers. ErrorHandler
// turns it into problem details; errors from the license package are mapped
// separately in license_errors.go.
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

func (e *APIError) Error() string { return e.Message }

// Is matches another APIError with the same code, so the predefined values
// below work with errors.Is after WithDetails copies them.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.ErrorCode == e.ErrorCode
}

// Render sets the response status for chi/render
func (e *APIError) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// WithDetails returns a copy of e carrying details
func (e *APIError) WithDetails(details interface{}) *APIError {
	c := *e
	c.Details = details
	return &c
}

// ValidationError is one rejected request field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates an APIError
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{StatusCode: statusCode, ErrorCode: errorCode, Message: message}
}

// NewWithDetails creates an APIError with details
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return New(statusCode, errorCode, message).WithDetails(details)
}

var (
	ErrInvalidRequest     = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	ErrValidationFailed   = New(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed")
	ErrFeatureNotFound    = New(http.StatusNotFound, "FEATURE_NOT_FOUND", "Feature not found")
	ErrNotActivated       = New(http.StatusConflict, "NOT_ACTIVATED", "No license has been activated")
	ErrServiceUnavailable = New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable")
)

// InvalidRequestWithError reports an undecodable request body
func InvalidRequestWithError(err error) *APIError {
	return ErrInvalidRequest.WithDetails(err.Error())
}
