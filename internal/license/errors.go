package license

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode identifies a protocol failure. The set is closed.
type ErrorCode string

// Protocol error codes
const (
	CodeInvalidKey        ErrorCode = "INVALID_KEY"
	CodeExpiredKey        ErrorCode = "EXPIRED_KEY"
	CodeSeatLimitExceeded ErrorCode = "SEAT_LIMIT_EXCEEDED"
	CodeRateLimited       ErrorCode = "RATE_LIMITED"
	CodeServerError       ErrorCode = "SERVER_ERROR"
	CodeNetworkError      ErrorCode = "NETWORK_ERROR"
	CodeInvalidResponse   ErrorCode = "INVALID_RESPONSE"
)

var (
	// ErrInvalidKeyFormat is returned before any network call when a key is malformed.
	ErrInvalidKeyFormat = errors.New("invalid license key format, expected PRO-XXXX-XXXX-XXXX-XXXX")

	// ErrNotActivated is returned by operations that need an activated license.
	ErrNotActivated = errors.New("no license has been activated")

	// ErrCacheNotFound is returned by Store.Load when no cache file exists.
	ErrCacheNotFound = errors.New("license cache not found")

	// a 2xx deactivation reply with success=false; the seat is still held
	errNotConfirmed = errors.New("license server did not confirm the deactivation")
)

// Sentinels for errors.Is matching on protocol codes
var (
	ErrInvalidKey        = &APIError{Code: CodeInvalidKey}
	ErrExpiredKey        = &APIError{Code: CodeExpiredKey}
	ErrSeatLimitExceeded = &APIError{Code: CodeSeatLimitExceeded}
	ErrRateLimited       = &APIError{Code: CodeRateLimited}
	ErrServerError       = &APIError{Code: CodeServerError}
	ErrNetwork           = &APIError{Code: CodeNetworkError}
	ErrInvalidResponse   = &APIError{Code: CodeInvalidResponse}
)

// ErrorDetails carries the only structured values a protocol error may expose.
type ErrorDetails struct {
	Used       int `json:"used,omitempty"`
	Max        int `json:"max,omitempty"`
	RetryAfter int `json:"retryAfter,omitempty"`
	Status     int `json:"status,omitempty"`
}

// APIError is a typed license server failure with a fixed, key-free message.
type APIError struct {
	Code    ErrorCode     `json:"code"`
	Message string        `json:"message"`
	Details *ErrorDetails `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any APIError with the same code.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	switch e.Code {
	case CodeNetworkError, CodeServerError, CodeRateLimited, CodeInvalidResponse:
		return true
	default:
		return false
	}
}

// IsCode reports whether err is an APIError with one of the given codes.
func IsCode(err error, codes ...ErrorCode) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, c := range codes {
		if apiErr.Code == c {
			return true
		}
	}
	return false
}

func newInvalidKeyError() *APIError {
	return &APIError{Code: CodeInvalidKey, Message: "License key is invalid or has been revoked."}
}

func newExpiredKeyError() *APIError {
	return &APIError{Code: CodeExpiredKey, Message: "License key has expired. Please renew your subscription."}
}

func newSeatLimitError(used, max int) *APIError {
	return &APIError{
		Code:    CodeSeatLimitExceeded,
		Message: fmt.Sprintf("Seat limit exceeded (%d/%d seats in use). Deactivate another machine or upgrade your plan.", used, max),
		Details: &ErrorDetails{Used: used, Max: max},
	}
}

func newRateLimitedError(retryAfter int) *APIError {
	if retryAfter <= 0 {
		return &APIError{Code: CodeRateLimited, Message: "Too many requests. Please try again later."}
	}
	return &APIError{
		Code:    CodeRateLimited,
		Message: fmt.Sprintf("Too many requests. Please try again in %d seconds.", retryAfter),
		Details: &ErrorDetails{RetryAfter: retryAfter},
	}
}

func newServerError(status int) *APIError {
	e := &APIError{Code: CodeServerError, Message: "License server error. Please try again later."}
	if status > 0 {
		e.Details = &ErrorDetails{Status: status}
	}
	return e
}

func newNetworkError() *APIError {
	return &APIError{Code: CodeNetworkError, Message: "Unable to reach license server. Please check your internet connection."}
}

func newInvalidResponseError() *APIError {
	return &APIError{Code: CodeInvalidResponse, Message: "License server returned an invalid response."}
}

// CacheErrorCode classifies why a cache file was rejected.
type CacheErrorCode string

// Cache rejection codes
const (
	CodeCorruptedCache  CacheErrorCode = "CORRUPTED_CACHE"
	CodeMachineMismatch CacheErrorCode = "MACHINE_MISMATCH"
)

// CacheError explains a rejected cache for diagnostics. Read never surfaces it.
type CacheError struct {
	Code   CacheErrorCode `json:"code"`
	Reason string         `json:"reason"`
}

func (e *CacheError) Error() string {
	switch e.Code {
	case CodeMachineMismatch:
		return "License cache was created on a different machine. Please reactivate on this machine."
	default:
		return fmt.Sprintf("License cache is corrupted (%s). Please reactivate your license.", e.Reason)
	}
}

func corrupted(reason string) *CacheError {
	return &CacheError{Code: CodeCorruptedCache, Reason: reason}
}

// FeatureUnavailableError is returned by Gate.Require for a feature the current
// license does not unlock. It never carries the license key.
type FeatureUnavailableError struct {
	FeatureID       string
	Title           string
	ActivateCommand string
	PurchaseURL     string
}

func (e *FeatureUnavailableError) Error() string {
	return fmt.Sprintf("%s requires an active Pro license. Activate with: %s. Purchase at: %s. Your data and configurations are preserved.",
		e.Title, e.ActivateCommand, e.PurchaseURL)
}

// CLIMessage renders the error for terminal output.
func (e *FeatureUnavailableError) CLIMessage() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s requires an active Pro license.\n\n", e.Title)
	fmt.Fprintf(&b, "  Activate: %s\n", e.ActivateCommand)
	fmt.Fprintf(&b, "  Purchase: %s\n\n", e.PurchaseURL)
	b.WriteString("Your data and configurations are preserved.\n")
	return b.String()
}

// MarshalJSON renders the error as a flat object.
func (e *FeatureUnavailableError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Error           string `json:"error"`
		FeatureID       string `json:"featureId"`
		FriendlyName    string `json:"friendlyName"`
		Message         string `json:"message"`
		ActivateCommand string `json:"activateCommand"`
		PurchaseURL     string `json:"purchaseUrl"`
	}{
		Error:           "FeatureUnavailableError",
		FeatureID:       e.FeatureID,
		FriendlyName:    e.Title,
		Message:         e.Error(),
		ActivateCommand: e.ActivateCommand,
		PurchaseURL:     e.PurchaseURL,
	})
}

// IsFeatureUnavailable reports whether err is a FeatureUnavailableError.
func IsFeatureUnavailable(err error) bool {
	var fe *FeatureUnavailableError
	return errors.As(err, &fe)
}
