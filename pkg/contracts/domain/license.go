// Package domain contains the wire models exchanged with the license server.
// These types are the single source of truth for request and response shapes.
package domain

import (
	"time"
)

// Seats reports license capacity as counted by the server
type Seats struct {
	Used int `json:"used"`
	Max  int `json:"max"`
}

// ActivateRequest is the body of POST /v1/license/activate
type ActivateRequest struct {
	Key            string `json:"key"`
	MachineID      string `json:"machineId"`
	ProductVersion string `json:"productVersion"`
}

// ValidateRequest is the body of POST /v1/license/validate
type ValidateRequest struct {
	Key       string `json:"key"`
	MachineID string `json:"machineId"`
}

// DeactivateRequest is the body of POST /v1/license/deactivate
type DeactivateRequest struct {
	Key                 string `json:"key"`
	MachineID           string `json:"machineId"`
	OfflineDeactivation bool   `json:"offlineDeactivation,omitempty"`
}

// ActivateResponse is a successful activation. Features is required; a nil slice
// means the field was absent.
type ActivateResponse struct {
	Key             string     `json:"key,omitempty"`
	Features        []string   `json:"features"`
	Seats           Seats      `json:"seats"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	CacheValidDays  int        `json:"cacheValidDays,omitempty"`
	GracePeriodDays int        `json:"gracePeriodDays,omitempty"`
}

// ValidateResponse is a successful validation. Valid is required.
type ValidateResponse struct {
	Valid     *bool      `json:"valid"`
	Features  []string   `json:"features,omitempty"`
	Seats     Seats      `json:"seats"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// DeactivateResponse is a successful deactivation. Success is required.
type DeactivateResponse struct {
	Success   *bool  `json:"success"`
	SeatFreed bool   `json:"seatFreed,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ErrorResponse is the best-effort decoding of a non-2xx body
type ErrorResponse struct {
	Code       string        `json:"code,omitempty"`
	Message    string        `json:"message,omitempty"`
	Error      string        `json:"error,omitempty"`
	RetryAfter int           `json:"retryAfter,omitempty"`
	Details    *ErrorDetails `json:"details,omitempty"`
}

// ErrorDetails carries the structured parts of a server error
type ErrorDetails struct {
	Used       int `json:"used,omitempty"`
	Max        int `json:"max,omitempty"`
	RetryAfter int `json:"retryAfter,omitempty"`
}
