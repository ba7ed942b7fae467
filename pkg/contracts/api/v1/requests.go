// Package api contains the request and response contracts of the local license daemon.
// Version v1 represents the current stable API version.
package api

import (
	"time"
)

// ActivateLicenseRequest represents a license activation request
type ActivateLicenseRequest struct {
	Key string `json:"key" validate:"required,license_key"`
}

// ActionResponse reports the outcome of a state changing license action
type ActionResponse struct {
	Success bool      `json:"success"`
	Action  string    `json:"action"`
	Message string    `json:"message,omitempty"`
	Pending bool      `json:"pending,omitempty"`
	At      time.Time `json:"at"`
}

// SyncResponse reports whether a pending deactivation was reconciled
type SyncResponse struct {
	Changed bool `json:"changed"`
	Pending bool `json:"pending"`
}
