package testutil

import (
	"time"

	"prolicense/pkg/contracts/domain"
)

// Test license keys
const (
	ValidKey   = "PRO-ABCD-EFGH-IJKL-MNOP"
	OtherKey   = "PRO-1234-5678-9ABC-DEF0"
	RevokedKey = "PRO-DEAD-BEEF-0000-0001"
)

// Test machine fingerprints
const (
	TestFingerprint  = "0f1e2d3c4b5a69788796a5b4c3d2e1f00f1e2d3c4b5a69788796a5b4c3d2e1f0"
	OtherFingerprint = "aa11bb22cc33dd44ee55ff6600112233445566778899aabbccddeeff00112233"
)

// Fingerprint returns a fixed fingerprint source for stores under test.
func Fingerprint(fp string) func() string {
	return func() string { return fp }
}

// Clock is a settable time source for tests.
type Clock struct {
	t time.Time
}

// NewClock creates a clock frozen at t.
func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

// Now returns the current frozen time.
func (c *Clock) Now() time.Time { return c.t }

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) { c.t = t }

// Days returns n whole days as a duration.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// ActivateResponse returns a successful activation body for key.
func ActivateResponse(key string, features ...string) domain.ActivateResponse {
	if features == nil {
		features = []string{"pro.*"}
	}
	return domain.ActivateResponse{
		Key:             key,
		Features:        features,
		Seats:           domain.Seats{Used: 1, Max: 3},
		CacheValidDays:  30,
		GracePeriodDays: 7,
	}
}

// ValidateResponse returns a validation body.
func ValidateResponse(valid bool, features ...string) domain.ValidateResponse {
	return domain.ValidateResponse{
		Valid:    &valid,
		Features: features,
		Seats:    domain.Seats{Used: 1, Max: 3},
	}
}

// DeactivateResponse returns a successful deactivation body.
func DeactivateResponse() domain.DeactivateResponse {
	ok := true
	return domain.DeactivateResponse{
		Success:   &ok,
		SeatFreed: true,
		Message:   "Seat released",
	}
}
