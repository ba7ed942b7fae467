package license

import (
	"time"

	"prolicense/internal/config"
)

// State is the license state derived from a record and the clock. It is never stored.
type State string

// License states
const (
	StateNotActivated State = "Not Activated"
	StateActive       State = "Active"
	StateGrace        State = "Grace"
	StateExpired      State = "Expired"
)

// Usable reports whether pro features are unlocked in this state.
func (s State) Usable() bool {
	return s == StateActive || s == StateGrace
}

const day = 24 * time.Hour

func validDays(rec *Record) int {
	if rec.CacheValidDays > 0 {
		return rec.CacheValidDays
	}
	return config.DefaultCacheValidDays
}

func graceDays(rec *Record) int {
	if rec.GracePeriodDays > 0 {
		return rec.GracePeriodDays
	}
	return config.DefaultGracePeriodDays
}

// ExpiryDate is the end of the offline validity window, or the zero time for nil.
func ExpiryDate(rec *Record) time.Time {
	if rec == nil || rec.ActivatedAt.IsZero() {
		return time.Time{}
	}
	return rec.ActivatedAt.Add(time.Duration(validDays(rec)) * day)
}

// GraceEndDate is the last instant features remain available.
func GraceEndDate(rec *Record) time.Time {
	expiry := ExpiryDate(rec)
	if expiry.IsZero() {
		return expiry
	}
	return expiry.Add(time.Duration(graceDays(rec)) * day)
}

// IsExpired reports whether now is past the validity window. Nil and undated records are expired.
func IsExpired(rec *Record, now time.Time) bool {
	expiry := ExpiryDate(rec)
	if expiry.IsZero() {
		return true
	}
	return now.After(expiry)
}

// IsInGrace reports whether rec is expired but still inside its grace period.
func IsInGrace(rec *Record, now time.Time) bool {
	if rec == nil || rec.ActivatedAt.IsZero() {
		return false
	}
	return IsExpired(rec, now) && !now.After(GraceEndDate(rec))
}

// DaysRemaining is cacheValidDays minus whole elapsed days; negative once expired, -1 for nil.
func DaysRemaining(rec *Record, now time.Time) int {
	if rec == nil || rec.ActivatedAt.IsZero() {
		return -1
	}
	elapsed := now.Sub(rec.ActivatedAt)
	elapsedDays := int(elapsed / day)
	if elapsed < 0 && elapsed%day != 0 {
		elapsedDays-- // floor for clocks behind activation
	}
	return validDays(rec) - elapsedDays
}

// StateAt derives the license state of rec at now.
func StateAt(rec *Record, now time.Time) State {
	switch {
	case rec == nil:
		return StateNotActivated
	case IsInGrace(rec, now):
		return StateGrace
	case IsExpired(rec, now):
		return StateExpired
	default:
		return StateActive
	}
}
