package license

import (
	"time"

	"prolicense/internal/security"
	"prolicense/pkg/contracts/domain"
)

// Record is the decrypted activation state. It is only built from a fresh
// activation response or from a verified cache envelope.
type Record struct {
	Key             string       `json:"key"`
	ActivatedAt     time.Time    `json:"activatedAt"`
	ExpiresAt       *time.Time   `json:"expiresAt,omitempty"`
	Features        []string     `json:"features"`
	Seats           domain.Seats `json:"seats"`
	CacheValidDays  int          `json:"cacheValidDays"`
	GracePeriodDays int          `json:"gracePeriodDays"`
	MachineID       string       `json:"machineId"`
	Version         int          `json:"version"`
}

// complete reports whether every field a usable record needs is present.
func (r *Record) complete() bool {
	return r.Key != "" && !r.ActivatedAt.IsZero() && r.Features != nil && r.MachineID != ""
}

func (r *Record) clone() *Record {
	c := *r
	c.Features = append([]string{}, r.Features...)
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

// Info is the displayable view of a record at a point in time.
type Info struct {
	State           State        `json:"state"`
	Key             string       `json:"key"`
	Features        []string     `json:"features"`
	Seats           domain.Seats `json:"seats"`
	ActivatedAt     time.Time    `json:"activatedAt"`
	ExpiresAt       *time.Time   `json:"expiresAt,omitempty"`
	CacheExpiresAt  time.Time    `json:"cacheExpiresAt"`
	DaysRemaining   int          `json:"daysRemaining"`
	InGrace         bool         `json:"inGrace"`
	IsExpired       bool         `json:"isExpired"`
	CacheValidDays  int          `json:"cacheValidDays"`
	GracePeriodDays int          `json:"gracePeriodDays"`
}

// NewInfo describes rec as of now, with the key masked. A nil record yields nil.
func NewInfo(rec *Record, now time.Time) *Info {
	if rec == nil {
		return nil
	}
	return &Info{
		State:           StateAt(rec, now),
		Key:             security.MaskKey(rec.Key),
		Features:        append([]string{}, rec.Features...),
		Seats:           rec.Seats,
		ActivatedAt:     rec.ActivatedAt,
		ExpiresAt:       rec.ExpiresAt,
		CacheExpiresAt:  ExpiryDate(rec),
		DaysRemaining:   DaysRemaining(rec, now),
		InGrace:         IsInGrace(rec, now),
		IsExpired:       IsExpired(rec, now),
		CacheValidDays:  validDays(rec),
		GracePeriodDays: graceDays(rec),
	}
}
