package license

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"prolicense/internal/security"
)

// PendingDeactivation records a deactivation the server has not yet acknowledged.
type PendingDeactivation struct {
	LicenseKey    string     `json:"licenseKey"`
	MachineID     string     `json:"machineId"`
	DeactivatedAt time.Time  `json:"deactivatedAt"`
	Synced        bool       `json:"synced"`
	SyncedAt      *time.Time `json:"syncedAt,omitempty"`
}

// PendingStatus is the result of HasPending. A missing file and a synced
// record both report Pending false.
type PendingStatus struct {
	Pending bool                 `json:"pending"`
	Data    *PendingDeactivation `json:"data,omitempty"`
}

// PendingStore is the subset of Store the client needs to replay a deactivation.
type PendingStore interface {
	HasPending() PendingStatus
	MarkSynced() error
	ClearPending() error
}

// SetPending records key as deactivated offline on this machine.
func (s *Store) SetPending(key string) error {
	if key == "" {
		return errors.New("pending deactivation requires a key")
	}
	data, err := json.MarshalIndent(&PendingDeactivation{
		LicenseKey:    key,
		MachineID:     s.MachineID(),
		DeactivatedAt: s.opts.now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode pending deactivation: %w", err)
	}
	if err := writeFileAtomic(s.dir, PendingFileName, data); err != nil {
		return fmt.Errorf("failed to write pending deactivation: %w", err)
	}

	s.logger.Info("Pending deactivation recorded", slog.String("key", security.MaskKey(key)))
	return nil
}

// HasPending reports whether an unsynced deactivation is waiting.
// An unreadable file is treated as absent.
func (s *Store) HasPending() PendingStatus {
	p, err := s.readPending()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Ignoring unreadable pending deactivation", slog.String("error", err.Error()))
		}
		return PendingStatus{}
	}
	return PendingStatus{Pending: !p.Synced, Data: p}
}

// MarkSynced flags the pending record as acknowledged. No-op when absent.
func (s *Store) MarkSynced() error {
	p, err := s.readPending()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	now := s.opts.now().UTC()
	p.Synced = true
	p.SyncedAt = &now

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode pending deactivation: %w", err)
	}
	if err := writeFileAtomic(s.dir, PendingFileName, data); err != nil {
		return fmt.Errorf("failed to write pending deactivation: %w", err)
	}
	return nil
}

// ClearPending removes the pending record. No-op when absent.
func (s *Store) ClearPending() error {
	if err := os.Remove(s.PendingPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear pending deactivation: %w", err)
	}
	return nil
}

func (s *Store) readPending() (*PendingDeactivation, error) {
	data, err := os.ReadFile(s.PendingPath())
	if err != nil {
		return nil, err
	}
	var p PendingDeactivation
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("pending deactivation is not valid JSON: %w", err)
	}
	if p.LicenseKey == "" {
		return nil, errors.New("pending deactivation is missing the license key")
	}
	return &p, nil
}
