package license

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"prolicense/internal/security"
	"prolicense/pkg/contracts/domain"
)

// DeactivationOutcome reports how a deactivation was completed.
type DeactivationOutcome struct {
	// Offline is set when the server could not be reached and the deactivation
	// was recorded for a later sync.
	Offline   bool   `json:"offline"`
	SeatFreed bool   `json:"seatFreed"`
	Message   string `json:"message,omitempty"`
}

// Manager runs the license lifecycle over a Store, a Client and a Gate.
type Manager struct {
	store  *Store
	client *Client
	gate   *Gate
	opts   *options
	logger *slog.Logger

	// mu serializes operations that rewrite local state.
	mu sync.Mutex
}

// NewManager wires the lifecycle components together.
func NewManager(store *Store, client *Client, gate *Gate, opts ...Option) *Manager {
	o := newOptions(opts)
	return &Manager{
		store:  store,
		client: client,
		gate:   gate,
		opts:   o,
		logger: o.logger.With(slog.String("component", "license_manager")),
	}
}

// Gate returns the feature gate reloaded by every lifecycle operation.
func (m *Manager) Gate() *Gate { return m.gate }

// Store returns the underlying cache store.
func (m *Manager) Store() *Store { return m.store }

// Client returns the license server client.
func (m *Manager) Client() *Client { return m.client }

// Status describes the current license, or nil when not activated.
func (m *Manager) Status() *Info { return m.gate.Info() }

// Pending reports the offline deactivation record, if any.
func (m *Manager) Pending() PendingStatus { return m.store.HasPending() }

// Activate validates the key format, activates it on the server and caches the result.
func (m *Manager) Activate(ctx context.Context, key string) (*Info, error) {
	key = strings.TrimSpace(key)
	if !security.ValidateKeyFormat(key) {
		m.logWarn(ctx, "activation", "License key rejected by format check", keyAttrs(key)...)
		return nil, ErrInvalidKeyFormat
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	attempts, failures, duration := m.instruments("activation")
	var result *ActivationResult
	err := traceOperation(ctx, "activation", key, attempts, failures, duration, func(ctx context.Context) error {
		r, err := m.client.Activate(ctx, key, m.store.MachineID(), m.opts.version)
		if err != nil {
			return err
		}
		if err := m.store.Write(r.Record()); err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		m.logError(ctx, "activation", "License activation failed",
			append(keyAttrs(key), slog.String("error_type", classifyError(err)))...)
		return nil, err
	}

	if p := m.store.HasPending(); p.Data != nil && p.Data.LicenseKey == result.Key {
		if err := m.store.ClearPending(); err != nil {
			m.logWarn(ctx, "activation", "Failed to clear stale pending deactivation", slog.String("error", err.Error()))
		}
	}
	m.gate.Reload()

	m.logInfo(ctx, "activation", "License activated",
		append(keyAttrs(result.Key),
			slog.Int("features", len(result.Features)),
			slog.Int("seats_used", result.Seats.Used),
			slog.Int("seats_max", result.Seats.Max),
		)...)
	return m.Status(), nil
}

// Deactivate releases the seat and removes the local cache. When the server is
// unavailable the deactivation is recorded and the cache is still removed.
// Invalid or expired keys are dropped locally without a pending record.
func (m *Manager) Deactivate(ctx context.Context) (*DeactivationOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.store.Read()
	if rec == nil {
		return nil, ErrNotActivated
	}

	outcome := &DeactivationOutcome{}
	attempts, failures, _ := m.instruments("deactivation")
	err := traceOperation(ctx, "deactivation", rec.Key, attempts, failures, nil, func(ctx context.Context) error {
		res, err := m.client.Deactivate(ctx, rec.Key, m.store.MachineID())
		if err == nil && !res.Success {
			err = errNotConfirmed
		}
		switch {
		case err == nil:
			outcome.SeatFreed = res.SeatFreed
			outcome.Message = res.Message
		case IsCode(err, CodeInvalidKey, CodeExpiredKey):
			m.logWarn(ctx, "deactivation", "Server no longer recognises the key, removing local license",
				slog.String("error_type", classifyError(err)))
		default:
			if perr := m.store.SetPending(rec.Key); perr != nil {
				return perr
			}
			outcome.Offline = true
			if m.opts.metrics != nil {
				m.opts.metrics.OfflineDeactivations.Add(ctx, 1)
			}
			m.logWarn(ctx, "deactivation", "License server unavailable, deactivation recorded for sync",
				slog.String("error_type", classifyError(err)))
		}
		return m.store.Delete()
	})
	m.gate.Reload()
	if err != nil {
		m.logError(ctx, "deactivation", "License deactivation failed", slog.String("error", err.Error()))
		return nil, err
	}

	m.logInfo(ctx, "deactivation", "License deactivated",
		append(keyAttrs(rec.Key),
			slog.Bool("offline", outcome.Offline),
			slog.Bool("seat_freed", outcome.SeatFreed),
		)...)
	return outcome, nil
}

// Validate re-checks the cached key online. A valid key renews the offline
// window; an invalid or expired key removes the cache. Network failures leave
// the cache untouched.
func (m *Manager) Validate(ctx context.Context) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.store.Read()
	if rec == nil {
		return nil, ErrNotActivated
	}

	attempts, failures, duration := m.instruments("validation")
	err := traceOperation(ctx, "validation", rec.Key, attempts, failures, duration, func(ctx context.Context) error {
		res, err := m.client.Validate(ctx, rec.Key, m.store.MachineID())
		if err != nil {
			if IsCode(err, CodeInvalidKey, CodeExpiredKey) {
				m.dropLocal(ctx)
			}
			return err
		}
		if !res.Valid {
			m.dropLocal(ctx)
			return newInvalidKeyError()
		}

		updated := rec.clone()
		updated.ActivatedAt = m.opts.now().UTC()
		if res.Features != nil {
			updated.Features = res.Features
		}
		if res.Seats != (domain.Seats{}) {
			updated.Seats = res.Seats
		}
		if res.ExpiresAt != nil {
			updated.ExpiresAt = res.ExpiresAt
		}
		return m.store.Write(updated)
	})
	m.gate.Reload()
	if err != nil {
		m.logWarn(ctx, "validation", "License validation failed", slog.String("error_type", classifyError(err)))
		return nil, err
	}

	m.logInfo(ctx, "validation", "License validated", keyAttrs(rec.Key)...)
	return m.Status(), nil
}

func (m *Manager) dropLocal(ctx context.Context) {
	if err := m.store.Delete(); err != nil {
		m.logError(ctx, "validation", "Failed to remove rejected license", slog.String("error", err.Error()))
	}
}

// SyncPending replays a pending offline deactivation. It reports whether the
// record was resolved.
func (m *Manager) SyncPending(ctx context.Context) bool {
	if !m.store.HasPending().Pending {
		return false
	}

	synced := m.client.SyncPendingDeactivation(ctx, m.store.MachineID(), m.store)
	if met := m.opts.metrics; met != nil {
		met.SyncAttempts.Add(ctx, 1)
		if !synced {
			met.SyncFailures.Add(ctx, 1)
		}
	}
	if synced {
		m.logInfo(ctx, "sync", "Pending deactivation synced")
	} else {
		m.logDebug(ctx, "sync", "Pending deactivation still pending")
	}
	return synced
}

// RunSync retries pending deactivations every interval until ctx is done.
func (m *Manager) RunSync(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("sync interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.SyncPending(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.SyncPending(ctx)
		}
	}
}

func (m *Manager) instruments(op string) (metric.Int64Counter, metric.Int64Counter, metric.Float64Histogram) {
	met := m.opts.metrics
	if met == nil {
		return nil, nil, nil
	}
	switch op {
	case "activation":
		return met.ActivationAttempts, met.ActivationFailures, met.ActivationDuration
	case "validation":
		return met.ValidationAttempts, met.ValidationFailures, met.ValidationDuration
	case "deactivation":
		return met.DeactivationAttempts, met.DeactivationFailures, nil
	default:
		return nil, nil, nil
	}
}
