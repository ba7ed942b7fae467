package license

import (
	"errors"
	"fmt"
	"log/slog"
)

// DegradationStatus explains whether pro features are currently withheld.
type DegradationStatus struct {
	Degraded bool   `json:"degraded"`
	State    State  `json:"state"`
	Reason   string `json:"reason"`
	Action   string `json:"action,omitempty"`
}

// DegradeOption tunes WithGracefulDegradation.
type DegradeOption func(*degradeConfig)

type degradeConfig struct {
	silent bool
}

// Silent suppresses the unlock notice.
func Silent() DegradeOption {
	return func(c *degradeConfig) { c.silent = true }
}

// WithGracefulDegradation runs pro when id is available, otherwise logs the
// unlock notice and runs fallback. A nil fallback yields the zero value.
func WithGracefulDegradation[T any](g *Gate, id string, pro, fallback func() T, opts ...DegradeOption) T {
	if g.IsAvailable(id) {
		return pro()
	}

	var cfg degradeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.silent {
		g.logger.Info(fmt.Sprintf("%s requires an active Pro license", g.opts.registry.Name(id)),
			slog.String("feature", id),
			slog.String("activate", g.opts.activateCommand()),
			slog.String("purchase", g.opts.purchaseURL),
		)
	}

	if fallback == nil {
		var zero T
		return zero
	}
	return fallback()
}

// IfAvailable runs fn only when id is available. The bool reports whether it ran.
func IfAvailable[T any](g *Gate, id string, fn func() T) (T, bool) {
	if !g.IsAvailable(id) {
		var zero T
		return zero, false
	}
	return fn(), true
}

// Recover replaces a FeatureUnavailableError from fn with the fallback result.
// Other errors pass through unchanged.
func Recover[T any](fn func() (T, error), fallback func() (T, error)) (T, error) {
	v, err := fn()
	var fe *FeatureUnavailableError
	if err != nil && errors.As(err, &fe) && fallback != nil {
		return fallback()
	}
	return v, err
}

// IsDegraded reports whether pro features are withheld.
func (g *Gate) IsDegraded() bool {
	return !g.State().Usable()
}

// DegradationStatus describes the current state and the command that resolves it.
func (g *Gate) DegradationStatus() DegradationStatus {
	state := g.State()
	switch state {
	case StateActive:
		return DegradationStatus{
			State:  state,
			Reason: "License is active",
		}
	case StateGrace:
		return DegradationStatus{
			State:  state,
			Reason: "License is in its grace period and needs online validation",
			Action: g.opts.validateCommand(),
		}
	case StateExpired:
		return DegradationStatus{
			Degraded: true,
			State:    state,
			Reason:   "License cache has expired",
			Action:   g.opts.activateCommand(),
		}
	default:
		return DegradationStatus{
			Degraded: true,
			State:    state,
			Reason:   "No license activated",
			Action:   g.opts.activateCommand(),
		}
	}
}
