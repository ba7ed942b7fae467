package license

import (
	"log/slog"
	"time"

	"prolicense/internal/config"
	"prolicense/internal/security"
	"prolicense/pkg/contracts"
)

// Option configures a Store, Gate, Client or Manager. Options that do not
// apply to the component being built are ignored.
type Option func(*options)

type options struct {
	fingerprint func() string
	now         func() time.Time
	logger      *slog.Logger
	registry    *Registry
	cliName     string
	purchaseURL string
	metrics     *Metrics
	version     string
}

func newOptions(opts []Option) *options {
	o := &options{
		fingerprint: security.MachineFingerprint,
		now:         time.Now,
		logger:      slog.Default(),
		cliName:     config.AppName,
		purchaseURL: config.DefaultPurchaseURL,
		version:     contracts.Version,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = NewRegistry()
	}
	return o
}

// WithFingerprint replaces the machine fingerprint source.
func WithFingerprint(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.fingerprint = fn
		}
	}
}

// WithClock replaces the wall clock used for state derivation and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegistry sets the feature catalog used for names and listings.
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithCLIName sets the command name shown in activation hints.
func WithCLIName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.cliName = name
		}
	}
}

// WithPurchaseURL sets the purchase link shown in unlock notices.
func WithPurchaseURL(url string) Option {
	return func(o *options) {
		if url != "" {
			o.purchaseURL = url
		}
	}
}

// WithMetrics enables OpenTelemetry instruments.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithProductVersion sets the product version reported on activation.
func WithProductVersion(v string) Option {
	return func(o *options) {
		if v != "" {
			o.version = v
		}
	}
}

func (o *options) activateCommand() string {
	return o.cliName + " activate --key <KEY>"
}

func (o *options) validateCommand() string {
	return o.cliName + " validate"
}
