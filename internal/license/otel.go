package license

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"prolicense/internal/infrastructure"
)

const (
	TracerName = "prolicense"
	MeterName  = "prolicense"
)

// Metrics holds the license OpenTelemetry instruments.
type Metrics struct {
	ActivationAttempts metric.Int64Counter
	ActivationFailures metric.Int64Counter
	ActivationDuration metric.Float64Histogram

	ValidationAttempts metric.Int64Counter
	ValidationFailures metric.Int64Counter
	ValidationDuration metric.Float64Histogram

	DeactivationAttempts metric.Int64Counter
	DeactivationFailures metric.Int64Counter
	OfflineDeactivations metric.Int64Counter

	SyncAttempts metric.Int64Counter
	SyncFailures metric.Int64Counter

	RequestDuration metric.Float64Histogram
	FeatureDenied   metric.Int64Counter
}

// NewMetrics creates the license instruments on meter, or on the global
// meter provider when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}
	m := &Metrics{}

	counters := []struct {
		dst         *metric.Int64Counter
		name        string
		description string
	}{
		{&m.ActivationAttempts, "license_activation_attempts_total", "Total number of license activation attempts"},
		{&m.ActivationFailures, "license_activation_failures_total", "Total number of failed license activations"},
		{&m.ValidationAttempts, "license_validation_attempts_total", "Total number of online license validations"},
		{&m.ValidationFailures, "license_validation_failures_total", "Total number of failed online license validations"},
		{&m.DeactivationAttempts, "license_deactivation_attempts_total", "Total number of license deactivations"},
		{&m.DeactivationFailures, "license_deactivation_failures_total", "Total number of failed license deactivations"},
		{&m.OfflineDeactivations, "license_offline_deactivations_total", "Total number of deactivations recorded for later sync"},
		{&m.SyncAttempts, "license_sync_attempts_total", "Total number of pending deactivation sync attempts"},
		{&m.SyncFailures, "license_sync_failures_total", "Total number of pending deactivation syncs left pending"},
		{&m.FeatureDenied, "license_feature_denied_total", "Total number of feature checks that were denied"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.description))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	histograms := []struct {
		dst         *metric.Float64Histogram
		name        string
		description string
	}{
		{&m.ActivationDuration, "license_activation_duration_seconds", "License activation duration in seconds"},
		{&m.ValidationDuration, "license_validation_duration_seconds", "License validation duration in seconds"},
		{&m.RequestDuration, "license_server_request_duration_seconds", "License server request duration in seconds"},
	}
	for _, h := range histograms {
		histogram, err := meter.Float64Histogram(h.name,
			metric.WithDescription(h.description),
			metric.WithUnit("s"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
		*h.dst = histogram
	}

	return m, nil
}

// traceOperation runs fn inside a span named license.<operation> and records
// attempt, failure and duration instruments when present.
func traceOperation(ctx context.Context, operation string, key string,
	attempts, failures metric.Int64Counter, duration metric.Float64Histogram,
	fn func(ctx context.Context) error) error {

	ctx, span := otel.Tracer(TracerName).Start(ctx, "license."+operation,
		trace.WithAttributes(
			attribute.String("license.operation", operation),
			attribute.String("license.key_hash", hashLicenseKey(key)),
			attribute.String("component", "license_manager"),
		),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	labels := metric.WithAttributes(attribute.String("operation", operation))
	if attempts != nil {
		attempts.Add(ctx, 1, labels)
	}
	if duration != nil {
		duration.Record(ctx, elapsed.Seconds(), labels)
	}

	span.SetAttributes(
		attribute.Float64("license.duration_ms", float64(elapsed.Milliseconds())),
		attribute.Bool("license.success", err == nil),
	)
	if err != nil {
		if failures != nil {
			failures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("operation", operation),
				attribute.String("error_type", classifyError(err)),
			))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("license.error_type", classifyError(err)))
		return err
	}

	span.SetStatus(codes.Ok, "")
	infrastructure.AddSpanEvent(ctx, "license."+operation+".success",
		attribute.String("license_key_hash", hashLicenseKey(key)),
	)
	return nil
}

// classifyError maps an error to a low-cardinality label.
func classifyError(err error) string {
	var apiErr *APIError
	var cacheErr *CacheError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr):
		return string(apiErr.Code)
	case errors.As(err, &cacheErr):
		return string(cacheErr.Code)
	case errors.Is(err, ErrInvalidKeyFormat):
		return "INVALID_KEY_FORMAT"
	case errors.Is(err, ErrNotActivated):
		return "NOT_ACTIVATED"
	case errors.Is(err, errNotConfirmed):
		return "NOT_CONFIRMED"
	default:
		return "INTERNAL"
	}
}

// hashLicenseKey returns a short stable digest for correlating logs without the key.
func hashLicenseKey(key string) string {
	if key == "" {
		return "empty"
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}
