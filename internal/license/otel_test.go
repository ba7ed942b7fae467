package license

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"prolicense/internal/shared/testutil"
)

func collectMetricNames(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += int64(dp.Count)
				}
			}
		}
	}
	return out
}

func TestLicenseMetricsRecorded(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	metrics, err := NewMetrics(provider.Meter(MeterName))
	require.NoError(t, err)

	f := newManagerFixture(t)
	f.manager.opts.metrics = metrics
	f.manager.client.opts.metrics = metrics
	f.gate.opts.metrics = metrics

	f.activate(t)
	_, err = f.manager.Activate(context.Background(), "bad")
	require.ErrorIs(t, err, ErrInvalidKeyFormat)
	f.gate.IsAvailable("team.only")

	got := collectMetricNames(t, reader)
	assert.Equal(t, int64(1), got["license_activation_attempts_total"])
	assert.Equal(t, int64(1), got["license_activation_duration_seconds"])
	assert.Equal(t, int64(1), got["license_server_request_duration_seconds"])
	assert.Equal(t, int64(1), got["license_feature_denied_total"])
	assert.Zero(t, got["license_activation_failures_total"])
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{newInvalidKeyError(), "INVALID_KEY"},
		{fmt.Errorf("wrapped: %w", newNetworkError()), "NETWORK_ERROR"},
		{corrupted("bad"), "CORRUPTED_CACHE"},
		{ErrInvalidKeyFormat, "INVALID_KEY_FORMAT"},
		{ErrNotActivated, "NOT_ACTIVATED"},
		{errors.New("disk full"), "INTERNAL"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyError(tt.err))
	}
}

func TestHashLicenseKey(t *testing.T) {
	h := hashLicenseKey(testutil.ValidKey)
	assert.Len(t, h, 16)
	assert.Equal(t, h, hashLicenseKey(testutil.ValidKey))
	assert.NotEqual(t, h, hashLicenseKey(testutil.OtherKey))
	assert.NotContains(t, h, "ABCD")
	assert.Equal(t, "empty", hashLicenseKey(""))
}

func TestCacheErrorMessages(t *testing.T) {
	assert.Contains(t, corrupted("integrity check failed").Error(), "integrity check failed")
	assert.Contains(t, corrupted("x").Error(), "reactivate")
	assert.Contains(t, (&CacheError{Code: CodeMachineMismatch}).Error(), "different machine")
}
