package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prolicense/internal/shared/testutil"
)

const maskedKey = "PRO-ABCD-****-****-MNOP"

type harness struct {
	upstream *testutil.LicenseServer
	base     []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	upstream := testutil.NewLicenseServer(t)
	dir := t.TempDir()
	configPath := filepath.Join(dir, "prolicense.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("license:\n  cli_name: prolicense\n"), 0o600))

	return &harness{
		upstream: upstream,
		base: []string{
			"--config", configPath,
			"--root", filepath.Join(dir, "home"),
			"--server-url", upstream.URL,
		},
	}
}

func (h *harness) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append(append([]string{}, h.base...), args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (h *harness) runJSON(t *testing.T, args ...string) (int, map[string]interface{}) {
	t.Helper()

	code, stdout, stderr := h.run(t, append([]string{"--json"}, args...)...)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &body), "stdout=%q stderr=%q", stdout, stderr)
	return code, body
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		stdout   string
		stderr   string
	}{
		{name: "no command", wantCode: exitUsage, stderr: "Commands:"},
		{name: "unknown command", args: []string{"frobnicate"}, wantCode: exitUsage, stderr: `unknown command "frobnicate"`},
		{name: "missing key", args: []string{"activate"}, wantCode: exitUsage, stderr: "usage: prolicense activate --key <KEY>"},
		{name: "extra argument", args: []string{"status", "now"}, wantCode: exitUsage, stderr: "usage: prolicense status"},
		{name: "bad flag", args: []string{"--nope", "status"}, wantCode: exitUsage, stderr: "unknown flag"},
		{name: "help", args: []string{"--help"}, wantCode: exitOK, stderr: "--server-url"},
		{name: "version", args: []string{"--version"}, wantCode: exitOK, stdout: "prolicense"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), tt.args, &stdout, &stderr)

			assert.Equal(t, tt.wantCode, code)
			assert.Contains(t, stdout.String(), tt.stdout)
			assert.Contains(t, stderr.String(), tt.stderr)
		})
	}
}

func TestRun_Lifecycle(t *testing.T) {
	h := newHarness(t)

	code, stdout, stderr := h.run(t, "status")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Not Activated")

	code, stdout, stderr = h.run(t, "activate", "--key", testutil.ValidKey)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, maskedKey)
	assert.NotContains(t, stdout, testutil.ValidKey)
	assert.NotContains(t, stderr, testutil.ValidKey)

	req, ok := h.upstream.LastRequest(testutil.ActivatePath)
	require.True(t, ok)
	assert.Equal(t, testutil.ValidKey, req.Body["key"])

	code, body := h.runJSON(t, "status")
	require.Equal(t, exitOK, code)
	assert.Equal(t, "Active", body["state"])
	lic := body["license"].(map[string]interface{})
	assert.Equal(t, maskedKey, lic["key"])
	assert.Equal(t, false, body["pendingDeactivation"])

	code, stdout, _ = h.run(t, "features", "pro.reports.export")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "pro.reports.export is available")

	code, stdout, stderr = h.run(t, "validate")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "License is valid")

	code, stdout, stderr = h.run(t, "deactivate")
	require.Equal(t, exitOK, code, stderr)
	assert.NotEmpty(t, stdout)
	assert.Len(t, h.upstream.Requests(testutil.DeactivatePath), 1)

	code, _, stderr = h.run(t, "features", "pro.reports.export")
	assert.Equal(t, exitUnavailable, code)
	assert.Contains(t, stderr, "requires an active Pro license")
	assert.Contains(t, stderr, "prolicense activate --key <KEY>")
	assert.Contains(t, stderr, "Your data and configurations are preserved.")
}

func TestRun_Features(t *testing.T) {
	h := newHarness(t)

	code, body := h.runJSON(t, "features")
	require.Equal(t, exitOK, code)
	assert.Equal(t, "Not Activated", body["state"])
	assert.Empty(t, body["available"])
	assert.Empty(t, body["granted"])

	code, body = h.runJSON(t, "features", "pro.squads.premium")
	assert.Equal(t, exitUnavailable, code)
	assert.Equal(t, "FEATURE_UNAVAILABLE", body["code"])
	feature := body["feature"].(map[string]interface{})
	assert.Equal(t, "pro.squads.premium", feature["featureId"])
	assert.NotEmpty(t, feature["purchaseUrl"])

	code, _, _ = h.run(t, "activate", testutil.ValidKey)
	require.Equal(t, exitOK, code)

	code, stdout, _ := h.run(t, "features")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "Unlocked:")
}

func TestRun_ActivateFailures(t *testing.T) {
	t.Run("malformed key", func(t *testing.T) {
		h := newHarness(t)

		code, stdout, stderr := h.run(t, "activate", "not-a-key")
		assert.Equal(t, exitError, code)
		assert.Empty(t, stdout)
		assert.Contains(t, stderr, "invalid license key format")
		assert.Empty(t, h.upstream.Requests(testutil.ActivatePath))
	})

	t.Run("rejected by server", func(t *testing.T) {
		h := newHarness(t)
		h.upstream.Handle(testutil.ActivatePath, testutil.ErrorResponse(http.StatusUnauthorized, "INVALID_KEY", "Unknown license key"))

		code, body := h.runJSON(t, "activate", testutil.RevokedKey)
		assert.Equal(t, exitError, code)
		assert.Equal(t, "INVALID_KEY", body["code"])

		code, body = h.runJSON(t, "status")
		assert.Equal(t, exitOK, code)
		assert.Equal(t, "Not Activated", body["state"])
	})

	t.Run("server unreachable", func(t *testing.T) {
		h := newHarness(t)
		h.base = append(h.base, "--server-url", testutil.UnreachableURL(t))

		code, body := h.runJSON(t, "activate", testutil.ValidKey)
		assert.Equal(t, exitError, code)
		assert.Equal(t, "NETWORK_ERROR", body["code"])
	})
}

func TestRun_OfflineDeactivation(t *testing.T) {
	h := newHarness(t)

	code, _, _ := h.run(t, "activate", testutil.ValidKey)
	require.Equal(t, exitOK, code)

	h.upstream.Handle(testutil.DeactivatePath, testutil.RawResponse(http.StatusServiceUnavailable, "text/plain", "down"))

	code, body := h.runJSON(t, "deactivate")
	require.Equal(t, exitOK, code)
	assert.Equal(t, true, body["offline"])

	code, body = h.runJSON(t, "status")
	require.Equal(t, exitOK, code)
	assert.Equal(t, "Not Activated", body["state"])
	assert.Equal(t, true, body["pendingDeactivation"])

	code, body = h.runJSON(t, "sync")
	require.Equal(t, exitOK, code)
	assert.Equal(t, false, body["changed"])
	assert.Equal(t, true, body["pending"])

	h.upstream.Handle(testutil.DeactivatePath, testutil.JSONResponse(http.StatusOK, testutil.DeactivateResponse()))

	code, stdout, _ := h.run(t, "sync")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "Pending deactivation sent")

	code, body = h.runJSON(t, "status")
	require.Equal(t, exitOK, code)
	assert.Equal(t, false, body["pendingDeactivation"])
}

func TestRun_DeactivateText(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{"server message", testutil.JSONResponse(http.StatusOK, testutil.DeactivateResponse()), "Seat released"},
		{"no message", testutil.JSONResponse(http.StatusOK, map[string]any{"success": true}), "License deactivated."},
		{"offline", testutil.RawResponse(http.StatusServiceUnavailable, "text/plain", "down"), "queued"},
		{"not confirmed", testutil.JSONResponse(http.StatusOK, map[string]any{"success": false}), "queued"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			code, _, _ := h.run(t, "activate", testutil.ValidKey)
			require.Equal(t, exitOK, code)

			h.upstream.Handle(testutil.DeactivatePath, tt.handler)
			code, stdout, stderr := h.run(t, "deactivate")
			require.Equal(t, exitOK, code, stderr)
			assert.Contains(t, stdout, tt.want)
		})
	}
}

func TestRun_DeactivateWithoutLicense(t *testing.T) {
	h := newHarness(t)

	code, body := h.runJSON(t, "deactivate")
	assert.Equal(t, exitError, code)
	assert.Equal(t, "NOT_ACTIVATED", body["code"])
}

func TestRun_ServeStopsOnCancel(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	args := append(append([]string{}, h.base...), "--port", "0", "serve")
	code := run(ctx, args, &stdout, &stderr)
	assert.Equal(t, exitOK, code, stderr.String())
}
