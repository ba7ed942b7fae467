package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prolicense/internal/license"
	"prolicense/internal/shared/testutil"
	ws "prolicense/internal/websocket"
	"prolicense/pkg/contracts/events"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type daemon struct {
	upstream *testutil.LicenseServer
	manager  *license.Manager
	hub      *ws.Hub
	router   http.Handler
	logs     *testutil.BufferedSlogHandler
}

func newDaemon(t *testing.T) *daemon {
	t.Helper()

	logger, logs := testutil.NewTestLogger(t)
	upstream := testutil.NewLicenseServer(t)
	clock := testutil.NewClock(baseTime)

	opts := []license.Option{
		license.WithFingerprint(testutil.Fingerprint(testutil.TestFingerprint)),
		license.WithClock(clock.Now),
		license.WithLogger(logger),
		license.WithRegistry(license.NewRegistry(
			license.Feature{ID: "pro.reports.export", Name: "Report Export"},
			license.Feature{ID: "pro.squads.premium", Name: "Premium Squads"},
		)),
	}
	store := license.NewStore(t.TempDir(), opts...)
	gate := license.NewGate(store, opts...)
	client := license.NewClient(license.ClientConfig{BaseURL: upstream.URL, Timeout: 2 * time.Second}, opts...)
	manager := license.NewManager(store, client, gate, opts...)

	hub := ws.NewHub(logger, ws.WithGreeting(StatusGreeting(gate)))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	router := NewRouter(RouterConfig{
		Manager: manager,
		Health:  license.NewHealthChecker(store, client, opts...),
		Hub:     hub,
		Logger:  logger,
	})
	return &daemon{upstream: upstream, manager: manager, hub: hub, router: router, logs: logs}
}

func (d *daemon) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	d.router.ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.Contains(rec.Header().Get("Content-Type"), "json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func (d *daemon) activate(t *testing.T) {
	t.Helper()
	rec, _ := d.do(t, http.MethodPost, "/api/license/activate", `{"key":"`+testutil.ValidKey+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestStatus_NotActivated(t *testing.T) {
	d := newDaemon(t)

	rec, body := d.do(t, http.MethodGet, "/api/license/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["activated"])
	assert.Equal(t, string(license.StateNotActivated), body["state"])
	assert.Nil(t, body["license"])

	degradation := body["degradation"].(map[string]interface{})
	assert.Equal(t, true, degradation["degraded"])
	assert.Contains(t, degradation["action"], "activate")
}

func TestActivate(t *testing.T) {
	d := newDaemon(t)

	rec, body := d.do(t, http.MethodPost, "/api/license/activate", `{"key":"`+testutil.ValidKey+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["activated"])
	assert.Equal(t, string(license.StateActive), body["state"])

	info := body["license"].(map[string]interface{})
	assert.Equal(t, "PRO-ABCD-****-****-MNOP", info["key"])
	assert.Equal(t, float64(30), info["daysRemaining"])

	testutil.AssertNotLogged(t, d.logs, testutil.ValidKey)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestActivate_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		upstream   http.HandlerFunc
		wantStatus int
		wantType   string
		wantCode   string
	}{
		{
			name:       "malformed key",
			body:       `{"key":"not-a-key"}`,
			wantStatus: http.StatusBadRequest,
			wantType:   "/errors/validation",
		},
		{
			name:       "missing body",
			wantStatus: http.StatusBadRequest,
			wantType:   "/errors/bad-request",
		},
		{
			name:       "invalid key upstream",
			body:       `{"key":"` + testutil.ValidKey + `"}`,
			upstream:   testutil.ErrorResponse(http.StatusUnauthorized, "INVALID_KEY", "unknown key"),
			wantStatus: http.StatusUnauthorized,
			wantType:   "/errors/license/invalid-key",
			wantCode:   "INVALID_KEY",
		},
		{
			name:       "seat limit",
			body:       `{"key":"` + testutil.ValidKey + `"}`,
			upstream:   testutil.ErrorResponse(http.StatusConflict, "SEAT_LIMIT_EXCEEDED", "no seats"),
			wantStatus: http.StatusConflict,
			wantType:   "/errors/license/seat-limit",
			wantCode:   "SEAT_LIMIT_EXCEEDED",
		},
		{
			name:       "upstream outage",
			body:       `{"key":"` + testutil.ValidKey + `"}`,
			upstream:   testutil.RawResponse(http.StatusInternalServerError, "text/plain", "boom"),
			wantStatus: http.StatusBadGateway,
			wantType:   "/errors/license/server-error",
			wantCode:   "SERVER_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDaemon(t)
			if tt.upstream != nil {
				d.upstream.Handle(testutil.ActivatePath, tt.upstream)
			}

			rec, body := d.do(t, http.MethodPost, "/api/license/activate", tt.body)

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantType, body["type"])
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["error_code"])
			}
			assert.NotEmpty(t, body["trace_id"])
			assert.False(t, d.manager.Store().Exists())
		})
	}
}

func TestDeactivate(t *testing.T) {
	t.Run("not activated", func(t *testing.T) {
		d := newDaemon(t)
		rec, body := d.do(t, http.MethodPost, "/api/license/deactivate", "")
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "NOT_ACTIVATED", body["error_code"])
	})

	t.Run("online", func(t *testing.T) {
		d := newDaemon(t)
		d.activate(t)

		rec, body := d.do(t, http.MethodPost, "/api/license/deactivate", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["success"])
		assert.Nil(t, body["pending"])
		assert.False(t, d.manager.Store().Exists())
	})

	t.Run("offline then sync", func(t *testing.T) {
		d := newDaemon(t)
		d.activate(t)
		d.upstream.Handle(testutil.DeactivatePath, testutil.RawResponse(http.StatusServiceUnavailable, "", ""))

		rec, body := d.do(t, http.MethodPost, "/api/license/deactivate", "")
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, true, body["pending"])

		_, status := d.do(t, http.MethodGet, "/api/license/status", "")
		assert.Equal(t, true, status["pendingDeactivation"])

		d.upstream.Handle(testutil.DeactivatePath, testutil.JSONResponse(http.StatusOK, testutil.DeactivateResponse()))
		rec, body = d.do(t, http.MethodPost, "/api/license/sync", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["changed"])
		assert.Equal(t, false, body["pending"])
	})
}

func TestValidate(t *testing.T) {
	d := newDaemon(t)

	rec, _ := d.do(t, http.MethodPost, "/api/license/validate", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	d.activate(t)
	d.upstream.Handle(testutil.ValidatePath, testutil.JSONResponse(http.StatusOK,
		testutil.ValidateResponse(true, "pro.reports.*")))

	rec, body := d.do(t, http.MethodPost, "/api/license/validate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	info := body["license"].(map[string]interface{})
	assert.Equal(t, []interface{}{"pro.reports.*"}, info["features"])
}

func TestFeatures(t *testing.T) {
	d := newDaemon(t)

	rec, _ := d.do(t, http.MethodGet, "/api/license/features/pro.reports.export/require", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	_, feature := d.do(t, http.MethodGet, "/api/license/features/pro.reports.export", "")
	assert.Equal(t, false, feature["available"])
	assert.Equal(t, "Report Export", feature["name"])

	d.activate(t)

	rec, _ = d.do(t, http.MethodGet, "/api/license/features/pro.reports.export/require", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	_, list := d.do(t, http.MethodGet, "/api/license/features", "")
	assert.ElementsMatch(t, []interface{}{"pro.reports.export", "pro.squads.premium"}, list["available"])
	modules := list["modules"].(map[string]interface{})
	assert.Contains(t, modules, "reports")
	assert.Contains(t, modules, "squads")

	_, unknown := d.do(t, http.MethodGet, "/api/license/features/pro.unlisted.thing", "")
	assert.Equal(t, true, unknown["available"])
	assert.Equal(t, "pro.unlisted.thing", unknown["name"])
}

func TestHealthAndVersion(t *testing.T) {
	d := newDaemon(t)

	rec, body := d.do(t, http.MethodGet, "/api/license/health", "")
	assert.Contains(t, []int{http.StatusOK, http.StatusServiceUnavailable}, rec.Code)
	assert.Equal(t, true, body["serverReachable"])

	rec, body = d.do(t, http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1", body["api_version"])

	rec, _ = d.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRoutes(t *testing.T) {
	d := newDaemon(t)

	rec, body := d.do(t, http.MethodGet, "/api/nothing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "/errors/not-found", body["type"])

	rec, _ = d.do(t, http.MethodDelete, "/api/license/status", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEvents_PushesStatusOnReload(t *testing.T) {
	d := newDaemon(t)
	srv := httptest.NewServer(d.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/license/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	readStatus := func() (events.MessageType, map[string]interface{}) {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg struct {
			Type events.MessageType     `json:"type"`
			Data map[string]interface{} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg.Type, msg.Data
	}

	typ, data := readStatus()
	assert.Equal(t, events.MessageTypeLicenseStatus, typ)
	assert.Equal(t, string(license.StateNotActivated), data["state"])

	resp, err := http.Post(srv.URL+"/api/license/activate", "application/json",
		strings.NewReader(`{"key":"`+testutil.ValidKey+`"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	typ, data = readStatus()
	assert.Equal(t, events.MessageTypeLicenseStatus, typ)
	assert.Equal(t, string(license.StateActive), data["state"])
	info := data["license"].(map[string]interface{})
	assert.Equal(t, "PRO-ABCD-****-****-MNOP", info["key"])
}

func TestEvents_RejectsForeignOrigin(t *testing.T) {
	d := newDaemon(t)
	srv := httptest.NewServer(d.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/license/events"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
