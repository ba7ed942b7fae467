package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"prolicense/pkg/contracts/domain"
)

// License server paths served by LicenseServer
const (
	ActivatePath   = "/v1/license/activate"
	ValidatePath   = "/v1/license/validate"
	DeactivatePath = "/v1/license/deactivate"
	HealthPath     = "/health"
)

// RecordedRequest is a request seen by LicenseServer.
type RecordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   map[string]any
}

// LicenseServer is an httptest license server with overridable handlers.
// By default it activates any key with pro.*, validates as valid and
// acknowledges deactivation.
type LicenseServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	requests []RecordedRequest
}

// NewLicenseServer starts a fake license server closed at the end of the test.
func NewLicenseServer(t testing.TB) *LicenseServer {
	t.Helper()

	s := &LicenseServer{handlers: map[string]http.HandlerFunc{
		ActivatePath: func(w http.ResponseWriter, r *http.Request) {
			var req domain.ActivateRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			WriteJSON(w, http.StatusOK, ActivateResponse(req.Key))
		},
		ValidatePath:   JSONResponse(http.StatusOK, ValidateResponse(true)),
		DeactivatePath: JSONResponse(http.StatusOK, DeactivateResponse()),
		HealthPath:     JSONResponse(http.StatusOK, map[string]string{"status": "ok"}),
	}}

	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *LicenseServer) serve(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	rec := RecordedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone()}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &rec.Body)
	}
	r.Body = io.NopCloser(bytes.NewReader(data))

	s.mu.Lock()
	s.requests = append(s.requests, rec)
	h, ok := s.handlers[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

// Handle replaces the handler for path.
func (s *LicenseServer) Handle(path string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[path] = h
}

// Requests returns the recorded requests for path, or all requests when path is empty.
func (s *LicenseServer) Requests(path string) []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RecordedRequest
	for _, r := range s.requests {
		if path == "" || r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// LastRequest returns the most recent request for path.
func (s *LicenseServer) LastRequest(path string) (RecordedRequest, bool) {
	reqs := s.Requests(path)
	if len(reqs) == 0 {
		return RecordedRequest{}, false
	}
	return reqs[len(reqs)-1], true
}

// WriteJSON writes body as JSON with status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// JSONResponse returns a handler that always answers with body.
func JSONResponse(status int, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, status, body)
	}
}

// RawResponse returns a handler that writes body verbatim.
func RawResponse(status int, contentType, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

// ErrorResponse returns a handler answering with a coded error body.
func ErrorResponse(status int, code, message string) http.HandlerFunc {
	return JSONResponse(status, domain.ErrorResponse{Code: code, Message: message})
}

// UnreachableURL returns the address of a server that has already been shut down.
func UnreachableURL(t testing.TB) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}
