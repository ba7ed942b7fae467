package errors

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

const (
	// bodies larger than this are never buffered for logging
	maxLoggedBody = 64 * 1024
	// logged bodies are cut to this many bytes
	logBodyPreview = 500
)

var redactedFields = map[string]bool{
	"key": true, "license_key": true, "licensekey": true,
	"password": true, "token": true, "secret": true,
}

// ErrorMiddleware recovers panics and writes one access log line per request.
// Bodies of failed requests are logged with license keys redacted.
type ErrorMiddleware struct {
	handler *ErrorHandler
	logger  *slog.Logger
}

func NewErrorMiddleware(handler *ErrorHandler, logger *slog.Logger) *ErrorMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorMiddleware{
		handler: handler,
		logger:  logger.With(slog.String("component", "error_middleware")),
	}
}

func (m *ErrorMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		body := captureBody(r)
		start := time.Now()

		defer func() {
			if rec := recover(); rec != nil {
				m.handler.HandlePanic(ww, r, rec)
			}
			m.access(r, ww, time.Since(start), body)
		}()

		next.ServeHTTP(ww, r)
	})
}

// captureBody reads a small body and puts an equivalent reader back
func captureBody(r *http.Request) []byte {
	if r.Body == nil || r.ContentLength <= 0 || r.ContentLength >= maxLoggedBody {
		return nil
	}
	data, err := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return data
}

func (m *ErrorMiddleware) access(r *http.Request, ww middleware.WrapResponseWriter, elapsed time.Duration, body []byte) {
	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}

	var level slog.Level
	switch {
	case status >= http.StatusInternalServerError:
		level = slog.LevelError
	case status >= http.StatusBadRequest:
		level = slog.LevelWarn
	default:
		level = slog.LevelInfo
	}

	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", elapsed),
		slog.Int("bytes", ww.BytesWritten()),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	}
	if status >= http.StatusBadRequest && len(body) > 0 {
		preview := sanitizeRequestBody(body)
		if len(preview) > logBodyPreview {
			preview = preview[:logBodyPreview] + "..."
		}
		attrs = append(attrs, slog.String("request_body", preview))
	}

	m.logger.LogAttrs(r.Context(), level, "http request", attrs...)
}

// sanitizeRequestBody masks secret fields of a JSON object. Anything else is
// replaced wholesale because a key could hide anywhere in it.
func sanitizeRequestBody(body []byte) string {
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return "[unparseable body omitted]"
	}
	for name := range fields {
		if redactedFields[strings.ToLower(name)] {
			fields[name] = "[REDACTED]"
		}
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return "[unparseable body omitted]"
	}
	return string(out)
}
