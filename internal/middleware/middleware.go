package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	apierrors "prolicense/internal/errors"
	"prolicense/internal/infrastructure"
)

const RequestIDHeader = "X-Request-ID"

// RequestID must run first. It keeps a client supplied UUID or makes a new
// one, echoes it in the response and stores it for both chi's GetReqID and
// infrastructure.GetTraceID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if uuid.Validate(id) != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := infrastructure.WithTraceID(context.WithValue(r.Context(), middleware.RequestIDKey, id), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetRequestID(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	return infrastructure.GetTraceID(ctx)
}

// RateLimiter guards activate, deactivate and sync. Each of those reaches the
// upstream license server, which rate limits per key.
type RateLimiter struct {
	limiter    *rate.Limiter
	retryAfter int
	logger     *slog.Logger
}

// NewRateLimiter allows rps requests per second with the given burst.
// Retry-After is the time for one token to refill, at least a second.
func NewRateLimiter(rps float64, burst int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	retry := 1
	if rps > 0 {
		retry = int(math.Max(1, math.Round(1/rps)))
	}
	return &RateLimiter{
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		retryAfter: retry,
		logger:     logger.With(slog.String("component", "rate_limiter")),
	}
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.limiter.Allow() {
			next.ServeHTTP(w, r)
			return
		}
		rl.reject(w, r)
	})
}

func (rl *RateLimiter) reject(w http.ResponseWriter, r *http.Request) {
	rl.logger.WarnContext(r.Context(), "rate limit exceeded",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)

	problem := apierrors.NewProblemDetails(http.StatusTooManyRequests, apierrors.TypeRateLimit,
		"Too Many Requests",
		fmt.Sprintf("Too many license operations. Retry in %d seconds.", rl.retryAfter),
		r.URL.Path,
	).WithExtension("retry_after", rl.retryAfter)
	if id := GetRequestID(r.Context()); id != "" {
		problem.WithExtension("trace_id", id)
	}
	_ = render.Render(w, r, problem)
}

// SecurityHeaders marks every response as an uncacheable JSON API that must
// not be framed.
func SecurityHeaders(next http.Handler) http.Handler {
	headers := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
