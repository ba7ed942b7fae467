package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

// Problem types for errors that are not license specific
const (
	TypeValidation  = "/errors/validation"
	TypeBadRequest  = "/errors/bad-request"
	TypeForbidden   = "/errors/forbidden"
	TypeNotFound    = "/errors/not-found"
	TypeConflict    = "/errors/conflict"
	TypeRateLimit   = "/errors/rate-limit"
	TypeInternal    = "/errors/internal"
	TypeServiceDown = "/errors/service-unavailable"
	TypeTimeout     = "/errors/timeout"
	TypeNotAllowed  = "/errors/method-not-allowed"
)

var typeByStatus = map[int]string{
	http.StatusBadRequest:         TypeBadRequest,
	http.StatusForbidden:          TypeForbidden,
	http.StatusNotFound:           TypeNotFound,
	http.StatusConflict:           TypeConflict,
	http.StatusTooManyRequests:    TypeRateLimit,
	http.StatusServiceUnavailable: TypeServiceDown,
}

// ErrorHandler writes every failed daemon response as problem details and
// logs it once.
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates an ErrorHandler. includeStack adds goroutine stacks
// to 5xx responses and belongs in development builds only.
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError renders err. A nil err writes nothing.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	problem := h.ErrorToProblem(err, r)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	// license errors never carry the key
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.Int("status", problem.Status),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	h.write(w, r, problem)
}

// ErrorToProblem picks the problem for err. License errors come first, then
// validator failures, then the daemon's own APIErrors. Anything else is a 500
// that does not leak err's text.
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	path := r.URL.Path

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProblemDetails(http.StatusGatewayTimeout, TypeTimeout, "Request Timeout",
			"The request did not finish in time", path)
	}
	if problem := MapLicenseError(err, path); problem != nil {
		return problem
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return NewProblemDetails(http.StatusBadRequest, TypeValidation, "Validation Failed",
			"Request validation failed", path).
			WithExtension("errors", FieldErrors(fieldErrs))
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiProblem(apiErr, path)
	}

	return NewProblemDetails(http.StatusInternalServerError, TypeInternal, "Internal Server Error",
		"An unexpected error occurred", path)
}

// FieldErrors flattens validator errors into field/message pairs.
func FieldErrors(errs validator.ValidationErrors) []ValidationError {
	out := make([]ValidationError, 0, len(errs))
	for _, fe := range errs {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = "is required"
		case "license_key":
			msg = "must match PRO-XXXX-XXXX-XXXX-XXXX"
		default:
			msg = fmt.Sprintf("failed on the '%s' rule", fe.Tag())
		}
		out = append(out, ValidationError{Field: fe.Field(), Message: msg})
	}
	return out
}

func apiProblem(e *APIError, path string) *ProblemDetails {
	problemType, ok := typeByStatus[e.StatusCode]
	if !ok {
		problemType = TypeInternal
	}
	switch e.ErrorCode {
	case ErrValidationFailed.ErrorCode:
		problemType = TypeValidation
	case ErrNotActivated.ErrorCode:
		problemType = TypeLicenseNotActivated
	}

	problem := NewProblemDetails(e.StatusCode, problemType, http.StatusText(e.StatusCode), e.Message, path).
		WithExtension("error_code", e.ErrorCode)
	if e.Details != nil {
		problem.WithExtension("details", e.Details)
	}
	return problem
}

// HandlePanic answers a recovered panic with a bare 500
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	stack := string(debug.Stack())
	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", stack),
	)

	problem := NewProblemDetails(http.StatusInternalServerError, TypeInternal, "Internal Server Error",
		"An unexpected error occurred", r.URL.Path)
	if h.includeStack {
		problem.WithExtension("panic", fmt.Sprint(recovered))
	}
	h.write(w, r, problem)
}

// NotFound is the router's 404 handler
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, NewProblemDetails(http.StatusNotFound, TypeNotFound, "Not Found",
		"No such endpoint", r.URL.Path))
}

// MethodNotAllowed is the router's 405 handler
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, NewProblemDetails(http.StatusMethodNotAllowed, TypeNotAllowed, "Method Not Allowed",
		fmt.Sprintf("%s is not supported on %s", r.Method, r.URL.Path), r.URL.Path))
}

func (h *ErrorHandler) write(w http.ResponseWriter, r *http.Request, problem *ProblemDetails) {
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		problem.WithExtension("trace_id", reqID)
	}
	if h.includeStack && problem.Status >= http.StatusInternalServerError {
		problem.WithExtension("stack", string(debug.Stack()))
	}
	if err := render.Render(w, r, problem); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to render problem", slog.String("error", err.Error()))
	}
}
