package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "prolicense/internal/errors"
	"prolicense/internal/security"
)

// MaxBodySize bounds every JSON request body the daemon accepts
const MaxBodySize = 64 * 1024

// NewValidator returns a validator that reports JSON field names and knows
// the license_key rule.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("license_key", isLicenseKey)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// isLicenseKey accepts PRO-XXXX-XXXX-XXXX-XXXX, ignoring surrounding whitespace
func isLicenseKey(fl validator.FieldLevel) bool {
	return security.ValidateKeyFormat(strings.TrimSpace(fl.Field().String()))
}

// DecodeJSON reads a bounded JSON body into dst and validates it. Errors are
// APIErrors or validator.ValidationErrors, both understood by ErrorHandler.
func DecodeJSON(r *http.Request, v *validator.Validate, dst interface{}) error {
	if r.Body == nil {
		return apierrors.ErrInvalidRequest
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apierrors.NewWithDetails(http.StatusBadRequest, "INVALID_REQUEST", "Request body is required", nil)
		}
		return apierrors.InvalidRequestWithError(fmt.Errorf("malformed JSON: %w", err))
	}

	return v.Struct(dst)
}

// ContentTypeValidator ensures requests with a body have an allowed content type
func ContentTypeValidator(contentTypes ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}

			contentType := r.Header.Get("Content-Type")
			for _, allowed := range contentTypes {
				if strings.HasPrefix(contentType, allowed) {
					next.ServeHTTP(w, r)
					return
				}
			}

			render.Render(w, r, apierrors.NewWithDetails(
				http.StatusUnsupportedMediaType,
				"UNSUPPORTED_MEDIA_TYPE",
				"Unsupported content type",
				map[string]interface{}{
					"content_type": contentType,
					"allowed":      contentTypes,
				},
			))
		})
	}
}
