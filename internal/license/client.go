package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"prolicense/internal/config"
	"prolicense/pkg/contracts"
	"prolicense/pkg/contracts/domain"
)

// License server endpoints
const (
	ActivatePath   = "/v1/license/activate"
	ValidatePath   = "/v1/license/validate"
	DeactivatePath = "/v1/license/deactivate"
	HealthPath     = "/health"

	maxResponseBytes = 1 << 20
)

// ClientConfig configures the license server client.
type ClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string

	// SyncInterval is the minimum spacing between pending deactivation syncs. Zero disables the limit.
	SyncInterval time.Duration

	// HTTPClient overrides the transport. Its own timeout takes precedence over Timeout.
	HTTPClient *http.Client
}

// ActivationResult is a successful activation, stamped with the local activation time.
type ActivationResult struct {
	Key             string       `json:"key"`
	Features        []string     `json:"features"`
	Seats           domain.Seats `json:"seats"`
	ExpiresAt       *time.Time   `json:"expiresAt,omitempty"`
	CacheValidDays  int          `json:"cacheValidDays"`
	GracePeriodDays int          `json:"gracePeriodDays"`
	ActivatedAt     time.Time    `json:"activatedAt"`
}

// Record converts the result into a cache record.
func (r *ActivationResult) Record() *Record {
	return &Record{
		Key:             r.Key,
		ActivatedAt:     r.ActivatedAt,
		ExpiresAt:       r.ExpiresAt,
		Features:        append([]string{}, r.Features...),
		Seats:           r.Seats,
		CacheValidDays:  r.CacheValidDays,
		GracePeriodDays: r.GracePeriodDays,
	}
}

// ValidationResult is the server's verdict on a key.
type ValidationResult struct {
	Valid     bool         `json:"valid"`
	Features  []string     `json:"features,omitempty"`
	Seats     domain.Seats `json:"seats"`
	ExpiresAt *time.Time   `json:"expiresAt,omitempty"`
}

// DeactivationResult is the server's acknowledgement of a deactivation.
type DeactivationResult struct {
	Success   bool   `json:"success"`
	SeatFreed bool   `json:"seatFreed"`
	Message   string `json:"message,omitempty"`
}

// Client talks to the license server. Every failure is an *APIError.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	opts      *options
	logger    *slog.Logger
}

// NewClient creates a license server client.
func NewClient(cfg ClientConfig, opts ...Option) *Client {
	o := newOptions(opts)

	if cfg.BaseURL == "" {
		cfg.BaseURL = config.DefaultServerURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultRequestTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = contracts.UserAgent()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	limit := rate.Inf
	if cfg.SyncInterval > 0 {
		limit = rate.Every(cfg.SyncInterval)
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      httpClient,
		limiter:   rate.NewLimiter(limit, 1),
		opts:      o,
		logger:    o.logger.With(slog.String("component", "license_client")),
	}
}

// BaseURL returns the server root the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// Activate binds key to machineID. A response without features is INVALID_RESPONSE;
// a response without a key echoes the requested one.
func (c *Client) Activate(ctx context.Context, key, machineID, productVersion string) (*ActivationResult, error) {
	var resp domain.ActivateResponse
	err := c.post(ctx, ActivatePath, &domain.ActivateRequest{
		Key:            key,
		MachineID:      machineID,
		ProductVersion: productVersion,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Features == nil {
		return nil, newInvalidResponseError()
	}

	result := &ActivationResult{
		Key:             resp.Key,
		Features:        resp.Features,
		Seats:           resp.Seats,
		ExpiresAt:       resp.ExpiresAt,
		CacheValidDays:  resp.CacheValidDays,
		GracePeriodDays: resp.GracePeriodDays,
		ActivatedAt:     c.opts.now().UTC(),
	}
	if result.Key == "" {
		result.Key = key
	}
	return result, nil
}

// Validate asks the server whether key is still good on machineID.
func (c *Client) Validate(ctx context.Context, key, machineID string) (*ValidationResult, error) {
	var resp domain.ValidateResponse
	err := c.post(ctx, ValidatePath, &domain.ValidateRequest{Key: key, MachineID: machineID}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Valid == nil {
		return nil, newInvalidResponseError()
	}
	return &ValidationResult{
		Valid:     *resp.Valid,
		Features:  resp.Features,
		Seats:     resp.Seats,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

// Deactivate releases the seat held by machineID.
func (c *Client) Deactivate(ctx context.Context, key, machineID string) (*DeactivationResult, error) {
	return c.deactivate(ctx, key, machineID, false)
}

func (c *Client) deactivate(ctx context.Context, key, machineID string, offline bool) (*DeactivationResult, error) {
	var resp domain.DeactivateResponse
	err := c.post(ctx, DeactivatePath, &domain.DeactivateRequest{
		Key:                 key,
		MachineID:           machineID,
		OfflineDeactivation: offline,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Success == nil {
		return nil, newInvalidResponseError()
	}
	return &DeactivationResult{
		Success:   *resp.Success,
		SeatFreed: resp.SeatFreed,
		Message:   resp.Message,
	}, nil
}

// IsOnline reports whether the server answered the health probe with a non-5xx status.
func (c *Client) IsOnline(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+HealthPath, nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("License server unreachable", slog.String("error", err.Error()))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode < http.StatusInternalServerError
}

// SyncPendingDeactivation replays a pending offline deactivation. It returns
// true when the record was resolved: acknowledged by the server, or rejected
// because the key is invalid or expired. Transient failures keep the record
// and return false, as do calls throttled by the sync interval.
func (c *Client) SyncPendingDeactivation(ctx context.Context, machineID string, pending PendingStore) bool {
	status := pending.HasPending()
	if !status.Pending || status.Data == nil {
		return false
	}
	if !c.limiter.Allow() {
		c.logger.Debug("Pending deactivation sync throttled")
		return false
	}
	if machineID == "" {
		machineID = status.Data.MachineID
	}

	res, err := c.deactivate(ctx, status.Data.LicenseKey, machineID, true)
	switch {
	case err == nil && !res.Success:
		c.logger.Warn("Server did not confirm pending deactivation, kept for retry")
		return false
	case err == nil:
		if err := pending.MarkSynced(); err != nil {
			c.logger.Warn("Failed to mark pending deactivation synced", slog.String("error", err.Error()))
		}
		if err := pending.ClearPending(); err != nil {
			c.logger.Warn("Failed to clear pending deactivation", slog.String("error", err.Error()))
		}
		return true
	case IsCode(err, CodeInvalidKey, CodeExpiredKey):
		if err := pending.ClearPending(); err != nil {
			c.logger.Warn("Failed to clear pending deactivation", slog.String("error", err.Error()))
		}
		return true
	default:
		c.logger.Info("Pending deactivation kept for retry", slog.String("reason", classifyError(err)))
		return false
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
}

// post sends body as JSON and decodes a 2xx reply into out.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) (err error) {
	ctx, span := otel.Tracer(TracerName).Start(ctx, "license.http "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", http.MethodPost),
			attribute.String("url.path", path),
		),
	)
	start := time.Now()
	defer func() {
		if c.opts.metrics != nil {
			c.opts.metrics.RequestDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(
					attribute.String("path", path),
					attribute.String("result", resultLabel(err)),
				))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return newNetworkError()
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	span.SetAttributes(attribute.String("http.request.id", req.Header.Get("X-Request-ID")))

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("License server request failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return newNetworkError()
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return newNetworkError()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.mapError(resp.StatusCode, resp.Header, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return newInvalidResponseError()
	}
	return nil
}

// mapError turns a non-2xx reply into an APIError. A recognised body code wins
// over the status.
func (c *Client) mapError(status int, header http.Header, body []byte) *APIError {
	var er domain.ErrorResponse
	_ = json.Unmarshal(body, &er)

	code := er.Code
	if code == "" {
		code = er.Error
	}
	switch ErrorCode(code) {
	case CodeInvalidKey:
		return newInvalidKeyError()
	case CodeExpiredKey:
		return newExpiredKeyError()
	case CodeSeatLimitExceeded:
		var used, limit int
		if er.Details != nil {
			used, limit = er.Details.Used, er.Details.Max
		}
		return newSeatLimitError(used, limit)
	case CodeRateLimited:
		return newRateLimitedError(c.retryAfter(&er, header))
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return newInvalidKeyError()
	case http.StatusTooManyRequests:
		return newRateLimitedError(c.retryAfter(&er, header))
	default:
		return newServerError(status)
	}
}

// retryAfter reads the wait in seconds from the body, then the Retry-After header.
func (c *Client) retryAfter(er *domain.ErrorResponse, header http.Header) int {
	if er.RetryAfter > 0 {
		return er.RetryAfter
	}
	if er.Details != nil && er.Details.RetryAfter > 0 {
		return er.Details.RetryAfter
	}

	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return seconds
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := at.Sub(c.opts.now()); wait > 0 {
			return int(math.Ceil(wait.Seconds()))
		}
	}
	return 0
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return strings.ToLower(classifyError(err))
}
