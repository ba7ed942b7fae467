package license

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents health of a specific component
type ComponentHealth struct {
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  string                 `json:"duration,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// CacheDiagnosis explains what the store found on disk.
type CacheDiagnosis struct {
	Present  bool   `json:"present"`
	Readable bool   `json:"readable"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

// HealthReport is the result of a license health check.
type HealthReport struct {
	Status              HealthStatus                `json:"status"`
	State               State                       `json:"state"`
	Cache               CacheDiagnosis              `json:"cache"`
	DaysRemaining       int                         `json:"daysRemaining"`
	PendingDeactivation bool                        `json:"pendingDeactivation"`
	ServerReachable     bool                        `json:"serverReachable"`
	Components          map[string]*ComponentHealth `json:"components"`
	CheckedAt           time.Time                   `json:"checkedAt"`
	Duration            string                      `json:"duration"`
	TraceID             string                      `json:"traceId,omitempty"`
}

// HealthChecker inspects the cache, the pending record and server reachability.
type HealthChecker struct {
	store   *Store
	client  *Client
	now     func() time.Time
	timeout time.Duration
}

// NewHealthChecker creates a checker. A nil client skips the reachability probe.
func NewHealthChecker(store *Store, client *Client, opts ...Option) *HealthChecker {
	o := newOptions(opts)
	return &HealthChecker{
		store:   store,
		client:  client,
		now:     o.now,
		timeout: 5 * time.Second,
	}
}

// Check runs the component checks concurrently and folds them into a report.
func (hc *HealthChecker) Check(ctx context.Context) *HealthReport {
	ctx, span := otel.Tracer(TracerName).Start(ctx, "license.health_check",
		trace.WithAttributes(attribute.String("component", "license_health")),
	)
	defer span.End()

	start := time.Now()
	report := &HealthReport{
		CheckedAt:  hc.now(),
		Components: make(map[string]*ComponentHealth),
		TraceID:    traceIDFromContext(ctx),
	}

	checks := map[string]func(context.Context, *HealthReport) *ComponentHealth{
		"license_cache":  hc.checkCache,
		"pending_sync":   hc.checkPending,
		"license_server": hc.checkServer,
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	partial := make(map[string]*HealthReport, len(checks))
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check func(context.Context, *HealthReport) *ComponentHealth) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, hc.timeout)
			defer cancel()

			r := &HealthReport{}
			health := check(checkCtx, r)

			mu.Lock()
			report.Components[name] = health
			partial[name] = r
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	if r := partial["license_cache"]; r != nil {
		report.Cache, report.State, report.DaysRemaining = r.Cache, r.State, r.DaysRemaining
	}
	if r := partial["pending_sync"]; r != nil {
		report.PendingDeactivation = r.PendingDeactivation
	}
	if r := partial["license_server"]; r != nil {
		report.ServerReachable = r.ServerReachable
	}

	report.Status = overallStatus(report.Components)
	report.Duration = time.Since(start).String()

	span.SetAttributes(
		attribute.String("health.overall_status", string(report.Status)),
		attribute.String("license.state", string(report.State)),
	)
	return report
}

func (hc *HealthChecker) checkCache(_ context.Context, r *HealthReport) *ComponentHealth {
	start := time.Now()
	health := &ComponentHealth{Timestamp: start}
	defer func() { health.Duration = time.Since(start).String() }()

	rec, err := hc.store.Load()
	now := hc.now()
	r.State = StateAt(rec, now)
	r.DaysRemaining = DaysRemaining(rec, now)
	health.Metadata = map[string]interface{}{
		"state":          string(r.State),
		"days_remaining": r.DaysRemaining,
	}

	var cacheErr *CacheError
	switch {
	case err == nil:
		r.Cache = CacheDiagnosis{Present: true, Readable: true}
	case errors.Is(err, ErrCacheNotFound):
		r.Cache = CacheDiagnosis{}
	case errors.As(err, &cacheErr):
		r.Cache = CacheDiagnosis{Present: true, Code: string(cacheErr.Code), Message: cacheErr.Error()}
	default:
		r.Cache = CacheDiagnosis{Present: true, Message: err.Error()}
	}

	switch {
	case r.Cache.Present && !r.Cache.Readable:
		health.Status = HealthStatusUnhealthy
		health.Message = "License cache is present but cannot be used"
		health.Error = r.Cache.Message
	case r.State == StateActive:
		health.Status = HealthStatusHealthy
		health.Message = "License is active"
	case r.State == StateGrace:
		health.Status = HealthStatusDegraded
		health.Message = "License is in its grace period"
	case r.State == StateExpired:
		health.Status = HealthStatusDegraded
		health.Message = "License cache has expired"
	default:
		health.Status = HealthStatusDegraded
		health.Message = "No license activated"
	}
	return health
}

func (hc *HealthChecker) checkPending(_ context.Context, r *HealthReport) *ComponentHealth {
	health := &ComponentHealth{Timestamp: time.Now(), Status: HealthStatusHealthy, Message: "No pending deactivation"}
	if p := hc.store.HasPending(); p.Pending {
		r.PendingDeactivation = true
		health.Status = HealthStatusDegraded
		health.Message = "Deactivation is waiting to be synced"
		health.Metadata = map[string]interface{}{"deactivated_at": p.Data.DeactivatedAt}
	}
	return health
}

// checkServer never lowers the overall status; offline operation is normal.
func (hc *HealthChecker) checkServer(ctx context.Context, r *HealthReport) *ComponentHealth {
	start := time.Now()
	health := &ComponentHealth{Timestamp: start, Status: HealthStatusHealthy}
	if hc.client == nil {
		health.Message = "Reachability probe disabled"
		return health
	}

	r.ServerReachable = hc.client.IsOnline(ctx)
	health.Duration = time.Since(start).String()
	health.Metadata = map[string]interface{}{"reachable": r.ServerReachable}
	if r.ServerReachable {
		health.Message = "License server reachable"
	} else {
		health.Message = "License server unreachable, running offline"
	}
	return health
}

func overallStatus(components map[string]*ComponentHealth) HealthStatus {
	status := HealthStatusHealthy
	for _, c := range components {
		switch c.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			status = HealthStatusDegraded
		}
	}
	return status
}

// HTTPHandler serves the report as JSON; unhealthy maps to 503.
func (hc *HealthChecker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := hc.Check(r.Context())

		statusCode := http.StatusOK
		if report.Status == HealthStatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		encoder.Encode(report)
	}
}

// traceIDFromContext extracts trace ID from context
func traceIDFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
