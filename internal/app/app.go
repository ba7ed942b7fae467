package app

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"prolicense/internal/config"
	"prolicense/internal/infrastructure"
	"prolicense/internal/license"
	"prolicense/internal/middleware"
	"prolicense/internal/security"
	transport "prolicense/internal/transport/http"
	ws "prolicense/internal/websocket"
	"prolicense/pkg/contracts"
)

// activate, deactivate, validate and sync share one budget; each may reach
// the license server
const (
	actionRate  = 1.0
	actionBurst = 5
)

// Application wires the license components from a Config. The CLI uses the
// Manager directly; Serve runs the loopback daemon on top of it.
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders

	Store   *license.Store
	Client  *license.Client
	Gate    *license.Gate
	Manager *license.Manager
	Health  *license.HealthChecker
	Metrics *license.Metrics
}

// Option customizes NewApplication
type Option func(*appOptions)

type appOptions struct {
	licenseOpts []license.Option
	traceWriter io.Writer
	httpClient  *http.Client
	rootCAs     *x509.CertPool
}

// WithLicenseOptions appends options passed to every license component
func WithLicenseOptions(opts ...license.Option) Option {
	return func(o *appOptions) { o.licenseOpts = append(o.licenseOpts, opts...) }
}

// WithTraceWriter sends exported spans to w
func WithTraceWriter(w io.Writer) Option {
	return func(o *appOptions) { o.traceWriter = w }
}

// WithHTTPClient sets the client used to reach the license server. It
// replaces certificate pinning.
func WithHTTPClient(c *http.Client) Option {
	return func(o *appOptions) { o.httpClient = c }
}

// WithRootCAs verifies the license server against roots instead of the
// system pool when certificate pinning is configured
func WithRootCAs(roots *x509.CertPool) Option {
	return func(o *appOptions) { o.rootCAs = roots }
}

// NewApplication creates the license components described by cfg
func NewApplication(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	var otelOpts []infrastructure.OTelOption
	if o.traceWriter != nil {
		otelOpts = append(otelOpts, infrastructure.WithTraceWriter(o.traceWriter))
	}
	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger, otelOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	metrics, err := license.NewMetrics(otel.GetMeterProvider().Meter(license.MeterName))
	if err != nil {
		return nil, fmt.Errorf("failed to create license metrics: %w", err)
	}

	registry := license.NewRegistry()
	if cfg.License.FeaturesFile != "" {
		if registry, err = license.LoadRegistryFile(cfg.License.FeaturesFile); err != nil {
			return nil, fmt.Errorf("failed to load feature catalog: %w", err)
		}
	}

	licenseOpts := append([]license.Option{
		license.WithLogger(logger),
		license.WithRegistry(registry),
		license.WithCLIName(cfg.License.CLIName),
		license.WithPurchaseURL(cfg.License.PurchaseURL),
		license.WithProductVersion(cfg.License.ProductVersion),
		license.WithMetrics(metrics),
	}, o.licenseOpts...)

	clientCfg := license.ClientConfig{
		BaseURL:      cfg.License.ServerURL,
		Timeout:      cfg.License.Timeout,
		SyncInterval: cfg.License.SyncInterval,
		HTTPClient:   o.httpClient,
	}
	if clientCfg.HTTPClient == nil && len(cfg.License.PinnedKeys) > 0 {
		pinner, err := security.NewCertificatePinner(cfg.License.PinnedKeys)
		if err != nil {
			return nil, fmt.Errorf("failed to configure certificate pinning: %w", err)
		}
		clientCfg.HTTPClient = pinner.HTTPClient(o.rootCAs, cfg.License.Timeout)
	}

	store := license.NewStore(cfg.License.Root, licenseOpts...)
	client := license.NewClient(clientCfg, licenseOpts...)
	gate := license.NewGate(store, licenseOpts...)

	return &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
		Store:         store,
		Client:        client,
		Gate:          gate,
		Manager:       license.NewManager(store, client, gate, licenseOpts...),
		Health:        license.NewHealthChecker(store, client, licenseOpts...),
		Metrics:       metrics,
	}, nil
}

// Handler builds the daemon router around hub
func (a *Application) Handler(hub *ws.Hub) (http.Handler, error) {
	tracing, err := middleware.NewOTelMiddleware(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create http instrumentation: %w", err)
	}

	var metrics http.Handler
	if a.OTelProviders != nil {
		metrics = a.OTelProviders.PrometheusHTTP
	}

	return transport.NewRouter(transport.RouterConfig{
		Manager:       a.Manager,
		Health:        a.Health,
		Hub:           hub,
		Metrics:       metrics,
		Tracing:       tracing,
		ActionLimiter: middleware.NewRateLimiter(actionRate, actionBurst, a.Logger),
		Logger:        a.Logger,
	}), nil
}

// Serve runs the daemon on ln until ctx is done: the HTTP API, the websocket
// hub, the cache watcher and the pending deactivation sync loop. A nil ln
// listens on the configured address.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", a.Config.Server.Address()); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", a.Config.Server.Address(), err)
		}
	}

	wsMetrics, err := ws.NewMetrics(otel.GetMeterProvider().Meter(license.MeterName))
	if err != nil {
		return fmt.Errorf("failed to create websocket metrics: %w", err)
	}
	hub := ws.NewHub(a.Logger, ws.WithGreeting(transport.StatusGreeting(a.Gate)), ws.WithMetrics(wsMetrics))

	handler, err := a.Handler(hub)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}

	a.Logger.InfoContext(ctx, "Starting license daemon",
		slog.String("version", contracts.Version),
		slog.String("address", ln.Addr().String()),
		slog.String("license_root", a.Config.License.Root),
		slog.String("state", string(a.Gate.State())),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		err := license.NewWatcher(a.Store, a.Gate, a.Config.License.WatchDebounce,
			license.WithLogger(a.Logger)).Run(gctx)
		return ignoreCanceled(err)
	})
	if a.Config.License.SyncInterval > 0 {
		g.Go(func() error {
			return ignoreCanceled(a.Manager.RunSync(gctx, a.Config.License.SyncInterval))
		})
	}
	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("Shutting down license daemon")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	err = g.Wait()
	a.Logger.Info("License daemon stopped")
	return err
}

// Close flushes telemetry
func (a *Application) Close(ctx context.Context) error {
	if a.OTelProviders == nil {
		return nil
	}
	return a.OTelProviders.Shutdown(ctx)
}

func (a *Application) shutdownTimeout() time.Duration {
	if t := a.Config.Server.ShutdownTimeout; t > 0 {
		return t
	}
	return 10 * time.Second
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
