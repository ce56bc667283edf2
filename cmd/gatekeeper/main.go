package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/api"
	"github.com/platinummonkey/gatekeeper/pkg/async"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/middleware"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/properties"
	"github.com/platinummonkey/gatekeeper/pkg/sso"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

// version is set at build time
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Gatekeeper exited with error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.WithField("version", version).Info("Starting gatekeeper")

	otelCfg := observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}
	tp, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		// Tracing is optional
		logger.WithError(err).Warn("Failed to initialize OpenTelemetry")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	mp, err := observability.InitOTelMetrics(ctx, otelCfg, logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize OpenTelemetry metrics")
	}
	if mp != nil {
		otelMetrics, err := observability.NewOTelMetrics(mp)
		if err != nil {
			return err
		}
		metrics.WithOTel(otelMetrics)
	}

	stack, err := openStore(ctx, cfg.Store, cfg.Tables, logger, metrics)
	if err != nil {
		return err
	}

	verifier := auth.NewVerifier(stack.store,
		auth.WithTables(cfg.Tables),
		auth.WithLogger(logger),
		auth.WithMetrics(metrics),
	)

	props, err := loadProperties(ctx, cfg.SSO, logger)
	if err != nil {
		return err
	}

	manager, err := newSSOManager(cfg.SSO, props, logger, metrics)
	if err != nil {
		return err
	}
	if cfg.SSO.EagerConnect {
		if _, err := manager.Initialize(ctx); err != nil {
			// Later calls to GetConnection retry
			logger.WithError(err).Warn("SSO connection unavailable at startup")
		}
	}

	var pruner replicaPruner
	if stack.sql != nil {
		pruner = stack.sql
	}
	scheduler, err := newScheduler(cfg.Jobs, manager, pruner, logger)
	if err != nil {
		return err
	}
	scheduler.Start()

	health := observability.NewHealthChecker(sqlDB(stack), stack.redis, manager, version)
	opts := []api.Option{
		api.WithLogger(logger),
		api.WithHealthChecker(health),
	}
	if cfg.Observability.MetricsEnabled {
		opts = append(opts, api.WithMetrics(registry, metrics))
	}
	if limiter := newRateLimiter(ctx, cfg.RateLimit, stack, logger); limiter != nil {
		opts = append(opts, api.WithRateLimiter(limiter))
	}
	proxies, err := auth.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return err
	}
	opts = append(opts, api.WithTrustedProxies(proxies))
	if stack.cache != nil {
		opts = append(opts, api.WithCacheInvalidator(stack.cache, cfg.Tables))
	}
	if tp != nil {
		opts = append(opts, api.WithTracing(tp))
	}
	server := api.NewServer(verifier, manager, opts...)

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	manager.RegisterShutdownHook(shutdown)
	shutdown.RegisterShutdownFunc("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterShutdownFunc("store", stack.Close)
	shutdown.RegisterShutdownFunc("tracing", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, tp, logger)
	})
	shutdown.RegisterShutdownFunc("otel-metrics", func(ctx context.Context) error {
		return observability.ShutdownOTelMetrics(ctx, mp, logger)
	})
	shutdown.RegisterShutdownFunc("background", func(context.Context) error {
		cancel()
		return nil
	})

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	shutdownErr := make(chan error, 1)
	go func() {
		shutdownErr <- shutdown.WaitForShutdown()
	}()

	select {
	case err := <-serverErr:
		drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer drainCancel()
		_ = shutdown.Shutdown(drainCtx)
		return fmt.Errorf("HTTP server failed: %w", err)
	case err := <-shutdownErr:
		if err != nil {
			return err
		}
	}

	logger.Info("Gatekeeper stopped")
	return nil
}

// loadProperties opens the properties fallback and watches it for changes.
// A nil cache means no properties file is configured.
func loadProperties(ctx context.Context, cfg config.SSOConfig, logger *logrus.Logger) (properties.Cache, error) {
	if cfg.PropertiesFile == "" {
		return nil, nil
	}

	fileCache, err := properties.NewFileCache(cfg.PropertiesFile, properties.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to load properties: %w", err)
	}

	if cfg.WatchProperties {
		async.Go(ctx, logger, "properties watcher", fileCache.Watch)
	}
	return fileCache, nil
}

// newSSOManager builds the connection manager with the Keycloak builder
func newSSOManager(cfg config.SSOConfig, props properties.Cache, logger *logrus.Logger, metrics *observability.Metrics) (*sso.Manager, error) {
	builder := &sso.KeycloakBuilder{Timeout: cfg.ConnectTimeout}
	if cfg.CACertFile != "" {
		pem, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSO CA certificate: %w", err)
		}
		builder.CACertPEM = string(pem)
	}

	opts := []sso.Option{
		sso.WithLogger(logger),
		sso.WithBuilder(builder),
		sso.WithMetrics(metrics),
	}
	if props != nil {
		opts = append(opts, sso.WithProperties(props))
	}
	return sso.NewManager(opts...), nil
}

// newRateLimiter returns nil when rate limiting is disabled
func newRateLimiter(ctx context.Context, cfg config.RateLimitConfig, stack *storeStack, logger *logrus.Logger) middleware.Limiter {
	if cfg.RequestsPerMinute == 0 {
		return nil
	}
	limits := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RequestsPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.Burst,
	}

	if cfg.Distributed && stack.redis != nil {
		return middleware.NewDistributedRateLimiter(stack.redis, limits, "")
	}
	if cfg.Distributed {
		logger.Warn("Distributed rate limiting needs redis, falling back to per-instance limits")
	}

	limiter := middleware.NewRateLimiter(limits)
	limiter.StartCleanup(ctx, logger)
	return limiter
}
