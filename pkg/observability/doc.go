// Package observability provides structured logging, Prometheus metrics, tracing,
// health checks and graceful shutdown for the gatekeeper service.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("port", 8080).Info("Server started")
//
// Request-scoped logging:
//
//	observability.FromContext(r.Context(), logger).Warn("verification failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordVerification("user", "success", time.Since(start))
//
// With OpenTelemetry enabled the same values are also exported over OTLP:
//
//	mp, _ := observability.InitOTelMetrics(ctx, otelCfg, logger)
//	otelMetrics, _ := observability.NewOTelMetrics(mp)
//	metrics.WithOTel(otelMetrics)
//
// # Shutdown
//
// Components register cleanup with the ShutdownManager; each function runs
// exactly once, even if Shutdown is called repeatedly:
//
//	sm := observability.NewShutdownManager(logger, server, 30*time.Second)
//	sm.RegisterShutdownFunc("sso", ssoManager.Shutdown)
//	sm.WaitForShutdown()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, ssoManager, version)
//	router.HandleFunc("/health/ready", checker.Readiness)
package observability
