package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// metricExportInterval is how often the OTLP reader pushes
const metricExportInterval = 30 * time.Second

// OTelMetrics mirrors the Prometheus instruments for OTLP export
type OTelMetrics struct {
	verifications        metric.Int64Counter
	verificationDuration metric.Float64Histogram

	storeOperations metric.Int64Counter
	storeDuration   metric.Float64Histogram

	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter

	ssoConnects metric.Int64Counter
}

// InitOTelMetrics starts a meter provider that exports over OTLP/gRPC and
// installs it globally. Returns nil when OpenTelemetry is disabled.
func InitOTelMetrics(ctx context.Context, cfg OTelConfig, logger *logrus.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	exportCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exporter, err := otlpmetricgrpc.New(exportCtx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithDialOption(dialOptions(cfg)...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(metricExportInterval),
		)),
	)
	otel.SetMeterProvider(mp)

	logger.Info("OpenTelemetry metrics initialized")
	return mp, nil
}

// ShutdownOTelMetrics flushes and stops the meter provider
func ShutdownOTelMetrics(ctx context.Context, mp *sdkmetric.MeterProvider, logger *logrus.Logger) error {
	if mp == nil {
		return nil
	}

	logger.Info("Shutting down OpenTelemetry meter provider")
	if err := mp.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Failed to shutdown meter provider")
		return fmt.Errorf("meter provider shutdown: %w", err)
	}
	return nil
}

// NewOTelMetrics creates the instruments from provider, or from the global
// provider when nil.
func NewOTelMetrics(provider metric.MeterProvider) (*OTelMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(TracerName)

	m := &OTelMetrics{}
	var err error

	m.verifications, err = meter.Int64Counter(
		"gatekeeper.verifications",
		metric.WithDescription("Token verifications by kind and outcome"),
		metric.WithUnit("{verification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verifications counter: %w", err)
	}

	m.verificationDuration, err = meter.Float64Histogram(
		"gatekeeper.verification.duration",
		metric.WithDescription("Token verification duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification duration histogram: %w", err)
	}

	m.storeOperations, err = meter.Int64Counter(
		"gatekeeper.store.operations",
		metric.WithDescription("Persistent store lookups"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store operations counter: %w", err)
	}

	m.storeDuration, err = meter.Float64Histogram(
		"gatekeeper.store.duration",
		metric.WithDescription("Persistent store lookup duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store duration histogram: %w", err)
	}

	m.cacheHits, err = meter.Int64Counter(
		"gatekeeper.cache.hits",
		metric.WithDescription("Lookup cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	m.cacheMisses, err = meter.Int64Counter(
		"gatekeeper.cache.misses",
		metric.WithDescription("Lookup cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	m.ssoConnects, err = meter.Int64Counter(
		"gatekeeper.sso.connects",
		metric.WithDescription("SSO connection build attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sso connects counter: %w", err)
	}

	return m, nil
}

// RecordVerification records a verification outcome
func (m *OTelMetrics) RecordVerification(ctx context.Context, kind, outcome string, duration time.Duration) {
	m.verifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
	m.verificationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("kind", kind),
	))
}

// RecordStoreOperation records a persistent store lookup
func (m *OTelMetrics) RecordStoreOperation(ctx context.Context, operation, table, status string, duration time.Duration) {
	m.storeOperations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("table", table),
		attribute.String("status", status),
	))
	m.storeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("table", table),
	))
}

// RecordCacheHit records a hit in layer
func (m *OTelMetrics) RecordCacheHit(ctx context.Context, layer string) {
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// RecordCacheMiss records a miss in layer
func (m *OTelMetrics) RecordCacheMiss(ctx context.Context, layer string) {
	m.cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// RecordSSOConnect records a connection build attempt
func (m *OTelMetrics) RecordSSOConnect(ctx context.Context, source, result string) {
	m.ssoConnects.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("result", result),
	))
}
