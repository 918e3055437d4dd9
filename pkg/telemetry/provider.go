// ABOUTME: OpenTelemetry provider implementation with metric and trace provider setup for TWCS telemetry
// ABOUTME: Handles provider lifecycle, instrument caching, resource attributes and sampling configuration

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/KevoDB/twcs"

// TelemetryProvider implements the Telemetry interface using OpenTelemetry SDK.
type TelemetryProvider struct {
	config         Config
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          metric.Meter
	tracer         oteltrace.Tracer
	resource       *sdkresource.Resource

	// Set when the prometheus exporter is configured
	registry *prometheus.Registry
	server   *http.Server

	instrumentsMu sync.RWMutex
	histograms    map[string]metric.Float64Histogram
	counters      map[string]metric.Int64Counter
}

// New creates a new TelemetryProvider with the given configuration.
func New(cfg Config) (Telemetry, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	res := sdkresource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	p := &TelemetryProvider{
		config:     cfg,
		resource:   res,
		histograms: make(map[string]metric.Float64Histogram),
		counters:   make(map[string]metric.Int64Counter),
	}

	readers, registry, err := createMetricReaders(cfg)
	if err != nil {
		return nil, err
	}
	p.registry = registry

	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, reader := range readers {
		metricOpts = append(metricOpts, sdkmetric.WithReader(reader))
	}
	p.meterProvider = sdkmetric.NewMeterProvider(metricOpts...)

	spanExporters, err := createTraceExporters(cfg)
	if err != nil {
		_ = p.meterProvider.Shutdown(context.Background())
		return nil, err
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}
	for _, exporter := range spanExporters {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(cfg.BatchTimeout),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
			sdktrace.WithMaxQueueSize(cfg.MaxQueueSize),
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
		))
	}
	p.tracerProvider = sdktrace.NewTracerProvider(traceOpts...)

	p.meter = p.meterProvider.Meter(instrumentationName)
	p.tracer = p.tracerProvider.Tracer(instrumentationName)

	if registry != nil && cfg.PrometheusPort > 0 {
		p.server = startMetricsServer(cfg.PrometheusPort, registry)
	}

	return p, nil
}

// RecordHistogram records a value in the named histogram, creating it on first use.
func (p *TelemetryProvider) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	h, err := p.histogram(name)
	if err != nil {
		return
	}
	h.Record(ctx, value, metric.WithAttributes(attrs...))
}

// RecordCounter adds value to the named counter, creating it on first use.
func (p *TelemetryProvider) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	c, err := p.counter(name)
	if err != nil {
		return
	}
	c.Add(ctx, value, metric.WithAttributes(attrs...))
}

// StartSpan starts a span on the provider's tracer.
func (p *TelemetryProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return p.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// MetricsHandler serves the prometheus registry, or returns nil when the
// prometheus exporter is not configured.
func (p *TelemetryProvider) MetricsHandler() http.Handler {
	if p.registry == nil {
		return nil
	}
	return metricsHandler(p.registry)
}

// Shutdown flushes and stops the providers and the metrics endpoint.
func (p *TelemetryProvider) Shutdown(ctx context.Context) error {
	var errs []error

	if p.server != nil {
		if err := p.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer provider: %w", err))
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("meter provider: %w", err))
	}

	return errors.Join(errs...)
}

func (p *TelemetryProvider) histogram(name string) (metric.Float64Histogram, error) {
	p.instrumentsMu.RLock()
	h, ok := p.histograms[name]
	p.instrumentsMu.RUnlock()
	if ok {
		return h, nil
	}

	p.instrumentsMu.Lock()
	defer p.instrumentsMu.Unlock()
	if h, ok := p.histograms[name]; ok {
		return h, nil
	}
	h, err := p.meter.Float64Histogram(name)
	if err != nil {
		return nil, err
	}
	p.histograms[name] = h
	return h, nil
}

func (p *TelemetryProvider) counter(name string) (metric.Int64Counter, error) {
	p.instrumentsMu.RLock()
	c, ok := p.counters[name]
	p.instrumentsMu.RUnlock()
	if ok {
		return c, nil
	}

	p.instrumentsMu.Lock()
	defer p.instrumentsMu.Unlock()
	if c, ok := p.counters[name]; ok {
		return c, nil
	}
	c, err := p.meter.Int64Counter(name)
	if err != nil {
		return nil, err
	}
	p.counters[name] = c
	return c, nil
}
