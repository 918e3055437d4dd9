// ABOUTME: OpenTelemetry exporter factory for creating metric readers and trace exporters (Prometheus, OTLP, stdout)
// ABOUTME: Also serves the Prometheus registry over HTTP when the prometheus exporter is enabled

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/KevoDB/twcs/pkg/common/log"
)

// createMetricReaders creates metric readers based on configuration. The
// returned registry is non-nil when the prometheus exporter is configured.
func createMetricReaders(cfg Config) ([]metric.Reader, *prometheus.Registry, error) {
	var readers []metric.Reader
	var registry *prometheus.Registry

	for _, exporterName := range cfg.Exporters {
		switch exporterName {
		case "prometheus":
			registry = prometheus.NewRegistry()
			exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
			}
			readers = append(readers, exporter)

		case "stdout":
			exporter, err := createStdoutMetricExporter(cfg)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
			}
			readers = append(readers, metric.NewPeriodicReader(exporter,
				metric.WithInterval(cfg.BatchTimeout),
				metric.WithTimeout(cfg.ExportTimeout),
			))

		default:
			// otlp and jaeger are trace-only in this setup
			continue
		}
	}

	if len(readers) == 0 {
		// Default to stdout if no valid metric exporters configured
		exporter, err := createStdoutMetricExporter(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create default stdout metric exporter: %w", err)
		}
		readers = append(readers, metric.NewPeriodicReader(exporter, metric.WithInterval(cfg.BatchTimeout)))
	}

	return readers, registry, nil
}

// createTraceExporters creates trace exporters based on configuration.
func createTraceExporters(cfg Config) ([]trace.SpanExporter, error) {
	var exporters []trace.SpanExporter

	for _, exporterName := range cfg.Exporters {
		switch exporterName {
		case "otlp", "jaeger":
			exporter, err := createOTLPTraceExporter(cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)

		case "stdout":
			exporter, err := createStdoutTraceExporter(cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
			}
			exporters = append(exporters, exporter)

		default:
			// Skip unsupported trace exporters (prometheus doesn't support traces)
			continue
		}
	}

	return exporters, nil
}

// createStdoutMetricExporter creates a stdout metrics exporter.
func createStdoutMetricExporter(cfg Config) (metric.Exporter, error) {
	opts := []stdoutmetric.Option{stdoutmetric.WithPrettyPrint()}
	if cfg.Output != nil {
		opts = append(opts, stdoutmetric.WithWriter(cfg.Output))
	}
	return stdoutmetric.New(opts...)
}

// createOTLPTraceExporter creates an OTLP trace exporter. Jaeger accepts OTLP
// directly, so both names use this exporter.
func createOTLPTraceExporter(cfg Config) (trace.SpanExporter, error) {
	endpoint := cfg.OTLPEndpoint
	if cfg.HasExporter("jaeger") && !cfg.HasExporter("otlp") {
		endpoint = cfg.JaegerEndpoint
	}

	return otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(hostPort(endpoint)),
		otlptracegrpc.WithInsecure(), // Use insecure connection for development
		otlptracegrpc.WithTimeout(cfg.ExportTimeout),
	)
}

// hostPort strips the scheme and path from an endpoint URL
func hostPort(endpoint string) string {
	if i := strings.Index(endpoint, "://"); i >= 0 {
		endpoint = endpoint[i+3:]
	}
	if i := strings.Index(endpoint, "/"); i >= 0 {
		endpoint = endpoint[:i]
	}
	return endpoint
}

// createStdoutTraceExporter creates a stdout trace exporter.
func createStdoutTraceExporter(cfg Config) (trace.SpanExporter, error) {
	opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
	if cfg.Output != nil {
		opts = append(opts, stdouttrace.WithWriter(cfg.Output))
	}
	return stdouttrace.New(opts...)
}

func metricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// startMetricsServer serves /metrics on port until shut down
func startMetricsServer(port int, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler(registry))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("Prometheus metrics endpoint stopped: %v", err)
		}
	}()

	return server
}
