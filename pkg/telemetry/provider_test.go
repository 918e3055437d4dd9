// ABOUTME: Tests for telemetry provider creation and configuration handling using real provider operations
// ABOUTME: Validates provider initialization, prometheus scraping, span creation and no-op fallback behavior

package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func testConfig(exporters ...string) Config {
	cfg := DefaultConfig()
	cfg.Exporters = exporters
	cfg.PrometheusPort = 0
	cfg.Output = io.Discard
	return cfg
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		expectNoop  bool
		expectError bool
	}{
		{
			name:       "disabled telemetry returns noop",
			cfg:        Config{Enabled: false},
			expectNoop: true,
		},
		{
			name: "invalid config returns error",
			cfg: Config{
				Enabled:     true,
				ServiceName: "", // Invalid: empty service name
			},
			expectError: true,
		},
		{
			name: "valid config returns provider",
			cfg:  testConfig("stdout"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tel, err := New(tt.cfg)

			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			defer tel.Shutdown(context.Background())

			_, isNoop := tel.(*NoopTelemetry)
			if isNoop != tt.expectNoop {
				t.Errorf("Expected noop=%v, got %T", tt.expectNoop, tel)
			}

			ctx := context.Background()
			tel.RecordHistogram(ctx, "test", 1.0)
			tel.RecordCounter(ctx, "test", 1)
		})
	}
}

func TestNewWithDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = io.Discard

	tel, err := New(cfg)
	if err != nil {
		t.Fatalf("Unexpected error with default config: %v", err)
	}

	ctx := context.Background()
	tel.RecordHistogram(ctx, "test.histogram", 1.5)
	tel.RecordCounter(ctx, "test.counter", 10)

	if err := tel.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestPrometheusHandlerServesRecordedMetrics(t *testing.T) {
	tel, err := New(testConfig("prometheus"))
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	defer tel.Shutdown(context.Background())

	provider, ok := tel.(*TelemetryProvider)
	if !ok {
		t.Fatalf("Expected *TelemetryProvider, got %T", tel)
	}

	ctx := context.Background()
	provider.RecordCounter(ctx, "twcs.test.selections", 3, attribute.String(AttrReason, "current_window"))
	provider.RecordHistogram(ctx, "twcs.test.tables", 4)

	handler := provider.MetricsHandler()
	if handler == nil {
		t.Fatal("Expected a metrics handler with the prometheus exporter")
	}

	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read scrape: %v", err)
	}

	for _, want := range []string{"twcs_test_selections", "twcs_test_tables", "current_window"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Expected scrape to contain %q", want)
		}
	}
}

func TestMetricsHandlerWithoutPrometheus(t *testing.T) {
	tel, err := New(testConfig("stdout"))
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	defer tel.Shutdown(context.Background())

	if h := tel.(*TelemetryProvider).MetricsHandler(); h != nil {
		t.Error("Expected no metrics handler without the prometheus exporter")
	}
}

func TestStartSpanRecords(t *testing.T) {
	tel, err := New(testConfig("stdout"))
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	defer tel.Shutdown(context.Background())

	ctx, span := tel.StartSpan(context.Background(), "twcs.test", attribute.Int("tables", 4))
	defer span.End()

	if !span.IsRecording() {
		t.Error("Expected a recording span with sample rate 1.0")
	}
	if !span.SpanContext().IsValid() {
		t.Error("Expected a valid span context")
	}
	if ctx == context.Background() {
		t.Error("Expected the span to be attached to a new context")
	}
}

func TestHostPort(t *testing.T) {
	tests := map[string]string{
		"http://localhost:4317":              "localhost:4317",
		"localhost:4317":                     "localhost:4317",
		"https://collector:14268/api/traces": "collector:14268",
	}
	for in, want := range tests {
		if got := hostPort(in); got != want {
			t.Errorf("hostPort(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewWithInvalidConfigs(t *testing.T) {
	invalidConfigs := []Config{
		{
			Enabled:     true,
			ServiceName: "", // Empty service name
		},
		{
			Enabled:        true,
			ServiceName:    "test",
			ServiceVersion: "", // Empty service version
		},
		{
			Enabled:        true,
			ServiceName:    "test",
			ServiceVersion: "1.0.0",
			SampleRate:     -0.1, // Invalid sample rate
		},
		{
			Enabled:        true,
			ServiceName:    "test",
			ServiceVersion: "1.0.0",
			SampleRate:     1.1, // Invalid sample rate
		},
		{
			Enabled:        true,
			ServiceName:    "test",
			ServiceVersion: "1.0.0",
			SampleRate:     1.0,
			PrometheusPort: -1, // Invalid port
		},
	}

	for i, cfg := range invalidConfigs {
		t.Run(fmt.Sprintf("invalid_config_%d", i), func(t *testing.T) {
			tel, err := New(cfg)

			if err == nil {
				t.Error("Expected error for invalid config but got none")
			}

			if tel != nil {
				t.Error("Expected nil telemetry for invalid config but got instance")
			}
		})
	}
}
