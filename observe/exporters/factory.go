// Package exporters builds OpenTelemetry exporters for the observe package.
package exporters

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter kinds.
const (
	KindOTLP       = "otlp"
	KindPrometheus = "prometheus"
	KindStdout     = "stdout"
	KindNone       = "none"
)

// Config selects and parameterizes an exporter backend.
type Config struct {
	// Kind is the backend name: otlp, prometheus (metrics only), stdout,
	// or none. Empty behaves like none.
	Kind string

	// Endpoint is the OTLP collector target. When empty, the factory falls
	// back to OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string

	// Writer receives stdout exporter output. Defaults to os.Stdout.
	Writer io.Writer
}

// Validate checks that Kind names a known backend.
func (c Config) Validate() error {
	switch c.Kind {
	case KindOTLP, KindPrometheus, KindStdout, KindNone, "":
		return nil
	default:
		return fmt.Errorf("exporters: unknown exporter kind %q", c.Kind)
	}
}

func (c Config) writer() io.Writer {
	if c.Writer != nil {
		return c.Writer
	}
	return os.Stdout
}

func (c Config) otlpEndpoint() (string, error) {
	if c.Endpoint != "" {
		return c.Endpoint, nil
	}
	if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
		return ep, nil
	}
	return "", fmt.Errorf("exporters: OTLP endpoint not configured: set Config.Endpoint or OTEL_EXPORTER_OTLP_ENDPOINT")
}

// NewSpanExporter creates a trace span exporter for the configured backend.
// Supported kinds: otlp, stdout, none.
func NewSpanExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case KindStdout:
		return stdouttrace.New(stdouttrace.WithWriter(cfg.writer()))

	case KindOTLP:
		endpoint, err := cfg.otlpEndpoint()
		if err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint))

	case KindNone, "":
		// A discarding exporter keeps the provider wiring uniform.
		return stdouttrace.New(stdouttrace.WithWriter(io.Discard))

	default:
		return nil, fmt.Errorf("exporters: kind %q cannot export traces", cfg.Kind)
	}
}

// NewMetricReader creates a metrics reader for the configured backend.
// Supported kinds: otlp, prometheus, stdout, none.
func NewMetricReader(ctx context.Context, cfg Config) (sdkmetric.Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case KindStdout:
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.writer()))
		if err != nil {
			return nil, fmt.Errorf("exporters: failed to create stdout metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	case KindOTLP:
		endpoint, err := cfg.otlpEndpoint()
		if err != nil {
			return nil, err
		}
		exp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint))
		if err != nil {
			return nil, fmt.Errorf("exporters: failed to create OTLP metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	case KindPrometheus:
		exp, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("exporters: failed to create Prometheus exporter: %w", err)
		}
		return exp, nil

	case KindNone, "":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(io.Discard))
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	default:
		return nil, fmt.Errorf("exporters: kind %q cannot export metrics", cfg.Kind)
	}
}
