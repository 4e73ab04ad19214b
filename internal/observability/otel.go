// Package observability provides OpenTelemetry integration for distributed tracing.
//
// Traces are exported over OTLP/HTTP to whatever collector the deployment
// runs (otel-collector sidecar, vendor agent, etc.). Export is disabled until
// an endpoint is configured, so local development needs no collector at all.
//
// # Configuration
//
// Config file (~/.sessiond/config.yaml):
//
//	otlp:
//	  endpoint: "localhost:4318"
//	  insecure: true
//	  service_name: "sessiond"
//	  environment: "dev"
//
// Or set OTEL_EXPORTER_OTLP_ENDPOINT in the environment.
//
// # Verify the pipeline
//
//	curl -v http://localhost:4318/v1/traces
//
// Spans appear in the collector within a batch interval (a few seconds);
// shutdown flushes whatever is still buffered.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config for OTLP trace export.
type Config struct {
	// Endpoint is the OTLP HTTP endpoint (host:port). Empty disables export.
	Endpoint string
	// Insecure disables TLS; localhost collectors don't need it.
	Insecure bool
	// Environment is the deployment environment (dev, staging, prod)
	Environment string
	// ServiceName is the service name attached to exported spans
	ServiceName string
}

// Setup installs a global TracerProvider exporting to the configured OTLP
// endpoint and returns a shutdown function that flushes pending spans.
//
// With no endpoint configured it installs nothing and returns a no-op
// shutdown, so callers never need to branch.
func Setup(ctx context.Context, logger *slog.Logger, cfg Config) (shutdown func(context.Context) error, err error) {
	nop := func(context.Context) error { return nil }

	if cfg.Endpoint == "" {
		logger.Debug("otlp endpoint not configured, tracing disabled")
		return nop, nil
	}

	// The SDK's default resource picks these up; simpler than assembling a
	// resource by hand and keeps schema versions out of our code.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating otlp exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)),
	)
	otel.SetTracerProvider(provider)

	logger.Debug("otlp tracing enabled",
		"endpoint", cfg.Endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return provider.Shutdown, nil
}
