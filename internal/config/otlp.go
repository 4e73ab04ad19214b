package config

// OTLPConfig holds OpenTelemetry trace export configuration.
//
// Tracing is disabled until an endpoint is configured. Any OTLP/HTTP
// collector works (local agent, otel-collector sidecar, vendor endpoint).
// See internal/observability for setup details.
type OTLPConfig struct {
	// Endpoint is the OTLP HTTP endpoint (host:port, e.g. "localhost:4318").
	// Empty disables trace export.
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// Insecure disables TLS; fine for localhost collectors.
	Insecure bool `mapstructure:"insecure" json:"insecure"`
	// ServiceName is the service name attached to exported spans.
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	// Environment is the deployment environment tag (default: dev).
	Environment string `mapstructure:"environment" json:"environment"`
}
