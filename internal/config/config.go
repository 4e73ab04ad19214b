// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override, .env files via godotenv)
//  2. Config file (~/.sessiond/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - App: application name scoping all sessions
//   - Storage: PostgreSQL connection (see storage.go)
//   - Artifacts: attachment size ceiling and sweep cadence
//   - Responder: which model backend answers chat turns
//   - Server: listen address, CORS, rate limiting
//   - OTLP: trace export (see otlp.go)
//
// Security: Sensitive data (passwords) are never logged; config directory uses 0750 permissions.
// Validation: Range checks in validation.go with clear error messages.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAppName indicates the application name is invalid.
	ErrInvalidAppName = errors.New("invalid app name")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidResponder indicates the responder kind is not supported.
	ErrInvalidResponder = errors.New("invalid responder")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidArtifactLimit indicates the artifact size ceiling is out of range.
	ErrInvalidArtifactLimit = errors.New("invalid artifact size limit")

	// ErrInvalidSweepInterval indicates the artifact sweep interval is negative.
	ErrInvalidSweepInterval = errors.New("invalid sweep interval")

	// ErrInvalidRateLimit indicates the request rate limit is out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")
)

const (
	// DefaultHistoryLimit is the default number of events returned with a session.
	DefaultHistoryLimit int32 = 100

	// MaxAllowedHistoryLimit is the absolute maximum to prevent OOM on huge sessions.
	MaxAllowedHistoryLimit int32 = 10000

	// MinHistoryLimit is the minimum allowed value for HistoryLimit.
	MinHistoryLimit int32 = 10

	// DefaultMaxArtifactBytes caps uploaded attachments at 10 MiB.
	DefaultMaxArtifactBytes int64 = 10 << 20

	// MaxAllowedArtifactBytes is the hard ceiling for the configurable limit.
	MaxAllowedArtifactBytes int64 = 64 << 20
)

// Responder kinds used in Config.Responder.
const (
	ResponderGemini   = "gemini"
	ResponderScripted = "scripted"
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// AppName scopes every session this process creates or reads.
	AppName string `mapstructure:"app_name" json:"app_name"`

	// Responder selects the model backend: "gemini" (default) or "scripted"
	// (deterministic canned replies, useful offline and in the demo).
	Responder string `mapstructure:"responder" json:"responder"`
	ModelName string `mapstructure:"model_name" json:"model_name"` // e.g. "gemini-2.5-pro"

	// History window returned by session reads.
	HistoryLimit int32 `mapstructure:"history_limit" json:"history_limit"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Artifact configuration
	MaxArtifactBytes int64         `mapstructure:"max_artifact_bytes" json:"max_artifact_bytes"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval" json:"sweep_interval"`

	// Server configuration (serve mode only)
	ServerAddr  string   `mapstructure:"server_addr" json:"server_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For headers (set true behind reverse proxy)
	RateRPS     float64  `mapstructure:"rate_rps" json:"rate_rps"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// Observability configuration (see otlp.go for type definition)
	OTLP OTLPConfig `mapstructure:"otlp" json:"otlp"`
}

// Dir returns the configuration directory (~/.sessiond), creating it if
// necessary. The chat CLI also keeps its current-session pointer file here.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".sessiond")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return configDir, nil
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// The original deployment is dotenv-driven; missing .env is fine.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Debug("no .env file loaded", "error", err)
	}

	configDir, err := Dir()
	if err != nil {
		return nil, err
	}

	// Configure Viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	// Set default values
	setDefaults()

	// Bind environment variables
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	// Use Unmarshal to automatically map to struct (type-safe)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Clamp rather than reject: an out-of-range history window is a tuning
	// mistake, not a fatal misconfiguration.
	cfg.HistoryLimit = NormalizeHistoryLimit(cfg.HistoryLimit)

	// CRITICAL: Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// App defaults (matching the original demo deployment)
	viper.SetDefault("app_name", "demo_agent")
	viper.SetDefault("responder", ResponderGemini)
	viper.SetDefault("model_name", "gemini-2.5-pro")
	viper.SetDefault("history_limit", DefaultHistoryLimit)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "127.0.0.1")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "agent_user")
	viper.SetDefault("postgres_password", "agent_password")
	viper.SetDefault("postgres_db_name", "agent_sessions")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Artifact defaults
	viper.SetDefault("max_artifact_bytes", DefaultMaxArtifactBytes)
	viper.SetDefault("sweep_interval", time.Hour)

	// Server defaults
	viper.SetDefault("server_addr", ":8000")
	viper.SetDefault("cors_origins", []string{"*"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_rps", 10.0)
	viper.SetDefault("rate_burst", 20)

	// Logging defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)

	// OTLP defaults (export disabled until an endpoint is configured)
	viper.SetDefault("otlp.endpoint", "")
	viper.SetDefault("otlp.insecure", true)
	viper.SetDefault("otlp.service_name", "sessiond")
	viper.SetDefault("otlp.environment", "dev")
}

// bindEnvVariables binds environment variables explicitly.
// APP_NAME and GOOGLE_MODEL_NAME keep the names the original deployment used;
// the rest are namespaced under SESSIOND_.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("app_name", "APP_NAME")
	mustBind("model_name", "GOOGLE_MODEL_NAME")
	mustBind("responder", "SESSIOND_RESPONDER")

	mustBind("server_addr", "SESSIOND_ADDR")
	mustBind("cors_origins", "SESSIOND_CORS_ORIGINS")
	mustBind("trust_proxy", "SESSIOND_TRUST_PROXY")

	mustBind("log_level", "SESSIOND_LOG_LEVEL")
	mustBind("log_json", "SESSIOND_LOG_JSON")

	mustBind("otlp.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	// NOTE: GEMINI_API_KEY is read directly by the genai SDK, not via Viper.
	// Validation checks its presence when the gemini responder is selected.
	// NOTE: DATABASE_URL is handled by parseDatabaseURL, not via Viper.
}

// maskedValue is the placeholder for masked sensitive data.
// Using ████████ (full-width blocks U+2588) to avoid substring matching
// against real secret material.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters, masks the rest.
// SECURITY: For secrets <=8 chars, fully masks to prevent substring attacks.
//
// THREAT MODEL: This defends against accidental logging of real secrets.
// It is NOT cryptographically secure - if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//
// When adding new sensitive fields, update this method or the nested struct's
// MarshalJSON. The tests will remind you.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
