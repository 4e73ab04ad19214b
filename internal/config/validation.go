package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. App identity: every session row is scoped by this name.
	if c.AppName == "" {
		return fmt.Errorf("%w: app_name cannot be empty", ErrInvalidAppName)
	}

	// 2. Responder selection. The API key is only required when the gemini
	// backend is selected; the scripted responder works offline.
	switch c.Responder {
	case ResponderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required for the gemini responder\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
		if c.ModelName == "" {
			return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
		}
	case ResponderScripted:
		// No external requirements.
	default:
		return fmt.Errorf("%w: %q is not valid, must be one of: [%s %s]",
			ErrInvalidResponder, c.Responder, ResponderGemini, ResponderScripted)
	}

	// 3. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml or DATABASE_URL",
			ErrInvalidPostgresPassword)
	}

	// Warn if using the default dev password (but don't block - user might be in dev)
	if c.PostgresPassword == "agent_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	// 4. PostgreSQL SSL mode validation
	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	// Reference: https://www.postgresql.org/docs/current/libpq-ssl.html
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v\n"+
			"Note: 'allow' and 'prefer' modes are deprecated (vulnerable to MITM attacks)",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// 5. Artifact limits
	if c.MaxArtifactBytes < 1 || c.MaxArtifactBytes > MaxAllowedArtifactBytes {
		return fmt.Errorf("%w: must be between 1 and %d bytes, got %d",
			ErrInvalidArtifactLimit, MaxAllowedArtifactBytes, c.MaxArtifactBytes)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("%w: must be zero (disabled) or positive, got %s",
			ErrInvalidSweepInterval, c.SweepInterval)
	}

	// 6. Rate limiting (serve mode)
	if c.RateRPS <= 0 {
		return fmt.Errorf("%w: rate_rps must be positive, got %g", ErrInvalidRateLimit, c.RateRPS)
	}
	if c.RateBurst < 1 {
		return fmt.Errorf("%w: rate_burst must be at least 1, got %d", ErrInvalidRateLimit, c.RateBurst)
	}

	return nil
}

// NormalizeHistoryLimit clamps the session history window to sane bounds.
// Zero or negative values fall back to the default.
func NormalizeHistoryLimit(limit int32) int32 {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit < MinHistoryLimit {
		return MinHistoryLimit
	}
	if limit > MaxAllowedHistoryLimit {
		return MaxAllowedHistoryLimit
	}
	return limit
}
