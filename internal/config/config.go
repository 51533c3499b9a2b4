// Package config provides configuration loading and validation for the API
// server. It uses koanf to merge environment variables with optional file
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Gateway modes.
const (
	GatewayModeStripe    = "stripe"
	GatewayModeSimulated = "simulated"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database. Empty means the in-memory stores; state is lost on restart.
	DatabaseURL string `koanf:"database_url"`

	// Redis. Empty disables the Redis-backed rate limiter and readiness check.
	RedisURL string `koanf:"redis_url"`

	// JWT Authentication
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// Payment gateway
	GatewayMode           string        `koanf:"gateway_mode"`
	StripeAPIKey          string        `koanf:"stripe_api_key"`
	StripeWebhookSecret   string        `koanf:"stripe_webhook_secret"`
	DefaultCurrency       string        `koanf:"default_currency"`
	GatewayTimeoutSeconds int           `koanf:"gateway_timeout_seconds"`
	GatewayTimeout        time.Duration `koanf:"-"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingEndpoint   string  `koanf:"tracing_endpoint"`
	TracingExporter   string  `koanf:"tracing_exporter"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
}

// Configuration validation errors.
var (
	ErrMissingJWTSecret           = errors.New("JWT_SECRET is required")
	ErrMissingStripeAPIKey        = errors.New("STRIPE_API_KEY is required when GATEWAY_MODE is stripe")
	ErrMissingStripeWebhookSecret = errors.New("STRIPE_WEBHOOK_SECRET is required when GATEWAY_MODE is stripe")
	ErrInvalidGatewayMode         = errors.New("GATEWAY_MODE must be stripe or simulated")
	ErrInvalidPort                = errors.New("PORT must be a valid integer")
	ErrInvalidGatewayTimeout      = errors.New("GATEWAY_TIMEOUT_SECONDS must be a positive integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort                  = 8080
	DefaultEnv                   = "development"
	DefaultGatewayMode           = GatewayModeSimulated
	DefaultCurrencyCode          = "usd"
	DefaultGatewayTimeoutSeconds = 10
	DefaultTracingExporter       = "otlp-http"
	DefaultTracingSampleRate     = 1.0
)

// Load reads configuration from environment variables and an optional config
// file. Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort, ErrInvalidPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	timeoutSeconds, timeoutErr := getEnvIntOrDefault("GATEWAY_TIMEOUT_SECONDS",
		k.Int("gateway_timeout_seconds"), DefaultGatewayTimeoutSeconds, ErrInvalidGatewayTimeout)
	if timeoutErr != nil {
		loadErrs = append(loadErrs, timeoutErr)
	}

	sampleRate, sampleErr := getEnvFloatOrDefault("TRACING_SAMPLE_RATE",
		k.Float64("tracing_sample_rate"), DefaultTracingSampleRate)
	if sampleErr != nil {
		loadErrs = append(loadErrs, sampleErr)
	}

	cfg := &Config{
		Port:                  port,
		Env:                   getEnvOrDefault("ENV", k.String("env"), DefaultEnv),
		DatabaseURL:           getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:              getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		JWTSecret:             getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret:     getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		GatewayMode:           getEnvOrDefault("GATEWAY_MODE", k.String("gateway_mode"), DefaultGatewayMode),
		StripeAPIKey:          getEnvOrKoanf("STRIPE_API_KEY", k, "stripe_api_key"),
		StripeWebhookSecret:   getEnvOrKoanf("STRIPE_WEBHOOK_SECRET", k, "stripe_webhook_secret"),
		DefaultCurrency:       getEnvOrDefault("DEFAULT_CURRENCY", k.String("default_currency"), DefaultCurrencyCode),
		GatewayTimeoutSeconds: timeoutSeconds,
		TracingEnabled:        getEnvBool("TRACING_ENABLED", k.Bool("tracing_enabled")),
		TracingEndpoint:       getEnvOrKoanf("TRACING_ENDPOINT", k, "tracing_endpoint"),
		TracingExporter:       getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		TracingSampleRate:     sampleRate,
	}
	cfg.GatewayTimeout = time.Duration(cfg.GatewayTimeoutSeconds) * time.Second

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the
// koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise
// the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set,
// otherwise the koanf value, or default. Returns invalidErr if the
// environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int, invalidErr error) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s=%q: %w", envKey, val, invalidErr)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set,
// otherwise the koanf value, or default.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvBool returns the environment variable as bool if set, otherwise the
// koanf value.
func getEnvBool(envKey string, koanfVal bool) bool {
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return koanfVal
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}

	switch c.GatewayMode {
	case GatewayModeStripe:
		if c.StripeAPIKey == "" {
			errs = append(errs, ErrMissingStripeAPIKey)
		}
		if c.StripeWebhookSecret == "" {
			errs = append(errs, ErrMissingStripeWebhookSecret)
		}
	case GatewayModeSimulated:
		// No gateway credentials needed.
	default:
		errs = append(errs, fmt.Errorf("%w (got %q)", ErrInvalidGatewayMode, c.GatewayMode))
	}

	if c.GatewayTimeoutSeconds <= 0 {
		errs = append(errs, ErrInvalidGatewayTimeout)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                    fmt.Sprintf("%d", c.Port),
		"env":                     c.Env,
		"database_url":            maskDatabaseURL(c.DatabaseURL),
		"redis_url":               maskDatabaseURL(c.RedisURL),
		"jwt_secret":              maskSecret(c.JWTSecret),
		"gateway_mode":            c.GatewayMode,
		"stripe_api_key":          maskStripeKey(c.StripeAPIKey),
		"stripe_webhook_secret":   maskSecret(c.StripeWebhookSecret),
		"default_currency":        c.DefaultCurrency,
		"gateway_timeout_seconds": fmt.Sprintf("%d", c.GatewayTimeoutSeconds),
		"tracing_enabled":         fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_endpoint":        c.TracingEndpoint,
	}
}

// maskSecret masks a secret value, showing only the first 4 characters
// followed by ****. Secrets shorter than 8 characters are fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskStripeKey masks a Stripe API key, preserving the prefix (sk_live_,
// sk_test_, etc.).
func maskStripeKey(s string) string {
	if s == "" {
		return "<not set>"
	}

	parts := strings.SplitN(s, "_", 3)
	if len(parts) == 3 {
		return parts[0] + "_" + parts[1] + "_****"
	}

	return maskSecret(s)
}

// maskDatabaseURL masks the password in a connection URL.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
