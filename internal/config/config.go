// Package config loads the authorization server settings from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreValkey   = "valkey"
	StorePostgres = "postgres"
)

// Token formats.
const (
	FormatOpaque = "opaque"
	FormatJWT    = "jwt"
)

// Config holds the process configuration.
type Config struct {
	Addr     string
	Issuer   string
	LogLevel string

	Store         string
	ValkeyAddr    string
	ValkeyPass    string
	ValkeyDB      int
	PostgresDSN   string
	SweepInterval time.Duration

	TokenFormat    string
	SigningKeyFile string

	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	RefreshTokenPolicy string
	CheckTokenAccess   string
	TokenKeyAccess     string
	AutoApproveScopes  []string
	DisableFormAuth    bool

	CORSOrigins    []string
	TrustProxy     bool
	RateLimit      float64
	RateLimitBurst int
	LoginURL       string
	SessionSecret  string

	MetricsEnabled bool
	ClientsFile    string
	UsersFile      string
}

// Load reads AUTHZ_* environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:               getEnv("AUTHZ_ADDR", ":8080"),
		Issuer:             getEnv("AUTHZ_ISSUER", "http://localhost:8080"),
		LogLevel:           getEnv("AUTHZ_LOG_LEVEL", "info"),
		Store:              getEnv("AUTHZ_STORE", StoreMemory),
		ValkeyAddr:         getEnv("AUTHZ_VALKEY_ADDR", "localhost:6379"),
		ValkeyPass:         getEnv("AUTHZ_VALKEY_PASSWORD", ""),
		PostgresDSN:        getEnv("AUTHZ_POSTGRES_DSN", ""),
		TokenFormat:        getEnv("AUTHZ_TOKEN_FORMAT", FormatOpaque),
		SigningKeyFile:     getEnv("AUTHZ_SIGNING_KEY_FILE", ""),
		RefreshTokenPolicy: getEnv("AUTHZ_REFRESH_TOKEN_POLICY", "rotate"),
		CheckTokenAccess:   getEnv("AUTHZ_CHECK_TOKEN_ACCESS", "denyAll()"),
		TokenKeyAccess:     getEnv("AUTHZ_TOKEN_KEY_ACCESS", "denyAll()"),
		AutoApproveScopes:  getEnvAsList("AUTHZ_AUTO_APPROVE_SCOPES"),
		CORSOrigins:        getEnvAsList("AUTHZ_CORS_ORIGINS"),
		LoginURL:           getEnv("AUTHZ_LOGIN_URL", ""),
		SessionSecret:      getEnv("AUTHZ_SESSION_SECRET", ""),
		ClientsFile:        getEnv("AUTHZ_CLIENTS_FILE", ""),
		UsersFile:          getEnv("AUTHZ_USERS_FILE", ""),
	}

	var err error
	if cfg.ValkeyDB, err = getEnvAsInt("AUTHZ_VALKEY_DB", 0); err != nil {
		return nil, fmt.Errorf("invalid AUTHZ_VALKEY_DB: %w", err)
	}
	if cfg.RateLimitBurst, err = getEnvAsInt("AUTHZ_RATE_LIMIT_BURST", 20); err != nil {
		return nil, fmt.Errorf("invalid AUTHZ_RATE_LIMIT_BURST: %w", err)
	}
	if cfg.RateLimit, err = getEnvAsFloat("AUTHZ_RATE_LIMIT", 10); err != nil {
		return nil, fmt.Errorf("invalid AUTHZ_RATE_LIMIT: %w", err)
	}
	if cfg.SweepInterval, err = getEnvAsDuration("AUTHZ_SWEEP_INTERVAL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("invalid AUTHZ_SWEEP_INTERVAL: %w", err)
	}
	if cfg.AccessTokenTTL, err = getEnvAsDuration("AUTHZ_ACCESS_TOKEN_TTL", time.Hour); err != nil {
		return nil, fmt.Errorf("invalid AUTHZ_ACCESS_TOKEN_TTL: %w", err)
	}
	if cfg.RefreshTokenTTL, err = getEnvAsDuration("AUTHZ_REFRESH_TOKEN_TTL", 30*24*time.Hour); err != nil {
		return nil, fmt.Errorf("invalid AUTHZ_REFRESH_TOKEN_TTL: %w", err)
	}
	if cfg.DisableFormAuth, err = getEnvAsBool("AUTHZ_DISABLE_FORM_AUTH", false); err != nil {
		return nil, fmt.Errorf("invalid AUTHZ_DISABLE_FORM_AUTH: %w", err)
	}
	if cfg.TrustProxy, err = getEnvAsBool("AUTHZ_TRUST_PROXY", false); err != nil {
		return nil, fmt.Errorf("invalid AUTHZ_TRUST_PROXY: %w", err)
	}
	if cfg.MetricsEnabled, err = getEnvAsBool("AUTHZ_METRICS_ENABLED", true); err != nil {
		return nil, fmt.Errorf("invalid AUTHZ_METRICS_ENABLED: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreValkey:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("AUTHZ_POSTGRES_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch c.TokenFormat {
	case FormatOpaque, FormatJWT:
	default:
		return fmt.Errorf("unknown token format %q", c.TokenFormat)
	}
	if c.ValkeyDB < 0 {
		return fmt.Errorf("AUTHZ_VALKEY_DB must not be negative")
	}
	if c.RateLimit < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit settings must not be negative")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("AUTHZ_SWEEP_INTERVAL must be positive")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(value)
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue, nil
	}
	return strconv.ParseFloat(value, 64)
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue, nil
	}
	return strconv.ParseBool(value)
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(value)
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
