// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	Backend     BackendConfig
	Session     SessionConfig
	Timeout     TimeoutConfig
}

// BackendConfig points at the room/token and summarization service.
type BackendConfig struct {
	URL       string
	Timeout   time.Duration
	TokenSkew time.Duration
}

// SessionConfig controls per-tab call sessions.
type SessionConfig struct {
	ResyncInterval    time.Duration
	RedirectDelay     time.Duration
	RedirectPath      string
	IdleTTL           time.Duration
	RecordRetention   time.Duration
	AdaptiveStream    bool
	PublishLocalMedia bool
}

// TimeoutConfig bounds request-scoped work.
type TimeoutConfig struct {
	Join        time.Duration
	HealthCheck time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/warmtransfer.db"),
		Backend: BackendConfig{
			URL:       strings.TrimRight(getEnv("BACKEND_URL", "http://localhost:8000"), "/"),
			Timeout:   getEnvDuration("BACKEND_TIMEOUT", 10*time.Second),
			TokenSkew: getEnvDuration("TOKEN_EXPIRY_SKEW", 30*time.Second),
		},
		Session: SessionConfig{
			ResyncInterval:    getEnvDuration("ROSTER_RESYNC_INTERVAL", time.Second),
			RedirectDelay:     getEnvDuration("REDIRECT_DELAY", 2*time.Second),
			RedirectPath:      getEnv("REDIRECT_PATH", "/"),
			IdleTTL:           getEnvDuration("SESSION_IDLE_TTL", 10*time.Minute),
			RecordRetention:   getEnvDuration("RECORD_RETENTION", 7*24*time.Hour),
			AdaptiveStream:    getEnvBool("ADAPTIVE_STREAM", true),
			PublishLocalMedia: getEnvBool("PUBLISH_LOCAL_MEDIA", true),
		},
		Timeout: TimeoutConfig{
			Join:        getEnvDuration("JOIN_TIMEOUT", 30*time.Second),
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be an absolute URL, got %q", c.Backend.URL)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be > 0")
	}
	if c.Backend.TokenSkew < 0 {
		return fmt.Errorf("TOKEN_EXPIRY_SKEW cannot be negative")
	}
	if c.Session.ResyncInterval < 0 {
		return fmt.Errorf("ROSTER_RESYNC_INTERVAL cannot be negative")
	}
	if c.Session.RedirectDelay < 0 {
		return fmt.Errorf("REDIRECT_DELAY cannot be negative")
	}
	if !strings.HasPrefix(c.Session.RedirectPath, "/") {
		return fmt.Errorf("REDIRECT_PATH must start with /")
	}
	if c.Session.IdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be > 0")
	}
	if c.Session.RecordRetention <= 0 {
		return fmt.Errorf("RECORD_RETENTION must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// getEnvDuration accepts Go durations ("90s", "10m") or a bare number of seconds.
// A "d" suffix is read as days.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if days, found := strings.CutSuffix(value, "d"); found {
		n, err := strconv.Atoi(days)
		if err != nil {
			return fallback
		}
		return time.Duration(n) * 24 * time.Hour
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
