package apiclient

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by LoadConfigFromEnv.
const (
	EnvBaseURL     = "APICLIENT_BASE_URL"
	EnvCacheTTL    = "APICLIENT_CACHE_TTL"
	EnvCooldown    = "APICLIENT_COOLDOWN"
	EnvPendingTTL  = "APICLIENT_PENDING_TTL"
	EnvStaleGrace  = "APICLIENT_STALE_GRACE"
	EnvTimeout     = "APICLIENT_TIMEOUT"
	EnvDebug       = "APICLIENT_DEBUG"
	EnvCacheHeader = "APICLIENT_CACHE_CONTROL"
)

// Config is the plain-data form of the client settings, for deployments that
// configure through the environment.
type Config struct {
	BaseURL           string
	CacheTTL          time.Duration
	Cooldown          time.Duration
	PendingRequestTTL time.Duration
	StaleGrace        time.Duration
	Timeout           time.Duration
	CacheControl      bool
	Debug             bool
}

// DefaultConfig returns the settings New uses when no option overrides them.
func DefaultConfig() Config {
	return Config{
		CacheTTL:          5 * time.Minute,
		Cooldown:          time.Second,
		PendingRequestTTL: 30 * time.Second,
		StaleGrace:        5 * time.Minute,
		Timeout:           30 * time.Second,
		CacheControl:      true,
	}
}

// LoadConfigFromEnv reads APICLIENT_* variables over DefaultConfig. Durations
// accept Go syntax ("90s", "5m") or a bare number of seconds.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	var problems []string

	cfg.BaseURL = strings.TrimSpace(envOrDefault(EnvBaseURL, cfg.BaseURL))

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{EnvCacheTTL, &cfg.CacheTTL},
		{EnvCooldown, &cfg.Cooldown},
		{EnvPendingTTL, &cfg.PendingRequestTTL},
		{EnvStaleGrace, &cfg.StaleGrace},
		{EnvTimeout, &cfg.Timeout},
	}
	for _, d := range durations {
		raw := strings.TrimSpace(os.Getenv(d.key))
		if raw == "" {
			continue
		}
		v, err := parseEnvDuration(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", d.key, err))
			continue
		}
		*d.dst = v
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{EnvDebug, &cfg.Debug},
		{EnvCacheHeader, &cfg.CacheControl},
	}
	for _, b := range bools {
		raw := strings.TrimSpace(os.Getenv(b.key))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %q is not a boolean", b.key, raw))
			continue
		}
		*b.dst = v
	}

	if len(problems) > 0 {
		return cfg, &ClientError{
			Type:    ErrorTypeConfiguration,
			Message: "invalid environment configuration",
			Cause:   fmt.Errorf("%s", strings.Join(problems, "; ")),
		}
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseEnvDuration(raw string) (time.Duration, error) {
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0, fmt.Errorf("%q must not be negative", raw)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%q is not a duration", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%q must not be negative", raw)
	}
	return d, nil
}

// WithConfig applies cfg. Later options still override it. An empty BaseURL
// leaves the base URL untouched.
func WithConfig(cfg Config) Option {
	return func(c *Client) {
		if cfg.BaseURL != "" {
			WithBaseURL(cfg.BaseURL)(c)
		}
		c.cacheTTL = cfg.CacheTTL
		c.cooldownWindow = cfg.Cooldown
		c.pendingRequestTTL = cfg.PendingRequestTTL
		c.staleGrace = cfg.StaleGrace
		c.cacheControl = cfg.CacheControl
		WithTimeout(cfg.Timeout)(c)
		if cfg.Debug {
			WithDebug()(c)
		}
	}
}
