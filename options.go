package apiclient

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// WithBaseURL sets a fixed backend base URL
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = func() string { return baseURL }
	}
}

// WithBaseURLFunc sets a resolver read on every attempt, for backends whose
// address can change at runtime (institute switch, environment switch).
func WithBaseURLFunc(fn BaseURLFunc) Option {
	return func(c *Client) {
		c.baseURL = fn
	}
}

// WithAuthHeaders sets the credential header builder, called per attempt.
func WithAuthHeaders(fn AuthHeaderFunc) Option {
	return func(c *Client) {
		c.authHeaders = fn
	}
}

// WithRenewalCoordinator sets the coordinator shared with the other clients
// of the same session. Without one a 401 is returned as AuthExpired.
func WithRenewalCoordinator(rc *RenewalCoordinator) Option {
	return func(c *Client) {
		c.renewal = rc
	}
}

// WithRenewer builds a private coordinator around renew. Prefer
// WithRenewalCoordinator when several clients share a session.
func WithRenewer(renew Renewer) Option {
	return func(c *Client) {
		c.renewal = NewRenewalCoordinator(renew)
	}
}

// WithCache sets the default cache TTL of the built-in in-memory cache
func WithCache(ttl time.Duration) Option {
	return func(c *Client) {
		c.cacheTTL = ttl
	}
}

// WithCustomCache sets a custom cache store and its default TTL
func WithCustomCache(store CacheStore, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = store
		c.cacheTTL = ttl
	}
}

// WithStaleGrace sets how long an expired entry of the built-in cache may
// still be served with StaleWhileRevalidate.
func WithStaleGrace(d time.Duration) Option {
	return func(c *Client) {
		c.staleGrace = d
	}
}

// WithCacheControl toggles whether response Cache-Control headers affect
// caching.
func WithCacheControl(enabled bool) Option {
	return func(c *Client) {
		c.cacheControl = enabled
	}
}

// WithCooldown sets the window within which a repeated request is rejected
func WithCooldown(window time.Duration) Option {
	return func(c *Client) {
		c.cooldownWindow = window
	}
}

// WithPendingRequestTTL sets how long a cooldown record outlives its request
func WithPendingRequestTTL(d time.Duration) Option {
	return func(c *Client) {
		c.pendingRequestTTL = d
	}
}

// WithTimeout sets the per-attempt timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
		if client != nil && client.Timeout > 0 {
			c.timeout = client.Timeout
		}
	}
}

// WithMiddleware adds middleware to the client
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithMaxBodySize limits how much of a response body is read
func WithMaxBodySize(n int64) Option {
	return func(c *Client) {
		c.maxBodySize = n
	}
}

// WithClock sets the clock used for cache expiry and cooldown timers
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// WithMetrics enables Prometheus metrics on the default registerer
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsRegistry enables Prometheus metrics on the given registerer
func WithMetricsRegistry(registerer prometheus.Registerer) Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollectorWithRegistry(registerer)
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithDebug enables debug logging with the default config
func WithDebug() Option {
	return func(c *Client) {
		c.debug = DefaultDebugConfig()
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithLogger sets the logger
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger sets a zap development logger
func WithSimpleLogger() Option {
	return func(c *Client) {
		c.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator sets a custom request ID generator
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for attempt spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracerProvider = tp
	}
}

// ValidateConfiguration checks the client configuration and aggregates every
// problem into one Validation error.
func (c *Client) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, c.validateTransportConfig()...)
	errors = append(errors, c.validateCacheConfig()...)
	errors = append(errors, c.validateCooldownConfig()...)
	errors = append(errors, c.validateDebugConfig()...)
	errors = append(errors, c.validateMiddlewareConfig()...)
	errors = append(errors, c.validateExtremeValues()...)

	if len(errors) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %s", strings.Join(errors, "; ")),
		}
	}

	return nil
}

func (c *Client) validateTransportConfig() []string {
	var errors []string

	if c.httpClient == nil {
		errors = append(errors, "HTTP client cannot be nil")
	}
	if c.timeout <= 0 {
		errors = append(errors, "timeout must be positive")
	}
	if c.baseURL == nil {
		errors = append(errors, "base URL must be set")
	}
	if c.maxBodySize <= 0 {
		errors = append(errors, "maxBodySize must be positive")
	}

	return errors
}

func (c *Client) validateCacheConfig() []string {
	var errors []string

	if c.cacheTTL <= 0 {
		errors = append(errors, "cacheTTL must be positive")
	}
	if c.staleGrace < 0 {
		errors = append(errors, "staleGrace must be non-negative")
	}

	return errors
}

func (c *Client) validateCooldownConfig() []string {
	var errors []string

	if c.cooldownWindow < 0 {
		errors = append(errors, "cooldown window must be non-negative")
	}
	if c.pendingRequestTTL < c.cooldownWindow {
		errors = append(errors, "pendingRequestTTL must be greater than or equal to the cooldown window")
	}

	return errors
}

func (c *Client) validateDebugConfig() []string {
	var errors []string

	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen == nil {
		errors = append(errors, "debug RequestIDGen must be set when debug is enabled")
	}

	return errors
}

func (c *Client) validateMiddlewareConfig() []string {
	var errors []string

	for i, middleware := range c.middleware {
		if middleware == nil {
			errors = append(errors, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}

	return errors
}

// validateExtremeValues rejects values that are almost certainly mistakes
func (c *Client) validateExtremeValues() []string {
	var errors []string

	if c.timeout > 10*time.Minute {
		errors = append(errors, "timeout > 10m may cause requests to hang for too long")
	}
	if c.cacheTTL > 24*time.Hour {
		errors = append(errors, "cacheTTL > 24h may cause stale data issues")
	}
	if c.cooldownWindow > time.Minute {
		errors = append(errors, "cooldown window > 1m would block legitimate reloads")
	}

	return errors
}
