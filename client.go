package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Client is the resilient request client used by the per-resource API
// wrappers. GET requests are cached, de-duplicated while in flight and held
// back by a short per-request cooldown. Every request renews credentials
// once on 401 through the shared RenewalCoordinator. It is safe for
// concurrent use.
type Client struct {
	httpClient        *http.Client
	timeout           time.Duration
	baseURL           BaseURLFunc
	authHeaders       AuthHeaderFunc
	renewal           *RenewalCoordinator
	cache             CacheStore
	cacheTTL          time.Duration
	staleGrace        time.Duration
	cacheControl      bool
	cooldown          *CooldownGuard
	cooldownWindow    time.Duration
	pendingRequestTTL time.Duration
	inflight          *InFlightRegistry
	middleware        []Middleware
	clock             clock.Clock
	metrics           *MetricsCollector
	debug             *DebugConfig
	logger            Logger
	tracerProvider    trace.TracerProvider
	maxBodySize       int64
	executor          *RequestExecutor

	// dispatchMu makes the join, cooldown check and in-flight creation for a
	// fingerprint one step.
	dispatchMu sync.Mutex

	unsubscribe     func()
	validationError error
}

// New constructs a Client using the provided functional options. A best effort
// validation is performed; call IsValid / ValidationError for errors. An
// invalid client fails every request with the validation error.
func New(options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		timeout:           30 * time.Second,
		cacheTTL:          5 * time.Minute,
		staleGrace:        5 * time.Minute,
		cacheControl:      true,
		cooldownWindow:    time.Second,
		pendingRequestTTL: 30 * time.Second,
		middleware:        []Middleware{},
		clock:             clock.New(),
		debug:             DefaultDebugConfig(),
		logger:            nopLogger{},
		tracerProvider:    nooptrace.NewTracerProvider(),
		maxBodySize:       defaultMaxBodySize,
	}

	for _, option := range options {
		if option != nil {
			option(client)
		}
	}

	if client.clock == nil {
		client.clock = clock.New()
	}
	if client.debug == nil {
		client.debug = DefaultDebugConfig()
	}
	if client.logger == nil {
		client.logger = nopLogger{}
	}
	if client.tracerProvider == nil {
		client.tracerProvider = nooptrace.NewTracerProvider()
	}
	if client.cache == nil {
		client.cache = NewInMemoryCache(client.clock, client.staleGrace)
	}
	client.cooldown = NewCooldownGuard(client.clock)
	client.inflight = NewInFlightRegistry()
	client.executor = &RequestExecutor{
		httpClient:  client.httpClient,
		timeout:     client.timeout,
		middleware:  client.middleware,
		baseURL:     client.baseURL,
		authHeaders: client.authHeaders,
		renewal:     client.renewal,
		clock:       client.clock,
		tracer:      client.tracerProvider.Tracer(tracerName),
		metrics:     client.metrics,
		logger:      client.logger,
		debug:       client.debug,
		maxBodySize: client.maxBodySize,
	}

	if client.renewal != nil {
		client.unsubscribe = client.renewal.OnSessionEnded(client.endSession)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Get fetches endpoint with params, serving from the cache when possible and
// sharing one network call between identical concurrent requests. A repeat
// of a request that settled less than the cooldown window ago and left
// nothing cached fails with ErrCooldownActive.
//
// ctx bounds only this caller's wait. The network call itself is shared and
// keeps running for the other callers; each of its attempts is bounded by
// the client timeout.
func (c *Client) Get(ctx context.Context, endpoint string, params Params, opts ...RequestOption) (*Response, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}

	o := resolveRequestOptions(opts)
	fp := Fingerprint(endpoint, params)
	label := endpointPath(endpoint)
	req := Request{
		Method:             http.MethodGet,
		Endpoint:           endpoint,
		Params:             params,
		AllowNonStructured: o.AllowNonStructured,
	}

	if !o.ForceRefresh {
		entry, result := c.cache.Lookup(ctx, fp)
		switch result {
		case CacheHit:
			c.metrics.RecordCacheHit(label)
			if c.debug.on(c.debug.LogCache) {
				c.logger.Debug("cache hit", "fingerprint", fp)
			}
			return entry.Value, nil
		case CacheStale:
			if o.StaleWhileRevalidate {
				c.metrics.RecordCacheStaleHit(label)
				if c.debug.on(c.debug.LogCache) {
					c.logger.Debug("serving stale entry, revalidating", "fingerprint", fp, "expiredAt", entry.ExpiresAt())
				}
				c.revalidate(ctx, fp, req, o)
				return entry.Value, nil
			}
			c.metrics.RecordCacheMiss(label)
		default:
			c.metrics.RecordCacheMiss(label)
			if c.debug.on(c.debug.LogCache) {
				c.logger.Debug("cache miss", "fingerprint", fp)
			}
		}
	}

	call, cached, err := c.dispatch(ctx, fp, req, o)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}
	return call.Wait(ctx)
}

// dispatch joins the in-flight call for fp or, cooldown permitting, starts it.
// ForceRefresh skips the cooldown but still joins a call already running. A
// fresh entry cached by a call that settled after the caller's lookup is
// returned instead of a cooldown rejection.
func (c *Client) dispatch(ctx context.Context, fp string, req Request, o RequestOptions) (*InFlightCall, *Response, error) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	if call, ok := c.inflight.Lookup(fp); ok {
		c.metrics.RecordDeduplicationHit(endpointPath(req.Endpoint))
		if c.debug.on(c.debug.LogDedup) {
			c.logger.Debug("joining in-flight request", "fingerprint", fp)
		}
		return call, nil, nil
	}

	if !o.ForceRefresh {
		if entry, result := c.cache.Lookup(ctx, fp); result == CacheHit {
			c.metrics.RecordCacheHit(endpointPath(req.Endpoint))
			if c.debug.on(c.debug.LogCache) {
				c.logger.Debug("cache filled while dispatching", "fingerprint", fp)
			}
			return nil, entry.Value, nil
		}
	}

	if !o.ForceRefresh && c.cooldown.TryAcquire(fp, c.cooldownWindow) == CooldownBlocked {
		label := endpointPath(req.Endpoint)
		c.metrics.RecordCooldownBlock(label)
		c.metrics.RecordError(ErrorTypeCooldownActive, req.Method, label)
		if c.debug.on(c.debug.LogCooldown) {
			c.logger.Debug("request blocked by cooldown", "fingerprint", fp, "window", c.cooldownWindow)
		}
		return nil, nil, &ClientError{
			Type:      ErrorTypeCooldownActive,
			Message:   ErrCooldownActive.Message,
			Method:    req.Method,
			Endpoint:  req.Endpoint,
			Timestamp: c.clock.Now(),
		}
	}

	c.cooldown.Record(fp)
	detached := context.WithoutCancel(ctx)
	call, _ := c.inflight.GetOrCreate(fp, func() (*Response, error) {
		return c.fetch(detached, fp, req, o)
	})
	return call, nil, nil
}

// fetch is the body of a shared in-flight call.
func (c *Client) fetch(ctx context.Context, fp string, req Request, o RequestOptions) (*Response, error) {
	defer c.cooldown.ScheduleRelease(fp, c.pendingRequestTTL)

	resp, err := c.executor.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	c.store(ctx, fp, req, resp, o.TTL)
	return resp, nil
}

func (c *Client) store(ctx context.Context, fp string, req Request, resp *Response, requested time.Duration) {
	ttl := resolveTTL(resp.Header, requested, c.cacheTTL, c.cacheControl)
	if ttl <= 0 {
		if c.debug.on(c.debug.LogCache) {
			c.logger.Debug("response not cacheable", "fingerprint", fp)
		}
		return
	}
	if err := c.cache.Put(ctx, fp, resp, ttl); err != nil {
		c.logger.Warn("cache write failed", "fingerprint", fp, "error", err)
		c.metrics.RecordError("CacheWrite", req.Method, endpointPath(req.Endpoint))
		return
	}
	if c.debug.on(c.debug.LogCache) {
		c.logger.Debug("response cached", "fingerprint", fp, "ttl", ttl)
	}
}

// revalidate refreshes a stale entry in the background through the normal
// dispatch path. Failures are logged; the stale value has been served.
func (c *Client) revalidate(ctx context.Context, fp string, req Request, o RequestOptions) {
	o.StaleWhileRevalidate = false
	call, cached, err := c.dispatch(ctx, fp, req, o)
	if cached != nil {
		return
	}
	if err != nil {
		if c.debug.on(c.debug.LogCooldown) {
			c.logger.Debug("background refresh skipped", "fingerprint", fp, "error", err)
		}
		return
	}
	go func() {
		if _, err := call.Wait(context.Background()); err != nil {
			c.logger.Warn("background refresh failed", "fingerprint", fp, "error", err)
		}
	}()
}

// Post sends body to endpoint. Posts are never cached, de-duplicated or held
// back by the cooldown, but they get the same renew-once-on-401 treatment.
//
// body may be nil, []byte, string, io.Reader or any value encoded as JSON.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (*Response, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}

	payload, err := encodeBody(body)
	if err != nil {
		return nil, &ClientError{
			Type:      ErrorTypeValidation,
			Message:   "request body could not be encoded",
			Cause:     err,
			Method:    http.MethodPost,
			Endpoint:  endpoint,
			Timestamp: c.clock.Now(),
		}
	}

	header := make(http.Header)
	if payload != nil {
		header.Set("Content-Type", "application/json")
	}
	return c.executor.Execute(ctx, Request{
		Method:   http.MethodPost,
		Endpoint: endpoint,
		Body:     payload,
		Header:   header,
	})
}

// Do executes req through the auth path only, for methods other than GET
// and POST. Nothing is cached or de-duplicated.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}
	return c.executor.Execute(ctx, req)
}

func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	case io.Reader:
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(v); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return json.Marshal(v)
	}
}

// ClearPendingRequests forgets every in-flight call and cooldown record.
// Callers already waiting still receive their results.
func (c *Client) ClearPendingRequests() {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.inflight.Clear()
	c.cooldown.Clear()
}

// Invalidate drops the cached response for endpoint and params.
func (c *Client) Invalidate(ctx context.Context, endpoint string, params Params) error {
	return c.cache.Invalidate(ctx, Fingerprint(endpoint, params))
}

// InvalidateAll drops every cached response.
func (c *Client) InvalidateAll(ctx context.Context) error {
	return c.cache.InvalidateAll(ctx)
}

// PendingRequests returns the number of in-flight GET requests.
func (c *Client) PendingRequests() int {
	return c.inflight.Len()
}

// Renewal returns the coordinator the client renews credentials through.
func (c *Client) Renewal() *RenewalCoordinator {
	return c.renewal
}

// Close detaches the client from its renewal coordinator.
func (c *Client) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

func (c *Client) endSession(err error) {
	c.ClearPendingRequests()
	if cacheErr := c.cache.InvalidateAll(context.Background()); cacheErr != nil {
		c.logger.Warn("cache clear after session end failed", "error", cacheErr)
	}
	c.logger.Warn("session ended, pending requests and cache cleared", "error", err)
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// MustValidateConfiguration panics if configuration is invalid.
func (c *Client) MustValidateConfiguration() {
	if err := c.ValidateConfiguration(); err != nil {
		panic(fmt.Sprintf("invalid client configuration: %v", err))
	}
}

// GetJSON performs Get and decodes the JSON payload into T.
func GetJSON[T any](ctx context.Context, c *Client, endpoint string, params Params, opts ...RequestOption) (T, error) {
	var out T
	resp, err := c.Get(ctx, endpoint, params, opts...)
	if err != nil {
		return out, err
	}
	err = resp.Decode(&out)
	return out, err
}

// PostJSON performs Post and decodes the JSON payload into T.
func PostJSON[T any](ctx context.Context, c *Client, endpoint string, body any) (T, error) {
	var out T
	resp, err := c.Post(ctx, endpoint, body)
	if err != nil {
		return out, err
	}
	err = resp.Decode(&out)
	return out, err
}
