package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// AuthHeaderFunc supplies the credential headers for a single attempt. It is
// called again for every attempt so a renewed credential is picked up without
// any extra plumbing.
type AuthHeaderFunc func(ctx context.Context) (http.Header, error)

// BaseURLFunc resolves the backend base URL. It is re-read on every attempt.
type BaseURLFunc func() string

// Renewer exchanges an expired credential for a fresh one. Only the outcome
// matters to the client; the wire protocol belongs to the implementation.
type Renewer func(ctx context.Context) error

// Middleware represents a middleware function
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc is a helper type for middleware
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Option represents a configuration option
type Option func(*Client)

// ContentKind describes the shape of a response body.
type ContentKind int

const (
	ContentEmpty ContentKind = iota
	ContentStructured
	ContentHTML
	ContentOther
)

func (k ContentKind) String() string {
	switch k {
	case ContentEmpty:
		return "empty"
	case ContentStructured:
		return "structured"
	case ContentHTML:
		return "html"
	case ContentOther:
		return "other"
	default:
		return "unknown"
	}
}

// Request is a single logical request handed to the RequestExecutor.
type Request struct {
	Method   string
	Endpoint string
	Params   Params
	Body     []byte
	Header   http.Header

	// AllowNonStructured accepts non-JSON success bodies (exports, files).
	// HTML documents are still rejected as MalformedResponse.
	AllowNonStructured bool
}

// Response is a classified successful response. Responses returned from the
// cache or shared between de-duplicated callers are the same value, so
// callers must treat them as read-only.
type Response struct {
	StatusCode  int
	Header      http.Header
	Body        []byte
	ContentKind ContentKind
	ReceivedAt  time.Time
	Attempts    int
}

// Decode unmarshals a structured body into v. An empty body leaves v untouched.
func (r *Response) Decode(v any) error {
	if r == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &ClientError{
			Type:       ErrorTypeDecode,
			Message:    "response body could not be decoded",
			StatusCode: r.StatusCode,
			Cause:      err,
		}
	}
	return nil
}

// RequestOptions tune a single Get call.
type RequestOptions struct {
	// TTL overrides the cache TTL for this response. Zero uses the server's
	// Cache-Control max-age or the client default; negative disables caching.
	TTL                  time.Duration
	ForceRefresh         bool
	StaleWhileRevalidate bool
	AllowNonStructured   bool
}

// RequestOption configures RequestOptions.
type RequestOption func(*RequestOptions)

// TTL sets the cache TTL for the response.
func TTL(d time.Duration) RequestOption {
	return func(o *RequestOptions) {
		o.TTL = d
	}
}

// ForceRefresh skips the cache and cooldown checks.
func ForceRefresh() RequestOption {
	return func(o *RequestOptions) {
		o.ForceRefresh = true
	}
}

// StaleWhileRevalidate serves a stale entry within the grace window and
// refreshes it in the background.
func StaleWhileRevalidate() RequestOption {
	return func(o *RequestOptions) {
		o.StaleWhileRevalidate = true
	}
}

// AllowNonStructured accepts non-JSON, non-HTML success bodies.
func AllowNonStructured() RequestOption {
	return func(o *RequestOptions) {
		o.AllowNonStructured = true
	}
}

func resolveRequestOptions(opts []RequestOption) RequestOptions {
	var o RequestOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
