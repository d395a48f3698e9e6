package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxBodySize = 10 << 20

// errorMessageKeys are the JSON fields searched for a server error message.
var errorMessageKeys = []string{"message", "error", "detail", "msg"}

// RequestExecutor performs a single logical request: it sends the attempt,
// renews credentials once on 401 and classifies the outcome. It knows nothing
// about caching, de-duplication or cooldown.
type RequestExecutor struct {
	httpClient  *http.Client
	timeout     time.Duration
	middleware  []Middleware
	baseURL     BaseURLFunc
	authHeaders AuthHeaderFunc
	renewal     *RenewalCoordinator
	clock       clock.Clock
	tracer      trace.Tracer
	metrics     *MetricsCollector
	logger      Logger
	debug       *DebugConfig
	maxBodySize int64
}

type attemptResult struct {
	url        string
	statusCode int
	header     http.Header
	body       []byte
}

// Execute runs req. A 401 on the first attempt triggers credential renewal
// and exactly one retry; a 401 on the retry, or a failed renewal, returns an
// AuthExpired error. Transport failures are not retried.
func (e *RequestExecutor) Execute(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	var requestID string
	if e.debug != nil && e.debug.Enabled && e.debug.RequestIDGen != nil {
		requestID = e.debug.RequestIDGen()
	}

	for attempt := 1; ; attempt++ {
		var observed uint64
		if e.renewal != nil {
			observed = e.renewal.Epoch()
		}

		res, err := e.send(ctx, req, attempt, requestID)
		if err != nil {
			return nil, e.fail(req, err)
		}

		if res.statusCode != http.StatusUnauthorized {
			resp, err := e.classify(req, res, attempt, requestID)
			if err != nil {
				return nil, e.fail(req, err)
			}
			return resp, nil
		}

		if attempt >= maxAttempts || e.renewal == nil {
			return nil, e.fail(req, e.newError(ErrorTypeAuthExpired, ErrAuthExpired.Message, nil, req, res, attempt, requestID))
		}

		if e.debug.on(e.debug.LogRenewal) {
			e.logger.Debug("unauthorized, renewing credentials", "requestID", requestID, "endpoint", req.Endpoint, "epoch", observed)
		}

		if err := e.renewal.Renew(ctx, observed); err != nil {
			var clientErr *ClientError
			if errors.As(err, &clientErr) {
				wrapped := e.newError(ErrorTypeAuthExpired, clientErr.Message, clientErr.Cause, req, res, attempt, requestID)
				return nil, e.fail(req, wrapped)
			}
			wrapped := e.newError(ErrorTypeServer, "request cancelled while renewing credentials", err, req, res, attempt, requestID)
			wrapped.StatusCode = 0
			wrapped.Timeout = isTimeout(err)
			return nil, e.fail(req, wrapped)
		}

		e.metrics.RecordAuthRetry(req.Method, endpointPath(req.Endpoint))
	}
}

func (e *RequestExecutor) send(ctx context.Context, req Request, attempt int, requestID string) (*attemptResult, *ClientError) {
	endpoint := endpointPath(req.Endpoint)

	target, err := buildURL(e.resolveBaseURL(), req.Endpoint, req.Params)
	if err != nil {
		return nil, &ClientError{
			Type:      ErrorTypeConfiguration,
			Message:   "request URL could not be built",
			Cause:     err,
			RequestID: requestID,
			Method:    req.Method,
			Endpoint:  req.Endpoint,
			Attempt:   attempt,
			Timestamp: e.clock.Now(),
		}
	}

	// Each attempt gets its own deadline; the http.Client may have none.
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	ctx, span := e.tracer.Start(ctx, "RequestExecutor.Attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("apiclient.endpoint", endpoint),
			attribute.Int("apiclient.attempt", attempt),
		))
	defer span.End()

	httpReq, err := e.newHTTPRequest(ctx, req, target, requestID)
	if err != nil {
		var clientErr *ClientError
		if !errors.As(err, &clientErr) {
			clientErr = &ClientError{Type: ErrorTypeConfiguration, Message: "request could not be created", Cause: err}
		}
		clientErr.RequestID = requestID
		clientErr.Method = req.Method
		clientErr.Endpoint = req.Endpoint
		clientErr.URL = target
		clientErr.Attempt = attempt
		clientErr.Timestamp = e.clock.Now()
		span.RecordError(err)
		span.SetStatus(codes.Error, clientErr.Message)
		return nil, clientErr
	}

	if e.debug.on(e.debug.LogRequests) {
		e.logger.Debug("sending request", "requestID", requestID, "method", req.Method, "url", target, "attempt", attempt)
	}

	e.metrics.RecordRequestStart(req.Method, endpoint)
	start := e.clock.Now()
	resp, err := e.roundTrip(httpReq)
	if err != nil {
		e.metrics.RecordRequestEnd(req.Method, endpoint)
		e.metrics.RecordRequest(req.Method, endpoint, 0, e.clock.Now().Sub(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return nil, &ClientError{
			Type:      ErrorTypeServer,
			Message:   "network request failed",
			Cause:     err,
			RequestID: requestID,
			Method:    req.Method,
			Endpoint:  req.Endpoint,
			URL:       target,
			Attempt:   attempt,
			Timeout:   isTimeout(err),
			Timestamp: e.clock.Now(),
		}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, e.maxBodySize+1))
	e.metrics.RecordRequestEnd(req.Method, endpoint)
	e.metrics.RecordRequest(req.Method, endpoint, resp.StatusCode, e.clock.Now().Sub(start))
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if readErr != nil {
		span.RecordError(readErr)
		span.SetStatus(codes.Error, "response body read failed")
		return nil, &ClientError{
			Type:       ErrorTypeServer,
			Message:    "response body could not be read",
			Cause:      readErr,
			RequestID:  requestID,
			Method:     req.Method,
			Endpoint:   req.Endpoint,
			URL:        target,
			StatusCode: resp.StatusCode,
			Attempt:    attempt,
			Timeout:    isTimeout(readErr),
			Timestamp:  e.clock.Now(),
		}
	}
	if int64(len(body)) > e.maxBodySize {
		span.SetStatus(codes.Error, "response body too large")
		return nil, &ClientError{
			Type:       ErrorTypeMalformedResponse,
			Message:    fmt.Sprintf("response body exceeds %d bytes", e.maxBodySize),
			RequestID:  requestID,
			Method:     req.Method,
			Endpoint:   req.Endpoint,
			URL:        target,
			StatusCode: resp.StatusCode,
			Attempt:    attempt,
			Timestamp:  e.clock.Now(),
		}
	}

	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}

	return &attemptResult{
		url:        target,
		statusCode: resp.StatusCode,
		header:     resp.Header,
		body:       body,
	}, nil
}

func (e *RequestExecutor) newHTTPRequest(ctx context.Context, req Request, target, requestID string) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}

	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", UserAgent())
	}
	if requestID != "" {
		httpReq.Header.Set("X-Request-ID", requestID)
	}

	if e.authHeaders != nil {
		auth, err := e.authHeaders(ctx)
		if err != nil {
			return nil, &ClientError{
				Type:    ErrorTypeAuthExpired,
				Message: "credentials unavailable",
				Cause:   err,
			}
		}
		for key, values := range auth {
			httpReq.Header.Del(key)
			for _, v := range values {
				httpReq.Header.Add(key, v)
			}
		}
	}

	return httpReq, nil
}

func (e *RequestExecutor) roundTrip(req *http.Request) (*http.Response, error) {
	if len(e.middleware) == 0 {
		return e.httpClient.Do(req)
	}

	current := RoundTripperFunc(e.httpClient.Do)

	for i := len(e.middleware) - 1; i >= 0; i-- {
		middleware := e.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current.RoundTrip(req)
}

func (e *RequestExecutor) resolveBaseURL() string {
	if e.baseURL == nil {
		return ""
	}
	return e.baseURL()
}

// classify turns a non-401 attempt into a Response or a typed error.
func (e *RequestExecutor) classify(req Request, res *attemptResult, attempt int, requestID string) (*Response, *ClientError) {
	kind := detectContentKind(res.header, res.body)

	switch {
	case res.statusCode >= 500:
		return nil, e.newError(ErrorTypeServer, extractErrorMessage(res.body, res.statusCode), nil, req, res, attempt, requestID)
	case res.statusCode >= 400:
		return nil, e.newError(ErrorTypeClient, extractErrorMessage(res.body, res.statusCode), nil, req, res, attempt, requestID)
	}

	switch kind {
	case ContentHTML:
		msg := fmt.Sprintf("expected structured data but received an HTML page (HTTP %d); "+
			"a gateway, proxy or captive portal probably intercepted the request, check the network connection and try again", res.statusCode)
		return nil, e.newError(ErrorTypeMalformedResponse, msg, nil, req, res, attempt, requestID)
	case ContentOther:
		if !req.AllowNonStructured {
			msg := fmt.Sprintf("expected structured data but received %q (HTTP %d)", mediaType(res.header), res.statusCode)
			return nil, e.newError(ErrorTypeMalformedResponse, msg, nil, req, res, attempt, requestID)
		}
	}

	return &Response{
		StatusCode:  res.statusCode,
		Header:      res.header,
		Body:        res.body,
		ContentKind: kind,
		ReceivedAt:  e.clock.Now(),
		Attempts:    attempt,
	}, nil
}

func (e *RequestExecutor) newError(errorType, message string, cause error, req Request, res *attemptResult, attempt int, requestID string) *ClientError {
	return &ClientError{
		Type:       errorType,
		Message:    message,
		Cause:      cause,
		RequestID:  requestID,
		Method:     req.Method,
		Endpoint:   req.Endpoint,
		URL:        res.url,
		StatusCode: res.statusCode,
		Attempt:    attempt,
		Body:       res.body,
		Timestamp:  e.clock.Now(),
	}
}

func (e *RequestExecutor) fail(req Request, err *ClientError) error {
	e.metrics.RecordError(err.Type, req.Method, endpointPath(req.Endpoint))
	if e.debug.on(e.debug.LogRequests) {
		e.logger.Debug("request failed", "requestID", err.RequestID, "type", err.Type, "status", err.StatusCode, "error", err.Message)
	}
	return err
}

// buildURL joins base and a relative endpoint; absolute endpoints are used
// as they are. Params are merged into any query already on the endpoint.
func buildURL(base, endpoint string, params Params) (string, error) {
	path, query := splitEndpoint(endpoint)
	for key, values := range params.Values() {
		query[key] = append(query[key], values...)
	}

	target := path
	if !isAbsoluteURL(path) {
		if base == "" {
			return "", errors.New("no base URL configured for relative endpoint " + path)
		}
		target = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid request URL %q", target)
	}
	if len(query) > 0 {
		merged := u.Query()
		for key, values := range query {
			merged[key] = append(merged[key], values...)
		}
		u.RawQuery = merged.Encode()
	}
	return u.String(), nil
}

func isAbsoluteURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func mediaType(header http.Header) string {
	ct := header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mt
}

// detectContentKind classifies a body. HTML is recognised by media type or by
// markup at the start of the body, since gateways often mislabel their pages.
func detectContentKind(header http.Header, body []byte) ContentKind {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ContentEmpty
	}

	mt := mediaType(header)
	if mt == "text/html" || mt == "application/xhtml+xml" || looksLikeHTML(trimmed) {
		return ContentHTML
	}
	if json.Valid(trimmed) {
		return ContentStructured
	}
	return ContentOther
}

func looksLikeHTML(body []byte) bool {
	if len(body) == 0 || body[0] != '<' {
		return false
	}
	head := body
	if len(head) > 64 {
		head = head[:64]
	}
	lower := bytes.ToLower(head)
	return bytes.HasPrefix(lower, []byte("<!doctype html")) ||
		bytes.HasPrefix(lower, []byte("<html")) ||
		bytes.HasPrefix(lower, []byte("<head")) ||
		bytes.HasPrefix(lower, []byte("<body"))
}

// extractErrorMessage pulls a human-readable message out of an error body,
// falling back to the status code.
func extractErrorMessage(body []byte, statusCode int) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range errorMessageKeys {
			switch v := payload[key].(type) {
			case string:
				if msg := strings.TrimSpace(v); msg != "" {
					return msg
				}
			case map[string]any:
				if msg, ok := v["message"].(string); ok && strings.TrimSpace(msg) != "" {
					return strings.TrimSpace(msg)
				}
			}
		}
	}
	return fmt.Sprintf("HTTP %d", statusCode)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

