package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newStaticServer(t *testing.T, status int, contentType, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, c *Client, req Request) (*Response, error) {
	t.Helper()
	require.True(t, c.IsValid(), "client invalid: %v", c.ValidationError())
	return c.executor.Execute(context.Background(), req)
}

func TestExecuteClassification(t *testing.T) {
	testCases := []struct {
		name        string
		status      int
		contentType string
		body        string
		allowOther  bool
		wantType    string
		wantKind    ContentKind
		wantMessage string
	}{
		{name: "json", status: 200, contentType: "application/json", body: `{"ok":true}`, wantKind: ContentStructured},
		{name: "json without content type", status: 200, body: `[1,2]`, wantKind: ContentStructured},
		{name: "no content", status: 204, wantKind: ContentEmpty},
		{name: "created", status: 201, contentType: "application/json", body: `{"id":1}`, wantKind: ContentStructured},
		{name: "gateway html", status: 200, contentType: "text/html", body: "<html><body>login</body></html>", wantType: ErrorTypeMalformedResponse},
		{name: "mislabelled html", status: 200, contentType: "application/json", body: "<!DOCTYPE html><html></html>", wantType: ErrorTypeMalformedResponse},
		{name: "csv rejected", status: 200, contentType: "text/csv", body: "a,b\n1,2\n", wantType: ErrorTypeMalformedResponse},
		{name: "csv allowed", status: 200, contentType: "text/csv", body: "a,b\n1,2\n", allowOther: true, wantKind: ContentOther},
		{name: "html rejected even when allowed", status: 200, contentType: "text/html", body: "<html></html>", allowOther: true, wantType: ErrorTypeMalformedResponse},
		{name: "not found detail", status: 404, contentType: "application/json", body: `{"detail":"lecture not found"}`, wantType: ErrorTypeClient, wantMessage: "lecture not found"},
		{name: "validation message", status: 422, body: `{"message":"date is required","error":"ignored"}`, wantType: ErrorTypeClient, wantMessage: "date is required"},
		{name: "nested error", status: 400, body: `{"error":{"message":"bad class"}}`, wantType: ErrorTypeClient, wantMessage: "bad class"},
		{name: "server error", status: 500, body: `{"error":"database unavailable"}`, wantType: ErrorTypeServer, wantMessage: "database unavailable"},
		{name: "server error html", status: 502, contentType: "text/html", body: "<html>Bad Gateway</html>", wantType: ErrorTypeServer, wantMessage: "HTTP 502"},
		{name: "forbidden", status: 403, body: ``, wantType: ErrorTypeClient, wantMessage: "HTTP 403"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newStaticServer(t, tc.status, tc.contentType, tc.body)
			c := New(WithBaseURL(srv.URL))

			resp, err := execute(t, c, Request{Method: http.MethodGet, Endpoint: "/x", AllowNonStructured: tc.allowOther})
			if tc.wantType == "" {
				require.NoError(t, err)
				assert.Equal(t, tc.status, resp.StatusCode)
				assert.Equal(t, tc.wantKind, resp.ContentKind)
				assert.Equal(t, 1, resp.Attempts)
				return
			}

			require.Error(t, err)
			var clientErr *ClientError
			require.True(t, errors.As(err, &clientErr))
			assert.Equal(t, tc.wantType, clientErr.Type)
			assert.Equal(t, tc.status, clientErr.StatusCode)
			assert.Equal(t, 1, clientErr.Attempt)
			if tc.wantMessage != "" {
				assert.Equal(t, tc.wantMessage, clientErr.Message)
			}
		})
	}
}

func TestExecuteMalformedMessageIsActionable(t *testing.T) {
	srv := newStaticServer(t, 200, "text/html", "<html><body>Sign in to Wi-Fi</body></html>")
	c := New(WithBaseURL(srv.URL))

	_, err := execute(t, c, Request{Endpoint: "/attendance"})
	require.ErrorIs(t, err, ErrMalformedResponse)
	assert.Contains(t, err.Error(), "HTML page")
	assert.Contains(t, err.Error(), "network")
}

func TestExecuteTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(WithBaseURL(url))
	_, err := execute(t, c, Request{Endpoint: "/x"})

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, ErrorTypeServer, clientErr.Type)
	assert.Zero(t, clientErr.StatusCode)
	assert.False(t, clientErr.Timeout)
	assert.True(t, IsTransient(err))
}

func TestExecuteTimeout(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))
	_, err := execute(t, c, Request{Endpoint: "/slow"})

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, ErrorTypeServer, clientErr.Type)
	assert.True(t, clientErr.Timeout)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits), "timeouts are not retried")
}

// authServer answers 401 until the bearer token matches the current one.
type authServer struct {
	*httptest.Server
	token atomic.Value
	hits  int32
}

func newAuthServer(t *testing.T) *authServer {
	t.Helper()
	s := &authServer{}
	s.token.Store("fresh")
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.hits, 1)
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer "+s.token.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"token expired"}`))
			return
		}
		_, _ = w.Write([]byte(`{"attempt":"ok"}`))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *authServer) Hits() int { return int(atomic.LoadInt32(&s.hits)) }

type tokenHolder struct{ v atomic.Value }

func newTokenHolder(token string) *tokenHolder {
	h := &tokenHolder{}
	h.v.Store(token)
	return h
}

func (h *tokenHolder) set(token string) { h.v.Store(token) }

func (h *tokenHolder) headers(context.Context) (http.Header, error) {
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+h.v.Load().(string))
	return hdr, nil
}

func TestExecuteRenewsOnceAndRetries(t *testing.T) {
	srv := newAuthServer(t)
	tokens := newTokenHolder("stale")
	rc := NewRenewalCoordinator(func(ctx context.Context) error {
		tokens.set("fresh")
		return nil
	})
	c := New(WithBaseURL(srv.URL), WithAuthHeaders(tokens.headers), WithRenewalCoordinator(rc))

	resp, err := execute(t, c, Request{Endpoint: "/attendance"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"attempt":"ok"}`, string(resp.Body))
	assert.Equal(t, 2, resp.Attempts)
	assert.Equal(t, 2, srv.Hits())
	assert.EqualValues(t, 1, rc.Renewals())
}

func TestExecuteRenewalFailureStopsAfterFirstAttempt(t *testing.T) {
	srv := newAuthServer(t)
	tokens := newTokenHolder("stale")
	rc := NewRenewalCoordinator(func(ctx context.Context) error { return errors.New("refresh rejected") })
	c := New(WithBaseURL(srv.URL), WithAuthHeaders(tokens.headers), WithRenewalCoordinator(rc))

	_, err := execute(t, c, Request{Endpoint: "/attendance"})
	require.ErrorIs(t, err, ErrAuthExpired)
	assert.Equal(t, 1, srv.Hits(), "no second attempt after a failed renewal")
	assert.EqualValues(t, 1, rc.Renewals())
}

func TestExecuteSecondUnauthorizedIsAuthExpired(t *testing.T) {
	srv := newAuthServer(t)
	tokens := newTokenHolder("stale")
	rc := NewRenewalCoordinator(func(ctx context.Context) error { return nil })
	c := New(WithBaseURL(srv.URL), WithAuthHeaders(tokens.headers), WithRenewalCoordinator(rc))

	_, err := execute(t, c, Request{Endpoint: "/attendance"})

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, ErrorTypeAuthExpired, clientErr.Type)
	assert.Equal(t, http.StatusUnauthorized, clientErr.StatusCode)
	assert.Equal(t, 2, clientErr.Attempt)
	assert.Equal(t, 2, srv.Hits())
	assert.EqualValues(t, 1, rc.Renewals(), "a 401 on the retry never renews again")
}

func TestExecuteWithoutCoordinator(t *testing.T) {
	srv := newAuthServer(t)
	c := New(WithBaseURL(srv.URL), WithAuthHeaders(newTokenHolder("stale").headers))

	_, err := execute(t, c, Request{Endpoint: "/x"})
	require.ErrorIs(t, err, ErrAuthExpired)
	assert.Equal(t, 1, srv.Hits())
}

func TestExecuteAuthHeaderFailure(t *testing.T) {
	srv := newAuthServer(t)
	noToken := errors.New("signed out")
	c := New(WithBaseURL(srv.URL), WithAuthHeaders(func(context.Context) (http.Header, error) {
		return nil, noToken
	}))

	_, err := execute(t, c, Request{Endpoint: "/x"})
	require.ErrorIs(t, err, ErrAuthExpired)
	require.ErrorIs(t, err, noToken)
	assert.Zero(t, srv.Hits())
}

func TestExecuteRereadsBaseURLPerAttempt(t *testing.T) {
	var firstHits, secondHits int32
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&firstHits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&secondHits, 1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer second.Close()

	var base atomic.Value
	base.Store(first.URL)
	rc := NewRenewalCoordinator(func(ctx context.Context) error {
		base.Store(second.URL)
		return nil
	})
	c := New(
		WithBaseURLFunc(func() string { return base.Load().(string) }),
		WithRenewalCoordinator(rc),
	)

	_, err := execute(t, c, Request{Endpoint: "/x"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&firstHits))
	assert.EqualValues(t, 1, atomic.LoadInt32(&secondHits))
}

func TestExecuteBuildsRequest(t *testing.T) {
	var gotURL, gotAccept, gotAgent, gotRequestID, gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		gotAccept = r.Header.Get("Accept")
		gotAgent = r.Header.Get("User-Agent")
		gotRequestID = r.Header.Get("X-Request-ID")
		gotTrace = r.Header.Get("X-Trace")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var order []string
	mw := func(name string) Middleware {
		return func(req *http.Request, next RoundTripper) (*http.Response, error) {
			order = append(order, name)
			req.Header.Set("X-Trace", name)
			return next.RoundTrip(req)
		}
	}

	c := New(
		WithBaseURL(srv.URL+"/api/"),
		WithDebug(),
		WithRequestIDGenerator(func() string { return "req-42" }),
		WithMiddleware(mw("outer"), mw("inner")),
	)

	_, err := execute(t, c, Request{Endpoint: "/attendance?date=2024-05-02", Params: Params{"classId": 7}})
	require.NoError(t, err)
	assert.Equal(t, "/api/attendance?classId=7&date=2024-05-02", gotURL)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, UserAgent(), gotAgent)
	assert.Equal(t, "req-42", gotRequestID)
	assert.Equal(t, "inner", gotTrace)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestExecuteAbsoluteEndpoint(t *testing.T) {
	srv := newStaticServer(t, 200, "application/json", `{}`)
	c := New(WithBaseURL("http://unused.invalid"))

	_, err := execute(t, c, Request{Endpoint: srv.URL + "/direct"})
	require.NoError(t, err)
}

func TestExecuteBodyLimit(t *testing.T) {
	srv := newStaticServer(t, 200, "application/json", `{"data":"0123456789"}`)
	c := New(WithBaseURL(srv.URL), WithMaxBodySize(8))

	_, err := execute(t, c, Request{Endpoint: "/x"})
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestExecuteSpansPerAttempt(t *testing.T) {
	srv := newAuthServer(t)
	tokens := newTokenHolder("stale")
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	rc := NewRenewalCoordinator(func(ctx context.Context) error {
		tokens.set("fresh")
		return nil
	}, WithRenewalTracerProvider(tp))
	c := New(WithBaseURL(srv.URL), WithAuthHeaders(tokens.headers), WithRenewalCoordinator(rc), WithTracerProvider(tp))

	_, err := execute(t, c, Request{Endpoint: "/x"})
	require.NoError(t, err)

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"RequestExecutor.Attempt", "RenewalCoordinator.Renew", "RequestExecutor.Attempt"}, names)
}

func TestDetectContentKind(t *testing.T) {
	h := func(ct string) http.Header {
		hdr := http.Header{}
		hdr.Set("Content-Type", ct)
		return hdr
	}
	assert.Equal(t, ContentEmpty, detectContentKind(h("application/json"), []byte("  \n")))
	assert.Equal(t, ContentStructured, detectContentKind(h("application/json; charset=utf-8"), []byte(`{"a":1}`)))
	assert.Equal(t, ContentHTML, detectContentKind(http.Header{}, []byte("<HTML><head></head></HTML>")))
	assert.Equal(t, ContentHTML, detectContentKind(h("text/html; charset=utf-8"), []byte("oops")))
	assert.Equal(t, ContentOther, detectContentKind(h("application/json"), []byte(`{"truncated":`)))
	assert.Equal(t, ContentOther, detectContentKind(h("text/plain"), []byte("hello")))
}

func TestBuildURL(t *testing.T) {
	got, err := buildURL("https://api.test/v1", "attendance", Params{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, "https://api.test/v1/attendance?a=1&b=2", got)

	_, err = buildURL("", "/attendance", nil)
	assert.Error(t, err)

	_, err = buildURL("not a url", "/attendance", nil)
	assert.Error(t, err)
}
