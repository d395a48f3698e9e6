package apiclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"
)

const (
	tracerName = "github.com/ambiyansyah-risyal/apiclient"
	renewalKey = "credential-renewal"
)

// RenewalCoordinator serialises credential renewal for every client that
// shares it. At most one renewal runs at a time; callers arriving while it
// runs attach to it. Each settled renewal advances the epoch, and a caller
// whose 401 was observed on an attempt sent before the latest renewal
// settled reuses that outcome instead of renewing again.
type RenewalCoordinator struct {
	renew Renewer
	group singleflight.Group

	mu           sync.Mutex
	epoch        uint64
	lastErr      error
	inProgress   bool
	listeners    map[uint64]func(error)
	nextListener uint64

	renewals atomic.Int64

	tracer  trace.Tracer
	logger  Logger
	metrics *MetricsCollector
}

// RenewalOption configures a RenewalCoordinator.
type RenewalOption func(*RenewalCoordinator)

func WithRenewalLogger(logger Logger) RenewalOption {
	return func(c *RenewalCoordinator) { c.logger = logger }
}

func WithRenewalMetrics(metrics *MetricsCollector) RenewalOption {
	return func(c *RenewalCoordinator) { c.metrics = metrics }
}

func WithRenewalTracerProvider(tp trace.TracerProvider) RenewalOption {
	return func(c *RenewalCoordinator) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewRenewalCoordinator creates a coordinator around renew. Share one
// coordinator between every client that uses the same credential.
func NewRenewalCoordinator(renew Renewer, opts ...RenewalOption) *RenewalCoordinator {
	c := &RenewalCoordinator{
		renew:     renew,
		listeners: make(map[uint64]func(error)),
		tracer:    nooptrace.NewTracerProvider().Tracer(tracerName),
		logger:    nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.logger == nil {
		c.logger = nopLogger{}
	}
	return c
}

// Epoch returns the number of settled renewals. Capture it before sending an
// attempt and pass it to Renew when that attempt comes back unauthorized.
func (c *RenewalCoordinator) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Renewals returns how many times the Renewer actually ran.
func (c *RenewalCoordinator) Renewals() int64 {
	return c.renewals.Load()
}

// InProgress reports whether a renewal is running.
func (c *RenewalCoordinator) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inProgress
}

// OnSessionEnded registers fn to run once for every failed renewal. The
// returned func removes the listener.
func (c *RenewalCoordinator) OnSessionEnded(fn func(error)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Renew makes sure a renewal newer than observed has settled and returns its
// outcome: nil when the credential was renewed, an AuthExpired ClientError
// otherwise. The renewal is not cancelled by ctx; ctx only bounds the wait.
func (c *RenewalCoordinator) Renew(ctx context.Context, observed uint64) error {
	c.mu.Lock()
	if c.epoch > observed {
		err := c.lastErr
		c.mu.Unlock()
		return renewalOutcome(err)
	}
	c.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(renewalKey, func() (any, error) {
		c.mu.Lock()
		if c.epoch > observed {
			err := c.lastErr
			c.mu.Unlock()
			return nil, err
		}
		c.inProgress = true
		c.mu.Unlock()

		return nil, c.execute(detached)
	})

	select {
	case res := <-ch:
		return renewalOutcome(res.Err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *RenewalCoordinator) execute(ctx context.Context) (err error) {
	n := c.renewals.Add(1)
	ctx, span := c.tracer.Start(ctx, "RenewalCoordinator.Renew",
		trace.WithAttributes(attribute.Int64("apiclient.renewal.number", n)))
	defer span.End()

	c.logger.Debug("renewing credentials", "renewal", n)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("credential renewal panicked: %v", r)
		}
		c.settle(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "credential renewal failed")
			c.metrics.RecordRenewal("failure")
			c.logger.Warn("credential renewal failed, session ended", "renewal", n, "error", err)
			c.notifySessionEnded(err)
			return
		}
		span.SetStatus(codes.Ok, "")
		c.metrics.RecordRenewal("success")
		c.logger.Debug("credentials renewed", "renewal", n)
	}()

	if c.renew == nil {
		return fmt.Errorf("no credential renewer configured")
	}
	return c.renew(ctx)
}

func (c *RenewalCoordinator) settle(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.lastErr = err
	c.inProgress = false
}

func (c *RenewalCoordinator) notifySessionEnded(err error) {
	c.mu.Lock()
	fns := make([]func(error), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	expired := renewalOutcome(err)
	for _, fn := range fns {
		fn(expired)
	}
}

func renewalOutcome(err error) error {
	if err == nil {
		return nil
	}
	return &ClientError{
		Type:    ErrorTypeAuthExpired,
		Message: ErrAuthExpired.Message,
		Cause:   err,
	}
}
