package apiclient

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle,
// the cache, de-duplication, cooldown and credential renewal. It is safe for
// concurrent use and every method is a no-op on a nil collector.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheStaleHits *prometheus.CounterVec

	deduplicationHits *prometheus.CounterVec
	cooldownBlocks    *prometheus.CounterVec

	renewalsTotal *prometheus.CounterVec
	authRetries   *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registerer prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registerer)
	mc := &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiclient_requests_total",
				Help: "Total number of network attempts made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apiclient_request_duration_seconds",
				Help:    "Duration of network attempts in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "apiclient_requests_in_flight",
				Help: "Number of network attempts currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiclient_cache_hits_total",
				Help: "Total number of fresh cache hits",
			},
			[]string{"endpoint"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiclient_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"endpoint"},
		),
		cacheStaleHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiclient_cache_stale_hits_total",
				Help: "Total number of stale entries served while revalidating",
			},
			[]string{"endpoint"},
		),
		deduplicationHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiclient_deduplication_hits_total",
				Help: "Total number of callers that joined an in-flight request",
			},
			[]string{"endpoint"},
		),
		cooldownBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiclient_cooldown_blocks_total",
				Help: "Total number of requests rejected by the cooldown window",
			},
			[]string{"endpoint"},
		),
		renewalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiclient_credential_renewals_total",
				Help: "Total number of credential renewals by outcome",
			},
			[]string{"outcome"},
		),
		authRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiclient_auth_retries_total",
				Help: "Total number of requests retried after credential renewal",
			},
			[]string{"method", "endpoint"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiclient_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type", "method", "endpoint"},
		),
	}

	if registry, ok := registerer.(*prometheus.Registry); ok {
		mc.registry = registry
	}

	return mc
}

// RecordRequest records attempt count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	statusCodeStr := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, statusCodeStr, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, statusCodeStr, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

func (mc *MetricsCollector) RecordCacheHit(endpoint string) {
	if mc == nil {
		return
	}

	mc.cacheHits.WithLabelValues(endpoint).Inc()
}

func (mc *MetricsCollector) RecordCacheMiss(endpoint string) {
	if mc == nil {
		return
	}

	mc.cacheMisses.WithLabelValues(endpoint).Inc()
}

func (mc *MetricsCollector) RecordCacheStaleHit(endpoint string) {
	if mc == nil {
		return
	}

	mc.cacheStaleHits.WithLabelValues(endpoint).Inc()
}

// RecordDeduplicationHit counts a caller that joined an in-flight request.
func (mc *MetricsCollector) RecordDeduplicationHit(endpoint string) {
	if mc == nil {
		return
	}

	mc.deduplicationHits.WithLabelValues(endpoint).Inc()
}

func (mc *MetricsCollector) RecordCooldownBlock(endpoint string) {
	if mc == nil {
		return
	}

	mc.cooldownBlocks.WithLabelValues(endpoint).Inc()
}

// RecordRenewal counts a renewal execution; outcome is "success" or "failure".
func (mc *MetricsCollector) RecordRenewal(outcome string) {
	if mc == nil {
		return
	}

	mc.renewalsTotal.WithLabelValues(outcome).Inc()
}

func (mc *MetricsCollector) RecordAuthRetry(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.authRetries.WithLabelValues(method, endpoint).Inc()
}

// RecordError increments error counter by type.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}

// GetRegistry exposes the underlying prometheus registry, nil when the
// collector was built on a registerer that is not a *prometheus.Registry.
func (mc *MetricsCollector) GetRegistry() *prometheus.Registry {
	if mc == nil {
		return nil
	}
	return mc.registry
}
