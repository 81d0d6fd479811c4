package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names exported for dashboards and tests.
const (
	MetricRateLimitRequests     = "rate_limit_requests_total"
	MetricRateLimitBlocked      = "rate_limit_blocked_total"
	MetricRateLimitRedisErrors  = "rate_limit_redis_errors_total"
	MetricAuthFailures          = "auth_failures_total"
	MetricHTTPRequestDuration   = "http_request_duration_seconds"
	MetricHTTPRequestsTotal     = "http_requests_total"
	MetricHTTPRequestSizeBytes  = "http_request_size_bytes"
	MetricHTTPResponseSizeBytes = "http_response_size_bytes"
)

var (
	httpLabels      = []string{"method", "path", "status"}
	rateLimitLabels = []string{"endpoint", "key_type"}

	// Commits wait on every upload plus the post update, so the tail is long.
	latencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	// 256 B up to 256 MB: JSON bodies at the low end, multipart batches of
	// full-size photos at the high end.
	sizeBuckets = prometheus.ExponentialBuckets(256, 4, 11)
)

// Metrics holds the collectors shared by the middleware. Safe for concurrent use.
type Metrics struct {
	rateLimitRequests    *prometheus.CounterVec
	rateLimitBlocked     *prometheus.CounterVec
	rateLimitRedisErrors prometheus.Counter
	authFailures         *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestSize      *prometheus.HistogramVec
	httpResponseSize     *prometheus.HistogramVec
}

func counterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
}

func histogramVec(name, help string, buckets []float64) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, httpLabels)
}

// NewMetrics creates unregistered collectors; call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		rateLimitRequests: counterVec(MetricRateLimitRequests,
			"Rate limit checks by route pattern and key type", rateLimitLabels),
		rateLimitBlocked: counterVec(MetricRateLimitBlocked,
			"Requests rejected with 429 by route pattern and key type", rateLimitLabels),
		rateLimitRedisErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRateLimitRedisErrors,
			Help: "Rate limit checks let through because Redis failed",
		}),
		authFailures: counterVec(MetricAuthFailures,
			"Rejected access tokens by reason", []string{"reason"}),
		httpRequestDuration: histogramVec(MetricHTTPRequestDuration,
			"Time to serve a request, in seconds", latencyBuckets),
		httpRequestsTotal: counterVec(MetricHTTPRequestsTotal,
			"Requests served by method, route pattern and status", httpLabels),
		httpRequestSize: histogramVec(MetricHTTPRequestSizeBytes,
			"Request body size in bytes", sizeBuckets),
		httpResponseSize: histogramVec(MetricHTTPResponseSizeBytes,
			"Response body size in bytes", sizeBuckets),
	}
}

// Register adds every collector to reg, stopping at the first failure.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRateLimitRequests counts a limiter check on endpoint, a route pattern
// such as "/edit/{sid}/files".
func (m *Metrics) IncRateLimitRequests(endpoint, keyType string) {
	m.rateLimitRequests.WithLabelValues(endpoint, keyType).Inc()
}

// IncRateLimitBlocked counts a 429 on endpoint.
func (m *Metrics) IncRateLimitBlocked(endpoint, keyType string) {
	m.rateLimitBlocked.WithLabelValues(endpoint, keyType).Inc()
}

// IncRateLimitRedisErrors counts a fail-open check.
func (m *Metrics) IncRateLimitRedisErrors() {
	m.rateLimitRedisErrors.Inc()
}

// IncAuthFailures counts a rejected access token. reason is "expired" or "invalid".
func (m *Metrics) IncAuthFailures(reason string) {
	m.authFailures.WithLabelValues(reason).Inc()
}

// ObserveHTTPRequest records one served request. path is the route pattern,
// never the raw URL, so session ids and post ids stay out of the label set.
func (m *Metrics) ObserveHTTPRequest(method, path, status string, duration float64, requestSize, responseSize int64) {
	m.httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestSize.WithLabelValues(method, path, status).Observe(float64(requestSize))
	m.httpResponseSize.WithLabelValues(method, path, status).Observe(float64(responseSize))
}

// Collectors returns every collector, in registration order.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rateLimitRequests,
		m.rateLimitBlocked,
		m.rateLimitRedisErrors,
		m.authFailures,
		m.httpRequestDuration,
		m.httpRequestsTotal,
		m.httpRequestSize,
		m.httpResponseSize,
	}
}
