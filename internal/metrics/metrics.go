package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultRegistry = prometheus.DefaultRegisterer

// Metrics holds all gateway metrics.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	backendOperationsTotal   *prometheus.CounterVec
	backendOperationDuration *prometheus.HistogramVec
	backendOperationErrors   *prometheus.CounterVec

	cryptoOperations *prometheus.CounterVec
	cryptoDuration   *prometheus.HistogramVec
	cryptoErrors     *prometheus.CounterVec
	cryptoBytes      *prometheus.CounterVec
	cryptoFrames     *prometheus.CounterVec

	rangedRequestsTotal    prometheus.Counter
	rangedBytesFetched     prometheus.Counter
	rangedBytesServed      prometheus.Counter

	goroutines       prometheus.Gauge
	memoryAllocBytes prometheus.Gauge
}

// NewMetrics creates a new metrics instance on the default registry.
func NewMetrics() *Metrics {
	return newMetricsWithRegistry(defaultRegistry)
}

// newMetricsWithRegistry creates a metrics instance with a custom
// registry, used by tests to avoid duplicate registration.
func newMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		backendOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_operations_total",
				Help: "Total number of backend storage operations",
			},
			[]string{"operation"},
		),
		backendOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_operation_duration_seconds",
				Help:    "Backend storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		backendOperationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_operation_errors_total",
				Help: "Total number of backend storage operation errors",
			},
			[]string{"operation", "error_type"},
		),
		cryptoOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crypto_operations_total",
				Help: "Total number of encryption/decryption operations",
			},
			[]string{"operation"}, // "encrypt" or "decrypt"
		),
		cryptoDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crypto_duration_seconds",
				Help:    "Encryption/decryption operation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"operation"},
		),
		cryptoErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crypto_errors_total",
				Help: "Total number of encryption/decryption errors",
			},
			[]string{"operation", "error_type"},
		),
		cryptoBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crypto_bytes_total",
				Help: "Total plaintext bytes encrypted/decrypted",
			},
			[]string{"operation"},
		),
		cryptoFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crypto_frames_total",
				Help: "Total encryption frames processed",
			},
			[]string{"operation"},
		),
		rangedRequestsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ranged_requests_total",
				Help: "Total number of ranged GET requests on encrypted objects",
			},
		),
		rangedBytesFetched: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ranged_bytes_fetched_total",
				Help: "Ciphertext bytes fetched from the backend for ranged requests",
			},
		),
		rangedBytesServed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ranged_bytes_served_total",
				Help: "Plaintext bytes served to clients for ranged requests",
			},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "goroutines_total",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_alloc_bytes",
				Help: "Number of bytes allocated and not yet freed",
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, http.StatusText(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path, http.StatusText(status)).Observe(duration.Seconds())
}

// RecordBackendOperation records a backend storage operation metric.
func (m *Metrics) RecordBackendOperation(operation string, duration time.Duration) {
	m.backendOperationsTotal.WithLabelValues(operation).Inc()
	m.backendOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBackendError records a backend storage operation error.
func (m *Metrics) RecordBackendError(operation, errorType string) {
	m.backendOperationErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordCryptoOperation records an encryption or decryption of bytes
// plaintext bytes spanning frames frames.
func (m *Metrics) RecordCryptoOperation(operation string, duration time.Duration, bytes, frames uint64) {
	m.cryptoOperations.WithLabelValues(operation).Inc()
	m.cryptoDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.cryptoBytes.WithLabelValues(operation).Add(float64(bytes))
	m.cryptoFrames.WithLabelValues(operation).Add(float64(frames))
}

// RecordCryptoError records an encryption/decryption error.
func (m *Metrics) RecordCryptoError(operation, errorType string) {
	m.cryptoErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordRangedRequest records a ranged GET: fetched ciphertext bytes
// versus plaintext bytes actually served.
func (m *Metrics) RecordRangedRequest(fetched, served uint64) {
	m.rangedRequestsTotal.Inc()
	m.rangedBytesFetched.Add(float64(fetched))
	m.rangedBytesServed.Add(float64(served))
}

// UpdateSystemMetrics updates system-level metrics.
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
}

// StartSystemMetricsCollector starts a goroutine that periodically
// updates system metrics.
func (m *Metrics) StartSystemMetricsCollector() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		for range ticker.C {
			m.UpdateSystemMetrics()
		}
	}()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
