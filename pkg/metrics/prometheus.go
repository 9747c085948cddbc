// Package metrics provides Prometheus metrics for the barometer service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the barometer service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	engineBuckets    []float64
	registry         prometheus.Registerer

	// Intake metrics
	responsesAccepted   prometheus.Counter
	responsesSuspicious prometheus.Counter
	responsesRejected   *prometheus.CounterVec
	batchesProcessed    prometheus.Counter
	assessmentsTotal    prometheus.Gauge

	// Engine metrics
	scoringLatency  *prometheus.HistogramVec
	scoringErrors   prometheus.Counter
	pdcaTransitions *prometheus.CounterVec

	// Ledger metrics
	ledgerLatency *prometheus.HistogramVec
	ledgerErrors  *prometheus.CounterVec

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue metrics
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queuePartitions        prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker metrics
	workerActiveCount       prometheus.Gauge
	workerMessagesPerSecond prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Error metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Engine latencies in milliseconds.
var defaultEngineBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250} //nolint:gochecknoglobals // read-only defaults

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "barometer",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		engineBuckets:    defaultEngineBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	m.responsesAccepted = m.counter("responses_accepted_total", "Total number of responses accepted into the ledger")
	m.responsesSuspicious = m.counter("responses_suspicious_total", "Total number of responses quarantined as suspicious")
	m.responsesRejected = m.counterVec("responses_rejected_total", "Total number of screening issues by reason code", "reason")
	m.batchesProcessed = m.counter("batches_processed_total", "Total number of response batches screened")
	m.assessmentsTotal = m.gauge("assessments_total", "Number of registered assessments")

	m.scoringLatency = m.histogramVec("scoring_latency_milliseconds", "Engine computation latency in milliseconds", m.engineBuckets, "operation")
	m.scoringErrors = m.counter("scoring_errors_total", "Total number of engine computation errors")
	m.pdcaTransitions = m.counterVec("pdca_transitions_total", "Improvement action transitions by target state", "state")

	m.ledgerLatency = m.histogramVec("ledger_latency_milliseconds", "Ledger operation latency in milliseconds", m.engineBuckets, "driver", "operation")
	m.ledgerErrors = m.counterVec("ledger_errors_total", "Ledger operation errors", "driver", "operation")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", m.histogramBuckets,
		"endpoint", "method", "status_code")

	m.queueSize = m.gauge("queue_size", "Current number of queued batches across partitions")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity across partitions")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (current size / capacity)")
	m.queuePartitions = m.gauge("queue_partitions", "Number of single-writer queue partitions")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total number of batches enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total number of batches dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of rejected enqueues")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Enqueue latency in milliseconds", m.histogramBuckets)

	m.workerActiveCount = m.gauge("worker_active_count", "Number of active workers")
	m.workerMessagesPerSecond = m.gauge("worker_messages_per_second", "Average batches processed per second by workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Worker batch processing latency in milliseconds", m.histogramBuckets)
	m.workerErrorRate = m.counter("worker_errors_total", "Total number of worker errors")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Total number of errors by endpoint", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of operations that resulted in errors", m.histogramBuckets, "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordResponsesAccepted adds n accepted responses.
func RecordResponsesAccepted(n int) {
	globalManager.responsesAccepted.Add(float64(n))
}

// RecordResponsesSuspicious adds n quarantined responses.
func RecordResponsesSuspicious(n int) {
	globalManager.responsesSuspicious.Add(float64(n))
}

// RecordResponseRejected counts one screening issue with the given reason code.
func RecordResponseRejected(reason string) {
	globalManager.responsesRejected.WithLabelValues(reason).Inc()
}

// RecordBatchProcessed increments the screened batch counter.
func RecordBatchProcessed() {
	globalManager.batchesProcessed.Inc()
}

// UpdateAssessmentsTotal sets the number of registered assessments.
func UpdateAssessmentsTotal(count int) {
	globalManager.assessmentsTotal.Set(float64(count))
}

// RecordScoringLatency records the latency of an engine operation in milliseconds.
func RecordScoringLatency(operation string, latencyMs float64) {
	globalManager.scoringLatency.WithLabelValues(operation).Observe(latencyMs)
}

// RecordScoringError increments the scoring errors counter.
func RecordScoringError() {
	globalManager.scoringErrors.Inc()
}

// RecordPDCATransition counts an improvement action entering state.
func RecordPDCATransition(state string) {
	globalManager.pdcaTransitions.WithLabelValues(state).Inc()
}

// RecordLedgerLatency records ledger operation latency in milliseconds.
func RecordLedgerLatency(driver, operation string, latencyMs float64) {
	globalManager.ledgerLatency.WithLabelValues(driver, operation).Observe(latencyMs)
}

// RecordLedgerError counts a failed ledger operation.
func RecordLedgerError(driver, operation string) {
	globalManager.ledgerErrors.WithLabelValues(driver, operation).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// UpdateQueuePartitions sets the number of queue partitions.
func UpdateQueuePartitions(count int) {
	globalManager.queuePartitions.Set(float64(count))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records queue processing latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateWorkerMessagesPerSecond sets the average batches processed per second.
func UpdateWorkerMessagesPerSecond(rate float64) {
	globalManager.workerMessagesPerSecond.Set(rate)
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
