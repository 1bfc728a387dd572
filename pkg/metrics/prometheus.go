// Package metrics provides Prometheus metrics for the preference study service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Study business metrics
	votesRecorded        *prometheus.CounterVec
	votesDuplicate       prometheus.Counter
	sessionsStarted      prometheus.Counter
	sessionsFinished     prometheus.Counter
	sessionsActive       prometheus.Gauge
	catalogItems         prometheus.Gauge
	reconciliations      *prometheus.CounterVec
	reconcileLatency     prometheus.Histogram
	pendingFlushed       prometheus.Counter
	durableWrites        *prometheus.CounterVec
	durableWriteFailures *prometheus.CounterVec

	// Rating store metrics
	storeLatency *prometheus.HistogramVec
	storeRetries *prometheus.CounterVec

	// Queue metrics
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueEnqueued    prometheus.Counter
	queueDequeued    prometheus.Counter
	queueRejected    *prometheus.CounterVec
	workerCount      prometheus.Gauge
	workerLatency    prometheus.Histogram
	workerErrorTotal prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "prefstudy",
		subsystem:        "study",
		histogramBuckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
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
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		Buckets: m.histogramBuckets, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		Buckets: m.histogramBuckets, ConstLabels: m.customLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	m.votesRecorded = m.counterVec("votes_recorded_total", "Decisions applied to session ledgers, by sync mode", "mode")
	m.votesDuplicate = m.counter("votes_duplicate_total", "Vote submissions rejected as duplicates of an accepted round")
	m.sessionsStarted = m.counter("sessions_started_total", "Participant sessions started")
	m.sessionsFinished = m.counter("sessions_finished_total", "Participant sessions that reached the round limit")
	m.sessionsActive = m.gauge("sessions_active", "Sessions currently held in memory")
	m.catalogItems = m.gauge("catalog_items", "Items in the cached catalog")
	m.reconciliations = m.counterVec("reconciliations_total", "Reconciliation runs, by outcome", "outcome")
	m.reconcileLatency = m.histogram("reconciliation_latency_ms", "Reconciliation latency in milliseconds")
	m.pendingFlushed = m.counter("pending_flushed_total", "Deferred decisions flushed at session end")
	m.durableWrites = m.counterVec("durable_writes_total", "Durable store writes, by operation", "op")
	m.durableWriteFailures = m.counterVec("durable_write_failures_total", "Durable store writes that failed after retries", "op")

	m.storeLatency = m.histogramVec("store_latency_ms", "Rating store call latency in milliseconds", "op")
	m.storeRetries = m.counterVec("store_retries_total", "Rating store call retries", "op")

	m.queueSize = m.gauge("queue_size", "Decisions waiting in the durable write queues")
	m.queueCapacity = m.gauge("queue_capacity", "Total capacity of the durable write queues")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Decisions enqueued for durable write")
	m.queueDequeued = m.counter("queue_dequeued_total", "Decisions dequeued by workers")
	m.queueRejected = m.counterVec("queue_rejected_total", "Decisions rejected by the queue, by reason", "reason")
	m.workerCount = m.gauge("worker_count", "Durable write workers")
	m.workerLatency = m.histogram("worker_latency_ms", "Durable write latency per decision in milliseconds")
	m.workerErrorTotal = m.counter("worker_errors_total", "Durable write worker errors")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_ms", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Allocated heap bytes")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
}

// RecordVote counts a decision applied to a session ledger.
func RecordVote(mode string) { globalManager.votesRecorded.WithLabelValues(mode).Inc() }

// RecordVoteDuplicate counts a duplicate vote submission.
func RecordVoteDuplicate() { globalManager.votesDuplicate.Inc() }

// RecordSessionStarted counts a new participant session.
func RecordSessionStarted() { globalManager.sessionsStarted.Inc() }

// RecordSessionFinished counts a session that reached its round limit.
func RecordSessionFinished() { globalManager.sessionsFinished.Inc() }

// UpdateActiveSessions sets the number of in-memory sessions.
func UpdateActiveSessions(n int) { globalManager.sessionsActive.Set(float64(n)) }

// UpdateCatalogItems sets the size of the cached catalog.
func UpdateCatalogItems(n int) { globalManager.catalogItems.Set(float64(n)) }

// RecordReconciliation counts a reconciliation run ("complete" or "partial").
func RecordReconciliation(outcome string, latencyMs float64) {
	globalManager.reconciliations.WithLabelValues(outcome).Inc()
	globalManager.reconcileLatency.Observe(latencyMs)
}

// RecordPendingFlushed counts deferred decisions drained at session end.
func RecordPendingFlushed(n int) { globalManager.pendingFlushed.Add(float64(n)) }

// RecordDurableWrite counts a successful durable write.
func RecordDurableWrite(op string) { globalManager.durableWrites.WithLabelValues(op).Inc() }

// RecordDurableWriteFailure counts a durable write that gave up.
func RecordDurableWriteFailure(op string) {
	globalManager.durableWriteFailures.WithLabelValues(op).Inc()
}

// RecordStoreLatency observes one rating store call.
func RecordStoreLatency(op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordStoreRetry counts a retried rating store call.
func RecordStoreRetry(op string) { globalManager.storeRetries.WithLabelValues(op).Inc() }

// UpdateQueueSize sets the number of queued decisions.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the total queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue counts an enqueued decision.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue counts a dequeued decision.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueRejected counts a rejected enqueue.
func RecordQueueRejected(reason string) { globalManager.queueRejected.WithLabelValues(reason).Inc() }

// UpdateWorkerCount sets the number of durable write workers.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerProcessingLatency observes the time to apply one decision.
func RecordWorkerProcessingLatency(latencyMs float64) { globalManager.workerLatency.Observe(latencyMs) }

// RecordWorkerError counts a worker failure.
func RecordWorkerError() { globalManager.workerErrorTotal.Inc() }

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes an HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent counts an error.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the allocated heap size.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RefreshInterval reports how often callers should refresh sampled gauges.
func RefreshInterval() time.Duration { return globalManager.refreshInterval }

// GetRegistry returns the registry every metric is registered on.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
