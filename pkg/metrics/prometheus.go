// Package metrics provides Prometheus metrics for the geofeat featurization service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Latency buckets in milliseconds; raster reads dominate and can take seconds.
var defaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000} //nolint:gochecknoglobals // constant bucket layout

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Featurization
	pointsFeaturized *prometheus.CounterVec
	zeroFilled       *prometheus.CounterVec
	noCoverage       prometheus.Counter
	tileReadErrors   prometheus.Counter
	resolveLatency   prometheus.Histogram
	extractLatency   prometheus.Histogram
	rcfLatency       prometheus.Histogram
	batchSize        prometheus.Histogram

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Workers
	workerCount             prometheus.Gauge
	workerBusy              prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Raster storage
	rasterCacheHits    *prometheus.CounterVec
	rasterCacheMisses  *prometheus.CounterVec
	rasterBytesFetched prometheus.Counter
	rasterFetchRetries prometheus.Counter

	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers every metric on its registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "geofeat",
		subsystem:        "featurizer",
		histogramBuckets: defaultLatencyBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for the whole metric set
	auto := promauto.With(m.registry)
	lat := m.histogramBuckets

	m.pointsFeaturized = auto.NewCounterVec(
		m.counterOpts("points_featurized_total", "Points turned into feature vectors, by request mode"),
		[]string{"mode"},
	)
	m.zeroFilled = auto.NewCounterVec(
		m.counterOpts("zero_filled_total", "Batch rows returned as zero vectors, by reason"),
		[]string{"reason"},
	)
	m.noCoverage = auto.NewCounter(m.counterOpts("no_coverage_total", "Points with no covering imagery tile"))
	m.tileReadErrors = auto.NewCounter(m.counterOpts("tile_read_errors_total", "Failed tile opens, decodes or window reads"))
	m.resolveLatency = auto.NewHistogram(m.histogramOpts("resolve_latency_milliseconds", "Tile resolution latency in milliseconds", lat))
	m.extractLatency = auto.NewHistogram(m.histogramOpts("extract_latency_milliseconds", "Patch extraction latency in milliseconds", lat))
	m.rcfLatency = auto.NewHistogram(m.histogramOpts("rcf_latency_milliseconds", "RCF forward pass latency in milliseconds", lat))
	m.batchSize = auto.NewHistogram(m.histogramOpts("batch_size", "Points per batch request",
		[]float64{1, 10, 50, 100, 250, 500, 1000}))

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Tasks waiting in the featurization queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Capacity of the featurization queue"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Queue size divided by capacity"))
	m.queueEnqueueRate = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Tasks enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counterOpts("queue_dequeue_total", "Tasks dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total", "Rejected enqueue attempts"))

	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Workers in the pool"))
	m.workerBusy = auto.NewGauge(m.gaugeOpts("worker_busy", "Workers currently processing a task"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds",
		"Time from dequeue to result per task in milliseconds", lat))
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Tasks that finished with an error"))

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "HTTP requests by endpoint, method and status"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", lat),
		[]string{"endpoint", "method", "status_code"},
	)

	m.rasterCacheHits = auto.NewCounterVec(m.counterOpts("raster_cache_hits_total", "Raster block cache hits by layer"), []string{"layer"})
	m.rasterCacheMisses = auto.NewCounterVec(m.counterOpts("raster_cache_misses_total", "Raster block cache misses by layer"), []string{"layer"})
	m.rasterBytesFetched = auto.NewCounter(m.counterOpts("raster_bytes_fetched_total", "Bytes fetched from remote raster storage"))
	m.rasterFetchRetries = auto.NewCounter(m.counterOpts("raster_fetch_retries_total", "Retried remote range requests"))

	m.errorsByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Errors by component and type"),
		[]string{"component", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

// RecordPointFeaturized counts one point featurized in mode ("single" or "batch").
func RecordPointFeaturized(mode string) {
	globalManager.pointsFeaturized.WithLabelValues(mode).Inc()
}

// RecordZeroFilled counts a batch row replaced by a zero vector.
func RecordZeroFilled(reason string) {
	globalManager.zeroFilled.WithLabelValues(reason).Inc()
}

// RecordNoCoverage counts a point without imagery.
func RecordNoCoverage() {
	globalManager.noCoverage.Inc()
}

// RecordTileReadError counts a tile read failure.
func RecordTileReadError() {
	globalManager.tileReadErrors.Inc()
}

// RecordResolveLatency records tile resolution latency in milliseconds.
func RecordResolveLatency(latencyMs float64) {
	globalManager.resolveLatency.Observe(latencyMs)
}

// RecordExtractLatency records patch extraction latency in milliseconds.
func RecordExtractLatency(latencyMs float64) {
	globalManager.extractLatency.Observe(latencyMs)
}

// RecordRCFLatency records model forward latency in milliseconds.
func RecordRCFLatency(latencyMs float64) {
	globalManager.rcfLatency.Observe(latencyMs)
}

// RecordBatchSize records the number of points in a batch request.
func RecordBatchSize(n int) {
	globalManager.batchSize.Observe(float64(n))
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
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

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerBusy sets the number of workers processing a task.
func UpdateWorkerBusy(count int) {
	globalManager.workerBusy.Set(float64(count))
}

// RecordWorkerProcessingLatency records per-task latency in milliseconds.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordRasterCacheHit counts a block served from cache layer.
func RecordRasterCacheHit(layer string) {
	globalManager.rasterCacheHits.WithLabelValues(layer).Inc()
}

// RecordRasterCacheMiss counts a block missing from cache layer.
func RecordRasterCacheMiss(layer string) {
	globalManager.rasterCacheMisses.WithLabelValues(layer).Inc()
}

// RecordRasterBytesFetched adds n bytes read from remote storage.
func RecordRasterBytesFetched(n int) {
	globalManager.rasterBytesFetched.Add(float64(n))
}

// RecordRasterFetchRetry counts a retried range request.
func RecordRasterFetchRetry() {
	globalManager.rasterFetchRetries.Inc()
}

// RecordErrorByComponent records an error by component and type.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
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
