// Package metrics provides Prometheus metrics for the mindshare pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values shared by callers.
const (
	OutcomeIngested = "ingested"
	OutcomeFailed   = "failed"
	OutcomeDeleted  = "deleted"
	OutcomeOK       = "ok"
	OutcomeSkipped  = "skipped"
	OutcomePartial  = "partial"

	TriggerStartup  = "startup"
	TriggerSchedule = "schedule"
	TriggerEvent    = "event"
	TriggerManual   = "manual"
)

// Manager manages all Prometheus metrics for the pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Ingestion
	ingestFiles         *prometheus.CounterVec
	ingestRows          *prometheus.CounterVec
	ingestBatchDuration *prometheus.HistogramVec
	watermarkUnix       *prometheus.GaugeVec
	schemaColumnsAdded  *prometheus.CounterVec
	sweepFiles          *prometheus.CounterVec

	// Scheduler
	loaderCycles *prometheus.CounterVec
	loaderState  *prometheus.GaugeVec
	breakerState *prometheus.GaugeVec
	projects     prometheus.Gauge

	// Rollup
	rollupRuns            *prometheus.CounterVec
	rollupDuration        prometheus.Histogram
	rollupIdentities      prometheus.Gauge
	rollupRankings        prometheus.Gauge
	rollupStaleRankings   prometheus.Gauge
	rollupPartialFailures *prometheus.CounterVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "mindshare",
		subsystem:        "pipeline",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		enabled:          true,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}
	if !m.enabled {
		m.registry = prometheus.NewRegistry()
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.ingestFiles = m.counterVec("ingest_files_total",
		"Snapshot files processed by outcome", "project", "timeframe", "outcome")
	m.ingestRows = m.counterVec("ingest_rows_total",
		"Leaderboard rows written to the ingestion store", "project", "timeframe")
	m.ingestBatchDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "ingest_batch_duration_milliseconds",
		Help:        "Time to parse, normalize and commit one batch",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, []string{"project"})
	m.watermarkUnix = m.gaugeVec("watermark_timestamp_seconds",
		"Snapshot timestamp of the ingestion watermark", "project", "timeframe")
	m.schemaColumnsAdded = m.counterVec("schema_columns_added_total",
		"Extension columns added by schema evolution", "project")
	m.sweepFiles = m.counterVec("sweep_files_total",
		"Snapshot files handled by the retention sweeper", "project", "outcome")

	m.loaderCycles = m.counterVec("loader_cycles_total",
		"Loader cycles by outcome", "project", "outcome")
	m.loaderState = m.gaugeVec("loader_state",
		"Current loader state (0 initializing, 1 loading, 2 idle, 3 stopped)", "project")
	m.breakerState = m.gaugeVec("store_breaker_state",
		"Store write circuit breaker state (0 closed, 1 half-open, 2 open)", "project")
	m.projects = m.gauge("projects", "Registered projects")

	m.rollupRuns = m.counterVec("rollup_runs_total",
		"Global rollup runs by trigger and outcome", "trigger", "outcome")
	m.rollupDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "rollup_duration_milliseconds",
		Help:        "Duration of one global rollup",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	})
	m.rollupIdentities = m.gauge("rollup_identities", "Identities in the live rollup")
	m.rollupRankings = m.gauge("rollup_rankings", "Ranking rows refreshed by the last rollup")
	m.rollupStaleRankings = m.gauge("rollup_stale_rankings", "Ranking rows zeroed by the last rollup")
	m.rollupPartialFailures = m.counterVec("rollup_partial_failures_total",
		"Projects skipped during a rollup because their store could not be read", "project")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = m.counterVec("errors_by_component_total",
		"Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Current heap allocation in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Current number of goroutines")
}

// RecordFileIngested counts one snapshot file committed to the store.
func RecordFileIngested(project, timeframe string) {
	globalManager.ingestFiles.WithLabelValues(project, timeframe, OutcomeIngested).Inc()
}

// RecordFileFailed counts one snapshot file skipped as unreadable.
func RecordFileFailed(project, timeframe string) {
	globalManager.ingestFiles.WithLabelValues(project, timeframe, OutcomeFailed).Inc()
}

// RecordRowsUpserted adds n rows written for project/timeframe.
func RecordRowsUpserted(project, timeframe string, n int) {
	globalManager.ingestRows.WithLabelValues(project, timeframe).Add(float64(n))
}

// RecordBatchDuration records the duration of one ingestion batch.
func RecordBatchDuration(project string, latencyMs float64) {
	globalManager.ingestBatchDuration.WithLabelValues(project).Observe(latencyMs)
}

// UpdateWatermark sets the watermark gauge to the snapshot's unix time.
func UpdateWatermark(project, timeframe string, unix int64) {
	globalManager.watermarkUnix.WithLabelValues(project, timeframe).Set(float64(unix))
}

// RecordSchemaColumnsAdded counts extension columns added for project.
func RecordSchemaColumnsAdded(project string, n int) {
	globalManager.schemaColumnsAdded.WithLabelValues(project).Add(float64(n))
}

// RecordSweep counts files deleted and failed by one sweep.
func RecordSweep(project string, deleted, failed int) {
	globalManager.sweepFiles.WithLabelValues(project, OutcomeDeleted).Add(float64(deleted))
	globalManager.sweepFiles.WithLabelValues(project, OutcomeFailed).Add(float64(failed))
}

// RecordLoaderCycle counts one loader cycle with outcome ok, failed or skipped.
func RecordLoaderCycle(project, outcome string) {
	globalManager.loaderCycles.WithLabelValues(project, outcome).Inc()
}

// UpdateLoaderState sets the numeric loader state for project.
func UpdateLoaderState(project string, state int) {
	globalManager.loaderState.WithLabelValues(project).Set(float64(state))
}

// UpdateBreakerState sets the store breaker state for project.
func UpdateBreakerState(project string, state int) {
	globalManager.breakerState.WithLabelValues(project).Set(float64(state))
}

// UpdateProjects sets the number of registered projects.
func UpdateProjects(count int) {
	globalManager.projects.Set(float64(count))
}

// RecordRollup records one rollup run.
func RecordRollup(trigger, outcome string, latencyMs float64) {
	globalManager.rollupRuns.WithLabelValues(trigger, outcome).Inc()
	if outcome != OutcomeSkipped {
		globalManager.rollupDuration.Observe(latencyMs)
	}
}

// UpdateRollupSize sets the identity, ranking and stale ranking gauges.
func UpdateRollupSize(identities, rankings, stale int) {
	globalManager.rollupIdentities.Set(float64(identities))
	globalManager.rollupRankings.Set(float64(rankings))
	globalManager.rollupStaleRankings.Set(float64(stale))
}

// RecordRollupPartialFailure counts a project skipped by a rollup.
func RecordRollupPartialFailure(project string) {
	globalManager.rollupPartialFailures.WithLabelValues(project).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error by component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the heap allocation gauge.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
