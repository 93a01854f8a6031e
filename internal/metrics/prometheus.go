package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for errtrail.
// Every Record/Update method is safe to call on a nil receiver.
type PrometheusMetrics struct {
	// Capture metrics
	CapturesTotal *prometheus.CounterVec

	// Ledger metrics
	LedgerEntries        prometheus.Gauge
	LedgerUnresolved     prometheus.Gauge
	LedgerMutationsTotal *prometheus.CounterVec

	// Structured logger metrics
	LogEntriesTotal         *prometheus.CounterVec
	LogEntriesFilteredTotal *prometheus.CounterVec
	LogBufferSize           prometheus.Gauge

	// Remote sink metrics
	RemoteSinkTotal    *prometheus.CounterVec
	RemoteSinkDuration prometheus.Histogram

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Boundary metrics
	BoundaryDegraded     *prometheus.GaugeVec
	BoundaryRetriesTotal *prometheus.CounterVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		CapturesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errtrail_captures_total",
				Help: "Total number of errors captured, by origin and scope",
			},
			[]string{"origin", "level"},
		),

		LedgerEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "errtrail_ledger_entries",
				Help: "Number of entries currently held by the error ledger",
			},
		),

		LedgerUnresolved: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "errtrail_ledger_unresolved",
				Help: "Number of unresolved entries in the error ledger",
			},
		),

		LedgerMutationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errtrail_ledger_mutations_total",
				Help: "Total number of ledger mutations",
			},
			[]string{"operation"},
		),

		LogEntriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errtrail_log_entries_total",
				Help: "Total number of entries appended to the structured log",
			},
			[]string{"level"},
		),

		LogEntriesFilteredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errtrail_log_entries_filtered_total",
				Help: "Total number of log calls dropped by the level filter",
			},
			[]string{"level"},
		),

		LogBufferSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "errtrail_log_buffer_size",
				Help: "Number of entries currently held by the structured log",
			},
		),

		RemoteSinkTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errtrail_remote_sink_total",
				Help: "Total number of remote sink deliveries",
			},
			[]string{"status"},
		),

		RemoteSinkDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "errtrail_remote_sink_duration_seconds",
				Help:    "Duration of remote sink deliveries",
				Buckets: prometheus.DefBuckets,
			},
		),

		StorageOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errtrail_storage_operations_total",
				Help: "Total number of durable storage operations",
			},
			[]string{"operation", "key", "status"},
		),

		StorageOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "errtrail_storage_operation_duration_seconds",
				Help:    "Duration of durable storage operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "key"},
		),

		BoundaryDegraded: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "errtrail_boundary_degraded",
				Help: "Whether a capture boundary is degraded (1) or healthy (0)",
			},
			[]string{"boundary"},
		),

		BoundaryRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errtrail_boundary_retries_total",
				Help: "Total number of boundary retry requests, by outcome",
			},
			[]string{"boundary", "outcome"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errtrail_http_requests_total",
				Help: "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "errtrail_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "errtrail_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "errtrail_component_health",
				Help: "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "errtrail_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "errtrail_goroutines",
				Help: "Number of running goroutines",
			},
		),
	}
}

// RecordCapture records a captured error
func (m *PrometheusMetrics) RecordCapture(origin, level string) {
	if m == nil {
		return
	}
	m.CapturesTotal.WithLabelValues(origin, level).Inc()
}

// UpdateLedger updates the ledger size gauges
func (m *PrometheusMetrics) UpdateLedger(entries, unresolved int) {
	if m == nil {
		return
	}
	m.LedgerEntries.Set(float64(entries))
	m.LedgerUnresolved.Set(float64(unresolved))
}

// RecordLedgerMutation records a ledger mutation
func (m *PrometheusMetrics) RecordLedgerMutation(operation string) {
	if m == nil {
		return
	}
	m.LedgerMutationsTotal.WithLabelValues(operation).Inc()
}

// RecordLogEntry records an appended log entry
func (m *PrometheusMetrics) RecordLogEntry(level string, bufferSize int) {
	if m == nil {
		return
	}
	m.LogEntriesTotal.WithLabelValues(level).Inc()
	m.LogBufferSize.Set(float64(bufferSize))
}

// RecordLogFiltered records a log call rejected by the level filter
func (m *PrometheusMetrics) RecordLogFiltered(level string) {
	if m == nil {
		return
	}
	m.LogEntriesFilteredTotal.WithLabelValues(level).Inc()
}

// UpdateLogBufferSize updates the structured log size gauge
func (m *PrometheusMetrics) UpdateLogBufferSize(size int) {
	if m == nil {
		return
	}
	m.LogBufferSize.Set(float64(size))
}

// RecordRemoteSink records a remote sink delivery
func (m *PrometheusMetrics) RecordRemoteSink(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RemoteSinkTotal.WithLabelValues(status).Inc()
	m.RemoteSinkDuration.Observe(duration.Seconds())
}

// RecordStorageOperation records a durable storage operation
func (m *PrometheusMetrics) RecordStorageOperation(operation, key, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StorageOperationsTotal.WithLabelValues(operation, key, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, key).Observe(duration.Seconds())
}

// UpdateBoundaryState records whether a boundary is degraded
func (m *PrometheusMetrics) UpdateBoundaryState(boundary string, degraded bool) {
	if m == nil {
		return
	}
	value := 0.0
	if degraded {
		value = 1.0
	}
	m.BoundaryDegraded.WithLabelValues(boundary).Set(value)
}

// RecordBoundaryRetry records a retry request and its outcome
func (m *PrometheusMetrics) RecordBoundaryRetry(boundary, outcome string) {
	if m == nil {
		return
	}
	m.BoundaryRetriesTotal.WithLabelValues(boundary, outcome).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	if m == nil {
		return
	}
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	if m == nil {
		return
	}
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	if m == nil {
		return
	}
	m.GoroutineCount.Set(float64(count))
}
