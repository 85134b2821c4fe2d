package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the log unit.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Request metrics
	WriteRequestsTotal    *prometheus.CounterVec
	WriteRequestsDuration prometheus.Histogram
	WriteRequestsBytes    prometheus.Histogram
	ReadRequestsTotal     *prometheus.CounterVec
	ReadRequestsDuration  prometheus.Histogram
	TrimRequestsTotal     prometheus.Counter

	// Cache metrics
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal prometheus.Counter
	CacheSizeBytes      prometheus.Gauge
	CacheEntriesTotal   prometheus.Gauge
	CacheCapacityBytes  prometheus.Gauge

	// Stream log metrics
	StreamLogSegmentsTotal   prometheus.Gauge
	StreamLogSizeBytes       prometheus.Gauge
	StreamLogEntriesTotal    prometheus.Gauge
	StreamLogAppendsTotal    prometheus.Counter
	StreamLogAppendDuration  prometheus.Histogram
	StreamLogSyncsTotal      prometheus.Counter
	StreamLogSyncDuration    prometheus.Histogram
	StreamLogRecoverySeconds prometheus.Gauge
	StreamLogTruncatedTotal  prometheus.Counter

	// System metrics
	DiskUsageBytes     prometheus.Gauge
	DiskAvailableBytes prometheus.Gauge
	DiskUsagePercent   prometheus.Gauge
	MemoryUsageBytes   prometheus.Gauge
	GoroutinesTotal    prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer, nodeID string) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}
	factory := promauto.With(reg)

	return &Metrics{
		WriteRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "logunit",
			Name:        "write_requests_total",
			Help:        "Total number of write requests by outcome",
			ConstLabels: labels,
		}, []string{"status"}),
		WriteRequestsDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "logunit",
			Name:        "write_requests_duration_seconds",
			Help:        "Histogram of write request durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		WriteRequestsBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "logunit",
			Name:        "write_requests_bytes",
			Help:        "Histogram of write payload sizes in bytes",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(256, 2, 10), // 256B to 128KB
		}),
		ReadRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "logunit",
			Name:        "read_requests_total",
			Help:        "Total number of read requests by result type",
			ConstLabels: labels,
		}, []string{"result"}),
		ReadRequestsDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "logunit",
			Name:        "read_requests_duration_seconds",
			Help:        "Histogram of read request durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		TrimRequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "logunit",
			Name:        "trim_requests_total",
			Help:        "Total number of trim requests",
			ConstLabels: labels,
		}),

		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "cache",
			Name:        "hits_total",
			Help:        "Total number of cache hits",
			ConstLabels: labels,
		}),
		CacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "cache",
			Name:        "misses_total",
			Help:        "Total number of cache misses",
			ConstLabels: labels,
		}),
		CacheEvictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "cache",
			Name:        "evictions_total",
			Help:        "Total number of cache evictions",
			ConstLabels: labels,
		}),
		CacheSizeBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "cache",
			Name:        "size_bytes",
			Help:        "Current cache size in bytes",
			ConstLabels: labels,
		}),
		CacheEntriesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "cache",
			Name:        "entries_total",
			Help:        "Current number of entries in cache",
			ConstLabels: labels,
		}),
		CacheCapacityBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "cache",
			Name:        "capacity_bytes",
			Help:        "Configured cache capacity in bytes",
			ConstLabels: labels,
		}),

		StreamLogSegmentsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "streamlog",
			Name:        "segments_total",
			Help:        "Current number of segment files",
			ConstLabels: labels,
		}),
		StreamLogSizeBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "streamlog",
			Name:        "size_bytes",
			Help:        "Total size of segment files in bytes",
			ConstLabels: labels,
		}),
		StreamLogEntriesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "streamlog",
			Name:        "entries_total",
			Help:        "Number of addresses present in the address index",
			ConstLabels: labels,
		}),
		StreamLogAppendsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "streamlog",
			Name:        "appends_total",
			Help:        "Total number of records appended",
			ConstLabels: labels,
		}),
		StreamLogAppendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "streamlog",
			Name:        "append_duration_seconds",
			Help:        "Histogram of record append durations, sync included",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		StreamLogSyncsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "streamlog",
			Name:        "syncs_total",
			Help:        "Total number of segment fsyncs",
			ConstLabels: labels,
		}),
		StreamLogSyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "streamlog",
			Name:        "sync_duration_seconds",
			Help:        "Histogram of segment fsync durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		StreamLogRecoverySeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "streamlog",
			Name:        "recovery_duration_seconds",
			Help:        "Duration of the last startup recovery",
			ConstLabels: labels,
		}),
		StreamLogTruncatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "streamlog",
			Name:        "torn_tail_truncations_total",
			Help:        "Number of partially written records truncated during recovery",
			ConstLabels: labels,
		}),

		DiskUsageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "disk_usage_bytes",
			Help:        "Current disk usage in bytes",
			ConstLabels: labels,
		}),
		DiskAvailableBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "disk_available_bytes",
			Help:        "Available disk space in bytes",
			ConstLabels: labels,
		}),
		DiskUsagePercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "disk_usage_percent",
			Help:        "Disk usage percentage",
			ConstLabels: labels,
		}),
		MemoryUsageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "memory_usage_bytes",
			Help:        "Current memory usage in bytes",
			ConstLabels: labels,
		}),
		GoroutinesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "goroutines_total",
			Help:        "Current number of goroutines",
			ConstLabels: labels,
		}),
	}
}

// RecordWriteRequest records metrics for a write request
func (m *Metrics) RecordWriteRequest(status string, duration float64, bytes int) {
	if m == nil {
		return
	}
	m.WriteRequestsTotal.WithLabelValues(status).Inc()
	m.WriteRequestsDuration.Observe(duration)
	m.WriteRequestsBytes.Observe(float64(bytes))
}

// RecordReadRequest records metrics for a read request
func (m *Metrics) RecordReadRequest(result string, duration float64) {
	if m == nil {
		return
	}
	m.ReadRequestsTotal.WithLabelValues(result).Inc()
	m.ReadRequestsDuration.Observe(duration)
}

// RecordTrimRequest records a trim request
func (m *Metrics) RecordTrimRequest() {
	if m == nil {
		return
	}
	m.TrimRequestsTotal.Inc()
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

// RecordCacheEviction records a cache eviction
func (m *Metrics) RecordCacheEviction() {
	if m == nil {
		return
	}
	m.CacheEvictionsTotal.Inc()
}

// UpdateCacheSize updates cache size metrics
func (m *Metrics) UpdateCacheSize(bytes int64, entries int64) {
	if m == nil {
		return
	}
	m.CacheSizeBytes.Set(float64(bytes))
	m.CacheEntriesTotal.Set(float64(entries))
}

// SetCacheCapacity records the configured cache capacity
func (m *Metrics) SetCacheCapacity(bytes int64) {
	if m == nil {
		return
	}
	m.CacheCapacityBytes.Set(float64(bytes))
}

// UpdateStreamLogStats updates stream log statistics
func (m *Metrics) UpdateStreamLogStats(segments int, sizeBytes int64, entries int) {
	if m == nil {
		return
	}
	m.StreamLogSegmentsTotal.Set(float64(segments))
	m.StreamLogSizeBytes.Set(float64(sizeBytes))
	m.StreamLogEntriesTotal.Set(float64(entries))
}

// RecordStreamLogAppend records a stream log append
func (m *Metrics) RecordStreamLogAppend(duration float64) {
	if m == nil {
		return
	}
	m.StreamLogAppendsTotal.Inc()
	m.StreamLogAppendDuration.Observe(duration)
}

// RecordStreamLogSync records a segment sync
func (m *Metrics) RecordStreamLogSync(duration float64) {
	if m == nil {
		return
	}
	m.StreamLogSyncsTotal.Inc()
	m.StreamLogSyncDuration.Observe(duration)
}

// RecordRecovery records the duration of startup recovery
func (m *Metrics) RecordRecovery(duration float64) {
	if m == nil {
		return
	}
	m.StreamLogRecoverySeconds.Set(duration)
}

// RecordTornTail records a truncated partial record
func (m *Metrics) RecordTornTail() {
	if m == nil {
		return
	}
	m.StreamLogTruncatedTotal.Inc()
}

// UpdateSystemStats updates system-level statistics
func (m *Metrics) UpdateSystemStats(diskUsage, diskAvailable, memoryUsage int64, goroutines int) {
	if m == nil {
		return
	}
	m.DiskUsageBytes.Set(float64(diskUsage))
	m.DiskAvailableBytes.Set(float64(diskAvailable))
	if diskUsage+diskAvailable > 0 {
		m.DiskUsagePercent.Set(float64(diskUsage) / float64(diskUsage+diskAvailable) * 100)
	}
	m.MemoryUsageBytes.Set(float64(memoryUsage))
	m.GoroutinesTotal.Set(float64(goroutines))
}
