// Package metrics exports log and bus activity as Prometheus metrics.
//
// A Metrics value owns a private registry, satisfies both wal.MetricsHook
// and signal.MetricsHook, and serves the registry over HTTP via Handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/fxd/internal/signal"
	"github.com/roach88/fxd/internal/wal"
)

var (
	_ wal.MetricsHook    = (*Metrics)(nil)
	_ signal.MetricsHook = (*Metrics)(nil)
)

// Metrics records fxd activity.
type Metrics struct {
	reg *prometheus.Registry

	appendTotal    prometheus.Counter
	appendBytes    prometheus.Counter
	appendDuration prometheus.Histogram

	recoveredRecords prometheus.Gauge
	truncatedBytes   prometheus.Counter
	recoveryDuration prometheus.Histogram

	compactions       prometheus.Counter
	compactedRecords  prometheus.Counter
	compactedBytes    prometheus.Counter
	compactionSeconds prometheus.Histogram

	emitTotal     *prometheus.CounterVec
	emitDuration  *prometheus.HistogramVec
	handlerErrors *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,

		appendTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "fxd_wal_appends_total",
			Help: "Records appended to the log",
		}),
		appendBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "fxd_wal_append_bytes_total",
			Help: "Frame bytes appended to the log",
		}),
		appendDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxd_wal_append_duration_seconds",
			Help:    "Append latency including fsync",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
		}),

		recoveredRecords: f.NewGauge(prometheus.GaugeOpts{
			Name: "fxd_wal_recovered_records",
			Help: "Records found by the last recovery",
		}),
		truncatedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "fxd_wal_truncated_bytes_total",
			Help: "Damaged tail bytes cut by recovery",
		}),
		recoveryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxd_wal_recovery_duration_seconds",
			Help:    "Recovery duration",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),

		compactions: f.NewCounter(prometheus.CounterOpts{
			Name: "fxd_wal_compactions_total",
			Help: "Completed compactions",
		}),
		compactedRecords: f.NewCounter(prometheus.CounterOpts{
			Name: "fxd_wal_compacted_records_total",
			Help: "Records removed by compaction",
		}),
		compactedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "fxd_wal_compacted_bytes_total",
			Help: "Bytes removed by compaction",
		}),
		compactionSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxd_wal_compaction_duration_seconds",
			Help:    "Compaction duration",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),

		emitTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fxd_bus_emits_total",
			Help: "Signals emitted by kind",
		}, []string{"kind"}),
		emitDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fxd_bus_emit_duration_seconds",
			Help:    "Emit latency including synchronous dispatch",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"kind"}),
		handlerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fxd_bus_handler_errors_total",
			Help: "Subscriber handlers that failed or panicked, by kind",
		}, []string{"kind"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAppend(bytes int, d time.Duration) {
	m.appendTotal.Inc()
	m.appendBytes.Add(float64(bytes))
	m.appendDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveRecovery(r wal.RecoveryReport) {
	m.recoveredRecords.Set(float64(r.Recovered))
	m.truncatedBytes.Add(float64(r.TruncatedBytes))
	m.recoveryDuration.Observe(r.Duration.Seconds())
}

func (m *Metrics) ObserveCompaction(r wal.CompactionResult) {
	m.compactions.Inc()
	m.compactedRecords.Add(float64(r.RemovedRecords))
	m.compactedBytes.Add(float64(r.RemovedBytes))
	m.compactionSeconds.Observe(r.Duration.Seconds())
}

func (m *Metrics) ObserveEmit(kind string, d time.Duration) {
	m.emitTotal.WithLabelValues(kind).Inc()
	m.emitDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) ObserveHandlerError(kind string) {
	m.handlerErrors.WithLabelValues(kind).Inc()
}
