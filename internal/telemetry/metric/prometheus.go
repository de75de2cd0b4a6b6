// Package metric provides Prometheus metrics for tidekv.
//
// It exposes metrics in Prometheus format for monitoring shard
// throughput, WAL durability latency, snapshot size, replica lag, and
// checkpoint progress.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric tidekv exposes.
type Registry struct {
	registry *prometheus.Registry

	// Engine op metrics (§4.2).
	OpsTotal      *prometheus.CounterVec
	OpDuration    *prometheus.HistogramVec
	KeysResident  prometheus.Gauge

	// WAL metrics (§4.4).
	WALAppendBytes    prometheus.Counter
	WALAppendDuration prometheus.Histogram
	WALSyncDuration   prometheus.Histogram
	WALSegments       prometheus.Gauge

	// Snapshot / checkpoint metrics (§4.5, §4.7).
	SnapshotWriteDuration prometheus.Histogram
	SnapshotSizeBytes     prometheus.Gauge
	CheckpointOffset      prometheus.Gauge
	CheckpointFailures    prometheus.Counter

	// Replication metrics (§4.6).
	ReplicaLagRecords *prometheus.GaugeVec
	ReplicaSessions   prometheus.Gauge
}

// NewRegistry builds a Registry with every metric registered against a
// fresh prometheus.Registry, plus the standard Go/process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	factory := promauto.With(reg)

	r := &Registry{
		registry: reg,

		OpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tidekv_ops_total",
			Help: "Total engine operations by kind and outcome.",
		}, []string{"op", "outcome"}),

		OpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tidekv_op_duration_seconds",
			Help:    "Engine operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),

		KeysResident: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tidekv_keys_resident",
			Help: "Live, unexpired keys currently held across all shards.",
		}),

		WALAppendBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "tidekv_wal_append_bytes_total",
			Help: "Total bytes appended to the write-ahead log.",
		}),

		WALAppendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tidekv_wal_append_duration_seconds",
			Help:    "Time spent appending a record to the WAL, including any inline fsync.",
			Buckets: prometheus.DefBuckets,
		}),

		WALSyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tidekv_wal_sync_duration_seconds",
			Help:    "Time spent in a group-commit fsync under SyncEveryMs.",
			Buckets: prometheus.DefBuckets,
		}),

		WALSegments: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tidekv_wal_segments",
			Help: "Number of WAL segment files currently on disk.",
		}),

		SnapshotWriteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tidekv_snapshot_write_duration_seconds",
			Help:    "Time spent writing a full snapshot file.",
			Buckets: prometheus.DefBuckets,
		}),

		SnapshotSizeBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tidekv_snapshot_size_bytes",
			Help: "Size in bytes of the most recently written snapshot.",
		}),

		CheckpointOffset: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tidekv_checkpoint_wal_offset",
			Help: "Composite WAL offset recorded by the last successful checkpoint.",
		}),

		CheckpointFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tidekv_checkpoint_failures_total",
			Help: "Checkpoint cycles that failed and were retried on the next interval.",
		}),

		ReplicaLagRecords: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tidekv_replica_lag_records",
			Help: "Records the primary has appended since a follower's last acknowledged offset.",
		}, []string{"follower"}),

		ReplicaSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tidekv_replica_sessions",
			Help: "Currently connected follower sessions.",
		}),
	}

	return r
}

var global *Registry

// Global returns a process-wide default Registry, created on first use.
func Global() *Registry {
	if global == nil {
		global = NewRegistry()
	}
	return global
}

// Handler returns an HTTP handler serving this registry's metrics at
// /metrics in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Handler returns an HTTP handler for the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// RecordOp observes one engine operation's outcome and latency.
func (r *Registry) RecordOp(op, outcome string, seconds float64) {
	r.OpsTotal.WithLabelValues(op, outcome).Inc()
	r.OpDuration.WithLabelValues(op).Observe(seconds)
}
