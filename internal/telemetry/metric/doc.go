// Package metric provides Prometheus metrics for tidekv.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: Prometheus registry, domain metrics, and the
//     /metrics HTTP handler
//
// Metrics cover engine operation latency, WAL append/sync latency,
// snapshot size and write time, checkpoint offset, and replica lag, in
// addition to the standard Go/process collectors.
package metric
