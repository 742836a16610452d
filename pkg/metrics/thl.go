package metrics

import (
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/disklog"
)

// NewLogMetrics creates a Prometheus-backed disklog.Metrics for the log in
// dir.
//
// Returns nil if metrics are not enabled (InitRegistry not called) or the
// Prometheus implementation was not linked in. When nil is returned, pass
// nil in disklog.Options.Metrics, which results in zero overhead.
//
// Example usage:
//
//	metrics.InitRegistry()
//	opts.Metrics = metrics.NewLogMetrics(dir)
//	log, err := disklog.Open(dir, opts)
func NewLogMetrics(dir string) disklog.Metrics {
	if !IsEnabled() || newPrometheusLogMetrics == nil {
		return nil
	}
	m := newPrometheusLogMetrics(dir)
	if m == nil {
		return nil
	}
	return m
}

// newPrometheusLogMetrics is implemented in pkg/metrics/prometheus/thl.go.
// This indirection avoids import cycles while keeping the API clean.
var newPrometheusLogMetrics func(dir string) disklog.Metrics

// RegisterLogMetricsConstructor registers the Prometheus log metrics
// constructor. Called by pkg/metrics/prometheus during package
// initialization.
func RegisterLogMetricsConstructor(constructor func(dir string) disklog.Metrics) {
	newPrometheusLogMetrics = constructor
}
