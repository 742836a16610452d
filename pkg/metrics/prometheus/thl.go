// Package prometheus implements the log metrics with the Prometheus client.
// Importing it registers the constructors used by pkg/metrics.
package prometheus

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/metrics"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/disklog"
)

func init() {
	metrics.RegisterLogMetricsConstructor(func(dir string) disklog.Metrics {
		m := NewLogMetrics(dir)
		if m == nil {
			return nil
		}
		return m
	})
}

// logMetrics is the Prometheus implementation of disklog.Metrics.
type logMetrics struct {
	recordsStored  prometheus.Counter
	bytesStored    prometheus.Counter
	storeDuration  prometheus.Histogram
	commits        *prometheus.CounterVec
	commitDuration *prometheus.HistogramVec
	rotations      prometheus.Counter
	segmentsPurged prometheus.Counter
	readTimeouts   prometheus.Counter
	minSeqno       prometheus.Gauge
	maxSeqno       prometheus.Gauge
	segmentFiles   prometheus.Gauge
}

var _ disklog.Metrics = (*logMetrics)(nil)

// NewLogMetrics creates Prometheus metrics for the log in dir. Every series
// carries a "dir" label, so several logs can share one registry.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewLogMetrics(dir string) *logMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()
	labels := prometheus.Labels{"dir": dir}

	return &logMetrics{
		recordsStored: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "thl_records_stored_total",
			Help:        "Total number of records stored",
			ConstLabels: labels,
		})),
		bytesStored: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "thl_record_bytes_stored_total",
			Help:        "Total encoded bytes of stored records",
			ConstLabels: labels,
		})),
		storeDuration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "thl_store_duration_milliseconds",
			Help:        "Duration of store operations in milliseconds",
			ConstLabels: labels,
			Buckets: []float64{
				0.01, // 10us - buffered append
				0.05,
				0.1,
				0.5,
				1, // 1ms
				5,
				10,  // 10ms - rotation
				100, // 100ms - contended write slot
			},
		})),
		commits: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "thl_commits_total",
			Help:        "Total number of commits by kind",
			ConstLabels: labels,
		}, []string{"kind"})), // "explicit", "implicit"
		commitDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "thl_commit_duration_milliseconds",
			Help:        "Duration of commits in milliseconds",
			ConstLabels: labels,
			Buckets: []float64{
				0.01, // 10us - nothing to flush
				0.1,
				1, // 1ms - buffer flush
				5,
				10, // 10ms - fsync on SSD
				50,
				100,
				500, // 500ms - fsync on a busy disk
			},
		}, []string{"kind"})),
		rotations: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "thl_rotations_total",
			Help:        "Total number of segment rotations",
			ConstLabels: labels,
		})),
		segmentsPurged: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "thl_segments_purged_total",
			Help:        "Total number of segment files removed by retention or trims",
			ConstLabels: labels,
		})),
		readTimeouts: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "thl_read_timeouts_total",
			Help:        "Total number of blocking reads that timed out",
			ConstLabels: labels,
		})),
		minSeqno: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "thl_min_seqno",
			Help:        "Lowest seqno stored in the log",
			ConstLabels: labels,
		})),
		maxSeqno: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "thl_max_seqno",
			Help:        "Highest complete seqno stored in the log",
			ConstLabels: labels,
		})),
		segmentFiles: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "thl_segment_files",
			Help:        "Number of segment files in the log",
			ConstLabels: labels,
		})),
	}
}

// register adds c to reg. Reopening a log in the same process reuses the
// collectors registered the first time.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *logMetrics) ObserveStore(bytes int, d time.Duration) {
	if m == nil {
		return
	}
	m.recordsStored.Inc()
	m.bytesStored.Add(float64(bytes))
	m.storeDuration.Observe(d.Seconds() * 1000)
}

func (m *logMetrics) ObserveCommit(implicit bool, d time.Duration) {
	if m == nil {
		return
	}
	kind := "explicit"
	if implicit {
		kind = "implicit"
	}
	m.commits.WithLabelValues(kind).Inc()
	m.commitDuration.WithLabelValues(kind).Observe(d.Seconds() * 1000)
}

func (m *logMetrics) RecordRotation() {
	if m == nil {
		return
	}
	m.rotations.Inc()
}

func (m *logMetrics) RecordPurge(n int) {
	if m == nil {
		return
	}
	m.segmentsPurged.Add(float64(n))
}

func (m *logMetrics) RecordReadTimeout() {
	if m == nil {
		return
	}
	m.readTimeouts.Inc()
}

func (m *logMetrics) SetRange(minSeqno, maxSeqno int64, files int) {
	if m == nil {
		return
	}
	m.minSeqno.Set(float64(minSeqno))
	m.maxSeqno.Set(float64(maxSeqno))
	m.segmentFiles.Set(float64(files))
}
