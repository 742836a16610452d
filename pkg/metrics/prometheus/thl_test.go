package prometheus

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/metrics"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/disklog"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/event"
)

func TestNewLogMetrics_Disabled(t *testing.T) {
	metrics.Reset()
	assert.Nil(t, NewLogMetrics("/var/thl"))
	assert.Nil(t, metrics.NewLogMetrics("/var/thl"))

	// A nil receiver is a no-op.
	var m *logMetrics
	m.ObserveStore(10, time.Millisecond)
	m.SetRange(0, 1, 1)
}

func TestLogMetrics_Record(t *testing.T) {
	metrics.InitRegistry()
	t.Cleanup(metrics.Reset)

	m := NewLogMetrics("/var/thl")
	require.NotNil(t, m)

	m.ObserveStore(100, time.Millisecond)
	m.ObserveStore(50, time.Millisecond)
	m.ObserveCommit(false, time.Millisecond)
	m.ObserveCommit(true, time.Millisecond)
	m.ObserveCommit(true, time.Millisecond)
	m.RecordRotation()
	m.RecordPurge(3)
	m.RecordReadTimeout()
	m.SetRange(10, 42, 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.recordsStored))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.bytesStored))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits.WithLabelValues("explicit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.commits.WithLabelValues("implicit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rotations))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.segmentsPurged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.readTimeouts))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.maxSeqno))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.segmentFiles))

	expected := `
# HELP thl_min_seqno Lowest seqno stored in the log
# TYPE thl_min_seqno gauge
thl_min_seqno{dir="/var/thl"} 10
`
	require.NoError(t, testutil.GatherAndCompare(metrics.GetRegistry(), strings.NewReader(expected), "thl_min_seqno"))
}

func TestLogMetrics_ReuseAndSeparateDirs(t *testing.T) {
	metrics.InitRegistry()
	t.Cleanup(metrics.Reset)

	a := NewLogMetrics("/a")
	again := NewLogMetrics("/a")
	b := NewLogMetrics("/b")

	a.RecordRotation()
	again.RecordRotation()
	b.RecordRotation()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.rotations))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.rotations))
}

func TestLogMetrics_WiredIntoLog(t *testing.T) {
	metrics.InitRegistry()
	t.Cleanup(metrics.Reset)

	dir := t.TempDir()
	opts := disklog.DefaultOptions()
	opts.Metrics = metrics.NewLogMetrics(dir)
	require.NotNil(t, opts.Metrics)

	l, err := disklog.Open(dir, opts)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	w, err := l.Connect(false)
	require.NoError(t, err)
	for i := int64(0); i < 3; i++ {
		require.NoError(t, w.Store(&event.Event{
			Header:  event.Header{Seqno: i, LastFrag: true},
			Payload: []byte("row"),
		}, false))
	}
	require.NoError(t, w.Commit())

	m := opts.Metrics.(*logMetrics)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.recordsStored))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits.WithLabelValues("explicit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.maxSeqno))

	r, err := l.Connect(true)
	require.NoError(t, err)
	r.SetTimeout(10 * time.Millisecond)
	ok, err := r.Seek(3, 0)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = r.Next(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.readTimeouts))
}
