package disklog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henricavalcante/tungsten-replicator-sub005/internal/logger"
	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/event"
)

// testOptions keeps timeouts short and disables the background flusher so
// tests control commits.
func testOptions() Options {
	opts := DefaultOptions()
	opts.ReadTimeout = 200 * time.Millisecond
	opts.WriteTimeout = time.Second
	opts.RotationTimeout = time.Second
	opts.PollInterval = 20 * time.Millisecond
	return opts
}

func openLog(t *testing.T, dir string, opts Options) *Log {
	t.Helper()
	l, err := Open(dir, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func connect(t *testing.T, l *Log, readOnly bool) *Cursor {
	t.Helper()
	c, err := l.Connect(readOnly)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Release() })
	return c
}

func ev(seqno int64, fragno int16, last bool) *event.Event {
	return &event.Event{
		Header: event.Header{
			Seqno:        seqno,
			Fragno:       fragno,
			LastFrag:     last,
			Epoch:        1,
			SourceID:     "db1",
			EventID:      fmt.Sprintf("mysql-bin.000001:%010d", seqno*100),
			SourceTstamp: time.Unix(1700000000+seqno, 0).UTC(),
		},
		Payload: []byte("row change"),
	}
}

func filtered(from, to int64) *event.Event {
	return &event.Event{Header: event.NewFilteredRange(from, to, 1, "db1", "")}
}

func storeAll(t *testing.T, w *Cursor, events ...*event.Event) {
	t.Helper()
	for _, e := range events {
		require.NoError(t, w.Store(e, false), "store %s", e.Header)
	}
	require.NoError(t, w.Commit())
}

func readAll(t *testing.T, c *Cursor) []event.Header {
	t.Helper()
	var out []event.Header
	for {
		e, err := c.TryNext()
		require.NoError(t, err)
		if e == nil {
			// One nil per segment boundary, two in a row at the end.
			e, err = c.TryNext()
			require.NoError(t, err)
			if e == nil {
				return out
			}
		}
		out = append(out, e.Header)
	}
}

func flipLastByte(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestOpen_CreatesFirstSegment(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "thl")
	l := openLog(t, dir, testOptions())

	assert.Equal(t, []string{"thl.data.0000000001"}, l.FileNames())
	st := l.Stats()
	assert.Equal(t, int64(-1), st.MinSeqno)
	assert.Equal(t, int64(-1), st.MaxSeqno)
	assert.Equal(t, 1, st.FileCount)
	assert.FileExists(t, filepath.Join(dir, LockFileName))
}

func TestOpen_ReadOnlyMissingDirectory(t *testing.T) {
	opts := testOptions()
	opts.ReadOnly = true
	_, err := Open(filepath.Join(t.TempDir(), "missing"), opts)
	assert.True(t, thlerrors.IsIOError(err), "got %v", err)
}

func TestLog_StoreCommitReopen(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, testOptions())
	require.NoError(t, err)

	w, err := l.Connect(false)
	require.NoError(t, err)
	storeAll(t, w, ev(0, 0, true), ev(1, 0, true), ev(2, 0, true))
	assert.Equal(t, int64(0), l.MinSeqno())
	assert.Equal(t, int64(2), l.MaxSeqno())
	require.NoError(t, w.Release())
	require.NoError(t, l.Close())

	l = openLog(t, dir, testOptions())
	assert.Equal(t, int64(0), l.MinSeqno())
	assert.Equal(t, int64(2), l.MaxSeqno())
	require.NotNil(t, l.LastCommittedHeader())
	assert.Equal(t, int64(2), l.LastCommittedHeader().Seqno)

	r := connect(t, l, true)
	got := readAll(t, r)
	require.Len(t, got, 3)
	for i, h := range got {
		assert.Equal(t, int64(i), h.Seqno)
		assert.Equal(t, "db1", h.SourceID)
	}
}

func TestLog_Monotonicity(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, testOptions())
	require.NoError(t, err)

	w, err := l.Connect(false)
	require.NoError(t, err)
	storeAll(t, w, ev(5, 0, true), ev(6, 0, false), ev(6, 1, true))

	tests := []struct {
		name string
		ev   *event.Event
	}{
		{"lower seqno", ev(4, 0, true)},
		{"repeated seqno after last fragment", ev(6, 2, true)},
		{"new seqno not starting at fragment 0", ev(7, 1, true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := w.Store(tt.ev, true)
			assert.True(t, thlerrors.IsConsistencyError(err), "got %v", err)
		})
	}

	// A new writable cursor sees the same history.
	require.NoError(t, w.Release())
	w2, err := l.Connect(false)
	require.NoError(t, err)
	assert.True(t, thlerrors.IsConsistencyError(w2.Store(ev(6, 0, true), true)))
	require.NoError(t, w2.Release())
	require.NoError(t, l.Close())

	// So does the log after reopening.
	l = openLog(t, dir, testOptions())
	w3 := connect(t, l, false)
	assert.True(t, thlerrors.IsConsistencyError(w3.Store(ev(3, 0, true), true)))
	assert.NoError(t, w3.Store(ev(7, 0, true), true))
}

func TestLog_LowerSeqnoAfterOpenTransaction(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, testOptions())
	require.NoError(t, err)

	w, err := l.Connect(false)
	require.NoError(t, err)
	require.NoError(t, w.Store(ev(25, 0, false), true))
	assert.True(t, thlerrors.IsConsistencyError(w.Store(ev(24, 0, true), true)))
	require.NoError(t, w.Release())

	w, err = l.Connect(false)
	require.NoError(t, err)
	assert.True(t, thlerrors.IsConsistencyError(w.Store(ev(24, 0, true), true)))
	require.NoError(t, w.Release())
	require.NoError(t, l.Close())

	// Reopening drops the open transaction but not the seqno it used.
	l = openLog(t, dir, testOptions())
	w = connect(t, l, false)
	assert.True(t, thlerrors.IsConsistencyError(w.Store(ev(24, 0, true), true)))
	assert.NoError(t, w.Store(ev(25, 0, true), true))
}

func TestLog_SingleWriter(t *testing.T) {
	l := openLog(t, t.TempDir(), testOptions())

	w, err := l.Connect(false)
	require.NoError(t, err)

	_, err = l.Connect(false)
	assert.True(t, thlerrors.IsConcurrencyError(err), "got %v", err)

	// Readers are unaffected.
	connect(t, l, true)

	require.NoError(t, w.Release())
	w2, err := l.Connect(false)
	require.NoError(t, err)
	require.NoError(t, w2.Release())
}

func TestLog_SecondProcessWriterRejected(t *testing.T) {
	dir := t.TempDir()
	openLog(t, dir, testOptions())

	_, err := Open(dir, testOptions())
	assert.True(t, thlerrors.IsConcurrencyError(err), "got %v", err)

	opts := testOptions()
	opts.ReadOnly = true
	ro := openLog(t, dir, opts)
	assert.Equal(t, 1, ro.FileCount())
}

func TestLog_ReadOnlyRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, testOptions())
	require.NoError(t, err)
	w, err := l.Connect(false)
	require.NoError(t, err)
	storeAll(t, w, ev(0, 0, true))
	require.NoError(t, l.Close())

	opts := testOptions()
	opts.ReadOnly = true
	ro := openLog(t, dir, opts)

	_, err = ro.Connect(false)
	assert.True(t, thlerrors.IsReadOnlyError(err), "got %v", err)
	assert.True(t, thlerrors.IsConcurrencyError(err))

	c := connect(t, ro, true)
	assert.True(t, thlerrors.IsReadOnlyError(c.Store(ev(1, 0, true), true)))
	assert.True(t, thlerrors.IsReadOnlyError(c.Commit()))
	assert.True(t, thlerrors.IsReadOnlyError(c.Delete(Unbounded, 0)))

	_, err = ro.PurgeAged(context.Background())
	assert.True(t, thlerrors.IsReadOnlyError(err))
}

func TestLog_ReadOnlyCursorOnWritableLog(t *testing.T) {
	l := openLog(t, t.TempDir(), testOptions())
	r := connect(t, l, true)
	assert.True(t, thlerrors.IsReadOnlyError(r.Store(ev(0, 0, true), true)))
}

func TestLog_ClosedCursorAndLog(t *testing.T) {
	l, err := Open(t.TempDir(), testOptions())
	require.NoError(t, err)
	c, err := l.Connect(true)
	require.NoError(t, err)

	require.NoError(t, c.Release())
	require.NoError(t, c.Release())
	_, err = c.TryNext()
	assert.True(t, thlerrors.IsClosedError(err))

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	_, err = l.Connect(true)
	assert.True(t, thlerrors.IsClosedError(err))
}

func TestLog_RotateWriteFailureReportsUncutMarker(t *testing.T) {
	lines := debugLogLines(t)

	opts := testOptions()
	opts.BufferSize = 1
	l := openLog(t, t.TempDir(), opts)
	w := connect(t, l, false)
	storeAll(t, w, ev(0, 0, true))

	// Neither the marker write nor the cut back to its offset can reach a
	// closed file.
	seg := l.active()
	require.NoError(t, seg.wf.Close())

	l.writeMu.Lock()
	err := l.rotateLocked()
	l.writeMu.Unlock()
	require.True(t, thlerrors.IsIOError(err), "got %v", err)

	line := findLine(lines(), "failed to remove partial rotate marker")
	require.NotNil(t, line)
	assert.Equal(t, seg.Name(), line[logger.KeySegment])
	assert.Contains(t, line, logger.KeyError)
}

func TestRecovery_ZeroLengthTail(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.SegmentSize = 1

	l, err := Open(dir, opts)
	require.NoError(t, err)
	w, err := l.Connect(false)
	require.NoError(t, err)
	storeAll(t, w, ev(0, 0, true), ev(1, 0, true))
	require.NoError(t, l.Close())

	// Both records rotated; file 3 is the empty tail. Simulate a crash
	// that left it without a header.
	tail := filepath.Join(dir, SegmentFileName(3))
	require.NoError(t, os.Truncate(tail, 0))

	t.Run("read-only leaves it alone", func(t *testing.T) {
		ro := opts
		ro.ReadOnly = true
		rl, err := Open(dir, ro)
		require.NoError(t, err)
		defer rl.Close()
		assert.Equal(t, int64(1), rl.MaxSeqno())
		fi, err := os.Stat(tail)
		require.NoError(t, err)
		assert.Zero(t, fi.Size())
	})

	t.Run("writable rebuilds it", func(t *testing.T) {
		l := openLog(t, dir, opts)
		seg, ok := l.Segment(3)
		require.True(t, ok)
		assert.Equal(t, int64(2), seg.BaseSeqno())
		assert.Equal(t, int64(SegmentHeader), seg.Length())

		w := connect(t, l, false)
		require.NoError(t, w.Store(ev(2, 0, true), true))
	})
}

func TestRecovery_ZeroLengthInteriorSegmentIsFatal(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.SegmentSize = 1

	l, err := Open(dir, opts)
	require.NoError(t, err)
	w, err := l.Connect(false)
	require.NoError(t, err)
	storeAll(t, w, ev(0, 0, true), ev(1, 0, true))
	require.NoError(t, l.Close())

	require.NoError(t, os.Truncate(filepath.Join(dir, SegmentFileName(2)), 0))

	_, err = Open(dir, opts)
	assert.True(t, thlerrors.IsConsistencyError(err), "got %v", err)
}

func TestRecovery_ChecksumCorruption(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, testOptions())
	require.NoError(t, err)
	w, err := l.Connect(false)
	require.NoError(t, err)
	storeAll(t, w, ev(0, 0, true), ev(1, 0, true), ev(2, 0, true))
	require.NoError(t, l.Close())

	// Damage the checksum of the last record.
	path := filepath.Join(dir, SegmentFileName(1))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	for i := len(data) - 8; i < len(data); i++ {
		data[i] ^= 0x5A
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(dir, testOptions())
	require.Error(t, err)
	assert.True(t, thlerrors.IsChecksumError(err), "got %v", err)
	assert.True(t, thlerrors.IsConsistencyError(err))

	opts := testOptions()
	opts.DisableChecksums = true
	l = openLog(t, dir, opts)
	assert.Equal(t, int64(2), l.MaxSeqno())

	r := connect(t, l, true)
	ok, err := r.Seek(2, 0)
	require.NoError(t, err)
	require.True(t, ok)
	e, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Seqno)
}

func TestRecovery_IncompleteTransactionDropped(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, testOptions())
	require.NoError(t, err)
	w, err := l.Connect(false)
	require.NoError(t, err)
	storeAll(t, w, ev(0, 0, true), ev(1, 0, false), ev(1, 1, false))
	require.NoError(t, l.Close())

	l = openLog(t, dir, testOptions())
	assert.Equal(t, int64(0), l.MaxSeqno())

	r := connect(t, l, true)
	got := readAll(t, r)
	require.Len(t, got, 1)
	assert.Equal(t, int64(0), got[0].Seqno)

	// The writer restarts the dropped transaction from fragment 0.
	w = connect(t, l, false)
	require.NoError(t, w.Store(ev(1, 0, true), true))
	assert.Equal(t, int64(1), l.MaxSeqno())
}

func TestRecovery_ReadOnlyNeverReturnsIncompleteTransaction(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, testOptions())
	require.NoError(t, err)
	w, err := l.Connect(false)
	require.NoError(t, err)
	storeAll(t, w, ev(0, 0, true), ev(1, 0, false), ev(1, 1, false))
	require.NoError(t, l.Close())

	ro := testOptions()
	ro.ReadOnly = true
	rl := openLog(t, dir, ro)
	assert.Equal(t, int64(0), rl.MaxSeqno())

	r := connect(t, rl, true)
	got := readAll(t, r)
	require.Len(t, got, 1)
	assert.Equal(t, int64(0), got[0].Seqno)

	_, err = r.Next(context.Background())
	assert.True(t, thlerrors.IsTimeoutError(err), "got %v", err)
}

func TestRecovery_PartialRecordTruncated(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, testOptions())
	require.NoError(t, err)
	w, err := l.Connect(false)
	require.NoError(t, err)
	storeAll(t, w, ev(0, 0, true), ev(1, 0, true))
	require.NoError(t, l.Close())

	path := filepath.Join(dir, SegmentFileName(1))
	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, fi.Size()-3))

	l = openLog(t, dir, testOptions())
	assert.Equal(t, int64(0), l.MaxSeqno())
	seg, ok := l.Segment(1)
	require.True(t, ok)
	assert.Less(t, seg.Length(), fi.Size()-3)

	w = connect(t, l, false)
	require.NoError(t, w.Store(ev(1, 0, true), true))
}

func TestRecovery_CreatesSegmentNamedByMarker(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.SegmentSize = 1

	l, err := Open(dir, opts)
	require.NoError(t, err)
	w, err := l.Connect(false)
	require.NoError(t, err)
	storeAll(t, w, ev(0, 0, true))
	require.NoError(t, l.Close())

	// Crash between writing the marker and creating the next file.
	require.NoError(t, os.Remove(filepath.Join(dir, SegmentFileName(2))))

	l = openLog(t, dir, opts)
	assert.Equal(t, []string{SegmentFileName(1), SegmentFileName(2)}, l.FileNames())
	seg, ok := l.Segment(2)
	require.True(t, ok)
	assert.Equal(t, int64(1), seg.BaseSeqno())
}

func TestRecovery_GapInSegmentsIsFatal(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.SegmentSize = 1

	l, err := Open(dir, opts)
	require.NoError(t, err)
	w, err := l.Connect(false)
	require.NoError(t, err)
	storeAll(t, w, ev(0, 0, true), ev(1, 0, true))
	require.NoError(t, l.Close())

	require.NoError(t, os.Remove(filepath.Join(dir, SegmentFileName(2))))

	_, err = Open(dir, opts)
	assert.True(t, thlerrors.IsConsistencyError(err), "got %v", err)
}

func TestLog_Segments(t *testing.T) {
	opts := testOptions()
	opts.SegmentSize = 1
	l := openLog(t, t.TempDir(), opts)
	w := connect(t, l, false)
	storeAll(t, w, ev(10, 0, true), ev(11, 0, true))

	infos, err := l.Segments()
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, int64(0), infos[0].BaseSeqno)
	assert.Equal(t, int64(11), infos[1].BaseSeqno)
	assert.Equal(t, int64(12), infos[2].BaseSeqno)
	assert.Equal(t, SegmentFileName(3), infos[2].Name)
}
