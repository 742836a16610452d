package disklog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/event"
)

func storeRange(t *testing.T, w *Cursor, from, to int64) {
	t.Helper()
	events := make([]*event.Event, 0, to-from+1)
	for i := from; i <= to; i++ {
		events = append(events, ev(i, 0, true))
	}
	storeAll(t, w, events...)
}

func TestDelete_Head(t *testing.T) {
	opts := testOptions()
	opts.SegmentSize = 1
	l := openLog(t, t.TempDir(), opts)
	w := connect(t, l, false)
	storeRange(t, w, 0, 4)
	require.Equal(t, 6, l.FileCount())

	require.NoError(t, w.Delete(Unbounded, 2))
	assert.Equal(t, 3, l.FileCount())
	assert.Equal(t, int64(3), l.MinSeqno())
	assert.Equal(t, int64(4), l.MaxSeqno())
	assert.Equal(t, []string{SegmentFileName(4), SegmentFileName(5), SegmentFileName(6)}, l.FileNames())

	r := connect(t, l, true)
	ok, err := r.Seek(2, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.Seek(3, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int64{3, 4}, seqnos(readAll(t, r)))
}

func TestDelete_HeadKeepsActiveSegment(t *testing.T) {
	l := openLog(t, t.TempDir(), testOptions())
	w := connect(t, l, false)
	storeRange(t, w, 0, 9)

	require.NoError(t, w.Delete(Unbounded, 100))
	assert.Equal(t, 1, l.FileCount())
	assert.Equal(t, int64(0), l.MinSeqno())
}

func TestDelete_Tail(t *testing.T) {
	l := openLog(t, t.TempDir(), testOptions())
	w := connect(t, l, false)
	storeRange(t, w, 0, 9)

	require.NoError(t, w.Delete(5, Unbounded))
	assert.Equal(t, int64(4), l.MaxSeqno())
	assert.Equal(t, int64(4), l.LastCommittedHeader().Seqno)

	r := connect(t, l, true)
	ok, err := r.Seek(l.MaxSeqno(), 0)
	require.NoError(t, err)
	require.True(t, ok)
	e, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), e.Seqno)

	e, err = r.TryNext()
	require.NoError(t, err)
	assert.Nil(t, e)

	// The trimmed seqnos can be written again.
	require.NoError(t, w.Store(ev(5, 0, true), true))
	e, err = r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), e.Seqno)
}

func TestDelete_TailAcrossSegments(t *testing.T) {
	opts := testOptions()
	opts.SegmentSize = 1
	l := openLog(t, t.TempDir(), opts)
	w := connect(t, l, false)
	storeRange(t, w, 0, 4)

	require.NoError(t, w.Delete(2, Unbounded))
	assert.Equal(t, int64(1), l.MaxSeqno())
	assert.Equal(t, 3, l.FileCount())

	r := connect(t, l, true)
	ok, err := r.Seek(1, 0)
	require.NoError(t, err)
	require.True(t, ok)
	e, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Seqno)

	assert.True(t, thlerrors.IsConsistencyError(w.Store(ev(1, 0, true), true)))
	require.NoError(t, w.Store(ev(2, 0, true), true))
	assert.Equal(t, int64(2), l.MaxSeqno())
}

func TestDelete_TailRemovesStraddlingFilteredRange(t *testing.T) {
	l := openLog(t, t.TempDir(), testOptions())
	w := connect(t, l, false)
	storeAll(t, w, ev(0, 0, true), filtered(1, 5), ev(6, 0, true))

	require.NoError(t, w.Delete(3, Unbounded))
	assert.Equal(t, int64(0), l.MaxSeqno())
	require.NoError(t, w.Store(ev(1, 0, true), true))
}

func TestDelete_TailDropsUncommittedRecords(t *testing.T) {
	l := openLog(t, t.TempDir(), testOptions())
	w := connect(t, l, false)
	storeRange(t, w, 0, 3)
	require.NoError(t, w.Store(ev(4, 0, false), false))

	require.NoError(t, w.Delete(4, Unbounded))
	assert.Equal(t, int64(3), l.MaxSeqno())
	require.NoError(t, w.Store(ev(4, 0, true), true))
}

func TestDelete_Bounds(t *testing.T) {
	l := openLog(t, t.TempDir(), testOptions())
	w := connect(t, l, false)
	storeRange(t, w, 0, 9)

	tests := []struct {
		name     string
		from, to int64
	}{
		{"no bounds", Unbounded, Unbounded},
		{"inverted", 6, 3},
		{"interior range", 3, 5},
		{"negative", -5, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := w.Delete(tt.from, tt.to)
			assert.True(t, thlerrors.IsInvalidArgumentError(err), "got %v", err)
		})
	}

	// A closed range reaching the end trims the tail.
	require.NoError(t, w.Delete(8, 9))
	assert.Equal(t, int64(7), l.MaxSeqno())
}

func TestDelete_CursorsFollowTailTrim(t *testing.T) {
	l := openLog(t, t.TempDir(), testOptions())
	w := connect(t, l, false)
	storeRange(t, w, 0, 7)

	behind := connect(t, l, true)
	for want := int64(0); want <= 3; want++ {
		e, err := behind.Next(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, e.Seqno)
	}
	ahead := connect(t, l, true)
	assert.Len(t, readAll(t, ahead), 8)

	require.NoError(t, w.Delete(5, Unbounded))

	rewritten := ev(5, 0, true)
	rewritten.Payload = []byte("rewritten")
	require.NoError(t, w.Store(rewritten, true))
	storeAll(t, w, ev(6, 0, true), ev(7, 0, true), ev(8, 0, true))

	// A reader behind the cut sees the new records.
	got := readAll(t, behind)
	require.Equal(t, []int64{4, 5, 6, 7, 8}, seqnos(got))

	// A reader past the cut resumes after what it already consumed.
	e, err := ahead.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(8), e.Seqno)
}
