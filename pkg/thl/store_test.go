package thl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henricavalcante/tungsten-replicator-sub005/internal/bytesize"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/config"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/disklog"
	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/event"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/record"
)

type rowChange struct {
	Table string `json:"table"`
	Op    string `json:"op"`
	Key   int    `json:"key"`
}

func testOptions() disklog.Options {
	opts := disklog.DefaultOptions()
	opts.ReadTimeout = 200 * time.Millisecond
	opts.PollInterval = 20 * time.Millisecond
	return opts
}

func openStore(t *testing.T, dir string, opts disklog.Options) *Store[rowChange] {
	t.Helper()
	s, err := Open[rowChange](dir, opts, event.JSON[rowChange]{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func header(seqno int64) event.Header {
	return event.Header{
		Seqno:        seqno,
		LastFrag:     true,
		SourceID:     "db1",
		ShardID:      "orders",
		SourceTstamp: time.Unix(1700000000+seqno, 0).UTC(),
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s := openStore(t, t.TempDir(), testOptions())
	assert.Nil(t, s.LastCommittedHeader())

	for i := int64(0); i < 3; i++ {
		require.NoError(t, s.Store(header(i), rowChange{Table: "orders", Op: "insert", Key: int(i)}))
	}
	require.NoError(t, s.Commit())

	last := s.LastCommittedHeader()
	require.NotNil(t, last)
	assert.Equal(t, int64(2), last.Seqno)

	r, err := s.Connect(true)
	require.NoError(t, err)
	defer func() { _ = r.Release() }()

	ok, err := r.Seek(0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	for i := int64(0); i < 3; i++ {
		e, err := r.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, e.Seqno)
		assert.Equal(t, "orders", e.ShardID)
		assert.Equal(t, rowChange{Table: "orders", Op: "insert", Key: int(i)}, e.Event)
	}

	e, err := r.TryNext()
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestStore_UncommittedInvisible(t *testing.T) {
	s := openStore(t, t.TempDir(), testOptions())
	require.NoError(t, s.Store(header(0), rowChange{Key: 1}))

	r, err := s.Connect(true)
	require.NoError(t, err)
	defer func() { _ = r.Release() }()

	e, err := r.TryNext()
	require.NoError(t, err)
	assert.Nil(t, e)

	require.NoError(t, s.StoreAndCommit(header(1), rowChange{Key: 2}))
	e, err = r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), e.Seqno)
}

func TestStore_Filtered(t *testing.T) {
	s := openStore(t, t.TempDir(), testOptions())
	require.NoError(t, s.Store(header(0), rowChange{Key: 1}))
	require.NoError(t, s.StoreFiltered(1, 9, 0, "db1", "skip"))
	require.NoError(t, s.StoreAndCommit(header(10), rowChange{Key: 2}))

	err := s.Store(event.NewFilteredRange(11, 12, 0, "db1", ""), rowChange{})
	assert.True(t, thlerrors.IsInvalidArgumentError(err))

	r, err := s.Connect(true)
	require.NoError(t, err)
	defer func() { _ = r.Release() }()

	ok, err := r.Seek(5, 0)
	require.NoError(t, err)
	require.True(t, ok)
	e, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, e.IsFiltered())
	assert.Equal(t, int64(9), e.EndSeqno)
	assert.Zero(t, e.Event)
}

func TestStore_ReadFilter(t *testing.T) {
	s := openStore(t, t.TempDir(), testOptions())
	for i := int64(0); i < 4; i++ {
		h := header(i)
		if i%2 == 1 {
			h.ShardID = "customers"
		}
		require.NoError(t, s.Store(h, rowChange{Key: int(i)}))
	}
	require.NoError(t, s.Commit())

	pred, err := event.CompileFilter(`shard_id == "customers"`)
	require.NoError(t, err)

	r, err := s.Connect(true)
	require.NoError(t, err)
	defer func() { _ = r.Release() }()
	r.SetReadFilter(pred)

	var got []int64
	for {
		e, err := r.TryNext()
		require.NoError(t, err)
		if e == nil {
			break
		}
		got = append(got, e.Seqno)
	}
	assert.Equal(t, []int64{1, 3}, got)
}

func TestStore_MonotonicityAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open[rowChange](dir, testOptions(), event.JSON[rowChange]{})
	require.NoError(t, err)
	require.NoError(t, s.StoreAndCommit(header(25), rowChange{}))
	require.NoError(t, s.Close())

	s = openStore(t, dir, testOptions())
	assert.Equal(t, int64(25), s.LastCommittedHeader().Seqno)
	err = s.Store(header(24), rowChange{})
	assert.True(t, thlerrors.IsConsistencyError(err), "got %v", err)
}

func TestStore_DeleteTail(t *testing.T) {
	s := openStore(t, t.TempDir(), testOptions())
	for i := int64(0); i < 5; i++ {
		require.NoError(t, s.Store(header(i), rowChange{Key: int(i)}))
	}
	require.NoError(t, s.Commit())

	require.NoError(t, s.Delete(3, disklog.Unbounded))
	assert.Equal(t, int64(2), s.Log().MaxSeqno())
	assert.Equal(t, int64(2), s.LastCommittedHeader().Seqno)
}

func TestStore_ReadOnly(t *testing.T) {
	dir := t.TempDir()
	w := openStore(t, dir, testOptions())
	require.NoError(t, w.StoreAndCommit(header(0), rowChange{}))

	opts := testOptions()
	opts.ReadOnly = true
	ro := openStore(t, dir, opts)

	err := ro.Store(header(1), rowChange{})
	assert.True(t, thlerrors.IsReadOnlyError(err), "got %v", err)

	r, err := ro.Connect(true)
	require.NoError(t, err)
	defer func() { _ = r.Release() }()
	e, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), e.Seqno)
}

func TestOpen_RequiresSerializer(t *testing.T) {
	_, err := Open[[]byte](t.TempDir(), testOptions(), nil)
	assert.True(t, thlerrors.IsInvalidArgumentError(err))
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.GetDefaultConfig().Log
	cfg.SegmentSize = 16 * bytesize.MiB
	cfg.Checksum = "xxhash64"
	cfg.Visibility = "lax"
	cfg.FlushInterval = 250 * time.Millisecond
	cfg.Retention = 24 * time.Hour
	cfg.ReadTimeout = 5 * time.Second

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(16<<20), opts.SegmentSize)
	assert.Equal(t, record.ChecksumXXHash64, opts.ChecksumType)
	assert.Equal(t, disklog.VisibilityLax, opts.Visibility)
	assert.Equal(t, 250*time.Millisecond, opts.FlushInterval)
	assert.Equal(t, 24*time.Hour, opts.Retention)
	assert.Equal(t, 5*time.Second, opts.ReadTimeout)
	assert.Equal(t, 128<<10, opts.BufferSize)

	cfg.Checksum = "md5"
	_, err = OptionsFromConfig(cfg)
	assert.True(t, thlerrors.IsInvalidArgumentError(err))

	cfg.Checksum = "none"
	cfg.Visibility = "eventual"
	_, err = OptionsFromConfig(cfg)
	assert.Error(t, err)
}
