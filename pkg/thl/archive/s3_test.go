package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/config"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/disklog"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/event"
)

type fakeS3 struct {
	objects  map[string][]byte
	metadata map[string]map[string]string
	err      error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, metadata: map[string]map[string]string{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = data
	f.metadata[key] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func rowEvent(seqno int64) *event.Event {
	return &event.Event{
		Header:  event.Header{Seqno: seqno, LastFrag: true, SourceID: "db1"},
		Payload: []byte("row change"),
	}
}

func segmentFile(t *testing.T, content string) disklog.SegmentInfo {
	t.Helper()
	name := disklog.SegmentFileName(3)
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return disklog.SegmentInfo{
		Index:     3,
		Name:      name,
		Path:      p,
		BaseSeqno: 1200,
		Size:      int64(len(content)),
		ModTime:   time.Now(),
	}
}

func TestArchive_Uploads(t *testing.T) {
	client := newFakeS3()
	a := New(client, Config{Bucket: "thl-archive", Prefix: "prod/db1"})
	seg := segmentFile(t, "segment bytes")

	require.NoError(t, a.Archive(context.Background(), seg))

	key := "thl-archive/prod/db1/" + seg.Name
	assert.Equal(t, []byte("segment bytes"), client.objects[key])
	assert.Equal(t, "1200", client.metadata[key]["base-seqno"])
	assert.Equal(t, "3", client.metadata[key]["segment"])
}

func TestArchive_Key(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "thl.data.0000000001"},
		{"logs", "logs/thl.data.0000000001"},
		{"logs/", "logs/thl.data.0000000001"},
		{"a/b/", "a/b/thl.data.0000000001"},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			a := New(newFakeS3(), Config{Bucket: "b", Prefix: tt.prefix})
			assert.Equal(t, tt.want, a.Key(disklog.SegmentFileName(1)))
		})
	}
}

func TestArchive_Errors(t *testing.T) {
	client := newFakeS3()
	client.err = errors.New("access denied")
	a := New(client, Config{Bucket: "thl-archive"})

	err := a.Archive(context.Background(), segmentFile(t, "x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, client.err)

	missing := disklog.SegmentInfo{Name: "gone", Path: filepath.Join(t.TempDir(), "gone")}
	err = New(newFakeS3(), Config{Bucket: "b"}).Archive(context.Background(), missing)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestArchive_Timeout(t *testing.T) {
	a := New(newFakeS3(), Config{Bucket: "b", Timeout: time.Nanosecond})
	seg := segmentFile(t, "x")
	time.Sleep(time.Millisecond)

	err := a.Archive(context.Background(), seg)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.ArchiveConfig{
		Enabled:        true,
		Bucket:         "thl-archive",
		Prefix:         "prod",
		Endpoint:       "http://localhost:9000",
		ForcePathStyle: true,
		Timeout:        time.Minute,
	})
	assert.Equal(t, "thl-archive", cfg.Bucket)
	assert.Equal(t, "http://localhost:9000", cfg.Endpoint)
	assert.True(t, cfg.ForcePathStyle)
	assert.Equal(t, time.Minute, cfg.Timeout)

	_, err := NewFromConfig(context.Background(), Config{})
	assert.Error(t, err)
}

func TestArchive_WithLogRetention(t *testing.T) {
	client := newFakeS3()
	opts := disklog.DefaultOptions()
	opts.SegmentSize = 1
	opts.Retention = time.Hour
	opts.PurgeInterval = time.Hour
	opts.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	opts.Archiver = New(client, Config{Bucket: "thl-archive"})

	l, err := disklog.Open(t.TempDir(), opts)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	w, err := l.Connect(false)
	require.NoError(t, err)
	for i := int64(0); i < 3; i++ {
		require.NoError(t, w.Store(rowEvent(i), true))
	}

	n, err := l.PurgeAged(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, client.objects, 2)
	assert.Contains(t, client.objects, "thl-archive/"+disklog.SegmentFileName(1))
}
