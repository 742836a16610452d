//go:build integration

package s3_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/archive"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/disklog"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/event"
)

// localstackHelper manages the Localstack container for S3 integration tests.
type localstackHelper struct {
	container testcontainers.Container
	endpoint  string
	client    *s3.Client
}

// newLocalstackHelper starts a Localstack container or connects to an existing one.
func newLocalstackHelper(t *testing.T) *localstackHelper {
	t.Helper()
	ctx := context.Background()

	// Check if external Localstack is configured via environment
	if endpoint := os.Getenv("LOCALSTACK_ENDPOINT"); endpoint != "" {
		helper := &localstackHelper{endpoint: endpoint}
		helper.createClient(t)
		return helper
	}

	// Start Localstack container using testcontainers
	req := testcontainers.ContainerRequest{
		Image:        "localstack/localstack:3.0",
		ExposedPorts: []string{"4566/tcp"},
		Env: map[string]string{
			"SERVICES":              "s3",
			"DEFAULT_REGION":        "us-east-1",
			"EAGER_SERVICE_LOADING": "1",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4566/tcp"),
			wait.ForHTTP("/_localstack/health").
				WithPort("4566/tcp").
				WithStartupTimeout(60*time.Second),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start localstack container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "4566")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get container port: %v", err)
	}

	helper := &localstackHelper{
		container: container,
		endpoint:  fmt.Sprintf("http://%s:%s", host, port.Port()),
	}
	helper.createClient(t)

	return helper
}

// createClient creates an S3 client configured for Localstack.
func (lh *localstackHelper) createClient(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	cfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			"test", "test", "",
		)),
	)
	if err != nil {
		t.Fatalf("Failed to load AWS config: %v", err)
	}

	lh.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = &lh.endpoint
		o.UsePathStyle = true
	})
}

// createBucket creates a new S3 bucket.
func (lh *localstackHelper) createBucket(t *testing.T, bucketName string) {
	t.Helper()
	ctx := context.Background()

	_, err := lh.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	})
	if err != nil {
		t.Fatalf("Failed to create test bucket: %v", err)
	}
}

// cleanupBucket removes a bucket and all its contents.
func (lh *localstackHelper) cleanupBucket(bucketName string) {
	ctx := context.Background()

	listResp, _ := lh.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucketName),
	})
	if listResp != nil {
		for _, obj := range listResp.Contents {
			_, _ = lh.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(bucketName),
				Key:    obj.Key,
			})
		}
	}

	_, _ = lh.client.DeleteBucket(ctx, &s3.DeleteBucketInput{
		Bucket: aws.String(bucketName),
	})
}

// cleanup terminates the container if we started one.
func (lh *localstackHelper) cleanup() {
	if lh.container != nil {
		ctx := context.Background()
		_ = lh.container.Terminate(ctx)
	}
}

func rowEvent(seqno int64) *event.Event {
	return &event.Event{
		Header:  event.Header{Seqno: seqno, LastFrag: true, SourceID: "db1"},
		Payload: []byte(fmt.Sprintf("row %d", seqno)),
	}
}

// TestS3Archiver_Integration archives aged segments into Localstack through
// a retention pass and reads them back.
func TestS3Archiver_Integration(t *testing.T) {
	ctx := context.Background()

	helper := newLocalstackHelper(t)
	defer helper.cleanup()

	bucketName := "thl-archive-test"
	helper.createBucket(t, bucketName)
	defer helper.cleanupBucket(bucketName)

	archiver, err := archive.NewFromConfig(ctx, archive.Config{
		Bucket:          bucketName,
		Prefix:          "alpha",
		Region:          "us-east-1",
		Endpoint:        helper.endpoint,
		ForcePathStyle:  true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		Timeout:         30 * time.Second,
	})
	require.NoError(t, err)

	dir := t.TempDir()
	opts := disklog.DefaultOptions()
	opts.SegmentSize = 1
	opts.Retention = time.Hour
	opts.PurgeInterval = time.Hour
	opts.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	opts.Archiver = archiver

	l, err := disklog.Open(dir, opts)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	w, err := l.Connect(false)
	require.NoError(t, err)
	for i := int64(0); i < 3; i++ {
		require.NoError(t, w.Store(rowEvent(i), true))
	}

	// Keep a copy of the first segment before it is purged.
	first := disklog.SegmentFileName(1)
	want, err := os.ReadFile(filepath.Join(dir, first))
	require.NoError(t, err)

	n, err := l.PurgeAged(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoFileExists(t, filepath.Join(dir, first))

	list, err := helper.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucketName),
		Prefix: aws.String("alpha/"),
	})
	require.NoError(t, err)
	assert.Len(t, list.Contents, 2)

	obj, err := helper.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(archiver.Key(first)),
	})
	require.NoError(t, err)
	defer func() { _ = obj.Body.Close() }()

	got, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, "0", obj.Metadata["base-seqno"])
	assert.Equal(t, "1", obj.Metadata["segment"])
}

// TestS3Archiver_MissingBucket checks that a failed upload keeps the segment.
func TestS3Archiver_MissingBucket(t *testing.T) {
	ctx := context.Background()

	helper := newLocalstackHelper(t)
	defer helper.cleanup()

	archiver := archive.New(helper.client, archive.Config{Bucket: "thl-no-such-bucket"})

	dir := t.TempDir()
	opts := disklog.DefaultOptions()
	opts.SegmentSize = 1
	opts.Retention = time.Hour
	opts.PurgeInterval = time.Hour
	opts.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	opts.Archiver = archiver

	l, err := disklog.Open(dir, opts)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	w, err := l.Connect(false)
	require.NoError(t, err)
	for i := int64(0); i < 2; i++ {
		require.NoError(t, w.Store(rowEvent(i), true))
	}

	_, err = l.PurgeAged(ctx)
	require.Error(t, err)
	assert.FileExists(t, filepath.Join(dir, disklog.SegmentFileName(1)))
}
