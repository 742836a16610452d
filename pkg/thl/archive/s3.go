// Package archive copies log segments to S3 before retention removes them.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/henricavalcante/tungsten-replicator-sub005/internal/logger"
	"github.com/henricavalcante/tungsten-replicator-sub005/internal/telemetry"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/config"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/disklog"
)

// PutObjectAPI is the part of the S3 client the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds configuration for the S3 archiver.
type Config struct {
	// Bucket is the destination bucket.
	Bucket string

	// Prefix is prepended to segment file names. A trailing "/" is added
	// when missing.
	Prefix string

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string

	// ForcePathStyle forces path-style addressing (required for Localstack/MinIO).
	ForcePathStyle bool

	// Static credentials. Both empty means the default credential chain.
	AccessKeyID     string
	SecretAccessKey string

	// Timeout bounds one upload. Zero means no bound beyond ctx.
	Timeout time.Duration
}

// ConfigFrom converts the archive section of the configuration.
func ConfigFrom(cfg config.ArchiveConfig) Config {
	return Config{
		Bucket:          cfg.Bucket,
		Prefix:          cfg.Prefix,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		ForcePathStyle:  cfg.ForcePathStyle,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Timeout:         cfg.Timeout,
	}
}

// S3Archiver uploads segments to s3://bucket/prefix/<segment name>.
// It implements disklog.Archiver.
type S3Archiver struct {
	client  PutObjectAPI
	bucket  string
	prefix  string
	timeout time.Duration
}

var _ disklog.Archiver = (*S3Archiver)(nil)

// New creates an archiver with an existing client.
func New(client PutObjectAPI, cfg Config) *S3Archiver {
	prefix := cfg.Prefix
	if prefix != "" && prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	return &S3Archiver{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  prefix,
		timeout: cfg.Timeout,
	}
}

// NewFromConfig creates an archiver by building an S3 client from cfg.
func NewFromConfig(ctx context.Context, cfg Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return New(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

// Key returns the object key a segment is stored under.
func (a *S3Archiver) Key(name string) string {
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

// Archive uploads the segment file. The segment is not modified.
func (a *S3Archiver) Archive(ctx context.Context, seg disklog.SegmentInfo) (err error) {
	key := a.Key(seg.Name)
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanArchive)
	span.SetAttributes(telemetry.Segment(seg.Name), telemetry.Bucket(a.bucket), telemetry.StorageKey(key))
	defer func() {
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
		span.End()
	}()

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	f, err := os.Open(seg.Path)
	if err != nil {
		return fmt.Errorf("open segment %s: %w", seg.Name, err)
	}
	defer func() { _ = f.Close() }()

	start := time.Now()
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(seg.Size),
		Metadata: map[string]string{
			"base-seqno": strconv.FormatInt(seg.BaseSeqno, 10),
			"segment":    strconv.FormatInt(seg.Index, 10),
		},
	})
	if err != nil {
		return fmt.Errorf("s3 put object %s: %w", key, err)
	}

	logger.Info("Segment archived",
		logger.Segment(seg.Name),
		logger.BaseSeqno(seg.BaseSeqno),
		logger.Size(seg.Size),
		logger.KeyBucket, a.bucket,
		logger.KeyKey, key,
		logger.DurationMs(start))
	return nil
}
