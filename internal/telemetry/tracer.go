package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/henricavalcante/tungsten-replicator-sub005/internal/logger"
)

// Attribute keys for log operations.
const (
	AttrDir       = "thl.dir"
	AttrSegment   = "thl.segment"
	AttrSeqno     = "thl.seqno"
	AttrFromSeqno = "thl.from_seqno"
	AttrToSeqno   = "thl.to_seqno"
	AttrFiles     = "thl.files"
	AttrReadOnly  = "thl.read_only"
	AttrBucket    = "storage.bucket"
	AttrKey       = "storage.key"
)

// Span names. Format: thl.<operation>.
const (
	SpanOpen     = "thl.open"
	SpanRotate   = "thl.rotate"
	SpanPurge    = "thl.purge"
	SpanTrimHead = "thl.trim_head"
	SpanTrimTail = "thl.trim_tail"
	SpanArchive  = "thl.archive"
	SpanCheck    = "thl.check"
	SpanRecovery = "thl.recover_tail"
)

// Dir returns an attribute for the log directory
func Dir(dir string) attribute.KeyValue {
	return attribute.String(AttrDir, dir)
}

// Segment returns an attribute for a segment file name
func Segment(name string) attribute.KeyValue {
	return attribute.String(AttrSegment, name)
}

// Seqno returns an attribute for a sequence number
func Seqno(seqno int64) attribute.KeyValue {
	return attribute.Int64(AttrSeqno, seqno)
}

// SeqnoRange returns attributes for a sequence number interval
func SeqnoRange(from, to int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(AttrFromSeqno, from),
		attribute.Int64(AttrToSeqno, to),
	}
}

// Files returns an attribute for a number of segment files
func Files(n int) attribute.KeyValue {
	return attribute.Int(AttrFiles, n)
}

// ReadOnly returns an attribute for the open mode
func ReadOnly(ro bool) attribute.KeyValue {
	return attribute.Bool(AttrReadOnly, ro)
}

// Bucket returns an attribute for an object storage bucket
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for an object key
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// StartLogSpan starts a span for a directory-level log operation. The
// returned context also carries a logger.LogContext naming the directory,
// the operation and, when tracing is on, the trace and span ids.
func StartLogSpan(ctx context.Context, name, dir string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(attrs)+1)
	all = append(all, Dir(dir))
	all = append(all, attrs...)
	ctx, span := StartSpan(ctx, name, trace.WithAttributes(all...))

	lc := logger.FromContext(ctx).Clone()
	if lc == nil {
		lc = logger.NewLogContext(dir)
	}
	lc.Dir = dir
	lc = lc.WithOperation(strings.TrimPrefix(name, "thl."))
	if sc := span.SpanContext(); sc.IsValid() {
		lc = lc.WithTrace(sc.TraceID().String(), sc.SpanID().String())
	}
	return logger.WithContext(ctx, lc), span
}
