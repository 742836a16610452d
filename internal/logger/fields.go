package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging. Use these keys consistently
// so log lines from the writer, readers and the CLI can be correlated.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Log layout
	// ========================================================================
	KeyDir       = "dir"        // Log directory
	KeySegment   = "segment"    // Segment file name
	KeyBaseSeqno = "base_seqno" // First seqno a segment may hold
	KeyOffset    = "offset"     // Byte offset inside a segment
	KeySize      = "size"       // Byte size of a record or file
	KeyFiles     = "files"      // Number of segment files
	KeyReadOnly  = "read_only"  // Open mode

	// ========================================================================
	// Positions
	// ========================================================================
	KeySeqno    = "seqno"
	KeyFragno   = "fragno"
	KeyMinSeqno = "min_seqno"
	KeyMaxSeqno = "max_seqno"

	// ========================================================================
	// Cursors
	// ========================================================================
	KeyCursor    = "cursor"     // Cursor identifier
	KeyLastSeqno = "last_seqno" // Last seqno a cursor consumed
	KeyTimeout   = "timeout"    // Blocking timeout applied
	KeyOperation = "operation"  // Sub-operation name

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyAge        = "age"
	KeyBucket     = "bucket"
	KeyKey        = "key"
)

// ============================================================================
// Field constructors
// ============================================================================

// Dir returns a slog.Attr for the log directory
func Dir(dir string) slog.Attr {
	return slog.String(KeyDir, dir)
}

// Segment returns a slog.Attr for a segment file name
func Segment(name string) slog.Attr {
	return slog.String(KeySegment, name)
}

// BaseSeqno returns a slog.Attr for a segment base sequence number
func BaseSeqno(seqno int64) slog.Attr {
	return slog.Int64(KeyBaseSeqno, seqno)
}

// Offset returns a slog.Attr for a byte offset
func Offset(off int64) slog.Attr {
	return slog.Int64(KeyOffset, off)
}

// Size returns a slog.Attr for a byte size
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// Files returns a slog.Attr for a segment count
func Files(n int) slog.Attr {
	return slog.Int(KeyFiles, n)
}

// ReadOnly returns a slog.Attr for the open mode
func ReadOnly(ro bool) slog.Attr {
	return slog.Bool(KeyReadOnly, ro)
}

// Seqno returns a slog.Attr for a sequence number
func Seqno(seqno int64) slog.Attr {
	return slog.Int64(KeySeqno, seqno)
}

// Fragno returns a slog.Attr for a fragment number
func Fragno(fragno int16) slog.Attr {
	return slog.Int(KeyFragno, int(fragno))
}

// MinSeqno returns a slog.Attr for the lowest stored sequence number
func MinSeqno(seqno int64) slog.Attr {
	return slog.Int64(KeyMinSeqno, seqno)
}

// MaxSeqno returns a slog.Attr for the highest stored sequence number
func MaxSeqno(seqno int64) slog.Attr {
	return slog.Int64(KeyMaxSeqno, seqno)
}

// Timeout returns a slog.Attr for a blocking timeout
func Timeout(d time.Duration) slog.Attr {
	return slog.Duration(KeyTimeout, d)
}

// Err returns a slog.Attr for an error; nil errors produce an empty attr
// which handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns a slog.Attr for an elapsed time in milliseconds
func DurationMs(start time.Time) slog.Attr {
	return slog.Float64(KeyDurationMs, Duration(start))
}
