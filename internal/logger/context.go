package logger

import (
	"context"
	"time"
)

type contextKey struct{}

// LogContext carries the fields shared by every log line of one operation
// on a log: a purge pass, a check, a cursor read.
type LogContext struct {
	TraceID   string
	SpanID    string
	Dir       string // Log directory
	Cursor    string // Cursor identifier
	Operation string // purge, check, next, seek, ...
	// LastSeqno is the last seqno the cursor consumed, or -1.
	LastSeqno int64
	StartTime time.Time
}

// NewLogContext creates a LogContext for operations on dir.
func NewLogContext(dir string) *LogContext {
	return &LogContext{
		Dir:       dir,
		LastSeqno: -1,
		StartTime: time.Now(),
	}
}

// WithContext returns a copy of ctx carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext returns the LogContext of ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}

// Clone returns a copy of lc.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithOperation returns a copy with the operation set.
func (lc *LogContext) WithOperation(op string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.Operation = op
	}
	return c
}

// WithCursor returns a copy naming a cursor and its last consumed seqno.
func (lc *LogContext) WithCursor(id string, lastSeqno int64) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.Cursor = id
		c.LastSeqno = lastSeqno
	}
	return c
}

// WithTrace returns a copy with the trace and span ids set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.TraceID = traceID
		c.SpanID = spanID
	}
	return c
}

// DurationMs returns the milliseconds since StartTime.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return Duration(lc.StartTime)
}

// attrs renders the set fields as key/value pairs.
func (lc *LogContext) attrs() []any {
	a := make([]any, 0, 12)
	if lc.TraceID != "" {
		a = append(a, KeyTraceID, lc.TraceID)
	}
	if lc.SpanID != "" {
		a = append(a, KeySpanID, lc.SpanID)
	}
	if lc.Dir != "" {
		a = append(a, KeyDir, lc.Dir)
	}
	if lc.Operation != "" {
		a = append(a, KeyOperation, lc.Operation)
	}
	if lc.Cursor != "" {
		a = append(a, KeyCursor, lc.Cursor)
		if lc.LastSeqno >= 0 {
			a = append(a, KeyLastSeqno, lc.LastSeqno)
		}
	}
	return a
}
