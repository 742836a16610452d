package disklog

import (
	"context"
	"time"

	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/record"
)

// Visibility selects what an implicit (time-based) commit exposes.
type Visibility int

const (
	// VisibilityStrict exposes only complete transactions on an implicit
	// commit. Readers never see a partial multi-fragment transaction.
	VisibilityStrict Visibility = iota
	// VisibilityLax exposes every flushed fragment on an implicit commit,
	// including fragments of a transaction still being written.
	VisibilityLax
)

func (v Visibility) String() string {
	if v == VisibilityLax {
		return "lax"
	}
	return "strict"
}

// ParseVisibility maps "strict" and "lax" to a Visibility. The empty
// string means strict.
func ParseVisibility(s string) (Visibility, bool) {
	switch s {
	case "", "strict":
		return VisibilityStrict, true
	case "lax":
		return VisibilityLax, true
	}
	return VisibilityStrict, false
}

// Metrics receives log observations. All methods must be safe for
// concurrent use. A nil Metrics disables collection.
type Metrics interface {
	// ObserveStore records one stored record of the given encoded size.
	ObserveStore(bytes int, d time.Duration)

	// ObserveCommit records one commit. implicit is true for commits made
	// by the flush interval.
	ObserveCommit(implicit bool, d time.Duration)

	RecordRotation()

	// RecordPurge records n segment files removed by retention or trims.
	RecordPurge(n int)

	RecordReadTimeout()

	// SetRange publishes the current seqno range and segment count.
	SetRange(minSeqno, maxSeqno int64, files int)
}

// SegmentInfo describes a segment file on disk.
type SegmentInfo struct {
	Index     int64
	Name      string
	Path      string
	BaseSeqno int64
	Size      int64
	ModTime   time.Time
}

// Archiver copies a segment somewhere else before retention deletes it.
// A returned error aborts the purge and the segment is kept.
type Archiver interface {
	Archive(ctx context.Context, seg SegmentInfo) error
}

// Options configures a Log.
type Options struct {
	// ReadOnly opens the log without taking the write lock. Store and
	// Delete are rejected and the directory must already exist.
	ReadOnly bool

	// SegmentSize is the byte length at which the active segment rotates.
	// Rotation only happens after a record that ends a transaction.
	SegmentSize int64

	// ChecksumType is used for new records.
	ChecksumType record.ChecksumType

	// DisableChecksums skips checksum verification on read. It lets a
	// corrupted log be opened for diagnosis.
	DisableChecksums bool

	// FlushInterval enables implicit commits. Zero disables them.
	FlushInterval time.Duration

	// Visibility controls what an implicit commit exposes.
	Visibility Visibility

	// ReadTimeout is the default blocking timeout of Cursor.Next.
	ReadTimeout time.Duration

	// WriteTimeout bounds waiting for the segment write slot.
	WriteTimeout time.Duration

	// RotationTimeout bounds how long a reader waits for the segment named
	// by a rotate marker to appear.
	RotationTimeout time.Duration

	// Retention is the age after which head segments may be purged. Zero
	// disables retention.
	Retention time.Duration

	// PurgeInterval is the period of the background purger.
	PurgeInterval time.Duration

	// BufferSize is the size of the append buffer.
	BufferSize int

	// FsyncOnCommit fsyncs the active segment on every commit.
	FsyncOnCommit bool

	// IndexCacheSize bounds the number of seqno index entries kept.
	// Zero disables the index.
	IndexCacheSize int64

	// PollInterval is the fallback wake-up period of blocked readers of a
	// read-only log, for file systems where change notification is
	// unavailable.
	PollInterval time.Duration

	Metrics  Metrics
	Archiver Archiver

	// Now returns the current time. Tests override it.
	Now func() time.Time
}

// DefaultOptions returns options suitable for a writable log.
func DefaultOptions() Options {
	return Options{
		SegmentSize:     100 << 20,
		ChecksumType:    record.ChecksumCRC32,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Second,
		RotationTimeout: 60 * time.Second,
		PurgeInterval:   time.Minute,
		BufferSize:      128 << 10,
		IndexCacheSize:  100000,
		PollInterval:    250 * time.Millisecond,
	}
}

// withDefaults fills zero values that would make the log unusable.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SegmentSize <= 0 {
		o.SegmentSize = d.SegmentSize
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.RotationTimeout <= 0 {
		o.RotationTimeout = d.RotationTimeout
	}
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
