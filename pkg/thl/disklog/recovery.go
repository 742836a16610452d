package disklog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/henricavalcante/tungsten-replicator-sub005/internal/logger"
	"github.com/henricavalcante/tungsten-replicator-sub005/internal/telemetry"
	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/event"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/lock"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/record"
)

// tailScan is what a sequential read of the tail segment found.
type tailScan struct {
	ScanResult

	// lastHdr is the header of the last event record.
	lastHdr *event.Header
	// lastEnd is the header of the last record ending a transaction, and
	// endOffset the offset just past it.
	lastEnd   *event.Header
	endOffset int64
	// rotate is set when the segment ends with a rotate marker, which
	// starts at markerOffset.
	rotate       *record.Rotate
	markerOffset int64
}

// scanSegment reads a whole segment and tracks transaction boundaries.
func scanSegment(seg *Segment, verify bool) (tailScan, error) {
	ts := tailScan{endOffset: SegmentHeader}
	res, err := seg.Scan(verify, func(offset int64, rec record.Record) error {
		if ts.rotate != nil {
			return thlerrors.NewConsistencyError("record after rotate marker at offset %d", offset).
				WithPath(seg.Path())
		}
		switch rec.Type {
		case record.TypeRotate:
			r, err := record.DecodeRotate(rec)
			if err != nil {
				return err
			}
			ts.rotate = &r
			ts.markerOffset = offset
		case record.TypeEvent:
			ev, err := event.Unmarshal(rec.Payload)
			if err != nil {
				return err
			}
			h := ev.Header
			ts.lastHdr = &h
			if h.EndsTransaction() {
				ts.lastEnd = &h
				ts.endOffset = offset + int64(rec.Size)
			}
		}
		return nil
	})
	ts.ScanResult = res
	return ts, err
}

// prepare opens the directory, validates the segment sequence, and
// repairs the tail after an unclean shutdown.
func (l *Log) prepare(ctx context.Context) error {
	if l.opts.ReadOnly {
		if fi, err := os.Stat(l.dir); err != nil {
			return thlerrors.NewIOError("open log directory", l.dir, err)
		} else if !fi.IsDir() {
			return thlerrors.NewInvalidArgumentError("%s is not a directory", l.dir)
		}
	} else {
		if err := os.MkdirAll(l.dir, directoryPerm); err != nil {
			return thlerrors.NewIOError("create log directory", l.dir, err)
		}
		wl := lock.New(lockPath(l.dir))
		ok, err := wl.Acquire()
		if err != nil {
			return thlerrors.NewIOError("acquire write lock", wl.Path(), err)
		}
		if !ok {
			owner, _ := lock.ReadOwner(wl.Path())
			return thlerrors.NewConcurrencyError("log directory " + l.dir + " is locked for writing by " + owner)
		}
		l.wlock = wl
		if err := l.removeLeftovers(); err != nil {
			return err
		}
	}

	if err := l.openSegments(); err != nil {
		return err
	}

	if len(l.segments) == 0 {
		if l.opts.ReadOnly {
			return nil
		}
		seg, err := CreateSegment(l.dir, 1, 0)
		if err != nil {
			return err
		}
		l.segments = append(l.segments, seg)
	}

	if err := l.repairZeroLengthTail(); err != nil {
		return err
	}
	if len(l.segments) == 0 {
		return nil
	}

	ctx, span := telemetry.StartLogSpan(ctx, telemetry.SpanRecovery, l.dir, telemetry.Segment(l.tail().Name()))
	defer span.End()
	if err := l.recoverTail(ctx); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	return nil
}

// removeLeftovers deletes files a crashed removal left behind.
func (l *Log) removeLeftovers() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return thlerrors.NewIOError("list log directory", l.dir, err)
	}
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), deletedSuffix) {
			continue
		}
		path := filepath.Join(l.dir, e.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return thlerrors.NewIOError("remove leftover", path, err)
		}
		l.log.Warn("removed leftover from interrupted delete", logger.Segment(e.Name()))
	}
	return nil
}

// openSegments opens every segment file in index order and checks that
// the sequence has no gaps.
func (l *Log) openSegments() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return thlerrors.NewIOError("list log directory", l.dir, err)
	}

	var indexes []int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if idx, ok := ParseSegmentFileName(e.Name()); ok {
			indexes = append(indexes, idx)
		}
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	for i, idx := range indexes {
		if i > 0 && idx != indexes[i-1]+1 {
			return thlerrors.NewConsistencyError("segment %s is missing between %s and %s",
				SegmentFileName(indexes[i-1]+1), SegmentFileName(indexes[i-1]), SegmentFileName(idx)).
				WithPath(l.dir)
		}
		seg, err := OpenSegment(filepath.Join(l.dir, SegmentFileName(idx)))
		if err != nil {
			return err
		}
		l.segments = append(l.segments, seg)
	}

	for i, seg := range l.segments {
		last := i == len(l.segments)-1
		if seg.IsZeroLength() {
			if !last {
				return thlerrors.NewConsistencyError("zero-length segment is not the last one").
					WithPath(seg.Path())
			}
			continue
		}
		if i > 0 && seg.BaseSeqno() < l.segments[i-1].BaseSeqno() {
			return thlerrors.NewConsistencyError("base seqno %d is lower than %d of %s",
				seg.BaseSeqno(), l.segments[i-1].BaseSeqno(), l.segments[i-1].Name()).WithPath(seg.Path())
		}
	}
	return nil
}

// repairZeroLengthTail recreates a tail segment whose creation was cut
// short, or skips it on a read-only log.
func (l *Log) repairZeroLengthTail() error {
	zl := l.tail()
	if zl == nil || !zl.IsZeroLength() {
		return nil
	}
	l.segments = l.segments[:len(l.segments)-1]
	if err := zl.Close(); err != nil {
		return err
	}

	if l.opts.ReadOnly {
		l.log.Warn("skipping zero-length tail segment", logger.Segment(zl.Name()))
		return nil
	}

	base := int64(0)
	if prev := l.tail(); prev != nil {
		ts, err := scanSegment(prev, !l.opts.DisableChecksums)
		if err != nil {
			return err
		}
		switch {
		case ts.rotate != nil:
			base = ts.rotate.NextBaseSeqno
		case ts.lastEnd != nil:
			base = ts.lastEnd.LastSeqno() + 1
		default:
			base = prev.BaseSeqno()
		}
	}

	if err := os.Remove(zl.Path()); err != nil {
		return thlerrors.NewIOError("remove zero-length segment", zl.Path(), err)
	}
	seg, err := CreateSegment(l.dir, zl.Index(), base)
	if err != nil {
		return err
	}
	l.segments = append(l.segments, seg)
	l.log.Warn("recreated zero-length tail segment", logger.Segment(seg.Name()), logger.BaseSeqno(base))
	return nil
}

// recoverTail scans the tail segment, cuts what an unclean shutdown left
// incomplete, and derives the log counters.
func (l *Log) recoverTail(ctx context.Context) error {
	verify := !l.opts.DisableChecksums
	tail := l.tail()

	ts, err := scanSegment(tail, verify)
	if err != nil {
		return err
	}

	if ts.Trailing > 0 {
		if l.opts.ReadOnly {
			logger.WarnCtx(ctx, "ignoring truncated record at end of tail segment",
				logger.Segment(tail.Name()), logger.Offset(ts.End), logger.Size(int64(ts.Trailing)))
		} else {
			logger.WarnCtx(ctx, "truncating partial record at end of tail segment",
				logger.Segment(tail.Name()), logger.Offset(ts.End), logger.Size(int64(ts.Trailing)))
			if err := l.truncateForRepair(tail, ts.End); err != nil {
				return err
			}
		}
	}

	if ts.lastHdr != nil && !ts.lastHdr.EndsTransaction() {
		telemetry.AddEvent(ctx, "incomplete transaction", telemetry.Seqno(ts.lastHdr.Seqno))
		if l.opts.ReadOnly {
			logger.WarnCtx(ctx, "tail ends with an incomplete transaction",
				logger.Segment(tail.Name()), logger.Seqno(ts.lastHdr.Seqno), logger.Fragno(ts.lastHdr.Fragno))
		} else {
			logger.WarnCtx(ctx, "dropping incomplete transaction",
				logger.Segment(tail.Name()), logger.Seqno(ts.lastHdr.Seqno), logger.Fragno(ts.lastHdr.Fragno),
				logger.Offset(ts.endOffset))
			if err := l.truncateForRepair(tail, ts.endOffset); err != nil {
				return err
			}
			// The dropped seqno was handed out already; never go below it.
			l.floor = ts.lastHdr.Seqno
			ts.lastHdr = ts.lastEnd
		}
	}

	if ts.rotate != nil {
		next := filepath.Join(l.dir, SegmentFileName(ts.rotate.NextIndex))
		if _, err := os.Stat(next); errors.Is(err, os.ErrNotExist) && !l.opts.ReadOnly {
			seg, err := CreateSegment(l.dir, ts.rotate.NextIndex, ts.rotate.NextBaseSeqno)
			if err != nil {
				return err
			}
			l.segments = append(l.segments, seg)
			logger.WarnCtx(ctx, "created segment named by rotate marker",
				logger.Segment(seg.Name()), logger.BaseSeqno(seg.BaseSeqno()))
			tail = seg
			ts = tailScan{ScanResult: ScanResult{End: SegmentHeader}, endOffset: SegmentHeader}
		}
	}

	last := ts.lastEnd
	if last == nil {
		if last, err = l.lastCompleteHeader(len(l.segments) - 2); err != nil {
			return err
		}
	}
	l.lastCommitted = last
	if last != nil {
		l.stats.MaxSeqno = last.LastSeqno()
	}
	if l.stats.MinSeqno, err = l.firstSeqno(); err != nil {
		return err
	}
	l.stats.FileCount = len(l.segments)

	if l.opts.ReadOnly {
		return nil
	}

	if err := tail.OpenForAppend(l.opts.BufferSize); err != nil {
		return err
	}
	end := position{tail.Index(), tail.Length()}
	l.visible = end
	l.txnEnd = end
	l.lastTxnHdr = last
	l.lastStored = last
	if ts.lastEnd == nil && tail.BaseSeqno() > l.floor {
		l.floor = tail.BaseSeqno()
	}
	return nil
}

// truncateForRepair cuts the tail during recovery. The append handle is
// opened early for this and reused afterwards.
func (l *Log) truncateForRepair(seg *Segment, length int64) error {
	if err := seg.OpenForAppend(l.opts.BufferSize); err != nil {
		return err
	}
	return seg.TruncateTo(length)
}

// lastCompleteHeader scans segments from index i down to 0 and returns the
// last transaction-ending header found, or nil.
func (l *Log) lastCompleteHeader(i int) (*event.Header, error) {
	verify := !l.opts.DisableChecksums
	for ; i >= 0; i-- {
		ts, err := scanSegment(l.segments[i], verify)
		if err != nil {
			return nil, err
		}
		if ts.lastEnd != nil {
			return ts.lastEnd, nil
		}
	}
	return nil, nil
}

// firstSeqno returns the seqno of the first event record, or -1.
func (l *Log) firstSeqno() (int64, error) {
	verify := !l.opts.DisableChecksums
	for _, seg := range l.segments {
		rec, err := seg.ReadRecord(SegmentHeader, maxOffset, verify)
		if err != nil {
			return -1, err
		}
		if !rec.IsComplete() {
			return -1, nil
		}
		if rec.Type != record.TypeEvent {
			continue
		}
		ev, err := event.Unmarshal(rec.Payload)
		if err != nil {
			return -1, err
		}
		return ev.Seqno, nil
	}
	return -1, nil
}
