package disklog

import (
	"context"
	"time"

	"github.com/henricavalcante/tungsten-replicator-sub005/internal/logger"
	"github.com/henricavalcante/tungsten-replicator-sub005/internal/telemetry"
	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/event"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/record"
)

// store appends one event to the active segment. On any error the log is
// left as it was before the call.
func (l *Log) store(ev *event.Event, commitNow bool) error {
	start := time.Now()
	h := ev.Header
	if err := h.Validate(); err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if l.isClosed() {
		return thlerrors.NewClosedError("log")
	}
	if h.Seqno < l.floor {
		return thlerrors.NewConsistencyError("seqno %d is below %d, the lowest seqno still writable", h.Seqno, l.floor).
			WithSeqno(h.Seqno)
	}
	if err := event.CheckFollows(l.lastStored, &h); err != nil {
		return err
	}

	buf, err := record.Encode(record.TypeEvent, ev.Marshal(), l.opts.ChecksumType)
	if err != nil {
		return err
	}

	seg := l.active()
	offset, err := seg.WriteRecord(buf, l.opts.WriteTimeout)
	if err != nil {
		if thlerrors.IsIOError(err) {
			if terr := seg.TruncateTo(offset); terr != nil {
				l.log.Error("failed to cut partial record", logger.Segment(seg.Name()), logger.Err(terr))
			}
		}
		return err
	}

	l.lastStored = &h
	l.dirty = true
	ends := h.EndsTransaction()
	if ends {
		l.txnEnd = position{seg.Index(), seg.Length()}
		l.lastTxnHdr = &h
	}

	l.mu.Lock()
	if l.stats.MinSeqno < 0 {
		l.stats.MinSeqno = h.Seqno
	}
	if ends && h.LastSeqno() > l.stats.MaxSeqno {
		l.stats.MaxSeqno = h.LastSeqno()
	}
	l.mu.Unlock()

	if h.Fragno == 0 {
		l.index.put(h.Seqno, position{seg.Index(), offset})
	}
	if m := l.opts.Metrics; m != nil {
		m.ObserveStore(len(buf), time.Since(start))
	}

	if ends && seg.Length() >= l.opts.SegmentSize {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}

	switch {
	case commitNow:
		return l.commitLocked(false)
	case l.opts.FlushInterval > 0 && time.Since(l.lastCommit) >= l.opts.FlushInterval:
		return l.commitLocked(true)
	}
	return nil
}

// rotateLocked closes the active segment with a rotate marker and starts
// the next one. It runs only right after a transaction-ending record.
func (l *Log) rotateLocked() error {
	old := l.active()
	next := record.Rotate{
		NextIndex:     old.Index() + 1,
		NextBaseSeqno: l.lastStored.LastSeqno() + 1,
	}

	ctx, span := telemetry.StartLogSpan(context.Background(), telemetry.SpanRotate, l.dir,
		telemetry.Segment(old.Name()), telemetry.Seqno(next.NextBaseSeqno))
	defer span.End()

	buf, err := record.EncodeRotate(next, l.opts.ChecksumType)
	if err != nil {
		return err
	}
	offset, err := old.WriteRecord(buf, l.opts.WriteTimeout)
	if err != nil {
		if thlerrors.IsIOError(err) {
			if terr := old.TruncateTo(offset); terr != nil {
				l.log.Error("failed to remove partial rotate marker",
					logger.Segment(old.Name()), logger.Offset(offset), logger.Err(terr))
			}
		}
		telemetry.RecordError(ctx, err)
		return err
	}
	if err := old.Sync(); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}

	seg, err := CreateSegment(l.dir, next.NextIndex, next.NextBaseSeqno)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	if err := seg.OpenForAppend(l.opts.BufferSize); err != nil {
		_ = seg.Close()
		return err
	}
	if err := old.closeAppend(); err != nil {
		l.log.Warn("failed to close rotated segment for append", logger.Segment(old.Name()), logger.Err(err))
	}

	l.mu.Lock()
	l.segments = append(l.segments, seg)
	l.stats.FileCount = len(l.segments)
	files := l.stats.FileCount
	l.mu.Unlock()

	// The marker closes the last transaction, so the transaction boundary
	// moves to the start of the new file.
	l.txnEnd = position{seg.Index(), seg.Length()}

	if m := l.opts.Metrics; m != nil {
		m.RecordRotation()
	}
	l.publishRange()
	l.log.Info("rotated log segment",
		logger.Segment(seg.Name()),
		logger.BaseSeqno(seg.BaseSeqno()),
		logger.Files(files))
	return nil
}

// commit makes everything stored so far visible to readers.
func (l *Log) commit() error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if l.isClosed() {
		return thlerrors.NewClosedError("log")
	}
	return l.commitLocked(false)
}

// implicitCommit runs the time-based commit when there is uncommitted
// data older than the flush interval.
func (l *Log) implicitCommit() error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if l.isClosed() || !l.dirty || time.Since(l.lastCommit) < l.opts.FlushInterval {
		return nil
	}
	return l.commitLocked(true)
}

// commitLocked flushes the active segment and moves the visible boundary.
// An explicit commit exposes every stored record. An implicit one exposes
// the flushed fragments in lax mode but only whole transactions in strict
// mode.
func (l *Log) commitLocked(implicit bool) error {
	start := time.Now()
	seg := l.active()

	var err error
	if l.opts.FsyncOnCommit {
		err = seg.Sync()
	} else {
		err = seg.Flush()
	}
	if err != nil {
		return err
	}

	target := position{seg.Index(), seg.Length()}
	if implicit && l.opts.Visibility == VisibilityStrict {
		target = l.txnEnd
	}

	l.mu.Lock()
	if target.after(l.visible) {
		l.visible = target
	}
	if l.lastTxnHdr != nil {
		l.lastCommitted = l.lastTxnHdr
	}
	l.mu.Unlock()

	l.dirty = l.dirty && implicit && target != (position{seg.Index(), seg.Length()})
	l.lastCommit = time.Now()
	l.notify.broadcast()

	if m := l.opts.Metrics; m != nil {
		m.ObserveCommit(implicit, time.Since(start))
	}
	l.publishRange()
	return nil
}
