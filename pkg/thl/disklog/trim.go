package disklog

import (
	"context"
	"sort"

	"github.com/henricavalcante/tungsten-replicator-sub005/internal/logger"
	"github.com/henricavalcante/tungsten-replicator-sub005/internal/telemetry"
	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/event"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/record"
)

// delete removes seqnos from the head (from unbounded) or from the tail
// (to unbounded) of the log. With both bounds set the range must reach one
// end of the log.
func (l *Log) delete(ctx context.Context, from, to int64) error {
	if from < Unbounded || to < Unbounded {
		return thlerrors.NewInvalidArgumentError("negative bound in delete(%d, %d)", from, to)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if l.isClosed() {
		return thlerrors.NewClosedError("log")
	}

	st := l.Stats()
	switch {
	case from == Unbounded && to == Unbounded:
		return thlerrors.NewInvalidArgumentError("delete needs at least one bound")
	case from == Unbounded:
		return l.trimHead(ctx, to)
	case to == Unbounded:
		return l.trimTail(ctx, from)
	case from > to:
		return thlerrors.NewInvalidArgumentError("delete range [%d, %d] is inverted", from, to)
	case to >= st.MaxSeqno:
		return l.trimTail(ctx, from)
	case from <= st.MinSeqno:
		return l.trimHead(ctx, to)
	default:
		return thlerrors.NewInvalidArgumentError("delete range [%d, %d] is inside the log [%d, %d]",
			from, to, st.MinSeqno, st.MaxSeqno)
	}
}

// trimHead removes whole segments that only hold seqnos up to and
// including to. The tail segment is always kept.
func (l *Log) trimHead(ctx context.Context, to int64) error {
	ctx, span := telemetry.StartLogSpan(ctx, telemetry.SpanTrimHead, l.dir, telemetry.SeqnoRange(-1, to)...)
	defer span.End()

	l.purgeMu.Lock()
	defer l.purgeMu.Unlock()

	l.mu.Lock()
	n := 0
	for n < len(l.segments)-1 && l.segments[n+1].BaseSeqno() <= to+1 {
		n++
	}
	victims := append([]*Segment(nil), l.segments[:n]...)
	l.segments = l.segments[n:]
	l.stats.FileCount = len(l.segments)
	l.mu.Unlock()

	if n == 0 {
		return nil
	}
	if err := l.removeSegments(victims); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	if err := l.refreshMin(); err != nil {
		return err
	}
	l.publishRange()
	telemetry.SetAttributes(ctx, telemetry.Files(n))
	logger.InfoCtx(ctx, "trimmed log head", logger.Files(n), logger.MinSeqno(l.MinSeqno()))
	return nil
}

// trimTail removes every record with a seqno at or above from. A filtered
// range reaching from is removed whole.
func (l *Log) trimTail(ctx context.Context, from int64) error {
	ctx, span := telemetry.StartLogSpan(ctx, telemetry.SpanTrimTail, l.dir, telemetry.SeqnoRange(from, -1)...)
	defer span.End()

	l.purgeMu.Lock()
	defer l.purgeMu.Unlock()

	if from > l.lastStoredSeqno() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Scans read the file, so buffered records must reach it first.
	if err := l.tail().Flush(); err != nil {
		return err
	}

	// The cut lies in the last segment whose base is at or below from.
	k := sort.Search(len(l.segments), func(i int) bool { return l.segments[i].BaseSeqno() > from }) - 1
	if k < 0 {
		k = 0
	}
	seg := l.segments[k]

	cut, err := l.findCut(seg, from)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}

	victims := append([]*Segment(nil), l.segments[k+1:]...)
	l.segments = l.segments[:k+1]
	for i := len(victims) - 1; i >= 0; i-- {
		if err := victims[i].remove(); err != nil {
			telemetry.RecordError(ctx, err)
			return err
		}
	}

	if err := seg.OpenForAppend(l.opts.BufferSize); err != nil {
		return err
	}
	if err := seg.TruncateTo(cut); err != nil {
		return err
	}

	last, err := l.lastCompleteHeader(len(l.segments) - 1)
	if err != nil {
		return err
	}
	first, err := l.firstSeqno()
	if err != nil {
		return err
	}

	end := position{seg.Index(), seg.Length()}
	l.visible = end
	l.txnEnd = end
	l.lastCommitted = last
	l.lastTxnHdr = last
	l.lastStored = last
	l.dirty = false
	l.stats.MinSeqno = first
	l.stats.MaxSeqno = -1
	if last != nil {
		l.stats.MaxSeqno = last.LastSeqno()
	}
	l.stats.FileCount = len(l.segments)
	l.floor = 0
	if last == nil || last.LastSeqno() < seg.BaseSeqno() {
		l.floor = seg.BaseSeqno()
	}
	l.generation++
	l.index.clear()
	l.notify.broadcast()

	if m := l.opts.Metrics; m != nil {
		m.RecordPurge(len(victims))
		m.SetRange(l.stats.MinSeqno, l.stats.MaxSeqno, l.stats.FileCount)
	}
	telemetry.SetAttributes(ctx, telemetry.Files(len(victims)))
	logger.InfoCtx(ctx, "trimmed log tail",
		logger.Seqno(from),
		logger.Segment(seg.Name()),
		logger.Offset(cut),
		logger.MaxSeqno(l.stats.MaxSeqno))
	return nil
}

// lastStoredSeqno is the highest seqno written, complete or not.
func (l *Log) lastStoredSeqno() int64 {
	if l.lastStored == nil {
		return -1
	}
	return l.lastStored.LastSeqno()
}

// findCut returns the offset of the first record in seg that must go:
// an event reaching from, or the rotate marker when no event does.
func (l *Log) findCut(seg *Segment, from int64) (int64, error) {
	cut := int64(-1)
	res, err := seg.Scan(!l.opts.DisableChecksums, func(offset int64, rec record.Record) error {
		if cut >= 0 {
			return nil
		}
		if rec.Type == record.TypeRotate {
			cut = offset
			return nil
		}
		ev, err := event.Unmarshal(rec.Payload)
		if err != nil {
			return err
		}
		if ev.LastSeqno() >= from {
			cut = offset
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if cut < 0 {
		cut = res.End
	}
	return cut, nil
}

// removeSegments deletes head segments that are no longer listed.
func (l *Log) removeSegments(victims []*Segment) error {
	for _, s := range victims {
		if err := s.remove(); err != nil {
			return err
		}
		l.log.Debug("removed segment", logger.Segment(s.Name()))
	}
	if m := l.opts.Metrics; m != nil {
		m.RecordPurge(len(victims))
	}
	return nil
}

// refreshMin recomputes the lowest seqno after head segments went away.
func (l *Log) refreshMin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	first, err := l.firstSeqno()
	if err != nil {
		return err
	}
	l.stats.MinSeqno = first
	return nil
}
