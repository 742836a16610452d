package disklog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/henricavalcante/tungsten-replicator-sub005/internal/logger"
	"github.com/henricavalcante/tungsten-replicator-sub005/internal/telemetry"
	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
)

// minRetainedSegments is the number of newest segments retention never
// deletes, whatever their age.
const minRetainedSegments = 2

// PurgeAged deletes head segments older than the retention interval and
// returns how many were removed. A segment is kept when deleting it would
// leave fewer than two segments, or when its successor starts above the
// active seqno (it then holds seqnos at or above the watermark). Purging
// stops at the first segment that must be kept.
func (l *Log) PurgeAged(ctx context.Context) (int, error) {
	if l.opts.ReadOnly {
		return 0, thlerrors.NewReadOnlyError("purge")
	}
	if l.opts.Retention <= 0 {
		return 0, nil
	}

	ctx, span := telemetry.StartLogSpan(ctx, telemetry.SpanPurge, l.dir)
	defer span.End()

	l.purgeMu.Lock()
	defer l.purgeMu.Unlock()

	removed := 0
	defer func() {
		if removed > 0 {
			telemetry.SetAttributes(ctx, telemetry.Files(removed))
			if m := l.opts.Metrics; m != nil {
				m.RecordPurge(removed)
			}
			if err := l.refreshMin(); err != nil {
				logger.WarnCtx(ctx, "failed to refresh min seqno after purge", logger.Err(err))
			}
			l.publishRange()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if l.isClosed() {
			return removed, nil
		}

		seg, ok := l.purgeCandidate()
		if !ok {
			return removed, nil
		}
		info, err := seg.Info()
		if err != nil {
			return removed, err
		}
		age := l.opts.Now().Sub(info.ModTime)
		if age <= l.opts.Retention {
			return removed, nil
		}

		if l.opts.Archiver != nil {
			if err := l.opts.Archiver.Archive(ctx, info); err != nil {
				telemetry.RecordError(ctx, err)
				return removed, fmt.Errorf("archive %s: %w", info.Name, err)
			}
		}

		l.mu.Lock()
		if len(l.segments) == 0 || l.segments[0] != seg {
			l.mu.Unlock()
			return removed, nil
		}
		l.segments = l.segments[1:]
		l.stats.FileCount = len(l.segments)
		l.mu.Unlock()

		if err := seg.remove(); err != nil {
			telemetry.RecordError(ctx, err)
			return removed, err
		}
		removed++
		logger.InfoCtx(ctx, "purged aged segment",
			logger.Segment(info.Name),
			logger.BaseSeqno(info.BaseSeqno),
			logger.Size(info.Size),
			slog.Duration(logger.KeyAge, age.Round(time.Second)))
	}
}

// purgeCandidate returns the head segment when the count and watermark
// rules allow deleting it.
func (l *Log) purgeCandidate() (*Segment, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.segments) <= minRetainedSegments {
		return nil, false
	}
	active := l.stats.ActiveSeqno
	if active >= 0 && l.segments[1].BaseSeqno() > active {
		return nil, false
	}
	return l.segments[0], true
}
