// Package disklog implements the transaction history log: an append-only,
// checksummed, rotating sequence of segment files in one directory, with a
// single writer and any number of concurrent readers.
//
// A Log owns the segments of a directory and their shared state. Callers
// read and write through Cursors obtained from Connect. Stored records
// become visible to readers only when the writer commits, or when the
// flush interval elapses and an implicit commit runs.
package disklog

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/henricavalcante/tungsten-replicator-sub005/internal/logger"
	"github.com/henricavalcante/tungsten-replicator-sub005/internal/telemetry"
	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/event"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/lock"
)

// LockFileName is the write lock artifact inside a log directory.
const LockFileName = "thl.lck"

// Unbounded stands for an absent bound in Delete.
const Unbounded int64 = -1

// Stats holds the counters of one log.
type Stats struct {
	MinSeqno    int64
	MaxSeqno    int64
	ActiveSeqno int64
	FileCount   int
}

// Log is an open log directory.
//
// Lock order: writeMu, then purgeMu, then mu.
type Log struct {
	dir  string
	opts Options
	log  *slog.Logger

	wlock *lock.WriteLock

	mu            sync.RWMutex
	segments      []*Segment
	stats         Stats
	visible       position
	generation    uint64
	lastCommitted *event.Header
	writer        *Cursor
	cursors       map[*Cursor]struct{}
	cursorSeq     atomic.Uint64
	closed        bool

	// Writer state.
	writeMu    sync.Mutex
	lastStored *event.Header
	txnEnd     position
	lastTxnHdr *event.Header
	dirty      bool
	lastCommit time.Time
	floor      int64

	purgeMu sync.Mutex

	notify  *notifier
	watcher *dirWatcher
	index   *seqIndex

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Open opens, and when writable creates, the log in dir. It recovers from
// an unclean shutdown before returning.
func Open(dir string, opts Options) (*Log, error) {
	opts = opts.withDefaults()

	index, err := newSeqIndex(opts.IndexCacheSize)
	if err != nil {
		return nil, err
	}

	l := &Log{
		dir:     dir,
		opts:    opts,
		log:     logger.ForDir(dir),
		cursors: make(map[*Cursor]struct{}),
		notify:  newNotifier(),
		index:   index,
		done:    make(chan struct{}),
		stats: Stats{
			MinSeqno:    -1,
			MaxSeqno:    -1,
			ActiveSeqno: -1,
		},
	}

	ctx, span := telemetry.StartLogSpan(context.Background(), telemetry.SpanOpen, dir,
		telemetry.ReadOnly(opts.ReadOnly))
	defer span.End()

	if err := l.prepare(ctx); err != nil {
		telemetry.RecordError(ctx, err)
		l.abandon()
		return nil, err
	}
	telemetry.SetAttributes(ctx, telemetry.Files(len(l.segments)))
	l.lastCommit = time.Now()

	if opts.ReadOnly {
		w, err := watchDir(dir, l.notify, l.log)
		if err != nil {
			l.log.Warn("directory watch unavailable, falling back to polling", logger.Err(err))
		} else {
			l.watcher = w
		}
	}
	l.startBackground()

	l.log.Info("opened log",
		logger.ReadOnly(opts.ReadOnly),
		logger.Files(l.stats.FileCount),
		logger.MinSeqno(l.stats.MinSeqno),
		logger.MaxSeqno(l.stats.MaxSeqno))
	l.publishRange()

	return l, nil
}

// abandon releases what a failed open acquired.
func (l *Log) abandon() {
	for _, s := range l.segments {
		_ = s.Close()
	}
	l.segments = nil
	l.index.close()
	if l.wlock != nil {
		_ = l.wlock.Release()
	}
}

// Dir returns the log directory.
func (l *Log) Dir() string { return l.dir }

// ReadOnly reports whether the log was opened read-only.
func (l *Log) ReadOnly() bool { return l.opts.ReadOnly }

// Options returns the effective options.
func (l *Log) Options() Options { return l.opts }

// Stats returns a snapshot of the log counters.
func (l *Log) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

// MinSeqno returns the lowest stored seqno, or -1 for an empty log.
func (l *Log) MinSeqno() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats.MinSeqno
}

// MaxSeqno returns the highest seqno of a complete transaction, or -1.
func (l *Log) MaxSeqno() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats.MaxSeqno
}

// ActiveSeqno returns the purge watermark, or -1 when unset.
func (l *Log) ActiveSeqno() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats.ActiveSeqno
}

// SetActiveSeqno sets the purge watermark. Segments holding seqnos at or
// above it are never purged for age. Pass -1 to clear it.
func (l *Log) SetActiveSeqno(seqno int64) {
	l.mu.Lock()
	l.stats.ActiveSeqno = seqno
	l.mu.Unlock()
}

// FileCount returns the number of segment files.
func (l *Log) FileCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.segments)
}

// FileNames returns the segment file names in order.
func (l *Log) FileNames() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, len(l.segments))
	for i, s := range l.segments {
		names[i] = s.Name()
	}
	return names
}

// Segment returns the segment with the given file index.
func (l *Log) Segment(index int64) (*Segment, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.segmentLocked(index)
}

// Segments describes every segment file.
func (l *Log) Segments() ([]SegmentInfo, error) {
	l.mu.RLock()
	segs := append([]*Segment(nil), l.segments...)
	l.mu.RUnlock()

	infos := make([]SegmentInfo, 0, len(segs))
	for _, s := range segs {
		info, err := s.Info()
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// LastCommittedHeader returns the header of the last complete transaction
// visible to readers, or nil. A producer resumes after it on restart.
func (l *Log) LastCommittedHeader() *event.Header {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.lastCommitted == nil {
		return nil
	}
	h := *l.lastCommitted
	return &h
}

func (l *Log) segmentLocked(index int64) (*Segment, bool) {
	if len(l.segments) == 0 {
		return nil, false
	}
	i := index - l.segments[0].Index()
	if i < 0 || i >= int64(len(l.segments)) {
		return nil, false
	}
	return l.segments[i], true
}

// tail returns the last segment. Callers hold writeMu or mu.
func (l *Log) tail() *Segment {
	if len(l.segments) == 0 {
		return nil
	}
	return l.segments[len(l.segments)-1]
}

func (l *Log) firstSegment() (*Segment, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.segments) == 0 {
		return nil, false
	}
	return l.segments[0], true
}

// findSegment returns the segment with the given index. A read-only log
// also picks up files its writer created after the log was opened.
func (l *Log) findSegment(index int64) (*Segment, bool, error) {
	if seg, ok := l.Segment(index); ok {
		return seg, true, nil
	}
	if !l.opts.ReadOnly {
		return nil, false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if seg, ok := l.segmentLocked(index); ok {
		return seg, true, nil
	}
	if t := l.tail(); t != nil && t.Index()+1 != index {
		return nil, false, nil
	}
	return l.adoptLocked(index)
}

// findFirstSegment returns the first segment, looking on disk when a
// read-only log was opened on an empty directory.
func (l *Log) findFirstSegment() (*Segment, bool, error) {
	if seg, ok := l.firstSegment(); ok {
		return seg, true, nil
	}
	if !l.opts.ReadOnly {
		return nil, false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.segments) > 0 {
		return l.segments[0], true, nil
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, false, thlerrors.NewIOError("list log directory", l.dir, err)
	}
	lowest := int64(0)
	for _, e := range entries {
		if idx, ok := ParseSegmentFileName(e.Name()); ok && (lowest == 0 || idx < lowest) {
			lowest = idx
		}
	}
	if lowest == 0 {
		return nil, false, nil
	}
	return l.adoptLocked(lowest)
}

// adoptLocked opens a segment that appeared on disk and appends it to the
// list. Files still being created are ignored until they have a header.
func (l *Log) adoptLocked(index int64) (*Segment, bool, error) {
	seg, err := OpenSegment(filepath.Join(l.dir, SegmentFileName(index)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if seg.IsZeroLength() {
		_ = seg.Close()
		return nil, false, nil
	}
	l.segments = append(l.segments, seg)
	l.stats.FileCount = len(l.segments)
	l.log.Debug("found new segment", logger.Segment(seg.Name()), logger.BaseSeqno(seg.BaseSeqno()))
	return seg, true, nil
}

// observe lets a read-only log follow the range of a writer in another
// process as its cursors read.
func (l *Log) observe(h *event.Header) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stats.MinSeqno < 0 {
		l.stats.MinSeqno = h.Seqno
	}
	if h.EndsTransaction() && h.LastSeqno() > l.stats.MaxSeqno {
		l.stats.MaxSeqno = h.LastSeqno()
		hc := *h
		l.lastCommitted = &hc
	}
}

// active returns the segment the writer appends to.
func (l *Log) active() *Segment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tail()
}

// visibleLimit returns the first byte of seg that readers may not read.
func (l *Log) visibleLimit(seg *Segment) int64 {
	if l.opts.ReadOnly {
		return maxOffset
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	switch {
	case seg.Index() < l.visible.index:
		return maxOffset
	case seg.Index() == l.visible.index:
		return l.visible.offset
	default:
		return 0
	}
}

func (l *Log) currentGeneration() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.generation
}

func (l *Log) isClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

func (l *Log) publishRange() {
	if l.opts.Metrics == nil {
		return
	}
	st := l.Stats()
	l.opts.Metrics.SetRange(st.MinSeqno, st.MaxSeqno, st.FileCount)
}

// Connect opens a cursor. At most one writable cursor may be connected at
// a time, and none on a read-only log.
func (l *Log) Connect(readOnly bool) (*Cursor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, thlerrors.NewClosedError("log")
	}
	if !readOnly {
		if l.opts.ReadOnly {
			return nil, thlerrors.NewReadOnlyError("connect writable cursor")
		}
		if l.writer != nil {
			return nil, thlerrors.NewConcurrencyError("a writable cursor is already connected to " + l.dir)
		}
	}

	c := newCursor(l, readOnly)
	l.cursors[c] = struct{}{}
	if !readOnly {
		l.writer = c
	}
	return c, nil
}

// disconnect forgets a released cursor.
func (l *Log) disconnect(c *Cursor) {
	l.mu.Lock()
	delete(l.cursors, c)
	if l.writer == c {
		l.writer = nil
	}
	l.mu.Unlock()
}

// Close stops background work, releases every cursor, syncs the active
// segment, and releases the write lock. Stored but uncommitted records
// stay on disk.
func (l *Log) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		if l.watcher != nil {
			_ = l.watcher.close()
		}

		l.mu.Lock()
		cursors := make([]*Cursor, 0, len(l.cursors))
		for c := range l.cursors {
			cursors = append(cursors, c)
		}
		l.mu.Unlock()
		for _, c := range cursors {
			_ = c.Release()
		}

		l.writeMu.Lock()
		l.mu.Lock()
		l.closed = true
		if !l.opts.ReadOnly {
			if t := l.tail(); t != nil {
				err = t.Sync()
			}
		}
		for _, s := range l.segments {
			if cerr := s.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		l.mu.Unlock()
		l.writeMu.Unlock()

		l.notify.broadcast()
		l.index.close()
		if l.wlock != nil {
			if rerr := l.wlock.Release(); rerr != nil && err == nil {
				err = rerr
			}
		}
		l.log.Info("closed log")
	})
	return err
}

// startBackground launches the implicit-commit flusher and the retention
// purger when they are configured.
func (l *Log) startBackground() {
	if l.opts.ReadOnly {
		return
	}
	if l.opts.FlushInterval > 0 {
		l.wg.Add(1)
		go l.runFlusher()
	}
	if l.opts.Retention > 0 && l.opts.PurgeInterval > 0 {
		l.wg.Add(1)
		go l.runPurger()
	}
}

func (l *Log) runFlusher() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if err := l.implicitCommit(); err != nil {
				l.log.Error("implicit commit failed", logger.Err(err))
			}
		}
	}
}

func (l *Log) runPurger() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.opts.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-l.done:
					cancel()
				case <-ctx.Done():
				}
			}()
			if _, err := l.PurgeAged(ctx); err != nil {
				l.log.Error("retention purge failed", logger.Err(err))
			}
			cancel()
		}
	}
}

// lockPath is the write lock file of dir.
func lockPath(dir string) string {
	return filepath.Join(dir, LockFileName)
}
