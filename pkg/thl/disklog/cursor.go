package disklog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/henricavalcante/tungsten-replicator-sub005/internal/logger"
	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/event"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/record"
)

// readState is the outcome of reading one record.
type readState int

const (
	// readNone means nothing is available at the cursor yet.
	readNone readState = iota
	// readEvent means an event was returned.
	readEvent
	// readSkipped means a record was consumed but not returned.
	readSkipped
	// readSegmentEnd means the cursor moved past a rotate marker.
	readSegmentEnd
)

// Cursor is a position in a log, opened read-only or writable. A cursor is
// meant for one goroutine; Release may be called from any goroutine and
// unblocks a waiting Next.
type Cursor struct {
	log      *Log
	id       string
	readOnly bool

	mu      sync.Mutex
	timeout time.Duration
	filter  event.Predicate

	seg    *Segment
	offset int64
	gen    uint64

	// Pending seek target. optimistic is set when the target was at or
	// past the end of the log when the seek happened.
	hasTarget    bool
	targetSeqno  int64
	targetFragno int16
	optimistic   bool

	// Last record returned or skipped over.
	lastSeqno  int64
	lastEnd    int64
	lastFragno int16
	lastEnded  bool

	// rotationWait is when the cursor first found a rotate marker whose
	// next segment did not exist yet.
	rotationWait time.Time

	// On a read-only log, bytes of completeSeg before completeEnd are known
	// to hold only whole transactions.
	completeSeg *Segment
	completeEnd int64

	releaseOnce sync.Once
	done        chan struct{}
}

func newCursor(l *Log, readOnly bool) *Cursor {
	kind := "w"
	if readOnly {
		kind = "r"
	}
	c := &Cursor{
		log:       l,
		id:        fmt.Sprintf("%s%d", kind, l.cursorSeq.Add(1)),
		readOnly:  readOnly,
		timeout:   l.opts.ReadTimeout,
		done:      make(chan struct{}),
		gen:       l.generation,
		lastSeqno: -1,
		lastEnd:   -1,
	}
	if len(l.segments) > 0 {
		c.seg = l.segments[0]
		c.offset = SegmentHeader
	}
	return c
}

// ID identifies the cursor in logs.
func (c *Cursor) ID() string { return c.id }

// ReadOnly reports whether the cursor rejects writes.
func (c *Cursor) ReadOnly() bool { return c.readOnly }

// Log returns the log the cursor belongs to.
func (c *Cursor) Log() *Log { return c.log }

// SetTimeout overrides the blocking timeout of Next for this cursor.
func (c *Cursor) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// SetReadFilter installs a predicate on record headers. Records it rejects
// are consumed without being returned. A nil predicate removes the filter.
func (c *Cursor) SetReadFilter(p event.Predicate) {
	c.mu.Lock()
	c.filter = p
	c.mu.Unlock()
}

// Position returns the segment file name and byte offset of the next read.
func (c *Cursor) Position() (string, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seg == nil {
		return "", 0
	}
	return c.seg.Name(), c.offset
}

func (c *Cursor) check() error {
	select {
	case <-c.done:
		return thlerrors.NewClosedError("cursor")
	default:
	}
	if c.log.isClosed() {
		return thlerrors.NewClosedError("log")
	}
	return nil
}

func (c *Cursor) checkWritable(op string) error {
	if err := c.check(); err != nil {
		return err
	}
	if c.readOnly || c.log.opts.ReadOnly {
		return thlerrors.NewReadOnlyError(op)
	}
	return nil
}

// Seek positions the cursor at the first record with a seqno at or above
// seqno (and fragno for the same seqno). A position past the end of the
// log is accepted; the record found there later must be exactly that
// position. Seek returns false when seqno is below the start of the log.
func (c *Cursor) Seek(seqno int64, fragno int16) (bool, error) {
	if seqno < 0 || fragno < 0 {
		return false, thlerrors.NewInvalidArgumentError("cannot seek to %d/%d", seqno, fragno)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return false, err
	}
	c.resetLast()
	ok, err := c.seekLocked(seqno, fragno)
	if ok && err == nil {
		logger.DebugCtx(c.logCtx(context.Background(), "seek"), "cursor positioned",
			logger.Seqno(seqno), logger.Fragno(fragno), logger.Segment(c.segName()))
	}
	return ok, err
}

// logCtx attaches the cursor's identity and position to ctx.
func (c *Cursor) logCtx(ctx context.Context, op string) context.Context {
	lc := logger.FromContext(ctx)
	if lc == nil {
		lc = logger.NewLogContext(c.log.dir)
	}
	return logger.WithContext(ctx, lc.WithCursor(c.id, c.lastSeqno).WithOperation(op))
}

func (c *Cursor) segName() string {
	if c.seg == nil {
		return ""
	}
	return c.seg.Name()
}

func (c *Cursor) seekLocked(seqno int64, fragno int16) (bool, error) {
	l := c.log
	l.mu.RLock()
	st := l.stats
	segs := append([]*Segment(nil), l.segments...)
	c.gen = l.generation
	l.mu.RUnlock()

	c.rotationWait = time.Time{}
	c.hasTarget = false

	if len(segs) == 0 {
		c.seg = nil
		c.setTarget(seqno, fragno, true)
		return true, nil
	}
	if st.MinSeqno >= 0 && seqno < st.MinSeqno {
		return false, nil
	}

	k := sort.Search(len(segs), func(i int) bool { return segs[i].BaseSeqno() > seqno }) - 1
	if k < 0 {
		k = 0
	}
	c.seg = segs[k]
	c.offset = SegmentHeader

	if pos, ok := l.index.get(seqno, segs[0].Index()); ok {
		if seg, ok := l.Segment(pos.index); ok && c.indexed(seg, pos.offset, seqno) {
			c.seg = seg
			c.offset = pos.offset
		}
	}

	c.setTarget(seqno, fragno, st.MaxSeqno < 0 || seqno > st.MaxSeqno)
	return true, nil
}

// indexed confirms that an index entry still points at seqno.
func (c *Cursor) indexed(seg *Segment, offset, seqno int64) bool {
	rec, err := seg.ReadRecord(offset, maxOffset, false)
	if err != nil || !rec.IsComplete() || rec.Type != record.TypeEvent {
		return false
	}
	ev, err := event.Unmarshal(rec.Payload)
	return err == nil && ev.Seqno == seqno && ev.Fragno == 0
}

func (c *Cursor) setTarget(seqno int64, fragno int16, optimistic bool) {
	c.hasTarget = true
	c.targetSeqno = seqno
	c.targetFragno = fragno
	c.optimistic = optimistic
}

func (c *Cursor) resetLast() {
	c.lastSeqno = -1
	c.lastEnd = -1
	c.lastFragno = 0
	c.lastEnded = false
	c.completeSeg = nil
	c.completeEnd = 0
}

// SeekFile positions the cursor at the first record of the named segment.
func (c *Cursor) SeekFile(name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return false, err
	}

	index, ok := ParseSegmentFileName(name)
	if !ok {
		return false, nil
	}
	seg, ok, err := c.log.findSegment(index)
	if err != nil || !ok {
		return false, err
	}

	c.resetLast()
	c.gen = c.log.currentGeneration()
	c.seg = seg
	c.offset = SegmentHeader
	c.hasTarget = false
	c.rotationWait = time.Time{}
	return true, nil
}

// Next returns the next visible record, blocking until one is committed,
// the cursor timeout elapses (TimeoutError), or ctx is done.
func (c *Cursor) Next(ctx context.Context) (*event.Event, error) {
	return c.next(ctx, true)
}

// TryNext returns the next visible record, or nil when none is available
// now. It also returns nil once at the end of each segment it leaves.
func (c *Cursor) TryNext() (*event.Event, error) {
	return c.next(context.Background(), false)
}

func (c *Cursor) next(ctx context.Context, blocking bool) (*event.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l := c.log
	deadline := time.Now().Add(c.timeout)

	for {
		if err := c.check(); err != nil {
			return nil, err
		}
		if err := c.syncGeneration(ctx); err != nil {
			return nil, err
		}

		// Take the wake-up channel before looking so a commit between the
		// read and the wait is not missed.
		wake := l.notify.wait()

		ev, state, err := c.readOne()
		if err != nil {
			return nil, err
		}
		switch state {
		case readEvent:
			return ev, nil
		case readSkipped:
			continue
		case readSegmentEnd:
			if !blocking {
				return nil, nil
			}
			continue
		}

		if !c.rotationWait.IsZero() && time.Since(c.rotationWait) >= l.opts.RotationTimeout {
			return nil, thlerrors.NewIOError("follow rotation", c.seg.Path(),
				fmt.Errorf("next segment did not appear within %s", l.opts.RotationTimeout))
		}
		if !blocking {
			return nil, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, c.timeoutError(ctx)
		}
		if l.opts.ReadOnly && remaining > l.opts.PollInterval {
			remaining = l.opts.PollInterval
		}

		timer := time.NewTimer(remaining)
		select {
		case <-wake:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-c.done:
			timer.Stop()
			return nil, thlerrors.NewClosedError("cursor")
		case <-l.done:
			timer.Stop()
			return nil, thlerrors.NewClosedError("log")
		}
		timer.Stop()
	}
}

// timeoutError reports an expired wait. A cursor left on a file that no
// longer exists gets an IOError instead, since no data can arrive.
func (c *Cursor) timeoutError(ctx context.Context) error {
	if c.seg != nil {
		if _, err := os.Stat(c.seg.Path()); c.seg.Removed() || errors.Is(err, os.ErrNotExist) {
			return thlerrors.NewIOError("read", c.seg.Path(), os.ErrNotExist)
		}
	}
	if m := c.log.opts.Metrics; m != nil {
		m.RecordReadTimeout()
	}
	logger.DebugCtx(c.logCtx(ctx, "next"), "read timed out", logger.Timeout(c.timeout))
	return thlerrors.NewTimeoutError("no record available within %s", c.timeout)
}

// syncGeneration re-positions the cursor after a tail trim rewrote the end
// of the log: it continues right after the last record it consumed.
func (c *Cursor) syncGeneration(ctx context.Context) error {
	gen := c.log.currentGeneration()
	if gen == c.gen {
		return nil
	}
	c.completeSeg = nil

	var (
		ok  bool
		err error
	)
	switch {
	case c.lastSeqno >= 0 && c.lastEnded:
		ok, err = c.seekLocked(c.lastEnd+1, 0)
	case c.lastSeqno >= 0:
		ok, err = c.seekLocked(c.lastSeqno, c.lastFragno+1)
	case c.hasTarget:
		ok, err = c.seekLocked(c.targetSeqno, c.targetFragno)
	default:
		c.gen = gen
		if c.seg != nil && c.offset > c.seg.Length() {
			c.offset = SegmentHeader
		}
		return nil
	}
	if err != nil {
		return err
	}
	if !ok {
		c.gen = gen
		if first, found := c.log.firstSegment(); found {
			c.seg = first
			c.offset = SegmentHeader
		}
	}
	logger.DebugCtx(c.logCtx(ctx, "next"), "cursor repositioned after tail trim", logger.Seqno(c.targetSeqno))
	return nil
}

// readOne consumes at most one record.
func (c *Cursor) readOne() (*event.Event, readState, error) {
	l := c.log
	if c.seg == nil {
		seg, ok, err := l.findFirstSegment()
		if err != nil || !ok {
			return nil, readNone, err
		}
		c.seg = seg
		c.offset = SegmentHeader
	}
	if c.seg.Removed() {
		return nil, readNone, thlerrors.NewIOError("read", c.seg.Path(), os.ErrNotExist)
	}

	rec, release, err := c.seg.readPooled(c.offset, l.visibleLimit(c.seg), !l.opts.DisableChecksums)
	defer release()
	if err != nil {
		if c.seg.Removed() {
			return nil, readNone, thlerrors.NewIOError("read", c.seg.Path(), os.ErrNotExist)
		}
		return nil, readNone, err
	}
	if !rec.IsComplete() {
		return nil, readNone, nil
	}

	switch rec.Type {
	case record.TypeRotate:
		r, err := record.DecodeRotate(rec)
		if err != nil {
			return nil, readNone, err
		}
		next, ok, err := l.findSegment(r.NextIndex)
		if err != nil {
			return nil, readNone, err
		}
		if !ok {
			if c.rotationWait.IsZero() {
				c.rotationWait = time.Now()
			}
			return nil, readNone, nil
		}
		c.rotationWait = time.Time{}
		c.seg = next
		c.offset = SegmentHeader
		return nil, readSegmentEnd, nil

	case record.TypeEvent:
		ev, err := event.Unmarshal(rec.Payload)
		if err != nil {
			return nil, readNone, err
		}
		h := &ev.Header

		if l.opts.ReadOnly {
			whole, err := c.transactionReadable(rec, h)
			if err != nil {
				return nil, readNone, err
			}
			if !whole {
				return nil, readNone, nil
			}
		}

		if c.hasTarget {
			if h.Before(c.targetSeqno, c.targetFragno) {
				c.consume(rec, h)
				return nil, readSkipped, nil
			}
			c.hasTarget = false
			if c.optimistic && !h.Matches(c.targetSeqno, c.targetFragno) {
				return nil, readNone, thlerrors.NewPositionError(c.targetSeqno, c.targetFragno, h.Seqno, h.Fragno)
			}
		}

		c.consume(rec, h)
		if l.opts.ReadOnly {
			l.observe(h)
		}
		if c.filter != nil && !c.filter(h) {
			return nil, readSkipped, nil
		}
		return ev, readEvent, nil
	}

	return nil, readNone, thlerrors.NewConsistencyError("unexpected record type %s", rec.Type).WithPath(c.seg.Path())
}

// transactionReadable reports whether the transaction that rec starts or
// continues has its last fragment on disk. A read-only log cannot see the
// writer's commits, so fragments are held back until the transaction ends.
// A trailing incomplete transaction left by a crash never ends and is never
// returned.
func (c *Cursor) transactionReadable(rec record.Record, h *event.Header) (bool, error) {
	if h.EndsTransaction() {
		return true, nil
	}
	end := c.offset + int64(rec.Size)
	if c.completeSeg == c.seg && end <= c.completeEnd {
		return true, nil
	}

	for offset := end; ; {
		next, release, err := c.seg.readPooled(offset, maxOffset, !c.log.opts.DisableChecksums)
		if err != nil {
			release()
			return false, err
		}
		if !next.IsComplete() {
			release()
			return false, nil
		}
		if next.Type != record.TypeEvent {
			release()
			return false, thlerrors.NewConsistencyError("%s record inside transaction %d", next.Type, h.Seqno).
				WithPath(c.seg.Path())
		}
		ev, err := event.Unmarshal(next.Payload)
		release()
		if err != nil {
			return false, err
		}
		offset += int64(next.Size)
		if ev.EndsTransaction() {
			c.completeSeg = c.seg
			c.completeEnd = offset
			return true, nil
		}
	}
}

// consume moves the cursor past rec and remembers its header.
func (c *Cursor) consume(rec record.Record, h *event.Header) {
	if h.Fragno == 0 {
		c.log.index.put(h.Seqno, position{c.seg.Index(), c.offset})
	}
	c.offset += int64(rec.Size)
	c.lastSeqno = h.Seqno
	c.lastEnd = h.LastSeqno()
	c.lastFragno = h.Fragno
	c.lastEnded = h.EndsTransaction()
}

// Store appends ev. With commitNow set the record, and everything stored
// before it, becomes visible at once.
func (c *Cursor) Store(ev *event.Event, commitNow bool) error {
	if err := c.checkWritable("store"); err != nil {
		return err
	}
	return c.log.store(ev, commitNow)
}

// Commit makes every stored record visible to all cursors.
func (c *Cursor) Commit() error {
	if err := c.checkWritable("commit"); err != nil {
		return err
	}
	return c.log.commit()
}

// Delete trims the log. Pass Unbounded for from to trim the head up to and
// including to, or Unbounded for to to trim the tail from from onward.
func (c *Cursor) Delete(from, to int64) error {
	if err := c.checkWritable("delete"); err != nil {
		return err
	}
	return c.log.delete(context.Background(), from, to)
}

// Release closes the cursor. A writable cursor does not commit on release.
// It is safe to call more than once.
func (c *Cursor) Release() error {
	c.releaseOnce.Do(func() {
		close(c.done)
		c.log.disconnect(c)
	})
	return nil
}
