// Package thl is the typed entry point to the transaction history log.
//
// A Store wraps a disklog.Log with a Serializer so producers hand it
// domain events and consumers get domain events back. The log itself only
// ever sees opaque payload bytes.
package thl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/disklog"
	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/event"
)

// Store is a log of events of type E.
type Store[E any] struct {
	log *disklog.Log
	ser event.Serializer[E]

	mu     sync.Mutex
	writer *disklog.Cursor
}

// Open opens the log in dir and serializes events with ser.
func Open[E any](dir string, opts disklog.Options, ser event.Serializer[E]) (*Store[E], error) {
	if ser == nil {
		return nil, thlerrors.NewInvalidArgumentError("serializer is required")
	}
	l, err := disklog.Open(dir, opts)
	if err != nil {
		return nil, err
	}
	return &Store[E]{log: l, ser: ser}, nil
}

// Log returns the underlying log.
func (s *Store[E]) Log() *disklog.Log { return s.log }

// writerCursor returns the store's write cursor, connecting it on first
// use. The store holds the log's only write cursor until Close.
func (s *Store[E]) writerCursor() (*disklog.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil {
		return s.writer, nil
	}
	c, err := s.log.Connect(false)
	if err != nil {
		return nil, err
	}
	s.writer = c
	return c, nil
}

// Store appends ev under h. The record stays invisible to readers until
// Commit, or until an implicit commit when a flush interval is set.
func (s *Store[E]) Store(h event.Header, ev E) error {
	return s.store(h, ev, false)
}

// StoreAndCommit appends ev and commits it together with every record
// stored before it.
func (s *Store[E]) StoreAndCommit(h event.Header, ev E) error {
	return s.store(h, ev, true)
}

func (s *Store[E]) store(h event.Header, ev E, commit bool) error {
	if h.IsFiltered() {
		return thlerrors.NewInvalidArgumentError("use StoreFiltered for filtered ranges").WithSeqno(h.Seqno)
	}
	payload, err := s.ser.Serialize(ev)
	if err != nil {
		return fmt.Errorf("seqno %d: %w", h.Seqno, err)
	}
	w, err := s.writerCursor()
	if err != nil {
		return err
	}
	return w.Store(&event.Event{Header: h, Payload: payload}, commit)
}

// StoreFiltered records that the seqnos [from, to] were skipped. The range
// is addressable by any seqno inside it.
func (s *Store[E]) StoreFiltered(from, to, epoch int64, sourceID, eventID string) error {
	w, err := s.writerCursor()
	if err != nil {
		return err
	}
	return w.Store(&event.Event{Header: event.NewFilteredRange(from, to, epoch, sourceID, eventID)}, false)
}

// Commit makes every stored record visible.
func (s *Store[E]) Commit() error {
	w, err := s.writerCursor()
	if err != nil {
		return err
	}
	return w.Commit()
}

// Delete trims the log through the store's write cursor. See
// disklog.Cursor.Delete.
func (s *Store[E]) Delete(from, to int64) error {
	w, err := s.writerCursor()
	if err != nil {
		return err
	}
	return w.Delete(from, to)
}

// LastCommittedHeader returns the header of the last committed
// transaction, or nil for an empty log. Extractors resume after it.
func (s *Store[E]) LastCommittedHeader() *event.Header {
	return s.log.LastCommittedHeader()
}

// Connect opens a reader. A writable reader is only useful for callers
// that need the underlying write cursor; Store already holds one once it
// has written.
func (s *Store[E]) Connect(readOnly bool) (*Reader[E], error) {
	c, err := s.log.Connect(readOnly)
	if err != nil {
		return nil, err
	}
	return &Reader[E]{cursor: c, ser: s.ser}, nil
}

// Close releases the write cursor and closes the log.
func (s *Store[E]) Close() error {
	s.mu.Lock()
	if s.writer != nil {
		_ = s.writer.Release()
		s.writer = nil
	}
	s.mu.Unlock()
	return s.log.Close()
}

// Entry is one record read back from the log.
type Entry[E any] struct {
	event.Header
	// Event is the zero value for a filtered range.
	Event E
}

// Reader iterates a Store.
type Reader[E any] struct {
	cursor *disklog.Cursor
	ser    event.Serializer[E]
}

// Cursor returns the underlying cursor.
func (r *Reader[E]) Cursor() *disklog.Cursor { return r.cursor }

func (r *Reader[E]) Seek(seqno int64, fragno int16) (bool, error) {
	return r.cursor.Seek(seqno, fragno)
}

func (r *Reader[E]) SeekFile(name string) (bool, error) {
	return r.cursor.SeekFile(name)
}

func (r *Reader[E]) SetReadFilter(p event.Predicate) { r.cursor.SetReadFilter(p) }

func (r *Reader[E]) SetTimeout(d time.Duration) { r.cursor.SetTimeout(d) }

// Next blocks for the next committed entry. See disklog.Cursor.Next.
func (r *Reader[E]) Next(ctx context.Context) (*Entry[E], error) {
	ev, err := r.cursor.Next(ctx)
	if err != nil {
		return nil, err
	}
	return r.decode(ev)
}

// TryNext returns the next entry, or nil when none is committed yet.
func (r *Reader[E]) TryNext() (*Entry[E], error) {
	ev, err := r.cursor.TryNext()
	if err != nil || ev == nil {
		return nil, err
	}
	return r.decode(ev)
}

func (r *Reader[E]) decode(ev *event.Event) (*Entry[E], error) {
	entry := &Entry[E]{Header: ev.Header}
	if ev.IsFiltered() {
		return entry, nil
	}
	v, err := r.ser.Deserialize(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("seqno %d fragno %d: %w", ev.Seqno, ev.Fragno, err)
	}
	entry.Event = v
	return entry, nil
}

// Release closes the reader.
func (r *Reader[E]) Release() error { return r.cursor.Release() }
