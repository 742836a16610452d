// segment.go implements a single physical log file.
//
// File Format:
//
//	Header (16 bytes, big-endian):
//	  - Magic: 0xC001CAFE (4 bytes)
//	  - Major version: uint16 (2 bytes)
//	  - Minor version: uint16 (2 bytes)
//	  - Base seqno: int64 (8 bytes)
//
//	Records (variable): see package record.
//
// A file shorter than the header is "zero-length": its creation was
// interrupted and it holds no usable data.
//
// Appends go through a buffered writer and are serialized by a one-slot
// semaphore. Reads use ReadAt on a separate handle, so any number of
// readers may read at independent offsets while the writer appends.

package disklog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/bufpool"
	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
	"github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/record"
)

// Segment file constants
const (
	SegmentPrefix = "thl.data."
	segmentDigits = 10
	segmentMagic  = uint32(0xC001CAFE)
	segmentMajor  = uint16(1)
	segmentMinor  = uint16(1)
	SegmentHeader = 16
	deletedSuffix = ".deleted"
	segmentPerm   = 0o644
	directoryPerm = 0o755

	// maxOffset is the read limit of a segment with no visibility bound.
	maxOffset = math.MaxInt64
)

// SegmentFileName returns the file name of the segment with the given index.
func SegmentFileName(index int64) string {
	return fmt.Sprintf("%s%0*d", SegmentPrefix, segmentDigits, index)
}

// ParseSegmentFileName returns the index encoded in a segment file name.
func ParseSegmentFileName(name string) (int64, bool) {
	digits, ok := strings.CutPrefix(name, SegmentPrefix)
	if !ok || len(digits) != segmentDigits {
		return 0, false
	}
	index, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || index < 1 {
		return 0, false
	}
	return index, true
}

// Segment is one log file holding a contiguous run of records that starts
// at BaseSeqno.
type Segment struct {
	path       string
	name       string
	index      int64
	baseSeqno  int64
	zeroLength bool

	rf *os.File

	// Append state, guarded by slot.
	slot chan struct{}
	wf   *os.File
	w    *bufio.Writer

	length  atomic.Int64 // includes buffered bytes
	removed atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// CreateSegment writes a new segment file with the given base seqno and
// opens it. The file and its directory are fsynced before returning so a
// crash cannot leave a named but headerless file behind silently.
func CreateSegment(dir string, index, baseSeqno int64) (*Segment, error) {
	path := filepath.Join(dir, SegmentFileName(index))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, segmentPerm)
	if err != nil {
		return nil, thlerrors.NewIOError("create segment", path, err)
	}

	var hdr [SegmentHeader]byte
	binary.BigEndian.PutUint32(hdr[0:4], segmentMagic)
	binary.BigEndian.PutUint16(hdr[4:6], segmentMajor)
	binary.BigEndian.PutUint16(hdr[6:8], segmentMinor)
	binary.BigEndian.PutUint64(hdr[8:16], uint64(baseSeqno))

	if _, err := f.Write(hdr[:]); err != nil {
		_ = f.Close()
		return nil, thlerrors.NewIOError("write segment header", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, thlerrors.NewIOError("sync segment", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, thlerrors.NewIOError("close segment", path, err)
	}
	if err := syncDir(dir); err != nil {
		return nil, err
	}

	return OpenSegment(path)
}

// OpenSegment opens an existing segment for reading. A file shorter than
// the header opens successfully with IsZeroLength set.
func OpenSegment(path string) (*Segment, error) {
	name := filepath.Base(path)
	index, ok := ParseSegmentFileName(name)
	if !ok {
		return nil, thlerrors.NewInvalidArgumentError("not a segment file name: %s", name)
	}

	rf, err := os.Open(path)
	if err != nil {
		return nil, thlerrors.NewIOError("open segment", path, err)
	}
	info, err := rf.Stat()
	if err != nil {
		_ = rf.Close()
		return nil, thlerrors.NewIOError("stat segment", path, err)
	}

	s := &Segment{
		path:      path,
		name:      name,
		index:     index,
		baseSeqno: -1,
		rf:        rf,
		slot:      make(chan struct{}, 1),
	}
	s.length.Store(info.Size())

	if info.Size() < SegmentHeader {
		s.zeroLength = true
		return s, nil
	}

	var hdr [SegmentHeader]byte
	if _, err := rf.ReadAt(hdr[:], 0); err != nil {
		_ = rf.Close()
		return nil, thlerrors.NewIOError("read segment header", path, err)
	}
	if magic := binary.BigEndian.Uint32(hdr[0:4]); magic != segmentMagic {
		_ = rf.Close()
		return nil, thlerrors.NewConsistencyError("bad segment magic 0x%08X", magic).WithPath(path)
	}
	if major := binary.BigEndian.Uint16(hdr[4:6]); major != segmentMajor {
		_ = rf.Close()
		return nil, thlerrors.NewConsistencyError("unsupported segment version %d", major).WithPath(path)
	}
	s.baseSeqno = int64(binary.BigEndian.Uint64(hdr[8:16]))

	return s, nil
}

// Path returns the file path.
func (s *Segment) Path() string { return s.path }

// Name returns the file name.
func (s *Segment) Name() string { return s.name }

// Index returns the position of the segment in the file sequence.
func (s *Segment) Index() int64 { return s.index }

// BaseSeqno returns the lowest seqno the segment may hold, or -1 for a
// zero-length segment.
func (s *Segment) BaseSeqno() int64 { return s.baseSeqno }

// IsZeroLength reports whether the file is shorter than its header.
func (s *Segment) IsZeroLength() bool { return s.zeroLength }

// Length returns the logical length, including bytes still buffered by an
// append handle.
func (s *Segment) Length() int64 { return s.length.Load() }

// Removed reports whether the file was deleted by this process.
func (s *Segment) Removed() bool { return s.removed.Load() }

// Info describes the segment as it is on disk now.
func (s *Segment) Info() (SegmentInfo, error) {
	fi, err := os.Stat(s.path)
	if err != nil {
		return SegmentInfo{}, thlerrors.NewIOError("stat segment", s.path, err)
	}
	return SegmentInfo{
		Index:     s.index,
		Name:      s.name,
		Path:      s.path,
		BaseSeqno: s.baseSeqno,
		Size:      fi.Size(),
		ModTime:   fi.ModTime(),
	}, nil
}

// refreshLength re-reads the file size. Read-only logs use it to follow a
// writer in another process.
func (s *Segment) refreshLength() (int64, error) {
	fi, err := s.rf.Stat()
	if err != nil {
		return 0, thlerrors.NewIOError("stat segment", s.path, err)
	}
	s.length.Store(fi.Size())
	return fi.Size(), nil
}

// OpenForAppend prepares the segment for writing at its current end.
func (s *Segment) OpenForAppend(bufSize int) error {
	if s.zeroLength {
		return thlerrors.NewConsistencyError("cannot append to zero-length segment").WithPath(s.path)
	}
	s.slot <- struct{}{}
	defer func() { <-s.slot }()

	if s.wf != nil {
		return nil
	}
	wf, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, segmentPerm)
	if err != nil {
		return thlerrors.NewIOError("open segment for append", s.path, err)
	}
	fi, err := wf.Stat()
	if err != nil {
		_ = wf.Close()
		return thlerrors.NewIOError("stat segment", s.path, err)
	}
	s.wf = wf
	s.w = bufio.NewWriterSize(wf, bufSize)
	s.length.Store(fi.Size())
	return nil
}

// acquire takes the write slot. A non-positive timeout fails at once when
// the slot is busy.
func (s *Segment) acquire(timeout time.Duration) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	default:
	}
	if timeout <= 0 {
		return thlerrors.NewTimeoutError("segment %s is busy", s.name)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-timer.C:
		return thlerrors.NewTimeoutError("timed out after %s waiting to write %s", timeout, s.name)
	}
}

func (s *Segment) release() { <-s.slot }

// WriteRecord appends an encoded record and returns the offset it was
// written at.
func (s *Segment) WriteRecord(buf []byte, timeout time.Duration) (int64, error) {
	if err := s.acquire(timeout); err != nil {
		return 0, err
	}
	defer s.release()

	if s.w == nil {
		return 0, thlerrors.NewReadOnlyError("write to segment not opened for append")
	}
	offset := s.length.Load()
	n, err := s.w.Write(buf)
	if err != nil {
		// A partial write leaves bytes in the buffer; drop them so the
		// caller can truncate back to offset.
		s.w.Reset(s.wf)
		return offset, thlerrors.NewIOError("write record", s.path, err)
	}
	s.length.Add(int64(n))
	return offset, nil
}

// Flush hands buffered bytes to the operating system. After Flush,
// readers in other processes can see them.
func (s *Segment) Flush() error {
	s.slot <- struct{}{}
	defer s.release()
	return s.flushLocked()
}

func (s *Segment) flushLocked() error {
	if s.w == nil {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		return thlerrors.NewIOError("flush segment", s.path, err)
	}
	return nil
}

// Sync flushes and fsyncs the file.
func (s *Segment) Sync() error {
	s.slot <- struct{}{}
	defer s.release()

	if err := s.flushLocked(); err != nil {
		return err
	}
	if s.wf == nil {
		return nil
	}
	if err := s.wf.Sync(); err != nil {
		return thlerrors.NewIOError("sync segment", s.path, err)
	}
	return nil
}

// TruncateTo cuts the file to length bytes. The segment must be open for
// append and length may not cut into the header.
func (s *Segment) TruncateTo(length int64) error {
	if length < SegmentHeader {
		return thlerrors.NewInvalidArgumentError("cannot truncate %s to %d bytes", s.name, length)
	}
	s.slot <- struct{}{}
	defer s.release()

	if s.wf == nil {
		return thlerrors.NewReadOnlyError("truncate segment not opened for append")
	}
	if err := s.flushLocked(); err != nil {
		return err
	}
	if err := s.wf.Truncate(length); err != nil {
		return thlerrors.NewIOError("truncate segment", s.path, err)
	}
	if err := s.wf.Sync(); err != nil {
		return thlerrors.NewIOError("sync segment", s.path, err)
	}
	s.w.Reset(s.wf)
	s.length.Store(length)
	return nil
}

// ReadRecord reads the record at offset without blocking. limit is the
// first byte that may not be read: bytes past it are treated as not yet
// written. Reads never see bytes still held in the append buffer.
func (s *Segment) ReadRecord(offset, limit int64, verify bool) (record.Record, error) {
	return s.readRecord(offset, limit, verify, func(n int) []byte { return make([]byte, n) })
}

// readPooled is ReadRecord into a pooled buffer. The payload is only valid
// until release is called.
func (s *Segment) readPooled(offset, limit int64, verify bool) (rec record.Record, release func(), err error) {
	var buf []byte
	rec, err = s.readRecord(offset, limit, verify, func(n int) []byte {
		buf = bufpool.Get(n)
		return buf
	})
	return rec, func() { bufpool.Put(buf) }, err
}

func (s *Segment) readRecord(offset, limit int64, verify bool, alloc func(n int) []byte) (record.Record, error) {
	if offset >= limit {
		return record.Empty(), nil
	}

	var prefix [record.LengthSize]byte
	n, err := s.rf.ReadAt(prefix[:], offset)
	if err != nil && err != io.EOF {
		return record.Record{}, thlerrors.NewIOError("read record", s.path, err)
	}
	switch {
	case n == 0:
		return record.Empty(), nil
	case n < record.LengthSize:
		return record.Truncated(n), nil
	}

	size, err := record.PeekLength(prefix[:])
	if err != nil {
		return record.Record{}, s.decorate(err, offset)
	}
	if avail := limit - offset; int64(size) > avail {
		return record.Truncated(int(avail)), nil
	}

	buf := alloc(size)
	n, err = s.rf.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return record.Record{}, thlerrors.NewIOError("read record", s.path, err)
	}
	if n < size {
		return record.Truncated(n), nil
	}

	rec, err := record.Decode(buf, verify)
	if err != nil {
		return record.Record{}, s.decorate(err, offset)
	}
	return rec, nil
}

// decorate attaches the segment path and offset to a codec error.
func (s *Segment) decorate(err error, offset int64) error {
	var le *thlerrors.LogError
	if errors.As(err, &le) {
		cp := *le
		cp.Message = fmt.Sprintf("%s at offset %d", le.Message, offset)
		return cp.WithPath(s.path)
	}
	return fmt.Errorf("%s offset %d: %w", s.name, offset, err)
}

// Close releases both file handles. It is safe to call more than once.
func (s *Segment) Close() error {
	s.closeOnce.Do(func() {
		s.slot <- struct{}{}
		defer s.release()

		var errs []error
		if s.w != nil {
			if err := s.w.Flush(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.wf != nil {
			if err := s.wf.Close(); err != nil {
				errs = append(errs, err)
			}
			s.wf = nil
			s.w = nil
		}
		if err := s.rf.Close(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			s.closeErr = thlerrors.NewIOError("close segment", s.path, errs[0])
		}
	})
	return s.closeErr
}

// closeAppend flushes and drops the append handle, leaving the segment
// readable.
func (s *Segment) closeAppend() error {
	s.slot <- struct{}{}
	defer s.release()

	if s.wf == nil {
		return nil
	}
	err := s.flushLocked()
	if cerr := s.wf.Close(); cerr != nil && err == nil {
		err = thlerrors.NewIOError("close segment", s.path, cerr)
	}
	s.wf = nil
	s.w = nil
	return err
}

// remove closes and deletes the segment file.
func (s *Segment) remove() error {
	s.removed.Store(true)
	_ = s.Close()
	return removeFile(s.path)
}

// ScanResult summarizes a sequential read of a whole segment.
type ScanResult struct {
	// End is the offset just past the last complete record.
	End int64
	// Records is the number of complete records read.
	Records int
	// Trailing is the number of bytes of an incomplete final record.
	Trailing int
}

// Scan reads every record from the header to the end of the file in order
// and calls fn for each complete one. The payload passed to fn is reused
// after fn returns. Scan stops at the first error, which is returned with
// the result accumulated so far.
func (s *Segment) Scan(verify bool, fn func(offset int64, rec record.Record) error) (ScanResult, error) {
	res := ScanResult{End: SegmentHeader}
	if s.zeroLength {
		res.End = 0
		return res, nil
	}
	for {
		rec, release, err := s.readPooled(res.End, maxOffset, verify)
		if err != nil {
			return res, err
		}
		if rec.IsEmpty() {
			return res, nil
		}
		if rec.IsTruncated() {
			res.Trailing = rec.Size
			return res, nil
		}
		if fn != nil {
			err = fn(res.End, rec)
		}
		release()
		if err != nil {
			return res, err
		}
		res.End += int64(rec.Size)
		res.Records++
	}
}

// syncDir fsyncs a directory so that file creations and removals in it
// are durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return thlerrors.NewIOError("open directory", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !isSyncUnsupported(err) {
		return thlerrors.NewIOError("sync directory", dir, err)
	}
	return nil
}

// isSyncUnsupported reports whether err means the platform or file system
// cannot fsync a directory.
func isSyncUnsupported(err error) bool {
	return errors.Is(err, syscall.EINVAL) || runtime.GOOS == "windows"
}

// removeFile deletes path so that a crash leaves either the original file
// or a ".deleted" leftover that the next open cleans up, never a file
// that is half gone.
func removeFile(path string) error {
	dir := filepath.Dir(path)
	tmp := path + deletedSuffix
	if err := os.Rename(path, tmp); err != nil {
		return thlerrors.NewIOError("rename segment", path, err)
	}
	if err := syncDir(dir); err != nil {
		return err
	}
	if err := os.Remove(tmp); err != nil {
		return thlerrors.NewIOError("remove segment", tmp, err)
	}
	return syncDir(dir)
}
