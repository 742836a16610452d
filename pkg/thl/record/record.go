// Package record implements the on-disk framing of a single log record.
//
// Binary layout (big-endian, tail-anchored):
//
//	[4-byte length][1-byte type][payload][1-byte checksum type][8-byte checksum]
//
// The length prefix counts the whole record including itself. The checksum
// covers the payload only. Encoding and decoding are pure and stateless.
package record

import (
	"encoding/binary"
	"fmt"

	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
)

// Framing sizes.
const (
	LengthSize   = 4
	TypeSize     = 1
	HeaderSize   = LengthSize + TypeSize
	TrailerSize  = 1 + 8
	OverheadSize = HeaderSize + TrailerSize

	// MinRecordSize is the size of a record with an empty payload.
	MinRecordSize = OverheadSize

	// MaxRecordSize bounds the length prefix; larger values are treated as
	// corruption rather than an allocation request.
	MaxRecordSize = 1 << 30
)

// Type identifies what a record carries.
type Type byte

const (
	// TypeEvent is a REPLICATION_EVENT record.
	TypeEvent Type = 1
	// TypeRotate terminates a segment and names the next one.
	TypeRotate Type = 2
)

func (t Type) String() string {
	switch t {
	case TypeEvent:
		return "EVENT"
	case TypeRotate:
		return "ROTATE"
	default:
		return fmt.Sprintf("Type(%d)", byte(t))
	}
}

func (t Type) valid() bool {
	return t == TypeEvent || t == TypeRotate
}

// State tells whether a decode found a whole record.
type State uint8

const (
	StateComplete State = iota
	// StateEmpty means no bytes were available at the read position.
	StateEmpty
	// StateTruncated means some but not all bytes of a record were present.
	StateTruncated
)

func (s State) String() string {
	switch s {
	case StateComplete:
		return "complete"
	case StateEmpty:
		return "empty"
	case StateTruncated:
		return "truncated"
	default:
		return "unknown"
	}
}

// Record is one decoded record. Empty and truncated records carry no
// payload; check State (or IsEmpty/IsTruncated) before using the fields.
type Record struct {
	Type         Type
	Payload      []byte
	ChecksumType ChecksumType
	Checksum     uint64

	// Size is the encoded length in bytes for complete records and the
	// number of bytes seen for truncated ones.
	Size  int
	State State
}

// IsEmpty reports whether nothing was found at the read position.
func (r Record) IsEmpty() bool { return r.State == StateEmpty }

// IsTruncated reports whether the record was only partially present.
func (r Record) IsTruncated() bool { return r.State == StateTruncated }

// IsComplete reports whether the record was fully decoded.
func (r Record) IsComplete() bool { return r.State == StateComplete }

// Empty returns the empty record.
func Empty() Record { return Record{State: StateEmpty} }

// Truncated returns a truncated record that had n bytes available.
func Truncated(n int) Record { return Record{State: StateTruncated, Size: n} }

// Encode frames payload as a record of type t with the given checksum.
func Encode(t Type, payload []byte, ct ChecksumType) ([]byte, error) {
	if !t.valid() {
		return nil, thlerrors.NewInvalidArgumentError("unknown record type %d", byte(t))
	}
	sum, err := Sum(ct, payload)
	if err != nil {
		return nil, err
	}
	size := OverheadSize + len(payload)
	if size > MaxRecordSize {
		return nil, thlerrors.NewInvalidArgumentError("record of %d bytes exceeds limit %d", size, MaxRecordSize)
	}

	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:4], uint32(size))
	buf[4] = byte(t)
	copy(buf[HeaderSize:], payload)
	tail := buf[HeaderSize+len(payload):]
	tail[0] = byte(ct)
	binary.BigEndian.PutUint64(tail[1:], sum)
	return buf, nil
}

// PeekLength returns the record length announced by the first four bytes
// of buf. A length outside [MinRecordSize, MaxRecordSize] is corruption.
func PeekLength(buf []byte) (int, error) {
	if len(buf) < LengthSize {
		return 0, thlerrors.NewInvalidArgumentError("need %d bytes for length prefix, have %d", LengthSize, len(buf))
	}
	n := binary.BigEndian.Uint32(buf[:LengthSize])
	if n < MinRecordSize || n > MaxRecordSize {
		return 0, thlerrors.NewConsistencyError("invalid record length %d", n)
	}
	return int(n), nil
}

// Decode reads the record at the start of buf. It never fails for missing
// bytes: an empty buf yields an empty record and a short one a truncated
// record. With verify set, checksum failures are reported as ChecksumError
// or ChecksumTypeError. The returned payload aliases buf.
func Decode(buf []byte, verify bool) (Record, error) {
	if len(buf) == 0 {
		return Empty(), nil
	}
	if len(buf) < LengthSize {
		return Truncated(len(buf)), nil
	}
	size, err := PeekLength(buf)
	if err != nil {
		return Record{}, err
	}
	if len(buf) < size {
		return Truncated(len(buf)), nil
	}

	t := Type(buf[4])
	if !t.valid() {
		return Record{}, thlerrors.NewConsistencyError("unknown record type %d", byte(t))
	}
	payload := buf[HeaderSize : size-TrailerSize]
	tail := buf[size-TrailerSize : size]
	ct := ChecksumType(tail[0])
	stored := binary.BigEndian.Uint64(tail[1:])

	if verify {
		computed, err := Sum(ct, payload)
		if err != nil {
			return Record{}, err
		}
		if computed != stored {
			return Record{}, thlerrors.NewChecksumError(stored, computed)
		}
	}

	return Record{
		Type:         t,
		Payload:      payload,
		ChecksumType: ct,
		Checksum:     stored,
		Size:         size,
		State:        StateComplete,
	}, nil
}
