package record

import (
	"encoding/binary"

	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
)

const rotatePayloadSize = 16

// Rotate is the payload of a ROTATE_MARKER record. It names the segment
// that follows and the sequence number that segment starts at, so a
// crash between writing the marker and creating the file can be repaired.
type Rotate struct {
	NextIndex     int64
	NextBaseSeqno int64
}

// EncodeRotate frames a rotate marker.
func EncodeRotate(r Rotate, ct ChecksumType) ([]byte, error) {
	payload := make([]byte, rotatePayloadSize)
	binary.BigEndian.PutUint64(payload[0:8], uint64(r.NextIndex))
	binary.BigEndian.PutUint64(payload[8:16], uint64(r.NextBaseSeqno))
	return Encode(TypeRotate, payload, ct)
}

// DecodeRotate parses the payload of a TypeRotate record.
func DecodeRotate(rec Record) (Rotate, error) {
	if rec.Type != TypeRotate {
		return Rotate{}, thlerrors.NewInvalidArgumentError("record type %s is not a rotate marker", rec.Type)
	}
	if len(rec.Payload) != rotatePayloadSize {
		return Rotate{}, thlerrors.NewConsistencyError("rotate marker payload is %d bytes, want %d",
			len(rec.Payload), rotatePayloadSize)
	}
	return Rotate{
		NextIndex:     int64(binary.BigEndian.Uint64(rec.Payload[0:8])),
		NextBaseSeqno: int64(binary.BigEndian.Uint64(rec.Payload[8:16])),
	}, nil
}
