package event

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
)

// Field numbers of the event wire format. The payload of a REPLICATION_EVENT
// record is a protobuf message with these fields; readers skip unknown ones.
const (
	fieldSeqno        protowire.Number = 1
	fieldFragno       protowire.Number = 2
	fieldLastFrag     protowire.Number = 3
	fieldEpoch        protowire.Number = 4
	fieldSourceID     protowire.Number = 5
	fieldEventID      protowire.Number = 6
	fieldShardID      protowire.Number = 7
	fieldSourceTstamp protowire.Number = 8
	fieldKind         protowire.Number = 9
	fieldEndSeqno     protowire.Number = 10
	fieldPayload      protowire.Number = 15
)

// Marshal encodes the event as a record payload.
func (e *Event) Marshal() []byte {
	b := make([]byte, 0, 64+len(e.SourceID)+len(e.EventID)+len(e.ShardID)+len(e.Payload))
	b = appendVarint(b, fieldSeqno, uint64(e.Seqno))
	b = appendVarint(b, fieldFragno, uint64(e.Fragno))
	b = appendVarint(b, fieldLastFrag, protowire.EncodeBool(e.LastFrag))
	b = appendVarint(b, fieldEpoch, uint64(e.Epoch))
	if e.SourceID != "" {
		b = appendString(b, fieldSourceID, e.SourceID)
	}
	if e.EventID != "" {
		b = appendString(b, fieldEventID, e.EventID)
	}
	if e.ShardID != "" {
		b = appendString(b, fieldShardID, e.ShardID)
	}
	if !e.SourceTstamp.IsZero() {
		b = appendVarint(b, fieldSourceTstamp, uint64(e.SourceTstamp.UnixNano()))
	}
	if e.Kind != KindEvent {
		b = appendVarint(b, fieldKind, uint64(e.Kind))
		b = appendVarint(b, fieldEndSeqno, uint64(e.EndSeqno))
	}
	if len(e.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Payload)
	}
	return b
}

// Unmarshal decodes a record payload. The returned event owns its payload.
func Unmarshal(b []byte) (*Event, error) {
	ev := &Event{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, wireError(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && isVarintField(num):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, wireError(protowire.ParseError(n))
			}
			b = b[n:]
			ev.setVarint(num, v)
		case typ == protowire.BytesType && isBytesField(num):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, wireError(protowire.ParseError(n))
			}
			b = b[n:]
			ev.setBytes(num, v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, wireError(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return ev, nil
}

func (e *Event) setVarint(num protowire.Number, v uint64) {
	switch num {
	case fieldSeqno:
		e.Seqno = int64(v)
	case fieldFragno:
		e.Fragno = int16(v)
	case fieldLastFrag:
		e.LastFrag = protowire.DecodeBool(v)
	case fieldEpoch:
		e.Epoch = int64(v)
	case fieldSourceTstamp:
		e.SourceTstamp = time.Unix(0, int64(v)).UTC()
	case fieldKind:
		e.Kind = Kind(v)
	case fieldEndSeqno:
		e.EndSeqno = int64(v)
	}
}

func (e *Event) setBytes(num protowire.Number, v []byte) {
	switch num {
	case fieldSourceID:
		e.SourceID = string(v)
	case fieldEventID:
		e.EventID = string(v)
	case fieldShardID:
		e.ShardID = string(v)
	case fieldPayload:
		e.Payload = append([]byte(nil), v...)
	}
}

func isVarintField(num protowire.Number) bool {
	switch num {
	case fieldSeqno, fieldFragno, fieldLastFrag, fieldEpoch, fieldSourceTstamp, fieldKind, fieldEndSeqno:
		return true
	}
	return false
}

func isBytesField(num protowire.Number) bool {
	switch num {
	case fieldSourceID, fieldEventID, fieldShardID, fieldPayload:
		return true
	}
	return false
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func wireError(err error) error {
	return &thlerrors.LogError{
		Code:    thlerrors.ErrConsistency,
		Message: "malformed event header",
		Seqno:   thlerrors.NoSeqno,
		Err:     err,
	}
}
