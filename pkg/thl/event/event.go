// Package event defines the REPLICATION_EVENT record: a header describing
// the position and origin of a replicated change plus the opaque bytes of
// the change itself.
package event

import (
	"fmt"
	"time"

	thlerrors "github.com/henricavalcante/tungsten-replicator-sub005/pkg/thl/errors"
)

// Kind distinguishes ordinary events from filtered ranges.
type Kind uint8

const (
	// KindEvent is a single stored transaction fragment.
	KindEvent Kind = iota
	// KindFiltered stands for the closed interval [Seqno, EndSeqno] of
	// sequence numbers that were skipped rather than stored.
	KindFiltered
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindFiltered:
		return "filtered"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Header is the metadata stored with every replication event.
type Header struct {
	Seqno        int64
	Fragno       int16
	LastFrag     bool
	Epoch        int64
	SourceID     string
	EventID      string
	ShardID      string
	SourceTstamp time.Time

	Kind Kind
	// EndSeqno is the last sequence number of a filtered range. It is
	// unused for KindEvent.
	EndSeqno int64
}

// Event is a header plus the serialized domain event.
type Event struct {
	Header
	Payload []byte
}

// NewFilteredRange builds the header of a record covering [from, to].
func NewFilteredRange(from, to, epoch int64, sourceID, eventID string) Header {
	return Header{
		Seqno:    from,
		EndSeqno: to,
		LastFrag: true,
		Epoch:    epoch,
		SourceID: sourceID,
		EventID:  eventID,
		Kind:     KindFiltered,
	}
}

// IsFiltered reports whether the header describes a filtered range.
func (h *Header) IsFiltered() bool {
	return h.Kind == KindFiltered
}

// LastSeqno is the highest sequence number the record accounts for.
func (h *Header) LastSeqno() int64 {
	if h.IsFiltered() {
		return h.EndSeqno
	}
	return h.Seqno
}

// EndsTransaction reports whether no further fragment may follow this
// record for its sequence number.
func (h *Header) EndsTransaction() bool {
	return h.LastFrag || h.IsFiltered()
}

// Covers reports whether seqno is addressed by this record.
func (h *Header) Covers(seqno int64) bool {
	return seqno >= h.Seqno && seqno <= h.LastSeqno()
}

// Before reports whether the record sorts strictly before the position
// (seqno, fragno). A filtered range is before the position only when its
// whole interval is.
func (h *Header) Before(seqno int64, fragno int16) bool {
	if h.IsFiltered() {
		return h.EndSeqno < seqno
	}
	if h.Seqno != seqno {
		return h.Seqno < seqno
	}
	return h.Fragno < fragno
}

// Matches reports whether the record is exactly the position
// (seqno, fragno), treating any seqno inside a filtered range as a match.
func (h *Header) Matches(seqno int64, fragno int16) bool {
	if h.IsFiltered() {
		return h.Covers(seqno)
	}
	return h.Seqno == seqno && h.Fragno == fragno
}

// Validate checks the header in isolation.
func (h *Header) Validate() error {
	if h.Seqno < 0 {
		return thlerrors.NewInvalidArgumentError("negative seqno %d", h.Seqno)
	}
	if h.Fragno < 0 {
		return thlerrors.NewInvalidArgumentError("negative fragno %d", h.Fragno).WithSeqno(h.Seqno)
	}
	switch h.Kind {
	case KindEvent:
	case KindFiltered:
		if h.EndSeqno < h.Seqno {
			return thlerrors.NewInvalidArgumentError("filtered range [%d, %d] is inverted", h.Seqno, h.EndSeqno).
				WithSeqno(h.Seqno)
		}
		if h.Fragno != 0 || !h.LastFrag {
			return thlerrors.NewInvalidArgumentError("filtered range must be a single last fragment").
				WithSeqno(h.Seqno)
		}
	default:
		return thlerrors.NewInvalidArgumentError("unknown event kind %d", h.Kind).WithSeqno(h.Seqno)
	}
	return nil
}

// String renders the position of the header for logs and errors.
func (h Header) String() string {
	if h.IsFiltered() {
		return fmt.Sprintf("filtered[%d-%d]", h.Seqno, h.EndSeqno)
	}
	return fmt.Sprintf("%d/%d(last=%t)", h.Seqno, h.Fragno, h.LastFrag)
}

// CheckFollows enforces the ordering of a writer's stream: prev is the last
// record written (nil for an empty log) and h the record about to be
// written. Sequence numbers never decrease, fragment numbers start at 0 and
// strictly increase, and nothing follows a last fragment of the same seqno.
func CheckFollows(prev *Header, h *Header) error {
	if prev == nil {
		if h.Fragno != 0 {
			return thlerrors.NewConsistencyError("first fragment of seqno %d has fragno %d", h.Seqno, h.Fragno).
				WithSeqno(h.Seqno)
		}
		return nil
	}

	last := prev.LastSeqno()
	switch {
	case h.Seqno < prev.Seqno, h.Seqno <= last && prev.IsFiltered():
		return thlerrors.NewConsistencyError("seqno %d is lower than last stored %s", h.Seqno, prev).
			WithSeqno(h.Seqno)
	case h.Seqno == prev.Seqno:
		if prev.EndsTransaction() {
			return thlerrors.NewConsistencyError("seqno %d already ended with last fragment %d", h.Seqno, prev.Fragno).
				WithSeqno(h.Seqno)
		}
		if h.IsFiltered() {
			return thlerrors.NewConsistencyError("filtered range cannot continue open transaction %d", h.Seqno).
				WithSeqno(h.Seqno)
		}
		if h.Fragno <= prev.Fragno {
			return thlerrors.NewConsistencyError("fragno %d does not follow fragno %d", h.Fragno, prev.Fragno).
				WithSeqno(h.Seqno)
		}
	default:
		if h.Fragno != 0 {
			return thlerrors.NewConsistencyError("first fragment of seqno %d has fragno %d", h.Seqno, h.Fragno).
				WithSeqno(h.Seqno)
		}
	}
	return nil
}
