package disklog

import (
	"github.com/dgraph-io/ristretto/v2"
)

// position addresses a byte offset inside a segment.
type position struct {
	index  int64
	offset int64
}

// after reports whether p is strictly later in the log than o.
func (p position) after(o position) bool {
	if p.index != o.index {
		return p.index > o.index
	}
	return p.offset > o.offset
}

// seqIndex maps the seqno of a transaction's first fragment to where that
// fragment was written. Entries may be evicted at any time, so a miss only
// means the caller has to scan. A nil *seqIndex is a valid, always-empty
// index.
type seqIndex struct {
	cache *ristretto.Cache[int64, position]
}

func newSeqIndex(size int64) (*seqIndex, error) {
	if size <= 0 {
		return nil, nil
	}
	cache, err := ristretto.NewCache(&ristretto.Config[int64, position]{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &seqIndex{cache: cache}, nil
}

func (x *seqIndex) put(seqno int64, pos position) {
	if x == nil {
		return
	}
	x.cache.Set(seqno, pos, 1)
}

// get returns the position of seqno. Entries pointing below firstIndex
// belong to purged segments and are reported as misses.
func (x *seqIndex) get(seqno, firstIndex int64) (position, bool) {
	if x == nil {
		return position{}, false
	}
	pos, ok := x.cache.Get(seqno)
	if !ok || pos.index < firstIndex {
		return position{}, false
	}
	return pos, true
}

func (x *seqIndex) clear() {
	if x == nil {
		return
	}
	x.cache.Clear()
}

func (x *seqIndex) close() {
	if x == nil {
		return
	}
	x.cache.Close()
}
