// Package bufpool provides a tiered pool of read buffers for log records.
//
// Cursors and segment scans read every record into a buffer that is only
// needed until the record is decoded. Pooling those buffers keeps a busy
// tailer from allocating once per record.
//
// Three size classes cover the usual record sizes:
//   - Small (1KiB): single-row changes and rotate markers
//   - Medium (64KiB): multi-row transactions
//   - Large (1MiB): bulk fragments
//
// Larger buffers are allocated directly and never pooled.
//
// Usage:
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
package bufpool

import (
	"sync"
)

// Default size classes.
const (
	DefaultSmallSize  = 1 << 10
	DefaultMediumSize = 64 << 10
	DefaultLargeSize  = 1 << 20
)

// Pool is a set of sync.Pools, one per size class.
type Pool struct {
	classes [3]class
}

type class struct {
	size int
	pool sync.Pool
}

// Config sets the size classes of a Pool. Zero values use the defaults.
type Config struct {
	SmallSize  int
	MediumSize int
	LargeSize  int
}

// NewPool creates a pool. The class sizes must be increasing.
func NewPool(cfg Config) *Pool {
	sizes := [3]int{cfg.SmallSize, cfg.MediumSize, cfg.LargeSize}
	defaults := [3]int{DefaultSmallSize, DefaultMediumSize, DefaultLargeSize}

	p := &Pool{}
	for i := range p.classes {
		size := sizes[i]
		if size <= 0 {
			size = defaults[i]
		}
		c := &p.classes[i]
		c.size = size
		c.pool.New = func() any {
			buf := make([]byte, size)
			return &buf
		}
	}
	return p
}

// Get returns a slice of length size. Its capacity is that of the size
// class serving it, or exactly size when no class is large enough.
func (p *Pool) Get(size int) []byte {
	for i := range p.classes {
		c := &p.classes[i]
		if size <= c.size {
			buf := *c.pool.Get().(*[]byte)
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns a buffer obtained from Get. Buffers whose capacity matches
// no size class, including nil, are dropped.
func (p *Pool) Put(buf []byte) {
	capacity := cap(buf)
	for i := range p.classes {
		c := &p.classes[i]
		if capacity == c.size {
			full := buf[:capacity]
			c.pool.Put(&full)
			return
		}
	}
}

var globalPool = NewPool(Config{})

// Get returns a buffer of length size from the shared pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the shared pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}
