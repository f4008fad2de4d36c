package pools

import (
	"sort"
	"sync"
	"sync/atomic"
)

// BytePool is a multi-tiered byte slice pool for different size classes.
// It serves the blocking server's per-connection request and chunk buffers;
// the event loop owns its buffers through SlotPool and never touches it.
type BytePool struct {
	pools []*sync.Pool
	sizes []int

	gets   atomic.Uint64
	misses atomic.Uint64
}

// Buffer sizes for the request and file-chunk workloads
var defaultSizes = []int{
	512,   // error responses and headers
	4096,  // request buffers
	32768, // file chunks
	65536, // large chunks
}

// NewBytePool creates a new byte pool with standard size tiers
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a byte pool with custom size tiers
func NewBytePoolWithSizes(sizes []int) *BytePool {
	sorted := append([]int(nil), sizes...)
	sort.Ints(sorted)

	bp := &BytePool{
		pools: make([]*sync.Pool, len(sorted)),
		sizes: sorted,
	}

	for i, size := range sorted {
		size := size
		bp.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, size)
				return &buf
			},
		}
	}

	return bp
}

// Get returns a buffer pointer whose slice has length size. Sizes above the
// largest tier are allocated directly and dropped on Put.
func (bp *BytePool) Get(size int) *[]byte {
	bp.gets.Add(1)
	for i, poolSize := range bp.sizes {
		if size <= poolSize {
			buf := bp.pools[i].Get().(*[]byte)
			*buf = (*buf)[:size]
			return buf
		}
	}

	bp.misses.Add(1)
	buf := make([]byte, size)
	return &buf
}

// Put returns a buffer pointer to the pool
func (bp *BytePool) Put(buf *[]byte) {
	if buf == nil {
		return
	}

	capacity := cap(*buf)
	for i, poolSize := range bp.sizes {
		if capacity == poolSize {
			*buf = (*buf)[:capacity]
			bp.pools[i].Put(buf)
			return
		}
	}
	// Not from pool, let GC handle it
}

// BytePoolStats contains pool statistics
type BytePoolStats struct {
	Gets   uint64
	Misses uint64
}

// Stats returns pool statistics
func (bp *BytePool) Stats() BytePoolStats {
	return BytePoolStats{
		Gets:   bp.gets.Load(),
		Misses: bp.misses.Load(),
	}
}
