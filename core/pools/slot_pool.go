package pools

// Handle identifies an allocated slot: the slot index in the low 32 bits and
// the slot's generation in the high 32 bits. A handle taken before a Release
// never resolves again, even after the index is handed out to a new owner.
type Handle uint64

// Index returns the slot index encoded in h
func (h Handle) Index() int { return int(uint32(h)) }

// Generation returns the generation encoded in h
func (h Handle) Generation() uint32 { return uint32(h >> 32) }

func makeHandle(index int, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(uint32(index)))
}

// SlotPool is a fixed-capacity pool of preallocated records. Free slots are
// kept on a stack of indices, so Allocate and Release are O(1) and no record
// is ever allocated or freed after construction.
//
// SlotPool is not safe for concurrent use; it belongs to a single event loop.
type SlotPool[T any] struct {
	slots []T
	gens  []uint32
	live  []bool
	free  []int32

	allocs   uint64
	releases uint64
	refused  uint64
}

// NewSlotPool creates a pool of capacity records. init, when non-nil, runs
// once per record at construction.
func NewSlotPool[T any](capacity int, init func(index int, v *T)) *SlotPool[T] {
	if capacity <= 0 {
		capacity = 1
	}

	p := &SlotPool[T]{
		slots: make([]T, capacity),
		gens:  make([]uint32, capacity),
		live:  make([]bool, capacity),
		free:  make([]int32, capacity),
	}

	// lowest index on top of the stack
	for i := 0; i < capacity; i++ {
		p.free[i] = int32(capacity - 1 - i)
		p.gens[i] = 1
		if init != nil {
			init(i, &p.slots[i])
		}
	}

	return p
}

// Allocate pops a free slot. ok is false when the pool is exhausted.
func (p *SlotPool[T]) Allocate() (h Handle, v *T, ok bool) {
	n := len(p.free)
	if n == 0 {
		p.refused++
		return 0, nil, false
	}

	idx := int(p.free[n-1])
	p.free = p.free[:n-1]
	p.live[idx] = true
	p.allocs++

	return makeHandle(idx, p.gens[idx]), &p.slots[idx], true
}

// Resolve returns the record for h if h still refers to a live allocation
func (p *SlotPool[T]) Resolve(h Handle) (*T, bool) {
	idx := h.Index()
	if idx >= len(p.slots) || !p.live[idx] || p.gens[idx] != h.Generation() {
		return nil, false
	}
	return &p.slots[idx], true
}

// Release returns the slot behind h to the free stack and invalidates h.
// Releasing a stale handle is a no-op and reports false.
func (p *SlotPool[T]) Release(h Handle) bool {
	if _, ok := p.Resolve(h); !ok {
		return false
	}

	idx := h.Index()
	p.live[idx] = false
	p.gens[idx]++
	if p.gens[idx] == 0 {
		p.gens[idx] = 1
	}
	p.free = append(p.free, int32(idx))
	p.releases++
	return true
}

// Each calls fn for every live allocation
func (p *SlotPool[T]) Each(fn func(h Handle, v *T)) {
	for i := range p.slots {
		if p.live[i] {
			fn(makeHandle(i, p.gens[i]), &p.slots[i])
		}
	}
}

// Active returns the number of allocated slots
func (p *SlotPool[T]) Active() int { return len(p.slots) - len(p.free) }

// Free returns the number of free slots
func (p *SlotPool[T]) Free() int { return len(p.free) }

// Cap returns the fixed capacity
func (p *SlotPool[T]) Cap() int { return len(p.slots) }

// SlotPoolStats contains pool statistics
type SlotPoolStats struct {
	Capacity int
	Active   int
	Allocs   uint64
	Releases uint64
	Refused  uint64
}

// Stats returns pool statistics
func (p *SlotPool[T]) Stats() SlotPoolStats {
	return SlotPoolStats{
		Capacity: len(p.slots),
		Active:   p.Active(),
		Allocs:   p.allocs,
		Releases: p.releases,
		Refused:  p.refused,
	}
}
