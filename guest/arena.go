package guest

import (
	"sort"
	"sync"

	domainerrors "github.com/reglet-dev/wasm-remap/domain/errors"
	"github.com/reglet-dev/wasm-remap/domain/ports"
	"github.com/reglet-dev/wasm-remap/internal/abi"
)

// DefaultArenaBase is the first offset the arena hands out. Offsets below it
// are left to static data, and offset 0 stays the null pointer.
const DefaultArenaBase = 1024

// alignment of every block handed out by the arena.
const alignment = 8

var _ ports.Allocator = (*Arena)(nil)

type allocation struct {
	size  uint32 // requested size, the buffer's capacity
	block uint32 // aligned size reserved in memory
}

type span struct {
	ptr  uint32
	size uint32
}

func (s span) end() uint64 { return uint64(s.ptr) + uint64(s.size) }

// Arena is a bump allocator with a first-fit free list over a LinearMemory.
// Freed blocks are coalesced with their neighbours and the bump pointer
// retreats when the highest block is released.
type Arena struct {
	memory *LinearMemory
	live   map[uint32]allocation
	free   []span // sorted by ptr, never adjacent
	base   uint32
	top    uint32
	total  uint64
	mu     sync.Mutex
}

// ArenaOption configures an Arena.
type ArenaOption func(*arenaConfig)

type arenaConfig struct {
	memory       *LinearMemory
	base         uint32
	initialPages uint32
	maxPages     uint32
}

func defaultArenaConfig() arenaConfig {
	return arenaConfig{
		base:         DefaultArenaBase,
		initialPages: 1,
		maxPages:     DefaultMaxPages,
	}
}

// WithMemory places the arena on an existing memory.
func WithMemory(m *LinearMemory) ArenaOption {
	return func(c *arenaConfig) {
		c.memory = m
	}
}

// WithBase sets the first offset handed out. It is rounded up to the alignment
// and never below 8 so that 0 is never returned.
func WithBase(base uint32) ArenaOption {
	return func(c *arenaConfig) {
		c.base = base
	}
}

// WithPages sets the initial and maximum page counts of a memory the arena creates.
func WithPages(initial, maxPages uint32) ArenaOption {
	return func(c *arenaConfig) {
		c.initialPages = initial
		c.maxPages = maxPages
	}
}

// NewArena creates an arena and, unless WithMemory is given, its memory.
func NewArena(opts ...ArenaOption) *Arena {
	cfg := defaultArenaConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	mem := cfg.memory
	if mem == nil {
		mem = NewLinearMemory(cfg.initialPages, cfg.maxPages)
	}

	base := alignUp(uint64(cfg.base))
	if base < alignment {
		base = alignment
	}

	return &Arena{
		memory: mem,
		live:   make(map[uint32]allocation),
		base:   uint32(base), //nolint:gosec // G115: derived from a uint32
		top:    uint32(base), //nolint:gosec // G115: derived from a uint32
	}
}

// Memory returns the memory the arena allocates from.
func (a *Arena) Memory() *LinearMemory {
	return a.memory
}

// Allocate reserves size bytes. Size 0 returns the null pointer.
func (a *Arena) Allocate(size uint32) (uint32, error) {
	if size == 0 {
		return 0, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	block := alignUp(uint64(size))

	ptr, ok := a.takeFree(block)
	if !ok {
		var err error
		ptr, err = a.bump(size, block)
		if err != nil {
			return 0, err
		}
	}

	a.live[ptr] = allocation{size: size, block: uint32(block)} //nolint:gosec // G115: block <= 4GiB checked in bump/takeFree
	a.total += uint64(size)
	return ptr, nil
}

// Deallocate releases the allocation at ptr. The pair must match a live
// allocation exactly; a double free or size mismatch changes nothing and is
// reported as an InvalidFreeError.
func (a *Arena) Deallocate(ptr, size uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	alloc, ok := a.live[ptr]
	if !ok {
		return &domainerrors.InvalidFreeError{Ptr: ptr, Size: size, Reason: domainerrors.FreeReasonUnknown}
	}
	if alloc.size != size {
		return &domainerrors.InvalidFreeError{Ptr: ptr, Size: size, Reason: domainerrors.FreeReasonSizeMismatch}
	}

	delete(a.live, ptr)
	a.total -= uint64(alloc.size)
	a.release(span{ptr: ptr, size: alloc.block})
	return nil
}

// Capacity returns the requested size of the live allocation at ptr.
func (a *Arena) Capacity(ptr uint32) (uint32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	alloc, ok := a.live[ptr]
	return alloc.size, ok
}

// View returns the first length bytes of the live allocation at ptr.
// The slice aliases memory and is invalidated by the next growth.
func (a *Arena) View(ptr, length uint32) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	alloc, ok := a.live[ptr]
	if !ok {
		return nil, &domainerrors.InvalidPointerError{Ptr: ptr}
	}
	if length > alloc.size {
		return nil, &domainerrors.CapacityError{Ptr: ptr, Capacity: alloc.size, Requested: uint64(length)}
	}
	view, ok := a.memory.Read(ptr, length)
	if !ok {
		return nil, &domainerrors.InvalidPointerError{Ptr: ptr}
	}
	return view, nil
}

// Stats returns the number of live allocations and their total requested bytes.
func (a *Arena) Stats() (count int, bytes uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live), a.total
}

// Reset releases every allocation.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.live = make(map[uint32]allocation)
	a.free = nil
	a.top = a.base
	a.total = 0
}

func (a *Arena) takeFree(block uint64) (uint32, bool) {
	for i, s := range a.free {
		if uint64(s.size) < block {
			continue
		}
		ptr := s.ptr
		if uint64(s.size) == block {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			a.free[i] = span{ptr: s.ptr + uint32(block), size: s.size - uint32(block)} //nolint:gosec // G115: block < s.size
		}
		return ptr, true
	}
	return 0, false
}

func (a *Arena) bump(size uint32, block uint64) (uint32, error) {
	end := uint64(a.top) + block
	limit := uint64(a.memory.MaxPages()) * abi.PageSize
	if end > limit {
		return 0, &domainerrors.OutOfMemoryError{Requested: size, Current: a.total, Limit: limit}
	}

	if current := uint64(a.memory.Size()); end > current {
		delta := (end - current + abi.PageSize - 1) / abi.PageSize
		if _, ok := a.memory.Grow(uint32(delta)); !ok { //nolint:gosec // G115: delta bounded by limit
			return 0, &domainerrors.OutOfMemoryError{Requested: size, Current: a.total, Limit: limit}
		}
	}

	ptr := a.top
	a.top = uint32(end) //nolint:gosec // G115: end <= limit < 4GiB
	return ptr, nil
}

// release returns a block to the free list, coalescing neighbours and
// lowering the bump pointer when the block is the highest one.
func (a *Arena) release(s span) {
	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].ptr > s.ptr })
	a.free = append(a.free, span{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = s

	if i+1 < len(a.free) && a.free[i].end() == uint64(a.free[i+1].ptr) {
		a.free[i].size += a.free[i+1].size
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	if i > 0 && a.free[i-1].end() == uint64(a.free[i].ptr) {
		a.free[i-1].size += a.free[i].size
		a.free = append(a.free[:i], a.free[i+1:]...)
	}

	if last := a.free[len(a.free)-1]; last.end() == uint64(a.top) {
		a.top = last.ptr
		a.free = a.free[:len(a.free)-1]
	}
}

func alignUp(n uint64) uint64 {
	return (n + alignment - 1) &^ (alignment - 1)
}
