package guest

import "github.com/reglet-dev/wasm-remap/internal/abi"

// MaxPages is the largest page count whose byte size still fits in 32 bits.
const MaxPages = 65535

// DefaultMaxPages bounds simulated memories created without an explicit limit (16 MiB).
const DefaultMaxPages = 256

// LinearMemory simulates a guest's contiguous linear memory. Growing it
// reallocates the backing array, so slices returned by Read before a Grow
// no longer alias live memory.
type LinearMemory struct {
	data     []byte
	maxPages uint32
}

// NewLinearMemory creates a memory of initialPages that can grow to maxPages.
func NewLinearMemory(initialPages, maxPages uint32) *LinearMemory {
	if maxPages == 0 || maxPages > MaxPages {
		maxPages = MaxPages
	}
	if initialPages > maxPages {
		initialPages = maxPages
	}
	return &LinearMemory{
		data:     make([]byte, int(initialPages)*abi.PageSize),
		maxPages: maxPages,
	}
}

// Read returns a view of byteCount bytes at offset.
func (m *LinearMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(byteCount)
	if end > uint64(len(m.data)) {
		return nil, false
	}
	return m.data[offset:end:end], true
}

// Write copies v into memory at offset.
func (m *LinearMemory) Write(offset uint32, v []byte) bool {
	end := uint64(offset) + uint64(len(v))
	if end > uint64(len(m.data)) {
		return false
	}
	copy(m.data[offset:end], v)
	return true
}

// Size returns the memory size in bytes.
func (m *LinearMemory) Size() uint32 {
	return uint32(len(m.data)) //nolint:gosec // G115: bounded by MaxPages
}

// Pages returns the memory size in pages.
func (m *LinearMemory) Pages() uint32 {
	return m.Size() / abi.PageSize
}

// MaxPages returns the growth limit in pages.
func (m *LinearMemory) MaxPages() uint32 {
	return m.maxPages
}

// Grow adds deltaPages and returns the previous page count.
func (m *LinearMemory) Grow(deltaPages uint32) (uint32, bool) {
	prev := m.Pages()
	if deltaPages == 0 {
		return prev, true
	}
	if uint64(prev)+uint64(deltaPages) > uint64(m.maxPages) {
		return prev, false
	}
	grown := make([]byte, int(prev+deltaPages)*abi.PageSize)
	copy(grown, m.data)
	m.data = grown
	return prev, true
}
