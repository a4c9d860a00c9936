//go:build wasip1

package guest

import (
	"sync"
	"unsafe"

	domainerrors "github.com/reglet-dev/wasm-remap/domain/errors"
	"github.com/reglet-dev/wasm-remap/domain/ports"
)

// DefaultHeapLimit caps the bytes a Heap keeps pinned at once.
const DefaultHeapLimit = 100 * 1024 * 1024 // 100 MB

var _ ports.Allocator = (*Heap)(nil)

// Heap allocates from the Go heap of a wasip1 module. Every allocation is
// pinned in a map so the collector keeps it alive until deallocate, and its
// address in linear memory is the pointer handed to the host.
type Heap struct {
	ptrs  map[uint32][]byte
	total int
	limit int
	mu    sync.Mutex
}

// NewHeap creates a Heap that refuses to pin more than limit bytes.
func NewHeap(limit int) *Heap {
	if limit <= 0 {
		limit = DefaultHeapLimit
	}
	return &Heap{
		ptrs:  make(map[uint32][]byte),
		limit: limit,
	}
}

// Allocate pins a new slice of size bytes and returns its address.
func (h *Heap) Allocate(size uint32) (uint32, error) {
	if size == 0 {
		return 0, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.total+int(size) > h.limit {
		return 0, &domainerrors.OutOfMemoryError{Requested: size, Current: uint64(h.total), Limit: uint64(h.limit)}
	}

	buf := make([]byte, size)
	//nolint:gosec // G103: wasm32 linear memory offset of a pinned slice
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0])))

	h.ptrs[ptr] = buf
	h.total += int(size)
	return ptr, nil
}

// Deallocate unpins the allocation at ptr.
func (h *Heap) Deallocate(ptr, size uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf, ok := h.ptrs[ptr]
	if !ok {
		return &domainerrors.InvalidFreeError{Ptr: ptr, Size: size, Reason: domainerrors.FreeReasonUnknown}
	}
	if uint32(len(buf)) != size {
		return &domainerrors.InvalidFreeError{Ptr: ptr, Size: size, Reason: domainerrors.FreeReasonSizeMismatch}
	}

	delete(h.ptrs, ptr)
	h.total -= len(buf)
	return nil
}

// Capacity returns the size of the pinned slice at ptr.
func (h *Heap) Capacity(ptr uint32) (uint32, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf, ok := h.ptrs[ptr]
	return uint32(len(buf)), ok
}

// View returns the first length bytes of the pinned slice at ptr.
func (h *Heap) View(ptr, length uint32) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf, ok := h.ptrs[ptr]
	if !ok {
		return nil, &domainerrors.InvalidPointerError{Ptr: ptr}
	}
	if int(length) > len(buf) {
		return nil, &domainerrors.CapacityError{Ptr: ptr, Capacity: uint32(len(buf)), Requested: uint64(length)}
	}
	return buf[:length:length], nil
}

// Stats returns the number of pinned allocations and their total size.
func (h *Heap) Stats() (count int, bytes uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ptrs), uint64(h.total)
}
