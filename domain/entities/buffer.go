package entities

import "fmt"

// BufferHandle identifies a region of guest linear memory obtained from allocate.
// The side that most recently allocated it owns it until deallocate is called.
type BufferHandle struct {
	Ptr      uint32 `json:"ptr"`
	Capacity uint32 `json:"capacity"`
}

// IsNull reports whether the handle refers to no memory.
func (b BufferHandle) IsNull() bool {
	return b.Ptr == 0
}

// Fits reports whether n bytes can be written at the start of the buffer.
func (b BufferHandle) Fits(n int) bool {
	return n >= 0 && uint64(n) <= uint64(b.Capacity)
}

// End returns the first offset past the buffer.
func (b BufferHandle) End() uint64 {
	return uint64(b.Ptr) + uint64(b.Capacity)
}

// Overlaps reports whether two handles share at least one byte.
func (b BufferHandle) Overlaps(other BufferHandle) bool {
	if b.Capacity == 0 || other.Capacity == 0 {
		return false
	}
	return uint64(b.Ptr) < other.End() && uint64(other.Ptr) < b.End()
}

func (b BufferHandle) String() string {
	return fmt.Sprintf("0x%x+%d", b.Ptr, b.Capacity)
}
