package ports

// Allocator is the guest-side arena that owns the landing zones for
// cross-boundary payloads.
type Allocator interface {
	// Allocate reserves size bytes and returns the start offset. The region never
	// overlaps another live allocation. Content is uninitialised.
	Allocate(size uint32) (uint32, error)

	// Deallocate releases an allocation. The pair must match a live allocation
	// exactly; anything else is reported, never applied.
	Deallocate(ptr, size uint32) error

	// Capacity returns the size of the live allocation starting at ptr.
	Capacity(ptr uint32) (uint32, bool)

	// View returns length bytes of the live allocation at ptr without copying.
	View(ptr, length uint32) ([]byte, error)
}
