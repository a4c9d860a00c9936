package ports

import "context"

// Memory is a guest linear memory as the embedding engine exposes it.
// Slices returned by Read alias the backing storage and become invalid once the
// guest grows its memory; callers copy before the next guest call.
type Memory interface {
	// Read returns byteCount bytes at offset, or false if out of range.
	Read(offset, byteCount uint32) ([]byte, bool)

	// Write copies v to offset, or returns false if out of range.
	Write(offset uint32, v []byte) bool

	// Size returns the current size in bytes.
	Size() uint32
}

// Module is an instantiated guest module.
type Module interface {
	// Name returns the instance name.
	Name() string

	// Call invokes an exported function with integer arguments.
	Call(ctx context.Context, export string, params ...uint64) ([]uint64, error)

	// HasExport reports whether an exported function exists.
	HasExport(export string) bool

	// Memory returns the current view of the exported memory, or nil.
	Memory() Memory

	// Close releases the instance.
	Close(ctx context.Context) error
}
