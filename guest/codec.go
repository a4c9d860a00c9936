package guest

import (
	"unicode/utf8"

	domainerrors "github.com/reglet-dev/wasm-remap/domain/errors"
	"github.com/reglet-dev/wasm-remap/domain/ports"
	"github.com/reglet-dev/wasm-remap/internal/abi"
)

// Decode reads length bytes at ptr as UTF-8 and returns an owned copy.
// The pointer must start a live allocation of at least length bytes.
func Decode(a ports.Allocator, ptr, length uint32) (string, error) {
	if length == 0 {
		return "", nil
	}
	view, err := a.View(ptr, length)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(view) {
		return "", &domainerrors.DecodeError{Ptr: ptr, Length: length, Offset: firstInvalid(view)}
	}
	return string(view), nil
}

// DecodeBytes is Decode without the UTF-8 check.
func DecodeBytes(a ports.Allocator, ptr, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	view, err := a.View(ptr, length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

// EncodeInto overwrites the allocation at ptr with text and returns the new
// length. Text longer than the allocation's capacity is rejected with a
// CapacityError and nothing is written.
func EncodeInto(a ports.Allocator, text string, ptr uint32) (uint32, error) {
	capacity, ok := a.Capacity(ptr)
	if !ok {
		if len(text) == 0 {
			return 0, nil
		}
		return 0, &domainerrors.InvalidPointerError{Ptr: ptr}
	}
	if uint64(len(text)) > uint64(capacity) {
		return 0, &domainerrors.CapacityError{Ptr: ptr, Capacity: capacity, Requested: uint64(len(text))}
	}

	n := uint32(len(text)) //nolint:gosec // G115: n <= capacity
	if n == 0 {
		return 0, nil
	}
	view, err := a.View(ptr, n)
	if err != nil {
		return 0, err
	}
	copy(view, text)
	return n, nil
}

// EncodeNew copies data into a fresh allocation and returns it packed as
// (ptr << 32 | len). Ownership of the allocation passes to the caller.
func EncodeNew(a ports.Allocator, data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, nil
	}
	size := uint32(len(data)) //nolint:gosec // G115: payloads are far below 4GiB
	ptr, err := a.Allocate(size)
	if err != nil {
		return 0, err
	}
	view, err := a.View(ptr, size)
	if err != nil {
		_ = a.Deallocate(ptr, size)
		return 0, err
	}
	copy(view, data)
	return abi.PackPtrLen(ptr, size), nil
}

func firstInvalid(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(b)
}
