package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/reglet-dev/wasm-remap/domain/entities"
	domainerrors "github.com/reglet-dev/wasm-remap/domain/errors"
	"github.com/reglet-dev/wasm-remap/domain/ports"
	"github.com/reglet-dev/wasm-remap/internal/abi"
)

// Buffer is a guest allocation the host owns for one exchange. Release
// returns it to the guest; it is safe to call more than once.
type Buffer struct {
	inst     *Instance
	handle   entities.BufferHandle
	released bool
}

// Ptr returns the guest address of the buffer.
func (b *Buffer) Ptr() uint32 {
	return b.handle.Ptr
}

// Capacity returns the allocated size.
func (b *Buffer) Capacity() uint32 {
	return b.handle.Capacity
}

// Write copies data to the start of the buffer.
func (b *Buffer) Write(data []byte) error {
	if !b.handle.Fits(len(data)) {
		return &domainerrors.CapacityError{Ptr: b.handle.Ptr, Capacity: b.handle.Capacity, Requested: uint64(len(data))}
	}
	mem, err := b.inst.memory()
	if err != nil {
		return err
	}
	if !mem.Write(b.handle.Ptr, data) {
		return fmt.Errorf("host: write %d bytes to %s: outside guest memory", len(data), b.handle)
	}
	return nil
}

// Read copies n bytes from the start of the buffer. The memory view is taken
// fresh, so it is valid even if the guest grew its memory during the call.
func (b *Buffer) Read(n uint32) ([]byte, error) {
	if n > b.handle.Capacity {
		return nil, &domainerrors.CapacityError{Ptr: b.handle.Ptr, Capacity: b.handle.Capacity, Requested: uint64(n)}
	}
	mem, err := b.inst.memory()
	if err != nil {
		return nil, err
	}
	data, ok := mem.Read(b.handle.Ptr, n)
	if !ok {
		return nil, fmt.Errorf("host: read %d bytes from %s: outside guest memory", n, b.handle)
	}
	return bytes.Clone(data), nil
}

// Release deallocates the buffer. After a trap the instance is gone and
// Release does nothing.
func (b *Buffer) Release(ctx context.Context) error {
	if b.released {
		return nil
	}
	b.released = true
	if b.inst.closed {
		return nil
	}
	return b.inst.free(context.WithoutCancel(ctx), b.handle)
}

// allocate reserves a guest buffer of capacity bytes.
func (i *Instance) allocate(ctx context.Context, capacity uint32) (*Buffer, error) {
	ptr, err := i.callU32(ctx, abi.ExportAllocate, capacity)
	if err != nil {
		return nil, err
	}
	if ptr == 0 && capacity > 0 {
		return nil, &domainerrors.OutOfMemoryError{Requested: capacity}
	}
	i.logger.DebugContext(ctx, "host: allocated buffer", "ptr", ptr, "len", capacity)
	return &Buffer{inst: i, handle: entities.BufferHandle{Ptr: ptr, Capacity: capacity}}, nil
}

// adopt takes ownership of a buffer the guest allocated.
func (i *Instance) adopt(handle entities.BufferHandle) *Buffer {
	return &Buffer{inst: i, handle: handle}
}

// free deallocates handle. Guests that report a status have it checked;
// a deallocate export without results is accepted.
func (i *Instance) free(ctx context.Context, handle entities.BufferHandle) error {
	results, err := i.call(ctx, abi.ExportDeallocate, uint64(handle.Ptr), uint64(handle.Capacity))
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return nil
	}
	status := uint32(results[0]) //nolint:gosec // G115: i32 result
	if status != abi.FreeOK {
		i.logger.ErrorContext(ctx, "host: guest rejected deallocate",
			"ptr", handle.Ptr, "len", handle.Capacity, "status", abi.FreeStatusText(status))
		return &domainerrors.InvalidFreeError{Reason: abi.FreeStatusText(status), Ptr: handle.Ptr, Size: handle.Capacity}
	}
	return nil
}

// withBuffer runs fn with input written to a fresh buffer of
// max(len(input), BufferCapacity) bytes. The buffer is released on every path.
func (i *Instance) withBuffer(ctx context.Context, input []byte, fn func(*Buffer) error) (err error) {
	if uint64(len(input)) > uint64(^uint32(0)) {
		return &domainerrors.CapacityError{Capacity: ^uint32(0), Requested: uint64(len(input))}
	}
	capacity := max(uint32(len(input)), i.cfg.BufferCapacity) //nolint:gosec // G115: checked above

	buf, err := i.allocate(ctx, capacity)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := buf.Release(ctx); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	if err := buf.Write(input); err != nil {
		return err
	}
	return fn(buf)
}

// call invokes an export under the call timeout. Any engine error other
// than a missing export is a trap and closes the instance.
func (i *Instance) call(ctx context.Context, export string, params ...uint64) ([]uint64, error) {
	if i.closed {
		return nil, domainerrors.ErrInstanceClosed
	}

	callCtx := ctx
	if i.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, i.cfg.CallTimeout)
		defer cancel()
	}

	results, err := i.module.Call(callCtx, export, params...)
	if err == nil {
		return results, nil
	}

	var missing *domainerrors.MissingExportError
	if errors.As(err, &missing) {
		return nil, err
	}

	i.closed = true
	i.logger.ErrorContext(ctx, "host: guest call trapped", "export", export, "error", err)
	if cerr := i.module.Close(context.WithoutCancel(ctx)); cerr != nil {
		i.logger.WarnContext(ctx, "host: close after trap failed", "error", cerr)
	}
	return nil, &domainerrors.TrapError{Err: err, Export: export}
}

// callU32 invokes an export with i32 parameters and a single i32 result.
func (i *Instance) callU32(ctx context.Context, export string, params ...uint32) (uint32, error) {
	args := make([]uint64, len(params))
	for n, p := range params {
		args[n] = uint64(p)
	}
	results, err := i.call(ctx, export, args...)
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, &domainerrors.ResponseError{Export: export, Err: errors.New("no result")}
	}
	return uint32(results[0]), nil //nolint:gosec // G115: i32 result
}

func (i *Instance) memory() (ports.Memory, error) {
	mem := i.module.Memory()
	if mem == nil {
		return nil, &domainerrors.MissingExportError{Name: abi.ExportMemory}
	}
	return mem, nil
}

func requestLogger(logger *slog.Logger, export, requestID string) *slog.Logger {
	return logger.With("export", export, "request_id", requestID)
}
