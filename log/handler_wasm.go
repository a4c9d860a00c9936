//go:build wasip1

package log

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"unsafe"

	"github.com/reglet-dev/wasm-remap/internal/abi"
)

//go:wasmimport remap_host log_message
//nolint:revive // intentional snake_case to match WASM import convention
func host_log_message(messagePacked uint64)

// Handle serializes a slog.Record and sends it to the host via a host function.
func (h *WasmLogHandler) Handle(_ context.Context, record slog.Record) error {
	requestBytes, err := json.Marshal(h.newLogMessage(record))
	if err != nil {
		fmt.Printf("remap: failed to marshal log message for host: %v, original: %s\n", err, record.Message)
		return nil
	}

	// The host copies the bytes before returning, so the Go-owned slice only
	// has to stay alive for the duration of the call.
	ptr := uint32(uintptr(unsafe.Pointer(unsafe.SliceData(requestBytes)))) //nolint:gosec // wasm32 addresses fit in 32 bits
	host_log_message(abi.PackPtrLen(ptr, uint32(len(requestBytes))))       //nolint:gosec // bounded by guest memory
	runtime.KeepAlive(requestBytes)
	return nil
}

func init() {
	slog.SetDefault(slog.New(NewHandler()))
}
