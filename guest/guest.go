package guest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/reglet-dev/wasm-remap/domain/entities"
	domainerrors "github.com/reglet-dev/wasm-remap/domain/errors"
	"github.com/reglet-dev/wasm-remap/domain/ports"
	"github.com/reglet-dev/wasm-remap/internal/abi"
)

// ReturnStringSuffix is appended by ReturnString after the echoed input.
const ReturnStringSuffix = "This string was written by the guest module"

// ScriptHandler turns a run_script request into a response envelope.
// Both methods always return a serialized envelope.
type ScriptHandler interface {
	Handle(ctx context.Context, request []byte) []byte
	HandleError(err error) []byte
}

// Guest implements the exported operations over an allocator. Each method has
// the integer-only signature of the corresponding wasm export.
type Guest struct {
	alloc   ports.Allocator
	scripts ScriptHandler
	logger  *slog.Logger
}

// Option configures a Guest.
type Option func(*Guest)

// WithLogger sets the logger used for boundary failures.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guest) {
		g.logger = l
	}
}

// WithScriptHandler sets the handler behind run_script.
func WithScriptHandler(h ScriptHandler) Option {
	return func(g *Guest) {
		g.scripts = h
	}
}

// New creates a Guest over alloc.
func New(alloc ports.Allocator, opts ...Option) *Guest {
	g := &Guest{alloc: alloc}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Allocator returns the allocator behind the exports.
func (g *Guest) Allocator() ports.Allocator {
	return g.alloc
}

// Allocate implements the allocate export. Running out of memory is not
// recoverable across the boundary, so it panics and the engine traps.
func (g *Guest) Allocate(size uint32) uint32 {
	ptr, err := g.alloc.Allocate(size)
	if err != nil {
		panic(fmt.Sprintf("guest: allocate(%d): %v", size, err))
	}
	return ptr
}

// Deallocate implements the deallocate export and returns an abi.Free* status.
func (g *Guest) Deallocate(ptr, size uint32) uint32 {
	err := g.alloc.Deallocate(ptr, size)
	if err == nil {
		return abi.FreeOK
	}

	g.logger.Warn("guest: rejected deallocate", "ptr", ptr, "size", size, "error", err)
	var freeErr *domainerrors.InvalidFreeError
	if errors.As(err, &freeErr) && freeErr.Reason == domainerrors.FreeReasonSizeMismatch {
		return abi.FreeSizeMismatch
	}
	return abi.FreeUnknown
}

// Add implements the add export. Addition wraps at 32 bits.
func (g *Guest) Add(a, b uint32) uint32 {
	return a + b
}

// EchoString implements the echo_string smoke test: it returns ptr + length.
func (g *Guest) EchoString(ptr, length uint32) uint32 {
	return ptr + length
}

// ReadString decodes the input and returns its length, or 0 if it cannot be decoded.
func (g *Guest) ReadString(ptr, length uint32) uint32 {
	s, err := Decode(g.alloc, ptr, length)
	if err != nil {
		g.logger.Warn("guest: read_string decode failed", "ptr", ptr, "len", length, "error", err)
		return 0
	}
	return uint32(len(s)) //nolint:gosec // G115: len(s) == length
}

// ReturnString decodes the input and writes a derived string back in place.
// It returns the new length, or 0 on failure.
func (g *Guest) ReturnString(ptr, length uint32) uint32 {
	s, err := Decode(g.alloc, ptr, length)
	if err != nil {
		g.logger.Warn("guest: return_string decode failed", "ptr", ptr, "len", length, "error", err)
		return 0
	}

	out := fmt.Sprintf("Incoming: %s\n%s", s, ReturnStringSuffix)
	n, err := EncodeInto(g.alloc, out, ptr)
	if err != nil {
		g.logger.Warn("guest: return_string encode failed", "ptr", ptr, "error", err)
		return 0
	}
	return n
}

// RunScript implements run_script: the response envelope overwrites the
// request at ptr and the new length is returned. A response that does not
// fit is replaced by a capacity diagnostic; 0 means not even that fit.
func (g *Guest) RunScript(ptr, length uint32) uint32 {
	response := g.runScript(ptr, length)

	n, err := EncodeInto(g.alloc, string(response), ptr)
	if err == nil {
		return n
	}

	g.logger.Warn("guest: run_script response does not fit", "ptr", ptr, "bytes", len(response), "error", err)
	n, err = EncodeInto(g.alloc, string(g.scriptHandler().HandleError(err)), ptr)
	if err != nil {
		g.logger.Error("guest: run_script dropped response", "ptr", ptr, "error", err)
		return 0
	}
	return n
}

// RunScriptPacked implements run_script_packed: the response is written to a
// fresh allocation returned as (ptr << 32 | len). The request buffer is left
// untouched and both buffers belong to the caller.
func (g *Guest) RunScriptPacked(ptr, length uint32) uint64 {
	response := g.runScript(ptr, length)

	packed, err := EncodeNew(g.alloc, response)
	if err != nil {
		panic(fmt.Sprintf("guest: run_script_packed: %v", err))
	}
	return packed
}

func (g *Guest) runScript(ptr, length uint32) []byte {
	handler := g.scriptHandler()

	request, err := Decode(g.alloc, ptr, length)
	if err != nil {
		g.logger.Warn("guest: run_script decode failed", "ptr", ptr, "len", length, "error", err)
		return handler.HandleError(err)
	}
	return handler.Handle(context.Background(), []byte(request))
}

func (g *Guest) scriptHandler() ScriptHandler {
	if g.scripts == nil {
		return unavailableHandler{}
	}
	return g.scripts
}

type unavailableHandler struct{}

func (unavailableHandler) Handle(context.Context, []byte) []byte {
	return unavailableHandler{}.HandleError(errors.New("script engine not configured"))
}

func (unavailableHandler) HandleError(err error) []byte {
	msg := err.Error()
	data, _ := json.Marshal(entities.NewDiagnosticResponse([]string{msg}, msg, msg))
	return data
}
