package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/reglet-dev/wasm-remap/application/validation"
	"github.com/reglet-dev/wasm-remap/domain/entities"
	domainerrors "github.com/reglet-dev/wasm-remap/domain/errors"
	"github.com/reglet-dev/wasm-remap/domain/ports"
	wasmrt "github.com/reglet-dev/wasm-remap/infrastructure/wazero"
	"github.com/reglet-dev/wasm-remap/internal/abi"
)

// Instance is a loaded guest. Each operation holds the instance lock for the
// whole allocate, write, invoke, read and deallocate sequence, so an Instance
// is safe for concurrent use but serves one request at a time.
type Instance struct {
	module    ports.Module
	responses *validation.ResponseValidator
	base      *slog.Logger
	cfg       executorConfig

	mu     sync.Mutex
	logger *slog.Logger // scoped to the request in flight
	closed bool
}

// NewInstance wraps an instantiated module. It fails with
// MissingExportError unless the module exports memory, allocate and deallocate.
func NewInstance(mod ports.Module, opts ...Option) (*Instance, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validation.Struct(cfg.Config); err != nil {
		return nil, fmt.Errorf("host: invalid config: %w", err)
	}
	return newInstance(mod, cfg)
}

func newInstance(mod ports.Module, cfg executorConfig) (*Instance, error) {
	if mod.Memory() == nil {
		return nil, &domainerrors.MissingExportError{Name: abi.ExportMemory}
	}
	for _, export := range []string{abi.ExportAllocate, abi.ExportDeallocate} {
		if !mod.HasExport(export) {
			return nil, &domainerrors.MissingExportError{Name: export}
		}
	}

	inst := &Instance{
		module: mod,
		cfg:    cfg,
		base:   cfg.logger.With("module", mod.Name()),
	}
	inst.logger = inst.base

	if cfg.ValidateResponses {
		v, err := validation.NewResponseValidator()
		if err != nil {
			return nil, err
		}
		inst.responses = v
	}
	return inst, nil
}

// Name returns the module instance name.
func (i *Instance) Name() string {
	return i.module.Name()
}

// Close releases the guest. Later calls fail with ErrInstanceClosed.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	return i.module.Close(ctx)
}

// Add calls the add export. The guest wraps at 32 bits.
func (i *Instance) Add(ctx context.Context, a, b uint32) (uint32, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	ctx = i.begin(ctx, abi.ExportAdd)

	return i.callU32(ctx, abi.ExportAdd, a, b)
}

// EchoString passes s to echo_string and returns the raw result, which is
// the buffer address plus len(s).
func (i *Instance) EchoString(ctx context.Context, s string) (uint32, error) {
	return i.stringCall(ctx, abi.ExportEchoString, s)
}

// ReadString passes s to read_string and returns the length the guest decoded.
func (i *Instance) ReadString(ctx context.Context, s string) (uint32, error) {
	n, err := i.stringCall(ctx, abi.ExportReadString, s)
	if err == nil && n == 0 && s != "" {
		return 0, &domainerrors.ResponseError{Export: abi.ExportReadString, Err: domainerrors.ErrEmptyResponse}
	}
	return n, err
}

// ReturnString passes s to return_string and reads back the string the guest
// wrote in place.
func (i *Instance) ReturnString(ctx context.Context, s string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	ctx = i.begin(ctx, abi.ExportReturnString)

	var out []byte
	err := i.withBuffer(ctx, []byte(s), func(buf *Buffer) error {
		n, err := i.callU32(ctx, abi.ExportReturnString, buf.Ptr(), uint32(len(s))) //nolint:gosec // G115: bounded by buffer capacity
		if err != nil {
			return err
		}
		out, err = i.readResponse(abi.ExportReturnString, buf, n)
		return err
	})
	return string(out), err
}

// RunScript sends a request envelope for program and event to run_script and
// decodes the response envelope. Compile and runtime failures of the program
// are returned as a diagnostic response, not an error.
func (i *Instance) RunScript(ctx context.Context, program string, event any) (*entities.Response, error) {
	request, err := json.Marshal(entities.Request{Program: program, Event: event})
	if err != nil {
		return nil, fmt.Errorf("host: encode request: %w", err)
	}

	data, err := i.RunScriptRaw(ctx, request)
	if err != nil {
		return nil, err
	}
	return i.decodeResponse(data)
}

// RunScriptRaw exchanges raw envelope bytes with the guest.
func (i *Instance) RunScriptRaw(ctx context.Context, request []byte) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cfg.RelocatedResponses {
		ctx = i.begin(ctx, abi.ExportRunScriptPacked)
		return i.runScriptPacked(ctx, request)
	}
	ctx = i.begin(ctx, abi.ExportRunScript)

	var out []byte
	err := i.withBuffer(ctx, request, func(buf *Buffer) error {
		n, err := i.callU32(ctx, abi.ExportRunScript, buf.Ptr(), uint32(len(request))) //nolint:gosec // G115: bounded by buffer capacity
		if err != nil {
			return err
		}
		out, err = i.readResponse(abi.ExportRunScript, buf, n)
		return err
	})
	return out, err
}

// runScriptPacked calls run_script_packed. The response comes back in a
// second guest allocation the host must release as well.
func (i *Instance) runScriptPacked(ctx context.Context, request []byte) ([]byte, error) {
	var out []byte
	err := i.withBuffer(ctx, request, func(buf *Buffer) (err error) {
		results, err := i.call(ctx, abi.ExportRunScriptPacked, uint64(buf.Ptr()), uint64(len(request)))
		if err != nil {
			return err
		}
		if len(results) == 0 {
			return &domainerrors.ResponseError{Export: abi.ExportRunScriptPacked, Err: domainerrors.ErrEmptyResponse}
		}

		ptr := uint32(results[0] >> abi.PtrHighBits) //nolint:gosec // G115: packed format stores 32-bit values
		length := uint32(results[0])                 //nolint:gosec // G115: packed format stores 32-bit values
		if ptr == 0 {
			return &domainerrors.ResponseError{Export: abi.ExportRunScriptPacked, Length: length, Err: domainerrors.ErrEmptyResponse}
		}

		resp := i.adopt(entities.BufferHandle{Ptr: ptr, Capacity: length})
		defer func() {
			if rerr := resp.Release(ctx); rerr != nil && err == nil {
				err = rerr
			}
		}()
		out, err = i.readResponse(abi.ExportRunScriptPacked, resp, length)
		return err
	})
	return out, err
}

func (i *Instance) readResponse(export string, buf *Buffer, n uint32) ([]byte, error) {
	if n == 0 {
		return nil, &domainerrors.ResponseError{Export: export, Err: domainerrors.ErrEmptyResponse}
	}
	data, err := buf.Read(n)
	if err != nil {
		return nil, &domainerrors.ResponseError{Export: export, Length: n, Err: err}
	}
	i.logger.Debug("host: read response", "ptr", buf.Ptr(), "len", n)
	return data, nil
}

func (i *Instance) decodeResponse(data []byte) (*entities.Response, error) {
	export := abi.ExportRunScript
	if i.cfg.RelocatedResponses {
		export = abi.ExportRunScriptPacked
	}
	length := uint32(len(data)) //nolint:gosec // G115: read from a guest buffer

	if i.responses != nil {
		if err := i.responses.Validate(data); err != nil {
			return nil, &domainerrors.ResponseError{Export: export, Length: length, Err: err}
		}
	}
	var resp entities.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &domainerrors.ResponseError{Export: export, Length: length, Err: err}
	}
	return &resp, nil
}

func (i *Instance) stringCall(ctx context.Context, export, s string) (uint32, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	ctx = i.begin(ctx, export)

	var result uint32
	err := i.withBuffer(ctx, []byte(s), func(buf *Buffer) error {
		var err error
		result, err = i.callU32(ctx, export, buf.Ptr(), uint32(len(s))) //nolint:gosec // G115: bounded by buffer capacity
		return err
	})
	return result, err
}

// begin scopes logging to a new request and tags ctx with its id so host
// functions called by the guest can log it too. Callers hold i.mu.
func (i *Instance) begin(ctx context.Context, export string) context.Context {
	id := uuid.NewString()
	i.logger = requestLogger(i.base, export, id)
	i.logger.DebugContext(ctx, "host: request")
	return wasmrt.WithRequestID(ctx, id)
}
