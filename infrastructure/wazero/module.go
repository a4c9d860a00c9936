package wazero

import (
	"context"
	"errors"
	"slices"

	domainerrors "github.com/reglet-dev/wasm-remap/domain/errors"
	"github.com/reglet-dev/wasm-remap/domain/ports"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

var _ ports.Module = (*Module)(nil)

// Module adapts an instantiated wazero module to ports.Module.
type Module struct {
	mod      api.Module
	compiled wazero.CompiledModule
	bindings []Binding
}

// Name returns the instance name.
func (m *Module) Name() string {
	return m.mod.Name()
}

// Call invokes an exported function. Any error other than a missing export is
// an engine trap: the guest was aborted and the call has no result.
func (m *Module) Call(ctx context.Context, export string, params ...uint64) ([]uint64, error) {
	fn := m.mod.ExportedFunction(export)
	if fn == nil {
		return nil, &domainerrors.MissingExportError{Name: export}
	}
	return fn.Call(ctx, params...)
}

// HasExport reports whether an exported function exists.
func (m *Module) HasExport(export string) bool {
	return m.mod.ExportedFunction(export) != nil
}

// Memory returns the exported memory, or nil.
func (m *Module) Memory() ports.Memory {
	mem := m.mod.Memory()
	if mem == nil {
		return nil
	}
	return mem
}

// Imports returns how each imported function was bound.
func (m *Module) Imports() []Binding {
	return slices.Clone(m.bindings)
}

// Closed reports whether the instance was closed, for example because a call
// outlived its context.
func (m *Module) Closed() bool {
	return m.mod.IsClosed()
}

// Close closes the instance and releases its compiled code.
func (m *Module) Close(ctx context.Context) error {
	return errors.Join(m.mod.Close(ctx), m.compiled.Close(ctx))
}
