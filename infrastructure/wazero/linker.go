package wazero

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	domainerrors "github.com/reglet-dev/wasm-remap/domain/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Resolution describes how an imported function is bound.
type Resolution string

const (
	// ResolutionHost binds to a host module function.
	ResolutionHost Resolution = "host"
	// ResolutionWASI binds to wasi_snapshot_preview1.
	ResolutionWASI Resolution = "wasi"
	// ResolutionStub binds to a function that traps with UnresolvedImportError when called.
	ResolutionStub Resolution = "stub"
	// ResolutionUnresolved means no module of that name exists yet. Linking
	// turns it into ResolutionStub unless imports are strict.
	ResolutionUnresolved Resolution = "unresolved"
	// ResolutionMissing means the module exists but does not export the
	// function. Linking always fails.
	ResolutionMissing Resolution = "missing"
)

// Binding is one imported function of a guest module.
type Binding struct {
	Module     string
	Name       string
	Resolution Resolution
	Params     []api.ValueType
	Results    []api.ValueType
}

// Signature renders the function type, e.g. "(i32, i32) -> i32".
func (b Binding) Signature() string {
	return "(" + typeList(b.Params) + ") -> (" + typeList(b.Results) + ")"
}

func (b Binding) String() string {
	return fmt.Sprintf("%s.%s%s [%s]", b.Module, b.Name, b.Signature(), b.Resolution)
}

func typeList(types []api.ValueType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, ", ")
}

// classify resolves every imported function against the modules currently
// instantiated in the runtime. Callers hold r.mu.
func (r *Runtime) classify(compiled wazero.CompiledModule) []Binding {
	defs := compiled.ImportedFunctions()
	bindings := make([]Binding, 0, len(defs))
	for _, def := range defs {
		moduleName, name, _ := def.Import()
		b := Binding{
			Module:  moduleName,
			Name:    name,
			Params:  def.ParamTypes(),
			Results: def.ResultTypes(),
		}

		// ExportedFunction panics on host modules, so look definitions up instead.
		provider := r.runtime.Module(moduleName)
		stub, stubbed := r.stubs[moduleName]
		switch {
		case stubbed:
			if have, ok := stub[name]; ok && sameSignature(have, b) {
				b.Resolution = ResolutionStub
			} else {
				b.Resolution = ResolutionUnresolved
			}
		case provider == nil:
			b.Resolution = ResolutionUnresolved
		case provider.ExportedFunctionDefinitions()[name] == nil:
			b.Resolution = ResolutionMissing
		case moduleName == wasi_snapshot_preview1.ModuleName:
			b.Resolution = ResolutionWASI
		default:
			b.Resolution = ResolutionHost
		}
		bindings = append(bindings, b)
	}
	return bindings
}

func sameSignature(a, b Binding) bool {
	return slices.Equal(a.Params, b.Params) && slices.Equal(a.Results, b.Results)
}

// link binds unresolved imports to trap stubs, one host module per missing
// module name. A stub module that lacks a newly imported function is rebuilt
// with the union of its old and new functions; guests already linked keep the
// functions they were bound to. Callers hold r.mu.
func (r *Runtime) link(ctx context.Context, compiled wazero.CompiledModule, bindings []Binding, strict bool) error {
	for _, def := range compiled.ImportedMemories() {
		moduleName, name, _ := def.Import()
		if r.runtime.Module(moduleName) == nil {
			return fmt.Errorf("wazero: imported memory cannot be stubbed: %w",
				&domainerrors.UnresolvedImportError{Module: moduleName, Name: name})
		}
	}

	var order []string
	pending := map[string][]int{}
	for i, b := range bindings {
		switch b.Resolution {
		case ResolutionMissing:
			return fmt.Errorf("wazero: module %q does not export %q: %w", b.Module, b.Name,
				&domainerrors.UnresolvedImportError{Module: b.Module, Name: b.Name})
		case ResolutionUnresolved:
			if strict {
				return fmt.Errorf("wazero: strict imports: %w",
					&domainerrors.UnresolvedImportError{Module: b.Module, Name: b.Name})
			}
			if _, seen := pending[b.Module]; !seen {
				order = append(order, b.Module)
			}
			pending[b.Module] = append(pending[b.Module], i)
		}
	}

	for _, moduleName := range order {
		funcs := maps.Clone(r.stubs[moduleName])
		if funcs == nil {
			funcs = map[string]Binding{}
		}
		for _, i := range pending[moduleName] {
			b := bindings[i]
			funcs[b.Name] = b
			bindings[i].Resolution = ResolutionStub
			r.logger.WarnContext(ctx, "wazero: bound unresolved import to trap stub",
				"import", b.Module+"."+b.Name, "signature", b.Signature())
		}

		if old := r.runtime.Module(moduleName); old != nil {
			if err := old.Close(ctx); err != nil {
				return fmt.Errorf("wazero: close stub module %q: %w", moduleName, err)
			}
			delete(r.stubs, moduleName)
			r.logger.DebugContext(ctx, "wazero: rebuilding stub module", "module", moduleName, "functions", len(funcs))
		}

		builder := r.runtime.NewHostModuleBuilder(moduleName)
		for _, name := range slices.Sorted(maps.Keys(funcs)) {
			b := funcs[name]
			builder.NewFunctionBuilder().
				WithGoModuleFunction(trap(b.Module, b.Name), b.Params, b.Results).
				Export(b.Name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return fmt.Errorf("wazero: instantiate stub module %q: %w", moduleName, err)
		}
		r.stubs[moduleName] = funcs
	}
	return nil
}

// trap returns a host function that aborts the calling guest. wazero recovers
// the panic and returns it from the guest call wrapped with %w.
func trap(moduleName, name string) api.GoModuleFunc {
	return func(context.Context, api.Module, []uint64) {
		panic(&domainerrors.UnresolvedImportError{Module: moduleName, Name: name})
	}
}
