// Package wazero runs remap guests on the wazero WebAssembly runtime.
//
// It handles:
//
//   - Creating a runtime with WASI preview1 and the remap_host module
//   - Routing guest log records from remap_host.log_message to slog
//   - Linking guest imports, binding unresolved ones to trap stubs
//   - Adapting instantiated modules to ports.Module
//
// # Basic Usage
//
//	rt, err := wazero.NewRuntime(ctx,
//	    wazero.WithMemoryLimitPages(256),
//	    wazero.WithRuntimeLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	defer rt.Close(ctx)
//
//	mod, err := rt.Instantiate(ctx, wasmBytes, wazero.InstantiateConfig{})
//
// # Import Linking
//
// Every imported function whose module the runtime does not provide is bound to
// a stub with the declared signature. The module instantiates, and calling the
// stub traps with domain/errors.UnresolvedImportError. InstantiateConfig.StrictImports
// rejects such modules instead. An import against a provided module that lacks
// the function always fails.
//
// # Custom Handlers
//
// Additional host functions can be exported from remap_host with WithCustomHandler:
//
//	wazero.NewRuntime(ctx, wazero.WithHostModuleOptions(
//	    wazero.WithCustomHandler(wazero.CustomHandler{
//	        Name:        "now",
//	        Handler:     nowHandler,
//	        ResultTypes: []api.ValueType{api.ValueTypeI64},
//	    }),
//	))
package wazero
