package host

import (
	"context"
	"fmt"

	"github.com/reglet-dev/wasm-remap/application/validation"
	wasmrt "github.com/reglet-dev/wasm-remap/infrastructure/wazero"
)

// Executor manages the wazero runtime guests are loaded into.
type Executor struct {
	runtime *wasmrt.Runtime
	cfg     executorConfig
}

// NewExecutor creates a new Executor with a wazero runtime, WASI preview1 and
// the remap_host module.
func NewExecutor(ctx context.Context, opts ...Option) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validation.Struct(cfg.Config); err != nil {
		return nil, fmt.Errorf("host: invalid config: %w", err)
	}

	rtOpts := []wasmrt.RuntimeOption{
		wasmrt.WithMemoryLimitPages(cfg.MemoryLimitPages),
		wasmrt.WithCompilationCacheDir(cfg.CacheDir),
		wasmrt.WithRuntimeLogger(cfg.logger),
	}
	if cfg.stderr != nil {
		rtOpts = append(rtOpts, wasmrt.WithGuestStderr(cfg.stderr))
	}
	rt, err := wasmrt.NewRuntime(ctx, rtOpts...)
	if err != nil {
		return nil, err
	}

	return &Executor{runtime: rt, cfg: cfg}, nil
}

// Close releases resources held by the executor, including every loaded instance.
func (e *Executor) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Config returns the validated configuration.
func (e *Executor) Config() Config {
	return e.cfg.Config
}

// Load instantiates a guest module and checks its boundary exports.
func (e *Executor) Load(ctx context.Context, wasmBytes []byte) (*Instance, error) {
	if int64(len(wasmBytes)) > e.cfg.MaxModuleSize {
		return nil, fmt.Errorf("host: module is %d bytes, limit is %d", len(wasmBytes), e.cfg.MaxModuleSize)
	}

	mod, err := e.runtime.Instantiate(ctx, wasmBytes, wasmrt.InstantiateConfig{StrictImports: e.cfg.StrictImports})
	if err != nil {
		return nil, err
	}

	inst, err := newInstance(mod, e.cfg)
	if err != nil {
		_ = mod.Close(ctx)
		return nil, err
	}
	e.cfg.logger.InfoContext(ctx, "host: loaded guest", "module", mod.Name(), "imports", len(mod.Imports()))
	return inst, nil
}

// Imports reports how each imported function of a module would bind,
// without instantiating it.
func (e *Executor) Imports(ctx context.Context, wasmBytes []byte) ([]wasmrt.Binding, error) {
	return e.runtime.Imports(ctx, wasmBytes)
}
