package wazero

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/reglet-dev/wasm-remap/internal/abi"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Runtime is a wazero runtime with WASI preview1 and the remap host module
// instantiated. It links guest imports and tracks the trap stub modules it
// created.
type Runtime struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache
	logger  *slog.Logger
	stderr  io.Writer

	mu    sync.Mutex
	stubs map[string]map[string]Binding
}

type runtimeConfig struct {
	logger           *slog.Logger
	cacheDir         string
	stderr           io.Writer
	hostOptions      []AdapterOption
	memoryLimitPages uint32
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*runtimeConfig)

// WithMemoryLimitPages caps every guest memory at n 64KiB pages. Zero keeps
// the wazero default of 65536 pages.
func WithMemoryLimitPages(n uint32) RuntimeOption {
	return func(c *runtimeConfig) {
		c.memoryLimitPages = n
	}
}

// WithCompilationCacheDir persists compiled modules under dir.
func WithCompilationCacheDir(dir string) RuntimeOption {
	return func(c *runtimeConfig) {
		c.cacheDir = dir
	}
}

// WithRuntimeLogger sets the logger for linking events and guest log records.
func WithRuntimeLogger(logger *slog.Logger) RuntimeOption {
	return func(c *runtimeConfig) {
		c.logger = logger
	}
}

// WithGuestStderr sets where guest writes to fd 2 go. Defaults to io.Discard.
func WithGuestStderr(w io.Writer) RuntimeOption {
	return func(c *runtimeConfig) {
		c.stderr = w
	}
}

// WithHostModuleOptions configures the remap_host module.
func WithHostModuleOptions(opts ...AdapterOption) RuntimeOption {
	return func(c *runtimeConfig) {
		c.hostOptions = append(c.hostOptions, opts...)
	}
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		logger: slog.Default(),
		stderr: io.Discard,
	}
}

// NewRuntime creates a runtime that closes guest calls when their context is
// done.
func NewRuntime(ctx context.Context, opts ...RuntimeOption) (*Runtime, error) {
	cfg := defaultRuntimeConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.memoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.memoryLimitPages)
	}

	var cache wazero.CompilationCache
	if cfg.cacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(cfg.cacheDir)
		if err != nil {
			return nil, fmt.Errorf("wazero: compilation cache %q: %w", cfg.cacheDir, err)
		}
		rc = rc.WithCompilationCache(cache)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rc)
	r := &Runtime{
		runtime: rt,
		cache:   cache,
		logger:  cfg.logger,
		stderr:  cfg.stderr,
		stubs:   map[string]map[string]Binding{},
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("wazero: instantiate wasi: %w", err)
	}

	hostOpts := append([]AdapterOption{WithLogger(cfg.logger)}, cfg.hostOptions...)
	if err := RegisterWithRuntime(ctx, rt, hostOpts...); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("wazero: instantiate host module: %w", err)
	}

	return r, nil
}

// Close closes every module instantiated in the runtime and the compilation cache.
func (r *Runtime) Close(ctx context.Context) error {
	err := r.runtime.Close(ctx)
	if r.cache != nil {
		if cerr := r.cache.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}

// Imports compiles wasm and reports how each imported function would bind,
// without instantiating anything.
func (r *Runtime) Imports(ctx context.Context, wasm []byte) ([]Binding, error) {
	compiled, err := r.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("wazero: compile: %w", err)
	}
	defer compiled.Close(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.classify(compiled), nil
}

// InstantiateConfig controls a single instantiation.
type InstantiateConfig struct {
	// Name is the instance name. Defaults to "guest-" plus a random suffix.
	Name string

	// StrictImports fails instantiation on any unresolved import instead of
	// binding it to a trap stub.
	StrictImports bool
}

// Instantiate compiles wasm, links its imports and instantiates it. Start
// functions are not run; the reactor's _initialize export is called if present.
func (r *Runtime) Instantiate(ctx context.Context, wasm []byte, cfg InstantiateConfig) (*Module, error) {
	compiled, err := r.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("wazero: compile: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = "guest-" + uuid.NewString()[:8]
	}

	mod, bindings, err := r.instantiate(ctx, compiled, name, cfg.StrictImports)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	if init := mod.ExportedFunction(abi.ExportInitialize); init != nil {
		if _, err := init.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			_ = compiled.Close(ctx)
			return nil, fmt.Errorf("wazero: %s %s: %w", name, abi.ExportInitialize, err)
		}
	}

	r.logger.DebugContext(ctx, "wazero: instantiated guest", "module", name, "imports", len(bindings))
	return &Module{mod: mod, compiled: compiled, bindings: bindings}, nil
}

// instantiate links and instantiates under r.mu, so a concurrent stub
// rebuild cannot close an import between the two.
func (r *Runtime) instantiate(ctx context.Context, compiled wazero.CompiledModule, name string, strict bool) (api.Module, []Binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bindings := r.classify(compiled)
	if err := r.link(ctx, compiled, bindings, strict); err != nil {
		return nil, nil, err
	}

	modConfig := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions().
		WithStderr(r.stderr).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)

	mod, err := r.runtime.InstantiateModule(ctx, compiled, modConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("wazero: instantiate %s: %w", name, err)
	}
	return mod, bindings, nil
}
