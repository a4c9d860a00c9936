// Package guesttest runs the real guest exports in-process behind
// ports.Module, so host code can be tested without compiling a wasm binary.
package guesttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/reglet-dev/wasm-remap/application/endpoint"
	domainerrors "github.com/reglet-dev/wasm-remap/domain/errors"
	"github.com/reglet-dev/wasm-remap/domain/ports"
	"github.com/reglet-dev/wasm-remap/guest"
	"github.com/reglet-dev/wasm-remap/infrastructure/remap"
	"github.com/reglet-dev/wasm-remap/internal/abi"
)

// Export overrides or adds an exported function.
type Export func(ctx context.Context, params ...uint64) ([]uint64, error)

var _ ports.Module = (*Module)(nil)

// Module is an in-process guest instance.
type Module struct {
	guest   *guest.Guest
	arena   *guest.Arena
	cfg     moduleConfig
	exports map[string]Export

	mu     sync.Mutex
	calls  map[string]int
	closed bool
}

type moduleConfig struct {
	name            string
	arenaOptions    []guest.ArenaOption
	guestOptions    []guest.Option
	endpointOptions []endpoint.Option
	overrides       map[string]Export
	removed         map[string]bool
	growPages       uint32
	noEngine        bool
	legacyFree      bool
}

// Option configures a Module.
type Option func(*moduleConfig)

// WithName sets the instance name (default "guesttest").
func WithName(name string) Option {
	return func(c *moduleConfig) {
		c.name = name
	}
}

// WithArenaOptions configures the guest arena.
func WithArenaOptions(opts ...guest.ArenaOption) Option {
	return func(c *moduleConfig) {
		c.arenaOptions = append(c.arenaOptions, opts...)
	}
}

// WithGuestOptions configures the guest exports.
func WithGuestOptions(opts ...guest.Option) Option {
	return func(c *moduleConfig) {
		c.guestOptions = append(c.guestOptions, opts...)
	}
}

// WithEndpointOptions configures the run_script endpoint.
func WithEndpointOptions(opts ...endpoint.Option) Option {
	return func(c *moduleConfig) {
		c.endpointOptions = append(c.endpointOptions, opts...)
	}
}

// WithoutScriptEngine leaves run_script without an engine.
func WithoutScriptEngine() Option {
	return func(c *moduleConfig) {
		c.noEngine = true
	}
}

// WithGrowthPerCall grows memory by pages after every call, invalidating any
// view the caller still holds.
func WithGrowthPerCall(pages uint32) Option {
	return func(c *moduleConfig) {
		c.growPages = pages
	}
}

// WithLegacyDeallocate makes deallocate return no result.
func WithLegacyDeallocate() Option {
	return func(c *moduleConfig) {
		c.legacyFree = true
	}
}

// WithExport replaces or adds an export.
func WithExport(name string, fn Export) Option {
	return func(c *moduleConfig) {
		c.overrides[name] = fn
	}
}

// WithoutExport removes an export.
func WithoutExport(name string) Option {
	return func(c *moduleConfig) {
		c.removed[name] = true
	}
}

// New creates a module backed by guest.Guest, an arena and the remap endpoint.
func New(opts ...Option) (*Module, error) {
	cfg := moduleConfig{
		name:      "guesttest",
		overrides: map[string]Export{},
		removed:   map[string]bool{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	arena := guest.NewArena(cfg.arenaOptions...)
	guestOpts := cfg.guestOptions
	if !cfg.noEngine {
		engine, err := remap.NewEngine()
		if err != nil {
			return nil, fmt.Errorf("guesttest: %w", err)
		}
		guestOpts = append([]guest.Option{guest.WithScriptHandler(endpoint.New(engine, cfg.endpointOptions...))}, guestOpts...)
	}

	m := &Module{
		guest: guest.New(arena, guestOpts...),
		arena: arena,
		cfg:   cfg,
		calls: map[string]int{},
	}
	m.exports = m.builtinExports()
	for name, fn := range cfg.overrides {
		m.exports[name] = fn
	}
	for name := range cfg.removed {
		delete(m.exports, name)
	}
	return m, nil
}

// Arena returns the guest arena, for leak assertions.
func (m *Module) Arena() *guest.Arena {
	return m.arena
}

// Calls returns how often export was called.
func (m *Module) Calls(export string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[export]
}

// Name returns the instance name.
func (m *Module) Name() string {
	return m.cfg.name
}

// HasExport reports whether an exported function exists.
func (m *Module) HasExport(export string) bool {
	_, ok := m.exports[export]
	return ok
}

// Memory returns the arena's memory.
func (m *Module) Memory() ports.Memory {
	if m.cfg.removed[abi.ExportMemory] {
		return nil
	}
	return m.arena.Memory()
}

// Call invokes an export. A guest panic is returned as an error, the way an
// engine reports a trap.
func (m *Module) Call(ctx context.Context, export string, params ...uint64) (results []uint64, err error) {
	m.mu.Lock()
	closed := m.closed
	m.calls[export]++
	m.mu.Unlock()

	if closed {
		return nil, fmt.Errorf("guesttest: module %s is closed", m.cfg.name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fn, ok := m.exports[export]
	if !ok {
		return nil, &domainerrors.MissingExportError{Name: export}
	}

	defer func() {
		if r := recover(); r != nil {
			results, err = nil, fmt.Errorf("guesttest: %s trapped: %v", export, r)
		}
		if m.cfg.growPages > 0 {
			m.arena.Memory().Grow(m.cfg.growPages)
		}
	}()
	return fn(ctx, params...)
}

// Close marks the module closed. Later calls fail.
func (m *Module) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Module) builtinExports() map[string]Export {
	g := m.guest
	return map[string]Export{
		abi.ExportAllocate: unary(func(size uint32) uint64 { return uint64(g.Allocate(size)) }),
		abi.ExportDeallocate: func(_ context.Context, params ...uint64) ([]uint64, error) {
			ptr, size, err := pair(params)
			if err != nil {
				return nil, err
			}
			status := g.Deallocate(ptr, size)
			if m.cfg.legacyFree {
				return nil, nil
			}
			return []uint64{uint64(status)}, nil
		},
		abi.ExportAdd:             binary(func(a, b uint32) uint64 { return uint64(g.Add(a, b)) }),
		abi.ExportEchoString:      binary(func(p, n uint32) uint64 { return uint64(g.EchoString(p, n)) }),
		abi.ExportReadString:      binary(func(p, n uint32) uint64 { return uint64(g.ReadString(p, n)) }),
		abi.ExportReturnString:    binary(func(p, n uint32) uint64 { return uint64(g.ReturnString(p, n)) }),
		abi.ExportRunScript:       binary(func(p, n uint32) uint64 { return uint64(g.RunScript(p, n)) }),
		abi.ExportRunScriptPacked: binary(g.RunScriptPacked),
	}
}

func unary(fn func(uint32) uint64) Export {
	return func(_ context.Context, params ...uint64) ([]uint64, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("guesttest: expected 1 parameter, got %d", len(params))
		}
		return []uint64{fn(uint32(params[0]))}, nil //nolint:gosec // i32 parameter
	}
}

func binary(fn func(a, b uint32) uint64) Export {
	return func(_ context.Context, params ...uint64) ([]uint64, error) {
		a, b, err := pair(params)
		if err != nil {
			return nil, err
		}
		return []uint64{fn(a, b)}, nil
	}
}

func pair(params []uint64) (a, b uint32, err error) {
	if len(params) != 2 {
		return 0, 0, fmt.Errorf("guesttest: expected 2 parameters, got %d", len(params))
	}
	return uint32(params[0]), uint32(params[1]), nil //nolint:gosec // i32 parameters
}
