package remap

import (
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/types"
	"github.com/reglet-dev/wasm-remap/domain/entities"
	"github.com/reglet-dev/wasm-remap/domain/ports"
)

const (
	rootEvent    = "event"
	rootMetadata = "metadata"
)

var _ ports.ScriptEngine = (*Engine)(nil)

// Engine compiles remap programs. Compiled programs are cached by source and
// are safe to run concurrently.
type Engine struct {
	cfg     engineConfig
	loc     *time.Location
	options []expr.Option

	cacheMu sync.RWMutex
	cache   map[string]*Program
}

type engineConfig struct {
	timezone  string
	maxNodes  uint
	cacheSize int
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		timezone:  "UTC",
		cacheSize: 64,
	}
}

// Option configures an Engine.
type Option func(*engineConfig)

// WithTimezone sets the zone used by current_time and the expr date built-ins.
func WithTimezone(name string) Option {
	return func(c *engineConfig) {
		c.timezone = name
	}
}

// WithMaxNodes limits the AST size of each statement. Zero keeps the expr default.
func WithMaxNodes(n uint) Option {
	return func(c *engineConfig) {
		c.maxNodes = n
	}
}

// WithCacheSize bounds the number of cached programs. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(c *engineConfig) {
		c.cacheSize = n
	}
}

// NewEngine creates an engine. It fails if the time zone cannot be loaded.
func NewEngine(opts ...Option) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	loc, err := time.LoadLocation(cfg.timezone)
	if err != nil {
		return nil, fmt.Errorf("remap: load time zone %q: %w", cfg.timezone, err)
	}

	options := functionOptions(loc)
	options = append(options, expr.Timezone(loc.String()))
	if cfg.maxNodes > 0 {
		options = append(options, expr.MaxNodes(cfg.maxNodes))
	}

	return &Engine{
		cfg:     cfg,
		loc:     loc,
		options: options,
		cache:   make(map[string]*Program),
	}, nil
}

// Location returns the engine's time zone.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Compile compiles source. On failure it returns one diagnostic per failing
// statement and a nil script.
func (e *Engine) Compile(source string) (ports.Script, entities.Diagnostics) {
	program, diags := e.CompileProgram(source)
	if len(diags) > 0 {
		return nil, diags
	}
	return program, nil
}

// CompileProgram is Compile returning the concrete program.
func (e *Engine) CompileProgram(source string) (*Program, entities.Diagnostics) {
	e.cacheMu.RLock()
	program, found := e.cache[source]
	e.cacheMu.RUnlock()
	if found {
		return program, nil
	}

	program, diags := e.compile(source)
	if len(diags) > 0 {
		return nil, diags
	}

	if e.cfg.cacheSize > 0 {
		e.cacheMu.Lock()
		if len(e.cache) >= e.cfg.cacheSize {
			e.cache = make(map[string]*Program)
		}
		e.cache[source] = program
		e.cacheMu.Unlock()
	}
	return program, nil
}

// Format renders diagnostics against source.
func (e *Engine) Format(source string, diags entities.Diagnostics, colorize bool) string {
	return Render(source, diags, colorize)
}

func (e *Engine) compile(source string) (*Program, entities.Diagnostics) {
	spans, diags := split(source)
	program := &Program{}
	locals := map[string]bool{}

	for _, sp := range spans {
		st, d := parseStatement(source, sp)
		if d != nil {
			diags = append(diags, *d)
			continue
		}

		w := rewrite(st.rhs, st.rhsPos)
		opts := make([]expr.Option, 0, len(e.options)+1)
		opts = append(opts, e.options...)
		opts = append(opts, expr.Env(compileEnv(locals)))

		compiled, err := expr.Compile(w.out.String(), opts...)
		if st.kind == kindLocalAssign {
			// Declared even on failure so later statements do not cascade.
			locals[st.local] = true
		}
		if err != nil {
			diags = append(diags, locatedDiagnostic(CodeCompile, err, w, st))
			continue
		}
		program.steps = append(program.steps, step{statement: st, program: compiled, index: w})
	}

	if len(diags) > 0 {
		return nil, diags
	}
	return program, nil
}

// compileEnv declares the names visible to a statement. Event, metadata and
// locals hold arbitrary JSON, so they are typed as any and checked at run time.
func compileEnv(locals map[string]bool) types.Map {
	env := make(types.Map, len(locals)+3)
	for name := range locals {
		env[name] = types.Any
	}
	env[rootEvent] = types.Any
	env[rootMetadata] = types.Any
	env[FnGetSecret] = types.TypeOf(secretLookup(nil))
	return env
}
