package ports

import (
	"context"

	"github.com/reglet-dev/wasm-remap/domain/entities"
)

// ScriptEngine compiles and renders programs for the script endpoint.
type ScriptEngine interface {
	// Compile turns source text into a runnable script or a list of diagnostics.
	Compile(source string) (Script, entities.Diagnostics)

	// Format renders diagnostics against the source for human display.
	Format(source string, diags entities.Diagnostics, colorize bool) string
}

// Script is a compiled program.
type Script interface {
	// Run executes against the target, mutating target.Event, and returns the
	// value of the last expression. A runtime failure yields one diagnostic.
	Run(ctx context.Context, target *entities.Target) (any, *entities.Diagnostic)
}
