package remap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/file"
	"github.com/expr-lang/expr/vm"
	"github.com/reglet-dev/wasm-remap/domain/entities"
	"github.com/reglet-dev/wasm-remap/domain/ports"
)

var _ ports.Script = (*Program)(nil)

// Program is a compiled remap program.
type Program struct {
	steps []step
}

type step struct {
	statement
	program *vm.Program
	index   *rewriter
}

// Run executes the statements in order against target. Assignments to event
// and metadata paths mutate target; the value of the last statement is returned.
// The first failing statement stops the run with a single diagnostic.
func (p *Program) Run(ctx context.Context, target *entities.Target) (any, *entities.Diagnostic) {
	if target.Metadata == nil {
		target.Metadata = map[string]any{}
	}
	secrets := lookupSecrets(target.Secrets)
	locals := map[string]any{}

	var last any
	for i, s := range p.steps {
		if err := ctx.Err(); err != nil {
			d := newDiagnostic(CodeCanceled, fmt.Sprintf("program canceled: %v", err), "", s.start, s.end)
			return nil, &d
		}

		env := make(map[string]any, len(locals)+3)
		for name, v := range locals {
			env[name] = v
		}
		env[rootEvent] = target.Event
		env[rootMetadata] = target.Metadata
		env[FnGetSecret] = secrets

		value, err := expr.Run(s.program, env)
		if err != nil {
			d := locatedDiagnostic(CodeRuntime, err, s.index, s.statement)
			return nil, &d
		}

		if s.kind == kindEventAssign || s.kind == kindMetadataAssign || i == len(p.steps)-1 {
			if f, ok := nonFinite(value); ok {
				start := s.rhsPos + len(s.rhs) - len(strings.TrimLeft(s.rhs, " \t\r\n"))
				d := newDiagnostic(CodeNonFinite,
					fmt.Sprintf("cannot store %v: JSON has no representation for NaN or infinite numbers", f),
					"non-finite number", start, s.end)
				return nil, &d
			}
		}
		if s.kind != kindExpr {
			value = copyValue(value)
			if d := s.assign(target, locals, value); d != nil {
				return nil, d
			}
		}
		last = value
	}
	return last, nil
}

// nonFinite returns the first NaN or infinite float found in v.
func nonFinite(v any) (float64, bool) {
	switch c := v.(type) {
	case float64:
		return c, math.IsNaN(c) || math.IsInf(c, 0)
	case float32:
		return nonFinite(float64(c))
	case map[string]any:
		for _, val := range c {
			if f, ok := nonFinite(val); ok {
				return f, true
			}
		}
	case []any:
		for _, val := range c {
			if f, ok := nonFinite(val); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func (s step) assign(target *entities.Target, locals map[string]any, value any) *entities.Diagnostic {
	switch s.kind {
	case kindLocalAssign:
		locals[s.local] = value
		return nil

	case kindEventAssign:
		if len(s.path) == 0 {
			if _, ok := value.(map[string]any); !ok {
				return s.rootError(".", value)
			}
			target.Event = value
			return nil
		}
		updated, err := setPath(target.Event, s.path, value)
		if err != nil {
			return s.assignError(formatPath(".", s.path), err)
		}
		target.Event = updated

	case kindMetadataAssign:
		if len(s.path) == 0 {
			obj, ok := value.(map[string]any)
			if !ok {
				return s.rootError("%", value)
			}
			target.Metadata = obj
			return nil
		}
		updated, err := setPath(target.Metadata, s.path, value)
		if err != nil {
			return s.assignError(formatPath("%", s.path), err)
		}
		target.Metadata = updated.(map[string]any) //nolint:forcetypeassert // setPath on a map returns the map
	}
	return nil
}

func (s step) rootError(sigil string, value any) *entities.Diagnostic {
	d := newDiagnostic(CodeRootNotObject,
		fmt.Sprintf("cannot assign %s to %s: the root must be an object", kindOf(value), sigil),
		"root assignment", s.start, s.lhsEnd)
	return &d
}

func (s step) assignError(path string, err error) *entities.Diagnostic {
	d := newDiagnostic(CodeAssignment, fmt.Sprintf("cannot assign to %s: %v", path, err), "invalid target", s.start, s.lhsEnd)
	return &d
}

// locatedDiagnostic converts an expr error into a diagnostic spanning the
// offending source, falling back to the statement span.
func locatedDiagnostic(code int, err error, w *rewriter, st statement) entities.Diagnostic {
	var fe *file.Error
	if !errors.As(err, &fe) {
		return newDiagnostic(code, err.Error(), "", st.start, st.end)
	}

	start := w.position(fe.From, st.end)
	end := start + 1
	if fe.To > fe.From {
		end = w.position(fe.To-1, start) + 1
	}
	start = clamp(start, st.start, st.end)
	end = clamp(end, start, st.end)

	label := ""
	if code == CodeRuntime {
		label = "failed here"
	}
	return newDiagnostic(code, fe.Message, label, start, end)
}
