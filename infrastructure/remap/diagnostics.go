package remap

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/reglet-dev/wasm-remap/domain/entities"
)

// Diagnostic codes.
const (
	CodeSyntax          = 100
	CodeInvalidTarget   = 101
	CodeReservedName    = 102
	CodeEmptyExpression = 103
	CodeCompile         = 110
	CodeRuntime         = 200
	CodeRootNotObject   = 201
	CodeAssignment      = 202
	CodeCanceled        = 203
	CodeNonFinite       = 204
)

func newDiagnostic(code int, message, label string, start, end int) entities.Diagnostic {
	return entities.Diagnostic{
		Severity: entities.SeverityError,
		Code:     code,
		Message:  message,
		Label:    label,
		Start:    start,
		End:      end,
	}
}

// palette colours the parts of a rendered diagnostic.
type palette struct {
	header func(string) string
	gutter func(string) string
	marker func(string) string
}

var plain = palette{
	header: identity,
	gutter: identity,
	marker: identity,
}

func identity(s string) string { return s }

// Render formats diagnostics against source:
//
//	error[E100]: unclosed delimiter `{`
//	  ┌─ :1:16
//	  │
//	1 │ invalid syntax {{{
//	  │                ^^^ expected a matching `}`
//	  │
//
// Diagnostics are separated by a blank line.
func Render(source string, diags entities.Diagnostics, colorize bool) string {
	p := plain
	if colorize {
		p = colors()
	}

	var b strings.Builder
	for i, d := range diags {
		if i > 0 {
			b.WriteByte('\n')
		}
		renderOne(&b, source, d, p)
	}
	return b.String()
}

func renderOne(b *strings.Builder, source string, d entities.Diagnostic, p palette) {
	start := clamp(d.Start, 0, len(source))
	end := clamp(d.End, start, len(source))

	line, col, lineStart := locate(source, start)
	lineEnd := strings.IndexByte(source[lineStart:], '\n')
	if lineEnd < 0 {
		lineEnd = len(source)
	} else {
		lineEnd += lineStart
	}
	text := strings.ReplaceAll(source[lineStart:lineEnd], "\t", " ")

	width := utf8.RuneCountInString(source[start:min(end, lineEnd)])
	if width < 1 {
		width = 1
	}

	severity := string(d.Severity)
	if severity == "" {
		severity = string(entities.SeverityError)
	}
	num := strconv.Itoa(line)
	pad := strings.Repeat(" ", len(num))
	bar := p.gutter("│")

	fmt.Fprintf(b, "%s: %s\n", p.header(fmt.Sprintf("%s[E%03d]", severity, d.Code)), d.Message)
	fmt.Fprintf(b, "%s %s :%d:%d\n", pad, p.gutter("┌─"), line, col+1)
	fmt.Fprintf(b, "%s %s\n", pad, bar)
	fmt.Fprintf(b, "%s %s %s\n", p.gutter(num), bar, text)

	marker := strings.Repeat(" ", col) + p.marker(strings.Repeat("^", width))
	if d.Label != "" {
		marker += " " + p.marker(d.Label)
	}
	fmt.Fprintf(b, "%s %s %s\n", pad, bar, marker)
	fmt.Fprintf(b, "%s %s\n", pad, bar)
}

// locate returns the 1-based line, 0-based rune column and line start of offset.
func locate(source string, offset int) (line, col, lineStart int) {
	line = 1
	for i, r := range source[:offset] {
		if r == '\n' {
			line++
			lineStart = i + 1
		}
	}
	col = utf8.RuneCountInString(source[lineStart:offset])
	return line, col, lineStart
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
