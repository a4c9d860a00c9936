package remap

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/reglet-dev/wasm-remap/domain/entities"
)

type statementKind int

const (
	kindExpr statementKind = iota
	kindEventAssign
	kindMetadataAssign
	kindLocalAssign
)

// statement is one source statement. Offsets are byte offsets into the program.
type statement struct {
	kind   statementKind
	start  int
	end    int
	path   []segment // assignment target for event and metadata assignments
	local  string    // assignment target for local assignments
	lhsEnd int
	rhs    string
	rhsPos int
}

var closers = map[byte]byte{'(': ')', '[': ']', '{': '}'}

type opener struct {
	ch  byte
	pos int
}

type span struct {
	start, end int
}

// split cuts source into statement spans at newlines and semicolons outside
// of strings and brackets. Delimiter errors are reported as diagnostics and
// the affected statement is dropped.
func split(source string) ([]span, entities.Diagnostics) {
	var (
		spans []span
		diags entities.Diagnostics
		stack []opener
		quote byte
		qpos  int
		start = 0
		bad   bool
	)

	flush := func(end int) {
		if !bad && start <= end && strings.TrimSpace(source[start:end]) != "" {
			spans = append(spans, span{start: start, end: end})
		}
		start = end + 1
		bad = false
	}

	for i := 0; i < len(source); i++ {
		c := source[i]

		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}

		switch c {
		case '"', '\'', '`':
			quote, qpos = c, i
		case '#':
			if len(stack) > 0 {
				continue
			}
			flush(i)
			nl := strings.IndexByte(source[i:], '\n')
			if nl < 0 {
				nl = len(source) - i
			}
			i += nl
			start = i + 1
		case '(', '[', '{':
			stack = append(stack, opener{ch: c, pos: i})
		case ')', ']', '}':
			if len(stack) == 0 || closers[stack[len(stack)-1].ch] != c {
				if !bad {
					diags = append(diags, newDiagnostic(CodeSyntax,
						fmt.Sprintf("unexpected closing delimiter `%c`", c), "unexpected delimiter", i, i+1))
				}
				bad = true
				continue
			}
			stack = stack[:len(stack)-1]
		case '\n', ';':
			if len(stack) == 0 {
				flush(i)
			}
		}
	}

	switch {
	case quote != 0:
		diags = append(diags, newDiagnostic(CodeSyntax, "unterminated string literal", "string starts here", qpos, len(source)))
	case len(stack) > 0:
		o := stack[0]
		diags = append(diags, newDiagnostic(CodeSyntax,
			fmt.Sprintf("unclosed delimiter `%c`", o.ch), fmt.Sprintf("expected a matching `%c`", closers[o.ch]), o.pos, len(source)))
	default:
		flush(len(source))
	}

	return spans, diags
}

// parseStatement classifies the statement at sp.
func parseStatement(source string, sp span) (statement, *entities.Diagnostic) {
	text := source[sp.start:sp.end]
	lead := len(text) - len(strings.TrimLeft(text, " \t\r\n"))
	trail := len(strings.TrimRight(text, " \t\r\n"))
	st := statement{kind: kindExpr, start: sp.start + lead, end: sp.start + trail}

	eq := assignmentIndex(text)
	if eq < 0 {
		st.rhs = text[lead:trail]
		st.rhsPos = st.start
		return st, nil
	}

	lhs := strings.TrimSpace(text[:eq])
	if lhs == "" {
		d := newDiagnostic(CodeInvalidTarget, "assignment has no target", "expected a path or variable", st.start, st.start+1)
		return st, &d
	}
	st.lhsEnd = st.start + len(lhs)
	st.rhsPos = sp.start + eq + 1
	st.rhs = text[eq+1:]
	if strings.TrimSpace(st.rhs) == "" {
		d := newDiagnostic(CodeEmptyExpression, "assignment has no value", "expected an expression", st.start, st.end)
		return st, &d
	}

	switch {
	case lhs[0] == '.' || lhs[0] == '%':
		path, ok := parsePath(lhs[1:])
		if !ok {
			d := newDiagnostic(CodeInvalidTarget, fmt.Sprintf("invalid assignment target %q", lhs), "not a path", st.start, st.lhsEnd)
			return st, &d
		}
		st.path = path
		st.kind = kindEventAssign
		if lhs[0] == '%' {
			st.kind = kindMetadataAssign
		}
	case isIdent(lhs):
		if reserved[lhs] {
			d := newDiagnostic(CodeReservedName, fmt.Sprintf("%q is a reserved name", lhs), "cannot assign here", st.start, st.lhsEnd)
			return st, &d
		}
		st.kind = kindLocalAssign
		st.local = lhs
	default:
		d := newDiagnostic(CodeInvalidTarget, fmt.Sprintf("invalid assignment target %q", lhs), "expected a path or variable", st.start, st.lhsEnd)
		return st, &d
	}
	return st, nil
}

// assignmentIndex returns the byte index of the top-level assignment '=' in
// text, or -1. Comparison operators are skipped.
func assignmentIndex(text string) int {
	depth := 0
	var quote byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '=':
			if depth != 0 {
				continue
			}
			if i+1 < len(text) && text[i+1] == '=' {
				i++
				continue
			}
			if i > 0 && strings.IndexByte("=!<>", text[i-1]) >= 0 {
				continue
			}
			return i
		}
	}
	return -1
}

// parsePath parses the part of a path after its sigil: "", "a.b", "a[0]",
// `"quoted key".b`.
func parsePath(p string) ([]segment, bool) {
	var segs []segment
	i := 0
	first := true
	for i < len(p) {
		switch {
		case p[i] == '[':
			end := strings.IndexByte(p[i:], ']')
			if end < 0 {
				return nil, false
			}
			n, err := strconv.Atoi(strings.TrimSpace(p[i+1 : i+end]))
			if err != nil {
				return nil, false
			}
			segs = append(segs, segment{index: n, isIndex: true})
			i += end + 1
			first = false
			continue
		case p[i] == '.' && !first:
			i++
		case first:
		default:
			return nil, false
		}
		first = false

		if i < len(p) && p[i] == '"' {
			key, n, ok := quotedKey(p[i:])
			if !ok {
				return nil, false
			}
			segs = append(segs, segment{key: key})
			i += n
			continue
		}
		n := identLen(p[i:])
		if n == 0 {
			return nil, false
		}
		segs = append(segs, segment{key: p[i : i+n]})
		i += n
	}
	return segs, true
}

func quotedKey(s string) (string, int, bool) {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			key, err := strconv.Unquote(s[:i+1])
			return key, i + 1, err == nil
		}
	}
	return "", 0, false
}

// rewriter translates statement expressions into expr syntax: event paths
// become event?.a?.b and metadata paths become metadata?.a. It records the
// source byte offset of every emitted rune so engine errors can be mapped back.
type rewriter struct {
	out   strings.Builder
	index []int
}

func (w *rewriter) emit(s string, pos int) {
	w.out.WriteString(s)
	for range utf8.RuneCountInString(s) {
		w.index = append(w.index, pos)
	}
}

func (w *rewriter) copyFrom(src string, base int) {
	for i, r := range src {
		w.out.WriteRune(r)
		w.index = append(w.index, base+i)
	}
}

// position maps a rune index in the rewritten text to a source byte offset.
func (w *rewriter) position(runeIdx, fallback int) int {
	if runeIdx >= 0 && runeIdx < len(w.index) {
		return w.index[runeIdx]
	}
	return fallback
}

func rewrite(text string, base int) *rewriter {
	w := &rewriter{}
	var quote byte
	operand := true

	for i := 0; i < len(text); {
		c := text[i]

		if quote != 0 {
			n := runeLen(text[i:])
			if c == '\\' && i+n < len(text) {
				n += runeLen(text[i+n:])
			} else if c == quote {
				quote = 0
			}
			w.copyFrom(text[i:i+n], base+i)
			i += n
			continue
		}

		switch {
		case c == '?' && i+1 < len(text) && text[i+1] == '.':
			w.copyFrom("?.", base+i)
			i += 2
			continue
		case c == '.' && !operand:
			if i+1 < len(text) && text[i+1] == '.' {
				w.copyFrom("..", base+i)
				i += 2
				operand = true
				continue
			}
		case c == '"' || c == '\'' || c == '`':
			quote = c
			operand = false
		case (c == '.' || c == '%') && operand && !(c == '.' && i+1 < len(text) && isDigit(text[i+1])):
			root := "event"
			if c == '%' {
				root = "metadata"
			}
			w.emit(root, base+i)
			i = w.pathTail(text, i+1, base)
			operand = false
			continue
		case isIdentStart(c):
			n := identLen(text[i:])
			word := text[i : i+n]
			w.copyFrom(word, base+i)
			i += n
			operand = keywordOperators[word]
			continue
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
		case isDigit(c) || c == ')' || c == ']' || c == '}':
			operand = false
		default:
			operand = true
		}

		_, size := utf8.DecodeRuneInString(text[i:])
		w.copyFrom(text[i:i+size], base+i)
		i += size
	}
	return w
}

// pathTail emits the segments following a path sigil and returns the index
// after the path.
func (w *rewriter) pathTail(text string, i, base int) int {
	first := true
	for i < len(text) {
		j := i
		if !first {
			if text[j] != '.' {
				break
			}
			j++
		}
		if j < len(text) && text[j] == '"' {
			_, n, ok := quotedKey(text[j:])
			if !ok {
				break
			}
			w.emit("?.[", base+i)
			w.copyFrom(text[j:j+n], base+j)
			w.emit("]", base+j+n-1)
			i = j + n
			first = false
			continue
		}
		n := identLen(text[j:])
		if n == 0 {
			break
		}
		w.emit("?.", base+i)
		w.copyFrom(text[j:j+n], base+j)
		i = j + n
		first = false
	}
	return i
}

// Words after which an expression operand is expected.
var keywordOperators = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "matches": true,
	"contains": true, "startsWith": true, "endsWith": true,
	"if": true, "else": true, "then": true, "return": true,
}

var reserved = map[string]bool{
	rootEvent: true, rootMetadata: true, "true": true, "false": true, "nil": true,
	"let": true, "if": true, "else": true,
	FnGetSecret: true, FnAssert: true, FnToString: true, FnParseJSON: true,
	FnEncodeJSON: true, FnCurrentTime: true,
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func identLen(s string) int {
	if s == "" || !isIdentStart(s[0]) {
		return 0
	}
	n := 1
	for n < len(s) && (isIdentStart(s[n]) || isDigit(s[n])) {
		n++
	}
	return n
}

func runeLen(s string) int {
	_, size := utf8.DecodeRuneInString(s)
	return size
}

func isIdent(s string) bool {
	return s != "" && identLen(s) == len(s)
}
