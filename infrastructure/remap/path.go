package remap

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// segment is one step of a path: an object key or an array index.
type segment struct {
	key     string
	index   int
	isIndex bool
}

func (s segment) String() string {
	if s.isIndex {
		return "[" + strconv.Itoa(s.index) + "]"
	}
	if isIdent(s.key) {
		return "." + s.key
	}
	return "." + strconv.Quote(s.key)
}

func formatPath(sigil string, segs []segment) string {
	if len(segs) == 0 {
		return sigil
	}
	var b strings.Builder
	for i, s := range segs {
		str := s.String()
		if i == 0 && !s.isIndex {
			str = str[1:]
		}
		b.WriteString(str)
	}
	return sigil + b.String()
}

// setPath stores value at segs below container and returns the updated
// container. Missing objects and arrays are created on the way; arrays are
// padded with nulls when the index is past the end.
func setPath(container any, segs []segment, value any) (any, error) {
	if len(segs) == 0 {
		return value, nil
	}
	seg, rest := segs[0], segs[1:]

	if seg.isIndex {
		var arr []any
		switch c := container.(type) {
		case nil:
		case []any:
			arr = c
		default:
			return nil, fmt.Errorf("cannot index into %s", kindOf(container))
		}

		idx := seg.index
		if idx < 0 {
			idx += len(arr)
			if idx < 0 {
				return nil, fmt.Errorf("index %d out of range for array of length %d", seg.index, len(arr))
			}
		}
		for len(arr) <= idx {
			arr = append(arr, nil)
		}
		child, err := setPath(arr[idx], rest, value)
		if err != nil {
			return nil, err
		}
		arr[idx] = child
		return arr, nil
	}

	var obj map[string]any
	switch c := container.(type) {
	case nil:
		obj = map[string]any{}
	case map[string]any:
		obj = c
	default:
		return nil, fmt.Errorf("cannot set field %q on %s", seg.key, kindOf(container))
	}
	child, err := setPath(obj[seg.key], rest, value)
	if err != nil {
		return nil, err
	}
	obj[seg.key] = child
	return obj, nil
}

// copyValue deep-copies objects and arrays so that assigned values never alias.
func copyValue(v any) any {
	switch c := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(c))
		for k, val := range c {
			out[k] = copyValue(val)
		}
		return out
	case []any:
		out := make([]any, len(c))
		for i, val := range c {
			out[i] = copyValue(val)
		}
		return out
	default:
		return v
	}
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case float32, float64:
		return "float"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case time.Time:
		return "timestamp"
	default:
		return fmt.Sprintf("%T", v)
	}
}
