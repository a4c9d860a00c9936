package remap

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/expr-lang/expr"
)

// Function names available to programs in addition to the expr built-ins.
const (
	FnGetSecret   = "get_secret"
	FnAssert      = "assert"
	FnToString    = "to_string"
	FnParseJSON   = "parse_json"
	FnEncodeJSON  = "encode_json"
	FnCurrentTime = "current_time"
)

// secretLookup is the signature of get_secret. It is bound per run so that
// programs only see the secrets of their own target.
type secretLookup = func(name string) any

func functionOptions(loc *time.Location) []expr.Option {
	return []expr.Option{
		expr.Function(FnAssert, func(params ...any) (any, error) {
			ok, _ := params[0].(bool)
			if ok {
				return true, nil
			}
			msg := "assertion failed"
			if len(params) > 1 {
				if s, isString := params[1].(string); isString && s != "" {
					msg = s
				}
			}
			return nil, errors.New(msg)
		}, new(func(bool) bool), new(func(bool, string) bool)),

		expr.Function(FnToString, func(params ...any) (any, error) {
			return toString(params[0])
		}, new(func(any) string)),

		expr.Function(FnParseJSON, func(params ...any) (any, error) {
			s, ok := params[0].(string)
			if !ok {
				return nil, fmt.Errorf("parse_json expects a string, got %s", kindOf(params[0]))
			}
			var v any
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				return nil, fmt.Errorf("unable to parse json: %w", err)
			}
			return v, nil
		}, new(func(string) any)),

		expr.Function(FnEncodeJSON, func(params ...any) (any, error) {
			data, err := json.Marshal(params[0])
			if err != nil {
				return nil, fmt.Errorf("unable to encode json: %w", err)
			}
			return string(data), nil
		}, new(func(any) string)),

		expr.Function(FnCurrentTime, func(...any) (any, error) {
			return time.Now().In(loc), nil
		}, new(func() time.Time)),
	}
}

func toString(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case time.Time:
		return val.Format(time.RFC3339Nano), nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("unable to convert %s to string: %w", kindOf(v), err)
		}
		return string(data), nil
	}
}

func lookupSecrets(secrets map[string]string) secretLookup {
	return func(name string) any {
		if v, ok := secrets[name]; ok {
			return v
		}
		return nil
	}
}
