package log

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"time"

	"github.com/reglet-dev/wasm-remap/domain/entities"
)

// newLogMessage builds the wire form of record, including the handler's
// accumulated attributes.
func (h *WasmLogHandler) newLogMessage(record slog.Record) entities.LogMessageWire {
	msg := entities.LogMessageWire{
		Timestamp: record.Time,
		Level:     record.Level.String(),
		Message:   record.Message,
	}

	for _, attr := range h.attrs {
		msg.Attrs = appendAttrWire(msg.Attrs, "", attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		msg.Attrs = appendAttrWire(msg.Attrs, "", h.qualify(attr))
		return true
	})

	if h.opts.addSource && record.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{record.PC})
		frame, _ := frames.Next()
		if frame.File != "" {
			msg.Source = frame.File + ":" + strconv.Itoa(frame.Line)
		}
	}
	return msg
}

// appendAttrWire flattens groups into dotted keys.
func appendAttrWire(dst []entities.LogAttrWire, prefix string, attr slog.Attr) []entities.LogAttrWire {
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() != slog.KindGroup {
		wire := toLogAttrWire(attr)
		wire.Key = prefix + wire.Key
		return append(dst, wire)
	}

	group := attr.Value.Group()
	if attr.Key != "" {
		prefix += attr.Key + "."
	}
	for _, member := range group {
		dst = appendAttrWire(dst, prefix, member)
	}
	return dst
}

// toLogAttrWire converts a slog.Attr to LogAttrWire.
func toLogAttrWire(attr slog.Attr) entities.LogAttrWire {
	wire := entities.LogAttrWire{
		Key: attr.Key,
	}
	attr.Value = attr.Value.Resolve()

	switch attr.Value.Kind() {
	case slog.KindString:
		wire.Type = "string"
		wire.Value = attr.Value.String()
	case slog.KindInt64:
		wire.Type = "int64"
		wire.Value = strconv.FormatInt(attr.Value.Int64(), 10)
	case slog.KindUint64:
		wire.Type = "uint64"
		wire.Value = strconv.FormatUint(attr.Value.Uint64(), 10)
	case slog.KindBool:
		wire.Type = "bool"
		wire.Value = strconv.FormatBool(attr.Value.Bool())
	case slog.KindFloat64:
		wire.Type = "float64"
		wire.Value = strconv.FormatFloat(attr.Value.Float64(), 'g', -1, 64)
	case slog.KindTime:
		wire.Type = "time"
		wire.Value = attr.Value.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		wire.Type = "duration"
		wire.Value = attr.Value.Duration().String()
	case slog.KindAny:
		v := attr.Value.Any()
		if v == nil {
			wire.Type = "any"
			wire.Value = "<nil>"
			break
		}
		if err, isErr := v.(error); isErr {
			wire.Type = "error"
			wire.Value = err.Error()
		} else if data, marshalErr := json.Marshal(v); marshalErr == nil {
			wire.Type = "json"
			wire.Value = string(data)
		} else {
			wire.Type = "any"
			wire.Value = fmt.Sprintf("%v", v)
		}
	default:
		wire.Type = "any"
		wire.Value = fmt.Sprintf("%v", attr.Value.Any())
	}
	return wire
}
