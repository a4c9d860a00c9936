package wazero

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/reglet-dev/wasm-remap/domain/entities"
	"github.com/reglet-dev/wasm-remap/internal/abi"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// DefaultMaxLogSize bounds a single guest log record.
const DefaultMaxLogSize = 64 << 10

// AdapterConfig holds configuration for the host module.
type AdapterConfig struct {
	// Logger receives guest log records. Defaults to slog.Default().
	Logger *slog.Logger

	// ModuleName is the host module name (default: "remap_host").
	ModuleName string

	// CustomHandlers adds functions next to log_message.
	CustomHandlers []CustomHandler

	// MaxLogSize limits the size of a log record read from guest memory.
	MaxLogSize uint32
}

// CustomHandler is an additional host function exported by the host module.
type CustomHandler struct {
	// Handler is the wazero GoModuleFunc implementation.
	Handler api.GoModuleFunc

	// Name is the exported function name.
	Name string

	// ParamTypes are the WASM parameter types.
	ParamTypes []api.ValueType

	// ResultTypes are the WASM result types.
	ResultTypes []api.ValueType
}

// AdapterOption configures the host module.
type AdapterOption func(*AdapterConfig)

// WithHostModuleName sets the host module name (default: "remap_host").
func WithHostModuleName(name string) AdapterOption {
	return func(c *AdapterConfig) {
		c.ModuleName = name
	}
}

// WithMaxLogSize sets the maximum log record size read from guest memory.
func WithMaxLogSize(size uint32) AdapterOption {
	return func(c *AdapterConfig) {
		c.MaxLogSize = size
	}
}

// WithLogger sets the logger guest records are written to.
func WithLogger(logger *slog.Logger) AdapterOption {
	return func(c *AdapterConfig) {
		c.Logger = logger
	}
}

// WithCustomHandler adds a custom wazero handler.
func WithCustomHandler(h CustomHandler) AdapterOption {
	return func(c *AdapterConfig) {
		c.CustomHandlers = append(c.CustomHandlers, h)
	}
}

// defaultAdapterConfig returns the default adapter configuration.
func defaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		ModuleName: abi.HostModule,
		MaxLogSize: DefaultMaxLogSize,
	}
}

// RegisterWithRuntime instantiates the host module in runtime. It exports
// log_message(i64) and any custom handlers.
//
// log_message takes a packed ptr+len of a JSON entities.LogMessageWire in guest
// memory and writes the record to the configured logger, tagged with the
// calling module and the request id from the call context.
func RegisterWithRuntime(ctx context.Context, runtime wazero.Runtime, opts ...AdapterOption) error {
	cfg := defaultAdapterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	builder := runtime.NewHostModuleBuilder(cfg.ModuleName)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			handleLogMessage(ctx, mod, stack, cfg)
		}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{}).
		Export(abi.ImportLogMessage)

	for _, ch := range cfg.CustomHandlers {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(ch.Handler, ch.ParamTypes, ch.ResultTypes).
			Export(ch.Name)
	}

	_, err := builder.Instantiate(ctx)
	return err
}

// handleLogMessage never traps: malformed records are reported on the host
// logger and dropped.
func handleLogMessage(ctx context.Context, mod api.Module, stack []uint64, cfg AdapterConfig) {
	ptr := uint32(stack[0] >> abi.PtrHighBits) //nolint:gosec // G115: packed format stores 32-bit values
	length := uint32(stack[0])                 //nolint:gosec // G115: packed format stores 32-bit values
	module := mod.Name()

	if length > cfg.MaxLogSize {
		cfg.Logger.WarnContext(ctx, "wazero: guest log record too large",
			"module", module, "len", length, "max", cfg.MaxLogSize)
		return
	}

	mem := mod.Memory()
	if mem == nil || (ptr == 0 && length > 0) {
		cfg.Logger.ErrorContext(ctx, "wazero: invalid guest log record", "module", module, "ptr", ptr, "len", length)
		return
	}
	data, ok := mem.Read(ptr, length)
	if !ok {
		cfg.Logger.ErrorContext(ctx, "wazero: failed to read log record from guest memory",
			"module", module, "ptr", ptr, "len", length)
		return
	}

	var wire entities.LogMessageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		cfg.Logger.ErrorContext(ctx, "wazero: failed to decode guest log record", "module", module, "error", err)
		return
	}
	emitGuestRecord(ctx, cfg.Logger, module, wire)
}

func emitGuestRecord(ctx context.Context, logger *slog.Logger, module string, wire entities.LogMessageWire) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(wire.Level)); err != nil {
		level = slog.LevelInfo
	}
	if !logger.Enabled(ctx, level) {
		return
	}

	ts := wire.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	record := slog.NewRecord(ts, level, wire.Message, 0)
	record.AddAttrs(slog.String("module", module))
	if id, ok := RequestIDFromContext(ctx); ok {
		record.AddAttrs(slog.String("request_id", id))
	}
	if wire.Source != "" {
		record.AddAttrs(slog.String("source", wire.Source))
	}
	for _, a := range wire.Attrs {
		record.AddAttrs(wireAttr(a))
	}
	_ = logger.Handler().Handle(ctx, record)
}

// wireAttr restores the scalar kinds of a wire attribute.
func wireAttr(a entities.LogAttrWire) slog.Attr {
	switch a.Type {
	case "int64":
		if v, err := strconv.ParseInt(a.Value, 10, 64); err == nil {
			return slog.Int64(a.Key, v)
		}
	case "uint64":
		if v, err := strconv.ParseUint(a.Value, 10, 64); err == nil {
			return slog.Uint64(a.Key, v)
		}
	case "bool":
		if v, err := strconv.ParseBool(a.Value); err == nil {
			return slog.Bool(a.Key, v)
		}
	case "float64":
		if v, err := strconv.ParseFloat(a.Value, 64); err == nil {
			return slog.Float64(a.Key, v)
		}
	case "duration":
		if v, err := time.ParseDuration(a.Value); err == nil {
			return slog.Duration(a.Key, v)
		}
	case "time":
		if v, err := time.Parse(time.RFC3339Nano, a.Value); err == nil {
			return slog.Time(a.Key, v)
		}
	case "json":
		return slog.Any(a.Key, json.RawMessage(a.Value))
	}
	return slog.String(a.Key, a.Value)
}
