package host

import (
	"io"
	"log/slog"
	"time"
)

// Defaults for Config.
const (
	DefaultBufferCapacity = 64 << 10
	DefaultMaxModuleSize  = 64 << 20
)

// Config holds the executor settings. It is validated by NewExecutor and NewInstance.
type Config struct {
	// CacheDir persists compiled modules between runs when set.
	CacheDir string `mapstructure:"cache_dir" yaml:"cache_dir"`

	// CallTimeout bounds every guest call. Zero means no limit.
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout" validate:"gte=0"`

	// MaxModuleSize bounds the wasm binaries Load and LoadFile accept.
	MaxModuleSize int64 `mapstructure:"max_module_size" yaml:"max_module_size" validate:"gt=0"`

	// BufferCapacity is the minimum size of a request buffer. Responses
	// written in place must fit in max(len(request), BufferCapacity).
	BufferCapacity uint32 `mapstructure:"buffer_capacity" yaml:"buffer_capacity" validate:"gte=64"`

	// MemoryLimitPages caps guest memory in 64KiB pages. Zero keeps the engine default.
	MemoryLimitPages uint32 `mapstructure:"memory_limit_pages" yaml:"memory_limit_pages" validate:"lte=65536"`

	// StrictImports rejects modules with unresolved imports instead of
	// binding them to trap stubs.
	StrictImports bool `mapstructure:"strict_imports" yaml:"strict_imports"`

	// RelocatedResponses uses run_script_packed, which returns the response in
	// a separate guest allocation.
	RelocatedResponses bool `mapstructure:"relocated_responses" yaml:"relocated_responses"`

	// ValidateResponses checks run_script responses against the response schema.
	ValidateResponses bool `mapstructure:"validate_responses" yaml:"validate_responses"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BufferCapacity:    DefaultBufferCapacity,
		MaxModuleSize:     DefaultMaxModuleSize,
		ValidateResponses: true,
	}
}

type executorConfig struct {
	logger *slog.Logger
	stderr io.Writer
	Config
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{
		Config: DefaultConfig(),
		logger: slog.Default(),
	}
}

// Option defines a functional option for configuring the Executor and its instances.
type Option func(*executorConfig)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *executorConfig) {
		c.Config = cfg
	}
}

// WithLogger sets the logger for host and guest records.
func WithLogger(logger *slog.Logger) Option {
	return func(c *executorConfig) {
		c.logger = logger
	}
}

// WithGuestStderr forwards guest writes to fd 2 into w. They are discarded
// by default.
func WithGuestStderr(w io.Writer) Option {
	return func(c *executorConfig) {
		c.stderr = w
	}
}

// WithBufferCapacity sets the minimum request buffer size.
func WithBufferCapacity(n uint32) Option {
	return func(c *executorConfig) {
		c.BufferCapacity = n
	}
}

// WithMemoryLimitPages caps guest memory in pages.
func WithMemoryLimitPages(n uint32) Option {
	return func(c *executorConfig) {
		c.MemoryLimitPages = n
	}
}

// WithCallTimeout bounds every guest call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *executorConfig) {
		c.CallTimeout = d
	}
}

// WithStrictImports fails loading on any unresolved import.
func WithStrictImports() Option {
	return func(c *executorConfig) {
		c.StrictImports = true
	}
}

// WithRelocatedResponses makes RunScript use run_script_packed.
func WithRelocatedResponses() Option {
	return func(c *executorConfig) {
		c.RelocatedResponses = true
	}
}

// WithCacheDir persists compiled modules under dir.
func WithCacheDir(dir string) Option {
	return func(c *executorConfig) {
		c.CacheDir = dir
	}
}

// WithMaxModuleSize bounds the accepted wasm binary size.
func WithMaxModuleSize(n int64) Option {
	return func(c *executorConfig) {
		c.MaxModuleSize = n
	}
}

// WithoutResponseValidation skips the schema check of run_script responses.
func WithoutResponseValidation() Option {
	return func(c *executorConfig) {
		c.ValidateResponses = false
	}
}
