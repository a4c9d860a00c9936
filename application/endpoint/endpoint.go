// Package endpoint implements the run_script job: decode a request envelope,
// compile and run its program, and encode a success or diagnostic envelope.
package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"unicode/utf8"

	"github.com/reglet-dev/wasm-remap/application/validation"
	"github.com/reglet-dev/wasm-remap/domain/entities"
	"github.com/reglet-dev/wasm-remap/domain/ports"
)

// DefaultMaxRequestSize bounds the request envelopes the endpoint accepts.
const DefaultMaxRequestSize = 16 << 20

// Endpoint serves run_script requests with a script engine.
// Handle and HandleError always return a serialized envelope.
type Endpoint struct {
	engine ports.ScriptEngine
	cfg    endpointConfig
}

type endpointConfig struct {
	logger         *slog.Logger
	secrets        map[string]string
	maxRequestSize int
}

func defaultEndpointConfig() endpointConfig {
	return endpointConfig{
		maxRequestSize: DefaultMaxRequestSize,
	}
}

// Option configures an Endpoint.
type Option func(*endpointConfig)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *endpointConfig) {
		c.logger = l
	}
}

// WithSecrets sets the secret store programs read with get_secret.
func WithSecrets(secrets map[string]string) Option {
	return func(c *endpointConfig) {
		c.secrets = maps.Clone(secrets)
	}
}

// WithMaxRequestSize bounds the request size in bytes.
func WithMaxRequestSize(n int) Option {
	return func(c *endpointConfig) {
		c.maxRequestSize = n
	}
}

// New creates an endpoint over engine.
func New(engine ports.ScriptEngine, opts ...Option) *Endpoint {
	cfg := defaultEndpointConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return &Endpoint{engine: engine, cfg: cfg}
}

// Handle runs one request and returns the serialized response.
func (e *Endpoint) Handle(ctx context.Context, request []byte) []byte {
	return e.encode(e.Run(ctx, request))
}

// HandleError returns a serialized single-entry diagnostic for err.
func (e *Endpoint) HandleError(err error) []byte {
	return e.encode(failure(err))
}

// Run runs one request. Malformed requests yield a diagnostic response.
func (e *Endpoint) Run(ctx context.Context, request []byte) *entities.Response {
	req, err := e.DecodeRequest(request)
	if err != nil {
		e.cfg.logger.Debug("endpoint: rejected request", "error", err, "bytes", len(request))
		return failure(err)
	}

	script, diags := e.engine.Compile(req.Program)
	if len(diags) > 0 {
		e.cfg.logger.Debug("endpoint: compilation failed", "diagnostics", len(diags))
		return e.diagnostics(req.Program, diags)
	}

	target := entities.NewTarget(req.Event)
	maps.Copy(target.Secrets, e.cfg.secrets)

	output, diag := script.Run(ctx, target)
	if diag != nil {
		e.cfg.logger.Debug("endpoint: program terminated", "error", diag.Message)
		return e.diagnostics(req.Program, entities.Diagnostics{*diag})
	}
	return entities.NewSuccessResponse(output, target.Event)
}

// DecodeRequest parses and validates a request envelope. The event must be
// an object or null.
func (e *Endpoint) DecodeRequest(request []byte) (*entities.Request, error) {
	if e.cfg.maxRequestSize > 0 && len(request) > e.cfg.maxRequestSize {
		return nil, fmt.Errorf("request of %d bytes exceeds limit of %d", len(request), e.cfg.maxRequestSize)
	}
	if !utf8.Valid(request) {
		return nil, fmt.Errorf("request is not valid utf-8")
	}

	var req entities.Request
	if err := json.Unmarshal(request, &req); err != nil {
		return nil, fmt.Errorf("invalid request envelope: %w", err)
	}
	if err := validation.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid request envelope: %w", err)
	}
	switch req.Event.(type) {
	case nil, map[string]any:
	default:
		return nil, fmt.Errorf("invalid request envelope: event must be an object, got %T", req.Event)
	}
	return &req, nil
}

func (e *Endpoint) diagnostics(source string, diags entities.Diagnostics) *entities.Response {
	return entities.NewDiagnosticResponse(
		diags.Messages(),
		e.engine.Format(source, diags, false),
		e.engine.Format(source, diags, true),
	)
}

func (e *Endpoint) encode(resp *entities.Response) []byte {
	data, err := json.Marshal(resp)
	if err == nil {
		return data
	}

	e.cfg.logger.Warn("endpoint: response not serializable", "error", err)
	data, err = json.Marshal(failure(fmt.Errorf("unable to encode response: %w", err)))
	if err != nil {
		// Unreachable: a diagnostic envelope holds only strings.
		panic(err)
	}
	return data
}

func failure(err error) *entities.Response {
	msg := err.Error()
	return entities.NewDiagnosticResponse([]string{msg}, "error: "+msg, "error: "+msg)
}
