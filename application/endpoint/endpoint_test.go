package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/reglet-dev/wasm-remap/application/validation"
	"github.com/reglet-dev/wasm-remap/domain/entities"
	"github.com/reglet-dev/wasm-remap/domain/ports"
	"github.com/reglet-dev/wasm-remap/infrastructure/remap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type EndpointSuite struct {
	suite.Suite
	endpoint  *Endpoint
	responses *validation.ResponseValidator
}

func TestEndpointSuite(t *testing.T) {
	suite.Run(t, new(EndpointSuite))
}

func (s *EndpointSuite) SetupTest() {
	engine, err := remap.NewEngine()
	s.Require().NoError(err)
	s.endpoint = New(engine, WithSecrets(map[string]string{"api_key": "k-123"}))

	s.responses, err = validation.NewResponseValidator()
	s.Require().NoError(err)
}

// handle sends a request built from program and event and decodes the response.
func (s *EndpointSuite) handle(program string, event any) *entities.Response {
	request, err := json.Marshal(map[string]any{"program": program, "event": event})
	s.Require().NoError(err)
	return s.handleRaw(string(request))
}

func (s *EndpointSuite) handleRaw(request string) *entities.Response {
	data := s.endpoint.Handle(context.Background(), []byte(request))
	s.Require().NoError(s.responses.Validate(data), "response must match the schema: %s", data)

	var resp entities.Response
	s.Require().NoError(json.Unmarshal(data, &resp))
	return &resp
}

func (s *EndpointSuite) TestAssignField() {
	resp := s.handle(".x = 1", map[string]any{})
	s.Require().True(resp.IsSuccess())
	s.Equal(map[string]any{"x": float64(1)}, resp.Success.Result)
	s.Equal(float64(1), resp.Success.Output)
}

func (s *EndpointSuite) TestInvalidSyntax() {
	resp := s.handle("invalid syntax {{{", map[string]any{})
	s.Require().Equal(entities.ResponseKindDiagnostic, resp.Kind())
	s.NotEmpty(resp.Diagnostic.List)
	s.Contains(resp.Diagnostic.Msg, "invalid syntax {{{")
	s.Contains(resp.Diagnostic.MsgColorized, "\x1b[")
	s.NotContains(resp.Diagnostic.Msg, "\x1b[")
}

func (s *EndpointSuite) TestRuntimeFailureHasOneDiagnostic() {
	resp := s.handle(`.a = 1; assert(.a > 1, "a too small")`, map[string]any{})
	s.Require().Equal(entities.ResponseKindDiagnostic, resp.Kind())
	s.Equal([]string{"a too small"}, resp.Diagnostic.List)
	s.Contains(resp.Diagnostic.Msg, `assert(.a > 1, "a too small")`)
}

func (s *EndpointSuite) TestNullEventBecomesObject() {
	resp := s.handle(`.y = "set"`, nil)
	s.Require().True(resp.IsSuccess())
	s.Equal(map[string]any{"y": "set"}, resp.Success.Result)
}

func (s *EndpointSuite) TestSecrets() {
	resp := s.handle(`.key = get_secret("api_key")`, map[string]any{})
	s.Require().True(resp.IsSuccess())
	s.Equal(map[string]any{"key": "k-123"}, resp.Success.Result)
}

func (s *EndpointSuite) TestMalformedRequests() {
	tests := []struct {
		name    string
		request string
		message string
	}{
		{name: "not json", request: `{"program":`, message: "invalid request envelope"},
		{name: "missing program", request: `{"event":{}}`, message: "Request.Program"},
		{name: "empty program", request: `{"program":"","event":{}}`, message: "Request.Program"},
		{name: "wrong program type", request: `{"program":5,"event":{}}`, message: "invalid request envelope"},
		{name: "array event", request: `{"program":".","event":[1]}`, message: "event must be an object"},
		{name: "scalar event", request: `{"program":".","event":"x"}`, message: "event must be an object"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			resp := s.handleRaw(tt.request)
			s.Require().Equal(entities.ResponseKindDiagnostic, resp.Kind())
			s.Require().Len(resp.Diagnostic.List, 1)
			s.Contains(resp.Diagnostic.List[0], tt.message)
		})
	}
}

func (s *EndpointSuite) TestReadsNestedEventField() {
	resp := s.handle(".b = .a.c", map[string]any{"a": map[string]any{"c": "deep"}})
	s.Require().True(resp.IsSuccess(), "diagnostic: %+v", resp.Diagnostic)
	s.Equal("deep", resp.Success.Output)
	s.Equal(map[string]any{"a": map[string]any{"c": "deep"}, "b": "deep"}, resp.Success.Result)
}

func (s *EndpointSuite) TestLocalArithmetic() {
	resp := s.handle("n = 2\n.y = n * 3\n.z = .base + n", map[string]any{"base": 40})
	s.Require().True(resp.IsSuccess(), "diagnostic: %+v", resp.Diagnostic)
	s.Equal(float64(42), resp.Success.Output)
	s.Equal(map[string]any{"base": float64(40), "y": float64(6), "z": float64(42)}, resp.Success.Result)
}

func (s *EndpointSuite) TestNonFiniteNumberIsLocated() {
	resp := s.handle(".x = 1 / 0", map[string]any{})
	s.Require().Equal(entities.ResponseKindDiagnostic, resp.Kind())
	s.Require().Len(resp.Diagnostic.List, 1)
	s.Contains(resp.Diagnostic.List[0], "NaN or infinite")
	s.Contains(resp.Diagnostic.Msg, ".x = 1 / 0")
	s.Contains(resp.Diagnostic.Msg, "non-finite number")
}

func (s *EndpointSuite) TestUnencodableOutput() {
	e := New(infiniteEngine{})
	data := e.Handle(context.Background(), []byte(`{"program":"x","event":{}}`))
	s.Require().NoError(s.responses.Validate(data))

	var resp entities.Response
	s.Require().NoError(json.Unmarshal(data, &resp))
	s.Require().Equal(entities.ResponseKindDiagnostic, resp.Kind())
	s.Contains(resp.Diagnostic.List[0], "unable to encode response")
}

func (s *EndpointSuite) TestHandleError() {
	data := s.endpoint.HandleError(errors.New("buffer too small"))
	s.Require().NoError(s.responses.Validate(data))

	var resp entities.Response
	s.Require().NoError(json.Unmarshal(data, &resp))
	s.Equal([]string{"buffer too small"}, resp.Diagnostic.List)
	s.Equal("error: buffer too small", resp.Diagnostic.Msg)
}

func TestDecodeRequest_Limits(t *testing.T) {
	engine, err := remap.NewEngine()
	require.NoError(t, err)
	e := New(engine, WithMaxRequestSize(32))

	_, err = e.DecodeRequest([]byte(`{"program":"` + strings.Repeat("x", 64) + `"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")

	_, err = e.DecodeRequest([]byte{'{', 0xff, '}'})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "utf-8")

	req, err := e.DecodeRequest([]byte(`{"program":".","event":{}}`))
	require.NoError(t, err)
	assert.Equal(t, ".", req.Program)
}

// infiniteEngine compiles every program to a script that outputs +Inf.
type infiniteEngine struct{}

func (infiniteEngine) Compile(string) (ports.Script, entities.Diagnostics) {
	return infiniteScript{}, nil
}

func (infiniteEngine) Format(string, entities.Diagnostics, bool) string { return "" }

type infiniteScript struct{}

func (infiniteScript) Run(context.Context, *entities.Target) (any, *entities.Diagnostic) {
	return math.Inf(1), nil
}
