package entities

import (
	"encoding/json"
	"fmt"
)

// Request is the run_script request envelope.
// Program is source text for the script engine; Event is the input document.
type Request struct {
	Event   any    `json:"event" jsonschema:"description=Input document; replaced by the resulting document on success"`
	Program string `json:"program" validate:"required" jsonschema:"description=Script source text,minLength=1"`
}

// ResponseKind is the explicit discriminant carried by every response envelope.
type ResponseKind string

const (
	// ResponseKindSuccess tags a SuccessEnvelope.
	ResponseKindSuccess ResponseKind = "success"

	// ResponseKindDiagnostic tags a DiagnosticEnvelope.
	ResponseKindDiagnostic ResponseKind = "diagnostic"
)

// SuccessEnvelope carries the value of the final expression and the resulting document.
type SuccessEnvelope struct {
	Output any          `json:"output"`
	Result any          `json:"result"`
	Kind   ResponseKind `json:"kind,omitempty" jsonschema:"enum=success"`
}

// DiagnosticEnvelope carries compile or runtime diagnostics.
// List holds one plain message per diagnostic; Msg and MsgColorized hold a full
// rendering of all diagnostics against the original source.
type DiagnosticEnvelope struct {
	Kind         ResponseKind `json:"kind,omitempty" jsonschema:"enum=diagnostic"`
	Msg          string       `json:"msg"`
	MsgColorized string       `json:"msg_colorized"`
	List         []string     `json:"list"`
}

// Response is the tagged union of the two envelopes. Exactly one of Success
// and Diagnostic is set.
type Response struct {
	Success    *SuccessEnvelope
	Diagnostic *DiagnosticEnvelope
}

// NewSuccessResponse builds a success response.
func NewSuccessResponse(output, result any) *Response {
	return &Response{Success: &SuccessEnvelope{
		Kind:   ResponseKindSuccess,
		Output: output,
		Result: result,
	}}
}

// NewDiagnosticResponse builds a diagnostic response.
func NewDiagnosticResponse(list []string, msg, msgColorized string) *Response {
	if list == nil {
		list = []string{}
	}
	return &Response{Diagnostic: &DiagnosticEnvelope{
		Kind:         ResponseKindDiagnostic,
		List:         list,
		Msg:          msg,
		MsgColorized: msgColorized,
	}}
}

// Kind returns the discriminant of the populated envelope.
func (r *Response) Kind() ResponseKind {
	if r.Success != nil {
		return ResponseKindSuccess
	}
	if r.Diagnostic != nil {
		return ResponseKindDiagnostic
	}
	return ""
}

// IsSuccess reports whether the response is a success envelope.
func (r *Response) IsSuccess() bool {
	return r.Success != nil
}

// MarshalJSON writes the populated envelope with its kind tag.
func (r Response) MarshalJSON() ([]byte, error) {
	switch {
	case r.Success != nil:
		env := *r.Success
		env.Kind = ResponseKindSuccess
		return json.Marshal(env)
	case r.Diagnostic != nil:
		env := *r.Diagnostic
		env.Kind = ResponseKindDiagnostic
		if env.List == nil {
			env.List = []string{}
		}
		return json.Marshal(env)
	default:
		return nil, fmt.Errorf("response has no envelope")
	}
}

// UnmarshalJSON reads a tagged envelope. Untagged envelopes written by older
// guests are interpreted as success first and diagnostic second.
func (r *Response) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	kind := ResponseKind("")
	if raw, ok := probe["kind"]; ok {
		if err := json.Unmarshal(raw, &kind); err != nil {
			return fmt.Errorf("invalid kind: %w", err)
		}
	}
	if kind == "" {
		kind = inferKind(probe)
	}

	*r = Response{}
	switch kind {
	case ResponseKindSuccess:
		var env SuccessEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return err
		}
		env.Kind = ResponseKindSuccess
		r.Success = &env
	case ResponseKindDiagnostic:
		var env DiagnosticEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return err
		}
		env.Kind = ResponseKindDiagnostic
		if env.List == nil {
			env.List = []string{}
		}
		r.Diagnostic = &env
	default:
		return fmt.Errorf("unrecognized response envelope (kind %q)", kind)
	}
	return nil
}

func inferKind(probe map[string]json.RawMessage) ResponseKind {
	_, hasOutput := probe["output"]
	_, hasResult := probe["result"]
	if hasOutput || hasResult {
		return ResponseKindSuccess
	}
	_, hasList := probe["list"]
	_, hasMsg := probe["msg"]
	if hasList || hasMsg {
		return ResponseKindDiagnostic
	}
	return ""
}
