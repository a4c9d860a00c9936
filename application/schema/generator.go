// Package schema generates JSON schemas for the run_script envelopes.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/reglet-dev/wasm-remap/domain/entities"
)

// ResponseSchemaID identifies the response schema when it is compiled for validation.
const ResponseSchemaID = "https://reglet.dev/schemas/remap/response.json"

// GenerateSchema creates a JSON schema from a Go struct.
// It uses the `invopop/jsonschema` library to reflect on the struct
// and generate a standard JSON Schema (Draft 2020-12).
func GenerateSchema(v interface{}) ([]byte, error) {
	return marshal(reflectSchema(v))
}

// RequestSchema returns the schema of the run_script request envelope.
func RequestSchema() ([]byte, error) {
	return GenerateSchema(entities.Request{})
}

// ResponseSchema returns the schema of a run_script response: exactly one of
// the success and diagnostic envelopes.
func ResponseSchema() ([]byte, error) {
	success := reflectSchema(entities.SuccessEnvelope{})
	diagnostic := reflectSchema(entities.DiagnosticEnvelope{})
	for _, s := range []*jsonschema.Schema{success, diagnostic} {
		s.Version = ""
		s.Definitions = nil
	}

	return marshal(&jsonschema.Schema{
		Version: jsonschema.Version,
		ID:      ResponseSchemaID,
		Title:   "run_script response",
		OneOf:   []*jsonschema.Schema{success, diagnostic},
	})
}

func reflectSchema(v interface{}) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true, // Expand struct definitions inline
		Anonymous:      true,
	}
	return reflector.Reflect(v)
}

func marshal(s *jsonschema.Schema) ([]byte, error) {
	jsonBytes, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return jsonBytes, nil
}
