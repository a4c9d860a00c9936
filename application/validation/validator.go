// Package validation checks envelopes and configuration before they cross
// the guest/host boundary.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/reglet-dev/wasm-remap/application/schema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validate is a package-level singleton for better performance.
// Creating a new validator on each call is expensive; reusing is recommended.
var validate = validator.New()

// Struct validates a struct using its `validate` tags. Field failures are
// joined into one error naming every failing field.
func Struct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(msgs, ", "))
}

// ResponseValidator validates run_script responses against the generated
// response schema.
type ResponseValidator struct {
	schema *jsonschema.Schema
}

var responseValidator = sync.OnceValues(func() (*ResponseValidator, error) {
	doc, err := schema.ResponseSchema()
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schema.ResponseSchemaID, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("failed to add response schema: %w", err)
	}
	sch, err := compiler.Compile(schema.ResponseSchemaID)
	if err != nil {
		return nil, fmt.Errorf("invalid response schema: %w", err)
	}
	return &ResponseValidator{schema: sch}, nil
})

// NewResponseValidator returns the shared response validator. The schema is
// compiled once per process.
func NewResponseValidator() (*ResponseValidator, error) {
	return responseValidator()
}

// Validate checks that data is a JSON document matching exactly one envelope.
func (v *ResponseValidator) Validate(data []byte) error {
	var obj interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}

	if err := v.schema.Validate(obj); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("response does not match schema: %s", ve.Error())
		}
		return err
	}
	return nil
}
