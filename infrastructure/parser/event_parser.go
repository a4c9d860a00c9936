// Package parser decodes event documents for run_script requests.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/reglet-dev/wasm-remap/domain/ports"
)

// JSONEventParser implements EventParser for JSON. Numbers keep their
// original text so large integers survive the trip to the guest.
type JSONEventParser struct{}

// NewJSONEventParser creates a new JSONEventParser.
func NewJSONEventParser() ports.EventParser {
	return &JSONEventParser{}
}

// Parse decodes exactly one JSON document.
func (p *JSONEventParser) Parse(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var event any
	if err := dec.Decode(&event); err != nil {
		return nil, fmt.Errorf("invalid JSON event: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid JSON event: trailing data after the first document")
	}
	return event, nil
}

// YamlEventParser implements EventParser for YAML. Documents are converted
// to JSON first, so mapping keys must be strings.
type YamlEventParser struct {
	json JSONEventParser
}

// NewYamlEventParser creates a new YamlEventParser.
func NewYamlEventParser() ports.EventParser {
	return &YamlEventParser{}
}

// Parse converts YAML bytes to the equivalent JSON value.
func (p *YamlEventParser) Parse(data []byte) (any, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("invalid YAML event: %w", err)
	}
	return p.json.Parse(jsonData)
}

// ForPath picks a parser by file extension. .yaml and .yml select YAML;
// everything else, including stdin ("-"), is JSON.
func ForPath(path string) ports.EventParser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYamlEventParser()
	default:
		return NewJSONEventParser()
	}
}
