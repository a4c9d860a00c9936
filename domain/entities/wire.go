package entities

import "time"

// LogMessageWire is the JSON wire format of a log record sent from the guest
// through remap_host.log_message.
type LogMessageWire struct {
	Timestamp time.Time     `json:"timestamp"`
	Level     string        `json:"level"`
	Message   string        `json:"message"`
	Attrs     []LogAttrWire `json:"attrs,omitempty"`
	Source    string        `json:"source,omitempty"`
}

// LogAttrWire is a single slog attribute. Value holds the string form; Type
// names the slog kind it came from ("string", "int64", "bool", "float64",
// "time", "duration", "error", "json", "any").
type LogAttrWire struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Value string `json:"value"`
}
