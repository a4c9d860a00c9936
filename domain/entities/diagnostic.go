package entities

import "strings"

// Severity of a diagnostic.
type Severity string

const SeverityError Severity = "error"

// Diagnostic is a source-position-aware script error. Start and End are byte
// offsets into the program source, End exclusive.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Label    string   `json:"label,omitempty"`
	Code     int      `json:"code"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
}

func (d Diagnostic) Error() string {
	return d.Message
}

// Diagnostics is an ordered list of diagnostics for one program.
type Diagnostics []Diagnostic

// Messages returns the plain message of every diagnostic.
func (ds Diagnostics) Messages() []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Message)
	}
	return out
}

func (ds Diagnostics) Error() string {
	return strings.Join(ds.Messages(), "; ")
}

// Target is the execution target of a script: the event document plus
// metadata and a secret store. Scripts mutate Event in place.
type Target struct {
	Event    any               `json:"event"`
	Metadata map[string]any    `json:"metadata"`
	Secrets  map[string]string `json:"-"`
}

// NewTarget wraps an event with empty metadata and secrets.
func NewTarget(event any) *Target {
	if event == nil {
		event = map[string]any{}
	}
	return &Target{
		Event:    event,
		Metadata: map[string]any{},
		Secrets:  map[string]string{},
	}
}
