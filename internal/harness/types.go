package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/datagate/internal/insight"
)

// TraceEvent is one event of a scenario trace.
type TraceEvent struct {
	Seq        int64               `json:"seq"`
	Flow       string              `json:"flow,omitempty"`
	Kind       string              `json:"kind"`
	Schema     string              `json:"schema,omitempty"`
	Message    string              `json:"message,omitempty"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

func newTraceEvent(e insight.Event) TraceEvent {
	return TraceEvent{
		Seq:        e.Seq,
		Flow:       e.Flow,
		Kind:       string(e.Kind),
		Schema:     e.Schema,
		Message:    e.Message,
		Attributes: e.Attributes,
	}
}

// String renders the event on one line, attributes in key order.
func (e TraceEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s", e.Seq, e.Kind)
	if e.Schema != "" {
		fmt.Fprintf(&b, " schema=%s", e.Schema)
	}
	if e.Flow != "" {
		fmt.Fprintf(&b, " flow=%s", e.Flow)
	}
	keys := insight.Event{Attributes: e.Attributes}.AttributeKeys()
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%q", k, strings.Join(e.Attributes[k], "|"))
	}
	if e.Message != "" {
		fmt.Fprintf(&b, " message=%q", e.Message)
	}
	return b.String()
}

// StepResult is the observed outcome of one step.
type StepResult struct {
	Flow    string `json:"flow"`
	Outcome string `json:"outcome"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step matched its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace holds every emitted event in seq order.
	Trace []TraceEvent `json:"trace"`

	Steps []StepResult `json:"steps"`

	// Errors holds expectation and assertion failures. Empty if Pass.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Steps:  []StepResult{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// RenderTrace renders the trace one event per line.
func (r *Result) RenderTrace() string {
	lines := make([]string, len(r.Trace))
	for i, e := range r.Trace {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}
