package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", event)
		}
	}
	return buf.String()
}

// AssertionContext provides what state assertions need.
type AssertionContext struct {
	Ctx context.Context

	// Query runs a CSV query against a deployed schema.
	Query func(ctx context.Context, schema, query string) (string, error)
}

// EvaluateAssertions evaluates every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(actx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

// inFlow returns the events of flow, or all events when flow is empty.
func inFlow(trace []TraceEvent, flow string) []TraceEvent {
	if flow == "" {
		return trace
	}
	var out []TraceEvent
	for _, e := range trace {
		if e.Flow == flow {
			out = append(out, e)
		}
	}
	return out
}

// assertTraceContains checks that an event of the given kind carries the
// expected attributes (subset match).
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, e := range inFlow(trace, a.Flow) {
		if e.Kind == a.Kind && matchAttributes(e.Attributes, a.Attributes) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s event with attributes %v", a.Kind, a.Attributes),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that kinds appear in the given order. Other
// events may appear in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	events := inFlow(trace, a.Flow)
	pos := 0
	for _, want := range a.Kinds {
		idx := slices.IndexFunc(events[pos:], func(e TraceEvent) bool { return e.Kind == want })
		if idx < 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("kinds in order: %v", a.Kinds),
				Actual:   fmt.Sprintf("%s missing after position %d", want, pos),
				Trace:    trace,
			}
		}
		pos += idx + 1
	}
	return nil
}

// assertTraceCount checks that the kind appears exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, e := range inFlow(trace, a.Flow) {
		if e.Kind == a.Kind {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState runs the assertion query against its schema and
// compares the CSV output.
func assertFinalState(actx *AssertionContext, a Assertion) error {
	if actx == nil || actx.Query == nil {
		return fmt.Errorf("final_state assertion requires a query context")
	}
	got, err := actx.Query(actx.Ctx, a.Schema, a.Query)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query %q on %s", a.Query, a.Schema),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	if normalizeCSV(got) != normalizeCSV(a.Expect) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%q", a.Expect),
			Actual:   fmt.Sprintf("%q", got),
		}
	}
	return nil
}

// normalizeCSV makes line endings and the final newline insignificant so
// that expectations can be written as YAML block scalars.
func normalizeCSV(s string) string {
	return strings.TrimRight(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

// matchAttributes reports whether actual contains every expected key with
// exactly the expected values.
func matchAttributes(actual map[string][]string, expected map[string]Values) bool {
	for k, want := range expected {
		if !slices.Equal(actual[k], []string(want)) {
			return false
		}
	}
	return true
}
