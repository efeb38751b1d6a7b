package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/datagate/internal/command"
	"github.com/roach88/datagate/internal/security"
)

// Scenario defines a gateway scenario: containers to deploy, commands to
// run against them and assertions on the resulting event trace.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// FlowPrefix prefixes the flow tokens of the steps: step i runs as
	// "<prefix>-<i>". Defaults to "flow".
	FlowPrefix string `yaml:"flow_prefix,omitempty"`

	// Containers are deployed in order before the first step.
	Containers []ContainerSpec `yaml:"containers"`

	// Steps run sequentially, each as one command.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final backend state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ContainerSpec is a container deployed by the scenario.
//
// Settings are YAML container settings. The placeholder {{dir}} is replaced
// with a temporary directory private to the run, so that file-backed
// engines do not leak between runs.
type ContainerSpec struct {
	Name     string `yaml:"name"`
	Settings string `yaml:"settings"`
}

// Step is one command and its expected outcome.
type Step struct {
	// Params are the command properties. A scalar value is shorthand for a
	// one-element list.
	Params map[string]Values `yaml:"params"`

	Accept []string `yaml:"accept,omitempty"`

	// Roles of the caller. Defaults to owner.
	Roles []string `yaml:"roles,omitempty"`

	ReadOnly bool `yaml:"read_only,omitempty"`

	// Expect is the outcome class: ok, usage, forbidden or error.
	// Defaults to ok.
	Expect string `yaml:"expect,omitempty"`

	// Output, when set, must equal the written result of a successful step.
	Output *string `yaml:"output,omitempty"`
}

// Values is a multi-valued parameter.
type Values []string

// UnmarshalYAML accepts a scalar or a sequence of scalars.
func (v *Values) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*v = Values{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*v = list
		return nil
	default:
		return fmt.Errorf("line %d: parameter must be a string or a list of strings", node.Line)
	}
}

// Expected outcome classes.
const (
	ExpectOK        = "ok"
	ExpectUsage     = "usage"
	ExpectForbidden = "forbidden"
	ExpectError     = "error"
)

// Assertion validates the trace or the final backend state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Kind is the event kind (trace_contains, trace_count).
	Kind string `yaml:"kind,omitempty"`

	// Flow restricts trace assertions to one flow.
	Flow string `yaml:"flow,omitempty"`

	// Attributes are expected event attributes, subset match (trace_contains).
	Attributes map[string]Values `yaml:"attributes,omitempty"`

	// Kinds is the expected kind order (trace_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// Count is the expected number of matching events (trace_count).
	Count int `yaml:"count,omitempty"`

	// Schema and Query select the state to check (final_state); Expect is
	// the CSV the query must produce.
	Schema string `yaml:"schema,omitempty"`
	Query  string `yaml:"query,omitempty"`
	Expect string `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so that typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !command.IsValidLabel(s.Name) {
		return fmt.Errorf("name %q must be usable as a file name", s.Name)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, c := range s.Containers {
		if _, err := command.ParseId(c.Name); err != nil {
			return fmt.Errorf("containers[%d]: %w", i, err)
		}
		if c.Settings == "" {
			return fmt.Errorf("containers[%d]: settings is required", i)
		}
	}

	for i, step := range s.Steps {
		switch step.Expect {
		case "", ExpectOK, ExpectUsage, ExpectForbidden, ExpectError:
		default:
			return fmt.Errorf("steps[%d]: unknown expect %q", i, step.Expect)
		}
		for _, r := range step.Roles {
			if _, err := security.ParseRole(r); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
		}
		if step.Output != nil && step.Expect != "" && step.Expect != ExpectOK {
			return fmt.Errorf("steps[%d]: output requires expect ok", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Schema == "" || a.Query == "" {
			return fmt.Errorf("assertions[%d]: schema and query are required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
