package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteContainer(name string) ContainerSpec {
	return ContainerSpec{
		Name: name,
		Settings: `engines:
  - language: sql
    driver: sqlite
    dsn: "{{dir}}/` + name + `.db"
    init:
      - create table if not exists notes (body text)
`,
	}
}

func query(schema, q string) map[string]Values {
	return map[string]Values{"schema": {schema}, "language": {"sql"}, "query": {q}}
}

func TestRun_MinimalScenario(t *testing.T) {
	output := "n\r\n0\r\n"
	scenario := &Scenario{
		Name:       "minimal",
		Containers: []ContainerSpec{sqliteContainer("notes")},
		Steps: []Step{
			{Params: query("notes", "select count(*) as n from notes"), Output: &output},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)

	require.Len(t, result.Steps, 1)
	assert.Equal(t, "flow-1", result.Steps[0].Flow)
	assert.Equal(t, ExpectOK, result.Steps[0].Outcome)

	kinds := make([]string, len(result.Trace))
	for i, e := range result.Trace {
		kinds[i] = e.Kind
		assert.Equal(t, int64(i+1), e.Seq)
	}
	assert.Equal(t, []string{"deployed", "received", "accepted", "executed", "completed"}, kinds)
}

func TestRun_UnexpectedOutcomeFails(t *testing.T) {
	scenario := &Scenario{
		Name:       "mismatch",
		Containers: []ContainerSpec{sqliteContainer("notes")},
		Steps: []Step{
			{Params: query("notes", "select * from missing"), Expect: ExpectOK},
			{Params: query("notes", "select 1"), Expect: ExpectForbidden},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "steps[0]: expected ok, got error")
	assert.Contains(t, result.Errors[1], "steps[1]: expected forbidden, got ok")
}

func TestRun_OutputMismatchFails(t *testing.T) {
	output := "wrong"
	scenario := &Scenario{
		Name:       "output",
		Containers: []ContainerSpec{sqliteContainer("notes")},
		Steps:      []Step{{Params: query("notes", "select 1 as one"), Output: &output}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected output")
}

func TestRun_StateAndRoles(t *testing.T) {
	scenario := &Scenario{
		Name:       "roles",
		FlowPrefix: "r",
		Containers: []ContainerSpec{sqliteContainer("notes")},
		Steps: []Step{
			{Params: map[string]Values{"schema": {"notes"}, "language": {"sql"}, "update": {"insert into notes values (?)"}, "arg": {"hi"}}},
			{Params: map[string]Values{"schema": {"notes"}, "language": {"sql"}, "update": {"delete from notes"}}, Roles: []string{"user"}, Expect: ExpectForbidden},
			{Params: query("notes", "select 1"), Roles: []string{"none"}, Expect: ExpectForbidden},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Schema: "notes", Query: "select body from notes", Expect: "body\nhi\n"},
			{Type: AssertTraceCount, Kind: "failed", Count: 2},
			{Type: AssertTraceContains, Kind: "failed", Flow: "r-2", Attributes: map[string]Values{"reason": {"forbidden"}}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "r-3", result.Steps[2].Flow)

	// The state query runs after the trace snapshot.
	for _, e := range result.Trace {
		assert.NotEqual(t, "state-1", e.Flow)
	}
}

func TestRun_DeployFailure(t *testing.T) {
	scenario := &Scenario{
		Name:       "broken",
		Containers: []ContainerSpec{{Name: "bad", Settings: "engines: []\n"}},
		Steps:      []Step{{Params: query("bad", "select 1")}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "containers[0]: deploy bad")
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/query_lifecycle.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.RenderTrace(), second.RenderTrace())
}
