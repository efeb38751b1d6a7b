package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/datagate/internal/catalog"
	"github.com/roach88/datagate/internal/command"
	"github.com/roach88/datagate/internal/config"
	"github.com/roach88/datagate/internal/connector"
	"github.com/roach88/datagate/internal/insight"
	"github.com/roach88/datagate/internal/security"
	"github.com/roach88/datagate/internal/sqlengine"
	"github.com/roach88/datagate/internal/store"
)

// DirPlaceholder in container settings is replaced with the run directory.
const DirPlaceholder = "{{dir}}"

// Harness runs one scenario against a real director and gateway.
// Flow tokens and seq numbers are deterministic, so identical scenarios
// produce identical traces.
type Harness struct {
	dir      string
	store    *store.Store
	recorder *insight.Recorder
	director *catalog.Director
	gateway  *connector.Gateway
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each run uses a fresh temporary directory holding the config store and
// any file-backed containers:
//  1. deploy the containers
//  2. run the steps in order and compare outcomes with expectations
//  3. snapshot the trace
//  4. evaluate the assertions
//
// An error is returned only when the scenario cannot run at all, for
// example when a container fails to deploy.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	h, err := newHarness(ctx, scenario)
	if err != nil {
		return nil, err
	}
	defer h.close()

	for i, c := range scenario.Containers {
		settings := strings.ReplaceAll(c.Settings, DirPlaceholder, h.dir)
		if _, err := h.director.CreateNewOrReplace(ctx, command.Id(c.Name), config.FormatYAML, []byte(settings)); err != nil {
			return nil, fmt.Errorf("containers[%d]: deploy %s: %w", i, c.Name, err)
		}
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		sr := h.runStep(ctx, step, flowToken(scenario, i))
		result.Steps = append(result.Steps, sr)

		want := step.Expect
		if want == "" {
			want = ExpectOK
		}
		if sr.Outcome != want {
			result.AddError(fmt.Sprintf("steps[%d]: expected %s, got %s: %s", i, want, sr.Outcome, sr.Error))
			continue
		}
		if step.Output != nil && sr.Output != *step.Output {
			result.AddError(fmt.Sprintf("steps[%d]: expected output %q, got %q", i, *step.Output, sr.Output))
		}
	}

	for _, e := range h.recorder.Events() {
		result.Trace = append(result.Trace, newTraceEvent(e))
	}

	actx := &AssertionContext{Ctx: ctx, Query: h.query}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(ctx context.Context, scenario *Scenario) (*Harness, error) {
	dir, err := os.MkdirTemp("", "datagate-harness-")
	if err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	st, err := store.Open(filepath.Join(dir, "harness.db"))
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	h := &Harness{
		dir:      dir,
		store:    st,
		recorder: insight.NewRecorder(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	events := insight.Stamp(insight.NewClock(), h.recorder)

	h.director = catalog.NewDirector(catalog.New(events), catalog.NewAssembler(), st)

	authz, err := security.NewAuthorizer()
	if err != nil {
		h.close()
		return nil, err
	}
	h.gateway, err = connector.NewGateway(connector.GatewayOptions{
		Router:     catalog.NewRouter(h.director.Catalog()),
		Authorizer: authz,
		Events:     events,
		Tokens:     insight.NewFixedGenerator(tokens(scenario)...),
		Workers:    4,
	})
	if err != nil {
		h.close()
		return nil, err
	}
	return h, nil
}

func (h *Harness) close() {
	if h.gateway != nil {
		if err := h.gateway.Close(); err != nil {
			h.logger.Warn("worker pool did not drain", "error", err)
		}
	}
	if h.director != nil {
		h.director.Shutdown()
	}
	if err := h.store.Close(); err != nil {
		h.logger.Warn("failed to close store", "error", err)
	}
	os.RemoveAll(h.dir)
}

// tokens returns one flow token per step followed by one per final_state
// assertion.
func tokens(s *Scenario) []string {
	out := make([]string, 0, len(s.Steps)+len(s.Assertions))
	for i := range s.Steps {
		out = append(out, flowToken(s, i))
	}
	for i, a := range s.Assertions {
		if a.Type == AssertFinalState {
			out = append(out, fmt.Sprintf("state-%d", i+1))
		}
	}
	return out
}

func flowToken(s *Scenario, step int) string {
	prefix := s.FlowPrefix
	if prefix == "" {
		prefix = "flow"
	}
	return fmt.Sprintf("%s-%d", prefix, step+1)
}

func (h *Harness) runStep(ctx context.Context, step Step, flow string) StepResult {
	roles := step.Roles
	if len(roles) == 0 {
		roles = []string{string(security.RoleOwner)}
	}
	id := security.Identity{Name: "harness"}
	for _, r := range roles {
		role, _ := security.ParseRole(r) // validated on load
		id.Roles = append(id.Roles, role)
	}
	mode := security.ReadWrite
	if step.ReadOnly {
		mode = security.ReadOnly
	}

	props := make(map[string][]string, len(step.Params))
	for k, vs := range step.Params {
		props[k] = vs
	}

	var out bytes.Buffer
	ctx = security.NewContext(ctx, security.Context{Identity: id, Mode: mode})
	_, err := h.gateway.Invoke(ctx, command.New(props, step.Accept, id.Name), &out)

	sr := StepResult{Flow: flow, Outcome: outcome(err), Output: out.String()}
	if err != nil {
		sr.Error = err.Error()
	}
	h.logger.Info("step completed", "flow", flow, "outcome", sr.Outcome)
	return sr
}

// query runs a CSV query as an administrator.
func (h *Harness) query(ctx context.Context, schema, query string) (string, error) {
	ctx = security.NewContext(ctx, security.Context{
		Identity: security.Identity{Name: "harness", Roles: []security.Role{security.RoleAdmin}},
		Mode:     security.ReadOnly,
	})
	cmd := command.New(map[string][]string{
		command.ParamSchema:   {schema},
		command.ParamLanguage: {command.SQL.String()},
		sqlengine.ParamQuery:  {query},
	}, []string{sqlengine.MediaTypeCSV}, "harness")

	var out bytes.Buffer
	if _, err := h.gateway.Invoke(ctx, cmd, &out); err != nil {
		return "", err
	}
	return out.String(), nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return ExpectOK
	case command.IsUsage(err):
		return ExpectUsage
	case security.IsForbidden(err):
		return ExpectForbidden
	default:
		return ExpectError
	}
}
