package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/datagate/internal/insight"
	"github.com/roach88/datagate/internal/store"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Flow     string
	Schema   string
	AfterSeq int64
	Limit    int
}

// EventView is the printed form of a journaled event.
type EventView struct {
	Seq        int64               `json:"seq"`
	Flow       string              `json:"flow,omitempty"`
	Kind       string              `json:"kind"`
	Schema     string              `json:"schema,omitempty"`
	Message    string              `json:"message,omitempty"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

func newEventView(e insight.Event) EventView {
	return EventView{
		Seq:        e.Seq,
		Flow:       e.Flow,
		Kind:       string(e.Kind),
		Schema:     e.Schema,
		Message:    e.Message,
		Attributes: e.Attributes,
	}
}

// String renders the event on one line with attributes in key order.
func (v EventView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d\t%s\t%s", v.Seq, v.Kind, v.Schema)
	if v.Flow != "" {
		fmt.Fprintf(&b, "\tflow=%s", v.Flow)
	}
	e := insight.Event{Attributes: v.Attributes}
	for _, k := range e.AttributeKeys() {
		fmt.Fprintf(&b, "\t%s=%s", k, strings.Join(v.Attributes[k], ","))
	}
	if v.Message != "" {
		fmt.Fprintf(&b, "\tmessage=%q", v.Message)
	}
	return b.String()
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the event journal",
		Long: `Print journaled events in sequence order.

Every command produces a flow of events (received, accepted, executed,
completed or failed) correlated by a flow token; deployments produce
deployed and dropped events.

Example:
  datagate events --limit 20
  datagate events --flow 019234a5-b678-7def-8123-456789abcdef --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Flow, "flow", "", "only events of this flow")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "only events of this schema")
	cmd.Flags().Int64Var(&opts.AfterSeq, "after", 0, "only events after this seq")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "print at most this many events")

	return cmd
}

func runEvents(cmd *cobra.Command, opts *EventsOptions) error {
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must not be negative")
	}

	env, err := loadEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	st, err := store.Open(env.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	events, err := st.ReadEvents(cmd.Context(), store.EventFilter{
		Flow:     opts.Flow,
		Schema:   opts.Schema,
		AfterSeq: opts.AfterSeq,
		Limit:    opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read events", err)
	}

	views := make([]EventView, len(events))
	for i, e := range events {
		views[i] = newEventView(e)
	}

	out := opts.formatter(cmd)
	if opts.Format == "json" {
		return out.Success(views)
	}
	for _, v := range views {
		if err := out.Success(v); err != nil {
			return err
		}
	}
	return nil
}
