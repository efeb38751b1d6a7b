package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/datagate/internal/command"
	"github.com/roach88/datagate/internal/config"
	"github.com/roach88/datagate/internal/security"
	"github.com/roach88/datagate/internal/sqlengine"
)

// LocalIdentity is the caller name of commands run without a token.
const LocalIdentity = "local"

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Schema   string
	Language string
	Query    string
	Update   string
	Args     []string
	Params   []string // key=value
	Accept   []string
	Token    string
	Roles    []string
	ReadOnly bool
	Timeout  time.Duration
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Run a command against a deployed schema",
		Long: `Run a query or update against a deployed schema and write the result
to stdout.

Persisted containers are redeployed first. The caller is identified by
--token (verified with $DATAGATE_TOKEN_SECRET) or, without a token, as the
local user with the roles given by --role.

Example:
  datagate invoke --schema sales --query 'select * from orders'
  datagate invoke --schema sales --query 'select * from orders where id = ?' --arg 42 --accept application/json
  datagate invoke --schema sales --update 'delete from orders' --role owner
  datagate invoke --schema sales -p query='select 1' --read-only`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Schema, "schema", "", "schema to run against (required)")
	cmd.Flags().StringVar(&opts.Language, "language", command.SQL.String(), "command language")
	cmd.Flags().StringVar(&opts.Query, "query", "", "query statement")
	cmd.Flags().StringVar(&opts.Update, "update", "", "update statement")
	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "positional statement argument (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "command parameter key=value (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Accept, "accept", nil, "accepted media types in preference order")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token identifying the caller")
	cmd.Flags().StringSliceVar(&opts.Roles, "role", []string{string(security.RoleOwner)}, "roles of the local caller")
	cmd.Flags().BoolVar(&opts.ReadOnly, "read-only", false, "deny mutating commands")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "cancel the command after this duration")
	_ = cmd.MarkFlagRequired("schema")

	return cmd
}

// buildCommand turns the invoke flags into a command. Malformed parameters
// produce an invalid command so that they fail inside the gateway like any
// other usage error.
func buildCommand(opts *InvokeOptions, owner string) command.Command {
	props := map[string][]string{
		command.ParamSchema:   {opts.Schema},
		command.ParamLanguage: {opts.Language},
	}
	if opts.Query != "" {
		props[sqlengine.ParamQuery] = append(props[sqlengine.ParamQuery], opts.Query)
	}
	if opts.Update != "" {
		props[sqlengine.ParamUpdate] = append(props[sqlengine.ParamUpdate], opts.Update)
	}
	if len(opts.Args) > 0 {
		props[sqlengine.ParamArg] = append(props[sqlengine.ParamArg], opts.Args...)
	}
	for _, p := range opts.Params {
		key, value, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return command.Invalid(command.Illegal("param", fmt.Sprintf("%q is not key=value", p)))
		}
		key = strings.TrimSpace(key)
		props[key] = append(props[key], value)
	}
	return command.New(props, opts.Accept, owner)
}

// securityContext identifies the caller from --token or the local roles.
func securityContext(opts *InvokeOptions, env config.Env) (security.Context, error) {
	mode := security.ReadWrite
	if opts.ReadOnly {
		mode = security.ReadOnly
	}

	if opts.Token != "" {
		verifier, err := security.NewTokenVerifier([]byte(env.TokenSecret), env.TokenIssuer)
		if err != nil {
			return security.Context{}, WrapExitError(ExitCommandError, "cannot verify tokens", err)
		}
		id, err := verifier.Verify(opts.Token)
		if err != nil {
			return security.Context{}, WrapExitError(ExitForbidden, "invalid token", err)
		}
		return security.Context{Identity: id, Mode: mode}, nil
	}

	id := security.Identity{Name: LocalIdentity}
	for _, raw := range opts.Roles {
		role, err := security.ParseRole(raw)
		if err != nil {
			return security.Context{}, WrapExitError(ExitCommandError, "invalid role", err)
		}
		id.Roles = append(id.Roles, role)
	}
	if len(id.Roles) == 0 {
		id.Roles = []security.Role{security.RoleNone}
	}
	return security.Context{Identity: id, Mode: mode}, nil
}

func runInvoke(cmd *cobra.Command, opts *InvokeOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	sc, err := securityContext(opts, rt.env)
	if err != nil {
		return err
	}
	if err := rt.start(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to start", err)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	ctx = security.NewContext(ctx, sc)

	out := opts.formatter(cmd)
	mediaType, err := rt.gateway.Invoke(ctx, buildCommand(opts, sc.Identity.Name), cmd.OutOrStdout())
	if err != nil {
		return commandFailed(err)
	}
	out.VerboseLog("media type: %s", mediaType)

	if opts.Verbose {
		lines, err := rt.metricLines()
		if err != nil {
			return WrapExitError(ExitFailure, "failed to gather metrics", err)
		}
		for _, l := range lines {
			out.VerboseLog("%s", l)
		}
	}
	return nil
}
