package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/datagate/internal/catalog"
	"github.com/roach88/datagate/internal/command"
	"github.com/roach88/datagate/internal/config"
	"github.com/roach88/datagate/internal/store"
)

// SchemaInfo describes one deployed or persisted container.
type SchemaInfo struct {
	Schema      string   `json:"schema"`
	Identifier  string   `json:"identifier"`
	Fingerprint string   `json:"fingerprint"`
	Languages   []string `json:"languages"`
	Revision    int64    `json:"revision,omitempty"`
}

func (s SchemaInfo) String() string {
	return fmt.Sprintf("%s\t%s\t%s\t%s", s.Schema, strings.Join(s.Languages, ","), s.Identifier, s.Fingerprint)
}

// NewDeployCommand creates the deploy command.
func NewDeployCommand(rootOpts *RootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "deploy <schema> <settings-file>",
		Short: "Deploy or replace a container",
		Long: `Deploy the container described by a settings file under a schema name,
replacing any container already deployed under that name.

The settings format is taken from the file extension (.yaml, .yml, .cue,
.json) unless --settings-format is given. The canonical settings are
persisted and redeployed by every later command.

Example:
  datagate deploy sales ./sales.yaml
  datagate deploy --db ./gate.db sales ./sales.cue`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd, rootOpts, args[0], args[1], format)
		},
	}

	cmd.Flags().StringVar(&format, "settings-format", "", "settings format (yaml|cue|json), default from extension")

	return cmd
}

func runDeploy(cmd *cobra.Command, opts *RootOptions, schema, path, format string) error {
	name, err := command.ParseId(schema)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid schema name", err)
	}

	var f config.Format
	if format != "" {
		f, err = config.ParseFormat(format)
	} else {
		f, err = config.FormatFromPath(path)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "unknown settings format", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read settings", err)
	}

	rt, err := openRuntime(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	c, err := rt.director.CreateNewOrReplace(cmd.Context(), name, f, raw)
	if err != nil {
		return WrapExitError(ExitCodeFor(err), "deploy failed", err)
	}

	return opts.formatter(cmd).Success(SchemaInfo{
		Schema:      c.Name().String(),
		Identifier:  c.Identifier(),
		Fingerprint: c.Fingerprint(),
		Languages:   c.Languages(),
	})
}

// NewDisposeCommand creates the dispose command.
func NewDisposeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dispose <schema>",
		Short: "Undeploy a container and forget its settings",
		Long: `Undeploy the container of a schema and delete its persisted settings.

Settings that can no longer be deployed (for example because the backend
is unreachable) are deleted as well.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispose(cmd, rootOpts, args[0])
		},
	}
}

func runDispose(cmd *cobra.Command, opts *RootOptions, schema string) error {
	name, err := command.ParseId(schema)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid schema name", err)
	}

	rt, err := openRuntime(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.director.Start(cmd.Context()); err != nil {
		return WrapExitError(ExitFailure, "failed to start director", err)
	}

	err = rt.director.Dispose(cmd.Context(), name)
	var missing *catalog.NoSuchContainerError
	if errors.As(err, &missing) {
		// Not deployable, but settings may still be persisted.
		if _, ferr := rt.store.FindConfig(cmd.Context(), name.String(), catalog.SettingsConfigName); ferr != nil {
			if errors.Is(ferr, store.ErrConfigNotFound) {
				return WrapExitError(ExitCommandError, "dispose failed", err)
			}
			return WrapExitError(ExitFailure, "dispose failed", ferr)
		}
		err = rt.store.ClearConfigs(cmd.Context(), name.String())
	}
	if err != nil {
		return WrapExitError(ExitFailure, "dispose failed", err)
	}

	return opts.formatter(cmd).Success(fmt.Sprintf("disposed %s", name))
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List persisted containers",
		Long: `List the containers whose settings are persisted, one per line:
schema, languages, identifier and settings fingerprint.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, rootOpts)
		},
	}
}

func runList(cmd *cobra.Command, opts *RootOptions) error {
	env, err := loadEnv(opts)
	if err != nil {
		return err
	}
	st, err := store.Open(env.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	stored, err := st.FindAllConfigs(cmd.Context(), catalog.SettingsConfigName)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read settings", err)
	}

	schemas := make([]SchemaInfo, 0, len(stored))
	for _, sc := range stored {
		settings, err := config.FromJSON(sc.Content)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("corrupt settings for %s", sc.Qualifier), err)
		}
		fp, err := config.Fingerprint(settings)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("corrupt settings for %s", sc.Qualifier), err)
		}
		schemas = append(schemas, SchemaInfo{
			Schema:      sc.Qualifier,
			Identifier:  settings.Identifier,
			Fingerprint: fp,
			Languages:   settings.Languages(),
			Revision:    sc.Revision,
		})
	}

	out := opts.formatter(cmd)
	if opts.Format == "json" {
		return out.Success(schemas)
	}
	for _, s := range schemas {
		if err := out.Success(s); err != nil {
			return err
		}
	}
	return nil
}
