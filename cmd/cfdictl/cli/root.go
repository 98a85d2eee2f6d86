// Package cli implements the cfdictl command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cfdilab/cfdilab/internal/app"
)

// RuntimeFactory assembles the services a command needs.
type RuntimeFactory func(ctx context.Context, opts app.Options) (*app.Runtime, error)

// exitError carries a process exit code without printing an extra message.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// DefaultRuntime loads configuration from the environment and builds the runtime.
func DefaultRuntime(ctx context.Context, opts app.Options) (*app.Runtime, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)
	return app.Build(ctx, cfg, logger, opts)
}

// NewRootCommand builds the command tree over the given runtime factory.
func NewRootCommand(factory RuntimeFactory) *cobra.Command {
	root := &cobra.Command{
		Use:   "cfdictl",
		Short: "Operate the CFDI reconciliation service",
		Long: `cfdictl runs maintenance tasks against the configured store:
schema migrations, demo seeding, read-only SQL, dashboard rollups and
ledger integrity checks. Configuration is read from the environment and
from a .env file in the working directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("json", false, "print machine readable JSON")

	root.AddCommand(
		newMigrateCommand(factory),
		newSeedCommand(factory),
		newQueryCommand(factory),
		newDashboardCommand(factory),
		newIntegrityCommand(factory),
		newJobsCommand(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand(DefaultRuntime)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		if exit, ok := err.(exitError); ok {
			return exit.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func withRuntime(cmd *cobra.Command, factory RuntimeFactory, opts app.Options, fn func(*app.Runtime) error) error {
	rt, err := factory(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer rt.Close()
	if rt.Logger != nil {
		rt.Logger.Debug("runtime ready", slog.String("command", cmd.Name()))
	}
	return fn(rt)
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
