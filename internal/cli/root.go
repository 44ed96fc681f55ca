package cli

import (
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/issuesync/internal/engine"
	"github.com/roach88/issuesync/internal/ir"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Dir     string // Project directory (contains .issuesync)

	// Adapters overrides the adapter factory (for testing).
	// If nil, real GitHub and Jira clients are built.
	Adapters engine.AdapterFactory
	// IDs overrides the run id generator (for testing).
	IDs ir.IDGenerator
	// Now overrides the report clock (for testing).
	Now func() time.Time
	// LookupEnv overrides environment lookups for secrets (for testing).
	LookupEnv func(string) (string, bool)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the issuesync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issuesync",
		Short: "Manually reconcile local tasks with Jira and GitHub issues",
		Long: `issuesync reconciles a local task store with external issue trackers.

Every run is explicit and one-directional: pull makes local tasks match the
remote, push makes remote issues match local tasks. Identity is resolved only
through stored references; field changes follow the remote's mapping.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Dir, "dir", ".", "project directory")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewPullCommand(opts))
	cmd.AddCommand(NewPushCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewReportsCommand(opts))
	cmd.AddCommand(NewTasksCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func (o *RootOptions) adapterFactory() engine.AdapterFactory {
	if o.Adapters != nil {
		return o.Adapters
	}
	return NewAdapterFactory(&http.Client{Timeout: 30 * time.Second})
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
