package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/issuesync/internal/config"
	"github.com/roach88/issuesync/internal/ir"
)

// starterConfig is written by init.
const starterConfig = `// issuesync project config.
// Secrets never go here: auth profiles live in ~/.issuesync/config.yaml.

reports: persist: true

remotes: {
	github: {
		provider:     "github"
		repo:         "owner/repo"
		auth_profile: "github"
		mapping: {
			title:  "title"
			body:   "body"
			status: {field: "state", values: {todo: "open", done: "closed"}}
			labels: "labels"
		}
	}
}
`

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "init",
		Short:         "Write a starter .issuesync/config.cue",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			path, err := config.InitProject(rootOpts.Dir, starterConfig)
			if err != nil {
				return formatter.Fail(ExitCommandError, ir.WrapError(ir.CodeConfig, "init project", err), nil)
			}
			rel, relErr := filepath.Rel(rootOpts.Dir, path)
			if relErr != nil {
				rel = path
			}
			return formatter.Success(map[string]string{"config": rel})
		},
	}
}
