package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/issuesync/internal/engine"
	"github.com/roach88/issuesync/internal/ir"
	"github.com/roach88/issuesync/internal/report"
)

// SyncOptions holds flags for the pull and push commands.
type SyncOptions struct {
	*RootOptions
	Project     string
	AuthProfile string
	DryRun      bool
	Workers     int
	Strict      bool
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	return newSyncRunCommand(rootOpts, ir.DirectionPull, "Make local tasks match the remote",
		`Fetch every issue of the remote (narrowed by its filter) and reconcile it
with the local task holding its reference. Issues without a linked task
create one. Only mapped fields are written.

Example:
  issuesync pull jira
  issuesync pull github --dry-run --format json`)
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	return newSyncRunCommand(rootOpts, ir.DirectionPush, "Make remote issues match local tasks",
		`Reconcile every task of the local project with its linked remote issue.
Tasks without a reference for the remote's provider create an issue and
store its reference. Only mapped fields are sent.

Example:
  issuesync push jira --project web
  issuesync push github --workers 4 --strict`)
}

func newSyncRunCommand(rootOpts *RootOptions, direction ir.Direction, short, long string) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           string(direction) + " <remote>",
		Short:         short,
		Long:          long,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, direction, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Project, "project", "", "local project (default: from config)")
	cmd.Flags().StringVar(&opts.AuthProfile, "auth-profile", "", "auth profile override")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "compute the report without writing anything")
	cmd.Flags().IntVar(&opts.Workers, "workers", 1, "items reconciled in parallel")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "stop at the first item failure")

	return cmd
}

// runView renders a run report for the formatter.
type runView struct {
	*ir.SyncRunReport
}

func (v runView) RenderText(w io.Writer) error {
	return report.RenderText(w, v.SyncRunReport)
}

func runSync(opts *SyncOptions, direction ir.Direction, remoteName string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if opts.Workers < 1 {
		return formatter.Fail(ExitCommandError, ir.Errorf(ir.CodeConfig, "--workers must be at least 1"), nil)
	}

	a, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return formatter.Fail(ExitCommandError, err, nil)
	}
	defer a.Close()

	remote, err := a.project.Remote(remoteName)
	if err != nil {
		return formatter.Fail(ExitCommandError, err, nil)
	}
	project := opts.Project
	if project == "" {
		project = a.project.Name
	}

	ctx, cancel := signalContext(cmd.Context(), a.logger)
	defer cancel()

	rep, err := a.engine.Run(ctx, remote, direction, engine.Options{
		Project:     project,
		DryRun:      opts.DryRun,
		AuthProfile: opts.AuthProfile,
		Workers:     opts.Workers,
		Strict:      opts.Strict,
		Persist:     a.reports.Persist(),
	})
	if err != nil {
		return formatter.Fail(exitCodeFor(err), err, runView{rep})
	}
	formatter.VerboseLog("run %s: %d item(s)", rep.RunID, rep.Counts.Total())
	return formatter.Success(runView{rep})
}

// NewSyncCommand groups sync utilities.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync configuration utilities",
	}
	cmd.AddCommand(newCheckCommand(rootOpts))
	return cmd
}

type checkOptions struct {
	*RootOptions
	AuthProfile string
	Probe       bool
}

func newCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &checkOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <remote>",
		Short: "Validate a remote's config and credentials",
		Long: `Compile the project config, resolve the remote's credentials and build its
adapter. Nothing is sent over the network unless --probe is given; then the
remote is contacted and one page of issues is fetched with the filter.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.AuthProfile, "auth-profile", "", "auth profile override")
	cmd.Flags().BoolVar(&opts.Probe, "probe", false, "contact the remote")

	return cmd
}

type checkView struct {
	*engine.CheckResult
}

func (v checkView) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "%s (%s %s): ok\n", v.Remote, v.Provider, v.Target)
	fmt.Fprintf(w, "  auth profile: %s\n", v.Profile)
	fmt.Fprintf(w, "  mapping rules: %d\n", v.Rules)
	if v.Probed {
		fmt.Fprintf(w, "  probe: ok, %d issue(s) on the first page\n", v.Sample)
	}
	return nil
}

func runCheck(opts *checkOptions, remoteName string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	a, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return formatter.Fail(ExitCommandError, err, nil)
	}
	defer a.Close()

	remote, err := a.project.Remote(remoteName)
	if err != nil {
		return formatter.Fail(ExitCommandError, err, nil)
	}

	res, err := a.engine.Check(cmd.Context(), remote, opts.AuthProfile, opts.Probe)
	if err != nil {
		return formatter.Fail(ExitCommandError, err, nil)
	}
	return formatter.Success(checkView{res})
}
