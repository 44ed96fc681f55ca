package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/issuesync/internal/report"
	"github.com/roach88/issuesync/internal/web"
)

// NewReportsCommand creates the reports command group.
func NewReportsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Query persisted run reports",
	}
	cmd.AddCommand(newReportsListCommand(rootOpts))
	cmd.AddCommand(newReportsShowCommand(rootOpts))
	cmd.AddCommand(newReportsServeCommand(rootOpts))
	return cmd
}

// openReports loads the project config and returns its report store.
func openReports(opts *RootOptions, cmd *cobra.Command) (*report.Store, error) {
	logger := newLogger(opts.Verbose, cmd.ErrOrStderr())
	project, _, err := loadProject(opts, logger)
	if err != nil {
		return nil, err
	}
	return report.NewStore(project.ReportsDir(), project.Config.PersistReports), nil
}

type entriesView []report.Entry

func (v entriesView) RenderText(w io.Writer) error {
	if len(v) == 0 {
		_, err := fmt.Fprintln(w, "no reports")
		return err
	}
	for _, e := range v {
		if _, err := fmt.Fprintln(w, e.Path); err != nil {
			return err
		}
	}
	return nil
}

func newReportsListCommand(rootOpts *RootOptions) *cobra.Command {
	var remote string
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List reports, newest first per remote",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			reports, err := openReports(rootOpts, cmd)
			if err != nil {
				return formatter.Fail(ExitCommandError, err, nil)
			}
			entries, err := reports.List()
			if err != nil {
				return formatter.Fail(ExitFailure, err, nil)
			}
			filtered := entriesView{}
			for _, e := range entries {
				if remote == "" || e.Remote == remote {
					filtered = append(filtered, e)
				}
			}
			return formatter.Success(filtered)
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "only reports of this remote")
	return cmd
}

func newReportsShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <path>",
		Short: "Print one report",
		Long: `Print one report by the path shown by "reports list".

With --format json the persisted file is written verbatim.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			reports, err := openReports(rootOpts, cmd)
			if err != nil {
				return formatter.Fail(ExitCommandError, err, nil)
			}
			data, rep, err := reports.Get(args[0])
			if err != nil {
				return formatter.Fail(ExitFailure, err, nil)
			}
			if rootOpts.Format == "json" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			return report.RenderText(cmd.OutOrStdout(), rep)
		},
	}
}

func newReportsServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve reports over HTTP",
		Long: `Serve persisted reports as JSON:

  GET /api/reports[?remote=name]
  GET /api/reports/<path>`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			reports, err := openReports(rootOpts, cmd)
			if err != nil {
				return formatter.Fail(ExitCommandError, err, nil)
			}
			logger := newLogger(rootOpts.Verbose, cmd.ErrOrStderr())
			ctx, cancel := signalContext(cmd.Context(), logger)
			defer cancel()

			if err := web.NewServer(reports, logger).Serve(ctx, addr); err != nil {
				return WrapExitError(ExitFailure, "report server", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8089", "listen address")
	return cmd
}
