package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/issuesync/internal/config"
	"github.com/roach88/issuesync/internal/ir"
	"github.com/roach88/issuesync/internal/refs"
	"github.com/roach88/issuesync/internal/store"
)

// NewTasksCommand creates the tasks command group: the minimal local-store
// operations around sync.
func NewTasksCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and edit local tasks",
	}
	cmd.AddCommand(newTasksListCommand(rootOpts))
	cmd.AddCommand(newTasksAddCommand(rootOpts))
	cmd.AddCommand(newTasksUnlinkCommand(rootOpts))
	return cmd
}

// openStore loads the project config and opens its task store.
func openStore(opts *RootOptions, cmd *cobra.Command) (*config.Project, *store.Store, error) {
	logger := newLogger(opts.Verbose, cmd.ErrOrStderr())
	project, _, err := loadProject(opts, logger)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(project.StorePath())
	if err != nil {
		return nil, nil, err
	}
	return project, st, nil
}

type tasksView []ir.Task

func (v tasksView) RenderText(w io.Writer) error {
	if len(v) == 0 {
		_, err := fmt.Fprintln(w, "no tasks")
		return err
	}
	for _, t := range v {
		if err := taskView(t).RenderText(w); err != nil {
			return err
		}
	}
	return nil
}

type taskView ir.Task

func (t taskView) RenderText(w io.Writer) error {
	var b strings.Builder
	b.WriteString(t.ID)
	for _, ref := range t.References {
		b.WriteString(" " + ref.String())
	}
	b.WriteString("\n")
	for _, k := range t.Fields.SortedKeys() {
		fmt.Fprintf(&b, "  %s: %s\n", k, ir.Format(t.Fields[k]))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func newTasksListCommand(rootOpts *RootOptions) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List the tasks of a local project",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			p, st, err := openStore(rootOpts, cmd)
			if err != nil {
				return formatter.Fail(ExitCommandError, err, nil)
			}
			defer st.Close()

			if project == "" {
				project = p.Name
			}
			tasks, err := st.ListTasksForProject(cmd.Context(), project)
			if err != nil {
				return formatter.Fail(ExitFailure, err, nil)
			}
			return formatter.Success(tasksView(tasks))
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "local project (default: from config)")
	return cmd
}

func newTasksAddCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		project string
		fields  []string
		links   []string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a local task",
		Long: `Create a local task. Field values are YAML scalars or flow lists:

  issuesync tasks add --field title="Fix login" --field status=todo --field labels=[bug,ui]
  issuesync tasks add --field title=Imported --ref jira:PROJ-12`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			parsed, err := parseFieldFlags(fields)
			if err != nil {
				return formatter.Fail(ExitCommandError, err, nil)
			}
			var entries []ir.ReferenceEntry
			for _, raw := range links {
				ref, err := refs.Parse(raw)
				if err != nil {
					return formatter.Fail(ExitCommandError, err, nil)
				}
				entries = append(entries, ref)
			}

			p, st, err := openStore(rootOpts, cmd)
			if err != nil {
				return formatter.Fail(ExitCommandError, err, nil)
			}
			defer st.Close()

			if project == "" {
				project = p.Name
			}
			task, err := st.CreateTask(cmd.Context(), project, parsed, entries...)
			if err != nil {
				return formatter.Fail(ExitFailure, err, nil)
			}
			return formatter.Success(taskView(task))
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "local project (default: from config)")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "field as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&links, "ref", nil, "reference as provider:id (repeatable)")
	return cmd
}

func newTasksUnlinkCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <task-id> <provider>",
		Short: "Remove a task's reference for a provider",
		Long: `Remove a task's reference for a provider. The next pull treats the
remote issue as unlinked and creates a new task for it; the next push creates
a new remote issue for this task.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			provider := ir.Provider(strings.ToLower(args[1]))
			if !refs.ValidProvider(provider) {
				return formatter.Fail(ExitCommandError, ir.Errorf(ir.CodeConfig, "unknown provider %q", args[1]), nil)
			}

			_, st, err := openStore(rootOpts, cmd)
			if err != nil {
				return formatter.Fail(ExitCommandError, err, nil)
			}
			defer st.Close()

			if err := st.DeleteReference(cmd.Context(), args[0], provider); err != nil {
				return formatter.Fail(ExitFailure, err, nil)
			}
			task, err := st.GetTask(cmd.Context(), args[0])
			if err != nil {
				return formatter.Fail(ExitFailure, err, nil)
			}
			return formatter.Success(taskView(task))
		},
	}
}

// parseFieldFlags turns key=value flags into fields. Values are decoded as
// YAML so "3" is an integer, "true" a bool and "[a, b]" a list.
func parseFieldFlags(flags []string) (ir.Fields, error) {
	fields := ir.Fields{}
	for _, flag := range flags {
		key, raw, ok := strings.Cut(flag, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, ir.Errorf(ir.CodeConfig, "invalid --field %q, expected key=value", flag)
		}
		v, err := parseFieldValue(raw)
		if err != nil {
			return nil, &ir.Error{Code: ir.CodeConfig, Message: "invalid --field value", Field: key, Err: err}
		}
		fields[key] = v
	}
	return fields, nil
}

func parseFieldValue(raw string) (ir.Value, error) {
	if strings.TrimSpace(raw) == "" {
		return ir.String(""), nil
	}
	var decoded any
	if err := yaml.Unmarshal([]byte(raw), &decoded); err != nil {
		return ir.String(raw), nil
	}
	switch decoded.(type) {
	case map[string]any:
		return ir.String(raw), nil
	case float64:
		return nil, fmt.Errorf("floats are not supported: %s", raw)
	}
	return ir.FromAny(decoded)
}
