package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/issuesync/internal/ir"
)

// RenderText writes the human summary: aggregate counts, then each failed
// item with its code and reason.
func RenderText(w io.Writer, r *ir.SyncRunReport) error {
	var b strings.Builder

	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(&b, "%s %s%s: %s\n", r.Direction, r.Remote, mode, r.Status)
	if r.Project != "" {
		fmt.Fprintf(&b, "  project: %s\n", r.Project)
	}
	fmt.Fprintf(&b, "  created: %d  updated: %d  skipped: %d  failed: %d\n",
		r.Counts.Created, r.Counts.Updated, r.Counts.Skipped, r.Counts.Failed)
	if r.Truncated {
		b.WriteString("  warning: remote results were truncated; rerun with a narrower filter\n")
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "  error: %s\n", r.Error)
	}

	failures := r.Failures()
	if len(failures) > 0 {
		b.WriteString("failures:\n")
		for _, f := range failures {
			fmt.Fprintf(&b, "  %s: [%s] %s\n", itemLabel(f), f.Code, f.Reason)
		}
	}

	var skipped []ir.TaskResult
	for _, res := range r.Results {
		if len(res.SkippedFields) > 0 {
			skipped = append(skipped, res)
		}
	}
	if len(skipped) > 0 {
		b.WriteString("skipped fields:\n")
		for _, res := range skipped {
			for _, fi := range res.SkippedFields {
				fmt.Fprintf(&b, "  %s %s: [%s] %s\n", itemLabel(res), fi.Field, fi.Code, fi.Reason)
			}
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func itemLabel(r ir.TaskResult) string {
	switch {
	case r.TaskID != "" && r.ExternalID != "":
		return r.TaskID + " (" + r.ExternalID + ")"
	case r.TaskID != "":
		return r.TaskID
	default:
		return r.ExternalID
	}
}
