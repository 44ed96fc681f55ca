package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/issuesync/internal/ir"
	"github.com/roach88/issuesync/internal/refs"
)

// AssertionError is returned when an assertion or expectation fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Subject  string // Issue, task or step the check was about
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Subject != "" {
		fmt.Fprintf(&buf, " (%s)", e.Subject)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// checkExpect compares one run against its expect clause. A run without an
// expect clause must end with status ok.
func checkExpect(index int, rec StepRecord, expect *Expect) []string {
	subject := fmt.Sprintf("step %d %s", index, rec.Action)
	rep := rec.Report
	if rep == nil {
		return []string{(&AssertionError{Type: "run", Subject: subject, Expected: "a report", Actual: "nil"}).Error()}
	}

	want := ir.RunStatusOK
	if expect != nil && expect.Status != "" {
		want = expect.Status
	}
	var errs []string
	fail := func(kind, expected, actual string) {
		errs = append(errs, (&AssertionError{Type: kind, Subject: subject, Expected: expected, Actual: actual}).Error())
	}

	if rep.Status != want {
		actual := string(rep.Status)
		if rec.Err != nil {
			actual += ": " + rec.Err.Error()
		}
		fail("status", string(want), actual)
	}
	if expect == nil {
		return errs
	}

	if expect.Code != "" && rep.ErrorCode != expect.Code {
		fail("code", string(expect.Code), string(rep.ErrorCode))
	}
	if expect.Counts != nil && *expect.Counts != rep.Counts {
		fail("counts", formatCounts(*expect.Counts), formatCounts(rep.Counts))
	}
	for _, key := range sortedKeys(expect.Outcomes) {
		res, ok := findResult(rep, key)
		switch {
		case !ok:
			fail("outcome", fmt.Sprintf("%s %s", key, expect.Outcomes[key]), "no result")
		case res.Outcome != expect.Outcomes[key]:
			actual := string(res.Outcome)
			if res.Reason != "" {
				actual += ": " + res.Reason
			}
			fail("outcome", fmt.Sprintf("%s %s", key, expect.Outcomes[key]), actual)
		}
	}
	if expect.MutatingCalls != nil && *expect.MutatingCalls != rec.MutatingCalls {
		fail("mutating_calls", fmt.Sprint(*expect.MutatingCalls),
			fmt.Sprintf("%d %v", rec.MutatingCalls, rec.Mutations))
	}
	return errs
}

// findResult matches key against the task id, then the external id.
func findResult(rep *ir.SyncRunReport, key string) (ir.TaskResult, bool) {
	for _, res := range rep.Results {
		if res.TaskID == key || res.ExternalID == key {
			return res, true
		}
	}
	return ir.TaskResult{}, false
}

func formatCounts(c ir.Counts) string {
	return fmt.Sprintf("created=%d updated=%d skipped=%d failed=%d", c.Created, c.Updated, c.Skipped, c.Failed)
}

// evaluateAssertions checks all assertions against the final state.
// Returns one message per failed assertion.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := h.evaluate(ctx, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, err))
		}
	}
	return errs
}

func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertIssueFields:
		id, err := refs.Normalize(a.Issue, h.remote.Provider)
		if err != nil {
			return err
		}
		fields, ok := h.platform.Issue(id)
		if !ok {
			return &AssertionError{Type: a.Type, Subject: id, Expected: "issue exists", Actual: "not found"}
		}
		return matchFields(a.Type, id, fields, a.Fields)

	case AssertTaskFields:
		task, err := h.store.GetTask(ctx, a.Task)
		if err != nil {
			return &AssertionError{Type: a.Type, Subject: a.Task, Expected: "task exists", Actual: err.Error()}
		}
		return matchFields(a.Type, a.Task, task.Fields, a.Fields)

	case AssertReference:
		task, err := h.store.GetTask(ctx, a.Task)
		if err != nil {
			return &AssertionError{Type: a.Type, Subject: a.Task, Expected: "task exists", Actual: err.Error()}
		}
		provider := a.Provider
		if provider == "" {
			provider = h.remote.Provider
		}
		ref, linked := task.Reference(provider)
		if a.ExternalID == "" {
			if linked {
				return &AssertionError{Type: a.Type, Subject: a.Task, Expected: "no " + string(provider) + " reference", Actual: ref.String()}
			}
			return nil
		}
		want, err := refs.Normalize(a.ExternalID, provider)
		if err != nil {
			return err
		}
		if !linked || ref.ExternalID != want {
			actual := "none"
			if linked {
				actual = ref.String()
			}
			return &AssertionError{Type: a.Type, Subject: a.Task, Expected: string(provider) + ":" + want, Actual: actual}
		}
		return nil

	case AssertIssueCount:
		if n := len(h.platform.IDs()); n != a.Count {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprint(a.Count), Actual: fmt.Sprint(n)}
		}
		return nil

	case AssertTaskCount:
		tasks, err := h.store.ListTasksForProject(ctx, h.project)
		if err != nil {
			return err
		}
		if len(tasks) != a.Count {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprint(a.Count), Actual: fmt.Sprint(len(tasks))}
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// matchFields checks the named fields only. Lists compare as sets but must
// also have the same length, so duplicates are caught. null expects the
// field to be absent.
func matchFields(kind, subject string, got ir.Fields, want map[string]any) error {
	for _, key := range sortedKeys(want) {
		expected, err := ir.FromAny(want[key])
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		actual := got[key]
		if !sameValue(expected, actual) {
			return &AssertionError{
				Type:     kind,
				Subject:  subject,
				Expected: fmt.Sprintf("%s = %s", key, ir.Format(expected)),
				Actual:   fmt.Sprintf("%s = %s", key, ir.Format(actual)),
			}
		}
	}
	return nil
}

func sameValue(a, b ir.Value) bool {
	return ir.Equivalent(a, b) && len(ir.Items(a)) == len(ir.Items(b))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
