package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/issuesync/internal/adapter"
	"github.com/roach88/issuesync/internal/ir"
	"github.com/roach88/issuesync/internal/mapping"
	"github.com/roach88/issuesync/internal/refs"
)

// Reconciler applies one direction to one (task, issue) pair at a time.
// Every failure is returned as a failed TaskResult; nothing panics or
// aborts the caller.
type Reconciler struct {
	Provider ir.Provider
	Rules    []ir.MappingRule
	Project  string
	Store    TaskStore
	Remote   adapter.Adapter
	// DryRun marks results computed against stand-ins. Created items then
	// carry no id from the side that was not written.
	DryRun bool
	Logger *slog.Logger
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Pull makes the local store match one remote issue for the mapped fields.
//
//   - no task holds the reference: create a task with every inbound-mapped
//     field and the reference (created)
//   - a task holds it: update only the mapped fields that differ (updated),
//     or do nothing (skipped)
//
// Values missing from an inbound value table skip that field only.
func (r *Reconciler) Pull(ctx context.Context, issue ir.RemoteIssue) ir.TaskResult {
	result := ir.TaskResult{ExternalID: issue.ExternalID}

	externalID, err := refs.Normalize(issue.ExternalID, r.Provider)
	if err != nil {
		return failed(result, err)
	}
	result.ExternalID = externalID

	task, found, err := r.Store.FindByReference(ctx, r.Provider, externalID)
	if err != nil {
		return failed(result, err)
	}

	inbound, issues := mapping.InboundOver(r.Rules, issue.Fields, task.Fields)
	for _, fi := range issues {
		r.logger().Warn("field skipped",
			"external_id", externalID,
			"field", fi.Field,
			"code", fi.Code,
			"reason", fi.Reason)
	}
	result.SkippedFields = issues

	if !found {
		fields := mapping.Compact(inbound)
		ref := ir.ReferenceEntry{Provider: r.Provider, ExternalID: externalID}
		created, err := r.Store.CreateTask(ctx, r.Project, fields, ref)
		if err != nil {
			return failed(result, err)
		}
		result.TaskID = created.ID
		result.Outcome = ir.OutcomeCreated
		result.Changed = sortedKeys(fields)
		return result
	}

	result.TaskID = task.ID
	if !refs.Match(task, r.Provider, ir.RemoteIssue{ExternalID: externalID}) {
		return failed(result, ir.Errorf(ir.CodeLocalStore, "task %s does not hold reference %s", task.ID, externalID))
	}

	changes := mapping.DiffLocal(r.Rules, task.Fields, inbound)
	if len(changes) == 0 {
		result.Outcome = ir.OutcomeSkipped
		return result
	}
	if _, err := r.Store.UpdateTaskFields(ctx, task.ID, changes); err != nil {
		return failed(result, err)
	}
	result.Outcome = ir.OutcomeUpdated
	result.Changed = sortedKeys(changes)
	return result
}

// Push makes the remote match one local task for the mapped fields.
//
//   - the task has no reference for the provider: create an issue with every
//     outbound-mapped field, then attach its reference (created)
//   - it has one: fetch the issue, confirm identity, and send only the
//     mapped fields that differ (updated), or nothing (skipped)
//
// Any value missing from an outbound value table fails the task, unless the
// field is empty on both sides of a linked pair.
func (r *Reconciler) Push(ctx context.Context, task ir.Task) ir.TaskResult {
	result := ir.TaskResult{TaskID: task.ID}

	ref, linked := task.Reference(r.Provider)
	if !linked {
		outbound, err := mapping.Outbound(r.Rules, task.Fields)
		if err != nil {
			return failed(result, err)
		}
		return r.create(ctx, task, outbound, result)
	}

	result.ExternalID = ref.ExternalID
	issue, err := r.Remote.GetIssue(ctx, ref.ExternalID)
	if err != nil {
		return failed(result, err)
	}
	if !refs.Match(task, r.Provider, issue) {
		return failed(result, &ir.Error{
			Code:    ir.CodeInvalidReference,
			Message: fmt.Sprintf("remote returned %q for the linked issue", issue.ExternalID),
			Ref:     ref.String(),
		})
	}

	outbound, err := mapping.OutboundTo(r.Rules, task.Fields, issue.Fields)
	if err != nil {
		return failed(result, err)
	}

	changes := mapping.DiffRemote(r.Rules, issue.Fields, outbound)
	if len(changes) == 0 {
		result.Outcome = ir.OutcomeSkipped
		return result
	}
	if _, err := r.Remote.UpdateIssue(ctx, ref.ExternalID, changes); err != nil {
		return failed(result, err)
	}
	result.Outcome = ir.OutcomeUpdated
	result.Changed = sortedKeys(changes)
	return result
}

func (r *Reconciler) create(ctx context.Context, task ir.Task, outbound ir.Fields, result ir.TaskResult) ir.TaskResult {
	fields := mapping.Compact(outbound)
	issue, err := r.Remote.CreateIssue(ctx, fields)
	if err != nil {
		return failed(result, err)
	}
	result.Changed = sortedKeys(fields)

	if r.DryRun {
		result.Outcome = ir.OutcomeCreated
		return result
	}

	externalID, err := refs.Normalize(issue.ExternalID, r.Provider)
	if err != nil {
		return failed(result, fmt.Errorf("issue created but not linked: %w", err))
	}
	result.ExternalID = externalID

	ref := ir.ReferenceEntry{Provider: r.Provider, ExternalID: externalID}
	if err := r.Store.AttachReference(ctx, task.ID, ref); err != nil {
		r.logger().Error("issue created but reference not stored",
			"task_id", task.ID,
			"external_id", externalID,
			"error", err)
		return failed(result, fmt.Errorf("issue %s created but not linked: %w", externalID, err))
	}
	result.Outcome = ir.OutcomeCreated
	return result
}

func failed(result ir.TaskResult, err error) ir.TaskResult {
	result.Outcome = ir.OutcomeFailed
	result.Code = ir.CodeOf(err)
	result.Reason = err.Error()
	result.Changed = nil
	return result
}

func sortedKeys(fields ir.Fields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
