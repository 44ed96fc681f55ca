package engine

import (
	"context"

	"github.com/roach88/issuesync/internal/adapter"
	"github.com/roach88/issuesync/internal/ir"
)

// Dry runs compute exactly what a real run would, against stand-ins whose
// mutating calls change nothing. Reads go to the real store and remote.

// dryAdapter forwards reads and answers writes with the issue that would
// have resulted. Created issues have no external id.
type dryAdapter struct {
	inner adapter.Adapter
}

func (d dryAdapter) FetchPage(ctx context.Context, filter, cursor string) (adapter.Page, error) {
	return d.inner.FetchPage(ctx, filter, cursor)
}

func (d dryAdapter) GetIssue(ctx context.Context, externalID string) (ir.RemoteIssue, error) {
	return d.inner.GetIssue(ctx, externalID)
}

func (d dryAdapter) CreateIssue(_ context.Context, fields ir.Fields) (ir.RemoteIssue, error) {
	return ir.RemoteIssue{Fields: fields.Clone()}, nil
}

func (d dryAdapter) UpdateIssue(_ context.Context, externalID string, fields ir.Fields) (ir.RemoteIssue, error) {
	return ir.RemoteIssue{ExternalID: externalID, Fields: fields.Clone()}, nil
}

// dryStore forwards reads and answers writes without touching the store.
// Created tasks have no id.
type dryStore struct {
	inner TaskStore
}

func (d dryStore) FindByReference(ctx context.Context, provider ir.Provider, externalID string) (ir.Task, bool, error) {
	return d.inner.FindByReference(ctx, provider, externalID)
}

func (d dryStore) CreateTask(_ context.Context, project string, fields ir.Fields, refs ...ir.ReferenceEntry) (ir.Task, error) {
	return ir.Task{Project: project, Fields: fields.Clone(), References: refs}, nil
}

func (d dryStore) UpdateTaskFields(_ context.Context, id string, fields ir.Fields) (ir.Task, error) {
	return ir.Task{ID: id, Fields: fields.Clone()}, nil
}

func (d dryStore) AttachReference(context.Context, string, ir.ReferenceEntry) error {
	return nil
}

func (d dryStore) ListTasksForProject(ctx context.Context, project string) ([]ir.Task, error) {
	return d.inner.ListTasksForProject(ctx, project)
}
