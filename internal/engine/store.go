package engine

import (
	"context"
	"sync"

	"github.com/roach88/issuesync/internal/ir"
)

// TaskStore is the local task store as seen by the engine.
// Implemented by store.Store.
type TaskStore interface {
	FindByReference(ctx context.Context, provider ir.Provider, externalID string) (ir.Task, bool, error)
	CreateTask(ctx context.Context, project string, fields ir.Fields, refs ...ir.ReferenceEntry) (ir.Task, error)
	UpdateTaskFields(ctx context.Context, id string, fields ir.Fields) (ir.Task, error)
	AttachReference(ctx context.Context, taskID string, ref ir.ReferenceEntry) error
	ListTasksForProject(ctx context.Context, project string) ([]ir.Task, error)
}

// lockedStore serializes every store call. Used when items are reconciled
// by parallel workers so the store keeps a single writer.
type lockedStore struct {
	mu    sync.Mutex
	inner TaskStore
}

func newLockedStore(inner TaskStore) *lockedStore {
	return &lockedStore{inner: inner}
}

func (s *lockedStore) FindByReference(ctx context.Context, provider ir.Provider, externalID string) (ir.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.FindByReference(ctx, provider, externalID)
}

func (s *lockedStore) CreateTask(ctx context.Context, project string, fields ir.Fields, refs ...ir.ReferenceEntry) (ir.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.CreateTask(ctx, project, fields, refs...)
}

func (s *lockedStore) UpdateTaskFields(ctx context.Context, id string, fields ir.Fields) (ir.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.UpdateTaskFields(ctx, id, fields)
}

func (s *lockedStore) AttachReference(ctx context.Context, taskID string, ref ir.ReferenceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.AttachReference(ctx, taskID, ref)
}

func (s *lockedStore) ListTasksForProject(ctx context.Context, project string) ([]ir.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ListTasksForProject(ctx, project)
}
