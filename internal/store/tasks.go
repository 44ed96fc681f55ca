package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/issuesync/internal/ir"
)

// FindByReference returns the task holding the given normalized reference.
// The boolean is false when no task holds it.
func (s *Store) FindByReference(ctx context.Context, provider ir.Provider, externalID string) (ir.Task, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT task_id FROM task_refs
		WHERE provider = ? AND external_id = ?
	`, string(provider), externalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Task{}, false, nil
	}
	if err != nil {
		return ir.Task{}, false, storeError("find by reference", err)
	}
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return ir.Task{}, false, err
	}
	return task, true, nil
}

// GetTask loads one task with its references.
func (s *Store) GetTask(ctx context.Context, id string) (ir.Task, error) {
	var project, fieldsJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT project, fields FROM tasks WHERE id = ?
	`, id).Scan(&project, &fieldsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Task{}, ir.Errorf(ir.CodeNotFound, "task %s not found", id)
	}
	if err != nil {
		return ir.Task{}, storeError("get task", err)
	}

	fields, err := unmarshalFields(fieldsJSON)
	if err != nil {
		return ir.Task{}, storeError("get task "+id, err)
	}
	refs, err := s.references(ctx, id)
	if err != nil {
		return ir.Task{}, err
	}
	return ir.Task{ID: id, Project: project, Fields: fields, References: refs}, nil
}

// ListTasksForProject returns every task of the project, ordered by id.
func (s *Store) ListTasksForProject(ctx context.Context, project string) ([]ir.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM tasks
		WHERE project = ?
		ORDER BY id COLLATE BINARY
	`, project)
	if err != nil {
		return nil, storeError("list tasks", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, storeError("scan task id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, storeError("iterate tasks", err)
	}
	rows.Close()

	// A single connection is shared, so rows must be closed before the
	// per-task reads run.
	tasks := make([]ir.Task, 0, len(ids))
	for _, id := range ids {
		task, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// CreateTask inserts a new task with the given fields and references.
// Reference conflicts fail the whole insert.
func (s *Store) CreateTask(ctx context.Context, project string, fields ir.Fields, refs ...ir.ReferenceEntry) (ir.Task, error) {
	fieldsJSON, err := marshalFields(fields)
	if err != nil {
		return ir.Task{}, storeError("create task", err)
	}

	id := s.ids.Generate()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Task{}, storeError("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, project, fields) VALUES (?, ?, ?)
	`, id, project, fieldsJSON); err != nil {
		return ir.Task{}, storeError("insert task", err)
	}
	for _, ref := range refs {
		if err := insertReference(ctx, tx, id, ref); err != nil {
			return ir.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return ir.Task{}, storeError("commit task", err)
	}
	return s.GetTask(ctx, id)
}

// UpdateTaskFields merges fields into the task. A Null (or otherwise empty)
// value removes the key. Keys not named are left untouched.
func (s *Store) UpdateTaskFields(ctx context.Context, id string, fields ir.Fields) (ir.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Task{}, storeError("begin transaction", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT fields FROM tasks WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Task{}, ir.Errorf(ir.CodeNotFound, "task %s not found", id)
	}
	if err != nil {
		return ir.Task{}, storeError("read task", err)
	}

	merged, err := unmarshalFields(current)
	if err != nil {
		return ir.Task{}, storeError("update task "+id, err)
	}
	for k, v := range fields {
		if ir.IsEmpty(v) {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	fieldsJSON, err := marshalFields(merged)
	if err != nil {
		return ir.Task{}, storeError("update task "+id, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET fields = ?, version = version + 1 WHERE id = ?
	`, fieldsJSON, id); err != nil {
		return ir.Task{}, storeError("update task", err)
	}
	if err := tx.Commit(); err != nil {
		return ir.Task{}, storeError("commit task", err)
	}
	return s.GetTask(ctx, id)
}

// AttachReference links a task to a remote issue.
// Fails with LOCAL_STORE if the task already has a reference for the
// provider or the reference belongs to another task.
func (s *Store) AttachReference(ctx context.Context, taskID string, ref ir.ReferenceEntry) error {
	return insertReference(ctx, s.db, taskID, ref)
}

// DeleteReference severs the task's link for the provider.
// Returns NOT_FOUND when the task has no such reference.
func (s *Store) DeleteReference(ctx context.Context, taskID string, provider ir.Provider) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM task_refs WHERE task_id = ? AND provider = ?
	`, taskID, string(provider))
	if err != nil {
		return storeError("delete reference", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeError("delete reference", err)
	}
	if n == 0 {
		return ir.Errorf(ir.CodeNotFound, "task %s has no %s reference", taskID, provider)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertReference(ctx context.Context, db execer, taskID string, ref ir.ReferenceEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO task_refs (task_id, provider, external_id) VALUES (?, ?, ?)
	`, taskID, string(ref.Provider), ref.ExternalID)
	if err == nil {
		return nil
	}
	if isConstraint(err) {
		return &ir.Error{
			Code:    ir.CodeLocalStore,
			Message: fmt.Sprintf("reference conflict for task %s", taskID),
			Ref:     ref.String(),
			Err:     err,
		}
	}
	return storeError("attach reference", err)
}

func (s *Store) references(ctx context.Context, taskID string) ([]ir.ReferenceEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, external_id FROM task_refs
		WHERE task_id = ?
		ORDER BY provider COLLATE BINARY
	`, taskID)
	if err != nil {
		return nil, storeError("list references", err)
	}
	defer rows.Close()

	var refs []ir.ReferenceEntry
	for rows.Next() {
		var provider, externalID string
		if err := rows.Scan(&provider, &externalID); err != nil {
			return nil, storeError("scan reference", err)
		}
		refs = append(refs, ir.ReferenceEntry{Provider: ir.Provider(provider), ExternalID: externalID})
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate references", err)
	}
	return refs, nil
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func storeError(op string, err error) error {
	var coded *ir.Error
	if errors.As(err, &coded) {
		return err
	}
	return ir.WrapError(ir.CodeLocalStore, op, err)
}
