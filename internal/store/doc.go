// Package store provides the SQLite-backed local task store.
//
// Tables:
//   - tasks: one row per task, fields held as canonical JSON
//   - task_refs: the reference entries linking tasks to remote issues
//
// # Identity Constraints
//
//   - PRIMARY KEY(task_id, provider): at most one reference per provider per task
//   - UNIQUE(provider, external_id): a remote issue links to at most one task
//
// Violations surface as LOCAL_STORE errors and fail only the item being
// reconciled.
//
// # Deterministic Listings
//
// Project listings are ORDER BY id COLLATE BINARY so push runs visit tasks
// in the same order every time.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
