// Package ir provides the shared data model of the reconciliation engine.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - use Int for numbers
//   - References are the only identity link between a Task and a RemoteIssue
//   - Field values compare with Equivalent, never with ==
//   - All JSON tags use snake_case
package ir
