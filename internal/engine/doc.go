// Package engine implements the manual sync reconciliation engine.
//
// A run reconciles one remote against the local task store in one
// authoritative direction:
//
//	pull: remote -> local. Remote issues are enumerated, matched to tasks by
//	      reference, and mapped fields are copied into the store.
//	push: local -> remote. Project tasks are enumerated, matched to issues by
//	      reference, and mapped fields are written to the remote.
//
// Identity is decided by reference only. A task either holds the normalized
// reference of an issue or it is unrelated to it; titles and fuzzy matching
// never link anything.
//
// Run Flow:
//  1. Registry admits at most one run per remote (in process and across processes)
//  2. Credentials are resolved and the adapter is built (fatal on failure)
//  3. Items are enumerated (fatal on failure)
//  4. Each item is reconciled; item failures are recorded and the run continues
//  5. The report is finalized, persisted, and a terminal progress event emitted
//
// Determinism:
// Push visits tasks in id order and reports are sorted by task id, so the
// same inputs produce the same report regardless of worker count.
//
// Runs start only from an explicit call; nothing in this package schedules
// work or outlives Run.
package engine
