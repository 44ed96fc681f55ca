// Package harness runs end-to-end reconciliation scenarios.
//
// A scenario seeds a fake remote platform and a fresh SQLite task store,
// runs a sequence of pull and push steps through the real engine, and then
// asserts on the resulting tasks, issues and reports.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: push_creates_issue
//	description: "Push links a new task to a freshly created issue"
//	remote:
//	  provider: github
//	  target: acme/web
//	  mapping: |
//	    title: "title"
//	    status: {field: "state", values: {Done: "closed"}}
//	setup:
//	  tasks:
//	    - fields: {title: "Ship it", status: "Done"}
//	steps:
//	  - action: push
//	    expect:
//	      counts: {created: 1}
//	      mutating_calls: 1
//	assertions:
//	  - type: issue_fields
//	    issue: "acme/web#1"
//	    fields: {title: "Ship it", state: "closed"}
//
// The mapping is CUE source for the body of a remote's mapping block and is
// compiled exactly as a project config would be.
//
// # Step Actions
//
//   - pull, push: run the engine in that direction
//   - edit_issue: change an issue on the platform (null clears a field)
//   - edit_task: change a local task (null clears a field)
//   - unlink: delete a task's reference for a provider
//
// # Assertion Types
//
//   - issue_fields: the issue holds exactly these values for the named fields
//   - task_fields: the task holds exactly these values for the named fields
//   - reference: the task's reference for provider is external_id ("" for none)
//   - issue_count, task_count: number of issues or tasks
//
// # Deterministic Testing
//
// Task ids come from a sequence (task-0001, ...), run ids likewise
// (run-0001, ...), timestamps from a step clock, and platform ids are
// numbered in creation order. Snapshots of the same scenario are therefore
// byte-identical across runs and can be compared against golden files.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/push_creates_issue.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if !result.Pass {
//	    for _, err := range result.Errors {
//	        log.Println(err)
//	    }
//	}
package harness
