package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/issuesync/internal/ir"
)

// Snapshot is the deterministic record of a scenario execution compared
// against golden files. Timestamps are left out; everything else a run
// reports is kept.
type Snapshot struct {
	Scenario string         `json:"scenario"`
	Steps    []StepSnapshot `json:"steps"`
}

// StepSnapshot is one step of a Snapshot.
type StepSnapshot struct {
	Action    string          `json:"action"`
	Task      string          `json:"task,omitempty"`
	Issue     string          `json:"issue,omitempty"`
	RunID     string          `json:"run_id,omitempty"`
	DryRun    bool            `json:"dry_run,omitempty"`
	Status    ir.RunStatus    `json:"status,omitempty"`
	Counts    *ir.Counts      `json:"counts,omitempty"`
	Results   []ir.TaskResult `json:"results,omitempty"`
	Mutations []string        `json:"mutations,omitempty"`
}

// NewSnapshot builds the snapshot of result.
func NewSnapshot(name string, result *Result) Snapshot {
	snap := Snapshot{Scenario: name, Steps: make([]StepSnapshot, 0, len(result.Steps))}
	for _, step := range result.Steps {
		s := StepSnapshot{
			Action:    step.Action,
			Task:      step.Task,
			Issue:     step.Issue,
			DryRun:    step.DryRun,
			Mutations: step.Mutations,
		}
		if rep := step.Report; rep != nil {
			counts := rep.Counts
			s.RunID = rep.RunID
			s.Status = rep.Status
			s.Counts = &counts
			s.Results = rep.Results
		}
		snap.Steps = append(snap.Steps, s)
	}
	return snap
}

// MarshalSnapshot renders a snapshot as indented JSON with a trailing newline.
func MarshalSnapshot(snap Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(NewSnapshot(name, result))
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
