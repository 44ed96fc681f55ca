package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/issuesync/internal/ir"
	"github.com/roach88/issuesync/internal/refs"
)

// DefaultProject is the local project used when a scenario names none.
const DefaultProject = "web"

// Scenario defines one end-to-end reconciliation scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Project is the local project. Defaults to DefaultProject.
	Project string `yaml:"project,omitempty"`

	// Remote describes the platform and the field mapping.
	Remote RemoteSpec `yaml:"remote"`

	// Setup seeds the platform and the store before the first step.
	Setup Setup `yaml:"setup,omitempty"`

	// Steps run in order. Run steps may carry an expect clause.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// RemoteSpec is the remote under test.
type RemoteSpec struct {
	Provider ir.Provider `yaml:"provider"`
	// Target is the jira project key or the github owner/repo.
	Target string `yaml:"target"`
	Filter string `yaml:"filter,omitempty"`
	// Mapping is CUE source for the mapping block body.
	Mapping string `yaml:"mapping"`
	// PageSize overrides the platform page size.
	PageSize int `yaml:"page_size,omitempty"`
}

// Setup is the initial state.
type Setup struct {
	Issues []SeedIssue `yaml:"issues,omitempty"`
	Tasks  []SeedTask  `yaml:"tasks,omitempty"`
}

// SeedIssue is an issue present on the platform before the first step.
type SeedIssue struct {
	// ID pins the external id. Empty means the platform numbers it.
	ID     string         `yaml:"id,omitempty"`
	Fields map[string]any `yaml:"fields"`
}

// SeedTask is a local task present before the first step.
type SeedTask struct {
	Fields map[string]any `yaml:"fields"`
	// Refs are prefix-qualified references, e.g. "jira:PROJ-5".
	Refs []string `yaml:"refs,omitempty"`
}

// Step action constants.
const (
	ActionPull      = "pull"
	ActionPush      = "push"
	ActionEditIssue = "edit_issue"
	ActionEditTask  = "edit_task"
	ActionUnlink    = "unlink"
)

// Step is one action in a scenario.
type Step struct {
	Action string `yaml:"action"`

	// Run options (pull, push).
	DryRun  bool `yaml:"dry_run,omitempty"`
	Strict  bool `yaml:"strict,omitempty"`
	Workers int  `yaml:"workers,omitempty"`

	// Issue is the external id edited by edit_issue.
	Issue string `yaml:"issue,omitempty"`
	// Task is the task id edited by edit_task or unlink.
	Task string `yaml:"task,omitempty"`
	// Provider is the reference unlink removes. Defaults to the remote's.
	Provider ir.Provider `yaml:"provider,omitempty"`
	// Fields are the edits. null clears a field.
	Fields map[string]any `yaml:"fields,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// IsRun reports whether the step runs the engine.
func (s Step) IsRun() bool {
	return s.Action == ActionPull || s.Action == ActionPush
}

// Expect checks one run's report.
type Expect struct {
	// Status is the run status. Defaults to ok.
	Status ir.RunStatus `yaml:"status,omitempty"`
	// Code is the run error code, for failed runs.
	Code ir.ErrorCode `yaml:"code,omitempty"`
	// Counts must match exactly when present.
	Counts *ir.Counts `yaml:"counts,omitempty"`
	// Outcomes maps a task id or external id to its outcome.
	Outcomes map[string]ir.Outcome `yaml:"outcomes,omitempty"`
	// MutatingCalls is the number of create and update calls the run made.
	MutatingCalls *int `yaml:"mutating_calls,omitempty"`
}

// Assertion type constants.
const (
	AssertIssueFields = "issue_fields"
	AssertTaskFields  = "task_fields"
	AssertReference   = "reference"
	AssertIssueCount  = "issue_count"
	AssertTaskCount   = "task_count"
)

// Assertion validates final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Issue is the external id (issue_fields).
	Issue string `yaml:"issue,omitempty"`
	// Task is the task id (task_fields, reference).
	Task string `yaml:"task,omitempty"`
	// Provider selects the reference (reference). Defaults to the remote's.
	Provider ir.Provider `yaml:"provider,omitempty"`
	// ExternalID is the expected reference; empty asserts there is none.
	ExternalID string `yaml:"external_id,omitempty"`
	// Fields are expected values. null asserts the field is absent.
	Fields map[string]any `yaml:"fields,omitempty"`
	// Count is the expected number (issue_count, task_count).
	Count int `yaml:"count,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if !refs.ValidProvider(s.Remote.Provider) {
		return fmt.Errorf("remote.provider must be jira or github, got %q", s.Remote.Provider)
	}
	if s.Remote.Target == "" {
		return fmt.Errorf("remote.target is required")
	}
	if s.Remote.Mapping == "" {
		return fmt.Errorf("remote.mapping is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, task := range s.Setup.Tasks {
		for _, raw := range task.Refs {
			if _, err := refs.Parse(raw); err != nil {
				return fmt.Errorf("setup.tasks[%d]: %w", i, err)
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	switch s.Action {
	case ActionPull, ActionPush:
		if s.Workers < 0 {
			return fmt.Errorf("steps[%d]: workers must be non-negative", index)
		}
	case ActionEditIssue:
		if s.Issue == "" {
			return fmt.Errorf("steps[%d]: issue is required for edit_issue", index)
		}
		if len(s.Fields) == 0 {
			return fmt.Errorf("steps[%d]: fields are required for edit_issue", index)
		}
	case ActionEditTask:
		if s.Task == "" {
			return fmt.Errorf("steps[%d]: task is required for edit_task", index)
		}
		if len(s.Fields) == 0 {
			return fmt.Errorf("steps[%d]: fields are required for edit_task", index)
		}
	case ActionUnlink:
		if s.Task == "" {
			return fmt.Errorf("steps[%d]: task is required for unlink", index)
		}
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, s.Action)
	}

	if s.Expect != nil && !s.IsRun() {
		return fmt.Errorf("steps[%d]: expect is only valid on pull and push", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertIssueFields:
		if a.Issue == "" {
			return fmt.Errorf("assertions[%d]: issue is required for issue_fields", index)
		}
		if len(a.Fields) == 0 {
			return fmt.Errorf("assertions[%d]: fields are required for issue_fields", index)
		}
	case AssertTaskFields:
		if a.Task == "" {
			return fmt.Errorf("assertions[%d]: task is required for task_fields", index)
		}
		if len(a.Fields) == 0 {
			return fmt.Errorf("assertions[%d]: fields are required for task_fields", index)
		}
	case AssertReference:
		if a.Task == "" {
			return fmt.Errorf("assertions[%d]: task is required for reference", index)
		}
	case AssertIssueCount, AssertTaskCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
