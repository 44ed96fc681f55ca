package ir

import (
	"fmt"
	"time"
)

// Provider names a remote platform family.
type Provider string

const (
	ProviderJira   Provider = "jira"
	ProviderGitHub Provider = "github"
)

// Direction names which side is authoritative for mapped fields in a run.
type Direction string

const (
	// DirectionPull makes the remote authoritative: remote -> local.
	DirectionPull Direction = "pull"
	// DirectionPush makes the local side authoritative: local -> remote.
	DirectionPush Direction = "push"
)

// ValidDirections defines the allowed run directions.
var ValidDirections = map[Direction]bool{
	DirectionPull: true,
	DirectionPush: true,
}

// ReferenceEntry links a local task to one remote issue.
// ExternalID is always normalized (see package refs).
type ReferenceEntry struct {
	Provider   Provider `json:"provider"`
	ExternalID string   `json:"external_id"`
}

// String renders the prefix-qualified form, e.g. "jira:PROJ-5".
func (r ReferenceEntry) String() string {
	return fmt.Sprintf("%s:%s", r.Provider, r.ExternalID)
}

// Task is a local task as seen by the engine.
// The store owns persistence; the engine only reads and patches Fields
// and attaches References.
type Task struct {
	ID         string           `json:"id"`
	Project    string           `json:"project"`
	Fields     Fields           `json:"fields"`
	References []ReferenceEntry `json:"references,omitempty"`
}

// Reference returns the task's reference for provider, if any.
// A task holds at most one reference per provider.
func (t Task) Reference(provider Provider) (ReferenceEntry, bool) {
	for _, ref := range t.References {
		if ref.Provider == provider {
			return ref, true
		}
	}
	return ReferenceEntry{}, false
}

// RemoteIssue is one issue as returned by an adapter.
type RemoteIssue struct {
	ExternalID string `json:"external_id"`
	Fields     Fields `json:"fields"`
}

// ValuePair is one row of a mapping value table.
type ValuePair struct {
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

// WhenEmptyClear is the only accepted when_empty mode.
const WhenEmptyClear = "clear"

// MappingRule is a compiled transform between one local and one remote field.
// Nil Set/Default mean the modifier is absent.
type MappingRule struct {
	LocalField     string      `json:"local_field"`
	RemoteField    string      `json:"remote_field"`
	Values         []ValuePair `json:"values,omitempty"` // Declaration order
	Set            Value       `json:"-"`
	Default        Value       `json:"-"`
	Add            []string    `json:"add,omitempty"`
	ClearWhenEmpty bool        `json:"clear_when_empty,omitempty"`
}

// IsIdentity reports whether the rule carries no modifier at all.
func (r MappingRule) IsIdentity() bool {
	return len(r.Values) == 0 && r.Set == nil && r.Default == nil && len(r.Add) == 0 && !r.ClearWhenEmpty
}

// RemoteConfig is the compiled per-remote, per-project sync configuration.
type RemoteConfig struct {
	Name        string        `json:"name"`
	Provider    Provider      `json:"provider"`
	Target      string        `json:"target"` // Project key (jira) or owner/repo (github)
	AuthProfile string        `json:"auth_profile"`
	Filter      string        `json:"filter,omitempty"`
	Mapping     []MappingRule `json:"mapping"` // Declaration order
}

// Outcome is the result category of reconciling one item.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// FieldIssue records a field that was left alone for one item.
type FieldIssue struct {
	Field  string    `json:"field"`
	Code   ErrorCode `json:"code"`
	Reason string    `json:"reason"`
}

// TaskResult is the outcome for one task or remote issue.
type TaskResult struct {
	TaskID        string       `json:"task_id,omitempty"`
	ExternalID    string       `json:"external_id,omitempty"`
	Outcome       Outcome      `json:"outcome"`
	Code          ErrorCode    `json:"code,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Changed       []string     `json:"changed,omitempty"`
	SkippedFields []FieldIssue `json:"skipped_fields,omitempty"`
}

// SortKey is the stable ordering key for reports: the task id when known,
// else the external id.
func (r TaskResult) SortKey() string {
	if r.TaskID != "" {
		return r.TaskID
	}
	return r.ExternalID
}

// Counts aggregates outcomes.
type Counts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Total returns the number of processed items.
func (c Counts) Total() int {
	return c.Created + c.Updated + c.Skipped + c.Failed
}

// RunStatus is the run-level status of a report.
type RunStatus string

const (
	// RunStatusOK covers full and partial success (item failures included).
	RunStatusOK RunStatus = "ok"
	// RunStatusCancelled marks a partial report from a cancelled run.
	RunStatusCancelled RunStatus = "cancelled"
	// RunStatusFailed is reserved for run-fatal errors.
	RunStatusFailed RunStatus = "failed"
)

// SyncRunReport is the final report of one run.
type SyncRunReport struct {
	RunID      string       `json:"run_id"`
	Remote     string       `json:"remote"`
	Direction  Direction    `json:"direction"`
	Project    string       `json:"project,omitempty"`
	DryRun     bool         `json:"dry_run"`
	Status     RunStatus    `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Truncated  bool         `json:"truncated,omitempty"`
	ErrorCode  ErrorCode    `json:"error_code,omitempty"`
	Error      string       `json:"error,omitempty"`
	Results    []TaskResult `json:"results"`
	Counts     Counts       `json:"counts"`
}

// Failures returns the failed results in report order.
func (r *SyncRunReport) Failures() []TaskResult {
	var failed []TaskResult
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			failed = append(failed, res)
		}
	}
	return failed
}
