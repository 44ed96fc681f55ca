package harness

import "github.com/roach88/issuesync/internal/ir"

// StepRecord is what one step did.
type StepRecord struct {
	Action string
	Task   string
	Issue  string
	DryRun bool

	// Report and Err are the engine's return values (run steps only).
	Report *ir.SyncRunReport
	Err    error

	// MutatingCalls counts the platform creates and updates made by the run.
	MutatingCalls int
	// Mutations are the platform's log lines for those calls, in order.
	Mutations []string
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool

	// Steps records every executed step in order.
	Steps []StepRecord

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepRecord{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Runs returns the reports of the run steps in order.
func (r *Result) Runs() []*ir.SyncRunReport {
	var reports []*ir.SyncRunReport
	for _, step := range r.Steps {
		if step.Report != nil {
			reports = append(reports, step.Report)
		}
	}
	return reports
}
