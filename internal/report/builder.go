// Package report assembles, persists and renders sync run reports.
package report

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/issuesync/internal/ir"
)

// Builder accumulates item results for one run. Safe for concurrent Add.
type Builder struct {
	mu      sync.Mutex
	now     func() time.Time
	report  ir.SyncRunReport
	results []ir.TaskResult
}

// NewBuilder starts a report. StartedAt is taken from now.
func NewBuilder(runID, remote string, direction ir.Direction, project string, dryRun bool, now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{
		now: now,
		report: ir.SyncRunReport{
			RunID:     runID,
			Remote:    remote,
			Direction: direction,
			Project:   project,
			DryRun:    dryRun,
			StartedAt: now().UTC(),
		},
	}
}

// Add records one item result.
func (b *Builder) Add(result ir.TaskResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results = append(b.results, result)
}

// Len returns the number of results recorded so far.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.results)
}

// SetTruncated marks remote enumeration as capped.
func (b *Builder) SetTruncated(truncated bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.Truncated = truncated
}

// Finish seals the report. Results are ordered by task id (external id when
// the task is unknown) so identical inputs always produce identical reports.
// A non-nil err is recorded with its code.
func (b *Builder) Finish(status ir.RunStatus, err error) *ir.SyncRunReport {
	b.mu.Lock()
	defer b.mu.Unlock()

	report := b.report
	report.Status = status
	report.FinishedAt = b.now().UTC()
	report.Results = slices.Clone(b.results)
	if report.Results == nil {
		report.Results = []ir.TaskResult{}
	}
	slices.SortStableFunc(report.Results, func(a, c ir.TaskResult) int {
		if n := strings.Compare(a.SortKey(), c.SortKey()); n != 0 {
			return n
		}
		return strings.Compare(a.ExternalID, c.ExternalID)
	})
	report.Counts = Count(report.Results)
	if err != nil {
		report.ErrorCode = ir.CodeOf(err)
		report.Error = err.Error()
	}
	return &report
}

// Fail seals a report for a run-fatal error: status failed, zero results.
func (b *Builder) Fail(err error) *ir.SyncRunReport {
	b.mu.Lock()
	b.results = nil
	b.mu.Unlock()
	return b.Finish(ir.RunStatusFailed, err)
}

// Count aggregates outcomes.
func Count(results []ir.TaskResult) ir.Counts {
	var c ir.Counts
	for _, r := range results {
		switch r.Outcome {
		case ir.OutcomeCreated:
			c.Created++
		case ir.OutcomeUpdated:
			c.Updated++
		case ir.OutcomeSkipped:
			c.Skipped++
		case ir.OutcomeFailed:
			c.Failed++
		}
	}
	return c
}
