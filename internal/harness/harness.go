package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/issuesync/internal/adapter/memory"
	"github.com/roach88/issuesync/internal/compiler"
	"github.com/roach88/issuesync/internal/engine"
	"github.com/roach88/issuesync/internal/ir"
	"github.com/roach88/issuesync/internal/mapping"
	"github.com/roach88/issuesync/internal/refs"
	"github.com/roach88/issuesync/internal/store"
	"github.com/roach88/issuesync/internal/testutil"
)

// Harness holds the state of one scenario execution.
type Harness struct {
	scenario *Scenario
	project  string
	remote   *ir.RemoteConfig
	store    *store.Store
	platform *memory.Platform
	engine   *engine.Engine
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database and a fresh
// platform. Deterministic ids and clocks make the result reproducible.
//
// Execution flow:
//  1. Compile the remote mapping
//  2. Seed issues and tasks
//  3. Execute steps, checking each run's expect clause
//  4. Evaluate final state assertions
//
// The returned error covers scenarios that cannot execute (a bad mapping,
// a step naming a missing task). Failed expectations land in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	remote, err := compileRemote(scenario.Remote)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:", store.WithIDGenerator(ir.NewSequenceGenerator("task")))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	var opts []memory.Option
	if scenario.Remote.PageSize > 0 {
		opts = append(opts, memory.WithPageSize(scenario.Remote.PageSize))
	}
	platform := memory.New(remote.Provider, remote.Target, opts...)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	clock := testutil.NewDefaultClock()
	eng := engine.New(st, testutil.PlatformFactory(platform), testutil.StaticCredentials{},
		engine.WithIDGenerator(ir.NewSequenceGenerator("run")),
		engine.WithNow(clock.Now),
		engine.WithRetryPolicy(testutil.NoRetry()),
		engine.WithLogger(logger),
	)

	project := scenario.Project
	if project == "" {
		project = DefaultProject
	}

	h := &Harness{
		scenario: scenario,
		project:  project,
		remote:   remote,
		store:    st,
		platform: platform,
		engine:   eng,
		logger:   logger,
	}

	ctx := context.Background()
	if err := h.seed(ctx); err != nil {
		return nil, fmt.Errorf("failed to seed scenario: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
	}

	for _, errMsg := range h.evaluateAssertions(ctx, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

// compileRemote compiles the scenario mapping the same way a project
// config's remotes.<name>.mapping block is compiled.
func compileRemote(spec RemoteSpec) (*ir.RemoteConfig, error) {
	cctx := cuecontext.New()
	v := cctx.CompileString("mapping: {\n"+spec.Mapping+"\n}", cue.Filename("scenario.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile mapping: %w", err)
	}
	rules, err := compiler.CompileMapping(v.LookupPath(cue.ParsePath("mapping")))
	if err != nil {
		return nil, err
	}
	return &ir.RemoteConfig{
		Name:        string(spec.Provider),
		Provider:    spec.Provider,
		Target:      spec.Target,
		AuthProfile: "default",
		Filter:      spec.Filter,
		Mapping:     rules,
	}, nil
}

func (h *Harness) seed(ctx context.Context) error {
	for i, issue := range h.scenario.Setup.Issues {
		fields, err := toFields(issue.Fields)
		if err != nil {
			return fmt.Errorf("setup.issues[%d]: %w", i, err)
		}
		if issue.ID == "" {
			h.platform.Seed(fields)
			continue
		}
		id, err := refs.Normalize(issue.ID, h.remote.Provider)
		if err != nil {
			return fmt.Errorf("setup.issues[%d]: %w", i, err)
		}
		h.platform.Put(id, fields)
	}

	for i, task := range h.scenario.Setup.Tasks {
		fields, err := toFields(task.Fields)
		if err != nil {
			return fmt.Errorf("setup.tasks[%d]: %w", i, err)
		}
		var links []ir.ReferenceEntry
		for _, raw := range task.Refs {
			ref, err := refs.Parse(raw)
			if err != nil {
				return fmt.Errorf("setup.tasks[%d]: %w", i, err)
			}
			links = append(links, ref)
		}
		created, err := h.store.CreateTask(ctx, h.project, mapping.Compact(fields), links...)
		if err != nil {
			return fmt.Errorf("setup.tasks[%d]: %w", i, err)
		}
		h.logger.Debug("task seeded", "task_id", created.ID)
	}
	return nil
}

// executeStep runs one step and records it. Run steps are checked against
// their expect clause.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	rec := StepRecord{Action: step.Action, Task: step.Task, Issue: step.Issue, DryRun: step.DryRun}

	switch step.Action {
	case ActionPull, ActionPush:
		before := h.platform.MutatingCalls()
		logged := len(h.platform.Log())

		rep, err := h.engine.Run(ctx, h.remote, ir.Direction(step.Action), engine.Options{
			Project: h.project,
			DryRun:  step.DryRun,
			Workers: step.Workers,
			Strict:  step.Strict,
		})
		rec.Report = rep
		rec.Err = err
		rec.MutatingCalls = h.platform.MutatingCalls() - before
		rec.Mutations = h.platform.Log()[logged:]

		for _, msg := range checkExpect(index, rec, step.Expect) {
			result.AddError(msg)
		}

	case ActionEditIssue:
		id, err := refs.Normalize(step.Issue, h.remote.Provider)
		if err != nil {
			return err
		}
		current, ok := h.platform.Issue(id)
		if !ok {
			return fmt.Errorf("issue %s not found", id)
		}
		edits, err := toFields(step.Fields)
		if err != nil {
			return err
		}
		for k, v := range edits {
			current[k] = v
		}
		h.platform.Put(id, current)

	case ActionEditTask:
		edits, err := toFields(step.Fields)
		if err != nil {
			return err
		}
		if _, err := h.store.UpdateTaskFields(ctx, step.Task, edits); err != nil {
			return err
		}

	case ActionUnlink:
		provider := step.Provider
		if provider == "" {
			provider = h.remote.Provider
		}
		if err := h.store.DeleteReference(ctx, step.Task, provider); err != nil {
			return err
		}
	}

	result.Steps = append(result.Steps, rec)
	h.logger.Info("step completed", "step", index, "action", step.Action)
	return nil
}

// toFields converts YAML-decoded values. null becomes ir.Null.
func toFields(raw map[string]any) (ir.Fields, error) {
	fields := make(ir.Fields, len(raw))
	for k, v := range raw {
		val, err := ir.FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		fields[k] = val
	}
	return fields, nil
}
