package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/issuesync/internal/adapter"
	"github.com/roach88/issuesync/internal/adapter/memory"
	"github.com/roach88/issuesync/internal/ir"
	"github.com/roach88/issuesync/internal/progress"
	"github.com/roach88/issuesync/internal/store"
	"github.com/roach88/issuesync/internal/testutil"
)

const testProject = "acme"

func testRules() []ir.MappingRule {
	return []ir.MappingRule{
		{LocalField: "title", RemoteField: "summary"},
		{LocalField: "status", RemoteField: "status", Values: []ir.ValuePair{
			{Local: "todo", Remote: "To Do"},
			{Local: "doing", Remote: "In Progress"},
			{Local: "done", Remote: "Done"},
		}},
		{LocalField: "labels", RemoteField: "labels"},
	}
}

func testRemote() *ir.RemoteConfig {
	return &ir.RemoteConfig{
		Name:        "jira-main",
		Provider:    ir.ProviderJira,
		Target:      "PROJ",
		AuthProfile: "work",
		Mapping:     testRules(),
	}
}

type fixture struct {
	store    *store.Store
	platform *memory.Platform
	events   *progress.Recorder
	engine   *Engine
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, platformOpts []memory.Option, opts ...EngineOption) *fixture {
	t.Helper()
	f := &fixture{
		store:    testutil.OpenStore(t),
		platform: memory.New(ir.ProviderJira, "PROJ", platformOpts...),
		events:   &progress.Recorder{},
	}
	base := []EngineOption{
		WithIDGenerator(testutil.FixedIDGenerator("run-1")),
		WithNow(testutil.NewDefaultClock().Now),
		WithRetryPolicy(testutil.NoRetry()),
		WithProgress(f.events),
		WithLogger(discardLogger()),
	}
	f.engine = New(f.store, testutil.PlatformFactory(f.platform), testutil.StaticCredentials{}, append(base, opts...)...)
	return f
}

func (f *fixture) run(t *testing.T, direction ir.Direction, opts Options) *ir.SyncRunReport {
	t.Helper()
	if opts.Project == "" {
		opts.Project = testProject
	}
	rep, err := f.engine.Run(context.Background(), testRemote(), direction, opts)
	require.NoError(t, err)
	require.NotNil(t, rep)
	return rep
}

func (f *fixture) addTask(t *testing.T, fields ir.Fields, refs ...ir.ReferenceEntry) ir.Task {
	t.Helper()
	task, err := f.store.CreateTask(context.Background(), testProject, fields, refs...)
	require.NoError(t, err)
	return task
}

func (f *fixture) task(t *testing.T, id string) ir.Task {
	t.Helper()
	task, err := f.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (f *fixture) tasks(t *testing.T) []ir.Task {
	t.Helper()
	tasks, err := f.store.ListTasksForProject(context.Background(), testProject)
	require.NoError(t, err)
	return tasks
}

func outcomes(rep *ir.SyncRunReport) []ir.Outcome {
	out := make([]ir.Outcome, len(rep.Results))
	for i, r := range rep.Results {
		out[i] = r.Outcome
	}
	return out
}

// failingStore fails AttachReference and forwards everything else.
type failingStore struct {
	TaskStore
	err error
}

func (s failingStore) AttachReference(context.Context, string, ir.ReferenceEntry) error {
	return s.err
}

// renamingAdapter answers GetIssue with a different issue than asked for.
type renamingAdapter struct {
	adapter.Adapter
	as string
}

func (a renamingAdapter) GetIssue(ctx context.Context, externalID string) (ir.RemoteIssue, error) {
	issue, err := a.Adapter.GetIssue(ctx, externalID)
	issue.ExternalID = a.as
	return issue, err
}

// probingAdapter adds a Probe method to an adapter.
type probingAdapter struct {
	adapter.Adapter
	err   error
	calls int
}

func (a *probingAdapter) Probe(context.Context) error {
	a.calls++
	return a.err
}

// cancelAfter cancels the run context once n progress events were seen.
type cancelAfter struct {
	progress.Recorder
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) Emit(ctx context.Context, event progress.Event) error {
	_ = c.Recorder.Emit(ctx, event)
	if event.Type == progress.EventProgress && event.Processed >= c.n {
		c.cancel()
	}
	return nil
}
