package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/issuesync/internal/adapter/memory"
	"github.com/roach88/issuesync/internal/ir"
	"github.com/roach88/issuesync/internal/progress"
	"github.com/roach88/issuesync/internal/report"
	"github.com/roach88/issuesync/internal/testutil"
)

func seedIssues(p *memory.Platform, titles ...string) {
	for _, title := range titles {
		p.Seed(ir.Fields{"summary": ir.String(title), "status": ir.String("To Do")})
	}
}

func TestRun_PullCreatesThenSkips(t *testing.T) {
	f := newFixture(t, nil)
	seedIssues(f.platform, "one", "two", "three")

	first := f.run(t, ir.DirectionPull, Options{})
	assert.Equal(t, ir.RunStatusOK, first.Status)
	assert.Equal(t, ir.Counts{Created: 3}, first.Counts)
	assert.Len(t, f.tasks(t), 3)

	second := f.run(t, ir.DirectionPull, Options{})
	assert.Equal(t, ir.Counts{Skipped: 3}, second.Counts)
	assert.Len(t, f.tasks(t), 3, "a second pull creates nothing")
}

func TestRun_PushCreatesThenSkips(t *testing.T) {
	f := newFixture(t, nil)
	f.addTask(t, ir.Fields{"title": ir.String("a"), "status": ir.String("todo")})
	f.addTask(t, ir.Fields{"title": ir.String("b"), "status": ir.String("done")})

	first := f.run(t, ir.DirectionPush, Options{})
	assert.Equal(t, ir.Counts{Created: 2}, first.Counts)
	assert.Equal(t, []string{"create PROJ-1", "create PROJ-2"}, f.platform.Log())

	f.platform.ResetCalls()
	second := f.run(t, ir.DirectionPush, Options{})
	assert.Equal(t, ir.Counts{Skipped: 2}, second.Counts)
	assert.Zero(t, f.platform.MutatingCalls())
}

func TestRun_PushThenPullIsStable(t *testing.T) {
	f := newFixture(t, nil)
	f.addTask(t, ir.Fields{"title": ir.String("a"), "status": ir.String("doing"), "labels": ir.Strings("x")})

	f.run(t, ir.DirectionPush, Options{})
	rep := f.run(t, ir.DirectionPull, Options{})

	assert.Equal(t, ir.Counts{Skipped: 1}, rep.Counts)
	assert.Len(t, f.tasks(t), 1)
}

func TestRun_SharedRemoteValueIsStable(t *testing.T) {
	f := newFixture(t, nil)
	remote := testRemote()
	remote.Mapping = []ir.MappingRule{
		{LocalField: "title", RemoteField: "summary"},
		{LocalField: "status", RemoteField: "status", Values: []ir.ValuePair{
			{Local: "todo", Remote: "To Do"},
			{Local: "backlog", Remote: "To Do"},
		}},
	}
	task := f.addTask(t, ir.Fields{"title": ir.String("a"), "status": ir.String("backlog")})
	opts := Options{Project: testProject}

	pushed, err := f.engine.Run(context.Background(), remote, ir.DirectionPush, opts)
	require.NoError(t, err)
	assert.Equal(t, ir.Counts{Created: 1}, pushed.Counts)

	pulled, err := f.engine.Run(context.Background(), remote, ir.DirectionPull, opts)
	require.NoError(t, err)
	assert.Equal(t, ir.Counts{Skipped: 1}, pulled.Counts)
	assert.Equal(t, ir.String("backlog"), f.task(t, task.ID).Fields["status"])
}

func TestRun_ItemFailuresDoNotFailRun(t *testing.T) {
	f := newFixture(t, nil)
	f.addTask(t, ir.Fields{"title": ir.String("bad"), "status": ir.String("blocked")})
	f.addTask(t, ir.Fields{"title": ir.String("good"), "status": ir.String("todo")})

	rep := f.run(t, ir.DirectionPush, Options{})

	assert.Equal(t, ir.RunStatusOK, rep.Status)
	assert.Equal(t, ir.Counts{Created: 1, Failed: 1}, rep.Counts)
	assert.Equal(t, []ir.Outcome{ir.OutcomeFailed, ir.OutcomeCreated}, outcomes(rep))
	require.Len(t, rep.Failures(), 1)
	assert.Equal(t, ir.CodeUnmappedValue, rep.Failures()[0].Code)
}

func TestRun_ResultsSortedByTaskID(t *testing.T) {
	f := newFixture(t, nil)
	for _, title := range []string{"c", "a", "b"} {
		f.addTask(t, ir.Fields{"title": ir.String(title), "status": ir.String("todo")})
	}

	rep := f.run(t, ir.DirectionPush, Options{})

	var ids []string
	for _, r := range rep.Results {
		ids = append(ids, r.TaskID)
	}
	assert.Equal(t, []string{"task-0001", "task-0002", "task-0003"}, ids)
}

func TestRun_DryRunPullWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	seedIssues(f.platform, "one", "two")
	linked := f.addTask(t, ir.Fields{"title": ir.String("stale"), "status": ir.String("todo")},
		ir.ReferenceEntry{Provider: ir.ProviderJira, ExternalID: "PROJ-2"})

	rep := f.run(t, ir.DirectionPull, Options{DryRun: true})

	assert.True(t, rep.DryRun)
	assert.Equal(t, ir.Counts{Created: 1, Updated: 1}, rep.Counts)
	assert.Len(t, f.tasks(t), 1)
	assert.Equal(t, ir.String("stale"), f.task(t, linked.ID).Fields["title"])
	assert.Zero(t, f.platform.MutatingCalls())
}

func TestRun_DryRunMatchesRealRun(t *testing.T) {
	f := newFixture(t, nil)
	f.addTask(t, ir.Fields{"title": ir.String("new"), "status": ir.String("todo")})
	f.addTask(t, ir.Fields{"title": ir.String("bad"), "status": ir.String("blocked")})

	dry := f.run(t, ir.DirectionPush, Options{DryRun: true})
	assert.Zero(t, f.platform.MutatingCalls())
	for _, task := range f.tasks(t) {
		assert.Empty(t, task.References)
	}

	live := f.run(t, ir.DirectionPush, Options{})
	assert.Equal(t, live.Counts, dry.Counts)
	assert.Equal(t, outcomes(live), outcomes(dry))
	assert.Empty(t, dry.Results[0].ExternalID, "dry-run creates have no remote id")
	assert.Equal(t, "PROJ-1", live.Results[0].ExternalID)
}

func TestRun_StrictStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.addTask(t, ir.Fields{"title": ir.String("bad"), "status": ir.String("blocked")})
	f.addTask(t, ir.Fields{"title": ir.String("good"), "status": ir.String("todo")})

	rep, err := f.engine.Run(context.Background(), testRemote(), ir.DirectionPush, Options{Project: testProject, Strict: true})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errStrictStop))
	assert.Equal(t, ir.CodeUnmappedValue, ir.CodeOf(err))
	assert.Equal(t, ir.CodeUnmappedValue, rep.ErrorCode)
	assert.Equal(t, ir.RunStatusFailed, rep.Status)
	assert.Equal(t, ir.Counts{Failed: 1}, rep.Counts)
	assert.Zero(t, f.platform.MutatingCalls())
	assert.Equal(t, progress.EventFailed, lastType(f.events))
}

func TestRun_CancelledKeepsPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &cancelAfter{n: 1, cancel: cancel}

	f := newFixture(t, nil, WithProgress(sink))
	for _, title := range []string{"a", "b", "c"} {
		f.addTask(t, ir.Fields{"title": ir.String(title), "status": ir.String("todo")})
	}

	rep, err := f.engine.Run(ctx, testRemote(), ir.DirectionPush, Options{Project: testProject})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ir.RunStatusCancelled, rep.Status)
	assert.Len(t, rep.Results, 1)
	assert.Equal(t, 1, f.platform.Calls(memory.OpCreate))

	events := sink.Events()
	last := events[len(events)-1]
	assert.Equal(t, progress.EventFailed, last.Type)
	assert.True(t, strings.HasPrefix(last.Reason, "cancelled"))
}

func TestRun_CancelledBeforeEnumeration(t *testing.T) {
	f := newFixture(t, nil)
	seedIssues(f.platform, "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := f.engine.Run(ctx, testRemote(), ir.DirectionPull, Options{Project: testProject})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ir.RunStatusCancelled, rep.Status)
	assert.Empty(t, rep.Results)
	assert.Empty(t, f.tasks(t))
}

func TestRun_ParallelWorkersSameOutcome(t *testing.T) {
	seq := newFixture(t, nil)
	par := newFixture(t, nil)
	for i := 0; i < 12; i++ {
		for _, f := range []*fixture{seq, par} {
			f.addTask(t, ir.Fields{"title": ir.String("task"), "status": ir.String("todo")})
		}
	}

	a := seq.run(t, ir.DirectionPush, Options{})
	b := par.run(t, ir.DirectionPush, Options{Workers: 4})

	assert.Equal(t, a.Counts, b.Counts)
	require.Len(t, b.Results, len(a.Results))
	for i := range a.Results {
		assert.Equal(t, a.Results[i].TaskID, b.Results[i].TaskID)
		assert.Equal(t, a.Results[i].Outcome, b.Results[i].Outcome)
	}
	assert.Len(t, par.platform.IDs(), 12)
	for _, task := range par.tasks(t) {
		assert.Len(t, task.References, 1)
	}
}

func TestRun_ParallelPull(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 20; i++ {
		seedIssues(f.platform, "issue")
	}

	rep := f.run(t, ir.DirectionPull, Options{Workers: 8})

	assert.Equal(t, ir.Counts{Created: 20}, rep.Counts)
	assert.Len(t, f.tasks(t), 20)

	again := f.run(t, ir.DirectionPull, Options{Workers: 8})
	assert.Equal(t, ir.Counts{Skipped: 20}, again.Counts)
}

func TestRun_TruncatedEnumeration(t *testing.T) {
	f := newFixture(t, []memory.Option{memory.WithResultCap(2), memory.WithPageSize(1)})
	seedIssues(f.platform, "a", "b", "c")

	rep := f.run(t, ir.DirectionPull, Options{})

	assert.True(t, rep.Truncated)
	assert.Equal(t, ir.Counts{Created: 2}, rep.Counts)
}

func TestRun_FetchLimit(t *testing.T) {
	f := newFixture(t, nil, WithFetchLimit(2))
	seedIssues(f.platform, "a", "b", "c")

	rep := f.run(t, ir.DirectionPull, Options{})

	assert.True(t, rep.Truncated)
	assert.Len(t, rep.Results, 2)
}

func TestRun_PullFilter(t *testing.T) {
	f := newFixture(t, nil)
	f.platform.Seed(ir.Fields{"summary": ir.String("keep"), "status": ir.String("To Do"), "labels": ir.Strings("sync")})
	f.platform.Seed(ir.Fields{"summary": ir.String("ignore"), "status": ir.String("To Do")})
	remote := testRemote()
	remote.Filter = "labels=sync"

	rep, err := f.engine.Run(context.Background(), remote, ir.DirectionPull, Options{Project: testProject})

	require.NoError(t, err)
	assert.Equal(t, ir.Counts{Created: 1}, rep.Counts)
	assert.Equal(t, "PROJ-1", rep.Results[0].ExternalID)
}

func TestRun_FatalErrors(t *testing.T) {
	tests := []struct {
		name      string
		direction ir.Direction
		opts      Options
		creds     testutil.StaticCredentials
		code      ir.ErrorCode
		events    []progress.EventType
	}{
		{
			name:      "unknown direction",
			direction: "both",
			opts:      Options{Project: testProject},
			code:      ir.CodeConfig,
			events:    []progress.EventType{progress.EventFailed},
		},
		{
			name:      "missing project",
			direction: ir.DirectionPull,
			code:      ir.CodeConfig,
			events:    []progress.EventType{progress.EventFailed},
		},
		{
			name:      "credentials",
			direction: ir.DirectionPull,
			opts:      Options{Project: testProject},
			creds:     testutil.StaticCredentials{Missing: map[string]bool{"work": true}},
			code:      ir.CodeAuth,
			events:    []progress.EventType{progress.EventStarted, progress.EventFailed},
		},
		{
			name:      "override profile",
			direction: ir.DirectionPush,
			opts:      Options{Project: testProject, AuthProfile: "other"},
			creds:     testutil.StaticCredentials{Missing: map[string]bool{"other": true}},
			code:      ir.CodeAuth,
			events:    []progress.EventType{progress.EventStarted, progress.EventFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.engine.creds = tt.creds
			seedIssues(f.platform, "a")

			rep, err := f.engine.Run(context.Background(), testRemote(), tt.direction, tt.opts)

			require.Error(t, err)
			assert.Equal(t, tt.code, ir.CodeOf(err))
			assert.Equal(t, ir.RunStatusFailed, rep.Status)
			assert.Equal(t, tt.code, rep.ErrorCode)
			assert.NotNil(t, rep.Results)
			assert.Empty(t, rep.Results)
			assert.Equal(t, tt.events, f.events.Types())
			assert.Zero(t, f.platform.Calls(memory.OpFetch))
		})
	}
}

func TestRun_RemoteEnumerationFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.platform.FailOn(memory.OpFetch, "", ir.Errorf(ir.CodeAuth, "token revoked"), 1)

	rep, err := f.engine.Run(context.Background(), testRemote(), ir.DirectionPull, Options{Project: testProject})

	require.Error(t, err)
	assert.Equal(t, ir.CodeAuth, ir.CodeOf(err))
	assert.Equal(t, ir.RunStatusFailed, rep.Status)
}

func TestRun_ConcurrentRunRejected(t *testing.T) {
	reg := NewRegistry(t.TempDir())
	f := newFixture(t, nil, WithRegistry(reg))
	release, err := reg.Acquire("jira-main")
	require.NoError(t, err)
	defer release()

	rep, err := f.engine.Run(context.Background(), testRemote(), ir.DirectionPull, Options{Project: testProject})

	require.Error(t, err)
	assert.Equal(t, ir.CodeConcurrentRun, ir.CodeOf(err))
	assert.Equal(t, ir.RunStatusFailed, rep.Status)
	assert.Equal(t, []progress.EventType{progress.EventFailed}, f.events.Types())
	assert.False(t, reg.Active("other"))
}

func TestRun_ReleasesRemoteAfterRun(t *testing.T) {
	reg := NewRegistry(t.TempDir())
	f := newFixture(t, nil, WithRegistry(reg))

	f.run(t, ir.DirectionPull, Options{})

	assert.False(t, reg.Active("jira-main"))
	f.run(t, ir.DirectionPull, Options{})
}

func TestRun_ProgressEvents(t *testing.T) {
	f := newFixture(t, nil)
	seedIssues(f.platform, "a", "b")

	f.run(t, ir.DirectionPull, Options{})

	events := f.events.Events()
	assert.Equal(t, []progress.EventType{
		progress.EventStarted,
		progress.EventProgress,
		progress.EventProgress,
		progress.EventCompleted,
	}, f.events.Types())
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, "run-1", ev.RunID)
		assert.Equal(t, "jira-main", ev.Remote)
		assert.Equal(t, ir.DirectionPull, ev.Direction)
	}
	assert.Equal(t, 2, events[2].Processed)
	assert.Equal(t, 2, events[2].Total)
	require.NotNil(t, events[3].Summary)
	assert.Equal(t, ir.Counts{Created: 2}, *events[3].Summary)
}

func TestRun_PersistsReport(t *testing.T) {
	reports := report.NewStore(t.TempDir(), true)
	f := newFixture(t, nil, WithReportStore(reports))
	seedIssues(f.platform, "a")

	f.run(t, ir.DirectionPull, Options{Persist: true})
	f.run(t, ir.DirectionPull, Options{})

	entries, err := reports.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	_, saved, err := reports.Get(entries[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "run-1", saved.RunID)
	assert.Equal(t, ir.Counts{Created: 1}, saved.Counts)
}

func TestRun_PersistsFailedReport(t *testing.T) {
	reports := report.NewStore(t.TempDir(), true)
	f := newFixture(t, nil, WithReportStore(reports))
	f.engine.creds = testutil.StaticCredentials{Missing: map[string]bool{"work": true}}

	_, err := f.engine.Run(context.Background(), testRemote(), ir.DirectionPull, Options{Project: testProject, Persist: true})
	require.Error(t, err)

	entries, err := reports.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	_, saved, err := reports.Get(entries[0].Path)
	require.NoError(t, err)
	assert.Equal(t, ir.RunStatusFailed, saved.Status)
	assert.Equal(t, ir.CodeAuth, saved.ErrorCode)
}

func lastType(r *progress.Recorder) progress.EventType {
	types := r.Types()
	if len(types) == 0 {
		return ""
	}
	return types[len(types)-1]
}
