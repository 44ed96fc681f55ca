package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/issuesync/internal/ir"
)

const minimalYAML = `
name: minimal
description: "One pull"
remote:
  provider: jira
  target: PROJ
  mapping: |
    title: "summary"
steps:
  - action: pull
`

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, ir.ProviderJira, s.Remote.Provider)
	assert.Equal(t, "PROJ", s.Remote.Target)
	assert.Equal(t, "title: \"summary\"\n", s.Remote.Mapping)
	require.Len(t, s.Steps, 1)
	assert.True(t, s.Steps[0].IsRun())
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Expect(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: expect
description: "Expect clause decoding"
remote: {provider: github, target: acme/web, mapping: 'title: "title"'}
steps:
  - action: push
    dry_run: true
    workers: 2
    expect:
      status: ok
      counts: {created: 1, failed: 2}
      outcomes: {task-0001: created}
      mutating_calls: 0
`))
	require.NoError(t, err)

	step := s.Steps[0]
	assert.True(t, step.DryRun)
	assert.Equal(t, 2, step.Workers)
	require.NotNil(t, step.Expect)
	assert.Equal(t, ir.RunStatusOK, step.Expect.Status)
	assert.Equal(t, &ir.Counts{Created: 1, Failed: 2}, step.Expect.Counts)
	assert.Equal(t, map[string]ir.Outcome{"task-0001": ir.OutcomeCreated}, step.Expect.Outcomes)
	require.NotNil(t, step.Expect.MutatingCalls)
	assert.Equal(t, 0, *step.Expect.MutatingCalls)
}

func TestParseScenario_Invalid(t *testing.T) {
	remote := "remote: {provider: jira, target: PROJ, mapping: 'title: \"summary\"'}\n"
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "name: x\ndescription: d\n" + remote + "steps: [{action: pull}]\nassertion: []\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "missing name",
			yaml:    "description: d\n" + remote + "steps: [{action: pull}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: x\n" + remote + "steps: [{action: pull}]\n",
			wantErr: "description is required",
		},
		{
			name:    "bad provider",
			yaml:    "name: x\ndescription: d\nremote: {provider: gitlab, target: a/b, mapping: 'a: \"b\"'}\nsteps: [{action: pull}]\n",
			wantErr: "remote.provider must be jira or github",
		},
		{
			name:    "missing target",
			yaml:    "name: x\ndescription: d\nremote: {provider: jira, mapping: 'a: \"b\"'}\nsteps: [{action: pull}]\n",
			wantErr: "remote.target is required",
		},
		{
			name:    "missing mapping",
			yaml:    "name: x\ndescription: d\nremote: {provider: jira, target: PROJ}\nsteps: [{action: pull}]\n",
			wantErr: "remote.mapping is required",
		},
		{
			name:    "no steps",
			yaml:    "name: x\ndescription: d\n" + remote,
			wantErr: "steps list is required",
		},
		{
			name:    "unknown action",
			yaml:    "name: x\ndescription: d\n" + remote + "steps: [{action: sync}]\n",
			wantErr: `steps[0]: unknown action "sync"`,
		},
		{
			name:    "edit_issue without issue",
			yaml:    "name: x\ndescription: d\n" + remote + "steps: [{action: edit_issue, fields: {a: b}}]\n",
			wantErr: "steps[0]: issue is required for edit_issue",
		},
		{
			name:    "edit_task without fields",
			yaml:    "name: x\ndescription: d\n" + remote + "steps: [{action: edit_task, task: task-0001}]\n",
			wantErr: "steps[0]: fields are required for edit_task",
		},
		{
			name:    "unlink without task",
			yaml:    "name: x\ndescription: d\n" + remote + "steps: [{action: unlink}]\n",
			wantErr: "steps[0]: task is required for unlink",
		},
		{
			name:    "expect on edit",
			yaml:    "name: x\ndescription: d\n" + remote + "steps: [{action: unlink, task: t, expect: {status: ok}}]\n",
			wantErr: "steps[0]: expect is only valid on pull and push",
		},
		{
			name:    "bad seed reference",
			yaml:    "name: x\ndescription: d\n" + remote + "setup: {tasks: [{fields: {title: a}, refs: [PROJ-5]}]}\nsteps: [{action: pull}]\n",
			wantErr: "setup.tasks[0]",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: x\ndescription: d\n" + remote + "steps: [{action: pull}]\nassertions: [{type: trace_contains}]\n",
			wantErr: `assertions[0]: unknown assertion type "trace_contains"`,
		},
		{
			name:    "issue_fields without fields",
			yaml:    "name: x\ndescription: d\n" + remote + "steps: [{action: pull}]\nassertions: [{type: issue_fields, issue: PROJ-1}]\n",
			wantErr: "assertions[0]: fields are required for issue_fields",
		},
		{
			name:    "negative count",
			yaml:    "name: x\ndescription: d\n" + remote + "steps: [{action: pull}]\nassertions: [{type: task_count, count: -1}]\n",
			wantErr: "count must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestScenarioFilesParse(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, filepath.Base(path), s.Name+".yaml", "scenario name matches file name")
		})
	}
}
