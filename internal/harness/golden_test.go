package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/issuesync/internal/ir"
)

// TestScenarios runs every scenario file against the engine.
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(strings.TrimSuffix(filepath.Base(path), ".yaml"), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors:\n%s", strings.Join(result.Errors, "\n"))
		})
	}
}

// TestScenarioGolden pins the full run output of the core scenarios.
func TestScenarioGolden(t *testing.T) {
	names := []string{
		"push_creates_issue",
		"pull_links_issue",
		"push_add_labels",
		"unlink_push_creates_new",
		"idempotence",
		"dry_run_push",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
			require.NoError(t, err)

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, result.Errors)
		})
	}
}

func TestScenarioDeterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/idempotence.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := MarshalSnapshot(NewSnapshot(s.Name, first))
	require.NoError(t, err)
	b, err := MarshalSnapshot(NewSnapshot(s.Name, second))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestNewSnapshot(t *testing.T) {
	result := NewResult()
	result.Steps = append(result.Steps,
		StepRecord{Action: ActionUnlink, Task: "task-0001"},
		StepRecord{
			Action: ActionPull,
			Report: &ir.SyncRunReport{
				RunID:   "run-0001",
				Status:  ir.RunStatusOK,
				Results: []ir.TaskResult{{TaskID: "task-0001", Outcome: ir.OutcomeSkipped}},
				Counts:  ir.Counts{Skipped: 1},
			},
			Mutations: []string{},
		},
	)

	snap := NewSnapshot("unit", result)
	require.Len(t, snap.Steps, 2)
	assert.Equal(t, StepSnapshot{Action: ActionUnlink, Task: "task-0001"}, snap.Steps[0])
	assert.Equal(t, "run-0001", snap.Steps[1].RunID)
	assert.Equal(t, &ir.Counts{Skipped: 1}, snap.Steps[1].Counts)

	data, err := MarshalSnapshot(snap)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "}\n"))
	assert.NotContains(t, string(data), "mutations", "empty mutation lists are omitted")
	assert.NotContains(t, string(data), "started_at")
}
