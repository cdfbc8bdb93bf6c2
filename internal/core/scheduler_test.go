package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waveIDs(waves [][]Job) [][]string {
	out := make([][]string, len(waves))
	for i, w := range waves {
		for _, j := range w {
			out[i] = append(out[i], j.ID)
		}
	}
	return out
}

func TestPlanIndependentJobsShareOneWave(t *testing.T) {
	waves, err := NewScheduler().Plan(DefaultWorkflow())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Spelling", "NixFormatting", "EditorConfig", "Rust"}}, waveIDs(waves))
}

func TestPlanNeeds(t *testing.T) {
	wf := &Workflow{Jobs: Jobs{
		{ID: "deploy", Needs: StringList{"test", "lint"}},
		{ID: "lint"},
		{ID: "build"},
		{ID: "test", Needs: StringList{"build"}},
	}}
	waves, err := NewScheduler().Plan(wf)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"lint", "build"}, {"test"}, {"deploy"}}, waveIDs(waves))
}

func TestPlanCycle(t *testing.T) {
	wf := &Workflow{Jobs: Jobs{
		{ID: "ok"},
		{ID: "a", Needs: StringList{"b"}},
		{ID: "b", Needs: StringList{"a"}},
	}}
	_, err := NewScheduler().Plan(wf)
	require.ErrorIs(t, err, ErrCycle)
	assert.Contains(t, err.Error(), "a, b")
}
