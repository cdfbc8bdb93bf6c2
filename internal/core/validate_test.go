package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *Workflow {
	t.Helper()
	wf, err := ParseWorkflow([]byte(src))
	require.NoError(t, err)
	return wf
}

func TestValidateReportsEveryProblem(t *testing.T) {
	wf := mustParse(t, `
jobs:
  nosteps:
    runs-on: ubuntu-latest
  norunner:
    steps:
      - run: echo hi
  both:
    runs-on: x
    steps:
      - uses: actions/checkout@v4
        run: echo both
  neither:
    runs-on: x
    steps:
      - name: empty
  badref:
    runs-on: x
    needs: ghost
    steps:
      - uses: not-an-action
`)
	err := wf.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidWorkflow))

	msg := err.Error()
	for _, want := range []string{
		"no trigger",
		`job "nosteps": no steps`,
		`job "norunner": missing runs-on`,
		`job "both" step 1: both uses and run set`,
		`job "neither" step 1: neither uses nor run set`,
		`job "badref": needs unknown job "ghost"`,
		`malformed action reference "not-an-action"`,
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateUnknownTrigger(t *testing.T) {
	wf := mustParse(t, "on: [push, workflow_dispatch]\njobs:\n  a:\n    runs-on: x\n    steps: [{run: 'true'}]\n")
	require.NoError(t, wf.Validate())
	assert.Equal(t, []string{"workflow_dispatch"}, wf.On.Unknown)
	assert.True(t, wf.Matches(Event{Name: EventPush, Branch: "main"}))
	assert.False(t, wf.Matches(Event{Name: "workflow_dispatch", Branch: "main"}))

	only := mustParse(t, "on: schedule\njobs:\n  a:\n    runs-on: x\n    steps: [{run: 'true'}]\n")
	require.NoError(t, only.Validate())
	assert.False(t, only.Matches(Event{Name: "schedule"}))
}

func TestValidateCycleWithOtherProblems(t *testing.T) {
	wf := mustParse(t, `
on: push
jobs:
  a:
    runs-on: x
    needs: b
    steps: [{run: "true"}]
  b:
    runs-on: x
    needs: a
    steps: [{run: "true"}]
  c:
    steps: [{run: "true"}]
`)
	err := wf.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycle)
	assert.Contains(t, err.Error(), `job "c": missing runs-on`)
}

func TestValidateUnknownNeedIsNotACycle(t *testing.T) {
	wf := mustParse(t, `
on: push
jobs:
  a:
    runs-on: x
    needs: ghost
    steps: [{run: "true"}]
`)
	err := wf.Validate()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCycle)
	assert.Contains(t, err.Error(), `needs unknown job "ghost"`)
}

func TestValidateNoJobs(t *testing.T) {
	wf := mustParse(t, "on: push\njobs: {}\n")
	err := wf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no jobs declared")
}

func TestValidateCycle(t *testing.T) {
	wf := mustParse(t, `
on: push
jobs:
  a:
    runs-on: x
    needs: b
    steps: [{run: "true"}]
  b:
    runs-on: x
    needs: a
    steps: [{run: "true"}]
`)
	err := wf.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycle)
	assert.ErrorIs(t, err, ErrInvalidWorkflow)
}

func TestValidActionRef(t *testing.T) {
	for ref, want := range map[string]bool{
		"actions/checkout@v4":           true,
		"cachix/install-nix-action@v27": true,
		"github/codeql-action/init@v3":  true,
		"./.github/actions/local":       true,
		"docker://alpine:3.20":          true,
		"actions/checkout":              false,
		"checkout@v4":                   false,
		"./":                            false,
		"docker://":                     false,
	} {
		assert.Equal(t, want, validActionRef(ref), ref)
	}
}

func TestActionName(t *testing.T) {
	assert.Equal(t, "actions/checkout", ActionName("actions/checkout@v4"))
	assert.Equal(t, "docker://alpine:3.20", ActionName("docker://alpine:3.20"))
	assert.Equal(t, "./local", ActionName("./local"))
}
