package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Executor is responsible for running steps (commands)
type Executor struct {
	Workdir string          // repository checkout the commands run in
	Actions *ActionRegistry // resolves `uses:` steps
}

// NewExecutor returns an executor rooted at workdir.
func NewExecutor(workdir string, actions *ActionRegistry) *Executor {
	if actions == nil {
		actions = DefaultActions()
	}
	return &Executor{Workdir: workdir, Actions: actions}
}

// RunStep executes a single step and returns its result. env is the merged
// workflow and job environment; the step's own env is layered on top.
func (e *Executor) RunStep(ctx context.Context, step Step, env map[string]string, timeout time.Duration) (res StepResult) {
	res = StepResult{Name: step.Label(), Status: StatusRunning}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	script := step.Run
	if step.Uses != "" {
		action, err := e.Actions.Resolve(step.Uses)
		if err != nil {
			res.Status = StatusFailure
			res.ExitCode = -1
			res.Error = err.Error()
			return res
		}
		if action.Skip {
			res.Status = StatusSuccess
			res.Output = fmt.Sprintf("action %s: nothing to do locally\n", step.Uses)
			return res
		}
		script = action.Run
	}

	if step.TimeoutMinutes > 0 {
		timeout = time.Duration(step.TimeoutMinutes) * time.Minute
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// Run the step in a shell (sh -e -c "cmd")
	shell := "sh"
	if step.Shell == "bash" {
		shell = "bash"
	}
	cmd := exec.CommandContext(ctx, shell, "-e", "-c", script)
	cmd.Dir = e.dir(step.WorkingDirectory)
	cmd.Env = buildEnv(env, step)
	// grandchildren may hold the output pipe open after the shell is killed
	cmd.WaitDelay = 2 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	res.Output = out.String()
	if err == nil {
		res.Status = StatusSuccess
		return res
	}

	res.Status = StatusFailure
	res.Error = err.Error()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	} else {
		res.ExitCode = -1
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Error = fmt.Sprintf("timed out after %s", timeout)
	case errors.Is(ctx.Err(), context.Canceled):
		res.Status = StatusCancelled
	}
	return res
}

func (e *Executor) dir(rel string) string {
	base := e.Workdir
	if base == "" {
		base = "."
	}
	if rel == "" {
		return base
	}
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(base, rel)
}

// buildEnv layers process env < workflow/job env < step env < INPUT_* from `with`.
func buildEnv(env map[string]string, step Step) []string {
	merged := make(map[string]string, len(env)+len(step.Env)+len(step.With))
	for k, v := range env {
		merged[k] = v
	}
	for k, v := range step.Env {
		merged[k] = v
	}
	for k, v := range step.With {
		name := "INPUT_" + strings.ToUpper(strings.ReplaceAll(k, " ", "_"))
		merged[name] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := os.Environ()
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}
