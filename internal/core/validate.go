package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// owner/repo[/path]@ref
var actionRefPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+(/[A-Za-z0-9_./-]+)?@[A-Za-z0-9_./-]+$`)

// Validate checks the structural rules a runnable workflow must satisfy.
// All problems are reported together; each one wraps ErrInvalidWorkflow.
func (w *Workflow) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidWorkflow, fmt.Sprintf(format, args...)))
	}

	// Unknown events (schedule, workflow_dispatch, ...) are allowed; they never match.
	if w.On.Empty() {
		fail("no trigger declared under `on`")
	}
	if len(w.Jobs) == 0 {
		fail("no jobs declared")
	}

	// graphOK is false when Plan would misreport a broken graph as a cycle.
	graphOK := true
	seen := make(map[string]bool, len(w.Jobs))
	for _, j := range w.Jobs {
		if seen[j.ID] {
			fail("job %q declared twice", j.ID)
			graphOK = false
		}
		seen[j.ID] = true
	}

	for _, j := range w.Jobs {
		if strings.TrimSpace(j.RunsOn) == "" {
			fail("job %q: missing runs-on", j.ID)
		}
		if len(j.Steps) == 0 {
			fail("job %q: no steps", j.ID)
		}
		if j.TimeoutMinutes < 0 {
			fail("job %q: negative timeout-minutes", j.ID)
		}
		for _, need := range j.Needs {
			if need == j.ID {
				fail("job %q: needs itself", j.ID)
				graphOK = false
			} else if !seen[need] {
				fail("job %q: needs unknown job %q", j.ID, need)
				graphOK = false
			}
		}
		for i, s := range j.Steps {
			hasUses, hasRun := s.Uses != "", strings.TrimSpace(s.Run) != ""
			switch {
			case hasUses && hasRun:
				fail("job %q step %d: both uses and run set", j.ID, i+1)
			case !hasUses && !hasRun:
				fail("job %q step %d: neither uses nor run set", j.ID, i+1)
			case hasUses && !validActionRef(s.Uses):
				fail("job %q step %d: malformed action reference %q", j.ID, i+1, s.Uses)
			}
			if s.TimeoutMinutes < 0 {
				fail("job %q step %d: negative timeout-minutes", j.ID, i+1)
			}
		}
	}

	if graphOK && len(w.Jobs) > 0 {
		if _, err := NewScheduler().Plan(w); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidWorkflow, err))
		}
	}

	return errors.Join(errs...)
}

func validActionRef(ref string) bool {
	switch {
	case strings.HasPrefix(ref, "./"):
		return len(ref) > 2
	case strings.HasPrefix(ref, "docker://"):
		return len(ref) > len("docker://")
	}
	return actionRefPattern.MatchString(ref)
}

// ActionName strips the @ref suffix from an action reference.
func ActionName(ref string) string {
	if i := strings.LastIndex(ref, "@"); i > 0 && !strings.HasPrefix(ref, "docker://") {
		return ref[:i]
	}
	return ref
}
