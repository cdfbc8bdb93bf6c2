package core

import (
	"fmt"
	"path"

	"gopkg.in/yaml.v3"
)

// Event names a workflow can be triggered by.
const (
	EventPullRequest = "pull_request"
	EventPush        = "push"
)

// Workflow represents an entire CI workflow file
type Workflow struct {
	Name string            `yaml:"name"`
	On   Triggers          `yaml:"on"`
	Env  map[string]string `yaml:"env"`
	Jobs Jobs              `yaml:"jobs"` // declaration order is kept
}

// Job looks up a job by its id.
func (w *Workflow) Job(id string) (Job, bool) {
	for _, j := range w.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return Job{}, false
}

// Event is something that happened to the repository (a push, a pull request).
type Event struct {
	Name   string `json:"event"`
	Branch string `json:"branch"` // pushed branch, or base branch of a pull request
}

// BranchFilter restricts a trigger to matching branches.
// An empty filter matches every branch.
type BranchFilter struct {
	Branches []string `yaml:"branches"`
}

// Match reports whether branch satisfies the filter. Entries are glob patterns.
func (f *BranchFilter) Match(branch string) bool {
	if f == nil || len(f.Branches) == 0 {
		return true
	}
	for _, pattern := range f.Branches {
		if ok, err := path.Match(pattern, branch); err == nil && ok {
			return true
		}
	}
	return false
}

// Triggers is the `on:` block. A nil filter means the event is not subscribed.
type Triggers struct {
	PullRequest *BranchFilter
	Push        *BranchFilter
	Unknown     []string // events narci does not run, e.g. schedule; they never match
}

// Empty reports whether no trigger at all was declared.
func (t Triggers) Empty() bool {
	return t.PullRequest == nil && t.Push == nil && len(t.Unknown) == 0
}

// UnmarshalYAML accepts `on: push`, `on: [push, pull_request]` and the mapping form.
func (t *Triggers) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		t.add(value.Value, nil)
		return nil

	case yaml.SequenceNode:
		for _, n := range value.Content {
			if n.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: trigger list entries must be event names", n.Line)
			}
			t.add(n.Value, nil)
		}
		return nil

	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			key, body := value.Content[i], value.Content[i+1]
			filter := &BranchFilter{}
			switch {
			case body.Kind == yaml.MappingNode:
				if err := body.Decode(filter); err != nil {
					return fmt.Errorf("line %d: trigger %q: %w", body.Line, key.Value, err)
				}
			case body.Kind == yaml.ScalarNode && (body.Tag == "!!null" || body.Value == ""):
				// `pull_request:` with no body
			default:
				return fmt.Errorf("line %d: trigger %q must be a mapping", body.Line, key.Value)
			}
			t.add(key.Value, filter)
		}
		return nil
	}
	return fmt.Errorf("line %d: unsupported `on` value", value.Line)
}

func (t *Triggers) add(event string, filter *BranchFilter) {
	if filter == nil {
		filter = &BranchFilter{}
	}
	switch event {
	case EventPullRequest:
		t.PullRequest = filter
	case EventPush:
		t.Push = filter
	default:
		t.Unknown = append(t.Unknown, event)
	}
}

// Matches reports whether the workflow should run for the event.
func (w *Workflow) Matches(ev Event) bool {
	switch ev.Name {
	case EventPullRequest:
		return w.On.PullRequest != nil && w.On.PullRequest.Match(ev.Branch)
	case EventPush:
		return w.On.Push != nil && w.On.Push.Match(ev.Branch)
	}
	return false
}
