package core

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Job represents an independent unit of execution inside a workflow
type Job struct {
	ID             string            `yaml:"-"`               // key under `jobs:` (e.g. "Spelling", "Rust")
	Name           string            `yaml:"name"`            // display name, defaults to ID
	RunsOn         string            `yaml:"runs-on"`         // runner label; informational when run locally
	Needs          StringList        `yaml:"needs"`           // jobs that must succeed first
	TimeoutMinutes int               `yaml:"timeout-minutes"` // whole-job budget, 0 = runner default
	Env            map[string]string `yaml:"env"`
	Steps          []Step            `yaml:"steps"`
}

// DisplayName returns Name, falling back to the job id.
func (j Job) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	return j.ID
}

// Timeout returns the configured job timeout or zero.
func (j Job) Timeout() time.Duration {
	return time.Duration(j.TimeoutMinutes) * time.Minute
}

// Step represents a single instruction inside a job
type Step struct {
	Name             string            `yaml:"name"`
	Uses             string            `yaml:"uses"` // action reference (e.g. "actions/checkout@v4")
	Run              string            `yaml:"run"`  // shell command (e.g. "cargo test")
	With             map[string]string `yaml:"with"`
	Env              map[string]string `yaml:"env"`
	Shell            string            `yaml:"shell"`
	WorkingDirectory string            `yaml:"working-directory"`
	TimeoutMinutes   int               `yaml:"timeout-minutes"`
}

// Label is a short human readable description used in logs.
func (s Step) Label() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Uses != "":
		return s.Uses
	default:
		return s.Run
	}
}

// Jobs keeps jobs in the order they were declared under `jobs:`.
type Jobs []Job

// UnmarshalYAML decodes the `jobs:` mapping while preserving key order.
func (js *Jobs) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: `jobs` must be a mapping", value.Line)
	}
	out := make(Jobs, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, body := value.Content[i], value.Content[i+1]
		var j Job
		if err := body.Decode(&j); err != nil {
			return fmt.Errorf("job %q: %w", key.Value, err)
		}
		j.ID = key.Value
		out = append(out, j)
	}
	*js = out
	return nil
}

// StringList accepts either a single string or a list of strings.
type StringList []string

func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Value == "" {
			*l = nil
			return nil
		}
		*l = StringList{value.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list of strings", value.Line)
}
