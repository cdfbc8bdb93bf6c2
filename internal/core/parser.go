package core

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed workflows/ci.yml
var defaultWorkflow []byte

// ParseWorkflow parses YAML content into a Workflow object
func ParseWorkflow(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	return &wf, nil
}

// LoadWorkflow reads a workflow file and returns a Workflow object
func LoadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	wf, err := ParseWorkflow(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// DefaultWorkflow returns the built-in four-job check workflow
// (Spelling, NixFormatting, EditorConfig, Rust).
func DefaultWorkflow() *Workflow {
	wf, err := ParseWorkflow(defaultWorkflow)
	if err != nil {
		panic(fmt.Sprintf("embedded workflow is invalid: %v", err))
	}
	return wf
}

// DefaultWorkflowYAML returns the raw embedded workflow, e.g. for `narci init`.
func DefaultWorkflowYAML() []byte {
	out := make([]byte, len(defaultWorkflow))
	copy(out, defaultWorkflow)
	return out
}
