package core

import "time"

// Status is the outcome of a step, job or run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// StepResult records one executed step.
type StepResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	ExitCode int           `json:"exitCode"`
	Output   string        `json:"-"`
	LogPath  string        `json:"logPath,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// JobResult records one job and its steps.
type JobResult struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Steps    []StepResult  `json:"steps"`
	LogPath  string        `json:"logPath,omitempty"` // combined output of all steps
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// RunResult records a whole workflow run.
type RunResult struct {
	ID       string      `json:"id"`
	Workflow string      `json:"workflow"`
	Event    Event       `json:"event"`
	Status   Status      `json:"status"`
	Jobs     []JobResult `json:"jobs"`
	Started  time.Time   `json:"started"`
	Finished time.Time   `json:"finished"`
}

// Job returns the result for a job id.
func (r *RunResult) Job(id string) (JobResult, bool) {
	for _, j := range r.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return JobResult{}, false
}
