package core

import (
	"fmt"
	"strings"
)

// Scheduler decides execution order of jobs
type Scheduler struct{}

// NewScheduler creates a new scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Plan groups jobs into waves. Every job in a wave only needs jobs from
// earlier waves; jobs without `needs` all land in the first wave.
// Declaration order is kept inside each wave.
func (s *Scheduler) Plan(wf *Workflow) ([][]Job, error) {
	placed := make(map[string]bool, len(wf.Jobs))
	var waves [][]Job

	for len(placed) < len(wf.Jobs) {
		var wave []Job
		for _, j := range wf.Jobs {
			if placed[j.ID] {
				continue
			}
			ready := true
			for _, need := range j.Needs {
				if !placed[need] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, j)
			}
		}
		if len(wave) == 0 {
			var stuck []string
			for _, j := range wf.Jobs {
				if !placed[j.ID] {
					stuck = append(stuck, j.ID)
				}
			}
			return nil, fmt.Errorf("%w among %s", ErrCycle, strings.Join(stuck, ", "))
		}
		for _, j := range wave {
			placed[j.ID] = true
		}
		waves = append(waves, wave)
	}
	return waves, nil
}
