package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"narci/internal/ledger"
	xlog "narci/internal/log"
	"narci/internal/metrics"
	"narci/pkg/utils"
)

// LogSink stores step output.
type LogSink interface {
	SaveLog(runID, job string, index int, step, output string) (string, error)
}

// Recorder keeps a tamper-evident record of finished jobs.
type Recorder interface {
	Record(e ledger.Entry) (*ledger.Block, error)
}

// Runner ties together Scheduler + Executor + log storage + ledger
type Runner struct {
	Scheduler   *Scheduler
	Executor    *Executor
	Logs        LogSink       // optional
	Ledger      Recorder      // optional
	MaxParallel int           // concurrent jobs, <= 0 means unbounded
	StepTimeout time.Duration // default per-step budget
	Logger      zerolog.Logger
}

// NewRunner returns a runner with the default scheduler.
func NewRunner(exec *Executor, logs LogSink, rec Recorder) *Runner {
	return &Runner{
		Scheduler:   NewScheduler(),
		Executor:    exec,
		Logs:        logs,
		Ledger:      rec,
		StepTimeout: 30 * time.Minute,
		Logger:      xlog.WithComponent("runner"),
	}
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Run executes the workflow for ev. Jobs in the same wave run in parallel and
// never affect each other; a job is skipped only when one of its `needs`
// did not succeed. The returned error is non-nil only when the workflow
// cannot be planned; job failures are reported through RunResult.Status.
func (r *Runner) Run(ctx context.Context, wf *Workflow, ev Event) (*RunResult, error) {
	return r.RunWithID(ctx, NewRunID(), wf, ev)
}

// RunWithID is Run with a caller-chosen run id.
func (r *Runner) RunWithID(ctx context.Context, runID string, wf *Workflow, ev Event) (*RunResult, error) {
	waves, err := r.Scheduler.Plan(wf)
	if err != nil {
		return nil, err
	}

	res := &RunResult{
		ID:       runID,
		Workflow: wf.Name,
		Event:    ev,
		Status:   StatusRunning,
		Jobs:     make([]JobResult, len(wf.Jobs)),
		Started:  time.Now().UTC(),
	}
	position := make(map[string]int, len(wf.Jobs))
	for i, j := range wf.Jobs {
		position[j.ID] = i
		res.Jobs[i] = JobResult{ID: j.ID, Name: j.DisplayName(), Status: StatusPending}
	}

	logger := r.Logger.With().Str("run_id", runID).Str("workflow", wf.Name).Logger()
	logger.Info().
		Str("event", ev.Name).
		Str("branch", ev.Branch).
		Int("jobs", len(wf.Jobs)).
		Int("waves", len(waves)).
		Msg("run started")
	metrics.RunStarted()

	for _, wave := range waves {
		g := new(errgroup.Group)
		if r.MaxParallel > 0 {
			g.SetLimit(r.MaxParallel)
		}
		for _, job := range wave {
			idx := position[job.ID]
			if blocker := failedNeed(res, position, job); blocker != "" {
				res.Jobs[idx].Status = StatusSkipped
				logger.Warn().Str("job", job.ID).Str("needs", blocker).Msg("job skipped, dependency did not succeed")
				r.record(logger, runID, res.Jobs[idx], "")
				metrics.JobFinished(job.ID, string(StatusSkipped))
				continue
			}
			g.Go(func() error {
				// job results are independent, so errors are carried in the result
				res.Jobs[idx] = r.runJob(ctx, logger, runID, wf, job)
				return nil
			})
		}
		_ = g.Wait()
	}

	res.Finished = time.Now().UTC()
	res.Status = overallStatus(ctx, res.Jobs)
	metrics.RunFinished(string(res.Status))

	logger.Info().
		Str("status", string(res.Status)).
		Dur("elapsed", res.Finished.Sub(res.Started)).
		Msg("run finished")
	return res, nil
}

func (r *Runner) runJob(ctx context.Context, parent zerolog.Logger, runID string, wf *Workflow, job Job) JobResult {
	logger := parent.With().Str("job", job.ID).Logger()
	jr := JobResult{
		ID:      job.ID,
		Name:    job.DisplayName(),
		Status:  StatusRunning,
		Started: time.Now().UTC(),
		Steps:   make([]StepResult, 0, len(job.Steps)),
	}

	if t := job.Timeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	env := jobEnv(wf, job, runID)
	var combined strings.Builder

	for i, step := range job.Steps {
		if jr.Status != StatusRunning {
			jr.Steps = append(jr.Steps, StepResult{Name: step.Label(), Status: StatusSkipped})
			continue
		}
		if err := ctx.Err(); err != nil {
			jr.Status = StatusCancelled
			jr.Steps = append(jr.Steps, StepResult{Name: step.Label(), Status: StatusCancelled, Error: err.Error()})
			continue
		}

		logger.Debug().Int("step", i+1).Str("name", step.Label()).Msg("step started")
		sr := r.Executor.RunStep(ctx, step, env, r.StepTimeout)
		metrics.ObserveStep(job.ID, string(sr.Status), sr.Duration)

		fmt.Fprintf(&combined, "==> %s\n%s", sr.Name, sr.Output)
		if r.Logs != nil {
			path, err := r.Logs.SaveLog(runID, job.ID, i+1, sr.Name, sr.Output)
			if err != nil {
				logger.Warn().Err(err).Str("step", sr.Name).Msg("failed to save step log")
			}
			sr.LogPath = path
		}

		ev := logger.Info()
		if sr.Status != StatusSuccess {
			ev = logger.Error().Int("exit_code", sr.ExitCode).Str("error", sr.Error)
		}
		ev.Str("step", sr.Name).Str("status", string(sr.Status)).Dur("elapsed", sr.Duration).Msg("step finished")

		jr.Steps = append(jr.Steps, sr)
		if sr.Status != StatusSuccess {
			// stop at the first failing step
			jr.Status = sr.Status
		}
	}

	if jr.Status == StatusRunning {
		jr.Status = StatusSuccess
	}
	jr.Duration = time.Since(jr.Started)

	var logPath string
	if r.Logs != nil {
		p, err := r.Logs.SaveLog(runID, job.ID, 0, "job", combined.String())
		if err != nil {
			logger.Warn().Err(err).Msg("failed to save job log")
		}
		logPath = p
	}
	jr.LogPath = logPath
	r.recordWithLog(logger, runID, jr, logPath, combined.String())
	metrics.JobFinished(job.ID, string(jr.Status))
	return jr
}

func (r *Runner) record(logger zerolog.Logger, runID string, jr JobResult, logPath string) {
	r.recordWithLog(logger, runID, jr, logPath, "")
}

// A ledger error is logged and leaves the job status unchanged.
func (r *Runner) recordWithLog(logger zerolog.Logger, runID string, jr JobResult, logPath, output string) {
	if r.Ledger == nil {
		return
	}
	blk, err := r.Ledger.Record(ledger.Entry{
		RunID:   runID,
		Job:     jr.ID,
		Status:  string(jr.Status),
		LogPath: logPath,
		LogHash: utils.HashString(output),
	})
	if err != nil {
		logger.Warn().Err(err).Str("job", jr.ID).Msg("cannot append ledger block")
		return
	}
	logger.Debug().Str("job", jr.ID).Int("block", blk.Index).Str("hash", blk.Hash[:16]).Msg("ledger block appended")
}

func failedNeed(res *RunResult, position map[string]int, job Job) string {
	for _, need := range job.Needs {
		if res.Jobs[position[need]].Status != StatusSuccess {
			return need
		}
	}
	return ""
}

func overallStatus(ctx context.Context, jobs []JobResult) Status {
	if ctx.Err() != nil {
		return StatusCancelled
	}
	for _, j := range jobs {
		if j.Status != StatusSuccess {
			return StatusFailure
		}
	}
	return StatusSuccess
}

func jobEnv(wf *Workflow, job Job, runID string) map[string]string {
	env := map[string]string{
		"CI":           "true",
		"NARCI_RUN_ID": runID,
		"NARCI_JOB":    job.ID,
	}
	for k, v := range wf.Env {
		env[k] = v
	}
	for k, v := range job.Env {
		env[k] = v
	}
	return env
}
