package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"

	"narci/internal/config"
	"narci/internal/core"
)

const defaultWorkflowPath = ".github/workflows/ci.yml"

func initCmd(_ *app) *cobra.Command {
	var force bool

	c := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the built-in workflow to " + defaultWorkflowPath,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultWorkflowPath
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := renameio.WriteFile(path, core.DefaultWorkflowYAML(), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	c.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return c
}

func validateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [workflow]",
		Short: "Check a workflow file without running it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Workflow
			if len(args) == 1 {
				path = args[0]
			}
			wf, err := config.LoadWorkflow(path)
			if err != nil {
				return err
			}
			waves, err := core.NewScheduler().Plan(wf)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "OK: %s (%d jobs)\n", displayPath(path), len(wf.Jobs))
			for i, wave := range waves {
				ids := make([]string, len(wave))
				for j, job := range wave {
					ids[j] = job.ID
				}
				fmt.Fprintf(out, "  wave %d: %s\n", i+1, strings.Join(ids, ", "))
			}
			return nil
		},
	}
}

func runCmd(a *app) *cobra.Command {
	var (
		event    string
		branch   string
		workflow string
		asJSON   bool
	)

	c := &cobra.Command{
		Use:   "run",
		Short: "Run the workflow locally for an event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.cfg.Workflow
			if workflow != "" {
				path = workflow
			}
			wf, err := config.LoadWorkflow(path)
			if err != nil {
				return err
			}

			ev := core.Event{Name: event, Branch: branch}
			out := cmd.OutOrStdout()
			if !wf.Matches(ev) {
				fmt.Fprintf(out, "workflow %q does not trigger on %s to %q\n", wf.Name, ev.Name, ev.Branch)
				return nil
			}

			runner, _, err := newRunner(a.cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := runner.Run(ctx, wf, ev)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				printRun(out, res)
			}

			if res.Status != core.StatusSuccess {
				return fmt.Errorf("run %s: %s", res.ID, res.Status)
			}
			return nil
		},
	}

	c.Flags().StringVar(&event, "event", core.EventPush, "event name: push or pull_request")
	c.Flags().StringVar(&branch, "branch", "main", "pushed branch, or base branch of the pull request")
	c.Flags().StringVarP(&workflow, "workflow", "w", "", "workflow file (overrides config)")
	c.Flags().BoolVar(&asJSON, "json", false, "print the run result as JSON")
	return c
}

func printRun(w io.Writer, res *core.RunResult) {
	fmt.Fprintf(w, "run %s  %s  (%s)\n", res.ID, res.Status, res.Finished.Sub(res.Started).Round(time.Millisecond))
	for _, j := range res.Jobs {
		fmt.Fprintf(w, "  %-9s %s\n", j.Status, j.Name)
		for _, s := range j.Steps {
			line := fmt.Sprintf("    %-9s %s", s.Status, s.Name)
			if s.Error != "" {
				line += ": " + s.Error
			}
			if s.LogPath != "" && s.Status == core.StatusFailure {
				line += " (log: " + s.LogPath + ")"
			}
			fmt.Fprintln(w, line)
		}
	}
}

func displayPath(path string) string {
	if path == "" {
		return "built-in workflow"
	}
	return path
}
