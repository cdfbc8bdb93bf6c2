package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"narci/internal/core"
	xlog "narci/internal/log"
	"narci/internal/metrics"
)

// reloadDebounce collapses the burst of events editors emit on save.
const reloadDebounce = 300 * time.Millisecond

// LoadWorkflow reads and validates path, or returns the built-in workflow
// when path is empty.
func LoadWorkflow(path string) (*core.Workflow, error) {
	if path == "" {
		return core.DefaultWorkflow(), nil
	}
	wf, err := core.LoadWorkflow(path)
	if err != nil {
		return nil, err
	}
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// WorkflowHolder serves the current workflow and swaps it when the file
// changes. A file that fails to parse or validate leaves the previous
// workflow in place.
type WorkflowHolder struct {
	mu      sync.RWMutex
	current *core.Workflow
	path    string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	reloaded chan struct{} // tests wait on successful reloads
}

// NewWorkflowHolder loads path once; see LoadWorkflow.
func NewWorkflowHolder(path string) (*WorkflowHolder, error) {
	wf, err := LoadWorkflow(path)
	if err != nil {
		return nil, err
	}
	return &WorkflowHolder{
		current:  wf,
		path:     path,
		logger:   xlog.WithComponent("workflow"),
		reloaded: make(chan struct{}, 1),
	}, nil
}

// Get returns the active workflow.
func (h *WorkflowHolder) Get() *core.Workflow {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Path is the watched file, empty for the built-in workflow.
func (h *WorkflowHolder) Path() string { return h.path }

// Reload re-reads the file. On error the old workflow stays active.
func (h *WorkflowHolder) Reload() error {
	if h.path == "" {
		return nil
	}
	wf, err := LoadWorkflow(h.path)
	if err != nil {
		metrics.WorkflowReload(false)
		h.logger.Error().
			Err(err).
			Str("event", "workflow.reload_failed").
			Msg("keeping previous workflow")
		return err
	}

	h.mu.Lock()
	old := h.current
	h.current = wf
	h.mu.Unlock()

	metrics.WorkflowReload(true)
	h.logger.Info().
		Str("event", "workflow.reload_success").
		Str("old", old.Name).
		Str("new", wf.Name).
		Int("jobs", len(wf.Jobs)).
		Msg("workflow reloaded")

	select {
	case h.reloaded <- struct{}{}:
	default:
	}
	return nil
}

// StartWatcher watches the workflow's directory until ctx is done. The
// directory is watched rather than the file so rename-on-save editors keep
// triggering reloads.
func (h *WorkflowHolder) StartWatcher(ctx context.Context) error {
	if h.path == "" {
		h.logger.Info().
			Str("event", "workflow.watcher_disabled").
			Msg("using built-in workflow, nothing to watch")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", h.path, err)
	}
	h.watcher = watcher

	h.logger.Info().
		Str("event", "workflow.watcher_started").
		Str("path", h.path).
		Msg("watching workflow for changes")

	go h.watchLoop(ctx, watcher)
	return nil
}

func (h *WorkflowHolder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	target := filepath.Clean(h.path)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
		_ = watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "workflow.watcher_stopped").Msg("workflow watcher stopped")
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			h.logger.Debug().Str("op", ev.Op.String()).Msg("workflow file changed")

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if ctx.Err() == nil {
					_ = h.Reload()
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Str("event", "workflow.watcher_error").Msg("workflow watcher error")
		}
	}
}
