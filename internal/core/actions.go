package core

import (
	"fmt"
	"sync"
)

// Action is the local stand-in for a `uses:` reference.
type Action struct {
	Skip bool   // succeed without doing anything
	Run  string // shell command executed like a `run:` step
}

// ActionRegistry maps action names (without @ref) to local handlers.
type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewActionRegistry returns an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{actions: make(map[string]Action)}
}

// DefaultActions knows the setup actions used by the built-in workflow. They
// prepare hosted runners, so locally there is nothing to do.
func DefaultActions() *ActionRegistry {
	r := NewActionRegistry()
	r.Register("actions/checkout", Action{Skip: true})
	r.Register("cachix/install-nix-action", Action{Skip: true})
	r.Register("actions-rs/toolchain", Action{Skip: true})
	r.Register("dtolnay/rust-toolchain", Action{Skip: true})
	return r
}

// Register adds or replaces a handler.
func (r *ActionRegistry) Register(name string, a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = a
}

// Resolve finds the handler for a `uses:` reference.
func (r *ActionRegistry) Resolve(ref string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.actions[ActionName(ref)]; ok {
		return a, nil
	}
	return Action{}, fmt.Errorf("%w: %s", ErrUnsupportedAction, ref)
}
