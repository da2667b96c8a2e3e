// Package workflow runs registered multi-step workflows against a closed
// allow-list, persisting progress with optimistic concurrency control.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/synod/synod/internal/config"
	"github.com/synod/synod/internal/store"
)

// Rejection errors.
var (
	ErrUnauthorizedKind = errors.New("workflow kind not in allow-list")
	ErrStateTooLarge    = errors.New("initial workflow state exceeds size bound")
	ErrNoHandler        = errors.New("no handler registered for workflow kind")
)

// Step is one unit of a workflow. It mutates the shared state map; a returned
// error fails the execution.
type Step struct {
	Name string
	Fn   func(ctx context.Context, state map[string]any) error
}

// Runner executes registered workflows. Each execution runs on its own
// monitored goroutine; progress is persisted after every step.
type Runner struct {
	store *store.Store
	cfg   config.WorkflowConfig

	mu       sync.Mutex
	handlers map[string][]Step
	done     map[string]chan struct{}
}

func NewRunner(st *store.Store, cfg config.WorkflowConfig) *Runner {
	if cfg.MaxStateBytes <= 0 {
		cfg.MaxStateBytes = config.DefaultConfig().Workflow.MaxStateBytes
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = config.DefaultConfig().Workflow.MaxRetries
	}
	return &Runner{
		store:    st,
		cfg:      cfg,
		handlers: make(map[string][]Step),
		done:     make(map[string]chan struct{}),
	}
}

// Register binds a step sequence to a workflow kind. Registration does not
// widen the allow-list: an unauthorized kind stays unauthorized no matter
// what is registered for it.
func (r *Runner) Register(kind string, steps ...Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = steps
}

// Run validates the request, persists the execution at version 1, and
// dispatches the steps onto a monitored goroutine. The allow-list is checked
// before handler lookup so unknown kinds are indistinguishable from
// unregistered ones to a probing caller.
func (r *Runner) Run(ctx context.Context, kind string, initial map[string]any) (string, error) {
	if !r.allowed(kind) {
		return "", fmt.Errorf("%w: %q", ErrUnauthorizedKind, kind)
	}
	stateJSON, err := json.Marshal(initial)
	if err != nil {
		return "", fmt.Errorf("encode workflow state: %w", err)
	}
	if len(stateJSON) > r.cfg.MaxStateBytes {
		return "", fmt.Errorf("%w: %d bytes over %d", ErrStateTooLarge, len(stateJSON), r.cfg.MaxStateBytes)
	}

	r.mu.Lock()
	steps, ok := r.handlers[kind]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNoHandler, kind)
	}

	rec := &store.WorkflowExecutionRecord{
		ID:     uuid.NewString(),
		Kind:   kind,
		State:  stateJSON,
		Status: store.WorkflowRunning,
	}
	if err := r.store.CreateWorkflowExecution(rec); err != nil {
		return "", err
	}
	slog.Info("workflow started", "execution_id", rec.ID, "kind", kind, "steps", len(steps))

	finished := make(chan struct{})
	r.mu.Lock()
	r.done[rec.ID] = finished
	r.mu.Unlock()

	go func() {
		defer close(finished)
		defer func() {
			if p := recover(); p != nil {
				slog.Error("workflow panicked", "execution_id", rec.ID, "kind", kind, "panic", p)
				// The in-flight version is unknown after a panic; re-read it.
				if cur, err := r.store.GetWorkflowExecution(rec.ID); err == nil {
					r.checkpoint(rec.ID, cur.Version, nil, store.WorkflowFailed)
				}
			}
		}()
		r.execute(ctx, rec.ID, kind, initial, steps)
	}()
	return rec.ID, nil
}

func (r *Runner) execute(ctx context.Context, id, kind string, state map[string]any, steps []Step) {
	if state == nil {
		state = make(map[string]any)
	}
	version := int64(1)
	var err error
	for _, step := range steps {
		if cerr := ctx.Err(); cerr != nil {
			slog.Warn("workflow cancelled", "execution_id", id, "step", step.Name, "error", cerr)
			r.checkpoint(id, version, state, store.WorkflowFailed)
			return
		}
		if serr := step.Fn(ctx, state); serr != nil {
			slog.Error("workflow step failed", "execution_id", id, "kind", kind, "step", step.Name, "error", serr)
			r.checkpoint(id, version, state, store.WorkflowFailed)
			return
		}
		version, err = r.checkpoint(id, version, state, store.WorkflowRunning)
		if err != nil {
			slog.Error("workflow checkpoint failed", "execution_id", id, "step", step.Name, "error", err)
			return
		}
		slog.Debug("workflow step completed", "execution_id", id, "step", step.Name)
	}
	if _, err := r.checkpoint(id, version, state, store.WorkflowCompleted); err != nil {
		slog.Error("workflow completion write failed", "execution_id", id, "error", err)
		return
	}
	slog.Info("workflow completed", "execution_id", id, "kind", kind)
}

// checkpoint persists state through the store's compare-and-swap, presenting
// the version this runner last wrote. On a lost race it re-reads the current
// version and retries a bounded number of times. Returns the version it ended
// up writing.
func (r *Runner) checkpoint(id string, version int64, state map[string]any, status string) (int64, error) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return version, fmt.Errorf("encode workflow state: %w", err)
	}
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		err = r.store.UpdateWorkflowExecutionCAS(id, version, stateJSON, status)
		if err == nil {
			return version + 1, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return version, err
		}
		cur, rerr := r.store.GetWorkflowExecution(id)
		if rerr != nil {
			return version, rerr
		}
		slog.Warn("workflow version conflict, retrying", "execution_id", id, "presented", version, "current", cur.Version, "attempt", attempt+1)
		version = cur.Version
	}
	return version, fmt.Errorf("workflow %s: %w after %d retries", id, store.ErrVersionConflict, r.cfg.MaxRetries)
}

// Wait blocks until the execution's goroutine finishes or the context is
// cancelled. Returns immediately for unknown or already-finished ids.
func (r *Runner) Wait(ctx context.Context, id string) error {
	r.mu.Lock()
	finished := r.done[id]
	r.mu.Unlock()
	if finished == nil {
		return nil
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) allowed(kind string) bool {
	for _, k := range r.cfg.AllowedKinds {
		if k == kind {
			return true
		}
	}
	return false
}
