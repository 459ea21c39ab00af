package runner

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/engine/infra/snapstore"
	"github.com/compozy/tasktree/engine/spec"
	"github.com/compozy/tasktree/engine/task"
	"github.com/compozy/tasktree/engine/workflow"
	"github.com/compozy/tasktree/pkg/logger"
)

// Definitions resolves a process by name when a saved workflow is restored.
type Definitions interface {
	Lookup(name string) (*spec.Process, error)
}

// TaskRef names a pending task of a workflow.
type TaskRef struct {
	ID     string `json:"id"               yaml:"id"`
	Spec   string `json:"spec"             yaml:"spec"`
	State  string `json:"state"            yaml:"state"`
	Manual bool   `json:"manual,omitempty" yaml:"manual,omitempty"`
}

// Result summarizes a workflow after an operation.
type Result struct {
	ID        string         `json:"id"                yaml:"id"`
	Process   string         `json:"process"           yaml:"process"`
	Completed bool           `json:"completed"         yaml:"completed"`
	Cancelled bool           `json:"cancelled"         yaml:"cancelled"`
	Success   bool           `json:"success"           yaml:"success"`
	Saved     bool           `json:"saved,omitempty"   yaml:"saved,omitempty"`
	Caught    int            `json:"caught,omitempty"  yaml:"caught,omitempty"`
	Pending   []TaskRef      `json:"pending,omitempty" yaml:"pending,omitempty"`
	Data      map[string]any `json:"data"              yaml:"data"`
}

// RunConfig tunes one drive of the run loop.
type RunConfig struct {
	AutoManual bool
}

// Runner starts workflows and applies operations to saved ones. Operations on
// the same workflow id are serialized.
type Runner struct {
	defs  Definitions
	store snapstore.Store
	opts  []workflow.Option
	save  bool
	mu    sync.Mutex
	locks map[core.ID]*sync.Mutex
}

type Option func(*Runner)

func WithWorkflowOptions(opts ...workflow.Option) Option {
	return func(r *Runner) { r.opts = append(r.opts, opts...) }
}

// WithSave controls whether workflows are written to the store after each
// operation. It defaults to true.
func WithSave(save bool) Option {
	return func(r *Runner) { r.save = save }
}

func New(defs Definitions, store snapstore.Store, opts ...Option) *Runner {
	r := &Runner{defs: defs, store: store, save: true, locks: make(map[core.ID]*sync.Mutex)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) lock(id core.ID) func() {
	r.mu.Lock()
	m, ok := r.locks[id]
	if !ok {
		m = &sync.Mutex{}
		r.locks[id] = m
	}
	r.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (r *Runner) workflowOptions(rc RunConfig) []workflow.Option {
	opts := slices.Clone(r.opts)
	if rc.AutoManual {
		opts = append(opts, workflow.WithHaltOnManual(false))
	}
	return opts
}

// Start creates a workflow for p and runs it until it completes or halts.
func (r *Runner) Start(ctx context.Context, p *spec.Process, data map[string]any, rc RunConfig) (*Result, error) {
	wf, err := workflow.New(ctx, p, append(r.workflowOptions(rc), workflow.WithData(data))...)
	if err != nil {
		return nil, err
	}
	unlock := r.lock(wf.ID())
	defer unlock()
	logger.FromContext(ctx).Info("workflow started", "workflow_id", wf.ID(), "process", p.Name())
	if err := wf.RunAll(ctx); err != nil {
		return nil, err
	}
	return r.finish(ctx, wf)
}

// Resume restores a saved workflow and continues its run loop.
func (r *Runner) Resume(ctx context.Context, id core.ID, rc RunConfig) (*Result, error) {
	return r.update(ctx, id, rc, func(context.Context, *workflow.Workflow) error { return nil })
}

// Signal delivers ev to a saved workflow and continues it.
func (r *Runner) Signal(ctx context.Context, id core.ID, ev task.Event, rc RunConfig) (*Result, error) {
	var caught int
	res, err := r.update(ctx, id, rc, func(ctx context.Context, wf *workflow.Workflow) error {
		n, err := wf.CatchEvent(ctx, ev)
		caught = n
		return err
	})
	if err != nil {
		return nil, err
	}
	res.Caught = caught
	return res, nil
}

// CompleteTask runs a READY task of a saved workflow, typically a manual one,
// after merging data into it.
func (r *Runner) CompleteTask(
	ctx context.Context,
	id, taskID core.ID,
	data map[string]any,
	rc RunConfig,
) (*Result, error) {
	return r.update(ctx, id, rc, func(ctx context.Context, wf *workflow.Workflow) error {
		return wf.RunTask(ctx, taskID, data)
	})
}

// Cancel cancels a saved workflow.
func (r *Runner) Cancel(ctx context.Context, id core.ID, success bool) (*Result, error) {
	unlock := r.lock(id)
	defer unlock()
	wf, err := r.restore(ctx, id, RunConfig{})
	if err != nil {
		return nil, err
	}
	if _, err := wf.Cancel(ctx, success); err != nil {
		return nil, err
	}
	return r.finish(ctx, wf)
}

// Get summarizes a saved workflow without running it.
func (r *Runner) Get(ctx context.Context, id core.ID) (*Result, error) {
	wf, err := r.restore(ctx, id, RunConfig{})
	if err != nil {
		return nil, err
	}
	return summarize(wf), nil
}

func (r *Runner) List(ctx context.Context) ([]core.ID, error) {
	return r.store.List(ctx)
}

// Delete removes the saved workflow and forgets its lock.
func (r *Runner) Delete(ctx context.Context, id core.ID) error {
	unlock := r.lock(id)
	defer unlock()
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.locks, id)
	r.mu.Unlock()
	return nil
}

type mutation func(ctx context.Context, wf *workflow.Workflow) error

func (r *Runner) update(ctx context.Context, id core.ID, rc RunConfig, fn mutation) (*Result, error) {
	unlock := r.lock(id)
	defer unlock()
	wf, err := r.restore(ctx, id, rc)
	if err != nil {
		return nil, err
	}
	if err := fn(ctx, wf); err != nil {
		return nil, err
	}
	if err := wf.RunAll(ctx); err != nil {
		return nil, err
	}
	return r.finish(ctx, wf)
}

func (r *Runner) restore(ctx context.Context, id core.ID, rc RunConfig) (*workflow.Workflow, error) {
	snap, err := r.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := r.defs.Lookup(snap.Tree.Definition)
	if err != nil {
		return nil, err
	}
	return workflow.Restore(ctx, p, snap, r.workflowOptions(rc)...)
}

func (r *Runner) finish(ctx context.Context, wf *workflow.Workflow) (*Result, error) {
	res := summarize(wf)
	if !r.save {
		return res, nil
	}
	if err := r.store.Save(ctx, wf.Snapshot()); err != nil {
		return nil, fmt.Errorf("failed to save workflow %s: %w", wf.ID(), err)
	}
	res.Saved = true
	log := logger.FromContext(ctx).With("workflow_id", wf.ID())
	if !res.Completed {
		log.Info("workflow halted", "pending", len(res.Pending))
		return res, nil
	}
	log.Info("workflow finished", "cancelled", res.Cancelled, "success", res.Success)
	return res, nil
}

func summarize(wf *workflow.Workflow) *Result {
	res := &Result{
		ID:        wf.ID().String(),
		Process:   wf.Definition().Name(),
		Completed: wf.IsCompleted(),
		Cancelled: wf.Cancelled(),
		Success:   wf.Success(),
		Data:      wf.Data(),
	}
	for _, t := range append(wf.ReadyTasks(), wf.WaitingTasks()...) {
		res.Pending = append(res.Pending, TaskRef{
			ID:     t.ID().String(),
			Spec:   t.Spec().Name(),
			State:  t.State().String(),
			Manual: t.Spec().Manual(),
		})
	}
	return res
}
