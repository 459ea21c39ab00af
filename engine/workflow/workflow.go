package workflow

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/engine/task"
	"github.com/compozy/tasktree/pkg/logger"
)

const (
	DefaultMaxSteps     = 10000
	DefaultHaltOnManual = true
)

// CompletedFunc is called once when a workflow finishes.
type CompletedFunc func(ctx context.Context, wf *Workflow)

type listener struct {
	key string
	fn  CompletedFunc
}

// Workflow drives one task tree and its sub-workflows. It implements
// task.Driver for every tree it owns. A Workflow is not safe for concurrent use.
type Workflow struct {
	def          task.Definition
	tree         *task.Tree
	clock        task.Clock
	data         map[string]any
	maxDepth     int
	maxSteps     int
	haltOnManual bool
	metrics      *Metrics

	completed bool
	cancelled bool
	success   bool
	fired     bool
	last      *task.Task
	listeners []listener
}

type Option func(*Workflow)

func WithData(data map[string]any) Option {
	return func(w *Workflow) { w.data = core.CloneMap(data) }
}

func WithClock(c task.Clock) Option {
	return func(w *Workflow) { w.clock = c }
}

func WithMaxDepth(n int) Option {
	return func(w *Workflow) { w.maxDepth = n }
}

func WithMaxSteps(n int) Option {
	return func(w *Workflow) {
		if n > 0 {
			w.maxSteps = n
		}
	}
}

// WithHaltOnManual sets the default manual handling of RunNext and RunAll.
func WithHaltOnManual(halt bool) Option {
	return func(w *Workflow) { w.haltOnManual = halt }
}

func WithMetrics(m *Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

func newWorkflow(def task.Definition, opts []Option) *Workflow {
	w := &Workflow{
		def:          def,
		maxSteps:     DefaultMaxSteps,
		haltOnManual: DefaultHaltOnManual,
		success:      true,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Workflow) treeOptions() []task.TreeOption {
	return []task.TreeOption{
		task.WithDriver(w),
		task.WithClock(w.clock),
		task.WithTreeMaxDepth(w.maxDepth),
	}
}

// New builds the tree for def and readies its root.
func New(ctx context.Context, def task.Definition, opts ...Option) (*Workflow, error) {
	if def == nil {
		return nil, core.NewError(fmt.Errorf("nil definition"), core.CodeDefinition, nil)
	}
	w := newWorkflow(def, opts)
	w.tree = task.NewTree(def, append(w.treeOptions(), task.WithData(w.data))...)
	if err := w.tree.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize workflow %q: %w", def.Name(), err)
	}
	w.log(ctx).Info("workflow created", "tasks", w.tree.Len())
	return w, nil
}

func (w *Workflow) log(ctx context.Context) logger.Logger {
	return logger.FromContext(ctx).With("workflow", w.def.Name(), "workflow_id", w.tree.ID())
}

func (w *Workflow) ID() core.ID                 { return w.tree.ID() }
func (w *Workflow) Definition() task.Definition { return w.def }
func (w *Workflow) Tree() *task.Tree            { return w.tree }
func (w *Workflow) Data() map[string]any        { return w.tree.Data() }
func (w *Workflow) Success() bool               { return w.success }
func (w *Workflow) Cancelled() bool             { return w.cancelled }

// IsCompleted reports whether the End node completed or no task of the tree is
// unfinished. The answer is cached once true until a reset reopens the tree.
func (w *Workflow) IsCompleted() bool {
	if w.completed {
		return true
	}
	if w.tree.IsCompleted() {
		w.completed = true
	}
	return w.completed
}

// -----------------------------------------------------------------------------
// Queries
// -----------------------------------------------------------------------------

// Task finds id in the tree or any sub-workflow.
func (w *Workflow) Task(id core.ID) (*task.Task, error) {
	if t, ok := w.tree.FindTask(id); ok {
		return t, nil
	}
	return nil, core.NewError(
		fmt.Errorf("task %s not found", id),
		core.CodeTaskNotFound,
		map[string]any{"task_id": id.String()},
	)
}

// Tasks iterates the tree and its sub-workflows from the root.
func (w *Workflow) Tasks(opts ...task.IteratorOption) []*task.Task {
	return w.tree.Tasks(append([]task.IteratorOption{task.WithSubTrees(true)}, opts...)...)
}

func (w *Workflow) ReadyTasks() []*task.Task {
	return w.Tasks(task.WithState(task.StateReady))
}

func (w *Workflow) WaitingTasks() []*task.Task {
	return w.Tasks(task.WithState(task.StateWaiting))
}

// ManualTasks lists READY tasks that need an explicit RunTask.
func (w *Workflow) ManualTasks() []*task.Task {
	manual := true
	return w.Tasks(task.WithFilter(task.Filter{State: task.StateReady, Manual: &manual}))
}

func (w *Workflow) Mutex(name string) *task.Mutex {
	return w.tree.Mutex(name)
}

// SubWorkflow returns the tree attached to the task with id.
func (w *Workflow) SubWorkflow(id core.ID) (*task.Tree, bool) {
	t, ok := w.tree.FindTask(id)
	if !ok {
		return nil, false
	}
	return t.Tree().SubTree(id)
}

// LastTask is the most recently completed task still in the tree, or nil.
func (w *Workflow) LastTask() *task.Task {
	if w.last != nil && w.contains(w.last) {
		return w.last
	}
	return w.tree.LastTask()
}

func (w *Workflow) contains(t *task.Task) bool {
	found, ok := w.tree.FindTask(t.ID())
	return ok && found == t
}

// -----------------------------------------------------------------------------
// Listeners
// -----------------------------------------------------------------------------

// OnCompleted registers fn under key. Registering the same key again replaces it.
func (w *Workflow) OnCompleted(key string, fn CompletedFunc) {
	for i := range w.listeners {
		if w.listeners[i].key == key {
			w.listeners[i].fn = fn
			return
		}
	}
	w.listeners = append(w.listeners, listener{key: key, fn: fn})
}

func (w *Workflow) RemoveCompletedListener(key string) {
	w.listeners = slices.DeleteFunc(w.listeners, func(l listener) bool { return l.key == key })
}

func (w *Workflow) fire(ctx context.Context) {
	if w.fired {
		return
	}
	w.fired = true
	w.completed = true
	w.metrics.OnFinished(ctx, w.def.Name(), w.cancelled, w.success, w.tree.Len())
	w.log(ctx).Info("workflow finished", "success", w.success, "cancelled", w.cancelled)
	for _, l := range slices.Clone(w.listeners) {
		l.fn(ctx, w)
	}
}

// -----------------------------------------------------------------------------
// Driving
// -----------------------------------------------------------------------------

type runConfig struct {
	haltOnManual bool
	useLastTask  bool
}

type RunOption func(*runConfig)

// HaltOnManual controls whether manual tasks are skipped by RunNext.
func HaltOnManual(halt bool) RunOption {
	return func(c *runConfig) { c.haltOnManual = halt }
}

// UseLastTask controls whether the search starts at the last completed task.
func UseLastTask(use bool) RunOption {
	return func(c *runConfig) { c.useLastTask = use }
}

// RunNext runs one READY task and reports whether anything progressed. The
// search prefers the branch of the last completed task, then the whole tree,
// and finally refreshes WAITING tasks.
func (w *Workflow) RunNext(ctx context.Context, opts ...RunOption) (bool, error) {
	cfg := runConfig{haltOnManual: w.haltOnManual, useLastTask: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	filter := task.Filter{State: task.StateReady}
	if cfg.haltOnManual {
		manual := false
		filter.Manual = &manual
	}
	if cfg.useLastTask {
		if last := w.LastTask(); last != nil {
			it := task.NewIterator(last, task.WithFilter(filter), task.WithSubTrees(true))
			if t, ok := it.Next(); ok {
				return true, w.run(ctx, t)
			}
		}
	}
	if t, ok := w.tree.FindFirst(task.WithFilter(filter), task.WithSubTrees(true)); ok {
		return true, w.run(ctx, t)
	}
	for _, t := range w.WaitingTasks() {
		if !w.contains(t) || !t.HasState(task.StateWaiting) {
			continue
		}
		if err := t.Update(ctx); err != nil {
			return false, err
		}
		if !t.HasState(task.StateWaiting) {
			return true, nil
		}
	}
	return false, nil
}

func (w *Workflow) run(ctx context.Context, t *task.Task) error {
	w.log(ctx).Debug("running task", "task_id", t.ID(), "spec", t.Spec().Name())
	err := t.Run(ctx)
	w.metrics.OnTaskRun(ctx, w.def.Name(), t.Spec().Name(), err)
	if err != nil {
		return fmt.Errorf("failed to run task %s: %w", t.Spec().Name(), err)
	}
	return nil
}

// RunAll calls RunNext until nothing progresses. It fails once the step limit
// is exceeded.
func (w *Workflow) RunAll(ctx context.Context, opts ...RunOption) error {
	started := time.Now()
	defer func() { w.metrics.ObserveRun(ctx, w.def.Name(), time.Since(started)) }()
	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if step >= w.maxSteps {
			return core.NewError(
				fmt.Errorf("workflow %q exceeded %d run steps", w.def.Name(), w.maxSteps),
				core.CodeWorkflowStructure,
				map[string]any{"max_steps": w.maxSteps},
			)
		}
		ran, err := w.RunNext(ctx, opts...)
		if err != nil {
			return err
		}
		if !ran {
			return nil
		}
	}
}

// RunTask runs the READY task id, merging data into it first. Use it to
// complete manual tasks.
func (w *Workflow) RunTask(ctx context.Context, id core.ID, data map[string]any) error {
	t, err := w.Task(id)
	if err != nil {
		return err
	}
	if len(data) > 0 && t.HasState(task.StateReady) {
		if err := t.SetData(data); err != nil {
			return err
		}
	}
	return w.run(ctx, t)
}

// RefreshWaitingTasks updates every WAITING task once.
func (w *Workflow) RefreshWaitingTasks(ctx context.Context) error {
	for _, t := range w.WaitingTasks() {
		if !w.contains(t) || !t.HasState(task.StateWaiting) {
			continue
		}
		if err := t.Update(ctx); err != nil {
			return err
		}
	}
	return nil
}

// CatchEvent delivers ev to every WAITING task whose spec catches it. The
// catching tasks progress on the next refresh.
func (w *Workflow) CatchEvent(ctx context.Context, ev task.Event) (int, error) {
	count := 0
	catchers := w.Tasks(task.WithFilter(task.Filter{State: task.StateWaiting, Catches: &ev}))
	for _, t := range catchers {
		if err := t.Spec().(task.EventCatcher).Catch(ctx, t, ev); err != nil {
			return count, err
		}
		count++
	}
	w.metrics.OnEventCaught(ctx, ev.Name, count)
	w.log(ctx).Debug("event delivered", "event", ev.Name, "catchers", count)
	return count, nil
}

// Cancel cancels every unfinished task and returns them. The workflow is
// complete afterwards.
func (w *Workflow) Cancel(ctx context.Context, success bool) ([]*task.Task, error) {
	pending := w.Tasks(task.WithState(task.MaskNotFinished))
	w.success = success
	w.cancelled = true
	for _, t := range pending {
		if !w.contains(t) || t.IsFinished() {
			continue
		}
		if err := t.Cancel(ctx); err != nil {
			return pending, err
		}
	}
	w.log(ctx).Info("workflow cancelled", "tasks", len(pending), "success", success)
	w.fire(ctx)
	return pending, nil
}

// ResetFromTask rewinds the branch under id, replacing its data when given.
// It returns the removed descendants and reopens the workflow.
func (w *Workflow) ResetFromTask(ctx context.Context, id core.ID, data map[string]any) ([]*task.Task, error) {
	t, err := w.Task(id)
	if err != nil {
		return nil, err
	}
	removed, err := t.ResetBranch(ctx, data)
	if err != nil {
		return removed, err
	}
	t.Tree().SetLastTask(t.Parent())
	w.last = t.Parent()
	w.completed = false
	w.cancelled = false
	w.fired = false
	w.success = true
	return removed, nil
}

// -----------------------------------------------------------------------------
// task.Driver
// -----------------------------------------------------------------------------

// TaskCompleted merges End data into its tree and refreshes waiting tasks.
// Completing the End node finishes the workflow, or the outer task of a
// sub-workflow, even when predicted branches are left over.
func (w *Workflow) TaskCompleted(ctx context.Context, t *task.Task) error {
	w.last = t
	tr := t.Tree()
	atEnd := t.Spec() == tr.Definition().End()
	if atEnd {
		if err := tr.SetData(t.Data()); err != nil {
			return err
		}
	} else if err := w.RefreshWaitingTasks(ctx); err != nil {
		return err
	}
	if outer := tr.Outer(); outer != nil {
		if !(atEnd || tr.IsCompleted()) || !outer.HasState(task.StateStarted) {
			return nil
		}
		if err := outer.SetData(tr.Data()); err != nil {
			return err
		}
		w.log(ctx).Debug("sub-workflow completed", "task_id", outer.ID(), "spec", outer.Spec().Name())
		return outer.Complete(ctx)
	}
	if atEnd {
		w.completed = true
	}
	if w.IsCompleted() {
		w.fire(ctx)
	}
	return nil
}

// StartSubTree creates and attaches the sub-workflow of outer.
func (w *Workflow) StartSubTree(ctx context.Context, outer *task.Task, def task.Definition) (*task.Tree, error) {
	if _, ok := outer.Tree().SubTree(outer.ID()); ok {
		outer.Tree().DetachSubTree(outer.ID())
	}
	sub := task.NewTree(def, append(w.treeOptions(), task.WithData(outer.Data()))...)
	outer.Tree().AttachSubTree(outer, sub)
	if err := sub.Init(ctx); err != nil {
		outer.Tree().DetachSubTree(outer.ID())
		return nil, fmt.Errorf("failed to start sub-workflow %q: %w", def.Name(), err)
	}
	w.log(ctx).Debug("sub-workflow started", "task_id", outer.ID(), "definition", def.Name())
	return sub, nil
}

func (w *Workflow) ThrowEvent(ctx context.Context, _ *task.Task, ev task.Event) error {
	_, err := w.CatchEvent(ctx, ev)
	return err
}

func (w *Workflow) CancelWorkflow(ctx context.Context, success bool) error {
	_, err := w.Cancel(ctx, success)
	return err
}
