package task

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/pkg/logger"
)

// Task is one instance of a Spec in the tree. Parent and children are ids
// resolved through the owning Tree.
type Task struct {
	id              core.ID
	tree            *Tree
	parentID        core.ID
	childIDs        []core.ID
	spec            Spec
	state           State
	triggered       bool
	data            map[string]any
	internal        map[string]any
	threadID        int
	lastStateChange time.Time
}

func (t *Task) ID() core.ID                { return t.id }
func (t *Task) Tree() *Tree                { return t.tree }
func (t *Task) Spec() Spec                 { return t.spec }
func (t *Task) State() State               { return t.state }
func (t *Task) Triggered() bool            { return t.triggered }
func (t *Task) ThreadID() int              { return t.threadID }
func (t *Task) LastStateChange() time.Time { return t.lastStateChange }

func (t *Task) HasState(mask State) bool { return t.state.Has(mask) }
func (t *Task) IsFinished() bool         { return t.state.Has(MaskFinished) }
func (t *Task) IsDefinite() bool         { return t.state.Has(MaskDefinite) }
func (t *Task) IsPredicted() bool        { return t.state.Has(MaskPredicted) }

func (t *Task) String() string {
	return fmt.Sprintf("Task(%s, %s, %s)", t.spec.Name(), t.state, t.id)
}

func (t *Task) Parent() *Task {
	return t.tree.lookup(t.parentID)
}

func (t *Task) ParentID() core.ID { return t.parentID }

func (t *Task) ChildIDs() []core.ID { return slices.Clone(t.childIDs) }

func (t *Task) Children() []*Task {
	out := make([]*Task, 0, len(t.childIDs))
	for _, id := range t.childIDs {
		if c := t.tree.lookup(id); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Ancestors returns the chain from the parent up to the root.
func (t *Task) Ancestors() []*Task {
	var out []*Task
	for p := t.Parent(); p != nil; p = p.Parent() {
		out = append(out, p)
	}
	return out
}

func (t *Task) Depth() int {
	return len(t.Ancestors())
}

// IsDescendantOf reports whether other is a strict ancestor of t.
func (t *Task) IsDescendantOf(other *Task) bool {
	for p := t.Parent(); p != nil; p = p.Parent() {
		if p == other {
			return true
		}
	}
	return false
}

// Descendants returns every strict descendant in depth-first order.
func (t *Task) Descendants() []*Task {
	var out []*Task
	stack := slices.Clone(t.Children())
	slices.Reverse(stack)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, cur)
		children := cur.Children()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Data
// -----------------------------------------------------------------------------

// Data returns the live business data map.
func (t *Task) Data() map[string]any { return t.data }

func (t *Task) Get(key string) (any, bool) {
	v, ok := t.data[key]
	return v, ok
}

func (t *Task) Set(key string, value any) {
	t.data[key] = value
}

// SetData merges data into the task data, overriding existing keys.
func (t *Task) SetData(data map[string]any) error {
	return core.MergeData(t.data, data)
}

// ReplaceData swaps the data map for a deep copy of data.
func (t *Task) ReplaceData(data map[string]any) {
	t.data = core.CloneMap(data)
}

func (t *Task) InternalData() map[string]any { return t.internal }

func (t *Task) GetInternal(key string) (any, bool) {
	v, ok := t.internal[key]
	return v, ok
}

func (t *Task) SetInternal(key string, value any) {
	t.internal[key] = value
}

func (t *Task) DeleteInternal(key string) {
	delete(t.internal, key)
}

// InheritData overlays the parent's data onto this task.
func (t *Task) InheritData() error {
	parent := t.Parent()
	if parent == nil {
		return nil
	}
	return core.MergeData(t.data, parent.data)
}

// AssignNewThreadID gives t, and optionally its subtree, a fresh thread id.
func (t *Task) AssignNewThreadID(recursive bool) int {
	id := t.tree.NextThreadID()
	t.threadID = id
	if recursive {
		for _, d := range t.Descendants() {
			d.threadID = id
		}
	}
	return id
}

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

// SetState moves t to state. Moving to a lower state is an error.
func (t *Task) SetState(state State) error {
	if !state.IsSingle() {
		return core.NewError(
			fmt.Errorf("%s is not a single state", state),
			core.CodeIllegalState,
			map[string]any{"task_id": t.id.String(), "spec": t.spec.Name()},
		)
	}
	if state < t.state {
		return core.NewError(
			fmt.Errorf("state of %s cannot move from %s to %s", t.spec.Name(), t.state, state),
			core.CodeIllegalState,
			map[string]any{"task_id": t.id.String(), "spec": t.spec.Name(), "from": t.state.String(), "to": state.String()},
		)
	}
	t.forceState(state)
	return nil
}

// forceState bypasses the ordering check. Only tree surgery uses it.
func (t *Task) forceState(state State) {
	if t.state == state {
		return
	}
	t.state = state
	t.lastStateChange = t.tree.now()
}

// -----------------------------------------------------------------------------
// Tree surgery
// -----------------------------------------------------------------------------

// AddChild creates a child of spec in state. A predicted task only takes
// predicted children. A READY child is readied immediately.
func (t *Task) AddChild(ctx context.Context, spec Spec, state State) (*Task, error) {
	return t.addChild(ctx, spec, state, false)
}

// AddTriggeredChild creates a child that is not part of the spec outputs and is
// never pruned by SyncChildren.
func (t *Task) AddTriggeredChild(ctx context.Context, spec Spec, state State) (*Task, error) {
	return t.addChild(ctx, spec, state, true)
}

func (t *Task) addChild(ctx context.Context, spec Spec, state State, triggered bool) (*Task, error) {
	if !state.IsSingle() {
		return nil, core.NewError(fmt.Errorf("%s is not a single state", state), core.CodeIllegalState, nil)
	}
	if t.IsPredicted() && !state.Has(MaskPredicted) {
		return nil, core.NewError(
			fmt.Errorf("predicted task %s cannot have a %s child", t.spec.Name(), state),
			core.CodeWorkflowStructure,
			map[string]any{"task_id": t.id.String(), "spec": t.spec.Name(), "child": spec.Name()},
		)
	}
	child := t.tree.newTask(spec, t, state)
	child.triggered = triggered
	if state == StateReady {
		if err := child.Ready(ctx); err != nil {
			return child, err
		}
	}
	return child, nil
}

// SyncChildren reconciles the untriggered children with specs. Matching children
// take state unless finished, missing ones are added and surplus predicted ones
// are removed. Removing a definite child fails.
func (t *Task) SyncChildren(ctx context.Context, specs []Spec, state State) error {
	add := slices.Clone(specs)
	var remove []*Task
	for _, child := range t.Children() {
		if child.triggered {
			continue
		}
		if i := slices.Index(add, child.spec); i >= 0 {
			add = slices.Delete(add, i, i+1)
			if !child.IsFinished() && !(state.Has(MaskPredicted) && child.IsDefinite()) {
				child.forceState(state)
			}
			continue
		}
		if child.state.Has(MaskDefinite | MaskFinished) {
			return core.NewError(
				fmt.Errorf("cannot remove %s child %s of %s", child.state, child.spec.Name(), t.spec.Name()),
				core.CodeWorkflowStructure,
				map[string]any{"task_id": t.id.String(), "child_id": child.id.String(), "spec": t.spec.Name()},
			)
		}
		remove = append(remove, child)
	}
	for _, child := range remove {
		t.tree.excise(child)
	}
	for _, s := range add {
		if _, err := t.AddChild(ctx, s, state); err != nil {
			return err
		}
	}
	return nil
}

// DropChildren removes unfinished children. With force every child goes,
// otherwise finished children stay and are pruned recursively.
func (t *Task) DropChildren(force bool) {
	var drop []*Task
	for _, child := range t.Children() {
		if force || child.HasState(MaskNotFinished) {
			drop = append(drop, child)
			continue
		}
		child.DropChildren(false)
	}
	for _, child := range drop {
		t.tree.excise(child)
	}
}

// ResetBranch rewinds t to FUTURE with fresh data and no children, then
// predicts and updates it again. It returns the removed descendants.
func (t *Task) ResetBranch(ctx context.Context, data map[string]any) ([]*Task, error) {
	log := logger.FromContext(ctx)
	t.internal = map[string]any{}
	switch parent := t.Parent(); {
	case data != nil:
		t.data = core.CloneMap(data)
	case parent != nil:
		t.data = core.CloneMap(parent.data)
	default:
		t.data = map[string]any{}
	}
	removed := t.Descendants()
	t.DropChildren(true)
	t.forceState(StateFuture)
	log.Info("task branch reset", "task_id", t.id, "spec", t.spec.Name(), "removed", len(removed))
	if err := t.Predict(ctx); err != nil {
		return removed, err
	}
	if err := t.Update(ctx); err != nil {
		return removed, err
	}
	if data != nil {
		if err := t.SetData(data); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Predict runs the predict hook and recurses into the unfinished children
// while the lookahead allows it.
func (t *Task) Predict(ctx context.Context) error {
	return t.predict(ctx, nil, 0)
}

func (t *Task) predict(ctx context.Context, seen []Spec, lookedAhead int) error {
	if t.IsFinished() {
		return nil
	}
	if err := t.spec.Predict(ctx, t); err != nil {
		return err
	}
	seen = append(seen, t.spec)
	if !t.IsDefinite() && lookedAhead+1 >= t.spec.Lookahead() {
		return nil
	}
	for _, child := range t.Children() {
		if child.IsFinished() || slices.Contains(seen, child.spec) {
			continue
		}
		if err := child.predict(ctx, slices.Clone(seen), lookedAhead+1); err != nil {
			return err
		}
	}
	return nil
}

// Update re-evaluates a FUTURE or WAITING task and readies it when its spec agrees.
func (t *Task) Update(ctx context.Context) error {
	if !t.HasState(StateFuture | StateWaiting) {
		return nil
	}
	if err := t.InheritData(); err != nil {
		return err
	}
	ok, err := t.spec.Update(ctx, t)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return t.Ready(ctx)
}

// Ready moves t to READY and runs the ready hook.
func (t *Task) Ready(ctx context.Context) error {
	if t.HasState(StateCompleted | StateCancelled) {
		return nil
	}
	if err := t.SetState(StateReady); err != nil {
		return err
	}
	logger.FromContext(ctx).Debug("task ready", "task_id", t.id, "spec", t.spec.Name())
	return t.spec.OnReady(ctx, t)
}

// Run executes a READY task. A hook error leaves the task WAITING.
func (t *Task) Run(ctx context.Context) error {
	if !t.HasState(StateReady) {
		return core.NewError(
			fmt.Errorf("task %s is %s, not READY", t.spec.Name(), t.state),
			core.CodeIllegalState,
			map[string]any{"task_id": t.id.String(), "spec": t.spec.Name()},
		)
	}
	log := logger.FromContext(ctx)
	res, err := t.spec.Run(ctx, t)
	if err != nil {
		t.forceState(StateWaiting)
		log.Warn("task run failed", "task_id", t.id, "spec", t.spec.Name(), "err", err)
		var ce *core.Error
		if errors.As(err, &ce) {
			return err
		}
		return core.NewError(
			fmt.Errorf("run %s: %w", t.spec.Name(), err),
			core.CodeHook,
			map[string]any{"task_id": t.id.String(), "spec": t.spec.Name()},
		)
	}
	log.Debug("task ran", "task_id", t.id, "spec", t.spec.Name(), "result", res)
	switch res {
	case RunCompleted:
		return t.Complete(ctx)
	case RunFailed:
		return t.Fail(ctx)
	default:
		return t.SetState(StateStarted)
	}
}

// Complete finishes t, predicts and updates its children and notifies the driver.
func (t *Task) Complete(ctx context.Context) error {
	if t.IsFinished() {
		return core.NewError(
			fmt.Errorf("task %s is already %s", t.spec.Name(), t.state),
			core.CodeIllegalState,
			map[string]any{"task_id": t.id.String(), "spec": t.spec.Name()},
		)
	}
	if err := t.SetState(StateCompleted); err != nil {
		return err
	}
	if err := t.spec.OnComplete(ctx, t); err != nil {
		return err
	}
	for _, child := range t.Children() {
		if err := child.Predict(ctx); err != nil {
			return err
		}
	}
	for _, child := range t.Children() {
		if !child.IsDefinite() {
			continue
		}
		if err := child.Update(ctx); err != nil {
			return err
		}
	}
	t.tree.lastTask = t.id
	if parent := t.Parent(); parent != nil && t.triggered {
		if cc, ok := parent.spec.(ChildCompleter); ok {
			if err := cc.ChildCompleted(ctx, parent, t); err != nil {
				return err
			}
		}
	}
	return t.tree.taskCompleted(ctx, t)
}

// Fail moves t to ERROR and runs the error hook.
func (t *Task) Fail(ctx context.Context) error {
	if t.IsFinished() {
		return core.NewError(
			fmt.Errorf("task %s is already %s", t.spec.Name(), t.state),
			core.CodeIllegalState,
			map[string]any{"task_id": t.id.String(), "spec": t.spec.Name()},
		)
	}
	if err := t.SetState(StateError); err != nil {
		return err
	}
	logger.FromContext(ctx).Warn("task failed", "task_id", t.id, "spec", t.spec.Name())
	return t.spec.OnError(ctx, t)
}

// Cancel marks t CANCELLED and drops its children. A finished task only
// cancels its children.
func (t *Task) Cancel(ctx context.Context) error {
	if t.IsFinished() {
		for _, child := range t.Children() {
			if err := child.Cancel(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	t.forceState(StateCancelled)
	t.DropChildren(true)
	return t.spec.OnCancel(ctx, t)
}

// Trigger forwards an out-of-band signal to the spec.
func (t *Task) Trigger(ctx context.Context, args ...any) error {
	return t.spec.OnTrigger(ctx, t, args...)
}
