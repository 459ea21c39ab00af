package task

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/pkg/logger"
)

// Clock supplies timestamps for state changes.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Driver is notified by the tree and serves specs that reach outside their own task.
type Driver interface {
	TaskCompleted(ctx context.Context, t *Task) error
	StartSubTree(ctx context.Context, outer *Task, def Definition) (*Tree, error)
	ThrowEvent(ctx context.Context, from *Task, ev Event) error
	CancelWorkflow(ctx context.Context, success bool) error
}

// Tree owns every task of one workflow instance, indexed by id.
// A Tree is not safe for concurrent use.
type Tree struct {
	id       core.ID
	def      Definition
	tasks    map[core.ID]*Task
	rootID   core.ID
	data     map[string]any
	lastTask core.ID
	threads  int
	mutexes  map[string]*Mutex
	subtrees map[core.ID]*Tree
	outer    *Task
	driver   Driver
	clock    Clock
	stamp    time.Time
	maxDepth int
}

type TreeOption func(*Tree)

func WithClock(c Clock) TreeOption {
	return func(tr *Tree) {
		if c != nil {
			tr.clock = c
		}
	}
}

func WithDriver(d Driver) TreeOption {
	return func(tr *Tree) { tr.driver = d }
}

func WithData(data map[string]any) TreeOption {
	return func(tr *Tree) { tr.data = core.CloneMap(data) }
}

// WithOuterTask marks the tree as the sub-workflow of outer.
func WithOuterTask(outer *Task) TreeOption {
	return func(tr *Tree) { tr.outer = outer }
}

// WithTreeMaxDepth bounds the default iterator depth for this tree.
func WithTreeMaxDepth(n int) TreeOption {
	return func(tr *Tree) {
		if n > 0 {
			tr.maxDepth = n
		}
	}
}

// NewTree returns an empty tree for def. Call Init to create the root.
func NewTree(def Definition, opts ...TreeOption) *Tree {
	tr := &Tree{
		id:       core.MustNewID(),
		def:      def,
		tasks:    make(map[core.ID]*Task),
		data:     map[string]any{},
		mutexes:  make(map[string]*Mutex),
		subtrees: make(map[core.ID]*Tree),
		clock:    systemClock{},
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(tr)
	}
	return tr
}

// Init creates the root FUTURE, predicts the tree and readies the root.
func (tr *Tree) Init(ctx context.Context) error {
	if !tr.rootID.IsZero() {
		return core.NewError(fmt.Errorf("tree %s already initialized", tr.id), core.CodeWorkflowStructure, nil)
	}
	start := tr.def.Start()
	if start == nil {
		return core.NewError(fmt.Errorf("definition %q has no start", tr.def.Name()), core.CodeDefinition, nil)
	}
	root := tr.newTask(start, nil, StateFuture)
	root.data = core.CloneMap(tr.data)
	tr.rootID = root.id
	if err := root.Predict(ctx); err != nil {
		return fmt.Errorf("failed to predict root: %w", err)
	}
	if err := root.Ready(ctx); err != nil {
		return fmt.Errorf("failed to ready root: %w", err)
	}
	return nil
}

func (tr *Tree) ID() core.ID            { return tr.id }
func (tr *Tree) Definition() Definition { return tr.def }
func (tr *Tree) Driver() Driver         { return tr.driver }
func (tr *Tree) Outer() *Task           { return tr.outer }
func (tr *Tree) SetDriver(d Driver)     { tr.driver = d }

func (tr *Tree) Root() *Task {
	return tr.lookup(tr.rootID)
}

// Task returns the task with id or a not-found error.
func (tr *Tree) Task(id core.ID) (*Task, error) {
	if t := tr.lookup(id); t != nil {
		return t, nil
	}
	return nil, core.NewError(
		fmt.Errorf("task %s not found", id),
		core.CodeTaskNotFound,
		map[string]any{"task_id": id.String()},
	)
}

func (tr *Tree) Len() int {
	return len(tr.tasks)
}

// Data is the workflow-level data map.
func (tr *Tree) Data() map[string]any { return tr.data }

func (tr *Tree) SetData(data map[string]any) error {
	return core.MergeData(tr.data, data)
}

// LastTask is the most recently completed task, or nil.
func (tr *Tree) LastTask() *Task {
	return tr.lookup(tr.lastTask)
}

func (tr *Tree) SetLastTask(t *Task) {
	if t == nil {
		tr.lastTask = ""
		return
	}
	tr.lastTask = t.id
}

// Mutex returns the named mutex, creating it on first use.
func (tr *Tree) Mutex(name string) *Mutex {
	m, ok := tr.mutexes[name]
	if !ok {
		m = &Mutex{name: name}
		tr.mutexes[name] = m
	}
	return m
}

// SubTree returns the sub-workflow tree attached to the task with id.
func (tr *Tree) SubTree(id core.ID) (*Tree, bool) {
	sub, ok := tr.subtrees[id]
	return sub, ok
}

// AttachSubTree binds sub to the task outer of this tree.
func (tr *Tree) AttachSubTree(outer *Task, sub *Tree) {
	sub.outer = outer
	tr.subtrees[outer.id] = sub
}

func (tr *Tree) DetachSubTree(id core.ID) {
	delete(tr.subtrees, id)
}

// SubTrees lists the directly attached sub-workflow trees ordered by owner id.
func (tr *Tree) SubTrees() []*Tree {
	ids := slices.Sorted(maps.Keys(tr.subtrees))
	out := make([]*Tree, 0, len(ids))
	for _, id := range ids {
		out = append(out, tr.subtrees[id])
	}
	return out
}

// FindTask looks id up in this tree and then in every nested sub-workflow.
func (tr *Tree) FindTask(id core.ID) (*Task, bool) {
	if t := tr.lookup(id); t != nil {
		return t, true
	}
	for _, sub := range tr.SubTrees() {
		if t, ok := sub.FindTask(id); ok {
			return t, true
		}
	}
	return nil, false
}

// Top returns the outermost tree of a sub-workflow chain.
func (tr *Tree) Top() *Tree {
	cur := tr
	for cur.outer != nil && cur.outer.tree != nil {
		cur = cur.outer.tree
	}
	return cur
}

// IsCompleted reports whether no task of the tree is unfinished.
func (tr *Tree) IsCompleted() bool {
	if tr.rootID.IsZero() {
		return false
	}
	for _, t := range tr.tasks {
		if t.state.Has(MaskNotFinished) {
			return false
		}
	}
	return true
}

// NextThreadID allocates a fresh branch identifier.
func (tr *Tree) NextThreadID() int {
	tr.threads++
	return tr.threads
}

func (tr *Tree) lookup(id core.ID) *Task {
	if id.IsZero() {
		return nil
	}
	return tr.tasks[id]
}

// now returns a timestamp strictly after every one handed out before.
func (tr *Tree) now() time.Time {
	ts := tr.clock.Now()
	if !ts.After(tr.stamp) {
		ts = tr.stamp.Add(time.Nanosecond)
	}
	tr.stamp = ts
	return ts
}

func (tr *Tree) newTask(spec Spec, parent *Task, state State) *Task {
	t := &Task{
		id:       core.MustNewID(),
		tree:     tr,
		spec:     spec,
		state:    state,
		data:     map[string]any{},
		internal: map[string]any{},
	}
	t.lastStateChange = tr.now()
	tr.tasks[t.id] = t
	if parent != nil {
		t.parentID = parent.id
		t.threadID = parent.threadID
		parent.childIDs = append(parent.childIDs, t.id)
	}
	return t
}

// excise removes t and its subtree from the index and from its parent.
func (tr *Tree) excise(t *Task) {
	if parent, ok := tr.tasks[t.parentID]; ok {
		for i, id := range parent.childIDs {
			if id == t.id {
				parent.childIDs = append(parent.childIDs[:i:i], parent.childIDs[i+1:]...)
				break
			}
		}
	}
	stack := []core.ID{t.id}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cur, ok := tr.tasks[id]
		if !ok {
			continue
		}
		stack = append(stack, cur.childIDs...)
		delete(tr.tasks, id)
		delete(tr.subtrees, id)
		if tr.lastTask == id {
			tr.lastTask = ""
		}
	}
}

func (tr *Tree) taskCompleted(ctx context.Context, t *Task) error {
	if tr.driver == nil {
		return nil
	}
	if err := tr.driver.TaskCompleted(ctx, t); err != nil {
		logger.FromContext(ctx).Error("completion notification failed", "task_id", t.id, "spec", t.spec.Name(), "err", err)
		return err
	}
	return nil
}
