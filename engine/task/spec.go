package task

import (
	"context"
	"fmt"
	"slices"

	"github.com/compozy/tasktree/engine/core"
)

// RunResult is the outcome of a Run hook.
type RunResult int

const (
	// RunPending leaves the task STARTED, e.g. while a sub-workflow runs.
	RunPending RunResult = iota
	RunCompleted
	RunFailed
)

func (r RunResult) String() string {
	switch r {
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Spec is the node-type contract. A spec is shared by every task instance created
// from it and is never mutated by the runtime.
type Spec interface {
	Name() string
	Inputs() []Spec
	Outputs() []Spec
	Manual() bool
	// Lookahead is how many levels of predicted children are materialized below
	// a task that has not been reached yet.
	Lookahead() int

	Predict(ctx context.Context, t *Task) error
	Update(ctx context.Context, t *Task) (bool, error)
	Run(ctx context.Context, t *Task) (RunResult, error)
	OnReady(ctx context.Context, t *Task) error
	OnComplete(ctx context.Context, t *Task) error
	OnCancel(ctx context.Context, t *Task) error
	OnError(ctx context.Context, t *Task) error
	OnTrigger(ctx context.Context, t *Task, args ...any) error
}

// Linker is implemented by specs whose adjacency can be built up.
type Linker interface {
	AddInput(s Spec)
	AddOutput(s Spec)
}

// ChildCompleter is implemented by specs that react when a triggered child completes.
type ChildCompleter interface {
	ChildCompleted(ctx context.Context, parent, child *Task) error
}

// EventCatcher is implemented by specs that wait for external events.
type EventCatcher interface {
	Catches(t *Task, ev Event) bool
	Catch(ctx context.Context, t *Task, ev Event) error
}

// Definition is the immutable process a tree is built from.
type Definition interface {
	Name() string
	Start() Spec
	End() Spec
	Spec(name string) (Spec, bool)
}

// Connect links from to to in both directions.
func Connect(from, to Spec) error {
	fl, ok := from.(Linker)
	if !ok {
		return fmt.Errorf("spec %q cannot take outputs", from.Name())
	}
	tl, ok := to.(Linker)
	if !ok {
		return fmt.Errorf("spec %q cannot take inputs", to.Name())
	}
	fl.AddOutput(to)
	tl.AddInput(from)
	return nil
}

// -----------------------------------------------------------------------------
// BaseSpec
// -----------------------------------------------------------------------------

// BaseSpec carries the shared attributes and default hooks. Concrete node types
// embed it and override the hooks they need.
type BaseSpec struct {
	name        string
	inputs      []Spec
	outputs     []Spec
	manual      bool
	lookahead   int
	DataInputs  []string
	DataOutputs []string
}

const DefaultLookahead = 2

func NewBaseSpec(name string) BaseSpec {
	return BaseSpec{name: name, lookahead: DefaultLookahead}
}

func (b *BaseSpec) Name() string    { return b.name }
func (b *BaseSpec) Inputs() []Spec  { return b.inputs }
func (b *BaseSpec) Outputs() []Spec { return b.outputs }
func (b *BaseSpec) Manual() bool    { return b.manual }
func (b *BaseSpec) Lookahead() int  { return b.lookahead }

func (b *BaseSpec) SetManual(manual bool) { b.manual = manual }

// Base exposes the embedded attributes of a concrete spec.
func (b *BaseSpec) Base() *BaseSpec { return b }

func (b *BaseSpec) SetLookahead(n int) {
	if n > 0 {
		b.lookahead = n
	}
}

func (b *BaseSpec) AddInput(s Spec) {
	if !slices.Contains(b.inputs, s) {
		b.inputs = append(b.inputs, s)
	}
}

func (b *BaseSpec) AddOutput(s Spec) {
	if !slices.Contains(b.outputs, s) {
		b.outputs = append(b.outputs, s)
	}
}

// Predict materializes the outputs below t. Children of a definite task become
// FUTURE, children of a predicted task inherit its state.
func (b *BaseSpec) Predict(ctx context.Context, t *Task) error {
	if t.IsFinished() {
		return nil
	}
	state := t.State()
	if t.IsDefinite() {
		state = StateFuture
	}
	return t.SyncChildren(ctx, b.outputs, state)
}

// Update reports the task ready once its parent has completed.
func (b *BaseSpec) Update(_ context.Context, t *Task) (bool, error) {
	parent := t.Parent()
	return parent == nil || parent.HasState(StateCompleted), nil
}

func (b *BaseSpec) Run(_ context.Context, _ *Task) (RunResult, error) {
	return RunCompleted, nil
}

// OnReady checks that the declared data inputs are present.
func (b *BaseSpec) OnReady(_ context.Context, t *Task) error {
	return b.checkData(t, b.DataInputs, "input")
}

// OnComplete checks declared data outputs and syncs the outputs as FUTURE.
func (b *BaseSpec) OnComplete(ctx context.Context, t *Task) error {
	if err := b.checkData(t, b.DataOutputs, "output"); err != nil {
		return err
	}
	return t.SyncChildren(ctx, b.outputs, StateFuture)
}

func (b *BaseSpec) OnCancel(_ context.Context, _ *Task) error { return nil }

func (b *BaseSpec) OnError(_ context.Context, _ *Task) error { return nil }

func (b *BaseSpec) OnTrigger(_ context.Context, _ *Task, _ ...any) error { return nil }

func (b *BaseSpec) checkData(t *Task, keys []string, kind string) error {
	var missing []string
	for _, k := range keys {
		if _, ok := t.Get(k); !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return core.NewError(
		fmt.Errorf("missing data %s %v", kind, missing),
		core.CodeData,
		map[string]any{"task_id": t.ID().String(), "spec": b.name, kind: missing},
	)
}
