package workflow

import (
	"context"
	"fmt"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/engine/task"
)

// Snapshot is the serializable state of a workflow.
type Snapshot struct {
	Tree      *task.Snapshot `json:"tree"      yaml:"tree"`
	Completed bool           `json:"completed" yaml:"completed"`
	Cancelled bool           `json:"cancelled" yaml:"cancelled"`
	Success   bool           `json:"success"   yaml:"success"`
}

func (w *Workflow) Snapshot() *Snapshot {
	return &Snapshot{
		Tree:      w.tree.Snapshot(),
		Completed: w.IsCompleted(),
		Cancelled: w.cancelled,
		Success:   w.success,
	}
}

// Restore rebuilds a workflow from snap. Listeners are not part of a snapshot
// and a restored completed workflow does not fire again.
func Restore(ctx context.Context, def task.Definition, snap *Snapshot, opts ...Option) (*Workflow, error) {
	if snap == nil || snap.Tree == nil {
		return nil, core.NewError(fmt.Errorf("empty workflow snapshot"), core.CodeData, nil)
	}
	w := newWorkflow(def, opts)
	tree, err := task.RestoreTree(ctx, def, snap.Tree, w.treeOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to restore workflow %q: %w", def.Name(), err)
	}
	w.tree = tree
	w.cancelled = snap.Cancelled
	w.success = snap.Success
	w.completed = snap.Completed || tree.IsCompleted()
	w.fired = w.completed
	w.log(ctx).Info("workflow restored", "tasks", tree.Len(), "completed", w.completed)
	return w, nil
}
