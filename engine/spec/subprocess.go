package spec

import (
	"context"

	"github.com/compozy/tasktree/engine/task"
)

// SubProcess runs a nested process as a sub-workflow. The task stays STARTED
// until the sub-workflow completes and its data flows back.
type SubProcess struct {
	task.BaseSpec
	process task.Definition
}

func NewSubProcess(name string, process task.Definition) *SubProcess {
	return &SubProcess{BaseSpec: task.NewBaseSpec(name), process: process}
}

func (s *SubProcess) Process() task.Definition { return s.process }

func (s *SubProcess) Run(ctx context.Context, t *task.Task) (task.RunResult, error) {
	d := t.Tree().Driver()
	if d == nil {
		return task.RunPending, errNoDriver(t)
	}
	if _, err := d.StartSubTree(ctx, t, s.process); err != nil {
		return task.RunPending, err
	}
	return task.RunPending, nil
}

// OnCancel cancels every unfinished task of the attached sub-workflow.
func (s *SubProcess) OnCancel(ctx context.Context, t *task.Task) error {
	sub, ok := t.Tree().SubTree(t.ID())
	if !ok {
		return nil
	}
	for _, st := range sub.Tasks(task.WithState(task.MaskNotFinished)) {
		if _, err := sub.Task(st.ID()); err != nil || st.IsFinished() {
			continue
		}
		if err := st.Cancel(ctx); err != nil {
			return err
		}
	}
	return nil
}
