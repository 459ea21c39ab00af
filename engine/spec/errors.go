package spec

import (
	"fmt"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/engine/task"
)

func errNoDriver(t *task.Task) error {
	return core.NewError(
		fmt.Errorf("task %s needs a workflow driver", t.Spec().Name()),
		core.CodeWorkflowStructure,
		map[string]any{"task_id": t.ID().String(), "spec": t.Spec().Name()},
	)
}

func structureError(t *task.Task, format string, args ...any) error {
	return core.NewError(
		fmt.Errorf(format, args...),
		core.CodeWorkflowStructure,
		map[string]any{"task_id": t.ID().String(), "spec": t.Spec().Name()},
	)
}

func dataError(t *task.Task, keys []string, format string, args ...any) error {
	return core.NewError(
		fmt.Errorf(format, args...),
		core.CodeData,
		map[string]any{"task_id": t.ID().String(), "spec": t.Spec().Name(), "keys": keys},
	)
}
