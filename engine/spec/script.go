package spec

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/compozy/tasktree/engine/task"
	"github.com/compozy/tasktree/pkg/tplengine"
)

// Script assigns data keys from templates rendered against the task data.
type Script struct {
	task.BaseSpec
	Set    map[string]any
	engine *tplengine.TemplateEngine
}

func NewScript(name string, set map[string]any, engine *tplengine.TemplateEngine) *Script {
	if engine == nil {
		engine = tplengine.NewEngine(tplengine.FormatJSON)
	}
	return &Script{BaseSpec: task.NewBaseSpec(name), Set: set, engine: engine}
}

// Run renders each assignment in key order. Later assignments see earlier ones.
func (s *Script) Run(_ context.Context, t *task.Task) (task.RunResult, error) {
	for _, key := range slices.Sorted(maps.Keys(s.Set)) {
		scope := tplengine.Scope{
			Data:     t.Data(),
			Workflow: t.Tree().Data(),
			Task:     map[string]any{"id": t.ID().String(), "name": t.Spec().Name(), "thread": t.ThreadID()},
		}
		value, err := s.engine.ParseMap(s.Set[key], scope.Normalize())
		if err != nil {
			return task.RunPending, fmt.Errorf("script %s key %q: %w", s.Name(), key, err)
		}
		t.Set(key, value)
	}
	return task.RunCompleted, nil
}
