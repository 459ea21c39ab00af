package spec

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/engine/expr"
	"github.com/compozy/tasktree/engine/task"
	"github.com/compozy/tasktree/pkg/logger"
)

const (
	miTotal = "mi_total"
	miNext  = "mi_next"
	miDone  = "mi_done"
	miIndex = "mi_index"
)

// MultiInstance runs Body once per item of an input collection, in parallel
// or one after another, and gathers each OutputItem into OutputCollection.
type MultiInstance struct {
	task.BaseSpec
	Body task.Spec
	// InputCollection names a list, a map or an integer cardinality in the data.
	InputCollection string
	// Cardinality is used when InputCollection is empty.
	Cardinality      int
	InputItem        string
	OutputItem       string
	OutputCollection string
	Sequential       bool
	// Completion is an optional condition that ends the loop early.
	Completion string
	evaluator  expr.Evaluator
}

func NewMultiInstance(name string, body task.Spec, evaluator expr.Evaluator) *MultiInstance {
	return &MultiInstance{BaseSpec: task.NewBaseSpec(name), Body: body, evaluator: evaluator}
}

func (m *MultiInstance) Bodies() []task.Spec { return []task.Spec{m.Body} }

type collection struct {
	keys   []string
	values []any
	isMap  bool
}

func (m *MultiInstance) items(t *task.Task) (*collection, error) {
	if m.InputCollection == "" {
		return cardinality(m.Cardinality), nil
	}
	raw, ok := t.Get(m.InputCollection)
	if !ok {
		return nil, dataError(t, []string{m.InputCollection}, "missing input collection %q", m.InputCollection)
	}
	switch v := raw.(type) {
	case []any:
		return &collection{values: v}, nil
	case map[string]any:
		c := &collection{isMap: true, keys: slices.Sorted(maps.Keys(v))}
		for _, k := range c.keys {
			c.values = append(c.values, v[k])
		}
		return c, nil
	}
	if n, ok := toInt(raw); ok && n >= 0 {
		return cardinality(n), nil
	}
	return nil, dataError(t, []string{m.InputCollection},
		"input collection %q must be a list, a map or a non-negative integer, got %T", m.InputCollection, raw)
}

func cardinality(n int) *collection {
	c := &collection{values: make([]any, n)}
	for i := range n {
		c.values[i] = i
	}
	return c
}

// prepareOutput makes sure the output collection exists with the shape of the input.
func (m *MultiInstance) prepareOutput(t *task.Task, in *collection) error {
	if m.OutputCollection == "" {
		return nil
	}
	existing, ok := t.Get(m.OutputCollection)
	if !ok || existing == nil {
		if in.isMap {
			t.Set(m.OutputCollection, map[string]any{})
		} else {
			t.Set(m.OutputCollection, make([]any, len(in.values)))
		}
		return nil
	}
	switch v := existing.(type) {
	case map[string]any:
		if in.isMap {
			return nil
		}
	case []any:
		if !in.isMap {
			if len(v) < len(in.values) {
				grown := make([]any, len(in.values))
				copy(grown, v)
				t.Set(m.OutputCollection, grown)
			}
			return nil
		}
	}
	return dataError(t, []string{m.InputCollection, m.OutputCollection},
		"output collection %q of type %T does not match input collection %q", m.OutputCollection, existing, m.InputCollection)
}

func (m *MultiInstance) Run(ctx context.Context, t *task.Task) (task.RunResult, error) {
	in, err := m.items(t)
	if err != nil {
		return task.RunPending, err
	}
	if err := m.prepareOutput(t, in); err != nil {
		return task.RunPending, err
	}
	total := len(in.values)
	t.SetInternal(miTotal, total)
	t.SetInternal(miDone, 0)
	if total == 0 {
		return task.RunCompleted, nil
	}
	if m.Sequential {
		t.SetInternal(miNext, 1)
		return task.RunPending, m.spawn(ctx, t, in, 0)
	}
	t.SetInternal(miNext, total)
	for i := range total {
		if err := m.spawn(ctx, t, in, i); err != nil {
			return task.RunPending, err
		}
	}
	return task.RunPending, nil
}

func (m *MultiInstance) spawn(ctx context.Context, t *task.Task, in *collection, i int) error {
	child, err := t.AddTriggeredChild(ctx, m.Body, task.StateFuture)
	if err != nil {
		return err
	}
	child.ReplaceData(t.Data())
	if m.InputItem != "" {
		value, err := core.DeepCopy(in.values[i])
		if err != nil {
			return err
		}
		child.Set(m.InputItem, value)
	}
	child.SetInternal(miIndex, i)
	if !m.Sequential {
		child.AssignNewThreadID(false)
	}
	return child.Ready(ctx)
}

// ChildCompleted stores the result of one instance and either starts the next,
// waits for the others or completes the loop.
func (m *MultiInstance) ChildCompleted(ctx context.Context, parent, child *task.Task) error {
	if child.Spec() != m.Body || !parent.HasState(task.StateStarted|task.StateReady) {
		return nil
	}
	in, err := m.items(parent)
	if err != nil {
		return err
	}
	idx, _ := internalInt(child, miIndex)
	if err := m.collect(parent, child, in, idx); err != nil {
		return err
	}
	done, _ := internalInt(parent, miDone)
	done++
	parent.SetInternal(miDone, done)
	total, _ := internalInt(parent, miTotal)
	finished := done >= total
	if !finished && m.Completion != "" {
		ok, err := m.completionReached(ctx, parent, done, total)
		if err != nil {
			return err
		}
		if ok {
			logger.FromContext(ctx).Debug("multi-instance completion condition met",
				"task_id", parent.ID(), "spec", m.Name(), "done", done, "total", total)
			if err := m.cancelRemaining(ctx, parent); err != nil {
				return err
			}
			finished = true
		}
	}
	if !finished {
		if m.Sequential {
			next, _ := internalInt(parent, miNext)
			if next < total {
				parent.SetInternal(miNext, next+1)
				return m.spawn(ctx, parent, in, next)
			}
		}
		return nil
	}
	return parent.Complete(ctx)
}

func (m *MultiInstance) collect(parent, child *task.Task, in *collection, idx int) error {
	if m.OutputCollection == "" || m.OutputItem == "" {
		return nil
	}
	value, ok := child.Get(m.OutputItem)
	if !ok {
		return dataError(child, []string{m.OutputItem}, "instance did not produce output item %q", m.OutputItem)
	}
	raw, _ := parent.Get(m.OutputCollection)
	switch coll := raw.(type) {
	case map[string]any:
		if idx < len(in.keys) {
			coll[in.keys[idx]] = value
			return nil
		}
	case []any:
		if idx < len(coll) {
			coll[idx] = value
			return nil
		}
	}
	return dataError(parent, []string{m.OutputCollection},
		"cannot store instance %d in output collection %q of type %T", idx, m.OutputCollection, raw)
}

func (m *MultiInstance) completionReached(ctx context.Context, parent *task.Task, done, total int) (bool, error) {
	if m.evaluator == nil {
		return false, fmt.Errorf("multi-instance %s has a completion condition but no evaluator", m.Name())
	}
	data := core.CloneMap(parent.Data())
	data["instances"] = map[string]any{"completed": done, "total": total}
	return m.evaluator.Evaluate(ctx, m.Completion, data)
}

func (m *MultiInstance) cancelRemaining(ctx context.Context, parent *task.Task) error {
	for _, c := range parent.Children() {
		if !c.Triggered() || c.IsFinished() {
			continue
		}
		if err := c.Cancel(ctx); err != nil {
			return err
		}
	}
	return nil
}

func internalInt(t *task.Task, key string) (int, bool) {
	raw, ok := t.GetInternal(key)
	if !ok {
		return 0, false
	}
	return toInt(raw)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	}
	return 0, false
}
