package spec

import (
	"context"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/engine/task"
)

const caughtKey = "caught_event"

// CatchEvent waits until an event matching its definition is delivered.
type CatchEvent struct {
	task.BaseSpec
	Event task.EventDefinition
	// ResultKey receives the event payload. Empty merges the payload into the data.
	ResultKey string
}

func NewCatchEvent(name string, def task.EventDefinition) *CatchEvent {
	return &CatchEvent{BaseSpec: task.NewBaseSpec(name), Event: def}
}

func (c *CatchEvent) Catches(t *task.Task, ev task.Event) bool {
	return t.HasState(task.StateWaiting) && c.Event.Matches(ev)
}

// Catch records the event. The task becomes ready on its next update.
func (c *CatchEvent) Catch(_ context.Context, t *task.Task, ev task.Event) error {
	t.SetInternal(caughtKey, map[string]any{"name": ev.Name, "payload": core.CloneMap(ev.Payload)})
	return nil
}

func (c *CatchEvent) Update(_ context.Context, t *task.Task) (bool, error) {
	parent := t.Parent()
	if parent != nil && !parent.HasState(task.StateCompleted) {
		return false, nil
	}
	raw, ok := t.GetInternal(caughtKey)
	if !ok {
		return false, t.SetState(task.StateWaiting)
	}
	t.DeleteInternal(caughtKey)
	caught, _ := raw.(map[string]any)
	payload, _ := caught["payload"].(map[string]any)
	if c.ResultKey != "" {
		t.Set(c.ResultKey, core.CloneMap(payload))
		return true, nil
	}
	return true, t.SetData(payload)
}

// ThrowEvent delivers a named event to the outermost workflow.
type ThrowEvent struct {
	task.BaseSpec
	Event string
	// PayloadKeys selects the data keys sent along. Empty sends all data.
	PayloadKeys []string
}

func NewThrowEvent(name, event string) *ThrowEvent {
	return &ThrowEvent{BaseSpec: task.NewBaseSpec(name), Event: event}
}

func (e *ThrowEvent) Run(ctx context.Context, t *task.Task) (task.RunResult, error) {
	d := t.Tree().Driver()
	if d == nil {
		return task.RunPending, errNoDriver(t)
	}
	payload := core.CloneMap(t.Data())
	if len(e.PayloadKeys) > 0 {
		selected := make(map[string]any, len(e.PayloadKeys))
		for _, k := range e.PayloadKeys {
			if v, ok := payload[k]; ok {
				selected[k] = v
			}
		}
		payload = selected
	}
	if err := d.ThrowEvent(ctx, t, task.Event{Name: e.Event, Payload: payload}); err != nil {
		return task.RunPending, err
	}
	return task.RunCompleted, nil
}
