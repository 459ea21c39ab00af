package tplengine

import "maps"

// Scope is the template context of a task.
type Scope struct {
	Data     map[string]any
	Workflow map[string]any
	Task     map[string]any
}

// Normalize flattens the task data at the top level and exposes the workflow
// data and task metadata under ".workflow" and ".task".
func (s Scope) Normalize() map[string]any {
	out := make(map[string]any, len(s.Data)+2)
	maps.Copy(out, s.Data)
	out["workflow"] = nonNil(s.Workflow)
	out["task"] = nonNil(s.Task)
	return out
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
