package spec

import (
	"context"

	"github.com/compozy/tasktree/engine/task"
)

// Simple completes as soon as it runs.
type Simple struct {
	task.BaseSpec
}

func NewSimple(name string) *Simple {
	return &Simple{BaseSpec: task.NewBaseSpec(name)}
}

// NewManual returns a Simple that the driver does not run on its own when
// halting on manual tasks.
func NewManual(name string) *Simple {
	s := NewSimple(name)
	s.SetManual(true)
	return s
}

// Start is the root spec of every process.
type Start struct {
	task.BaseSpec
}

func NewStart(name string) *Start {
	return &Start{BaseSpec: task.NewBaseSpec(name)}
}

// End is the designated end node. Completing it completes the workflow data.
type End struct {
	task.BaseSpec
}

func NewEnd(name string) *End {
	return &End{BaseSpec: task.NewBaseSpec(name)}
}

// Cancel cancels the whole workflow when it completes.
type Cancel struct {
	task.BaseSpec
	Success bool
}

func NewCancel(name string, success bool) *Cancel {
	return &Cancel{BaseSpec: task.NewBaseSpec(name), Success: success}
}

func (c *Cancel) OnComplete(ctx context.Context, t *task.Task) error {
	d := t.Tree().Driver()
	if d == nil {
		return errNoDriver(t)
	}
	return d.CancelWorkflow(ctx, c.Success)
}
