package spec

import (
	"context"

	"github.com/compozy/tasktree/engine/task"
)

// AcquireMutex waits until it can take the named workflow mutex.
type AcquireMutex struct {
	task.BaseSpec
	Mutex string
}

func NewAcquireMutex(name, mutex string) *AcquireMutex {
	return &AcquireMutex{BaseSpec: task.NewBaseSpec(name), Mutex: mutex}
}

func (a *AcquireMutex) Update(_ context.Context, t *task.Task) (bool, error) {
	parent := t.Parent()
	if parent != nil && !parent.HasState(task.StateCompleted) {
		return false, nil
	}
	if t.Tree().Top().Mutex(a.Mutex).TestAndSet(t.ID()) {
		return true, nil
	}
	return false, t.SetState(task.StateWaiting)
}

// OnCancel frees the mutex if this task took it.
func (a *AcquireMutex) OnCancel(_ context.Context, t *task.Task) error {
	m := t.Tree().Top().Mutex(a.Mutex)
	if m.Holder() == t.ID() {
		m.Release()
	}
	return nil
}

// ReleaseMutex frees the named workflow mutex.
type ReleaseMutex struct {
	task.BaseSpec
	Mutex string
}

func NewReleaseMutex(name, mutex string) *ReleaseMutex {
	return &ReleaseMutex{BaseSpec: task.NewBaseSpec(name), Mutex: mutex}
}

func (r *ReleaseMutex) Run(_ context.Context, t *task.Task) (task.RunResult, error) {
	t.Tree().Top().Mutex(r.Mutex).Release()
	return task.RunCompleted, nil
}
