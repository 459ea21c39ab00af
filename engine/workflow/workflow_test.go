package workflow

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/engine/spec"
	"github.com/compozy/tasktree/engine/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainProcess(t *testing.T, names ...string) *spec.Process {
	t.Helper()
	p := spec.NewProcess("chain")
	prev := spec.StartName
	for _, n := range names {
		require.NoError(t, p.Add(spec.NewSimple(n)))
		require.NoError(t, p.Connect(prev, n))
		prev = n
	}
	require.NoError(t, p.ConnectEnd(prev))
	require.NoError(t, p.Validate())
	return p
}

func splitProcess(t *testing.T) *spec.Process {
	t.Helper()
	p := spec.NewProcess("split")
	require.NoError(t, p.Add(spec.NewScript("X", map[string]any{"x": "done"}, nil)))
	require.NoError(t, p.Add(spec.NewScript("Y", map[string]any{"y": "done"}, nil)))
	require.NoError(t, p.ConnectStart("X", "Y"))
	require.NoError(t, p.ConnectEnd("X", "Y"))
	return p
}

// failingSpec is a Simple whose run reports failure.
type failingSpec struct {
	*spec.Simple
}

func (failingSpec) Run(context.Context, *task.Task) (task.RunResult, error) {
	return task.RunFailed, nil
}

func byName(wf *Workflow, name string) []*task.Task {
	return wf.Tasks(task.WithFilter(task.Filter{SpecName: name}))
}

func TestNew(t *testing.T) {
	t.Run("Should ready the root", func(t *testing.T) {
		wf, err := New(t.Context(), chainProcess(t, "A"))
		require.NoError(t, err)
		ready := wf.ReadyTasks()
		require.Len(t, ready, 1)
		assert.Equal(t, spec.StartName, ready[0].Spec().Name())
		assert.False(t, wf.IsCompleted())
	})

	t.Run("Should reject a nil definition", func(t *testing.T) {
		_, err := New(t.Context(), nil)
		assert.ErrorIs(t, err, core.ErrDefinition)
	})
}

func TestWorkflow_RunAll(t *testing.T) {
	t.Run("Should run a split to completion and notify once", func(t *testing.T) {
		wf, err := New(t.Context(), splitProcess(t))
		require.NoError(t, err)
		calls := 0
		wf.OnCompleted("count", func(_ context.Context, got *Workflow) {
			assert.Same(t, wf, got)
			calls++
		})
		require.NoError(t, wf.RunAll(t.Context()))
		assert.True(t, wf.IsCompleted())
		assert.True(t, wf.Success())
		assert.Equal(t, "done", wf.Data()["x"])
		assert.Equal(t, "done", wf.Data()["y"])
		assert.Equal(t, 1, calls)

		ran, err := wf.RunNext(t.Context())
		require.NoError(t, err)
		assert.False(t, ran)
		assert.Equal(t, 1, calls)
		assert.Equal(t, spec.EndName, wf.LastTask().Spec().Name())
	})

	t.Run("Should complete once End completes despite leftover branches", func(t *testing.T) {
		p := spec.NewProcess("partial")
		require.NoError(t, p.Add(spec.NewSimple("A")))
		require.NoError(t, p.Add(failingSpec{Simple: spec.NewSimple("B")}))
		require.NoError(t, p.ConnectStart("A", "B"))
		require.NoError(t, p.ConnectEnd("A", "B"))

		wf, err := New(t.Context(), p)
		require.NoError(t, err)
		calls := 0
		wf.OnCompleted("count", func(context.Context, *Workflow) { calls++ })
		require.NoError(t, wf.RunAll(t.Context()))

		failed := byName(wf, "B")
		require.Len(t, failed, 1)
		assert.Equal(t, task.StateError, failed[0].State())
		ends := wf.Tasks(task.WithFilter(task.Filter{SpecName: spec.EndName, State: task.StateCompleted}))
		require.Len(t, ends, 1)
		assert.True(t, wf.IsCompleted())
		assert.Equal(t, 1, calls)
	})

	t.Run("Should stop at manual tasks unless told otherwise", func(t *testing.T) {
		p := spec.NewProcess("manual")
		require.NoError(t, p.Add(spec.NewManual("Approve")))
		require.NoError(t, p.ConnectStart("Approve"))
		require.NoError(t, p.ConnectEnd("Approve"))

		wf, err := New(t.Context(), p)
		require.NoError(t, err)
		require.NoError(t, wf.RunAll(t.Context()))
		assert.False(t, wf.IsCompleted())
		require.Len(t, wf.ManualTasks(), 1)

		require.NoError(t, wf.RunAll(t.Context(), HaltOnManual(false)))
		assert.True(t, wf.IsCompleted())
	})

	t.Run("Should merge data given to a manual task", func(t *testing.T) {
		p := spec.NewProcess("manual")
		require.NoError(t, p.Add(spec.NewManual("Approve")))
		require.NoError(t, p.ConnectStart("Approve"))
		require.NoError(t, p.ConnectEnd("Approve"))

		wf, err := New(t.Context(), p, WithData(map[string]any{"amount": 5}))
		require.NoError(t, err)
		require.NoError(t, wf.RunAll(t.Context()))
		approve := wf.ManualTasks()[0]
		require.NoError(t, wf.RunTask(t.Context(), approve.ID(), map[string]any{"approved": true}))
		require.NoError(t, wf.RunAll(t.Context()))
		require.True(t, wf.IsCompleted())
		assert.Equal(t, true, wf.Data()["approved"])
		assert.Equal(t, 5, wf.Data()["amount"])
	})

	t.Run("Should fail when the step limit is exceeded", func(t *testing.T) {
		p := spec.NewProcess("loop")
		require.NoError(t, p.Add(spec.NewSimple("A")))
		require.NoError(t, p.Add(spec.NewSimple("B")))
		require.NoError(t, p.ConnectStart("A"))
		require.NoError(t, p.Connect("A", "B"))
		require.NoError(t, p.Connect("B", "A"))

		wf, err := New(t.Context(), p, WithMaxSteps(5))
		require.NoError(t, err)
		err = wf.RunAll(t.Context())
		assert.ErrorIs(t, err, core.ErrWorkflowStructure)
		assert.False(t, wf.IsCompleted())
	})

	t.Run("Should stop on a cancelled context", func(t *testing.T) {
		wf, err := New(t.Context(), chainProcess(t, "A"))
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		assert.ErrorIs(t, wf.RunAll(ctx), context.Canceled)
	})
}

func TestWorkflow_RunTask(t *testing.T) {
	t.Run("Should report unknown tasks", func(t *testing.T) {
		wf, err := New(t.Context(), chainProcess(t, "A"))
		require.NoError(t, err)
		err = wf.RunTask(t.Context(), core.MustNewID(), nil)
		assert.ErrorIs(t, err, core.ErrTaskNotFound)
	})

	t.Run("Should refuse tasks that are not READY", func(t *testing.T) {
		wf, err := New(t.Context(), chainProcess(t, "A"))
		require.NoError(t, err)
		a := byName(wf, "A")[0]
		err = wf.RunTask(t.Context(), a.ID(), nil)
		assert.ErrorIs(t, err, core.ErrIllegalState)
	})
}

func TestWorkflow_Listeners(t *testing.T) {
	t.Run("Should replace listeners registered under the same key", func(t *testing.T) {
		wf, err := New(t.Context(), chainProcess(t, "A"))
		require.NoError(t, err)
		var got []string
		wf.OnCompleted("k", func(context.Context, *Workflow) { got = append(got, "first") })
		wf.OnCompleted("k", func(context.Context, *Workflow) { got = append(got, "second") })
		wf.OnCompleted("gone", func(context.Context, *Workflow) { got = append(got, "gone") })
		wf.RemoveCompletedListener("gone")
		require.NoError(t, wf.RunAll(t.Context()))
		assert.Equal(t, []string{"second"}, got)
	})
}

func TestWorkflow_Cancel(t *testing.T) {
	t.Run("Should cancel every unfinished task", func(t *testing.T) {
		wf, err := New(t.Context(), chainProcess(t, "A", "B"))
		require.NoError(t, err)
		calls := 0
		wf.OnCompleted("count", func(context.Context, *Workflow) { calls++ })
		_, err = wf.RunNext(t.Context())
		require.NoError(t, err)

		cancelled, err := wf.Cancel(t.Context(), false)
		require.NoError(t, err)
		assert.NotEmpty(t, cancelled)
		assert.True(t, wf.IsCompleted())
		assert.True(t, wf.Cancelled())
		assert.False(t, wf.Success())
		assert.Equal(t, task.StateCancelled, byName(wf, "A")[0].State())
		assert.Empty(t, wf.Tasks(task.WithState(task.MaskNotFinished)))
		assert.Equal(t, 1, calls)
	})
}

func TestWorkflow_ResetFromTask(t *testing.T) {
	t.Run("Should rewind a finished branch and run it again", func(t *testing.T) {
		wf, err := New(t.Context(), chainProcess(t, "A", "B", "C"))
		require.NoError(t, err)
		calls := 0
		wf.OnCompleted("count", func(context.Context, *Workflow) { calls++ })
		require.NoError(t, wf.RunAll(t.Context()))
		require.True(t, wf.IsCompleted())

		a := byName(wf, "A")[0]
		removed, err := wf.ResetFromTask(t.Context(), a.ID(), map[string]any{"retry": true})
		require.NoError(t, err)
		assert.Len(t, removed, 4)
		assert.False(t, wf.IsCompleted())
		assert.Equal(t, task.StateReady, a.State())

		require.NoError(t, wf.RunAll(t.Context()))
		assert.True(t, wf.IsCompleted())
		assert.Equal(t, true, wf.Data()["retry"])
		assert.Equal(t, 2, calls)
	})
}

func TestWorkflow_Snapshot(t *testing.T) {
	t.Run("Should resume a restored workflow", func(t *testing.T) {
		p := spec.NewProcess("approval")
		require.NoError(t, p.Add(spec.NewManual("Approve")))
		require.NoError(t, p.Add(spec.NewSimple("Ship")))
		require.NoError(t, p.ConnectStart("Approve"))
		require.NoError(t, p.Connect("Approve", "Ship"))
		require.NoError(t, p.ConnectEnd("Ship"))

		wf, err := New(t.Context(), p, WithData(map[string]any{"order": "o-1"}))
		require.NoError(t, err)
		require.NoError(t, wf.RunAll(t.Context()))

		raw, err := json.Marshal(wf.Snapshot())
		require.NoError(t, err)
		var snap Snapshot
		require.NoError(t, json.Unmarshal(raw, &snap))

		restored, err := Restore(t.Context(), p, &snap)
		require.NoError(t, err)
		assert.Equal(t, wf.ID(), restored.ID())
		manual := restored.ManualTasks()
		require.Len(t, manual, 1)
		require.NoError(t, restored.RunTask(t.Context(), manual[0].ID(), nil))
		require.NoError(t, restored.RunAll(t.Context()))
		assert.True(t, restored.IsCompleted())
		assert.Equal(t, "o-1", restored.Data()["order"])
	})

	t.Run("Should reject an empty snapshot", func(t *testing.T) {
		_, err := Restore(t.Context(), chainProcess(t, "A"), &Snapshot{})
		assert.ErrorIs(t, err, core.ErrData)
	})
}
