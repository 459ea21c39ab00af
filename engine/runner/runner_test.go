package runner

import (
	"fmt"
	"sync"
	"testing"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/engine/infra/snapstore"
	"github.com/compozy/tasktree/engine/spec"
	"github.com/compozy/tasktree/engine/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type processes map[string]*spec.Process

func (p processes) Lookup(name string) (*spec.Process, error) {
	if proc, ok := p[name]; ok {
		return proc, nil
	}
	return nil, core.NewError(fmt.Errorf("unknown process %q", name), core.CodeDefinition, nil)
}

func approvalProcess(t *testing.T) *spec.Process {
	t.Helper()
	p := spec.NewProcess("approval")
	require.NoError(t, p.Add(spec.NewManual("Approve")))
	require.NoError(t, p.Add(spec.NewScript("Done", map[string]any{"status": "approved"}, nil)))
	require.NoError(t, p.ConnectStart("Approve"))
	require.NoError(t, p.Connect("Approve", "Done"))
	require.NoError(t, p.ConnectEnd("Done"))
	require.NoError(t, p.Validate())
	return p
}

func signalProcess(t *testing.T) *spec.Process {
	t.Helper()
	p := spec.NewProcess("signal")
	catch := spec.NewCatchEvent("Wait", task.EventDefinition{Name: "go"})
	catch.ResultKey = "payload"
	require.NoError(t, p.Add(catch))
	require.NoError(t, p.ConnectStart("Wait"))
	require.NoError(t, p.ConnectEnd("Wait"))
	require.NoError(t, p.Validate())
	return p
}

func setup(t *testing.T, opts ...Option) (*Runner, processes, *snapstore.MemoryStore) {
	t.Helper()
	defs := processes{"approval": approvalProcess(t), "signal": signalProcess(t)}
	store := snapstore.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	return New(defs, store, opts...), defs, store
}

func mustID(t *testing.T, s string) core.ID {
	t.Helper()
	id, err := core.ParseID(s)
	require.NoError(t, err)
	return id
}

func TestRunner_Start(t *testing.T) {
	t.Run("Should halt at a manual task and save the workflow", func(t *testing.T) {
		r, defs, store := setup(t)
		res, err := r.Start(t.Context(), defs["approval"], map[string]any{"amount": "10"}, RunConfig{})
		require.NoError(t, err)
		assert.False(t, res.Completed)
		assert.True(t, res.Saved)
		assert.Equal(t, "approval", res.Process)
		require.Len(t, res.Pending, 1)
		assert.Equal(t, "Approve", res.Pending[0].Spec)
		assert.Equal(t, "READY", res.Pending[0].State)
		assert.True(t, res.Pending[0].Manual)

		ids, err := store.List(t.Context())
		require.NoError(t, err)
		assert.Equal(t, []core.ID{mustID(t, res.ID)}, ids)
	})

	t.Run("Should complete when manual tasks run automatically", func(t *testing.T) {
		r, defs, _ := setup(t)
		res, err := r.Start(t.Context(), defs["approval"], nil, RunConfig{AutoManual: true})
		require.NoError(t, err)
		assert.True(t, res.Completed)
		assert.True(t, res.Success)
		assert.Empty(t, res.Pending)
		assert.Equal(t, "approved", res.Data["status"])
	})

	t.Run("Should not save when saving is disabled", func(t *testing.T) {
		r, defs, store := setup(t, WithSave(false))
		res, err := r.Start(t.Context(), defs["approval"], nil, RunConfig{})
		require.NoError(t, err)
		assert.False(t, res.Saved)
		ids, err := store.List(t.Context())
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestRunner_CompleteTask(t *testing.T) {
	t.Run("Should run the manual task with the given data", func(t *testing.T) {
		r, defs, _ := setup(t)
		started, err := r.Start(t.Context(), defs["approval"], nil, RunConfig{})
		require.NoError(t, err)
		id := mustID(t, started.ID)
		taskID := mustID(t, started.Pending[0].ID)

		res, err := r.CompleteTask(t.Context(), id, taskID, map[string]any{"reviewer": "ana"}, RunConfig{})
		require.NoError(t, err)
		assert.True(t, res.Completed)
		assert.Equal(t, started.ID, res.ID)
		assert.Equal(t, "ana", res.Data["reviewer"])
		assert.Equal(t, "approved", res.Data["status"])

		got, err := r.Get(t.Context(), id)
		require.NoError(t, err)
		assert.True(t, got.Completed)
	})

	t.Run("Should report an unknown task", func(t *testing.T) {
		r, defs, _ := setup(t)
		started, err := r.Start(t.Context(), defs["approval"], nil, RunConfig{})
		require.NoError(t, err)
		_, err = r.CompleteTask(t.Context(), mustID(t, started.ID), core.MustNewID(), nil, RunConfig{})
		assert.ErrorIs(t, err, core.ErrTaskNotFound)
	})
}

func TestRunner_Signal(t *testing.T) {
	t.Run("Should deliver the event and finish the workflow", func(t *testing.T) {
		r, defs, _ := setup(t)
		started, err := r.Start(t.Context(), defs["signal"], nil, RunConfig{})
		require.NoError(t, err)
		require.False(t, started.Completed)
		require.Len(t, started.Pending, 1)
		assert.Equal(t, "WAITING", started.Pending[0].State)
		id := mustID(t, started.ID)

		res, err := r.Signal(t.Context(), id, task.Event{Name: "other"}, RunConfig{})
		require.NoError(t, err)
		assert.Zero(t, res.Caught)
		assert.False(t, res.Completed)

		res, err = r.Signal(t.Context(), id, task.Event{Name: "go", Payload: map[string]any{"k": "v"}}, RunConfig{})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Caught)
		assert.True(t, res.Completed)
		assert.Equal(t, map[string]any{"k": "v"}, res.Data["payload"])
	})
}

func TestRunner_Cancel(t *testing.T) {
	t.Run("Should cancel a saved workflow", func(t *testing.T) {
		r, defs, _ := setup(t)
		started, err := r.Start(t.Context(), defs["signal"], nil, RunConfig{})
		require.NoError(t, err)
		res, err := r.Cancel(t.Context(), mustID(t, started.ID), false)
		require.NoError(t, err)
		assert.True(t, res.Cancelled)
		assert.False(t, res.Success)
		assert.True(t, res.Completed)
	})
}

func TestRunner_Resume(t *testing.T) {
	t.Run("Should continue a halted workflow", func(t *testing.T) {
		r, defs, _ := setup(t)
		started, err := r.Start(t.Context(), defs["approval"], nil, RunConfig{})
		require.NoError(t, err)
		id := mustID(t, started.ID)

		res, err := r.Resume(t.Context(), id, RunConfig{})
		require.NoError(t, err)
		assert.False(t, res.Completed)

		res, err = r.Resume(t.Context(), id, RunConfig{AutoManual: true})
		require.NoError(t, err)
		assert.True(t, res.Completed)
	})

	t.Run("Should fail for unknown workflows", func(t *testing.T) {
		r, _, _ := setup(t)
		_, err := r.Resume(t.Context(), core.MustNewID(), RunConfig{})
		assert.ErrorIs(t, err, snapstore.ErrNotFound)
	})

	t.Run("Should fail when the process is no longer known", func(t *testing.T) {
		r, defs, _ := setup(t)
		started, err := r.Start(t.Context(), defs["approval"], nil, RunConfig{})
		require.NoError(t, err)
		delete(defs, "approval")
		_, err = r.Resume(t.Context(), mustID(t, started.ID), RunConfig{})
		assert.ErrorIs(t, err, core.ErrDefinition)
	})
}

func TestRunner_Delete(t *testing.T) {
	t.Run("Should remove the saved workflow", func(t *testing.T) {
		r, defs, _ := setup(t)
		started, err := r.Start(t.Context(), defs["approval"], nil, RunConfig{})
		require.NoError(t, err)
		id := mustID(t, started.ID)
		require.NoError(t, r.Delete(t.Context(), id))
		_, err = r.Get(t.Context(), id)
		assert.ErrorIs(t, err, snapstore.ErrNotFound)
		ids, err := r.List(t.Context())
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
	t.Run("Should drop the per-workflow lock", func(t *testing.T) {
		r, defs, _ := setup(t)
		started, err := r.Start(t.Context(), defs["approval"], nil, RunConfig{})
		require.NoError(t, err)
		id := mustID(t, started.ID)
		_, err = r.Resume(t.Context(), id, RunConfig{})
		require.NoError(t, err)
		r.mu.Lock()
		_, held := r.locks[id]
		r.mu.Unlock()
		require.True(t, held)
		require.NoError(t, r.Delete(t.Context(), id))
		r.mu.Lock()
		defer r.mu.Unlock()
		assert.NotContains(t, r.locks, id)
	})
}

func TestRunner_ConcurrentSignals(t *testing.T) {
	t.Run("Should serialize operations on the same workflow", func(t *testing.T) {
		r, defs, _ := setup(t)
		started, err := r.Start(t.Context(), defs["signal"], nil, RunConfig{})
		require.NoError(t, err)
		id := mustID(t, started.ID)

		var wg sync.WaitGroup
		var mu sync.Mutex
		caught := 0
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := r.Signal(t.Context(), id, task.Event{Name: "go"}, RunConfig{})
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				caught += res.Caught
				mu.Unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, caught)
	})
}

func TestRunner_WithSave(t *testing.T) {
	t.Run("Should leave the stored snapshot untouched when saving is disabled", func(t *testing.T) {
		r, defs, store := setup(t)
		started, err := r.Start(t.Context(), defs["approval"], nil, RunConfig{})
		require.NoError(t, err)
		id := mustID(t, started.ID)

		readonly := New(defs, store, WithSave(false))
		res, err := readonly.Resume(t.Context(), id, RunConfig{AutoManual: true})
		require.NoError(t, err)
		assert.True(t, res.Completed)
		assert.False(t, res.Saved)

		got, err := r.Get(t.Context(), id)
		require.NoError(t, err)
		assert.False(t, got.Completed)
	})
}
