package definition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/engine/expr"
	"github.com/compozy/tasktree/engine/spec"
	"github.com/compozy/tasktree/engine/task"
	"github.com/compozy/tasktree/engine/workflow"
)

const orderYAML = `
name: order
lookahead: 3
tasks:
  - id: check
    type: exclusive
    routes:
      - condition: "amount > 100"
        next: review
    default: auto
  - id: review
    type: manual
    next: done
  - id: auto
    type: script
    set:
      approved: true
    next: [done]
  - id: done
    type: simple
    lookahead: 1
start: check
end: [done]
`

func newLoader(t *testing.T, opts ...Option) *Loader {
	t.Helper()
	ev, err := expr.NewCELEvaluator()
	require.NoError(t, err)
	t.Cleanup(ev.Close)
	l, err := NewLoader(4, append([]Option{WithEvaluator(ev)}, opts...)...)
	require.NoError(t, err)
	return l
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_Parse(t *testing.T) {
	t.Run("Should build a runnable process", func(t *testing.T) {
		p, err := newLoader(t).Parse(t.Context(), []byte(orderYAML), "")
		require.NoError(t, err)
		assert.Equal(t, "order", p.Name())

		review, ok := p.Spec("review")
		require.True(t, ok)
		assert.True(t, review.Manual())
		assert.Equal(t, 3, review.Lookahead())
		done, _ := p.Spec("done")
		assert.Equal(t, 1, done.Lookahead())

		wf, err := workflow.New(t.Context(), p, workflow.WithData(map[string]any{"amount": 10}))
		require.NoError(t, err)
		require.NoError(t, wf.RunAll(t.Context()))
		require.True(t, wf.IsCompleted())
		assert.Equal(t, true, wf.Data()["approved"])
	})

	t.Run("Should halt on the manual branch", func(t *testing.T) {
		p, err := newLoader(t).Parse(t.Context(), []byte(orderYAML), "")
		require.NoError(t, err)
		wf, err := workflow.New(t.Context(), p, workflow.WithData(map[string]any{"amount": 500}))
		require.NoError(t, err)
		require.NoError(t, wf.RunAll(t.Context()))
		assert.False(t, wf.IsCompleted())
		manual := wf.ManualTasks()
		require.Len(t, manual, 1)
		assert.Equal(t, "review", manual[0].Spec().Name())
	})

	t.Run("Should apply the loader lookahead when the document has none", func(t *testing.T) {
		doc := "name: p\ntasks:\n  - id: a\n    type: simple\nstart: a\nend: a\n"
		p, err := newLoader(t, WithLookahead(5)).Parse(t.Context(), []byte(doc), "")
		require.NoError(t, err)
		a, _ := p.Spec("a")
		assert.Equal(t, 5, a.Lookahead())
	})

	t.Run("Should set data contracts", func(t *testing.T) {
		doc := `
name: p
tasks:
  - id: a
    type: script
    requires: [x]
    provides: [y]
    set:
      y: "{{ .x }}"
start: a
end: a
`
		p, err := newLoader(t).Parse(t.Context(), []byte(doc), "")
		require.NoError(t, err)
		wf, err := workflow.New(t.Context(), p)
		require.NoError(t, err)
		err = wf.RunAll(t.Context())
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrData)
	})

	t.Run("Should build a multi-instance loop with its body", func(t *testing.T) {
		doc := `
name: loop
tasks:
  - id: each
    type: multi
    collection: items
    item: item
    output_item: out
    output_collection: results
    body:
      id: double
      type: script
      set:
        out: "{{ mul .item 2 }}"
start: [each]
end: [each]
`
		p, err := newLoader(t).Parse(t.Context(), []byte(doc), "")
		require.NoError(t, err)
		_, ok := p.Spec("double")
		assert.True(t, ok)
		wf, err := workflow.New(t.Context(), p, workflow.WithData(map[string]any{"items": []any{1, 2}}))
		require.NoError(t, err)
		require.NoError(t, wf.RunAll(t.Context()))
		assert.Equal(t, []any{int64(2), int64(4)}, wf.Data()["results"])
	})

	t.Run("Should build events, mutexes and cancel tasks", func(t *testing.T) {
		doc := `
name: misc
tasks:
  - id: lock
    type: acquire
    mutex: m
    next: wait
  - id: wait
    type: catch
    event: go
    result: payload
    next: unlock
  - id: unlock
    type: release
    mutex: m
    next: stop
  - id: stop
    type: cancel
    success: true
start: lock
end: stop
`
		p, err := newLoader(t).Parse(t.Context(), []byte(doc), "")
		require.NoError(t, err)
		wf, err := workflow.New(t.Context(), p)
		require.NoError(t, err)
		require.NoError(t, wf.RunAll(t.Context()))
		assert.True(t, wf.Mutex("m").Locked())
		n, err := wf.CatchEvent(t.Context(), task.Event{Name: "go", Payload: map[string]any{"v": 1}})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		require.NoError(t, wf.RunAll(t.Context()))
		assert.True(t, wf.IsCompleted())
		assert.True(t, wf.Cancelled())
		assert.True(t, wf.Success())
		assert.False(t, wf.Mutex("m").Locked())
	})
}

func TestLoader_Validation(t *testing.T) {
	cases := map[string]string{
		"duplicate id": "name: p\ntasks:\n  - {id: a, type: simple}\n  - {id: a, type: simple}\nstart: a\nend: a\n",
		"unknown type": "name: p\ntasks:\n  - {id: a, type: bogus}\nstart: a\nend: a\n",
		"unknown next": "name: p\ntasks:\n  - {id: a, type: simple, next: b}\nstart: a\nend: a\n",
		"unknown start": "name: p\ntasks:\n  - {id: a, type: simple}\nstart: z\nend: a\n",
		"missing routes": "name: p\ntasks:\n  - {id: a, type: exclusive}\nstart: a\nend: a\n",
		"routes on simple": "name: p\ntasks:\n  - {id: a, type: simple, default: a}\nstart: a\nend: a\n",
		"missing event": "name: p\ntasks:\n  - {id: a, type: catch}\nstart: a\nend: a\n",
		"missing mutex": "name: p\ntasks:\n  - {id: a, type: acquire}\nstart: a\nend: a\n",
		"missing body": "name: p\ntasks:\n  - {id: a, type: multi, cardinality: 2}\nstart: a\nend: a\n",
		"unknown field": "name: p\nbogus: 1\ntasks:\n  - {id: a, type: simple}\nstart: a\nend: a\n",
		"missing name": "tasks:\n  - {id: a, type: simple}\nstart: a\nend: a\n",
		"unreachable": "name: p\ntasks:\n  - {id: a, type: simple}\n  - {id: b, type: simple}\nstart: a\nend: a\n",
		"empty": "",
	}
	l := newLoader(t)
	for name, doc := range cases {
		t.Run("Should reject "+name, func(t *testing.T) {
			_, err := l.Parse(t.Context(), []byte(doc), "")
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrDefinition)
		})
	}
}

func TestLoader_LoadFile(t *testing.T) {
	t.Run("Should cache processes by absolute path", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "order.yaml", orderYAML)
		l := newLoader(t)
		first, err := l.LoadFile(t.Context(), path)
		require.NoError(t, err)
		second, err := l.LoadFile(t.Context(), path)
		require.NoError(t, err)
		assert.Same(t, first, second)

		l.Purge()
		third, err := l.LoadFile(t.Context(), path)
		require.NoError(t, err)
		assert.NotSame(t, first, third)
	})

	t.Run("Should resolve subprocess paths relative to the file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
		writeFile(t, filepath.Join(dir, "sub"), "inner.yaml", `
name: inner
tasks:
  - id: work
    type: script
    set:
      result: "{{ .seed }}-done"
start: work
end: work
`)
		path := writeFile(t, dir, "outer.yaml", `
name: outer
tasks:
  - id: call
    type: subprocess
    process: sub/inner.yaml
start: call
end: call
`)
		p, err := newLoader(t).LoadFile(t.Context(), path)
		require.NoError(t, err)
		s, ok := p.Spec("call")
		require.True(t, ok)
		sub, ok := s.(*spec.SubProcess)
		require.True(t, ok)
		assert.Equal(t, "inner", sub.Process().Name())

		wf, err := workflow.New(t.Context(), p, workflow.WithData(map[string]any{"seed": "s"}))
		require.NoError(t, err)
		require.NoError(t, wf.RunAll(t.Context()))
		require.True(t, wf.IsCompleted())
		assert.Equal(t, "s-done", wf.Data()["result"])
	})

	t.Run("Should detect subprocess cycles", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.yaml", "name: a\ntasks:\n  - {id: x, type: subprocess, process: b.yaml}\nstart: x\nend: x\n")
		path := writeFile(t, dir, "b.yaml", "name: b\ntasks:\n  - {id: y, type: subprocess, process: a.yaml}\nstart: y\nend: y\n")
		_, err := newLoader(t).LoadFile(t.Context(), path)
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrDefinition)
		assert.ErrorContains(t, err, "cycle")
	})

	t.Run("Should fail on a missing file", func(t *testing.T) {
		_, err := newLoader(t).LoadFile(t.Context(), filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorContains(t, err, "failed to open definition file")
	})
}
