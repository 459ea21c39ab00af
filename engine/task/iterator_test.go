package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forkDef builds Start -> A, B and A -> A1.
func forkDef(t *testing.T) *testDef {
	t.Helper()
	def := &testDef{name: "fork", specs: map[string]Spec{}}
	for _, n := range []string{"Start", "A", "B", "A1"} {
		def.specs[n] = newTestSpec(n)
	}
	require.NoError(t, Connect(def.specs["Start"], def.specs["A"]))
	require.NoError(t, Connect(def.specs["Start"], def.specs["B"]))
	require.NoError(t, Connect(def.specs["A"], def.specs["A1"]))
	def.start = def.specs["Start"]
	return def
}

func names(tasks []*Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Spec().Name())
	}
	return out
}

func TestIterator(t *testing.T) {
	t.Run("Should walk depth first by default", func(t *testing.T) {
		tr := newTestTree(t, forkDef(t))
		assert.Equal(t, []string{"Start", "A", "A1", "B"}, names(tr.Tasks()))
	})

	t.Run("Should walk breadth first on request", func(t *testing.T) {
		tr := newTestTree(t, forkDef(t))
		assert.Equal(t, []string{"Start", "A", "B", "A1"}, names(tr.Tasks(WithBreadthFirst())))
	})

	t.Run("Should filter by state", func(t *testing.T) {
		tr := newTestTree(t, forkDef(t))
		assert.Equal(t, []string{"A", "A1", "B"}, names(tr.Tasks(WithState(StateFuture))))
		assert.Equal(t, []string{"Start"}, names(tr.Tasks(WithState(StateReady))))
	})

	t.Run("Should honor the depth limit", func(t *testing.T) {
		tr := newTestTree(t, forkDef(t))
		assert.Equal(t, []string{"Start", "A", "B"}, names(tr.Tasks(WithMaxDepth(1))))
	})

	t.Run("Should not descend below the end spec", func(t *testing.T) {
		tr := newTestTree(t, forkDef(t))
		assert.Equal(t, []string{"Start", "A", "B"}, names(tr.Tasks(WithEndAt("A"))))
	})

	t.Run("Should filter by manual flag and spec name", func(t *testing.T) {
		def := forkDef(t)
		def.specs["B"].(*testSpec).SetManual(true)
		tr := newTestTree(t, def)
		manual := true
		assert.Equal(t, []string{"B"}, names(tr.Tasks(WithFilter(Filter{Manual: &manual}))))
		assert.Equal(t, []string{"A1"}, names(tr.Tasks(WithFilter(Filter{SpecName: "A1"}))))
	})

	t.Run("Should stop when the consumer stops", func(t *testing.T) {
		tr := newTestTree(t, forkDef(t))
		count := 0
		for range NewIterator(tr.Root()).All() {
			count++
			if count == 2 {
				break
			}
		}
		assert.Equal(t, 2, count)
	})

	t.Run("Should enter attached sub trees on request", func(t *testing.T) {
		tr := newTestTree(t, forkDef(t))
		subDef, _ := chainDef(t, "S")
		sub := NewTree(subDef)
		b := taskBySpec(t, tr, "B")
		tr.AttachSubTree(b, sub)
		require.NoError(t, sub.Init(t.Context()))
		assert.NotContains(t, names(tr.Tasks()), "S")
		assert.Contains(t, names(tr.Tasks(WithSubTrees(false))), "S")
	})
}
