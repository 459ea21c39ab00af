package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testSpec struct {
	BaseSpec
	predictState State
	runResult    RunResult
	runErr       error
	cancelled    int
}

func newTestSpec(name string) *testSpec {
	return &testSpec{BaseSpec: NewBaseSpec(name), runResult: RunCompleted}
}

func (s *testSpec) Predict(ctx context.Context, t *Task) error {
	if s.predictState == 0 || t.IsFinished() {
		return s.BaseSpec.Predict(ctx, t)
	}
	return t.SyncChildren(ctx, s.Outputs(), s.predictState)
}

func (s *testSpec) Run(_ context.Context, _ *Task) (RunResult, error) {
	return s.runResult, s.runErr
}

func (s *testSpec) OnCancel(_ context.Context, _ *Task) error {
	s.cancelled++
	return nil
}

type testDef struct {
	name  string
	start Spec
	end   Spec
	specs map[string]Spec
}

func (d *testDef) Name() string { return d.name }
func (d *testDef) Start() Spec  { return d.start }
func (d *testDef) End() Spec    { return d.end }

func (d *testDef) Spec(name string) (Spec, bool) {
	s, ok := d.specs[name]
	return s, ok
}

// chainDef builds Start -> names... -> End.
func chainDef(t *testing.T, names ...string) (*testDef, map[string]*testSpec) {
	t.Helper()
	specs := map[string]*testSpec{}
	def := &testDef{name: "chain", specs: map[string]Spec{}}
	all := append(append([]string{"Start"}, names...), "End")
	var prev *testSpec
	for _, n := range all {
		s := newTestSpec(n)
		specs[n] = s
		def.specs[n] = s
		if prev != nil {
			require.NoError(t, Connect(prev, s))
		}
		prev = s
	}
	def.start = specs["Start"]
	def.end = specs["End"]
	return def, specs
}

func newTestTree(t *testing.T, def Definition, opts ...TreeOption) *Tree {
	t.Helper()
	tr := NewTree(def, opts...)
	require.NoError(t, tr.Init(t.Context()))
	return tr
}

// runToEnd runs READY tasks until none are left.
func runToEnd(t *testing.T, tr *Tree) {
	t.Helper()
	for range 100 {
		next, ok := tr.FindFirst(WithState(StateReady))
		if !ok {
			return
		}
		require.NoError(t, next.Run(t.Context()))
	}
	t.Fatal("tree did not settle")
}

func taskBySpec(t *testing.T, tr *Tree, name string) *Task {
	t.Helper()
	found, ok := tr.FindFirst(WithFilter(Filter{SpecName: name}))
	require.True(t, ok, "no task for spec %s", name)
	return found
}

type fixedClock struct{ at time.Time }

func (c *fixedClock) Now() time.Time { return c.at }

var errBoom = errors.New("boom")
