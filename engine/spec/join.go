package spec

import (
	"context"
	"slices"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/engine/task"
	"github.com/compozy/tasktree/pkg/logger"
)

// thresholdFunc reports whether a join instance may fire and which tasks still
// hold it back.
type thresholdFunc func(ctx context.Context, t *task.Task) (bool, []*task.Task, error)

// instances returns every task of t's spec in t's tree.
func instances(t *task.Task) []*task.Task {
	return t.Tree().Tasks(task.WithFilter(task.Filter{SpecName: t.Spec().Name()}))
}

// updateJoin evaluates threshold for t. Other WAITING instances of the join are
// cancelled. When the threshold holds, data of finished non-ancestor instances
// is merged oldest first and the parent data goes on top.
func updateJoin(ctx context.Context, t *task.Task, threshold thresholdFunc) (bool, error) {
	log := logger.FromContext(ctx)
	parent := t.Parent()
	if parent == nil || !parent.HasState(task.StateCompleted) {
		return false, nil
	}
	ok, blocking, err := threshold(ctx, t)
	if err != nil {
		return false, err
	}
	for _, other := range instances(t) {
		if other == t || !other.HasState(task.StateWaiting) {
			continue
		}
		if err := other.Cancel(ctx); err != nil {
			return false, err
		}
	}
	if !ok {
		log.Debug("join waiting", "task_id", t.ID(), "spec", t.Spec().Name(), "blocking", len(blocking))
		if err := t.SetState(task.StateWaiting); err != nil {
			return false, err
		}
		return false, nil
	}
	var finished []*task.Task
	for _, other := range instances(t) {
		if other == t || !other.IsFinished() || t.IsDescendantOf(other) {
			continue
		}
		finished = append(finished, other)
	}
	slices.SortStableFunc(finished, func(a, b *task.Task) int {
		return a.LastStateChange().Compare(b.LastStateChange())
	})
	for _, other := range finished {
		if err := core.MergeData(t.Data(), other.Data()); err != nil {
			return false, err
		}
	}
	if err := t.InheritData(); err != nil {
		return false, err
	}
	for _, other := range finished {
		if other.HasState(task.StateCompleted) {
			other.DropChildren(true)
		}
	}
	log.Debug("join fired", "task_id", t.ID(), "spec", t.Spec().Name(), "merged", len(finished))
	return true, nil
}

// predictJoin gives a reached join LIKELY outputs and a predicted join
// outputs in its own state.
func predictJoin(ctx context.Context, t *task.Task) error {
	if t.IsFinished() {
		return nil
	}
	state := t.State()
	if t.IsDefinite() {
		state = task.StateLikely
	}
	return t.SyncChildren(ctx, t.Spec().Outputs(), state)
}

// joinScope returns the instances of t's spec that belong to the current
// activation: descendants of the closest ancestor of the same spec, or all of
// them when there is none.
func joinScope(t *task.Task) []*task.Task {
	var split *task.Task
	for _, a := range t.Ancestors() {
		if a.Spec() == t.Spec() {
			split = a
			break
		}
	}
	all := instances(t)
	if split == nil {
		return all
	}
	out := all[:0:0]
	for _, x := range all {
		if x.IsDescendantOf(split) {
			out = append(out, x)
		}
	}
	return out
}

// arrived reports whether instance x of the join counts as a branch that
// reached it on behalf of t.
func arrived(t, x *task.Task) bool {
	if x == t {
		return true
	}
	parent := x.Parent()
	if parent == nil || !parent.HasState(task.StateCompleted) {
		return false
	}
	if x.HasState(task.StateCompleted | task.StateError) {
		return false
	}
	return !x.IsDescendantOf(t)
}

// arrivedInputs maps the inputs of t's spec to whether some branch reached the
// join through them. It also returns the instances that have not arrived.
func arrivedInputs(t *task.Task) (map[task.Spec]bool, []*task.Task) {
	inputs := t.Spec().Inputs()
	done := make(map[task.Spec]bool, len(inputs))
	var pending []*task.Task
	for _, x := range joinScope(t) {
		if !arrived(t, x) {
			pending = append(pending, x)
			continue
		}
		for p := x.Parent(); p != nil; p = p.Parent() {
			if slices.Contains(inputs, p.Spec()) {
				done[p.Spec()] = true
				break
			}
		}
	}
	return done, pending
}

// parallelThreshold holds once every input has a branch that reached the join.
func parallelThreshold(_ context.Context, t *task.Task) (bool, []*task.Task, error) {
	done, pending := arrivedInputs(t)
	for _, in := range t.Spec().Inputs() {
		if !done[in] {
			return false, pending, nil
		}
	}
	return true, nil, nil
}

// inclusiveThreshold holds once no active task can still reach an input that
// has not delivered a branch yet.
func inclusiveThreshold(_ context.Context, t *task.Task) (bool, []*task.Task, error) {
	done, _ := arrivedInputs(t)
	var open []task.Spec
	for _, in := range t.Spec().Inputs() {
		if !done[in] {
			open = append(open, in)
		}
	}
	if len(open) == 0 {
		return true, nil, nil
	}
	feeding := upstream(t.Spec(), open)
	var blocking []*task.Task
	active := t.Tree().Tasks(task.WithState(task.StateReady | task.StateWaiting | task.StateStarted))
	for _, a := range active {
		if a.Spec() != t.Spec() && feeding[a.Spec()] {
			blocking = append(blocking, a)
		}
	}
	return len(blocking) == 0, blocking, nil
}

// upstream collects the specs from which any of targets is reachable, walking
// inputs backwards and never through join itself.
func upstream(join task.Spec, targets []task.Spec) map[task.Spec]bool {
	seen := make(map[task.Spec]bool)
	stack := slices.Clone(targets)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == join || seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, cur.Inputs()...)
	}
	return seen
}
