package spec

import (
	"context"
	"fmt"

	"github.com/compozy/tasktree/engine/expr"
	"github.com/compozy/tasktree/engine/task"
)

// Condition routes to Target when Expression holds for the task data.
type Condition struct {
	Expression string
	Target     task.Spec
}

type router struct {
	evaluator   expr.Evaluator
	conditions  []Condition
	defaultNext task.Spec
}

func (r *router) addCondition(owner task.Spec, expression string, target task.Spec) error {
	if r.evaluator == nil {
		return fmt.Errorf("spec %q has no expression evaluator", owner.Name())
	}
	if err := task.Connect(owner, target); err != nil {
		return err
	}
	r.conditions = append(r.conditions, Condition{Expression: expression, Target: target})
	return nil
}

func (r *router) setDefault(owner task.Spec, target task.Spec) error {
	if err := task.Connect(owner, target); err != nil {
		return err
	}
	r.defaultNext = target
	return nil
}

// matches evaluates the conditions in order. With first set it stops at the
// first match.
func (r *router) matches(ctx context.Context, t *task.Task, first bool) ([]task.Spec, error) {
	var out []task.Spec
	for _, c := range r.conditions {
		ok, err := r.evaluator.Evaluate(ctx, c.Expression, t.Data())
		if err != nil {
			return nil, fmt.Errorf("condition %q of %s: %w", c.Expression, t.Spec().Name(), err)
		}
		if !ok {
			continue
		}
		out = append(out, c.Target)
		if first {
			return out, nil
		}
	}
	if len(out) > 0 {
		return out, nil
	}
	if r.defaultNext != nil {
		return []task.Spec{r.defaultNext}, nil
	}
	return nil, structureError(t, "no condition of %s matched and no default is set", t.Spec().Name())
}

func (r *router) Conditions() []Condition { return append([]Condition(nil), r.conditions...) }
func (r *router) Default() task.Spec      { return r.defaultNext }

// predictOutputs marks every possible target MAYBE.
func predictOutputs(ctx context.Context, t *task.Task) error {
	if t.IsFinished() {
		return nil
	}
	return t.SyncChildren(ctx, t.Spec().Outputs(), task.StateMaybe)
}

// -----------------------------------------------------------------------------
// Exclusive
// -----------------------------------------------------------------------------

// ExclusiveGateway takes the first output whose condition holds, or the default.
type ExclusiveGateway struct {
	task.BaseSpec
	router
}

func NewExclusiveGateway(name string, evaluator expr.Evaluator) *ExclusiveGateway {
	return &ExclusiveGateway{BaseSpec: task.NewBaseSpec(name), router: router{evaluator: evaluator}}
}

func (g *ExclusiveGateway) AddCondition(expression string, target task.Spec) error {
	return g.addCondition(g, expression, target)
}

func (g *ExclusiveGateway) SetDefault(target task.Spec) error {
	return g.setDefault(g, target)
}

func (g *ExclusiveGateway) Predict(ctx context.Context, t *task.Task) error {
	return predictOutputs(ctx, t)
}

func (g *ExclusiveGateway) Run(ctx context.Context, t *task.Task) (task.RunResult, error) {
	targets, err := g.matches(ctx, t, true)
	if err != nil {
		return task.RunPending, err
	}
	if err := t.SyncChildren(ctx, targets, task.StateFuture); err != nil {
		return task.RunPending, err
	}
	return task.RunCompleted, nil
}

// OnComplete keeps the branch chosen by Run.
func (g *ExclusiveGateway) OnComplete(_ context.Context, _ *task.Task) error {
	return nil
}

// -----------------------------------------------------------------------------
// Inclusive
// -----------------------------------------------------------------------------

// InclusiveGateway joins the branches that can still reach it and then takes
// every output whose condition holds, or the default.
type InclusiveGateway struct {
	task.BaseSpec
	router
}

func NewInclusiveGateway(name string, evaluator expr.Evaluator) *InclusiveGateway {
	return &InclusiveGateway{BaseSpec: task.NewBaseSpec(name), router: router{evaluator: evaluator}}
}

func (g *InclusiveGateway) AddCondition(expression string, target task.Spec) error {
	return g.addCondition(g, expression, target)
}

func (g *InclusiveGateway) SetDefault(target task.Spec) error {
	return g.setDefault(g, target)
}

func (g *InclusiveGateway) Predict(ctx context.Context, t *task.Task) error {
	return predictOutputs(ctx, t)
}

func (g *InclusiveGateway) Update(ctx context.Context, t *task.Task) (bool, error) {
	return updateJoin(ctx, t, inclusiveThreshold)
}

func (g *InclusiveGateway) Run(ctx context.Context, t *task.Task) (task.RunResult, error) {
	targets, err := g.matches(ctx, t, false)
	if err != nil {
		return task.RunPending, err
	}
	if err := t.SyncChildren(ctx, targets, task.StateFuture); err != nil {
		return task.RunPending, err
	}
	return task.RunCompleted, nil
}

func (g *InclusiveGateway) OnComplete(_ context.Context, _ *task.Task) error {
	return nil
}

// -----------------------------------------------------------------------------
// Parallel
// -----------------------------------------------------------------------------

// ParallelGateway waits for every input branch and then takes all outputs.
type ParallelGateway struct {
	task.BaseSpec
}

func NewParallelGateway(name string) *ParallelGateway {
	return &ParallelGateway{BaseSpec: task.NewBaseSpec(name)}
}

func (g *ParallelGateway) Predict(ctx context.Context, t *task.Task) error {
	return predictJoin(ctx, t)
}

func (g *ParallelGateway) Update(ctx context.Context, t *task.Task) (bool, error) {
	return updateJoin(ctx, t, parallelThreshold)
}

// -----------------------------------------------------------------------------
// End join
// -----------------------------------------------------------------------------

// EndJoin waits until no other branch of the same thread is still active and
// then publishes its data as the workflow data.
type EndJoin struct {
	task.BaseSpec
}

func NewEndJoin(name string) *EndJoin {
	return &EndJoin{BaseSpec: task.NewBaseSpec(name)}
}

func (j *EndJoin) Predict(ctx context.Context, t *task.Task) error {
	return predictJoin(ctx, t)
}

func (j *EndJoin) Update(ctx context.Context, t *task.Task) (bool, error) {
	return updateJoin(ctx, t, endThreshold)
}

func (j *EndJoin) OnComplete(ctx context.Context, t *task.Task) error {
	if err := t.Tree().SetData(t.Data()); err != nil {
		return err
	}
	return j.BaseSpec.OnComplete(ctx, t)
}

func endThreshold(_ context.Context, t *task.Task) (bool, []*task.Task, error) {
	var blocking []*task.Task
	active := t.Tree().Tasks(task.WithState(task.StateReady | task.StateWaiting | task.StateStarted))
	for _, a := range active {
		if a.Spec() == t.Spec() || a.ThreadID() != t.ThreadID() {
			continue
		}
		blocking = append(blocking, a)
	}
	return len(blocking) == 0, blocking, nil
}
