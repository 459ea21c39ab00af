package spec

import (
	"fmt"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/engine/task"
)

const (
	StartName   = "Start"
	EndJoinName = "EndJoin"
	EndName     = "End"
)

// Process is an immutable-after-build graph of specs. It implements
// task.Definition.
type Process struct {
	name    string
	specs   map[string]task.Spec
	order   []string
	start   *Start
	endJoin *EndJoin
	end     *End
}

// NewProcess returns a process holding the Start, EndJoin and End specs with
// EndJoin already connected to End.
func NewProcess(name string) *Process {
	p := &Process{name: name, specs: make(map[string]task.Spec)}
	p.start = NewStart(StartName)
	p.endJoin = NewEndJoin(EndJoinName)
	p.end = NewEnd(EndName)
	p.mustAdd(p.start)
	p.mustAdd(p.endJoin)
	p.mustAdd(p.end)
	if err := task.Connect(p.endJoin, p.end); err != nil {
		panic(err)
	}
	return p
}

func (p *Process) Name() string        { return p.name }
func (p *Process) Start() task.Spec    { return p.start }
func (p *Process) End() task.Spec      { return p.end }
func (p *Process) EndJoin() *EndJoin   { return p.endJoin }
func (p *Process) Len() int            { return len(p.order) }
func (p *Process) SpecNames() []string { return append([]string(nil), p.order...) }

func (p *Process) Spec(name string) (task.Spec, bool) {
	s, ok := p.specs[name]
	return s, ok
}

// Specs returns every spec in insertion order.
func (p *Process) Specs() []task.Spec {
	out := make([]task.Spec, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.specs[name])
	}
	return out
}

// Add registers s. Names are unique within a process.
func (p *Process) Add(s task.Spec) error {
	if s == nil || s.Name() == "" {
		return core.NewError(fmt.Errorf("spec must have a name"), core.CodeDefinition, nil)
	}
	if _, ok := p.specs[s.Name()]; ok {
		return core.NewError(
			fmt.Errorf("duplicate spec %q in process %q", s.Name(), p.name),
			core.CodeDefinition,
			map[string]any{"spec": s.Name()},
		)
	}
	p.specs[s.Name()] = s
	p.order = append(p.order, s.Name())
	return nil
}

func (p *Process) mustAdd(s task.Spec) {
	if err := p.Add(s); err != nil {
		panic(err)
	}
}

// Connect links the named specs.
func (p *Process) Connect(from, to string) error {
	f, err := p.lookup(from)
	if err != nil {
		return err
	}
	t, err := p.lookup(to)
	if err != nil {
		return err
	}
	return task.Connect(f, t)
}

// ConnectStart links Start to each named spec.
func (p *Process) ConnectStart(names ...string) error {
	for _, n := range names {
		if err := p.Connect(StartName, n); err != nil {
			return err
		}
	}
	return nil
}

// ConnectEnd links each named spec to the end join.
func (p *Process) ConnectEnd(names ...string) error {
	for _, n := range names {
		if err := p.Connect(n, EndJoinName); err != nil {
			return err
		}
	}
	return nil
}

func (p *Process) lookup(name string) (task.Spec, error) {
	s, ok := p.specs[name]
	if !ok {
		return nil, core.NewError(
			fmt.Errorf("unknown spec %q in process %q", name, p.name),
			core.CodeDefinition,
			map[string]any{"spec": name},
		)
	}
	return s, nil
}

// Validate checks that every spec other than the end pair is reachable from
// Start and that adjacency only references registered specs.
func (p *Process) Validate() error {
	reached := map[string]bool{}
	stack := []task.Spec{p.start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reached[cur.Name()] {
			continue
		}
		reached[cur.Name()] = true
		for _, out := range cur.Outputs() {
			if registered, ok := p.specs[out.Name()]; !ok || registered != out {
				return core.NewError(
					fmt.Errorf("spec %q links to unregistered spec %q", cur.Name(), out.Name()),
					core.CodeDefinition,
					nil,
				)
			}
			stack = append(stack, out)
		}
		if b, ok := cur.(interface{ Bodies() []task.Spec }); ok {
			stack = append(stack, b.Bodies()...)
		}
	}
	for _, name := range p.order {
		if name == EndJoinName || name == EndName {
			continue
		}
		if !reached[name] {
			return core.NewError(
				fmt.Errorf("spec %q is not reachable from %s", name, StartName),
				core.CodeDefinition,
				map[string]any{"spec": name},
			)
		}
	}
	if len(p.start.Outputs()) == 0 {
		return core.NewError(fmt.Errorf("process %q has no start outputs", p.name), core.CodeDefinition, nil)
	}
	return nil
}
