package task

import (
	"iter"
)

const DefaultMaxDepth = 1000

type IteratorOption func(*Iterator)

func WithFilter(f Filter) IteratorOption {
	return func(it *Iterator) { it.filter = &f }
}

func WithState(mask State) IteratorOption {
	return func(it *Iterator) {
		if it.filter == nil {
			it.filter = &Filter{}
		}
		it.filter.State = mask
	}
}

func WithMaxDepth(n int) IteratorOption {
	return func(it *Iterator) {
		if n > 0 {
			it.maxDepth = n
		}
	}
}

// WithEndAt stops descent below tasks of the named spec.
func WithEndAt(specName string) IteratorOption {
	return func(it *Iterator) { it.endAt = specName }
}

func WithBreadthFirst() IteratorOption {
	return func(it *Iterator) { it.breadthFirst = true }
}

// WithSubTrees descends into sub-workflow trees attached to tasks. With
// skipFinished, completed sub-workflows are not entered when only unfinished
// tasks are sought.
func WithSubTrees(skipFinished bool) IteratorOption {
	return func(it *Iterator) {
		it.subTrees = true
		it.skipFinishedSubTrees = skipFinished
	}
}

type entry struct {
	task  *Task
	depth int
}

// Iterator walks a task tree from a starting task. It is single pass.
type Iterator struct {
	filter               *Filter
	maxDepth             int
	endAt                string
	breadthFirst         bool
	subTrees             bool
	skipFinishedSubTrees bool
	pending              []entry
}

func NewIterator(start *Task, opts ...IteratorOption) *Iterator {
	it := &Iterator{maxDepth: DefaultMaxDepth}
	if start != nil && start.tree != nil {
		it.maxDepth = start.tree.maxDepth
	}
	for _, opt := range opts {
		opt(it)
	}
	if start != nil {
		it.pending = []entry{{task: start}}
	}
	return it
}

// Next returns the next matching task.
func (it *Iterator) Next() (*Task, bool) {
	for len(it.pending) > 0 {
		var cur entry
		if it.breadthFirst {
			cur = it.pending[0]
			it.pending = it.pending[1:]
		} else {
			cur = it.pending[len(it.pending)-1]
			it.pending = it.pending[:len(it.pending)-1]
		}
		it.expand(cur)
		if it.filter.Match(cur.task) {
			return cur.task, true
		}
	}
	return nil, false
}

func (it *Iterator) expand(cur entry) {
	t := cur.task
	if cur.depth >= it.maxDepth {
		return
	}
	if it.endAt != "" && t.spec.Name() == it.endAt {
		return
	}
	children := make([]*Task, 0, len(t.childIDs)+1)
	if t.state >= it.filter.floor() {
		children = append(children, t.Children()...)
	}
	if it.subTrees {
		if sub, ok := t.tree.SubTree(t.id); ok {
			skip := it.skipFinishedSubTrees && it.filter.onlyUnfinished() && sub.IsCompleted()
			if root := sub.Root(); root != nil && !skip {
				children = append(children, root)
			}
		}
	}
	if it.breadthFirst {
		for _, c := range children {
			it.pending = append(it.pending, entry{task: c, depth: cur.depth + 1})
		}
		return
	}
	for i := len(children) - 1; i >= 0; i-- {
		it.pending = append(it.pending, entry{task: children[i], depth: cur.depth + 1})
	}
}

// All yields the remaining matches.
func (it *Iterator) All() iter.Seq[*Task] {
	return func(yield func(*Task) bool) {
		for {
			t, ok := it.Next()
			if !ok || !yield(t) {
				return
			}
		}
	}
}

// Collect drains the iterator.
func (it *Iterator) Collect() []*Task {
	var out []*Task
	for t := range it.All() {
		out = append(out, t)
	}
	return out
}

// Tasks lists the tasks of the tree reachable from the root.
func (tr *Tree) Tasks(opts ...IteratorOption) []*Task {
	return NewIterator(tr.Root(), opts...).Collect()
}

// FindFirst returns the first task from the root matching opts.
func (tr *Tree) FindFirst(opts ...IteratorOption) (*Task, bool) {
	return NewIterator(tr.Root(), opts...).Next()
}
