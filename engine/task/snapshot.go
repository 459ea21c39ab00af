package task

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/compozy/tasktree/engine/core"
)

// Record is the serializable form of one task.
type Record struct {
	ID              core.ID        `json:"id"                      yaml:"id"`
	ParentID        core.ID        `json:"parent_id,omitempty"     yaml:"parent_id,omitempty"`
	Children        []core.ID      `json:"children,omitempty"      yaml:"children,omitempty"`
	Spec            string         `json:"spec"                    yaml:"spec"`
	State           State          `json:"state"                   yaml:"state"`
	Triggered       bool           `json:"triggered,omitempty"     yaml:"triggered,omitempty"`
	Data            map[string]any `json:"data,omitempty"          yaml:"data,omitempty"`
	InternalData    map[string]any `json:"internal_data,omitempty" yaml:"internal_data,omitempty"`
	ThreadID        int            `json:"thread_id"               yaml:"thread_id"`
	LastStateChange time.Time      `json:"last_state_change"       yaml:"last_state_change"`
}

// Snapshot captures a tree and its attached sub-workflow trees.
type Snapshot struct {
	ID         core.ID               `json:"id"                  yaml:"id"`
	Definition string                `json:"definition"          yaml:"definition"`
	Root       core.ID               `json:"root"                yaml:"root"`
	LastTask   core.ID               `json:"last_task,omitempty" yaml:"last_task,omitempty"`
	Threads    int                   `json:"threads"             yaml:"threads"`
	Data       map[string]any        `json:"data,omitempty"      yaml:"data,omitempty"`
	Mutexes    map[string]core.ID    `json:"mutexes,omitempty"   yaml:"mutexes,omitempty"`
	Tasks      []Record              `json:"tasks"               yaml:"tasks"`
	SubTrees   map[core.ID]*Snapshot `json:"subtrees,omitempty"  yaml:"subtrees,omitempty"`
}

// SubProcess is implemented by specs that run a nested definition.
type SubProcess interface {
	Process() Definition
}

// Snapshot copies the tree into records in depth-first order.
func (tr *Tree) Snapshot() *Snapshot {
	snap := &Snapshot{
		ID:         tr.id,
		Definition: tr.def.Name(),
		Root:       tr.rootID,
		LastTask:   tr.lastTask,
		Threads:    tr.threads,
		Data:       core.CloneMap(tr.data),
	}
	for name, m := range tr.mutexes {
		if m.Locked() {
			if snap.Mutexes == nil {
				snap.Mutexes = map[string]core.ID{}
			}
			snap.Mutexes[name] = m.holder
		}
	}
	for t := range NewIterator(tr.Root(), WithMaxDepth(len(tr.tasks)+1)).All() {
		snap.Tasks = append(snap.Tasks, Record{
			ID:              t.id,
			ParentID:        t.parentID,
			Children:        slices.Clone(t.childIDs),
			Spec:            t.spec.Name(),
			State:           t.state,
			Triggered:       t.triggered,
			Data:            core.CloneMap(t.data),
			InternalData:    core.CloneMap(t.internal),
			ThreadID:        t.threadID,
			LastStateChange: t.lastStateChange,
		})
	}
	for id, sub := range tr.subtrees {
		if snap.SubTrees == nil {
			snap.SubTrees = map[core.ID]*Snapshot{}
		}
		snap.SubTrees[id] = sub.Snapshot()
	}
	return snap
}

// RestoreTree rebuilds a tree from snap, resolving spec names through def.
func RestoreTree(ctx context.Context, def Definition, snap *Snapshot, opts ...TreeOption) (*Tree, error) {
	if snap == nil {
		return nil, core.NewError(fmt.Errorf("nil snapshot"), core.CodeData, nil)
	}
	if snap.Definition != "" && snap.Definition != def.Name() {
		return nil, core.NewError(
			fmt.Errorf("snapshot of %q cannot restore with %q", snap.Definition, def.Name()),
			core.CodeDefinition,
			nil,
		)
	}
	tr := NewTree(def, opts...)
	tr.id = snap.ID
	tr.rootID = snap.Root
	tr.lastTask = snap.LastTask
	tr.threads = snap.Threads
	tr.data = core.CloneMap(snap.Data)
	for name, holder := range snap.Mutexes {
		tr.mutexes[name] = &Mutex{name: name, holder: holder}
	}
	for i := range snap.Tasks {
		rec := &snap.Tasks[i]
		spec, ok := def.Spec(rec.Spec)
		if !ok {
			return nil, core.NewError(
				fmt.Errorf("unknown spec %q in snapshot", rec.Spec),
				core.CodeDefinition,
				map[string]any{"task_id": rec.ID.String()},
			)
		}
		tr.tasks[rec.ID] = &Task{
			id:              rec.ID,
			tree:            tr,
			parentID:        rec.ParentID,
			childIDs:        slices.Clone(rec.Children),
			spec:            spec,
			state:           rec.State,
			triggered:       rec.Triggered,
			data:            core.CloneMap(rec.Data),
			internal:        core.CloneMap(rec.InternalData),
			threadID:        rec.ThreadID,
			lastStateChange: rec.LastStateChange,
		}
		if rec.LastStateChange.After(tr.stamp) {
			tr.stamp = rec.LastStateChange
		}
	}
	if err := tr.checkLinks(); err != nil {
		return nil, err
	}
	for _, id := range slices.Sorted(maps.Keys(snap.SubTrees)) {
		outer, ok := tr.tasks[id]
		if !ok {
			return nil, core.NewError(fmt.Errorf("sub-workflow owner %s not found", id), core.CodeTaskNotFound, nil)
		}
		sp, ok := outer.spec.(SubProcess)
		if !ok {
			return nil, core.NewError(
				fmt.Errorf("spec %q does not run sub-workflows", outer.spec.Name()),
				core.CodeDefinition,
				nil,
			)
		}
		sub, err := RestoreTree(
			ctx,
			sp.Process(),
			snap.SubTrees[id],
			WithClock(tr.clock),
			WithDriver(tr.driver),
			WithTreeMaxDepth(tr.maxDepth),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to restore sub-workflow of %s: %w", id, err)
		}
		tr.AttachSubTree(outer, sub)
	}
	return tr, nil
}

func (tr *Tree) checkLinks() error {
	if _, ok := tr.tasks[tr.rootID]; !ok {
		return core.NewError(fmt.Errorf("root %s not found", tr.rootID), core.CodeTaskNotFound, nil)
	}
	for id, t := range tr.tasks {
		for _, cid := range t.childIDs {
			c, ok := tr.tasks[cid]
			if !ok || c.parentID != id {
				return core.NewError(
					fmt.Errorf("task %s lists child %s that does not link back", id, cid),
					core.CodeWorkflowStructure,
					nil,
				)
			}
		}
	}
	return nil
}
