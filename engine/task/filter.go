package task

import (
	"reflect"
	"time"
)

// Filter selects tasks. Zero fields match everything; set fields must all match.
type Filter struct {
	State        State
	UpdatedAfter time.Time
	Manual       *bool
	SpecName     string
	SpecType     reflect.Type
	// Catches restricts the match to catcher tasks that accept the event.
	Catches *Event
}

// SpecTypeOf returns the reflect.Type used by Filter.SpecType for s.
func SpecTypeOf(s Spec) reflect.Type {
	return reflect.TypeOf(s)
}

func (f *Filter) mask() State {
	if f == nil || f.State == 0 {
		return MaskAny
	}
	return f.State
}

// Match reports whether t satisfies every condition of f.
func (f *Filter) Match(t *Task) bool {
	if f == nil {
		return true
	}
	if !t.state.Has(f.mask()) {
		return false
	}
	if !f.UpdatedAfter.IsZero() && !t.lastStateChange.After(f.UpdatedAfter) {
		return false
	}
	if f.Manual != nil && t.spec.Manual() != *f.Manual {
		return false
	}
	if f.SpecName != "" && t.spec.Name() != f.SpecName {
		return false
	}
	if f.SpecType != nil && reflect.TypeOf(t.spec) != f.SpecType {
		return false
	}
	if f.Catches != nil {
		c, ok := t.spec.(EventCatcher)
		if !ok || !c.Catches(t, *f.Catches) {
			return false
		}
	}
	return true
}

// floor is the lowest state whose children can still hold matches.
func (f *Filter) floor() State {
	m := f.mask()
	switch {
	case m.Has(MaskPredicted):
		return StateMaybe
	case m.Has(MaskDefinite):
		return StateFuture
	default:
		return StateCompleted
	}
}

// onlyUnfinished reports whether finished subtrees can be skipped.
func (f *Filter) onlyUnfinished() bool {
	return !f.mask().Has(MaskFinished)
}
