package task

import (
	"fmt"
	"math/bits"
	"strings"
)

// State is a task state bit. States combine into masks with bitwise OR.
type State uint16

const (
	StateMaybe State = 1 << iota
	StateLikely
	StateFuture
	StateWaiting
	StateReady
	StateStarted
	StateCompleted
	StateError
	StateCancelled
)

const (
	MaskFinished    = StateCompleted | StateError | StateCancelled
	MaskDefinite    = StateFuture | StateWaiting | StateReady | StateStarted
	MaskPredicted   = StateLikely | StateMaybe
	MaskNotFinished = MaskPredicted | MaskDefinite
	MaskAny         = MaskFinished | MaskDefinite | MaskPredicted
)

var stateNames = []struct {
	state State
	name  string
}{
	{StateMaybe, "MAYBE"},
	{StateLikely, "LIKELY"},
	{StateFuture, "FUTURE"},
	{StateWaiting, "WAITING"},
	{StateReady, "READY"},
	{StateStarted, "STARTED"},
	{StateCompleted, "COMPLETED"},
	{StateError, "ERROR"},
	{StateCancelled, "CANCELLED"},
}

var maskNames = map[string]State{
	"FINISHED":     MaskFinished,
	"DEFINITE":     MaskDefinite,
	"PREDICTED":    MaskPredicted,
	"NOT_FINISHED": MaskNotFinished,
	"ANY":          MaskAny,
}

// Has reports whether s shares any bit with mask.
func (s State) Has(mask State) bool {
	return s&mask != 0
}

// IsSingle reports whether s is exactly one state rather than a mask.
func (s State) IsSingle() bool {
	return s != 0 && bits.OnesCount16(uint16(s)) == 1
}

func (s State) String() string {
	if s == 0 {
		return "NONE"
	}
	if s == MaskAny {
		return "ANY"
	}
	parts := make([]string, 0, 2)
	for _, n := range stateNames {
		if s&n.state != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseState parses a state name, a mask name or a "|" separated list of them.
func ParseState(s string) (State, error) {
	var out State
	for part := range strings.SplitSeq(s, "|") {
		name := strings.ToUpper(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if m, ok := maskNames[name]; ok {
			out |= m
			continue
		}
		found := false
		for _, n := range stateNames {
			if n.name == name {
				out |= n.state
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown task state %q", part)
		}
	}
	if out == 0 {
		return 0, fmt.Errorf("empty task state %q", s)
	}
	return out, nil
}
