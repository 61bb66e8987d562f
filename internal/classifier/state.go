// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package classifier

import (
	"fmt"
	"sync/atomic"

	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

// State is the readiness of the classifier as a whole.
type State int32

const (
	StateLoading State = iota
	StateReady
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// validTransitions lists the states reachable from each state.
// Degraded→Loading is the retry path after an embedder failure.
var validTransitions = map[State][]State{
	StateLoading:  {StateReady, StateDegraded},
	StateDegraded: {StateLoading},
}

// ValidTransition reports whether from→to is allowed.
func ValidTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// stateCell holds a State and only changes it by compare-and-swap along a
// valid transition.
type stateCell struct {
	v atomic.Int32
}

func (c *stateCell) Load() State {
	return State(c.v.Load())
}

func (c *stateCell) TransitionTo(from, to State) error {
	if !ValidTransition(from, to) {
		return gateerr.Errorf(gateerr.CodeClassifierStateTransitionBad,
			"invalid classifier transition %s -> %s", from, to)
	}
	if !c.v.CompareAndSwap(int32(from), int32(to)) {
		return gateerr.Errorf(gateerr.CodeClassifierStateTransitionBad,
			"classifier state is %s, not %s", c.Load(), from)
	}
	return nil
}
