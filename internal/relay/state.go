// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package relay

import (
	"log/slog"

	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
)

// TurnState is a stage of one chat turn.
type TurnState int

const (
	StateInit TurnState = iota
	StateClassifying
	StateContextualizing
	StateStreaming
	StateFinalizing
	StateDone
	StateFailed
	StateCancelled
)

func (s TurnState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateClassifying:
		return "classifying"
	case StateContextualizing:
		return "contextualizing"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s TurnState) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

var validTransitions = map[TurnState][]TurnState{
	StateInit:            {StateClassifying},
	StateClassifying:     {StateContextualizing, StateCancelled},
	StateContextualizing: {StateStreaming, StateCancelled},
	StateStreaming:       {StateFinalizing, StateFailed, StateCancelled},
	StateFinalizing:      {StateDone, StateCancelled},
}

// ValidTransition reports whether from→to is an allowed transition.
func ValidTransition(from, to TurnState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// turn tracks one request's progress through the state machine. It is
// owned by a single goroutine.
type turn struct {
	sessionID string
	state     TurnState
	logger    *slog.Logger
}

func newTurn(sessionID string, start TurnState, logger *slog.Logger) *turn {
	return &turn{sessionID: sessionID, state: start, logger: logger}
}

func (t *turn) transitionTo(next TurnState) error {
	if !ValidTransition(t.state, next) {
		return gateerr.New(gateerr.CodeRelayTurnTransitionInvalid,
			"invalid turn transition "+t.state.String()+" → "+next.String(),
			gateerr.FieldSessionID(t.sessionID))
	}
	t.logger.Debug("turn transition", "session_id", t.sessionID, "from", t.state.String(), "to", next.String())
	t.state = next
	return nil
}
