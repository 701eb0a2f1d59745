// Package domain contains core concepts of the match negotiation and chat system.
// This file defines the match candidate state machine.
// The machine is pure: it never performs I/O and never evicts rows itself.
package domain

import (
	"cinematch/errors"
	"fmt"
)

// MatchStatus is the negotiation state of one match candidate.
type MatchStatus int

const (
	StatusNone MatchStatus = iota
	StatusPendingSent
	StatusPendingReceived
	StatusMatched
	StatusDeclined
)

var statusNames = map[MatchStatus]string{
	StatusNone:            "none",
	StatusPendingSent:     "pending_sent",
	StatusPendingReceived: "pending_received",
	StatusMatched:         "matched",
	StatusDeclined:        "declined",
}

// transitions lists every legal move. Anything absent is rejected.
var transitions = map[MatchStatus][]MatchStatus{
	StatusNone:            {StatusPendingSent, StatusPendingReceived, StatusDeclined},
	StatusPendingSent:     {StatusMatched, StatusDeclined},
	StatusPendingReceived: {StatusMatched, StatusDeclined},
	StatusMatched:         {},
	StatusDeclined:        {},
}

func (s MatchStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("MatchStatus(%d)", int(s))
}

// IsTerminal reports whether no transition can leave s.
func (s MatchStatus) IsTerminal() bool {
	return s == StatusMatched || s == StatusDeclined
}

func (s MatchStatus) Description() string {
	switch s {
	case StatusNone:
		return "No interaction yet"
	case StatusPendingSent:
		return "Waiting for their response"
	case StatusPendingReceived:
		return "They want to match with you!"
	case StatusMatched:
		return "It's a match!"
	case StatusDeclined:
		return "Declined"
	default:
		return "Unknown state"
	}
}

// ParseMatchStatus maps a remote status string onto the closed set of states.
// Unknown values yield StatusNone together with an error wrapping
// ErrUnknownMatchStatus, so callers choose between defaulting and failing.
func ParseMatchStatus(raw string) (MatchStatus, error) {
	for status, name := range statusNames {
		if name == raw {
			return status, nil
		}
	}
	return StatusNone, fmt.Errorf("%w: %q", errors.ErrUnknownMatchStatus, raw)
}

// TransitionError describes a rejected transition. It unwraps to ErrInvalidTransition.
type TransitionError struct {
	From MatchStatus
	To   MatchStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return errors.ErrInvalidTransition
}

func CanTransition(current, next MatchStatus) bool {
	for _, candidate := range transitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Transition returns next when the move is legal. Otherwise it returns current
// unchanged together with a *TransitionError.
func Transition(current, next MatchStatus) (MatchStatus, error) {
	if !CanTransition(current, next) {
		return current, &TransitionError{From: current, To: next}
	}
	return next, nil
}

// HandleAccept computes the target of a user "accept" action.
// none moves to pending_sent, pending_received moves to matched and
// pending_sent stays where it is. Terminal states are rejected.
func HandleAccept(current MatchStatus) (MatchStatus, error) {
	switch current {
	case StatusNone:
		return Transition(current, StatusPendingSent)
	case StatusPendingReceived:
		return Transition(current, StatusMatched)
	case StatusPendingSent:
		return current, nil
	default:
		return current, &TransitionError{From: current, To: StatusMatched}
	}
}

// HandleDecline targets declined from any non-terminal state.
func HandleDecline(current MatchStatus) (MatchStatus, error) {
	return Transition(current, StatusDeclined)
}

// HandleMutualMatchConfirmed targets matched. Only pending states may get there.
func HandleMutualMatchConfirmed(current MatchStatus) (MatchStatus, error) {
	if current != StatusPendingSent && current != StatusPendingReceived {
		return current, &TransitionError{From: current, To: StatusMatched}
	}
	return Transition(current, StatusMatched)
}

// ShouldRemoveFromList is true only for terminal states.
func ShouldRemoveFromList(s MatchStatus) bool {
	return s.IsTerminal()
}
