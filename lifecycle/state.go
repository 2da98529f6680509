// Package lifecycle implements the guarded state machine that governs how a
// job moves from creation to payment. Every state change goes through the
// Engine, which validates the edge against the transition table, serializes
// writers per job, and records an audit row in the same transaction as the
// state write.
package lifecycle

import "github.com/DKmica/TreeProAIv2-sub008/errors"

// State is a job's lifecycle state.
type State string

const (
	StateDraft           State = "Draft"
	StateNeedsPermit     State = "NeedsPermit"
	StateWaitingOnClient State = "WaitingOnClient"
	StateScheduled       State = "Scheduled"
	StateEnRoute         State = "EnRoute"
	StateOnSite          State = "OnSite"
	StateWeatherHold     State = "WeatherHold"
	StateInProgress      State = "InProgress"
	StateCompleted       State = "Completed"
	StateInvoiced        State = "Invoiced"
	StatePaid            State = "Paid"
	StateCancelled       State = "Cancelled"
)

// AllStates lists every lifecycle state in rough progression order.
var AllStates = []State{
	StateDraft,
	StateNeedsPermit,
	StateWaitingOnClient,
	StateScheduled,
	StateEnRoute,
	StateOnSite,
	StateWeatherHold,
	StateInProgress,
	StateCompleted,
	StateInvoiced,
	StatePaid,
	StateCancelled,
}

// Valid reports whether s is a member of the state set.
func (s State) Valid() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing edges.
func (s State) Terminal() bool {
	return s == StatePaid || s == StateCancelled
}

func (s State) String() string {
	return string(s)
}

// ParseState converts a string into a State, rejecting unknown values.
func ParseState(raw string) (State, error) {
	s := State(raw)
	if !s.Valid() {
		return "", errors.Newf("unknown job state %q", raw)
	}
	return s, nil
}
