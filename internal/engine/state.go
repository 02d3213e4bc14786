package engine

import "fmt"

// RequestState tracks a request through its lifecycle. Every request ends
// in exactly one terminal state; REVERSED is reachable only from APPLIED.
type RequestState string

const (
	StatePending    RequestState = "PENDING"
	StateValidating RequestState = "VALIDATING"
	StateApplied    RequestState = "APPLIED"
	StateRejected   RequestState = "REJECTED"
	StateReversed   RequestState = "REVERSED"
)

// InvalidTransitionError reports a lifecycle step the state machine forbids.
type InvalidTransitionError struct {
	From RequestState
	To   RequestState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid request state transition from %s to %s", e.From, e.To)
}

// AllowedTransitions defines the request state machine.
func AllowedTransitions() map[RequestState][]RequestState {
	return map[RequestState][]RequestState{
		StatePending:    {StateValidating},
		StateValidating: {StateApplied, StateRejected},
		StateApplied:    {StateReversed},
		StateRejected:   {},
		StateReversed:   {},
	}
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to RequestState) bool {
	for _, next := range AllowedTransitions()[from] {
		if next == to {
			return true
		}
	}
	return false
}

// lifecycle is the per-request state tracker the engine advances as it
// processes a submission.
type lifecycle struct {
	state RequestState
}

func newLifecycle() *lifecycle {
	return &lifecycle{state: StatePending}
}

func (l *lifecycle) advance(to RequestState) error {
	if !CanTransition(l.state, to) {
		return &InvalidTransitionError{From: l.state, To: to}
	}
	l.state = to
	return nil
}
