// Package state defines the capture job state machine.
package state

import "fmt"

// JobState represents the state of a capture job.
type JobState int

const (
	// StatePending is the initial state before the job starts.
	StatePending JobState = iota
	// StateLaunching indicates the browser is being started.
	StateLaunching
	// StateLoading indicates the target page is being navigated to.
	StateLoading
	// StatePreparing indicates scaling, settling and the initial delay.
	StatePreparing
	// StateCapturing indicates a screenshot or recording is in progress.
	StateCapturing
	// StateEncoding indicates recorded frames are being finalized into a video.
	StateEncoding
	// StateCompleted indicates the artifact is ready.
	StateCompleted
	// StateFailed indicates the job ended with an error.
	StateFailed
	// StateCancelled indicates the job was cancelled by the caller.
	StateCancelled
)

// String returns the string representation of the state.
func (s JobState) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateLaunching:
		return "Launching"
	case StateLoading:
		return "Loading"
	case StatePreparing:
		return "Preparing"
	case StateCapturing:
		return "Capturing"
	case StateEncoding:
		return "Encoding"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	case StateCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// validTransitions defines the allowed state transitions.
// Capturing may start before Loading when navigation itself is recorded.
var validTransitions = map[JobState][]JobState{
	StatePending:   {StateLaunching, StateFailed, StateCancelled},
	StateLaunching: {StateLoading, StateCapturing, StateFailed, StateCancelled},
	StateLoading:   {StatePreparing, StateFailed, StateCancelled},
	StatePreparing: {StateCapturing, StateEncoding, StateFailed, StateCancelled},
	StateCapturing: {StateLoading, StatePreparing, StateEncoding, StateCompleted, StateFailed, StateCancelled},
	StateEncoding:  {StateCompleted, StateFailed, StateCancelled},
	StateCompleted: {},
	StateFailed:    {},
	StateCancelled: {},
}

// CanTransitionTo checks if transitioning from the current state to the target state is valid.
func (s JobState) CanTransitionTo(target JobState) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// ValidTransitions returns the list of valid target states from the current state.
func (s JobState) ValidTransitions() []JobState {
	return validTransitions[s]
}

// IsTerminal returns true if no further transitions are possible.
func (s JobState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// IsActive returns true while the job holds a browser.
func (s JobState) IsActive() bool {
	return s != StatePending && !s.IsTerminal()
}

// TransitionError represents an invalid state transition attempt.
type TransitionError struct {
	From   JobState
	To     JobState
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid state transition from %s to %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

// NewTransitionError creates a new TransitionError.
func NewTransitionError(from, to JobState, reason string) *TransitionError {
	return &TransitionError{From: from, To: to, Reason: reason}
}
