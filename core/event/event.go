// Package event defines all events that can be published by capture jobs.
// Events represent progress and outcome of a job and are consumed by
// metrics, notification and transport layers.
package event

import "pagecap-go/core/state"

// Event is the base interface for all events.
type Event interface {
	// EventName returns the name of the event for logging/debugging
	EventName() string
}

// JobEvent is an event that originates from a specific capture job.
type JobEvent interface {
	Event
	// JobID returns the source job ID
	JobID() string
}

// baseJobEvent provides common implementation for job events.
type baseJobEvent struct {
	jobID string
}

func (e *baseJobEvent) JobID() string {
	return e.jobID
}

// JobQueued is published when a job has been accepted by the coordinator.
type JobQueued struct {
	baseJobEvent
	Mode string
	URL  string
}

func NewJobQueued(jobID, mode, url string) *JobQueued {
	return &JobQueued{
		baseJobEvent: baseJobEvent{jobID: jobID},
		Mode:         mode,
		URL:          url,
	}
}

func (e *JobQueued) EventName() string {
	return "JobQueued"
}

// JobStateChanged is published when a job's state changes.
type JobStateChanged struct {
	baseJobEvent
	OldState state.JobState
	NewState state.JobState
}

func NewJobStateChanged(jobID string, oldState, newState state.JobState) *JobStateChanged {
	return &JobStateChanged{
		baseJobEvent: baseJobEvent{jobID: jobID},
		OldState:     oldState,
		NewState:     newState,
	}
}

func (e *JobStateChanged) EventName() string {
	return "JobStateChanged"
}
