// Package command defines all commands that can be sent to the application.
// Commands represent caller intentions and are processed by the coordinator.
package command

import "pagecap-go/domain/capture"

// Command is the base interface for all commands.
// Commands are sent from the presentation layer to the application layer.
type Command interface {
	// CommandName returns the name of the command for logging/debugging
	CommandName() string
}

// JobCommand is a command that targets a specific capture job.
type JobCommand interface {
	Command
	// JobID returns the target job ID
	JobID() string
}

// baseJobCommand provides common implementation for job commands.
type baseJobCommand struct {
	jobID string
}

func (c *baseJobCommand) JobID() string {
	return c.jobID
}

// StartCapture requests a new capture job.
// If JobID is empty the coordinator assigns one.
type StartCapture struct {
	baseJobCommand
	Params capture.Params
}

func NewStartCapture(jobID string, params capture.Params) *StartCapture {
	return &StartCapture{
		baseJobCommand: baseJobCommand{jobID: jobID},
		Params:         params,
	}
}

func (c *StartCapture) CommandName() string {
	return "StartCapture"
}

// CancelCapture requests cancellation of a running job.
type CancelCapture struct {
	baseJobCommand
}

func NewCancelCapture(jobID string) *CancelCapture {
	return &CancelCapture{baseJobCommand: baseJobCommand{jobID: jobID}}
}

func (c *CancelCapture) CommandName() string {
	return "CancelCapture"
}

// CancelAllCaptures requests cancellation of every running job.
type CancelAllCaptures struct{}

func (c *CancelAllCaptures) CommandName() string {
	return "CancelAllCaptures"
}
