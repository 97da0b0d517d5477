package event

import "time"

// BrowserLaunched is published once the browser for a job is running.
type BrowserLaunched struct {
	baseJobEvent
	Remote bool
}

func NewBrowserLaunched(jobID string, remote bool) *BrowserLaunched {
	return &BrowserLaunched{
		baseJobEvent: baseJobEvent{jobID: jobID},
		Remote:       remote,
	}
}

func (e *BrowserLaunched) EventName() string {
	return "BrowserLaunched"
}

// RecordingProgress is published periodically while a video is recorded.
type RecordingProgress struct {
	baseJobEvent
	Frames  int
	Elapsed time.Duration
}

func NewRecordingProgress(jobID string, frames int, elapsed time.Duration) *RecordingProgress {
	return &RecordingProgress{
		baseJobEvent: baseJobEvent{jobID: jobID},
		Frames:       frames,
		Elapsed:      elapsed,
	}
}

func (e *RecordingProgress) EventName() string {
	return "RecordingProgress"
}

// TabFollowed is published when recording moves to a tab opened by the page.
type TabFollowed struct {
	baseJobEvent
	TargetID string
}

func NewTabFollowed(jobID, targetID string) *TabFollowed {
	return &TabFollowed{
		baseJobEvent: baseJobEvent{jobID: jobID},
		TargetID:     targetID,
	}
}

func (e *TabFollowed) EventName() string {
	return "TabFollowed"
}

// JobCompleted is published when the artifact of a job is ready.
type JobCompleted struct {
	baseJobEvent
	Mode     string
	FileName string
	Format   string
	Size     int
	Frames   int // zero for screenshots
	Elapsed  time.Duration
}

func NewJobCompleted(jobID, mode, fileName, format string, size, frames int, elapsed time.Duration) *JobCompleted {
	return &JobCompleted{
		baseJobEvent: baseJobEvent{jobID: jobID},
		Mode:         mode,
		FileName:     fileName,
		Format:       format,
		Size:         size,
		Frames:       frames,
		Elapsed:      elapsed,
	}
}

func (e *JobCompleted) EventName() string {
	return "JobCompleted"
}

// JobFailed is published when a job step fails.
type JobFailed struct {
	baseJobEvent
	Mode      string
	Operation string
	Error     error
	Elapsed   time.Duration
}

func NewJobFailed(jobID, mode, operation string, err error, elapsed time.Duration) *JobFailed {
	return &JobFailed{
		baseJobEvent: baseJobEvent{jobID: jobID},
		Mode:         mode,
		Operation:    operation,
		Error:        err,
		Elapsed:      elapsed,
	}
}

func (e *JobFailed) EventName() string {
	return "JobFailed"
}

// JobCancelled is published when a job was cancelled before completing.
type JobCancelled struct {
	baseJobEvent
	Mode    string
	Elapsed time.Duration
}

func NewJobCancelled(jobID, mode string, elapsed time.Duration) *JobCancelled {
	return &JobCancelled{
		baseJobEvent: baseJobEvent{jobID: jobID},
		Mode:         mode,
		Elapsed:      elapsed,
	}
}

func (e *JobCancelled) EventName() string {
	return "JobCancelled"
}
