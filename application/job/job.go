// Package job runs a single capture: launch the browser, load the page,
// prepare it and take a screenshot or record a video, always releasing the
// browser and the recorder on the way out.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pagecap-go/core/event"
	"pagecap-go/core/eventbus"
	"pagecap-go/core/state"
	"pagecap-go/domain/capture"
	"pagecap-go/infrastructure/browser"
	"pagecap-go/infrastructure/encoder"
)

// Step names reported in JobFailed events.
const (
	StepLaunch      = "Launch"
	StepViewport    = "SetViewport"
	StepStartRecord = "StartRecording"
	StepNavigate    = "Navigate"
	StepPrepare     = "Prepare"
	StepScreenshot  = "Screenshot"
	StepRecord      = "Record"
	StepEncode      = "Encode"
)

// Job is one capture run. It is not reusable.
type Job struct {
	id     string
	params capture.Params

	state   state.JobState
	stateMu sync.RWMutex

	page     *PageController
	shots    *ScreenshotTaker
	recorder *Recorder

	eventBus    eventbus.EventBus
	logger      *slog.Logger
	settleDelay time.Duration
	remote      bool

	cancelMu  sync.Mutex
	cancel    context.CancelFunc
	cancelled bool
	startedAt time.Time
	done      chan struct{}
}

// Config holds configuration for creating a new Job.
type Config struct {
	ID     string
	Params capture.Params
	Driver browser.Driver
	// Encoder is required for video captures.
	Encoder  encoder.Encoder
	EventBus eventbus.EventBus
	Logger   *slog.Logger
	// SettleDelay is the pause after scaling that lets transitions finish.
	SettleDelay time.Duration
	// Remote marks a job attached to an already running browser.
	Remote bool
}

// New creates a new Job. Params must already be normalized and validated.
func New(cfg *Config) *Job {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	logger := cfg.Logger.With("job_id", cfg.ID, "mode", string(cfg.Params.Mode), "url", cfg.Params.URL)

	j := &Job{
		id:          cfg.ID,
		params:      cfg.Params,
		state:       state.StatePending,
		page:        NewPageController(cfg.Driver, logger),
		shots:       NewScreenshotTaker(cfg.Driver, logger),
		eventBus:    cfg.EventBus,
		logger:      logger,
		settleDelay: cfg.SettleDelay,
		remote:      cfg.Remote,
		done:        make(chan struct{}),
	}

	if cfg.Params.Mode == capture.ModeVideo && cfg.Encoder != nil {
		j.recorder = NewRecorder(cfg.Driver, cfg.Encoder, logger)
		j.recorder.OnProgress = func(frames int, elapsed time.Duration) {
			j.publishEvent(event.NewRecordingProgress(j.id, frames, elapsed))
		}
		j.recorder.OnTabFollowed = func(targetID string) {
			j.logger.Info("Recording follows new tab", "target_id", targetID)
			j.publishEvent(event.NewTabFollowed(j.id, targetID))
		}
	}

	return j
}

// ID returns the job ID.
func (j *Job) ID() string {
	return j.id
}

// Params returns the capture parameters.
func (j *Job) Params() capture.Params {
	return j.params
}

// State returns the current job state.
func (j *Job) State() state.JobState {
	j.stateMu.RLock()
	defer j.stateMu.RUnlock()
	return j.state
}

// StartedAt returns when Run was called; zero before that.
func (j *Job) StartedAt() time.Time {
	j.cancelMu.Lock()
	defer j.cancelMu.Unlock()
	return j.startedAt
}

// Done is closed when Run returns.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Cancel aborts the job. Cancelling before Run makes Run return immediately.
func (j *Job) Cancel() {
	j.cancelMu.Lock()
	defer j.cancelMu.Unlock()
	j.cancelled = true
	if j.cancel != nil {
		j.cancel()
	}
}

// Run executes the capture. Any failure is returned as *capture.OperationError.
func (j *Job) Run(ctx context.Context) (*capture.Artifact, error) {
	defer close(j.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	j.cancelMu.Lock()
	j.cancel = cancel
	j.startedAt = time.Now()
	if j.cancelled {
		cancel()
	}
	started := j.startedAt
	j.cancelMu.Unlock()

	j.logger.Info("Capture started")

	artifact, step, err := j.run(ctx)
	elapsed := time.Since(started)
	mode := string(j.params.Mode)

	if err != nil {
		if j.isCancellation(err) {
			j.transitionTo(state.StateCancelled)
			j.publishEvent(event.NewJobCancelled(j.id, mode, elapsed))
			j.logger.Info("Capture cancelled", "step", step, "elapsed", elapsed)
			return nil, capture.NewOperationError(j.params.Mode, capture.ErrCancelled)
		}

		j.transitionTo(state.StateFailed)
		j.publishEvent(event.NewJobFailed(j.id, mode, step, err, elapsed))
		j.logger.Error("Capture failed", "step", step, "error", err, "elapsed", elapsed)
		return nil, capture.NewOperationError(j.params.Mode, err)
	}

	frames := 0
	if j.recorder != nil {
		frames = j.recorder.Frames()
	}

	j.transitionTo(state.StateCompleted)
	j.publishEvent(event.NewJobCompleted(j.id, mode, artifact.FileName, artifact.Format, artifact.Size(), frames, elapsed))
	j.logger.Info("Capture completed", "file", artifact.FileName, "size", artifact.Size(), "frames", frames, "elapsed", elapsed)

	return artifact, nil
}

// run performs the capture steps and returns the failing step name with the error.
func (j *Job) run(ctx context.Context) (*capture.Artifact, string, error) {
	p := &j.params
	video := p.Mode == capture.ModeVideo

	if video && j.recorder == nil {
		return nil, StepStartRecord, fmt.Errorf("%w %q", encoder.ErrEncoderUnavailable, p.VideoFormat)
	}

	defer j.cleanup()

	if err := ctx.Err(); err != nil {
		return nil, StepLaunch, err
	}

	j.transitionTo(state.StateLaunching)
	if err := j.page.Launch(ctx); err != nil {
		return nil, StepLaunch, err
	}
	j.publishEvent(event.NewBrowserLaunched(j.id, j.remote))

	// The viewport is sized before navigation so the page lays out once at the target size.
	if err := j.page.SetViewport(ctx, p.Width, p.Height); err != nil {
		return nil, StepViewport, err
	}

	if video && p.RecordNavigation {
		j.transitionTo(state.StateCapturing)
		if err := j.recorder.Start(ctx, p); err != nil {
			return nil, StepStartRecord, err
		}
	}

	j.transitionTo(state.StateLoading)
	if err := j.page.Load(ctx, p.URL); err != nil {
		return nil, StepNavigate, err
	}

	j.transitionTo(state.StatePreparing)
	if err := j.page.Prepare(ctx, p.ScaleFactor(), j.settleDelay, p.InitialDelayValue()); err != nil {
		return nil, StepPrepare, err
	}

	j.transitionTo(state.StateCapturing)
	fileName := p.ResolveFileName(time.Now())

	if !video {
		data, err := j.shots.Take(ctx, p)
		if err != nil {
			return nil, StepScreenshot, err
		}
		return capture.NewArtifact(p, fileName, data), "", nil
	}

	if !j.recorder.Started() {
		if err := j.recorder.Start(ctx, p); err != nil {
			return nil, StepStartRecord, err
		}
	}
	if err := j.recorder.Record(ctx, p.TotalFrames()); err != nil {
		return nil, StepRecord, err
	}

	j.transitionTo(state.StateEncoding)
	data, err := j.recorder.Finish()
	if err != nil {
		return nil, StepEncode, err
	}
	if len(data) == 0 {
		return nil, StepEncode, errors.New("encoder produced no output")
	}
	return capture.NewArtifact(p, fileName, data), "", nil
}

// cleanup releases the recorder and the browser. Errors are logged only.
func (j *Job) cleanup() {
	if j.recorder != nil {
		j.recorder.Abort()
	}
	if err := j.page.Close(); err != nil {
		j.logger.Warn("Failed to stop browser", "error", err)
	}
}

func (j *Job) isCancellation(err error) bool {
	j.cancelMu.Lock()
	cancelled := j.cancelled
	j.cancelMu.Unlock()
	return cancelled || capture.IsCancellation(err)
}

// State transition helpers

func (j *Job) transitionTo(newState state.JobState) error {
	j.stateMu.Lock()
	oldState := j.state

	if !oldState.CanTransitionTo(newState) {
		j.stateMu.Unlock()
		j.logger.Warn("Invalid state transition", "from", oldState, "to", newState)
		return state.NewTransitionError(oldState, newState, "invalid transition")
	}

	j.state = newState
	j.stateMu.Unlock()

	j.publishEvent(event.NewJobStateChanged(j.id, oldState, newState))
	j.logger.Debug("State changed", "from", oldState, "to", newState)

	return nil
}

func (j *Job) publishEvent(e event.Event) {
	if j.eventBus != nil {
		j.eventBus.Publish(e)
	}
}
