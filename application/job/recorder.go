package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pagecap-go/domain/capture"
	"pagecap-go/infrastructure/browser"
	"pagecap-go/infrastructure/encoder"
)

var (
	errRecorderNotStarted = errors.New("recorder not started")
	errRecorderStarted    = errors.New("recorder already started")
)

// Recorder turns the browser screencast into a constant frame rate video.
// Screencast frames only arrive when the page repaints, so on every tick the
// most recent frame is written again until the requested count is reached.
type Recorder struct {
	driver browser.Driver
	enc    encoder.Encoder
	logger *slog.Logger

	// OnProgress is called once per second of recorded video.
	OnProgress func(frames int, elapsed time.Duration)

	// OnTabFollowed is called when the screencast moved to a new tab.
	OnTabFollowed func(targetID string)

	mu        sync.Mutex
	started   bool
	stopped   bool
	finished  bool
	target    int
	written   int
	err       error
	reached   chan struct{}
	done      chan struct{}
	cancel    context.CancelFunc
	encCancel context.CancelFunc
	fps       int
	quality   int
	startedAt time.Time
}

// NewRecorder creates a recorder writing into enc.
func NewRecorder(driver browser.Driver, enc encoder.Encoder, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		driver: driver,
		enc:    enc,
		logger: logger,
	}
}

// Start begins the encoder and the screencast and starts sampling frames.
// Frames are written until Record's target is reached or the recorder stops.
func (r *Recorder) Start(ctx context.Context, p *capture.Params) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errRecorderStarted
	}
	r.mu.Unlock()

	settings := encoder.Settings{
		Width:   p.Width,
		Height:  p.Height,
		FPS:     p.FrameRate,
		Quality: p.VideoQuality,
		Format:  p.VideoFormat,
	}
	// Abort cancels encCtx before waiting for the sampler, so a stalled
	// encoder process is killed instead of blocking a frame write forever.
	encCtx, encCancel := context.WithCancel(ctx)
	if err := r.enc.Begin(encCtx, settings); err != nil {
		encCancel()
		return fmt.Errorf("failed to start encoder: %w", err)
	}

	frames, err := r.driver.StartScreencast(ctx, browser.ScreencastOptions{
		Quality:       p.VideoQuality,
		MaxWidth:      p.Width,
		MaxHeight:     p.Height,
		EveryNthFrame: 1,
		FollowNewTab:  p.FollowNewTab,
		OnTabFollowed: r.OnTabFollowed,
	})
	if err != nil {
		encCancel()
		r.enc.Abort()
		return fmt.Errorf("failed to start screencast: %w", err)
	}

	sampleCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.started = true
	r.cancel = cancel
	r.encCancel = encCancel
	r.reached = make(chan struct{})
	r.done = make(chan struct{})
	r.fps = p.FrameRate
	r.quality = p.VideoQuality
	r.startedAt = time.Now()
	r.mu.Unlock()

	go r.sample(sampleCtx, frames, time.Second/time.Duration(p.FrameRate))

	r.logger.Debug("Recording started", "fps", p.FrameRate, "format", p.VideoFormat)
	return nil
}

// Record blocks until n more frames have been written.
func (r *Recorder) Record(ctx context.Context, n int) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return errRecorderNotStarted
	}
	if !r.finished {
		r.target = r.written + n
	}
	reached := r.reached
	r.mu.Unlock()

	select {
	case <-reached:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish stops recording and returns the encoded video.
func (r *Recorder) Finish() ([]byte, error) {
	if !r.stop(false) {
		return nil, errRecorderNotStarted
	}
	defer r.encCancel()
	return r.enc.End()
}

// Abort stops recording and discards the video. Safe to call at any time.
func (r *Recorder) Abort() {
	if r.stop(true) {
		r.enc.Abort()
		r.encCancel()
	}
}

// Started reports whether Start succeeded.
func (r *Recorder) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Frames returns the number of frames written.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// stop ends sampling and the screencast once. With kill the encoder context
// is cancelled first. It returns false if the recorder never started or was
// already stopped.
func (r *Recorder) stop(kill bool) bool {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return false
	}
	r.stopped = true
	cancel, encCancel, done := r.cancel, r.encCancel, r.done
	r.mu.Unlock()

	cancel()
	if kill {
		encCancel()
	}
	<-done

	if r.driver.IsScreencasting() {
		if err := r.driver.StopScreencast(); err != nil {
			r.logger.Warn("Failed to stop screencast", "error", err)
		}
	}
	return true
}

func (r *Recorder) sample(ctx context.Context, frames <-chan browser.Frame, interval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var latest []byte
	for {
		select {
		case <-ctx.Done():
			r.fail(ctx.Err())
			return

		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			if len(f.Data) > 0 {
				latest = f.Data
			}

		case <-ticker.C:
			if latest == nil {
				seed, err := r.seed(ctx)
				if err != nil {
					r.fail(fmt.Errorf("failed to capture first frame: %w", err))
					return
				}
				latest = seed
			}
			if err := r.enc.EncodeFrame(latest); err != nil {
				r.fail(fmt.Errorf("failed to encode frame: %w", err))
				return
			}
			if r.advance() {
				return
			}
		}
	}
}

// seed grabs a JPEG of the page for ticks before the first screencast frame.
func (r *Recorder) seed(ctx context.Context) ([]byte, error) {
	data, err := r.driver.Screenshot(ctx, browser.ScreenshotOptions{
		Format:  browser.FormatJPEG,
		Quality: r.quality,
	})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errEmptyScreenshot
	}
	return data, nil
}

// advance counts a written frame and reports whether the target is reached.
func (r *Recorder) advance() bool {
	r.mu.Lock()
	r.written++
	n := r.written
	reached := r.target > 0 && n >= r.target
	if reached && !r.finished {
		r.finished = true
		close(r.reached)
	}
	fps, elapsed := r.fps, time.Since(r.startedAt)
	r.mu.Unlock()

	if r.OnProgress != nil && fps > 0 && n%fps == 0 {
		r.OnProgress(n, elapsed)
	}
	return reached
}

// fail records the first error unless the target was already reached.
func (r *Recorder) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.finished = true
	r.err = err
	close(r.reached)
}
