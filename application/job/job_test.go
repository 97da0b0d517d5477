package job

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"pagecap-go/core/event"
	"pagecap-go/core/state"
	"pagecap-go/domain/capture"
	"pagecap-go/infrastructure/browser"
	"pagecap-go/infrastructure/encoder"
)

func screenshotParams() capture.Params {
	p := capture.DefaultParams()
	p.Mode = capture.ModeScreenshot
	p.URL = "https://example.com"
	return p
}

func videoParams() capture.Params {
	p := capture.DefaultParams()
	p.URL = "https://example.com"
	p.FrameRate = 50
	p.Duration = 0.1
	return p
}

func newTestJob(p capture.Params, driver *mockDriver, enc encoder.Encoder, bus *recordingBus) *Job {
	return New(&Config{
		ID:       "job-1",
		Params:   p,
		Driver:   driver,
		Encoder:  enc,
		EventBus: bus,
	})
}

func TestJob_Screenshot(t *testing.T) {
	driver := newMockDriver()
	bus := &recordingBus{}
	p := screenshotParams()
	p.ImageFormat = capture.ImageJPEG
	p.ImageQuality = 70
	p.FullPage = true
	p.OutputFileName = "home"

	j := newTestJob(p, driver, nil, bus)
	artifact, err := j.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if string(artifact.Data) != "image-bytes" {
		t.Errorf("Data = %q", artifact.Data)
	}
	if artifact.FileName != "home.jpeg" || artifact.MimeType != "image/jpeg" {
		t.Errorf("artifact = %s (%s)", artifact.FileName, artifact.MimeType)
	}
	if artifact.Metadata["fullPage"] != true {
		t.Errorf("metadata = %v", artifact.Metadata)
	}

	wantCalls := []string{"Start", "SetViewport", "Navigate", "Screenshot", "Stop"}
	if got := driver.callLog(); !reflect.DeepEqual(got, wantCalls) {
		t.Errorf("driver calls = %v, want %v", got, wantCalls)
	}
	if driver.viewport != [2]int{1280, 720} {
		t.Errorf("viewport = %v", driver.viewport)
	}
	if opts := driver.shotOpts[0]; opts.Format != "jpeg" || opts.Quality != 70 || !opts.FullPage {
		t.Errorf("screenshot options = %+v", opts)
	}

	wantStates := []string{"Launching", "Loading", "Preparing", "Capturing", "Completed"}
	if got := bus.states(); !reflect.DeepEqual(got, wantStates) {
		t.Errorf("states = %v, want %v", got, wantStates)
	}
	if j.State() != state.StateCompleted {
		t.Errorf("State() = %v", j.State())
	}

	names := bus.names()
	if names[len(names)-1] != "JobCompleted" {
		t.Errorf("last event = %s, want JobCompleted", names[len(names)-1])
	}
	if !waitClosed(j.Done(), time.Second) {
		t.Error("Done() not closed after Run")
	}
}

func TestJob_ScreenshotPNGHasNoQuality(t *testing.T) {
	driver := newMockDriver()
	j := newTestJob(screenshotParams(), driver, nil, &recordingBus{})

	if _, err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if q := driver.shotOpts[0].Quality; q != 0 {
		t.Errorf("png quality = %d, want 0", q)
	}
}

func TestJob_AppliesScale(t *testing.T) {
	driver := newMockDriver()
	p := screenshotParams()
	p.Scale = "125%"

	if _, err := newTestJob(p, driver, nil, &recordingBus{}).Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !reflect.DeepEqual(driver.scales, []float64{1.25}) {
		t.Errorf("scales = %v, want [1.25]", driver.scales)
	}
}

func TestJob_NavigationFailure(t *testing.T) {
	driver := newMockDriver()
	driver.navErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	bus := &recordingBus{}

	j := newTestJob(screenshotParams(), driver, nil, bus)
	artifact, err := j.Run(context.Background())
	if artifact != nil {
		t.Error("artifact should be nil on failure")
	}

	var opErr *capture.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("error = %T %v, want *capture.OperationError", err, err)
	}
	if err.Error() != "Operation failed: net::ERR_NAME_NOT_RESOLVED" {
		t.Errorf("Error() = %q", err.Error())
	}
	if opErr.Description() != "Error occurred while capturing website" {
		t.Errorf("Description() = %q", opErr.Description())
	}

	if driver.IsRunning() || driver.stopCalled != 1 {
		t.Error("browser must be stopped after a failure")
	}
	if j.State() != state.StateFailed {
		t.Errorf("State() = %v, want Failed", j.State())
	}

	var failed *event.JobFailed
	for _, e := range bus.all() {
		if f, ok := e.(*event.JobFailed); ok {
			failed = f
		}
	}
	if failed == nil || failed.Operation != StepNavigate {
		t.Fatalf("JobFailed event = %+v", failed)
	}
}

func TestJob_LaunchFailure(t *testing.T) {
	driver := newMockDriver()
	driver.startErr = errors.New("chrome not found")
	bus := &recordingBus{}

	_, err := newTestJob(videoParams(), driver, &mockEncoder{}, bus).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "chrome not found") {
		t.Fatalf("Run() error = %v", err)
	}

	wantStates := []string{"Launching", "Failed"}
	if got := bus.states(); !reflect.DeepEqual(got, wantStates) {
		t.Errorf("states = %v, want %v", got, wantStates)
	}
}

func TestJob_Video(t *testing.T) {
	driver := newMockDriver()
	driver.frames <- browser.Frame{Data: []byte("frame-1"), Timestamp: time.Now()}
	enc := &mockEncoder{}
	bus := &recordingBus{}

	p := videoParams()
	p.VideoFormat = capture.VideoWebM
	p.VideoQuality = 60

	j := newTestJob(p, driver, enc, bus)
	artifact, err := j.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if string(artifact.Data) != "video-bytes" || !strings.HasSuffix(artifact.FileName, ".webm") {
		t.Errorf("artifact = %s %q", artifact.FileName, artifact.Data)
	}
	if got := enc.Frames(); got != p.TotalFrames() {
		t.Errorf("encoded frames = %d, want %d", got, p.TotalFrames())
	}
	if enc.settings != (encoder.Settings{Width: 1280, Height: 720, FPS: 50, Quality: 60, Format: "webm"}) {
		t.Errorf("settings = %+v", enc.settings)
	}
	if !enc.ended || enc.aborted {
		t.Errorf("encoder ended=%v aborted=%v, want ended only", enc.ended, enc.aborted)
	}
	if driver.castOpts.Quality != 60 || driver.castOpts.MaxWidth != 1280 || !driver.castOpts.FollowNewTab {
		t.Errorf("screencast options = %+v", driver.castOpts)
	}
	if driver.castStopped != 1 || driver.IsRunning() {
		t.Error("screencast and browser must be stopped")
	}

	wantStates := []string{"Launching", "Loading", "Preparing", "Capturing", "Encoding", "Completed"}
	if got := bus.states(); !reflect.DeepEqual(got, wantStates) {
		t.Errorf("states = %v, want %v", got, wantStates)
	}

	var completed *event.JobCompleted
	for _, e := range bus.all() {
		if c, ok := e.(*event.JobCompleted); ok {
			completed = c
		}
	}
	if completed == nil || completed.Frames != 5 || completed.Format != "webm" {
		t.Errorf("JobCompleted = %+v", completed)
	}
}

func TestJob_RecordNavigation(t *testing.T) {
	driver := newMockDriver()
	bus := &recordingBus{}
	p := videoParams()
	p.RecordNavigation = true

	if _, err := newTestJob(p, driver, &mockEncoder{}, bus).Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	calls := driver.callLog()
	castAt, navAt := -1, -1
	for i, c := range calls {
		if c == "StartScreencast" && castAt < 0 {
			castAt = i
		}
		if c == "Navigate" {
			navAt = i
		}
	}
	if castAt < 0 || navAt < 0 || castAt > navAt {
		t.Errorf("screencast must start before navigation, calls = %v", calls)
	}

	wantStates := []string{"Launching", "Capturing", "Loading", "Preparing", "Capturing", "Encoding", "Completed"}
	if got := bus.states(); !reflect.DeepEqual(got, wantStates) {
		t.Errorf("states = %v, want %v", got, wantStates)
	}
}

func TestJob_TabFollowedEvent(t *testing.T) {
	driver := newMockDriver()
	driver.tabTarget = "target-2"
	bus := &recordingBus{}

	if _, err := newTestJob(videoParams(), driver, &mockEncoder{}, bus).Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	found := false
	for _, e := range bus.all() {
		if tf, ok := e.(*event.TabFollowed); ok && tf.TargetID == "target-2" {
			found = true
		}
	}
	if !found {
		t.Error("expected TabFollowed event")
	}
}

func TestJob_VideoWithoutEncoder(t *testing.T) {
	driver := newMockDriver()

	_, err := newTestJob(videoParams(), driver, nil, &recordingBus{}).Run(context.Background())
	if !errors.Is(err, encoder.ErrEncoderUnavailable) {
		t.Errorf("Run() error = %v, want ErrEncoderUnavailable", err)
	}
	if len(driver.callLog()) != 0 {
		t.Error("browser must not be launched without an encoder")
	}
}

func TestJob_EncoderBeginFailure(t *testing.T) {
	driver := newMockDriver()
	enc := &mockEncoder{beginErr: errors.New("ffmpeg: exec format error")}
	bus := &recordingBus{}

	_, err := newTestJob(videoParams(), driver, enc, bus).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed to start encoder") {
		t.Fatalf("Run() error = %v", err)
	}
	if driver.IsRunning() {
		t.Error("browser must be stopped")
	}
}

func TestJob_EncodeEndFailure(t *testing.T) {
	driver := newMockDriver()
	enc := &mockEncoder{endErr: errors.New("ffmpeg exited with status 1")}
	bus := &recordingBus{}

	_, err := newTestJob(videoParams(), driver, enc, bus).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	for _, e := range bus.all() {
		if f, ok := e.(*event.JobFailed); ok && f.Operation != StepEncode {
			t.Errorf("Operation = %s, want %s", f.Operation, StepEncode)
		}
	}
}

func TestJob_Cancel(t *testing.T) {
	driver := newMockDriver()
	driver.blockNavigate = true
	bus := &recordingBus{}

	j := newTestJob(screenshotParams(), driver, nil, bus)

	errCh := make(chan error, 1)
	go func() {
		_, err := j.Run(context.Background())
		errCh <- err
	}()

	if !waitClosed(driver.navigating, time.Second) {
		t.Fatal("navigation did not start")
	}
	j.Cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, capture.ErrCancelled) {
			t.Errorf("Run() error = %v, want ErrCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Cancel")
	}

	if j.State() != state.StateCancelled {
		t.Errorf("State() = %v, want Cancelled", j.State())
	}
	if driver.IsRunning() {
		t.Error("browser must be stopped after cancellation")
	}

	names := bus.names()
	if names[len(names)-1] != "JobCancelled" {
		t.Errorf("last event = %s, want JobCancelled", names[len(names)-1])
	}
}

func TestJob_CancelBeforeRun(t *testing.T) {
	driver := newMockDriver()
	j := newTestJob(screenshotParams(), driver, nil, &recordingBus{})
	j.Cancel()

	_, err := j.Run(context.Background())
	if !errors.Is(err, capture.ErrCancelled) {
		t.Errorf("Run() error = %v, want ErrCancelled", err)
	}
	if len(driver.callLog()) != 0 {
		t.Errorf("driver calls = %v, want none", driver.callLog())
	}
}

func TestJob_TimeoutIsFailure(t *testing.T) {
	driver := newMockDriver()
	driver.blockNavigate = true
	bus := &recordingBus{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	j := newTestJob(screenshotParams(), driver, nil, bus)
	_, err := j.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want DeadlineExceeded", err)
	}
	if j.State() != state.StateFailed {
		t.Errorf("State() = %v, want Failed", j.State())
	}
}

func TestJob_InitialDelay(t *testing.T) {
	driver := newMockDriver()
	p := screenshotParams()
	p.InitialDelay = 0.05

	j := New(&Config{ID: "job-1", Params: p, Driver: driver, SettleDelay: 20 * time.Millisecond})

	start := time.Now()
	if _, err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("Run() took %v, want at least settle + initial delay", elapsed)
	}
}
