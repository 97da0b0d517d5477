package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pagecap-go/core/command"
	"pagecap-go/core/event"
	"pagecap-go/core/eventbus"
	"pagecap-go/domain/capture"
	"pagecap-go/domain/preset"
	"pagecap-go/infrastructure/encoder"
)

type eventLog struct {
	mu    sync.Mutex
	names []string
}

func (l *eventLog) handle(e event.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, e.EventName())
}

func (l *eventLog) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, got := range l.names {
		if got == name {
			n++
		}
	}
	return n
}

func newTestCoordinator(t *testing.T, factory *stubFactory, mutate func(cfg *CoordinatorConfig)) (*Coordinator, eventbus.EventBus, *eventLog) {
	t.Helper()

	bus := eventbus.New(256)
	log := &eventLog{}
	bus.Subscribe(log.handle)

	cfg := &CoordinatorConfig{
		EventBus:      bus,
		DriverFactory: factory.NewDriver,
		EncoderFactory: func(format string) (encoder.Encoder, error) {
			return &stubEncoder{}, nil
		},
		MaxConcurrent: 1,
		MaxDuration:   time.Minute,
		StopTimeout:   time.Second,
	}
	if mutate != nil {
		mutate(cfg)
	}

	coord := NewCoordinator(cfg)
	coord.Start()
	t.Cleanup(func() {
		coord.Stop()
		bus.Close()
	})
	return coord, bus, log
}

func screenshotParams(url string) capture.Params {
	p := capture.DefaultParams()
	p.Mode = capture.ModeScreenshot
	p.URL = url
	return p
}

func waitFor(t *testing.T, cond func() bool, d time.Duration) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestNewCoordinator(t *testing.T) {
	coord := NewCoordinator(&CoordinatorConfig{})
	defer coord.Stop()

	if coord.JobCount() != 0 {
		t.Errorf("JobCount() = %d, want 0", coord.JobCount())
	}
	if coord.Presets() == nil {
		t.Error("Presets() should default to an empty registry")
	}
	if coord.History() != nil {
		t.Error("History() should be nil when not configured")
	}
	if coord.maxConcurrent != 1 {
		t.Errorf("maxConcurrent = %d, want 1", coord.maxConcurrent)
	}
	if len(coord.Jobs()) != 0 {
		t.Error("Jobs() should be empty")
	}
}

func TestCoordinator_Execute_Screenshot(t *testing.T) {
	repo := newMemoryRepo()
	factory := newStubFactory()
	coord, bus, log := newTestCoordinator(t, factory, func(cfg *CoordinatorConfig) {
		cfg.History = capture.NewService(repo, nil, nil)
	})

	p := screenshotParams("https://example.com")
	p.ImageFormat = "JPG"

	artifact, err := coord.Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if string(artifact.Data) != "shot:jpeg" {
		t.Errorf("artifact data = %q, want shot:jpeg", artifact.Data)
	}
	if artifact.MimeType != "image/jpeg" {
		t.Errorf("MimeType = %q, want image/jpeg", artifact.MimeType)
	}
	if coord.JobCount() != 0 {
		t.Errorf("JobCount() = %d after Execute, want 0", coord.JobCount())
	}

	recs, err := coord.History().ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRecent() error: %v", err)
	}
	if len(recs) != 1 || recs[0].State != "completed" {
		t.Fatalf("history = %+v, want one completed record", recs)
	}

	bus.Close()
	if log.count("JobQueued") != 1 || log.count("JobCompleted") != 1 {
		t.Errorf("events = %v, want JobQueued and JobCompleted", log.names)
	}
}

func TestCoordinator_Execute_Video(t *testing.T) {
	factory := newStubFactory()
	coord, _, _ := newTestCoordinator(t, factory, nil)

	p := capture.DefaultParams()
	p.URL = "https://example.com"
	p.Duration = 0.1
	p.FrameRate = 20

	artifact, err := coord.Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if string(artifact.Data) != "video" || artifact.Format != capture.VideoMP4 {
		t.Errorf("artifact = %q (%s), want mp4 video", artifact.Data, artifact.Format)
	}
}

func TestCoordinator_Execute_InvalidParams(t *testing.T) {
	factory := newStubFactory()
	coord, _, _ := newTestCoordinator(t, factory, nil)

	_, err := coord.Execute(context.Background(), screenshotParams(""))

	var opErr *capture.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("error = %v, want *capture.OperationError", err)
	}
	var vErr *capture.ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("error = %v, want a ValidationError inside", err)
	}
	if created, _ := factory.counts(); created != 0 {
		t.Errorf("created %d drivers for invalid params", created)
	}
}

func TestCoordinator_Execute_MaxDuration(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, newStubFactory(), nil)

	p := capture.DefaultParams()
	p.URL = "https://example.com"
	p.Duration = 120

	if _, err := coord.Execute(context.Background(), p); err == nil || !strings.Contains(err.Error(), "must not exceed") {
		t.Errorf("Execute() error = %v, want duration cap error", err)
	}
}

func TestCoordinator_Execute_DriverFactoryError(t *testing.T) {
	factory := newStubFactory()
	factory.newErr = errors.New("remote browser endpoint is unhealthy")
	coord, _, _ := newTestCoordinator(t, factory, nil)

	_, err := coord.Execute(context.Background(), screenshotParams("https://example.com"))
	if !errors.Is(err, factory.newErr) {
		t.Errorf("Execute() error = %v, want factory error", err)
	}
	if coord.JobCount() != 0 {
		t.Error("failed job should not stay registered")
	}
}

func TestCoordinator_Execute_NoEncoder(t *testing.T) {
	factory := newStubFactory()
	coord, _, _ := newTestCoordinator(t, factory, func(cfg *CoordinatorConfig) {
		cfg.EncoderFactory = nil
	})

	p := capture.DefaultParams()
	p.URL = "https://example.com"

	_, err := coord.Execute(context.Background(), p)
	if !errors.Is(err, encoder.ErrEncoderUnavailable) {
		t.Errorf("Execute() error = %v, want ErrEncoderUnavailable", err)
	}
	if created, _ := factory.counts(); created != 0 {
		t.Error("no browser should be created without an encoder")
	}
}

func TestCoordinator_Execute_NavigationFailure(t *testing.T) {
	repo := newMemoryRepo()
	factory := newStubFactory()
	factory.navErrs["https://down.example"] = errors.New("net::ERR_CONNECTION_REFUSED")
	coord, _, _ := newTestCoordinator(t, factory, func(cfg *CoordinatorConfig) {
		cfg.History = capture.NewService(repo, nil, nil)
	})

	_, err := coord.ExecuteJob(context.Background(), "job-down", screenshotParams("https://down.example"))
	if err == nil || err.Error() != "Operation failed: net::ERR_CONNECTION_REFUSED" {
		t.Fatalf("Execute() error = %v", err)
	}

	rec, err := coord.History().Get(context.Background(), "job-down")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec.State != "failed" || rec.Error == "" {
		t.Errorf("record = %+v, want failed with error", rec)
	}
}

func TestCoordinator_CancelRunningJob(t *testing.T) {
	factory := newStubFactory()
	factory.block = true
	coord, bus, log := newTestCoordinator(t, factory, nil)

	id, err := coord.Submit("job-1", screenshotParams("https://example.com"))
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if id != "job-1" {
		t.Errorf("Submit() id = %q, want job-1", id)
	}

	select {
	case <-factory.navigating:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start navigating")
	}

	jobs := coord.Jobs()
	if len(jobs) != 1 || jobs[0].ID != "job-1" || jobs[0].StateName != "loading" {
		t.Fatalf("Jobs() = %+v, want job-1 loading", jobs)
	}

	if err := coord.Dispatch(command.NewCancelCapture("job-1")); err != nil {
		t.Fatalf("Dispatch(CancelCapture) error: %v", err)
	}
	waitFor(t, func() bool { return coord.JobCount() == 0 }, 2*time.Second)

	bus.Close()
	if log.count("JobCancelled") != 1 {
		t.Errorf("events = %v, want JobCancelled", log.names)
	}
}

func TestCoordinator_Dispatch(t *testing.T) {
	factory := newStubFactory()
	factory.block = true
	coord, _, _ := newTestCoordinator(t, factory, func(cfg *CoordinatorConfig) {
		cfg.MaxConcurrent = 2
	})

	if err := coord.Dispatch(command.NewStartCapture("a", screenshotParams("https://a.example"))); err != nil {
		t.Fatalf("Dispatch(StartCapture) error: %v", err)
	}
	if err := coord.Dispatch(command.NewStartCapture("b", screenshotParams("https://b.example"))); err != nil {
		t.Fatalf("Dispatch(StartCapture) error: %v", err)
	}
	if err := coord.Dispatch(command.NewStartCapture("a", screenshotParams("https://a.example"))); err == nil {
		t.Error("duplicate job ID should be rejected")
	}
	if err := coord.Dispatch(command.NewStartCapture("", screenshotParams(""))); err == nil {
		t.Error("invalid params should be rejected synchronously")
	}

	for i := 0; i < 2; i++ {
		select {
		case <-factory.navigating:
		case <-time.After(2 * time.Second):
			t.Fatal("jobs did not start")
		}
	}

	if err := coord.Dispatch(&command.CancelAllCaptures{}); err != nil {
		t.Fatalf("Dispatch(CancelAllCaptures) error: %v", err)
	}
	waitFor(t, func() bool { return coord.JobCount() == 0 }, 2*time.Second)
}

type unknownCommand struct{}

func (unknownCommand) CommandName() string { return "Unknown" }

func TestCoordinator_Dispatch_Errors(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, newStubFactory(), nil)

	if err := coord.Dispatch(unknownCommand{}); err == nil {
		t.Error("unknown command should return an error")
	}
	if err := coord.Dispatch(command.NewCancelCapture("missing")); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("CancelCapture(missing) error = %v, want ErrJobNotFound", err)
	}
}

func TestCoordinator_ExecuteBatch(t *testing.T) {
	factory := newStubFactory()
	factory.shotDelay = 30 * time.Millisecond
	coord, _, _ := newTestCoordinator(t, factory, func(cfg *CoordinatorConfig) {
		cfg.MaxConcurrent = 2
	})

	params := []capture.Params{
		screenshotParams("https://a.example"),
		screenshotParams("https://b.example"),
		screenshotParams("https://c.example"),
		screenshotParams("https://d.example"),
	}
	params[1].ImageFormat = capture.ImageWebP

	artifacts, err := coord.ExecuteBatch(context.Background(), params)
	if err != nil {
		t.Fatalf("ExecuteBatch() error: %v", err)
	}
	if len(artifacts) != 4 {
		t.Fatalf("got %d artifacts, want 4", len(artifacts))
	}
	if artifacts[1].Format != capture.ImageWebP || artifacts[0].Format != capture.ImagePNG {
		t.Error("artifacts should keep input order")
	}

	created, peak := factory.counts()
	if created != 4 {
		t.Errorf("created %d drivers, want 4", created)
	}
	if peak > 2 {
		t.Errorf("peak concurrent browsers = %d, want <= 2", peak)
	}
}

func TestCoordinator_ExecuteBatch_FailFast(t *testing.T) {
	factory := newStubFactory()
	factory.navErrs["https://b.example"] = errors.New("boom")
	coord, _, _ := newTestCoordinator(t, factory, nil)

	params := []capture.Params{
		screenshotParams("https://a.example"),
		screenshotParams("https://b.example"),
		screenshotParams("https://c.example"),
	}

	artifacts, err := coord.ExecuteBatch(context.Background(), params)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("ExecuteBatch() error = %v, want boom", err)
	}
	if artifacts != nil {
		t.Error("no artifacts should be returned on failure")
	}
	if created, _ := factory.counts(); created != 2 {
		t.Errorf("created %d drivers, want 2 (stop after the failure)", created)
	}
}

func TestCoordinator_ExecuteBatch_CancelledKeepsItemMode(t *testing.T) {
	factory := newStubFactory()
	coord, _, _ := newTestCoordinator(t, factory, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := coord.ExecuteBatch(ctx, []capture.Params{screenshotParams("https://a.example")})

	var opErr *capture.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("ExecuteBatch() error = %v, want *capture.OperationError", err)
	}
	if opErr.Mode != capture.ModeScreenshot {
		t.Errorf("Mode = %q, want screenshot", opErr.Mode)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error should wrap context.Canceled, got %v", err)
	}
	if created, _ := factory.counts(); created != 0 {
		t.Errorf("created %d drivers, want 0", created)
	}
}

func TestCoordinator_ResolveParams(t *testing.T) {
	reg := preset.NewRegistry()
	width := 390
	mode := capture.ModeScreenshot
	reg.Register(&preset.Preset{Name: "mobile", Width: &width, Mode: &mode})

	coord, _, _ := newTestCoordinator(t, newStubFactory(), func(cfg *CoordinatorConfig) {
		cfg.Presets = reg
	})

	p, err := coord.ResolveParams(capture.DefaultParams(), []byte(`{"preset":"mobile","url":"https://example.com","height":844}`))
	if err != nil {
		t.Fatalf("ResolveParams() error: %v", err)
	}
	if p.Mode != capture.ModeScreenshot || p.Width != 390 || p.Height != 844 || p.URL != "https://example.com" {
		t.Errorf("ResolveParams() = %+v", p)
	}

	p, err = coord.ResolveParams(capture.DefaultParams(), []byte(`{"preset":"mobile","width":500}`))
	if err != nil {
		t.Fatalf("ResolveParams() error: %v", err)
	}
	if p.Width != 500 {
		t.Errorf("explicit width = %d, want 500 over the preset", p.Width)
	}

	base := capture.DefaultParams()
	base.Preset = "mobile"
	if p, _ := coord.ResolveParams(base, nil); p.Width != 390 {
		t.Errorf("base preset not applied, width = %d", p.Width)
	}

	if _, err := coord.ResolveParams(capture.DefaultParams(), []byte(`{"preset":"tablet"}`)); !errors.Is(err, preset.ErrUnknownPreset) {
		t.Errorf("unknown preset error = %v, want ErrUnknownPreset", err)
	}
	if _, err := coord.ResolveParams(capture.DefaultParams(), []byte(`{`)); err == nil {
		t.Error("malformed JSON should return an error")
	}
}

func TestCoordinator_Stop_CancelsJobs(t *testing.T) {
	factory := newStubFactory()
	factory.block = true
	coord, _, _ := newTestCoordinator(t, factory, nil)

	done := make(chan error, 1)
	go func() {
		_, err := coord.Execute(context.Background(), screenshotParams("https://example.com"))
		done <- err
	}()

	select {
	case <-factory.navigating:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start")
	}

	coord.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, capture.ErrCancelled) {
			t.Errorf("Execute() error = %v, want ErrCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after Stop")
	}
}
