package job

import (
	"context"
	"sync"
	"time"

	"pagecap-go/core/event"
	"pagecap-go/core/eventbus"
	"pagecap-go/infrastructure/browser"
	"pagecap-go/infrastructure/encoder"
)

// mockDriver is a mock implementation of browser.Driver for testing.
type mockDriver struct {
	mu sync.Mutex

	running bool
	casting bool

	startErr error
	navErr   error
	scaleErr error
	shotErr  error
	castErr  error

	// blockNavigate makes Navigate wait for ctx cancellation
	blockNavigate bool
	navigating    chan struct{}

	// tabTarget, when set, is reported through OnTabFollowed on StartScreencast
	tabTarget string

	shotData    []byte
	frames      chan browser.Frame
	calls       []string
	viewport    [2]int
	scales      []float64
	urls        []string
	shotOpts    []browser.ScreenshotOptions
	castOpts    browser.ScreencastOptions
	stopCalled  int
	castStopped int
}

func newMockDriver() *mockDriver {
	return &mockDriver{
		shotData:   []byte("image-bytes"),
		frames:     make(chan browser.Frame, 16),
		navigating: make(chan struct{}),
	}
}

func (m *mockDriver) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *mockDriver) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Start")
	if m.startErr != nil {
		return m.startErr
	}
	m.running = true
	return nil
}

func (m *mockDriver) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Stop")
	m.running = false
	m.stopCalled++
	return nil
}

func (m *mockDriver) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *mockDriver) Navigate(ctx context.Context, url string) error {
	m.mu.Lock()
	m.record("Navigate")
	m.urls = append(m.urls, url)
	block, err := m.blockNavigate, m.navErr
	m.mu.Unlock()

	if block {
		close(m.navigating)
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (m *mockDriver) SetViewport(ctx context.Context, width, height int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SetViewport")
	m.viewport = [2]int{width, height}
	return nil
}

func (m *mockDriver) ApplyScale(ctx context.Context, factor float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ApplyScale")
	m.scales = append(m.scales, factor)
	return m.scaleErr
}

func (m *mockDriver) Screenshot(ctx context.Context, opts browser.ScreenshotOptions) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Screenshot")
	m.shotOpts = append(m.shotOpts, opts)
	if m.shotErr != nil {
		return nil, m.shotErr
	}
	return m.shotData, nil
}

func (m *mockDriver) StartScreencast(ctx context.Context, opts browser.ScreencastOptions) (<-chan browser.Frame, error) {
	m.mu.Lock()
	m.record("StartScreencast")
	if m.castErr != nil {
		m.mu.Unlock()
		return nil, m.castErr
	}
	m.casting = true
	m.castOpts = opts
	target := m.tabTarget
	m.mu.Unlock()

	if target != "" && opts.OnTabFollowed != nil {
		opts.OnTabFollowed(target)
	}
	return m.frames, nil
}

func (m *mockDriver) StopScreencast() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("StopScreencast")
	m.casting = false
	m.castStopped++
	return nil
}

func (m *mockDriver) IsScreencasting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.casting
}

func (m *mockDriver) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// mockEncoder is a mock implementation of encoder.Encoder for testing.
type mockEncoder struct {
	mu sync.Mutex

	beginErr  error
	encodeErr error
	endErr    error

	// blockFrames makes EncodeFrame hold the lock until the Begin context
	// is done, like a pipe write to a process that stopped reading.
	blockFrames bool
	encoding    chan struct{}
	once        sync.Once
	ctx         context.Context

	settings encoder.Settings
	frames   [][]byte
	begun    bool
	ended    bool
	aborted  bool
}

func (e *mockEncoder) Begin(ctx context.Context, s encoder.Settings) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.beginErr != nil {
		return e.beginErr
	}
	e.settings = s
	e.begun = true
	e.ctx = ctx
	return nil
}

func (e *mockEncoder) EncodeFrame(jpeg []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.encodeErr != nil {
		return e.encodeErr
	}
	if e.blockFrames {
		e.once.Do(func() { close(e.encoding) })
		<-e.ctx.Done()
		return e.ctx.Err()
	}
	e.frames = append(e.frames, jpeg)
	return nil
}

func (e *mockEncoder) End() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ended = true
	if e.endErr != nil {
		return nil, e.endErr
	}
	return []byte("video-bytes"), nil
}

func (e *mockEncoder) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aborted = true
}

func (e *mockEncoder) Frames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.frames)
}

func (e *mockEncoder) frameCopy() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.frames...)
}

// recordingBus is a synchronous eventbus.EventBus that keeps every event.
type recordingBus struct {
	mu     sync.Mutex
	events []event.Event
}

func (b *recordingBus) Publish(e event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) Subscribe(handler eventbus.EventHandler) string { return "" }
func (b *recordingBus) SubscribeJob(jobID string, handler eventbus.EventHandler) string {
	return ""
}
func (b *recordingBus) Unsubscribe(subscriptionID string) {}
func (b *recordingBus) Dropped() uint64                   { return 0 }
func (b *recordingBus) Close()                            {}

func (b *recordingBus) all() []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]event.Event(nil), b.events...)
}

func (b *recordingBus) states() []string {
	var out []string
	for _, e := range b.all() {
		if sc, ok := e.(*event.JobStateChanged); ok {
			out = append(out, sc.NewState.String())
		}
	}
	return out
}

func (b *recordingBus) names() []string {
	var out []string
	for _, e := range b.all() {
		out = append(out, e.EventName())
	}
	return out
}

func waitClosed(ch <-chan struct{}, d time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}
