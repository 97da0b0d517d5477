package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// ChromeDPDriver implements Driver using chromedp.
type ChromeDPDriver struct {
	config      *DriverConfig
	logger      *slog.Logger
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.Mutex
	running     bool

	// active is the tab being captured; it differs from ctx after a tab follow
	active         context.Context
	followed       []context.CancelFunc
	viewportWidth  int
	viewportHeight int

	// Screencast state
	sink             *frameSink
	screencastCancel context.CancelFunc
	screencasting    bool
}

// NewChromeDPDriver creates a new ChromeDP-based browser driver.
func NewChromeDPDriver(config *DriverConfig, logger *slog.Logger) *ChromeDPDriver {
	if config == nil {
		config = DefaultDriverConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromeDPDriver{
		config: config,
		logger: logger,
	}
}

// buildExecAllocatorOptions builds chromedp options from config.
func (d *ChromeDPDriver) buildExecAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.config.Headless),
		chromedp.Flag("no-sandbox", d.config.NoSandbox),
		chromedp.Flag("disable-setuid-sandbox", d.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", d.config.DisableDevShmUsage),
		chromedp.Flag("disable-gpu", d.config.DisableGPU),
		chromedp.Flag("hide-scrollbars", d.config.HideScrollbars),
		chromedp.Flag("mute-audio", d.config.MuteAudio),
		chromedp.WindowSize(d.config.WindowWidth, d.config.WindowHeight),
	)

	if d.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(d.config.ExecPath))
	}
	if d.config.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(d.config.UserDataDir))
	}

	return opts
}

// Start initializes the browser instance and opens the first tab.
func (d *ChromeDPDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("browser already running")
	}

	// Create allocator context from context.Background() to ensure browser lifecycle
	// is independent of the caller's context
	if d.config.RemoteURL != "" {
		d.allocCtx, d.allocCancel = chromedp.NewRemoteAllocator(context.Background(), d.config.RemoteURL)
	} else {
		d.allocCtx, d.allocCancel = chromedp.NewExecAllocator(
			context.Background(),
			d.buildExecAllocatorOptions()...,
		)
	}

	d.ctx, d.cancel = chromedp.NewContext(d.allocCtx)

	// An empty Run allocates the browser so launch failures surface here
	launched := make(chan error, 1)
	go func() {
		launched <- chromedp.Run(d.ctx)
	}()
	select {
	case err := <-launched:
		if err != nil {
			d.cleanup()
			return fmt.Errorf("failed to launch browser: %w", err)
		}
	case <-ctx.Done():
		d.cleanup()
		return ctx.Err()
	}

	d.active = d.ctx
	d.running = true
	return nil
}

// Stop closes the browser and releases resources.
func (d *ChromeDPDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.cleanup()
	return nil
}

func (d *ChromeDPDriver) cleanup() {
	// Stop screencast if active
	if d.screencasting {
		d.stopScreencastInternal()
	}

	for _, cancel := range d.followed {
		cancel()
	}
	d.followed = nil

	d.running = false
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.allocCancel != nil {
		d.allocCancel()
		d.allocCancel = nil
	}
	d.ctx = nil
	d.active = nil
	d.allocCtx = nil
}

// IsRunning returns true if the browser is active.
func (d *ChromeDPDriver) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// pageContext returns the tab currently being captured.
func (d *ChromeDPDriver) pageContext() (context.Context, error) {
	d.mu.Lock()
	tabCtx := d.active
	running := d.running
	d.mu.Unlock()

	if !running || tabCtx == nil {
		return nil, ErrNotRunning
	}
	return tabCtx, nil
}

// bounded derives a context from the tab that also ends when ctx ends.
func bounded(ctx, tabCtx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(tabCtx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(tabCtx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// Navigate loads url and returns once DOMContentLoaded fires.
func (d *ChromeDPDriver) Navigate(ctx context.Context, url string) error {
	tabCtx, err := d.pageContext()
	if err != nil {
		return err
	}

	navCtx, cancel := bounded(ctx, tabCtx, d.config.NavigationTimeout)
	defer cancel()

	domReady := make(chan struct{}, 1)
	chromedp.ListenTarget(navCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventDomContentEventFired); ok {
			select {
			case domReady <- struct{}{}:
			default:
			}
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(navCtx, chromedp.Navigate(url))
	}()

	select {
	case err := <-done:
		if err != nil {
			return navigationError(ctx, navCtx, url, d.config.NavigationTimeout, err)
		}
		return nil
	case <-domReady:
		// A failed navigation still renders an error page; prefer its error
		select {
		case err := <-done:
			if err != nil {
				return navigationError(ctx, navCtx, url, d.config.NavigationTimeout, err)
			}
		default:
		}
		return nil
	case <-navCtx.Done():
		return navigationError(ctx, navCtx, url, d.config.NavigationTimeout, navCtx.Err())
	}
}

func navigationError(ctx, navCtx context.Context, url string, timeout time.Duration, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if navCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("navigation timeout of %s exceeded loading %s", timeout, url)
	}
	return fmt.Errorf("failed to navigate to %s: %w", url, err)
}

// SetViewport sets the browser viewport size.
func (d *ChromeDPDriver) SetViewport(ctx context.Context, width, height int) error {
	tabCtx, err := d.pageContext()
	if err != nil {
		return err
	}

	runCtx, cancel := bounded(ctx, tabCtx, 0)
	defer cancel()

	if err := chromedp.Run(runCtx,
		chromedp.EmulateViewport(int64(width), int64(height), chromedp.EmulateScale(1)),
	); err != nil {
		return fmt.Errorf("failed to set viewport: %w", err)
	}

	d.mu.Lock()
	d.viewportWidth, d.viewportHeight = width, height
	d.mu.Unlock()
	return nil
}

// ApplyScale renders the page content at the given scale factor.
func (d *ChromeDPDriver) ApplyScale(ctx context.Context, factor float64) error {
	tabCtx, err := d.pageContext()
	if err != nil {
		return err
	}

	runCtx, cancel := bounded(ctx, tabCtx, 0)
	defer cancel()

	var ok bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(ScaleScript(factor), &ok)); err != nil {
		return fmt.Errorf("failed to apply scale: %w", err)
	}
	return nil
}

// Screenshot captures the current page as encoded image bytes.
func (d *ChromeDPDriver) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	tabCtx, err := d.pageContext()
	if err != nil {
		return nil, err
	}

	var format page.CaptureScreenshotFormat
	switch opts.Format {
	case FormatPNG, "":
		format = page.CaptureScreenshotFormatPng
	case FormatJPEG:
		format = page.CaptureScreenshotFormatJpeg
	case FormatWebP:
		format = page.CaptureScreenshotFormatWebp
	default:
		return nil, fmt.Errorf("unsupported screenshot format %q", opts.Format)
	}

	runCtx, cancel := bounded(ctx, tabCtx, d.config.ScreenshotTimeout)
	defer cancel()

	var buf []byte
	err = chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.CaptureScreenshot().WithFormat(format)
		if format != page.CaptureScreenshotFormatPng && opts.Quality > 0 {
			params = params.WithQuality(int64(opts.Quality))
		}

		if opts.FullPage {
			var size []float64
			if err := chromedp.Evaluate(
				`[document.documentElement.scrollWidth, document.documentElement.scrollHeight]`,
				&size,
			).Do(ctx); err != nil {
				return fmt.Errorf("failed to measure page: %w", err)
			}
			if len(size) == 2 && size[0] > 0 && size[1] > 0 {
				params = params.
					WithCaptureBeyondViewport(true).
					WithClip(&page.Viewport{X: 0, Y: 0, Width: size[0], Height: size[1], Scale: 1})
			}
		}

		var err error
		buf, err = params.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}

	return buf, nil
}

// frameSink delivers frames without ever sending on a closed channel.
type frameSink struct {
	mu     sync.Mutex
	ch     chan Frame
	closed bool
}

func newFrameSink(size int) *frameSink {
	return &frameSink{ch: make(chan Frame, size)}
}

// offer sends a frame, dropping it when the consumer is behind.
func (s *frameSink) offer(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- f:
	default:
	}
}

func (s *frameSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// StartScreencast starts frame streaming from the browser.
func (d *ChromeDPDriver) StartScreencast(ctx context.Context, opts ScreencastOptions) (<-chan Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running || d.active == nil {
		return nil, ErrNotRunning
	}

	if d.screencasting {
		return nil, fmt.Errorf("screencast already active")
	}

	sink := newFrameSink(8)
	screencastCtx, screencastCancel := context.WithCancel(d.active)

	if err := castTab(screencastCtx, sink, opts); err != nil {
		screencastCancel()
		sink.close()
		return nil, fmt.Errorf("failed to start screencast: %w", err)
	}

	d.sink = sink
	d.screencastCancel = screencastCancel
	d.screencasting = true

	if opts.FollowNewTab {
		go d.followTabs(screencastCtx, sink, opts)
	}

	return sink.ch, nil
}

// castTab streams frames of the tab behind tabCtx into sink until tabCtx ends.
func castTab(tabCtx context.Context, sink *frameSink, opts ScreencastOptions) error {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		e, ok := ev.(*page.EventScreencastFrame)
		if !ok {
			return
		}

		// Acknowledge the frame to receive the next one
		sessionID := e.SessionID
		go func() {
			_ = chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
				return page.ScreencastFrameAck(sessionID).Do(ctx)
			}))
		}()

		data, err := base64.StdEncoding.DecodeString(e.Data)
		if err != nil {
			return
		}
		sink.offer(Frame{Data: data, Timestamp: time.Now()})
	})

	every := opts.EveryNthFrame
	if every < 1 {
		every = 1
	}

	return chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.StartScreencast().
			WithFormat(page.ScreencastFormatJpeg).
			WithQuality(int64(opts.Quality)).
			WithEveryNthFrame(int64(every))
		if opts.MaxWidth > 0 {
			params = params.WithMaxWidth(int64(opts.MaxWidth))
		}
		if opts.MaxHeight > 0 {
			params = params.WithMaxHeight(int64(opts.MaxHeight))
		}
		return params.Do(ctx)
	}))
}

// followTabs moves the screencast to every page opened by the tab being cast.
func (d *ChromeDPDriver) followTabs(castCtx context.Context, sink *frameSink, opts ScreencastOptions) {
	current := castCtx
	for {
		c := chromedp.FromContext(current)
		if c == nil || c.Target == nil {
			return
		}
		openerID := c.Target.TargetID

		opened := chromedp.WaitNewTarget(castCtx, func(info *target.Info) bool {
			return info.Type == "page" && info.OpenerID == openerID
		})

		var targetID target.ID
		select {
		case <-castCtx.Done():
			return
		case id, ok := <-opened:
			if !ok {
				return
			}
			targetID = id
		}

		tabCtx, tabCancel := chromedp.NewContext(current, chromedp.WithTargetID(targetID))

		d.mu.Lock()
		width, height := d.viewportWidth, d.viewportHeight
		d.mu.Unlock()
		if width > 0 && height > 0 {
			if err := chromedp.Run(tabCtx, chromedp.EmulateViewport(int64(width), int64(height), chromedp.EmulateScale(1))); err != nil {
				d.logger.Warn("Failed to size followed tab", "target_id", targetID, "error", err)
			}
		}

		if err := castTab(tabCtx, sink, opts); err != nil {
			d.logger.Warn("Failed to follow new tab", "target_id", targetID, "error", err)
			tabCancel()
			continue
		}

		// The previous tab keeps running; only its frames stop mattering
		_ = chromedp.Run(current, chromedp.ActionFunc(func(ctx context.Context) error {
			return page.StopScreencast().Do(ctx)
		}))

		d.mu.Lock()
		if !d.screencasting {
			d.mu.Unlock()
			tabCancel()
			return
		}
		d.followed = append(d.followed, tabCancel)
		d.active = tabCtx
		d.mu.Unlock()

		if opts.OnTabFollowed != nil {
			opts.OnTabFollowed(string(targetID))
		}
		current = tabCtx
	}
}

// StopScreencast stops frame streaming.
func (d *ChromeDPDriver) StopScreencast() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.screencasting {
		return nil
	}

	return d.stopScreencastInternal()
}

// stopScreencastInternal stops screencast without locking (must be called with lock held).
func (d *ChromeDPDriver) stopScreencastInternal() error {
	if !d.screencasting {
		return nil
	}

	// Stop screencast on browser
	if d.active != nil {
		stopCtx, cancel := context.WithTimeout(d.active, 2*time.Second)
		_ = chromedp.Run(stopCtx,
			chromedp.ActionFunc(func(ctx context.Context) error {
				return page.StopScreencast().Do(ctx)
			}),
		)
		cancel()
	}

	// Cancel listener context
	if d.screencastCancel != nil {
		d.screencastCancel()
		d.screencastCancel = nil
	}

	// Close channel
	if d.sink != nil {
		d.sink.close()
		d.sink = nil
	}

	// Followed tabs close with the screencast context
	for _, cancel := range d.followed {
		cancel()
	}
	d.followed = nil
	d.active = d.ctx

	d.screencasting = false
	return nil
}

// IsScreencasting returns true if screencast is active.
func (d *ChromeDPDriver) IsScreencasting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.screencasting
}

// Ensure ChromeDPDriver implements Driver
var _ Driver = (*ChromeDPDriver)(nil)
