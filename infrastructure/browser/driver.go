// Package browser provides browser automation infrastructure.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Driver defines the interface for browser automation.
// This abstraction allows for different browser implementations (ChromeDP, Playwright, etc.)
type Driver interface {
	// Start initializes the browser instance.
	Start(ctx context.Context) error

	// Stop closes the browser and releases resources.
	Stop() error

	// IsRunning returns true if the browser is active.
	IsRunning() bool

	// Navigate loads url and returns once the DOM content has loaded.
	Navigate(ctx context.Context, url string) error

	// SetViewport sets the browser viewport size.
	SetViewport(ctx context.Context, width, height int) error

	// ApplyScale renders the page content at the given scale factor.
	ApplyScale(ctx context.Context, factor float64) error

	// Screenshot captures the current page as encoded image bytes.
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)

	// StartScreencast starts frame streaming from the browser.
	// Returns a channel that receives JPEG frames; it is closed by StopScreencast.
	StartScreencast(ctx context.Context, opts ScreencastOptions) (<-chan Frame, error)

	// StopScreencast stops frame streaming.
	StopScreencast() error

	// IsScreencasting returns true if screencast is active.
	IsScreencasting() bool
}

// Image formats accepted by Screenshot.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatWebP = "webp"
)

// ErrNotRunning is returned by operations on a stopped browser.
var ErrNotRunning = errors.New("browser not running")

// ScreenshotOptions controls a single screenshot.
type ScreenshotOptions struct {
	Format string
	// Quality applies to jpeg and webp only.
	Quality  int
	FullPage bool
}

// ScreencastOptions controls frame streaming.
type ScreencastOptions struct {
	// Quality is the JPEG quality 0-100.
	Quality       int
	MaxWidth      int
	MaxHeight     int
	EveryNthFrame int

	// FollowNewTab moves the screencast to tabs opened by the recorded tab.
	FollowNewTab bool

	// OnTabFollowed is called with the target ID after the screencast moved.
	OnTabFollowed func(targetID string)
}

// Frame is a single JPEG screencast frame.
type Frame struct {
	Data      []byte
	Timestamp time.Time
}

// DriverConfig holds configuration for browser drivers.
type DriverConfig struct {
	// Headless runs the browser without a visible window.
	Headless bool

	// ExecPath is the browser binary; empty lets chromedp search the usual locations.
	ExecPath string

	// RemoteURL attaches to a running browser's DevTools endpoint instead of launching one.
	RemoteURL string

	// WindowWidth is the browser window width.
	WindowWidth int

	// WindowHeight is the browser window height.
	WindowHeight int

	// NoSandbox disables the Chrome sandbox, required when running as root in containers.
	NoSandbox bool

	// DisableDevShmUsage writes shared memory files to /tmp.
	DisableDevShmUsage bool

	// DisableGPU disables GPU acceleration.
	DisableGPU bool

	// MuteAudio mutes browser audio.
	MuteAudio bool

	// HideScrollbars hides scrollbars.
	HideScrollbars bool

	// UserDataDir specifies a custom user data directory.
	UserDataDir string

	// NavigationTimeout bounds Navigate.
	NavigationTimeout time.Duration

	// ScreenshotTimeout bounds Screenshot.
	ScreenshotTimeout time.Duration
}

// DefaultDriverConfig returns default browser configuration.
func DefaultDriverConfig() *DriverConfig {
	return &DriverConfig{
		Headless:           true,
		ExecPath:           ExecPathFromEnv(),
		WindowWidth:        1280,
		WindowHeight:       720,
		NoSandbox:          true,
		DisableDevShmUsage: true,
		DisableGPU:         true,
		MuteAudio:          true,
		HideScrollbars:     true,
		NavigationTimeout:  10 * time.Second,
		ScreenshotTimeout:  30 * time.Second,
	}
}

// ExecPathFromEnv returns the browser binary named by PUPPETEER_EXECUTABLE_PATH
// or CHROME_PATH, in that order.
func ExecPathFromEnv() string {
	for _, key := range []string{"PUPPETEER_EXECUTABLE_PATH", "CHROME_PATH"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// ScaleScript returns the page script that wraps the body content in a
// scaled container anchored at the top left corner.
func ScaleScript(factor float64) string {
	s := strconv.FormatFloat(factor, 'f', -1, 64)
	return fmt.Sprintf(`(() => {
	const scale = %s;
	const wrapper = document.createElement('div');
	wrapper.id = 'pagecap-wrapper';
	while (document.body.firstChild) {
		wrapper.appendChild(document.body.firstChild);
	}
	document.body.appendChild(wrapper);
	document.body.style.margin = '0';
	document.body.style.padding = '0';
	document.body.style.overflow = 'hidden';
	wrapper.style.position = 'absolute';
	wrapper.style.transformOrigin = 'top left';
	wrapper.style.transform = 'scale(' + scale + ')';
	wrapper.style.width = (100 / scale) + '%%';
	wrapper.style.height = (100 / scale) + '%%';
	return true;
})()`, s)
}
