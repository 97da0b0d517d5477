package job

import (
	"context"
	"log/slog"
	"time"

	"pagecap-go/infrastructure/browser"
)

// PageController drives the browser through the steps that precede a capture.
type PageController struct {
	driver browser.Driver
	logger *slog.Logger
}

// NewPageController creates a new page controller.
func NewPageController(driver browser.Driver, logger *slog.Logger) *PageController {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageController{
		driver: driver,
		logger: logger,
	}
}

// Launch starts the browser.
func (c *PageController) Launch(ctx context.Context) error {
	return c.driver.Start(ctx)
}

// SetViewport sizes the page.
func (c *PageController) SetViewport(ctx context.Context, width, height int) error {
	if !c.driver.IsRunning() {
		return browser.ErrNotRunning
	}
	return c.driver.SetViewport(ctx, width, height)
}

// Load navigates to url and waits for the DOM content.
func (c *PageController) Load(ctx context.Context, url string) error {
	if !c.driver.IsRunning() {
		return browser.ErrNotRunning
	}
	start := time.Now()
	if err := c.driver.Navigate(ctx, url); err != nil {
		return err
	}
	c.logger.Debug("Page loaded", "elapsed", time.Since(start))
	return nil
}

// Prepare scales the page, lets it settle and then waits the initial delay.
func (c *PageController) Prepare(ctx context.Context, scale float64, settle, delay time.Duration) error {
	if !c.driver.IsRunning() {
		return browser.ErrNotRunning
	}
	// At factor 1 the page keeps its own layout and scrolling; no wrapper is added.
	if scale != 1 {
		if err := c.driver.ApplyScale(ctx, scale); err != nil {
			return err
		}
		c.logger.Debug("Page scaled", "factor", scale)
	}
	if err := wait(ctx, settle); err != nil {
		return err
	}
	return wait(ctx, delay)
}

// Close stops the browser if it is still running.
func (c *PageController) Close() error {
	if !c.driver.IsRunning() {
		return nil
	}
	return c.driver.Stop()
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
