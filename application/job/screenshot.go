package job

import (
	"context"
	"errors"
	"log/slog"

	"pagecap-go/domain/capture"
	"pagecap-go/infrastructure/browser"
)

var errEmptyScreenshot = errors.New("browser returned an empty screenshot")

// ScreenshotTaker captures single images of the current page.
type ScreenshotTaker struct {
	driver browser.Driver
	logger *slog.Logger
}

// NewScreenshotTaker creates a new screenshot taker.
func NewScreenshotTaker(driver browser.Driver, logger *slog.Logger) *ScreenshotTaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScreenshotTaker{
		driver: driver,
		logger: logger,
	}
}

// Take captures the page in the image format of p.
func (s *ScreenshotTaker) Take(ctx context.Context, p *capture.Params) ([]byte, error) {
	if !s.driver.IsRunning() {
		return nil, browser.ErrNotRunning
	}

	opts := browser.ScreenshotOptions{
		Format:   p.ImageFormat,
		FullPage: p.FullPage,
	}
	if p.ImageFormat != capture.ImagePNG {
		opts.Quality = p.ImageQuality
	}

	data, err := s.driver.Screenshot(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errEmptyScreenshot
	}

	s.logger.Debug("Screenshot taken", "format", opts.Format, "full_page", opts.FullPage, "size", len(data))
	return data, nil
}
