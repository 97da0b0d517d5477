package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/icza/mjpeg"
)

// MJPEGEncoder writes Motion-JPEG AVI files without an external process.
// Frames are stored as delivered, so they should already match the video size.
type MJPEGEncoder struct {
	tempDir string
	logger  *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	writer  mjpeg.AviWriter
	outPath string
	frames  int
}

// NewMJPEGEncoder creates a native AVI encoder; tempDir empty means os.TempDir.
func NewMJPEGEncoder(tempDir string, logger *slog.Logger) *MJPEGEncoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &MJPEGEncoder{tempDir: tempDir, logger: logger}
}

// Begin opens the AVI writer.
func (e *MJPEGEncoder) Begin(ctx context.Context, s Settings) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.writer != nil {
		return fmt.Errorf("encoder already started")
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Format != FormatAVI {
		return fmt.Errorf("%w %q", ErrEncoderUnavailable, s.Format)
	}

	out, err := os.CreateTemp(e.tempDir, "pagecap-*.avi")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	outPath := out.Name()
	out.Close()

	writer, err := mjpeg.New(outPath, int32(s.Width), int32(s.Height), int32(s.FPS))
	if err != nil {
		os.Remove(outPath)
		return fmt.Errorf("failed to create avi writer: %w", err)
	}

	e.ctx = ctx
	e.writer = writer
	e.outPath = outPath
	e.frames = 0
	return nil
}

// EncodeFrame appends one JPEG frame.
func (e *MJPEGEncoder) EncodeFrame(jpeg []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.writer == nil {
		return ErrNotStarted
	}
	if err := e.ctx.Err(); err != nil {
		return err
	}
	if err := e.writer.AddFrame(jpeg); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	e.frames++
	return nil
}

// End finalizes the AVI index and returns the file contents.
func (e *MJPEGEncoder) End() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.writer == nil {
		return nil, ErrNotStarted
	}
	defer e.reset()

	if err := e.writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize avi: %w", err)
	}
	e.writer = nil
	if e.frames == 0 {
		return nil, fmt.Errorf("no frames were encoded")
	}

	data, err := os.ReadFile(e.outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read encoded video: %w", err)
	}
	return data, nil
}

// Abort closes the writer and removes the partial file.
func (e *MJPEGEncoder) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.writer == nil && e.outPath == "" {
		return
	}
	e.reset()
}

// Frames returns the number of frames written.
func (e *MJPEGEncoder) Frames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

// reset releases the writer and output file; must be called with lock held.
func (e *MJPEGEncoder) reset() {
	if e.writer != nil {
		_ = e.writer.Close()
		e.writer = nil
	}
	if e.outPath != "" {
		if err := os.Remove(e.outPath); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("Failed to remove encoder output", "path", e.outPath, "error", err)
		}
		e.outPath = ""
	}
	e.ctx = nil
}

var _ Encoder = (*MJPEGEncoder)(nil)
