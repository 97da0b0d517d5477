package encoder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// stderrLimit caps how much ffmpeg diagnostics are kept for error messages.
const stderrLimit = 4096

// FFmpegEncoder pipes JPEG frames into an ffmpeg process.
type FFmpegEncoder struct {
	binary  string
	tempDir string
	logger  *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  *tailBuffer
	outPath string
	frames  int
}

// NewFFmpegEncoder creates an encoder running binary; tempDir empty means os.TempDir.
func NewFFmpegEncoder(binary, tempDir string, logger *slog.Logger) *FFmpegEncoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegEncoder{binary: binary, tempDir: tempDir, logger: logger}
}

// BuildArgs returns the ffmpeg arguments that read JPEG frames from stdin
// and write the container to outPath.
func BuildArgs(s Settings, outPath string) ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	w, h := Even(s.Width), Even(s.Height)
	filter := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black",
		w, h, w, h,
	)

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "image2pipe", "-c:v", "mjpeg",
		"-framerate", strconv.Itoa(s.FPS),
		"-i", "-",
		"-vf", filter,
		"-r", strconv.Itoa(s.FPS),
	}

	crf := strconv.Itoa(QualityToCRF(s.Quality))
	switch s.Format {
	case FormatMP4:
		args = append(args,
			"-c:v", "libx264", "-preset", "ultrafast", "-crf", crf,
			"-pix_fmt", "yuv420p", "-movflags", "+faststart", "-f", "mp4")
	case FormatMOV:
		args = append(args,
			"-c:v", "libx264", "-preset", "ultrafast", "-crf", crf,
			"-pix_fmt", "yuv420p", "-f", "mov")
	case FormatWebM:
		args = append(args,
			"-c:v", "libvpx-vp9", "-b:v", "0", "-crf", crf,
			"-deadline", "realtime", "-pix_fmt", "yuv420p", "-f", "webm")
	case FormatAVI:
		args = append(args,
			"-c:v", "mpeg4", "-q:v", strconv.Itoa(QualityToQScale(s.Quality)),
			"-pix_fmt", "yuv420p", "-f", "avi")
	}

	return append(args, outPath), nil
}

// Begin starts the ffmpeg process.
func (e *FFmpegEncoder) Begin(ctx context.Context, s Settings) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd != nil {
		return fmt.Errorf("encoder already started")
	}

	out, err := os.CreateTemp(e.tempDir, "pagecap-*."+s.Format)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	outPath := out.Name()
	out.Close()

	args, err := BuildArgs(s, outPath)
	if err != nil {
		os.Remove(outPath)
		return err
	}

	cmd := exec.CommandContext(ctx, e.binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		os.Remove(outPath)
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		os.Remove(outPath)
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	e.logger.Debug("ffmpeg started",
		"pid", cmd.Process.Pid,
		"format", s.Format,
		"size", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"fps", s.FPS)

	e.cmd = cmd
	e.stdin = stdin
	e.stderr = stderr
	e.outPath = outPath
	e.frames = 0
	return nil
}

// EncodeFrame writes one JPEG frame to ffmpeg.
func (e *FFmpegEncoder) EncodeFrame(jpeg []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stdin == nil {
		return ErrNotStarted
	}
	if _, err := e.stdin.Write(jpeg); err != nil {
		return fmt.Errorf("failed to write frame: %w%s", err, e.stderr.suffix())
	}
	e.frames++
	return nil
}

// End closes the frame stream, waits for ffmpeg and returns the video.
func (e *FFmpegEncoder) End() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd == nil {
		return nil, ErrNotStarted
	}
	defer e.reset()

	if e.frames == 0 {
		e.kill()
		return nil, fmt.Errorf("no frames were encoded")
	}

	e.stdin.Close()
	if err := e.cmd.Wait(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w%s", err, e.stderr.suffix())
	}

	data, err := os.ReadFile(e.outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read encoded video: %w", err)
	}
	return data, nil
}

// Abort kills ffmpeg and removes its output.
func (e *FFmpegEncoder) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd == nil {
		return
	}
	e.kill()
	e.reset()
}

// Frames returns the number of frames written.
func (e *FFmpegEncoder) Frames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

func (e *FFmpegEncoder) kill() {
	e.stdin.Close()
	if e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
	_ = e.cmd.Wait()
}

// reset removes the output file; must be called with lock held.
func (e *FFmpegEncoder) reset() {
	if e.outPath != "" {
		if err := os.Remove(e.outPath); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("Failed to remove encoder output", "path", e.outPath, "error", err)
		}
	}
	e.cmd = nil
	e.stdin = nil
	e.outPath = ""
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}

// suffix formats the captured stderr for appending to an error message.
func (t *tailBuffer) suffix() string {
	if t == nil {
		return ""
	}
	if s := t.String(); s != "" {
		return ": " + s
	}
	return ""
}

var _ Encoder = (*FFmpegEncoder)(nil)
