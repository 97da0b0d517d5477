package encoder

import (
	"fmt"
	"log/slog"
	"os/exec"
)

// lookPath resolves the ffmpeg binary; replaced in tests.
var lookPath = exec.LookPath

// Config holds encoder configuration.
type Config struct {
	// FFmpegPath is the ffmpeg binary name or path.
	FFmpegPath string

	// TempDir holds intermediate video files; empty means the system default.
	TempDir string

	// PreferNative writes AVI with the built-in MJPEG writer even when ffmpeg exists.
	PreferNative bool
}

// DefaultConfig returns default encoder configuration.
func DefaultConfig() *Config {
	return &Config{
		FFmpegPath: "ffmpeg",
	}
}

// Factory creates one encoder per recording.
type Factory struct {
	config *Config
	ffmpeg string
	logger *slog.Logger
}

// NewFactory resolves the ffmpeg binary once and returns a factory.
func NewFactory(config *Config, logger *slog.Logger) *Factory {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	f := &Factory{config: config, logger: logger}
	if config.FFmpegPath != "" {
		path, err := lookPath(config.FFmpegPath)
		if err != nil {
			logger.Warn("ffmpeg not found, only avi output is available", "ffmpeg", config.FFmpegPath, "error", err)
		} else {
			f.ffmpeg = path
		}
	}
	return f
}

// FFmpegAvailable reports whether ffmpeg was found.
func (f *Factory) FFmpegAvailable() bool {
	return f.ffmpeg != ""
}

// Formats returns the containers this factory can produce.
func (f *Factory) Formats() []string {
	if f.FFmpegAvailable() {
		return []string{FormatMP4, FormatAVI, FormatWebM, FormatMOV}
	}
	return []string{FormatAVI}
}

// New returns an encoder for the format.
func (f *Factory) New(format string) (Encoder, error) {
	switch format {
	case FormatAVI:
		if f.config.PreferNative || !f.FFmpegAvailable() {
			return NewMJPEGEncoder(f.config.TempDir, f.logger), nil
		}
		return NewFFmpegEncoder(f.ffmpeg, f.config.TempDir, f.logger), nil
	case FormatMP4, FormatMOV, FormatWebM:
		if !f.FFmpegAvailable() {
			return nil, fmt.Errorf("%w %q: ffmpeg is not installed", ErrEncoderUnavailable, format)
		}
		return NewFFmpegEncoder(f.ffmpeg, f.config.TempDir, f.logger), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrEncoderUnavailable, format)
	}
}
