// Package encoder turns a stream of JPEG frames into a video container.
package encoder

import (
	"context"
	"errors"
	"fmt"
)

// Video containers understood by the encoders.
const (
	FormatMP4  = "mp4"
	FormatMOV  = "mov"
	FormatWebM = "webm"
	FormatAVI  = "avi"
)

var (
	// ErrEncoderUnavailable is returned when no encoder can produce the format.
	ErrEncoderUnavailable = errors.New("no encoder available for format")

	// ErrNotStarted is returned when frames arrive before Begin.
	ErrNotStarted = errors.New("encoder not started")
)

// Settings describes the video to produce.
type Settings struct {
	Width  int
	Height int
	FPS    int
	// Quality is 1-100, higher is better.
	Quality int
	Format  string
}

// Validate checks the settings.
func (s Settings) Validate() error {
	if s.Width < 1 || s.Height < 1 {
		return fmt.Errorf("invalid video size %dx%d", s.Width, s.Height)
	}
	if s.FPS < 1 {
		return fmt.Errorf("invalid frame rate %d", s.FPS)
	}
	switch s.Format {
	case FormatMP4, FormatMOV, FormatWebM, FormatAVI:
	default:
		return fmt.Errorf("%w %q", ErrEncoderUnavailable, s.Format)
	}
	return nil
}

// Encoder consumes JPEG frames at a fixed frame rate.
type Encoder interface {
	// Begin prepares the encoder; ctx bounds the whole encoding.
	Begin(ctx context.Context, s Settings) error

	// EncodeFrame appends one JPEG frame.
	EncodeFrame(jpeg []byte) error

	// End finishes the video and returns its bytes.
	End() ([]byte, error)

	// Abort discards everything written so far.
	Abort()

	// Frames returns the number of frames accepted.
	Frames() int
}

// QualityToCRF maps quality 1-100 onto a constant rate factor where
// quality 80 yields CRF 18.
func QualityToCRF(quality int) int {
	crf := 18 + (80-quality)*2/5
	if crf < 0 {
		return 0
	}
	if crf > 51 {
		return 51
	}
	return crf
}

// QualityToQScale maps quality 1-100 onto the mpeg4 qscale range 2-31.
func QualityToQScale(quality int) int {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	return 2 + (100-quality)*29/99
}

// Even rounds n down to an even number, at least 2; yuv420p needs even sizes.
func Even(n int) int {
	if n < 2 {
		return 2
	}
	return n &^ 1
}
