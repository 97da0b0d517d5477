// Package capture defines capture requests, their artifacts and capture history.
package capture

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Mode selects between a video recording and a single screenshot.
type Mode string

const (
	ModeVideo      Mode = "video"
	ModeScreenshot Mode = "screenshot"
)

// Verb returns the progressive verb used in error descriptions.
func (m Mode) Verb() string {
	if m == ModeVideo {
		return "recording"
	}
	return "capturing"
}

// Supported output formats.
const (
	ImagePNG  = "png"
	ImageJPEG = "jpeg"
	ImageWebP = "webp"

	VideoMP4  = "mp4"
	VideoAVI  = "avi"
	VideoWebM = "webm"
	VideoMOV  = "mov"
)

var mimeTypes = map[string]string{
	ImagePNG:  "image/png",
	ImageJPEG: "image/jpeg",
	ImageWebP: "image/webp",
	VideoMP4:  "video/mp4",
	VideoAVI:  "video/x-msvideo",
	VideoWebM: "video/webm",
	VideoMOV:  "video/quicktime",
}

// Limits enforced by Validate.
const (
	MaxWidth     = 7680
	MaxHeight    = 4320
	MaxFrameRate = 60
)

// Params describes one capture request.
type Params struct {
	Mode   Mode   `json:"mode" yaml:"mode"`
	URL    string `json:"url" yaml:"url"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`

	// Duration is the video length in seconds.
	Duration  float64 `json:"duration" yaml:"duration"`
	FrameRate int     `json:"frameRate" yaml:"frameRate"`

	ImageFormat  string `json:"imageFormat" yaml:"imageFormat"`
	ImageQuality int    `json:"imageQuality" yaml:"imageQuality"`
	FullPage     bool   `json:"fullPage" yaml:"fullPage"`

	OutputFileName string `json:"outputFileName" yaml:"outputFileName"`

	VideoFormat  string `json:"videoFormat" yaml:"videoFormat"`
	VideoQuality int    `json:"videoQuality" yaml:"videoQuality"`
	FollowNewTab bool   `json:"followNewTab" yaml:"followNewTab"`

	// InitialDelay is the wait in seconds before the capture starts.
	InitialDelay float64 `json:"initialDelay" yaml:"initialDelay"`
	Scale        string  `json:"scale" yaml:"scale"`

	// RecordNavigation starts the recorder before the page is loaded.
	RecordNavigation bool `json:"recordNavigation" yaml:"recordNavigation"`

	Preset string `json:"preset,omitempty" yaml:"preset,omitempty"`
}

// DefaultParams returns the parameter defaults of the capture node.
func DefaultParams() Params {
	return Params{
		Mode:         ModeVideo,
		Width:        1280,
		Height:       720,
		Duration:     5,
		FrameRate:    25,
		ImageFormat:  ImagePNG,
		ImageQuality: 80,
		VideoFormat:  VideoMP4,
		VideoQuality: 80,
		FollowNewTab: true,
		Scale:        "100%",
	}
}

// Normalize fills zero values with defaults and canonicalizes enum casing.
// Boolean fields are left untouched.
func (p *Params) Normalize() {
	def := DefaultParams()

	p.Mode = Mode(strings.ToLower(strings.TrimSpace(string(p.Mode))))
	if p.Mode == "" {
		p.Mode = def.Mode
	}
	p.URL = strings.TrimSpace(p.URL)
	if p.Width == 0 {
		p.Width = def.Width
	}
	if p.Height == 0 {
		p.Height = def.Height
	}
	if p.Duration == 0 {
		p.Duration = def.Duration
	}
	if p.FrameRate == 0 {
		p.FrameRate = def.FrameRate
	}

	p.ImageFormat = strings.ToLower(strings.TrimSpace(p.ImageFormat))
	if p.ImageFormat == "jpg" {
		p.ImageFormat = ImageJPEG
	}
	if p.ImageFormat == "" {
		p.ImageFormat = def.ImageFormat
	}
	if p.ImageQuality == 0 {
		p.ImageQuality = def.ImageQuality
	}

	p.VideoFormat = strings.ToLower(strings.TrimSpace(p.VideoFormat))
	if p.VideoFormat == "" {
		p.VideoFormat = def.VideoFormat
	}
	if p.VideoQuality == 0 {
		p.VideoQuality = def.VideoQuality
	}

	p.Scale = strings.TrimSpace(p.Scale)
	if p.Scale == "" {
		p.Scale = def.Scale
	}
	p.OutputFileName = strings.TrimSpace(p.OutputFileName)
}

// Validate checks the parameters. maxDuration bounds the video length;
// zero means unbounded.
func (p *Params) Validate(maxDuration time.Duration) error {
	var errs []error
	add := func(field, reason string) {
		errs = append(errs, &ValidationError{Field: field, Reason: reason})
	}

	switch p.Mode {
	case ModeVideo, ModeScreenshot:
	default:
		add("mode", fmt.Sprintf("unknown mode %q", p.Mode))
	}

	if p.URL == "" {
		errs = append(errs, ErrMissingURL)
	} else if u, err := url.Parse(p.URL); err != nil || u.Scheme == "" {
		add("url", fmt.Sprintf("%q is not an absolute URL", p.URL))
	} else {
		switch strings.ToLower(u.Scheme) {
		case "http", "https", "file", "data", "about":
		default:
			add("url", fmt.Sprintf("unsupported scheme %q", u.Scheme))
		}
	}

	if p.Width < 1 || p.Width > MaxWidth {
		add("width", fmt.Sprintf("must be between 1 and %d", MaxWidth))
	}
	if p.Height < 1 || p.Height > MaxHeight {
		add("height", fmt.Sprintf("must be between 1 and %d", MaxHeight))
	}
	if p.InitialDelay < 0 || math.IsNaN(p.InitialDelay) {
		add("initialDelay", "must not be negative")
	}
	if _, err := ParseScale(p.Scale); err != nil {
		errs = append(errs, err)
	}

	if p.Mode == ModeVideo {
		if p.Duration <= 0 || math.IsNaN(p.Duration) {
			add("duration", "must be positive")
		} else if maxDuration > 0 && p.DurationValue() > maxDuration {
			add("duration", fmt.Sprintf("must not exceed %s", maxDuration))
		}
		if p.FrameRate < 1 || p.FrameRate > MaxFrameRate {
			add("frameRate", fmt.Sprintf("must be between 1 and %d", MaxFrameRate))
		}
		if p.VideoQuality < 1 || p.VideoQuality > 100 {
			add("videoQuality", "must be between 1 and 100")
		}
		switch p.VideoFormat {
		case VideoMP4, VideoAVI, VideoWebM, VideoMOV:
		default:
			errs = append(errs, fmt.Errorf("%w: video format %q", ErrUnsupportedFormat, p.VideoFormat))
		}
	}

	if p.Mode == ModeScreenshot {
		switch p.ImageFormat {
		case ImagePNG, ImageJPEG, ImageWebP:
		default:
			errs = append(errs, fmt.Errorf("%w: image format %q", ErrUnsupportedFormat, p.ImageFormat))
		}
		if p.ImageQuality < 1 || p.ImageQuality > 100 {
			add("imageQuality", "must be between 1 and 100")
		}
	}

	return errors.Join(errs...)
}

// ScaleFactor returns the parsed scale; callers should Validate first.
func (p *Params) ScaleFactor() float64 {
	f, err := ParseScale(p.Scale)
	if err != nil {
		return 1
	}
	return f
}

// DurationValue returns the video length as a time.Duration.
func (p *Params) DurationValue() time.Duration {
	return time.Duration(p.Duration * float64(time.Second))
}

// InitialDelayValue returns the initial delay as a time.Duration.
func (p *Params) InitialDelayValue() time.Duration {
	return time.Duration(p.InitialDelay * float64(time.Second))
}

// TotalFrames returns the number of frames a recording must contain.
func (p *Params) TotalFrames() int {
	n := int(math.Round(p.Duration * float64(p.FrameRate)))
	if n < 1 {
		n = 1
	}
	return n
}

// Format returns the output format for the current mode.
func (p *Params) Format() string {
	if p.Mode == ModeVideo {
		return p.VideoFormat
	}
	return p.ImageFormat
}

// MimeType returns the MIME type of the output format.
func (p *Params) MimeType() string {
	return MimeTypeOf(p.Format())
}

// MimeTypeOf returns the MIME type of a format, or application/octet-stream.
func MimeTypeOf(format string) string {
	if m, ok := mimeTypes[format]; ok {
		return m
	}
	return "application/octet-stream"
}

// ResolveFileName returns the output file name: a timestamped default when
// empty, otherwise the given name with the format extension appended if missing.
func (p *Params) ResolveFileName(now time.Time) string {
	format := p.Format()
	name := p.OutputFileName
	if name == "" {
		prefix := "screenshot"
		if p.Mode == ModeVideo {
			prefix = "recording"
		}
		return fmt.Sprintf("%s-%d.%s", prefix, now.UnixMilli(), format)
	}
	if !strings.HasSuffix(name, "."+format) {
		name += "." + format
	}
	return name
}

// ParseScale converts "125%" or "1.25" into a scale factor.
func ParseScale(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidScale
	}

	var (
		f   float64
		err error
	)
	if strings.HasSuffix(s, "%") {
		f, err = strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
		f /= 100
	} else {
		f, err = strconv.ParseFloat(s, 64)
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, ErrInvalidScale
	}
	return f, nil
}
