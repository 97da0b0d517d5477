// Package preset defines named capture parameter bundles.
package preset

import "pagecap-go/domain/capture"

// Preset is a named set of capture parameter overrides.
// Nil fields leave the corresponding parameter untouched.
type Preset struct {
	// Name is the unique identifier used in requests
	Name string

	// Description explains what the preset is for
	Description string

	Mode             *capture.Mode
	Width            *int
	Height           *int
	Duration         *float64
	FrameRate        *int
	ImageFormat      *string
	ImageQuality     *int
	FullPage         *bool
	VideoFormat      *string
	VideoQuality     *int
	FollowNewTab     *bool
	InitialDelay     *float64
	Scale            *string
	RecordNavigation *bool
}

// Apply copies every field the preset sets onto p.
func (ps *Preset) Apply(p *capture.Params) {
	if ps.Mode != nil {
		p.Mode = *ps.Mode
	}
	if ps.Width != nil {
		p.Width = *ps.Width
	}
	if ps.Height != nil {
		p.Height = *ps.Height
	}
	if ps.Duration != nil {
		p.Duration = *ps.Duration
	}
	if ps.FrameRate != nil {
		p.FrameRate = *ps.FrameRate
	}
	if ps.ImageFormat != nil {
		p.ImageFormat = *ps.ImageFormat
	}
	if ps.ImageQuality != nil {
		p.ImageQuality = *ps.ImageQuality
	}
	if ps.FullPage != nil {
		p.FullPage = *ps.FullPage
	}
	if ps.VideoFormat != nil {
		p.VideoFormat = *ps.VideoFormat
	}
	if ps.VideoQuality != nil {
		p.VideoQuality = *ps.VideoQuality
	}
	if ps.FollowNewTab != nil {
		p.FollowNewTab = *ps.FollowNewTab
	}
	if ps.InitialDelay != nil {
		p.InitialDelay = *ps.InitialDelay
	}
	if ps.Scale != nil {
		p.Scale = *ps.Scale
	}
	if ps.RecordNavigation != nil {
		p.RecordNavigation = *ps.RecordNavigation
	}
}

// Fields returns the names of the parameters the preset sets, in a stable order.
func (ps *Preset) Fields() []string {
	var fields []string
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(ps.Mode != nil, "mode")
	add(ps.Width != nil, "width")
	add(ps.Height != nil, "height")
	add(ps.Duration != nil, "duration")
	add(ps.FrameRate != nil, "frameRate")
	add(ps.ImageFormat != nil, "imageFormat")
	add(ps.ImageQuality != nil, "imageQuality")
	add(ps.FullPage != nil, "fullPage")
	add(ps.VideoFormat != nil, "videoFormat")
	add(ps.VideoQuality != nil, "videoQuality")
	add(ps.FollowNewTab != nil, "followNewTab")
	add(ps.InitialDelay != nil, "initialDelay")
	add(ps.Scale != nil, "scale")
	add(ps.RecordNavigation != nil, "recordNavigation")
	return fields
}
