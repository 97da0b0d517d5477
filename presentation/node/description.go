package node

import "pagecap-go/domain/capture"

// Property types.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeOptions = "options"
)

// Option is one choice of an options property.
type Option struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// DisplayOptions shows a property only when other parameters hold one of the listed values.
type DisplayOptions struct {
	Show map[string][]string `json:"show"`
}

// Property describes one node parameter.
type Property struct {
	DisplayName    string          `json:"displayName"`
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	Default        any             `json:"default"`
	Required       bool            `json:"required,omitempty"`
	Placeholder    string          `json:"placeholder,omitempty"`
	Description    string          `json:"description"`
	Options        []Option        `json:"options,omitempty"`
	DisplayOptions *DisplayOptions `json:"displayOptions,omitempty"`
}

// Description describes the node to a workflow host.
type Description struct {
	DisplayName string     `json:"displayName"`
	Name        string     `json:"name"`
	Group       []string   `json:"group"`
	Version     int        `json:"version"`
	Description string     `json:"description"`
	Inputs      []string   `json:"inputs"`
	Outputs     []string   `json:"outputs"`
	Properties  []Property `json:"properties"`
}

func showFor(mode capture.Mode) *DisplayOptions {
	return &DisplayOptions{Show: map[string][]string{"mode": {string(mode)}}}
}

// Description returns the node descriptor with the node defaults filled in.
func (n *Node) Description() Description {
	d := n.defaults

	return Description{
		DisplayName: "Page Capture",
		Name:        "pageCapture",
		Group:       []string{"transform"},
		Version:     1,
		Description: "Record a website or take a screenshot with a headless browser",
		Inputs:      []string{"main"},
		Outputs:     []string{"main"},
		Properties: []Property{
			{
				DisplayName: "Mode",
				Name:        "mode",
				Type:        TypeOptions,
				Default:     string(d.Mode),
				Options: []Option{
					{Name: "Video Recording", Value: string(capture.ModeVideo)},
					{Name: "Screenshot", Value: string(capture.ModeScreenshot)},
				},
				Description: "Whether to record a video or take a screenshot.",
			},
			{
				DisplayName: "URL",
				Name:        "url",
				Type:        TypeString,
				Default:     d.URL,
				Required:    true,
				Placeholder: "https://example.com",
				Description: "The URL of the website to record/capture.",
			},
			{
				DisplayName: "Preset",
				Name:        "preset",
				Type:        TypeString,
				Default:     d.Preset,
				Description: "Named parameter bundle applied before the other fields.",
			},
			{
				DisplayName: "Width",
				Name:        "width",
				Type:        TypeNumber,
				Default:     d.Width,
				Description: "The width of the viewport.",
			},
			{
				DisplayName: "Height",
				Name:        "height",
				Type:        TypeNumber,
				Default:     d.Height,
				Description: "The height of the viewport.",
			},
			{
				DisplayName:    "Duration",
				Name:           "duration",
				Type:           TypeNumber,
				Default:        d.Duration,
				Description:    "The duration of the recording in seconds.",
				DisplayOptions: showFor(capture.ModeVideo),
			},
			{
				DisplayName:    "Frame Rate",
				Name:           "frameRate",
				Type:           TypeNumber,
				Default:        d.FrameRate,
				Description:    "The frame rate of the recording.",
				DisplayOptions: showFor(capture.ModeVideo),
			},
			{
				DisplayName: "Image Format",
				Name:        "imageFormat",
				Type:        TypeOptions,
				Default:     d.ImageFormat,
				Options: []Option{
					{Name: "PNG", Value: capture.ImagePNG},
					{Name: "JPEG", Value: capture.ImageJPEG},
					{Name: "WEBP", Value: capture.ImageWebP},
				},
				Description:    "The format of the screenshot image.",
				DisplayOptions: showFor(capture.ModeScreenshot),
			},
			{
				DisplayName:    "Image Quality",
				Name:           "imageQuality",
				Type:           TypeNumber,
				Default:        d.ImageQuality,
				Description:    "The quality of JPEG and WEBP screenshots (1-100).",
				DisplayOptions: showFor(capture.ModeScreenshot),
			},
			{
				DisplayName:    "Full Page",
				Name:           "fullPage",
				Type:           TypeBoolean,
				Default:        d.FullPage,
				Description:    "Whether to take a screenshot of the full scrollable page.",
				DisplayOptions: showFor(capture.ModeScreenshot),
			},
			{
				DisplayName: "Output File Name",
				Name:        "outputFileName",
				Type:        TypeString,
				Default:     d.OutputFileName,
				Description: "The name of the output file. If empty, will use timestamp.",
			},
			{
				DisplayName: "Video Format",
				Name:        "videoFormat",
				Type:        TypeOptions,
				Default:     d.VideoFormat,
				Options: []Option{
					{Name: "MP4", Value: capture.VideoMP4},
					{Name: "AVI", Value: capture.VideoAVI},
					{Name: "WEBM", Value: capture.VideoWebM},
					{Name: "MOV", Value: capture.VideoMOV},
				},
				Description: "The format of the output video file.",
			},
			{
				DisplayName: "Video Quality",
				Name:        "videoQuality",
				Type:        TypeNumber,
				Default:     d.VideoQuality,
				Description: "The quality of the video (1-100).",
			},
			{
				DisplayName: "Follow New Tabs",
				Name:        "followNewTab",
				Type:        TypeBoolean,
				Default:     d.FollowNewTab,
				Description: "Whether to follow and record new tabs opened during recording.",
			},
			{
				DisplayName:    "Record Navigation",
				Name:           "recordNavigation",
				Type:           TypeBoolean,
				Default:        d.RecordNavigation,
				Description:    "Whether to start recording before the page is loaded.",
				DisplayOptions: showFor(capture.ModeVideo),
			},
			{
				DisplayName: "Initial Delay",
				Name:        "initialDelay",
				Type:        TypeNumber,
				Default:     d.InitialDelay,
				Description: "Time to wait in seconds before starting the capture or recording",
			},
			{
				DisplayName: "Scale",
				Name:        "scale",
				Type:        TypeString,
				Default:     d.Scale,
				Placeholder: "100%",
				Description: "Scale factor for the browser (e.g. 100%, 125%, 75% or 1, 1.25, 0.75)",
			},
		},
	}
}
