package capture

// Artifact is the binary result of a capture together with the metadata the
// node reports to the host.
type Artifact struct {
	FileName string
	Format   string
	MimeType string
	Data     []byte
	Metadata map[string]any
}

// Size returns the artifact size in bytes.
func (a *Artifact) Size() int {
	return len(a.Data)
}

// NewArtifact builds the artifact and its metadata for a finished capture.
func NewArtifact(p *Params, fileName string, data []byte) *Artifact {
	return &Artifact{
		FileName: fileName,
		Format:   p.Format(),
		MimeType: p.MimeType(),
		Data:     data,
		Metadata: Metadata(p, fileName),
	}
}

// Metadata returns the JSON fields reported for a successful capture.
func Metadata(p *Params, fileName string) map[string]any {
	if p.Mode == ModeVideo {
		return map[string]any{
			"success":      true,
			"mode":         string(ModeVideo),
			"file":         fileName,
			"format":       p.VideoFormat,
			"duration":     p.Duration,
			"width":        p.Width,
			"height":       p.Height,
			"frameRate":    p.FrameRate,
			"initialDelay": p.InitialDelay,
			"scale":        p.Scale,
			"url":          p.URL,
		}
	}
	return map[string]any{
		"success":  true,
		"mode":     string(ModeScreenshot),
		"file":     fileName,
		"format":   p.ImageFormat,
		"width":    p.Width,
		"height":   p.Height,
		"fullPage": p.FullPage,
		"scale":    p.Scale,
		"url":      p.URL,
	}
}
