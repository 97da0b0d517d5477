package preset

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"pagecap-go/domain/capture"

	"gopkg.in/yaml.v3"
)

// yamlPreset is the YAML structure for preset definitions.
type yamlPreset struct {
	Name             string   `yaml:"name"`
	Description      string   `yaml:"description"`
	Mode             *string  `yaml:"mode,omitempty"`
	Width            *int     `yaml:"width,omitempty"`
	Height           *int     `yaml:"height,omitempty"`
	Duration         *float64 `yaml:"duration,omitempty"`
	FrameRate        *int     `yaml:"frameRate,omitempty"`
	ImageFormat      *string  `yaml:"imageFormat,omitempty"`
	ImageQuality     *int     `yaml:"imageQuality,omitempty"`
	FullPage         *bool    `yaml:"fullPage,omitempty"`
	VideoFormat      *string  `yaml:"videoFormat,omitempty"`
	VideoQuality     *int     `yaml:"videoQuality,omitempty"`
	FollowNewTab     *bool    `yaml:"followNewTab,omitempty"`
	InitialDelay     *float64 `yaml:"initialDelay,omitempty"`
	Scale            *string  `yaml:"scale,omitempty"`
	RecordNavigation *bool    `yaml:"recordNavigation,omitempty"`
}

// Loader handles loading preset definitions from various sources.
type Loader struct {
	registry *Registry
}

// NewLoader creates a new preset loader that populates the given registry.
func NewLoader(registry *Registry) *Loader {
	return &Loader{registry: registry}
}

// LoadFromFS loads preset definitions from an embedded or real filesystem.
// It expects YAML files in a "presets" subdirectory.
func (l *Loader) LoadFromFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, "presets")
	if err != nil {
		return fmt.Errorf("failed to read presets directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		if err := l.loadFile(fsys, "presets/"+entry.Name()); err != nil {
			return err
		}
	}

	return nil
}

// loadFile loads a single preset definition file.
func (l *Loader) loadFile(fsys fs.FS, path string) error {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return fmt.Errorf("failed to read preset file %s: %w", path, err)
	}

	var yp yamlPreset
	if err := yaml.Unmarshal(data, &yp); err != nil {
		return fmt.Errorf("failed to parse preset file %s: %w", path, err)
	}
	if yp.Name == "" {
		return fmt.Errorf("preset file %s has no name", path)
	}

	l.registry.Register(convertYAMLPreset(&yp))
	return nil
}

// convertYAMLPreset converts a YAML preset to a domain Preset.
func convertYAMLPreset(yp *yamlPreset) *Preset {
	p := &Preset{
		Name:             yp.Name,
		Description:      yp.Description,
		Width:            yp.Width,
		Height:           yp.Height,
		Duration:         yp.Duration,
		FrameRate:        yp.FrameRate,
		ImageFormat:      yp.ImageFormat,
		ImageQuality:     yp.ImageQuality,
		FullPage:         yp.FullPage,
		VideoFormat:      yp.VideoFormat,
		VideoQuality:     yp.VideoQuality,
		FollowNewTab:     yp.FollowNewTab,
		InitialDelay:     yp.InitialDelay,
		Scale:            yp.Scale,
		RecordNavigation: yp.RecordNavigation,
	}
	if yp.Mode != nil {
		mode := capture.Mode(*yp.Mode)
		p.Mode = &mode
	}
	return p
}
