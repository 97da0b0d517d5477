package resources

import (
	"embed"
)

//go:embed presets/*.yaml
var PresetFiles embed.FS
