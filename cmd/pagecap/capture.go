package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"pagecap-go/domain/capture"
)

// captureFlags maps command line flags onto capture parameter names.
type captureFlags struct {
	outDir string
	fields map[string]func() any
}

func captureFlagSet(cf *captureFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet("", pflag.ContinueOnError)
	def := capture.DefaultParams()

	mode := fs.StringP("mode", "m", string(def.Mode), "video or screenshot")
	presetName := fs.StringP("preset", "p", "", "named preset applied before the other flags")
	width := fs.Int("width", def.Width, "viewport width")
	height := fs.Int("height", def.Height, "viewport height")
	duration := fs.Float64P("duration", "d", def.Duration, "video length in seconds")
	frameRate := fs.Int("fps", def.FrameRate, "video frame rate")
	imageFormat := fs.String("image-format", def.ImageFormat, "png, jpeg or webp")
	imageQuality := fs.Int("image-quality", def.ImageQuality, "jpeg and webp quality 1-100")
	fullPage := fs.Bool("full-page", def.FullPage, "capture the full scrollable page")
	videoFormat := fs.StringP("format", "f", def.VideoFormat, "mp4, avi, webm or mov")
	videoQuality := fs.Int("quality", def.VideoQuality, "video quality 1-100")
	followNewTab := fs.Bool("follow-new-tab", def.FollowNewTab, "follow tabs opened during recording")
	recordNavigation := fs.Bool("record-navigation", def.RecordNavigation, "start recording before the page loads")
	initialDelay := fs.Float64("delay", def.InitialDelay, "seconds to wait before capturing")
	scale := fs.String("scale", def.Scale, "page scale, e.g. 125% or 0.75")
	output := fs.StringP("output", "o", "", "output file name")
	fs.StringVar(&cf.outDir, "out-dir", ".", "directory to write the artifact to")

	cf.fields = map[string]func() any{
		"mode":              func() any { return *mode },
		"preset":            func() any { return *presetName },
		"width":             func() any { return *width },
		"height":            func() any { return *height },
		"duration":          func() any { return *duration },
		"fps":               func() any { return *frameRate },
		"image-format":      func() any { return *imageFormat },
		"image-quality":     func() any { return *imageQuality },
		"full-page":         func() any { return *fullPage },
		"format":            func() any { return *videoFormat },
		"quality":           func() any { return *videoQuality },
		"follow-new-tab":    func() any { return *followNewTab },
		"record-navigation": func() any { return *recordNavigation },
		"delay":             func() any { return *initialDelay },
		"scale":             func() any { return *scale },
		"output":            func() any { return *output },
	}
	return fs
}

// paramNames maps flag names onto JSON parameter names.
var paramNames = map[string]string{
	"fps":               "frameRate",
	"image-format":      "imageFormat",
	"image-quality":     "imageQuality",
	"full-page":         "fullPage",
	"format":            "videoFormat",
	"quality":           "videoQuality",
	"follow-new-tab":    "followNewTab",
	"record-navigation": "recordNavigation",
	"delay":             "initialDelay",
	"output":            "outputFileName",
}

// overrides returns the explicitly set flags as a params JSON document.
func (cf *captureFlags) overrides(fs *pflag.FlagSet, url string) ([]byte, error) {
	doc := map[string]any{"url": url}
	for flagName, value := range cf.fields {
		if !fs.Changed(flagName) {
			continue
		}
		name := flagName
		if mapped, ok := paramNames[flagName]; ok {
			name = mapped
		}
		doc[name] = value()
	}
	return json.Marshal(doc)
}

func newCaptureCommand(flags *globalFlags) *cobra.Command {
	cf := &captureFlags{}

	cmd := &cobra.Command{
		Use:   "capture <url>",
		Short: "Capture one page to a file",
		Long: `Capture one page to a file.

  The artifact is written to --out-dir and its metadata is printed as JSON.`,
		Example: `  pagecap capture https://example.com --duration 10 --format webm
  pagecap capture https://example.com -m screenshot --full-page
  pagecap capture https://example.com --preset mobile`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			raw, err := cf.overrides(cmd.Flags(), args[0])
			if err != nil {
				return err
			}
			p, err := a.coordinator.ResolveParams(capture.DefaultParams(), raw)
			if err != nil {
				return err
			}

			artifact, err := a.coordinator.Execute(ctx, p)
			if err != nil {
				return err
			}

			fs := afero.NewOsFs()
			if err := fs.MkdirAll(cf.outDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			path := filepath.Join(cf.outDir, artifact.FileName)
			if err := afero.WriteFile(fs, path, artifact.Data, 0o644); err != nil {
				return fmt.Errorf("write artifact: %w", err)
			}
			a.logger.Info("Artifact written", "path", path, "size", artifact.Size())

			meta := make(map[string]any, len(artifact.Metadata)+1)
			for k, v := range artifact.Metadata {
				meta[k] = v
			}
			meta["path"] = path

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(meta)
		},
	}

	cmd.Flags().AddFlagSet(captureFlagSet(cf))
	return cmd
}
