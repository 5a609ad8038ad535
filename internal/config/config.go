// Package config loads and validates the YAML file describing the
// global process settings and the per-camera motion-detection
// parameters. Validation runs entirely at load time so startup fails
// fast on a bad file rather than partway through bringing up cameras.
package config

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"gopkg.in/yaml.v3"
)

// Mode selects the detection strategy a camera runs. Only Motion is
// implemented; ObjectDetection is accepted for config compatibility
// with the source format but rejected at camera.NewWorker time.
type Mode string

const (
	ModeMotion          Mode = "motion"
	ModeObjectDetection Mode = "object_detection"
)

// PreviewFormat selects the attachment format a camera's alerts carry.
type PreviewFormat string

const (
	PreviewNone PreviewFormat = "none"
	PreviewJPEG PreviewFormat = "jpeg"
	PreviewGIF  PreviewFormat = "gif"
	PreviewWebP PreviewFormat = "webp"
)

// Camera holds one camera's source and motion-detection parameters.
type Camera struct {
	Name   string `yaml:"name"`
	Device string `yaml:"device"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
	Mode   Mode   `yaml:"mode"`

	ChangeMinimum      float64 `yaml:"change_minimum"`
	ChangeMaximum      float64 `yaml:"change_maximum"`
	StdDevMinimum      float64 `yaml:"stddev_minimum"`
	MinimumFrameCount  int     `yaml:"minimum_frame_count"`
	MinimumTotalChange float64 `yaml:"minimum_total_change"`
	FollowupFrameCount int     `yaml:"followup_frame_count"`
	MaximumFrameWait   int     `yaml:"maximum_frame_wait"`
	MaskFile           string  `yaml:"mask_file"`

	PreviewFormat       PreviewFormat `yaml:"preview_format"`
	OverlayTimestamp    bool          `yaml:"overlay_timestamp"`
	MaxPreviewDimension int           `yaml:"max_preview_dimension"`
}

// Config is the top-level process configuration.
type Config struct {
	EventDir        string `yaml:"event_dir"`
	EventStorePath  string `yaml:"event_store_path"`
	AlertEndpoint   string `yaml:"alert_endpoint"`
	AlertSigningKey string `yaml:"alert_signing_key"`
	MetricsAddr     string `yaml:"metrics_addr"`

	Cameras []Camera `yaml:"cameras"`
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross-field invariants that YAML's own type-checking
// cannot express: name uniqueness, numeric ranges, and mask file
// existence and dimensions.
func (c *Config) Validate() error {
	if len(c.Cameras) == 0 {
		return fmt.Errorf("no cameras configured")
	}
	if c.EventDir == "" {
		return fmt.Errorf("event_dir is required")
	}

	seen := make(map[string]bool, len(c.Cameras))
	for i := range c.Cameras {
		cam := &c.Cameras[i]
		if cam.Name == "" {
			return fmt.Errorf("camera %d: name is required", i)
		}
		if seen[cam.Name] {
			return fmt.Errorf("camera %q: duplicate name", cam.Name)
		}
		seen[cam.Name] = true

		if err := cam.validate(); err != nil {
			return fmt.Errorf("camera %q: %w", cam.Name, err)
		}
	}
	return nil
}

func (cam *Camera) validate() error {
	if cam.Device == "" {
		return fmt.Errorf("device is required")
	}
	if cam.Width <= 0 || cam.Height <= 0 {
		return fmt.Errorf("width and height must be positive, got %dx%d", cam.Width, cam.Height)
	}
	if cam.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %d", cam.FPS)
	}
	if cam.Mode == "" {
		cam.Mode = ModeMotion
	}
	if cam.ChangeMinimum < 0 || cam.ChangeMaximum <= cam.ChangeMinimum {
		return fmt.Errorf("change_maximum (%v) must exceed change_minimum (%v)", cam.ChangeMaximum, cam.ChangeMinimum)
	}
	if cam.MinimumFrameCount < 0 {
		return fmt.Errorf("minimum_frame_count must not be negative")
	}
	if cam.FollowupFrameCount < 0 {
		return fmt.Errorf("followup_frame_count must not be negative")
	}
	if cam.MaximumFrameWait < 0 {
		return fmt.Errorf("maximum_frame_wait must not be negative")
	}
	if cam.PreviewFormat == "" {
		cam.PreviewFormat = PreviewWebP
	}
	switch cam.PreviewFormat {
	case PreviewNone, PreviewJPEG, PreviewGIF, PreviewWebP:
	default:
		return fmt.Errorf("unknown preview_format %q", cam.PreviewFormat)
	}

	if cam.MaskFile != "" {
		if _, err := loadMask(cam.MaskFile, cam.Width, cam.Height); err != nil {
			return fmt.Errorf("mask_file: %w", err)
		}
	}
	return nil
}

// LoadMask reads cam.MaskFile and returns the mask byte slice
// internal/motion.Config expects, or nil if no mask is configured.
func (cam *Camera) LoadMask() ([]byte, error) {
	if cam.MaskFile == "" {
		return nil, nil
	}
	return loadMask(cam.MaskFile, cam.Width, cam.Height)
}

// loadMask decodes an image file and flattens it to one byte per pixel
// using its red channel: spec's mask convention treats a 0 byte as
// "included in the diff" and any other value as "excluded".
func loadMask(path string, width, height int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() != width || bounds.Dy() != height {
		return nil, fmt.Errorf("%s is %dx%d, camera expects %dx%d", path, bounds.Dx(), bounds.Dy(), width, height)
	}

	mask := make([]byte, width*height)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, _, _, _ := img.At(x, y).RGBA()
			mask[i] = byte(r >> 8)
			i++
		}
	}
	return mask, nil
}
