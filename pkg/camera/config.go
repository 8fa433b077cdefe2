// Package camera provides the camera settings and the frame-to-gaze source
// that turns captured frames into samples through a gaze estimator.
package camera

// Config holds the capture parameters. They can be changed at runtime
// through the camera API.
type Config struct {
	Device    int  `json:"device" yaml:"device"`       // Capture device index
	Width     int  `json:"width" yaml:"width"`         // Frame width in pixels
	Height    int  `json:"height" yaml:"height"`       // Frame height in pixels
	Framerate int  `json:"framerate" yaml:"framerate"` // Target FPS
	Quality   int  `json:"quality" yaml:"quality"`     // JPEG quality 1-100
	Mirror    bool `json:"mirror" yaml:"mirror"`       // Flip horizontally before encoding
}

// Capture limits
const (
	MaxWidth     = 3840
	MaxHeight    = 2160
	MaxFramerate = 120
)

// DefaultConfig returns 640x480 at 30 fps, the rate the engine's inbox is
// sized for.
func DefaultConfig() Config {
	return Config{
		Device:    0,
		Width:     640,
		Height:    480,
		Framerate: 30,
		Quality:   85,
		Mirror:    true,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Device < 0 {
		errors = append(errors, "device must not be negative")
	}
	if c.Width < 160 || c.Width > MaxWidth {
		errors = append(errors, "width must be between 160 and 3840")
	}
	if c.Height < 120 || c.Height > MaxHeight {
		errors = append(errors, "height must be between 120 and 2160")
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errors = append(errors, "framerate must be between 1 and 120")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}

	return errors
}

// Capabilities returns the capture limits for the camera API.
func Capabilities() map[string]interface{} {
	return map[string]interface{}{
		"max_width":     MaxWidth,
		"max_height":    MaxHeight,
		"max_framerate": MaxFramerate,
		"presets":       PresetNames(),
	}
}
