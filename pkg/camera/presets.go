package camera

// Preset names for common configurations
const (
	PresetDefault = "default"
	Preset720p    = "720p"
	Preset1080p   = "1080p"
	PresetLowRate = "low-rate"
	PresetHighFPS = "high-fps"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault: DefaultConfig(),
		Preset720p:    HD720Config(),
		Preset1080p:   HD1080Config(),
		PresetLowRate: LowRateConfig(),
		PresetHighFPS: HighFPSConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		Preset720p,
		Preset1080p,
		PresetLowRate,
		PresetHighFPS,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	if cfg, ok := Presets()[name]; ok {
		return &cfg
	}
	return nil
}

// HD720Config returns 720p HD configuration.
func HD720Config() Config {
	cfg := DefaultConfig()
	cfg.Width = 1280
	cfg.Height = 720
	return cfg
}

// HD1080Config returns 1080p Full HD configuration.
// Estimators that crop the eye region benefit from the extra pixels.
func HD1080Config() Config {
	cfg := DefaultConfig()
	cfg.Width = 1920
	cfg.Height = 1080
	return cfg
}

// LowRateConfig returns a 15 fps configuration for slow estimators.
func LowRateConfig() Config {
	cfg := DefaultConfig()
	cfg.Framerate = 15
	return cfg
}

// HighFPSConfig returns 60 fps at 640x480 for eye trackers that support it.
func HighFPSConfig() Config {
	cfg := DefaultConfig()
	cfg.Framerate = 60
	return cfg
}
