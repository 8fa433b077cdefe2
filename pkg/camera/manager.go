package camera

import (
	"fmt"
	"sync"
)

// Patch is a partial camera update. Nil fields keep their current value.
// Preset, when set, replaces everything except the device before the other
// fields are applied.
type Patch struct {
	Preset    *string `json:"preset,omitempty"`
	Device    *int    `json:"device,omitempty"`
	Width     *int    `json:"width,omitempty"`
	Height    *int    `json:"height,omitempty"`
	Framerate *int    `json:"framerate,omitempty"`
	Quality   *int    `json:"quality,omitempty"`
	Mirror    *bool   `json:"mirror,omitempty"`
}

// State is what the camera API reports.
type State struct {
	Config
	Applied   uint64 `json:"applied"`              // Successful updates since start
	LastError string `json:"last_error,omitempty"` // Last failed apply, if any
}

// Manager owns the live camera settings. Updates are validated, pushed to
// the capture device through OnConfigChange, and rolled back if the device
// rejects them.
type Manager struct {
	mu        sync.Mutex
	config    Config
	applied   uint64
	lastError string

	// OnConfigChange applies settings to the capture device. Optional.
	OnConfigChange func(cfg Config) error
}

// NewManager creates a manager starting from cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// GetConfig returns the current settings.
func (m *Manager) GetConfig() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// State returns the settings with update counters.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{Config: m.config, Applied: m.applied, LastError: m.lastError}
}

// SetConfig replaces the settings.
func (m *Manager) SetConfig(cfg Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}

	// Held across the callback so concurrent updates reach the device in order.
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.OnConfigChange != nil {
		if err := m.OnConfigChange(cfg); err != nil {
			m.lastError = err.Error()
			return fmt.Errorf("failed to apply config: %w", err)
		}
	}
	m.config = cfg
	m.applied++
	m.lastError = ""
	return nil
}

// Apply merges p into the current settings and applies the result.
func (m *Manager) Apply(p Patch) (Config, error) {
	cfg, err := p.merge(m.GetConfig())
	if err != nil {
		return m.GetConfig(), err
	}
	if err := m.SetConfig(cfg); err != nil {
		return m.GetConfig(), err
	}
	return cfg, nil
}

func (p Patch) merge(cfg Config) (Config, error) {
	if p.Preset != nil {
		preset := GetPreset(*p.Preset)
		if preset == nil {
			return cfg, fmt.Errorf("unknown preset: %s", *p.Preset)
		}
		device := cfg.Device
		cfg = *preset
		cfg.Device = device
	}
	setInt(&cfg.Device, p.Device)
	setInt(&cfg.Width, p.Width)
	setInt(&cfg.Height, p.Height)
	setInt(&cfg.Framerate, p.Framerate)
	setInt(&cfg.Quality, p.Quality)
	if p.Mirror != nil {
		cfg.Mirror = *p.Mirror
	}
	return cfg, nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
