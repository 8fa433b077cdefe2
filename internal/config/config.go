// Package config loads the eyetouch harness configuration from a YAML file,
// an optional .env file and EYETOUCH_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-eyetouch/pkg/camera"
	"github.com/teslashibe/go-eyetouch/pkg/engine"
	"github.com/teslashibe/go-eyetouch/pkg/mqttbus"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EYETOUCH_"

// Gaze source kinds.
const (
	SourceIngest    = "ingest"    // Estimators connect to /ws/gaze
	SourceMQTT      = "mqtt"      // Subscribe to the MQTT gaze topic
	SourceWebSocket = "websocket" // Dial an estimator's websocket
	SourceReplay    = "replay"    // Play back a JSON-lines recording
	SourceCamera    = "camera"    // OpenCV capture through the estimator
	SourceMock      = "mock"      // Mock estimator on a frame ticker
)

// SourceConfig selects where gaze samples come from.
type SourceConfig struct {
	Kind       string  `yaml:"kind"`
	URL        string  `yaml:"url"`         // websocket
	ReplayPath string  `yaml:"replay_path"` // replay
	Speed      float64 `yaml:"speed"`       // replay pacing, 0 = as fast as possible
}

// MQTTConfig enables the MQTT bus.
type MQTTConfig struct {
	Enabled        bool `yaml:"enabled"`
	mqttbus.Config `yaml:",inline"`
}

// WebConfig configures the operator API.
type WebConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
}

// Config is the complete harness configuration.
type Config struct {
	Engine        engine.Config `yaml:"engine"`
	InboxCapacity int           `yaml:"inbox_capacity"`
	Source        SourceConfig  `yaml:"source"`
	Camera        camera.Config `yaml:"camera"`
	MQTT          MQTTConfig    `yaml:"mqtt"`
	Web           WebConfig     `yaml:"web"`
	ArchivePath   string        `yaml:"archive_path"` // Empty disables the archive
	ExportDir     string        `yaml:"export_dir"`   // Empty disables CSV files on session end
	LogLevel      string        `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Engine:        engine.DefaultConfig(),
		InboxCapacity: engine.DefaultSampleCapacity,
		Source:        SourceConfig{Kind: SourceIngest},
		Camera:        camera.DefaultConfig(),
		MQTT:          MQTTConfig{Config: mqttbus.DefaultConfig()},
		Web:           WebConfig{Addr: ":8080"},
		ArchivePath:   "data/eyetouch.db",
		ExportDir:     "exports",
		LogLevel:      "info",
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is not empty), then .env, then EYETOUCH_* variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("load config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	// Load .env file if it exists
	_ = godotenv.Load()

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.InboxCapacity < 1 {
		return fmt.Errorf("inbox_capacity must be positive, got %d", c.InboxCapacity)
	}
	switch c.Source.Kind {
	case SourceIngest, SourceMQTT, SourceCamera, SourceMock:
	case SourceWebSocket:
		if c.Source.URL == "" {
			return errors.New("source.url is required for the websocket source")
		}
	case SourceReplay:
		if c.Source.ReplayPath == "" {
			return errors.New("source.replay_path is required for the replay source")
		}
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}
	if c.Source.Kind == SourceMQTT && !c.MQTT.Enabled {
		return errors.New("the mqtt source requires mqtt.enabled")
	}
	if c.MQTT.Enabled {
		if err := c.MQTT.Validate(); err != nil {
			return err
		}
	}
	if c.Source.Kind == SourceCamera || c.Source.Kind == SourceMock {
		if errs := c.Camera.Validate(); len(errs) > 0 {
			return fmt.Errorf("camera: %v", errs)
		}
	}
	return nil
}

// applyEnv overrides fields from EYETOUCH_* variables.
func applyEnv(c *Config) error {
	var errs []error
	intVar := func(key string, dst *int) {
		if v := getEnv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	floatVar := func(key string, dst *float64) {
		if v := getEnv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	durationVar := func(key string, dst *time.Duration) {
		if v := getEnv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	boolVar := func(key string, dst *bool) {
		if v := getEnv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	stringVar := func(key string, dst *string) {
		if v := getEnv(key); v != "" {
			*dst = v
		}
	}

	intVar("GRID_ROWS", &c.Engine.GridRows)
	intVar("GRID_COLS", &c.Engine.GridCols)
	floatVar("SCREEN_WIDTH", &c.Engine.ScreenWidth)
	floatVar("SCREEN_HEIGHT", &c.Engine.ScreenHeight)
	intVar("CALIBRATION_POINTS", &c.Engine.CalibrationPoints)
	durationVar("DWELL_THRESHOLD", &c.Engine.DwellThreshold)
	durationVar("MAX_TRIAL_DURATION", &c.Engine.MaxTrialDuration)
	floatVar("CONFIDENCE_THRESHOLD", &c.Engine.ConfidenceThreshold)
	intVar("SELECTION_COUNT", &c.Engine.SelectionCount)
	intVar("INBOX_CAPACITY", &c.InboxCapacity)

	stringVar("SOURCE", &c.Source.Kind)
	stringVar("SOURCE_URL", &c.Source.URL)
	stringVar("REPLAY_PATH", &c.Source.ReplayPath)
	floatVar("REPLAY_SPEED", &c.Source.Speed)

	intVar("CAMERA_DEVICE", &c.Camera.Device)
	intVar("CAMERA_FRAMERATE", &c.Camera.Framerate)

	boolVar("MQTT_ENABLED", &c.MQTT.Enabled)
	stringVar("MQTT_BROKER", &c.MQTT.Broker)
	stringVar("MQTT_CLIENT_ID", &c.MQTT.ClientID)
	stringVar("MQTT_USERNAME", &c.MQTT.Username)
	stringVar("MQTT_PASSWORD", &c.MQTT.Password)
	stringVar("MQTT_GAZE_TOPIC", &c.MQTT.GazeTopic)
	stringVar("MQTT_EVENT_TOPIC", &c.MQTT.EventTopic)

	stringVar("WEB_ADDR", &c.Web.Addr)
	stringVar("STATIC_DIR", &c.Web.StaticDir)
	stringVar("ARCHIVE_PATH", &c.ArchivePath)
	stringVar("EXPORT_DIR", &c.ExportDir)
	stringVar("LOG_LEVEL", &c.LogLevel)

	return errors.Join(errs...)
}

// getEnv returns the EYETOUCH_-prefixed variable.
func getEnv(key string) string {
	return os.Getenv(EnvPrefix + key)
}
