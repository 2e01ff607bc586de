package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete orion-scan configuration
type Config struct {
	InstanceID       string           `yaml:"instance_id"`
	ShutdownTimeoutS int              `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Log              LogConfig        `yaml:"log"`
	Camera           CameraConfig     `yaml:"camera"`
	Decoder          DecoderConfig    `yaml:"decoder"`
	Session          SessionConfig    `yaml:"session"`
	Acceptance       AcceptanceConfig `yaml:"acceptance"`
	HTTP             HTTPConfig       `yaml:"http"`
	MQTT             MQTTConfig       `yaml:"mqtt"`
}

// LogConfig selects slog level and handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// CameraConfig contains camera settings
type CameraConfig struct {
	Backend        string            `yaml:"backend"`      // gstreamer, mock
	Device         string            `yaml:"device"`       // fallback v4l2 device, empty = autovideosrc
	Devices        map[string]string `yaml:"devices"`      // facing mode -> device
	FacingMode     string            `yaml:"facing_mode"`  // environment, user
	IdealWidth     int               `yaml:"ideal_width"`  // requested width
	IdealHeight    int               `yaml:"ideal_height"` // requested height
	MaxRate        int               `yaml:"max_rate"`     // native fps cap
	SamplePeriodMS int               `yaml:"sample_period_ms"`
	StartTimeoutS  int               `yaml:"start_timeout_s"`
	Mock           MockCameraConfig  `yaml:"mock"`
}

// MockCameraConfig drives the synthetic camera
type MockCameraConfig struct {
	FPS      float64 `yaml:"fps"`
	ImageDir string  `yaml:"image_dir"` // png/jpeg frames looped in name order
	FailWith string  `yaml:"fail_with"` // permission_denied, device_unavailable, constraints_not_satisfiable
}

// DecoderConfig contains decode worker settings
type DecoderConfig struct {
	Mode          string   `yaml:"mode"`    // subprocess, inprocess
	Command       string   `yaml:"command"` // worker binary, default: this executable
	Symbologies   []string `yaml:"symbologies"`
	TryHarder     bool     `yaml:"try_harder"`
	MaxWidth      int      `yaml:"max_width"` // downscale wider frames, 0 = never
	StopTimeoutMS int      `yaml:"stop_timeout_ms"`
}

// SessionConfig contains scan session limits
type SessionConfig struct {
	DecodeTimeoutMS   int  `yaml:"decode_timeout_ms"` // 0 = wait forever
	MaxDurationS      int  `yaml:"max_duration_s"`    // 0 = unlimited
	MaxWorkerRestarts *int `yaml:"max_worker_restarts"`
}

// AcceptanceConfig configures the VIN gate
type AcceptanceConfig struct {
	FieldName  string `yaml:"field_name"`
	CheckDigit *bool  `yaml:"check_digit"`
}

// HTTPConfig contains the API listener
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Broker   string          `yaml:"broker"`
	ClientID string          `yaml:"client_id"`
	Topics   MQTTTopics      `yaml:"topics"`
	QoS      map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control string `yaml:"control"`
	Events  string `yaml:"events"`
	Overlay string `yaml:"overlay"`
}

// Load reads and parses a YAML configuration file. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	ApplyEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// SamplePeriod returns the frame sampling cadence
func (c *Config) SamplePeriod() time.Duration {
	return time.Duration(c.Camera.SamplePeriodMS) * time.Millisecond
}

// DecodeTimeout returns the per-request decode timeout (0 = none)
func (c *Config) DecodeTimeout() time.Duration {
	return time.Duration(c.Session.DecodeTimeoutMS) * time.Millisecond
}

// MaxDuration returns the session duration limit (0 = none)
func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.Session.MaxDurationS) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}
