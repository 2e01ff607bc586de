package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/e7canasta/orion-scan/internal/camera"
	"github.com/e7canasta/orion-scan/internal/decoder"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "scanner"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if err := validateLog(&cfg.Log); err != nil {
		return err
	}
	if err := validateCamera(&cfg.Camera); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if err := validateDecoder(&cfg.Decoder); err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	if err := validateSession(&cfg.Session); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	if cfg.Acceptance.FieldName == "" {
		cfg.Acceptance.FieldName = "vin"
	}
	if cfg.Acceptance.CheckDigit == nil {
		on := true
		cfg.Acceptance.CheckDigit = &on
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}

	return validateMQTT(cfg)
}

func validateLog(l *LogConfig) error {
	l.Level = strings.ToLower(l.Level)
	switch l.Level {
	case "":
		l.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", l.Level)
	}

	l.Format = strings.ToLower(l.Format)
	switch l.Format {
	case "":
		l.Format = "json"
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", l.Format)
	}
	return nil
}

func validateCamera(c *CameraConfig) error {
	switch c.Backend {
	case "":
		c.Backend = "gstreamer"
	case "gstreamer", "mock":
	default:
		return fmt.Errorf("backend must be gstreamer or mock, got %q", c.Backend)
	}

	switch c.FacingMode {
	case "":
		c.FacingMode = "environment"
	case "environment", "user":
	default:
		return fmt.Errorf("facing_mode must be environment or user, got %q", c.FacingMode)
	}

	if c.IdealWidth < 0 || c.IdealHeight < 0 {
		return fmt.Errorf("ideal_width/ideal_height must be >= 0")
	}
	if c.IdealWidth == 0 {
		c.IdealWidth = 1280
	}
	if c.IdealHeight == 0 {
		c.IdealHeight = 720
	}

	if c.SamplePeriodMS < 0 {
		return fmt.Errorf("sample_period_ms must be > 0")
	}
	if c.SamplePeriodMS == 0 {
		c.SamplePeriodMS = int(camera.DefaultSamplePeriod.Milliseconds())
	}
	if c.MaxRate < 0 {
		return fmt.Errorf("max_rate must be >= 0")
	}
	if c.MaxRate == 0 {
		c.MaxRate = 30
	}
	if c.StartTimeoutS <= 0 {
		c.StartTimeoutS = 5
	}

	if c.Mock.FPS <= 0 {
		c.Mock.FPS = 30
	}
	if c.Mock.FailWith != "" {
		if _, err := camera.ParseErrorKind(c.Mock.FailWith); err != nil {
			return fmt.Errorf("mock.fail_with: %w", err)
		}
	}
	return nil
}

func validateDecoder(d *DecoderConfig) error {
	switch d.Mode {
	case "":
		d.Mode = "subprocess"
	case "subprocess", "inprocess":
	default:
		return fmt.Errorf("mode must be subprocess or inprocess, got %q", d.Mode)
	}

	if len(d.Symbologies) == 0 {
		d.Symbologies = append([]string(nil), decoder.DefaultSymbologies...)
	}
	// Reject unknown names at load time rather than at the first scan.
	if _, err := decoder.New(decoder.Config{Symbologies: d.Symbologies}); err != nil {
		return err
	}

	if d.MaxWidth < 0 {
		return fmt.Errorf("max_width must be >= 0")
	}
	if d.StopTimeoutMS <= 0 {
		d.StopTimeoutMS = 2000
	}
	return nil
}

func validateSession(s *SessionConfig) error {
	if s.DecodeTimeoutMS < 0 {
		return fmt.Errorf("decode_timeout_ms must be >= 0")
	}
	if s.MaxDurationS < 0 {
		return fmt.Errorf("max_duration_s must be >= 0")
	}
	if s.MaxWorkerRestarts == nil {
		one := 1
		s.MaxWorkerRestarts = &one
	}
	if *s.MaxWorkerRestarts < 0 {
		return fmt.Errorf("max_worker_restarts must be >= 0")
	}
	return nil
}

func validateMQTT(cfg *Config) error {
	m := &cfg.MQTT
	if !m.Enabled {
		return nil
	}
	if m.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if m.ClientID == "" {
		m.ClientID = fmt.Sprintf("orion-scan-%s", cfg.InstanceID)
	}

	if m.Topics.Control == "" {
		m.Topics.Control = fmt.Sprintf("orion/scan/%s/control", cfg.InstanceID)
	}
	if m.Topics.Events == "" {
		m.Topics.Events = fmt.Sprintf("orion/scan/%s/events", cfg.InstanceID)
	}
	if m.Topics.Overlay == "" {
		m.Topics.Overlay = fmt.Sprintf("orion/scan/%s/overlay", cfg.InstanceID)
	}

	if m.QoS == nil {
		m.QoS = map[string]byte{}
	}
	defaults := map[string]byte{"control": 1, "events": 1, "overlay": 0}
	for k, v := range defaults {
		if _, ok := m.QoS[k]; !ok {
			m.QoS[k] = v
		}
	}
	for k, v := range m.QoS {
		if v > 2 {
			return fmt.Errorf("mqtt.qos.%s must be 0, 1 or 2", k)
		}
	}
	return nil
}
