package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment overrides applied on top of the YAML file.
const (
	EnvHTTPAddr     = "ORION_SCAN_HTTP_ADDR"
	EnvMQTTBroker   = "ORION_SCAN_MQTT_BROKER"
	EnvLogLevel     = "ORION_SCAN_LOG_LEVEL"
	EnvLogFormat    = "ORION_SCAN_LOG_FORMAT"
	EnvCameraDevice = "ORION_SCAN_CAMERA_DEVICE"
	EnvDecoderMode  = "ORION_SCAN_DECODER_MODE"
	EnvInstanceID   = "ORION_SCAN_INSTANCE_ID"
	EnvSamplePeriod = "ORION_SCAN_SAMPLE_PERIOD_MS"
)

// LoadDotEnv loads .env files into the environment. Missing files are not an
// error; with no paths, ".env" is tried.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// GetEnv returns the value of key, or fallback if unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of key, or fallback if unset or invalid.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// ApplyEnv overrides cfg fields from the environment.
func ApplyEnv(cfg *Config) {
	cfg.InstanceID = GetEnv(EnvInstanceID, cfg.InstanceID)
	cfg.HTTP.Addr = GetEnv(EnvHTTPAddr, cfg.HTTP.Addr)
	cfg.Log.Level = GetEnv(EnvLogLevel, cfg.Log.Level)
	cfg.Log.Format = GetEnv(EnvLogFormat, cfg.Log.Format)
	cfg.Camera.Device = GetEnv(EnvCameraDevice, cfg.Camera.Device)
	cfg.Camera.SamplePeriodMS = GetEnvInt(EnvSamplePeriod, cfg.Camera.SamplePeriodMS)
	cfg.Decoder.Mode = GetEnv(EnvDecoderMode, cfg.Decoder.Mode)

	if broker := os.Getenv(EnvMQTTBroker); broker != "" {
		cfg.MQTT.Broker = broker
		cfg.MQTT.Enabled = true
	}
}
