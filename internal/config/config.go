// Package config holds the hydrolink configuration. Every timing and buffer
// constant of the session and reassembly layers has a default matching the
// sensor firmware contract; a YAML file may override them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Sensor     SensorConfig     `yaml:"sensor"`
	Session    SessionConfig    `yaml:"session"`
	Reassembly ReassemblyConfig `yaml:"reassembly"`
	Compliance ComplianceConfig `yaml:"compliance"`
	LogLevel   string           `yaml:"log_level" default:"info"`
}

// SensorConfig is the fixed BLE contract with the sensor firmware.
type SensorConfig struct {
	ServiceUUID        string   `yaml:"service_uuid" default:"12345678-1234-1234-1234-123456789abc"`
	CharacteristicUUID string   `yaml:"characteristic_uuid" default:"87654321-4321-4321-4321-cba987654321"`
	DeviceID           string   `yaml:"device_id" default:"ESP32-WaterSensor"`
	NameTokens         []string `yaml:"name_tokens"`
}

// SessionConfig controls connection lifecycle timing.
type SessionConfig struct {
	ScanWindow         time.Duration `yaml:"scan_window" default:"10s"`
	ConnectAttempts    int           `yaml:"connect_attempts" default:"3"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout" default:"15s"`
	ConnectBackoff     time.Duration `yaml:"connect_backoff" default:"2s"`
	ConnectDebounce    time.Duration `yaml:"connect_debounce" default:"2s"`
	DisconnectDebounce time.Duration `yaml:"disconnect_debounce" default:"1s"`
	StopGracePeriod    time.Duration `yaml:"stop_grace_period" default:"2s"`
	RecoveryIdle       time.Duration `yaml:"recovery_idle" default:"3s"`
}

// ReassemblyConfig bounds the notification stream accumulator.
type ReassemblyConfig struct {
	SoftThreshold int `yaml:"soft_threshold" default:"100"`
	HardCap       int `yaml:"hard_cap" default:"1000"`
}

// ComplianceConfig controls test-history compliance tracking.
type ComplianceConfig struct {
	TestInterval       time.Duration `yaml:"test_interval" default:"168h"`
	VibrationThreshold float64       `yaml:"vibration_threshold" default:"1.5"`
}

// Default returns a Config populated from the struct default tags.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	// SetDefaults cannot express slice defaults for strings with mixed case
	// semantics; set the discovery tokens explicitly.
	cfg.Sensor.NameTokens = []string{"esp32", "water", "xiao", "seeed"}
	return cfg
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "hydrolink", "config.yaml")
}

// Load reads a YAML config file on top of the defaults. Fields missing from
// the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Validate rejects configurations the session layer cannot operate with.
func (c *Config) Validate() error {
	if c.Sensor.ServiceUUID == "" {
		return fmt.Errorf("sensor.service_uuid is required")
	}
	if c.Sensor.CharacteristicUUID == "" {
		return fmt.Errorf("sensor.characteristic_uuid is required")
	}
	if c.Session.ConnectAttempts < 1 {
		return fmt.Errorf("session.connect_attempts must be at least 1, got %d", c.Session.ConnectAttempts)
	}
	if c.Reassembly.HardCap <= c.Reassembly.SoftThreshold {
		return fmt.Errorf("reassembly.hard_cap (%d) must exceed soft_threshold (%d)",
			c.Reassembly.HardCap, c.Reassembly.SoftThreshold)
	}
	return nil
}
