package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "12345678-1234-1234-1234-123456789abc", cfg.Sensor.ServiceUUID)
	assert.Equal(t, "87654321-4321-4321-4321-cba987654321", cfg.Sensor.CharacteristicUUID)
	assert.Equal(t, "ESP32-WaterSensor", cfg.Sensor.DeviceID)
	assert.Equal(t, []string{"esp32", "water", "xiao", "seeed"}, cfg.Sensor.NameTokens)

	assert.Equal(t, 10*time.Second, cfg.Session.ScanWindow)
	assert.Equal(t, 3, cfg.Session.ConnectAttempts)
	assert.Equal(t, 15*time.Second, cfg.Session.ConnectTimeout)
	assert.Equal(t, 2*time.Second, cfg.Session.ConnectBackoff)
	assert.Equal(t, 2*time.Second, cfg.Session.ConnectDebounce)
	assert.Equal(t, time.Second, cfg.Session.DisconnectDebounce)
	assert.Equal(t, 2*time.Second, cfg.Session.StopGracePeriod)
	assert.Equal(t, 3*time.Second, cfg.Session.RecoveryIdle)

	assert.Equal(t, 100, cfg.Reassembly.SoftThreshold)
	assert.Equal(t, 1000, cfg.Reassembly.HardCap)

	assert.Equal(t, 7*24*time.Hour, cfg.Compliance.TestInterval)
	assert.Equal(t, 1.5, cfg.Compliance.VibrationThreshold)
	assert.Equal(t, "info", cfg.LogLevel)

	require.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
session:
  scan_window: 5s
  connect_attempts: 2
reassembly:
  hard_cap: 2000
log_level: debug
`), 0o644))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Session.ScanWindow)
	assert.Equal(t, 2, cfg.Session.ConnectAttempts)
	assert.Equal(t, 2000, cfg.Reassembly.HardCap)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Untouched fields keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.Session.ConnectTimeout)
	assert.Equal(t, "ESP32-WaterSensor", cfg.Sensor.DeviceID)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
session:
  connect_attempts: 0
`), 0o644))

	_, err := Load(path)

	assert.ErrorContains(t, err, "connect_attempts")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidateRejectsBadBufferLimits(t *testing.T) {
	cfg := Default()
	cfg.Reassembly.SoftThreshold = 500
	cfg.Reassembly.HardCap = 400

	assert.ErrorContains(t, cfg.Validate(), "hard_cap")
}

func TestValidateRequiresUUIDs(t *testing.T) {
	cfg := Default()
	cfg.Sensor.ServiceUUID = ""
	assert.ErrorContains(t, cfg.Validate(), "service_uuid")

	cfg = Default()
	cfg.Sensor.CharacteristicUUID = ""
	assert.ErrorContains(t, cfg.Validate(), "characteristic_uuid")
}
