package reading

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNormalizer() *Normalizer {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	n := NewNormalizer(logger, "")
	n.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }
	return n
}

func TestNormalizeMinimalPayload(t *testing.T) {
	n := newTestNormalizer()

	rd, err := n.Normalize(`{"tds":250}`, false)

	require.NoError(t, err)
	assert.Equal(t, 250.0, rd.TDS)
	assert.Equal(t, QualityClean, rd.Quality)
	assert.Equal(t, 0.0, rd.Vibration)
	assert.Equal(t, DefaultDeviceID, rd.DeviceID)
	assert.Equal(t, 100, rd.BatteryLevel)
	assert.False(t, rd.Recovered)
	assert.Nil(t, rd.Extra)
}

func TestNormalizeFullPayload(t *testing.T) {
	n := newTestNormalizer()

	rd, err := n.Normalize(
		`{"tds":350.5,"quality":"Unsafe","vibration":1.8,"timestamp":1700000000123,`+
			`"deviceId":"ESP32-Unit7","batteryLevel":42}`, false)

	require.NoError(t, err)
	assert.Equal(t, 350.5, rd.TDS)
	assert.Equal(t, QualityUnsafe, rd.Quality)
	assert.Equal(t, 1.8, rd.Vibration)
	assert.Equal(t, int64(1700000000123), rd.DeviceTimestamp)
	assert.Equal(t, "ESP32-Unit7", rd.DeviceID)
	assert.Equal(t, 42, rd.BatteryLevel)
}

func TestNormalizeDerivesQualityFromTDS(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		tds  float64
		want Quality
	}{
		{0, QualityClean},
		{300, QualityClean},
		{300.1, QualityUnsafe},
		{400, QualityUnsafe},
		{400.1, QualityExtremelyUnsafe},
		{950, QualityExtremelyUnsafe},
	}
	for _, tc := range tests {
		rd, err := n.Normalize(fmt.Sprintf(`{"tds":%v}`, tc.tds), false)
		require.NoError(t, err)
		assert.Equal(t, tc.want, rd.Quality, "tds=%v", tc.tds)
	}
}

func TestNormalizeUnrecognizedQualityRederived(t *testing.T) {
	n := newTestNormalizer()

	rd, err := n.Normalize(`{"tds":350,"quality":"bogus"}`, false)

	require.NoError(t, err)
	assert.Equal(t, QualityUnsafe, rd.Quality)
}

func TestNormalizeWaterStatusAlias(t *testing.T) {
	n := newTestNormalizer()

	rd, err := n.Normalize(`{"tds":120,"waterStatus":"extremely_unsafe"}`, false)

	require.NoError(t, err)
	assert.Equal(t, QualityExtremelyUnsafe, rd.Quality, "payload value wins over derivation")
}

func TestNormalizeMissingTDSIsUnknown(t *testing.T) {
	n := newTestNormalizer()

	rd, err := n.Normalize(`{"vibration":0.5}`, false)

	require.NoError(t, err)
	assert.Equal(t, 0.0, rd.TDS)
	assert.Equal(t, QualityUnknown, rd.Quality)
}

func TestNormalizeStringNumerics(t *testing.T) {
	// The firmware quotes its timestamp and some gateway paths quote every
	// numeric field.
	n := newTestNormalizer()

	rd, err := n.Normalize(`{"tds":"275.5","vibration":"0.8","timestamp":"1700000000"}`, false)

	require.NoError(t, err)
	assert.Equal(t, 275.5, rd.TDS)
	assert.Equal(t, 0.8, rd.Vibration)
	assert.Equal(t, int64(1700000000), rd.DeviceTimestamp)
}

func TestNormalizeTimestampFallsBackToClock(t *testing.T) {
	n := newTestNormalizer()

	rd, err := n.Normalize(`{"tds":100}`, false)

	require.NoError(t, err)
	assert.Equal(t, rd.ReceivedAt.UnixMilli(), rd.DeviceTimestamp)
}

func TestNormalizeBatteryClamped(t *testing.T) {
	n := newTestNormalizer()

	rd, err := n.Normalize(`{"tds":100,"batteryLevel":140}`, false)
	require.NoError(t, err)
	assert.Equal(t, 100, rd.BatteryLevel)

	rd, err = n.Normalize(`{"tds":100,"batteryLevel":-5}`, false)
	require.NoError(t, err)
	assert.Equal(t, 0, rd.BatteryLevel)
}

func TestNormalizeRecoveredFlagPropagates(t *testing.T) {
	n := newTestNormalizer()

	rd, err := n.Normalize(`{"tds":100}`, true)
	require.NoError(t, err)
	assert.True(t, rd.Recovered)

	// The flag also arrives embedded in synthesized recovery payloads.
	rd, err = n.Normalize(`{"tds":100,"recovered":true}`, false)
	require.NoError(t, err)
	assert.True(t, rd.Recovered)
}

func TestNormalizeExtensionFields(t *testing.T) {
	n := newTestNormalizer()

	rd, err := n.Normalize(
		`{"tds":100,"pH":7.2,"temperature":21.5,"xAxis":0.01,"turbidity":3.4,"ignored":"yes"}`, false)

	require.NoError(t, err)
	require.NotNil(t, rd.Extra)
	assert.Equal(t, 7.2, rd.Extra["pH"])
	assert.Equal(t, 21.5, rd.Extra["temperature"])
	assert.Equal(t, 0.01, rd.Extra["xAxis"])
	assert.Equal(t, 3.4, rd.Extra["turbidity"])
	_, present := rd.Extra["ignored"]
	assert.False(t, present)
}

func TestNormalizeMalformedJSON(t *testing.T) {
	n := newTestNormalizer()

	for _, raw := range []string{``, `not json`, `{"tds":`, `[1,2,3]`} {
		_, err := n.Normalize(raw, false)
		assert.ErrorIs(t, err, ErrMalformedMessage, "raw=%q", raw)
	}
}

func TestNormalizeUnusableFieldTypes(t *testing.T) {
	// Field-level garbage degrades to defaults, never to an error.
	n := newTestNormalizer()

	rd, err := n.Normalize(`{"tds":null,"vibration":{"x":1},"batteryLevel":"dead"}`, false)

	require.NoError(t, err)
	assert.Equal(t, 0.0, rd.TDS)
	assert.Equal(t, QualityUnknown, rd.Quality)
	assert.Equal(t, 0.0, rd.Vibration)
	assert.Equal(t, 100, rd.BatteryLevel)
}

func TestParseQualitySpellings(t *testing.T) {
	tests := []struct {
		in    string
		want  Quality
		valid bool
	}{
		{"Clean", QualityClean, true},
		{"clean", QualityClean, true},
		{"Unsafe", QualityUnsafe, true},
		{"Extremely Unsafe", QualityExtremelyUnsafe, true},
		{"extremely_unsafe", QualityExtremelyUnsafe, true},
		{"ExtremelyUnsafe", QualityExtremelyUnsafe, true},
		{"Unknown", QualityUnknown, true},
		{"vibration_detected", QualityUnknown, false},
		{"", QualityUnknown, false},
	}
	for _, tc := range tests {
		got, valid := ParseQuality(tc.in)
		assert.Equal(t, tc.want, got, "in=%q", tc.in)
		assert.Equal(t, tc.valid, valid, "in=%q", tc.in)
	}
}
