package testutils

import "fmt"

// SensorPayload builds wire-format JSON the way the firmware emits it.
type SensorPayload struct {
	TDS          float64
	Quality      string
	Vibration    float64
	Timestamp    int64
	DeviceID     string
	BatteryLevel int
}

// DefaultPayload is a typical clean-water message.
func DefaultPayload() SensorPayload {
	return SensorPayload{
		TDS:          245.2,
		Quality:      "Clean",
		Vibration:    0.12,
		Timestamp:    123456,
		DeviceID:     "ESP32-WaterSensor",
		BatteryLevel: 87,
	}
}

// JSON renders the payload in the firmware's field order.
func (p SensorPayload) JSON() string {
	return fmt.Sprintf(
		`{"tds":%.1f,"quality":"%s","vibration":%.2f,"timestamp":%d,"deviceId":"%s","batteryLevel":%d}`,
		p.TDS, p.Quality, p.Vibration, p.Timestamp, p.DeviceID, p.BatteryLevel,
	)
}

// Chunks splits s into n-byte pieces, mimicking ATT MTU fragmentation.
func Chunks(s string, n int) []string {
	if n <= 0 {
		return []string{s}
	}
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	if len(s) > 0 {
		out = append(out, s)
	}
	return out
}
