package reading

import (
	"strings"
	"time"
)

// DefaultDeviceID is the identifier the sensor firmware advertises and falls
// back to when a payload omits its own deviceId.
const DefaultDeviceID = "ESP32-WaterSensor"

// Water quality classification thresholds in ppm of total dissolved solids.
const (
	TDSCleanMax  = 300.0
	TDSUnsafeMax = 400.0
)

// SuspiciousTDSMax is the upper bound of the plausible TDS range. Values above
// it are kept but logged as suspicious.
const SuspiciousTDSMax = 3000.0

// Quality is the water quality classification reported by (or derived from)
// a sensor payload.
type Quality string

const (
	QualityClean           Quality = "Clean"
	QualityUnsafe          Quality = "Unsafe"
	QualityExtremelyUnsafe Quality = "ExtremelyUnsafe"
	QualityUnknown         Quality = "Unknown"
)

// ParseQuality maps a wire-format quality string to the canonical enum.
// The firmware has emitted several spellings over time ("Extremely Unsafe",
// "extremely_unsafe"), so matching is case-insensitive and ignores spaces and
// underscores. Returns false for values outside the enum (e.g. the firmware's
// "vibration_detected" status).
func ParseQuality(s string) (Quality, bool) {
	key := strings.ToLower(s)
	key = strings.ReplaceAll(key, " ", "")
	key = strings.ReplaceAll(key, "_", "")
	switch key {
	case "clean":
		return QualityClean, true
	case "unsafe":
		return QualityUnsafe, true
	case "extremelyunsafe":
		return QualityExtremelyUnsafe, true
	case "unknown":
		return QualityUnknown, true
	default:
		return QualityUnknown, false
	}
}

// QualityFromTDS derives a classification from a TDS value using the fixed
// firmware thresholds.
func QualityFromTDS(tds float64) Quality {
	switch {
	case tds <= TDSCleanMax:
		return QualityClean
	case tds <= TDSUnsafeMax:
		return QualityUnsafe
	default:
		return QualityExtremelyUnsafe
	}
}

// SensorReading is the canonical record produced from one sensor message.
// Instances are immutable once created; collaborators receive copies and must
// not modify them.
type SensorReading struct {
	TDS             float64   `json:"tds"`
	Quality         Quality   `json:"quality"`
	Vibration       float64   `json:"vibration"`
	DeviceTimestamp int64     `json:"deviceTimestamp"`
	ReceivedAt      time.Time `json:"receivedAt"`
	DeviceID        string    `json:"deviceId"`
	BatteryLevel    int       `json:"batteryLevel"`

	// Recovered marks readings reconstructed from a partial or garbled
	// payload rather than a clean parse.
	Recovered bool `json:"recovered"`

	// Extra carries optional numeric extension fields the firmware may
	// include beyond the core schema (xAxis, yAxis, zAxis, pH, temperature,
	// turbidity). Absent fields are simply not present in the map.
	Extra map[string]float64 `json:"extra,omitempty"`
}
