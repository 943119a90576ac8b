package reading

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrMalformedMessage indicates a message candidate that is not valid JSON at
// all. Individual field problems never produce this error; they fall back to
// schema defaults instead.
var ErrMalformedMessage = errors.New("malformed message")

// extensionKeys are optional numeric fields carried through into
// SensorReading.Extra when present. Anything else outside the core schema is
// ignored.
var extensionKeys = []string{"xAxis", "yAxis", "zAxis", "pH", "temperature", "turbidity"}

// Normalizer turns raw parsed JSON payloads into canonical SensorReading
// records, coercing types and substituting schema defaults for missing or
// unusable fields.
type Normalizer struct {
	logger   *logrus.Logger
	deviceID string

	// now is the wall clock, overridable in tests.
	now func() time.Time
}

// NewNormalizer creates a Normalizer. The deviceID is used when a payload
// omits its own; pass "" to use DefaultDeviceID.
func NewNormalizer(logger *logrus.Logger, deviceID string) *Normalizer {
	if logger == nil {
		logger = logrus.New()
	}
	if deviceID == "" {
		deviceID = DefaultDeviceID
	}
	return &Normalizer{
		logger:   logger,
		deviceID: deviceID,
		now:      time.Now,
	}
}

// Normalize parses raw JSON text into a SensorReading. The recovered flag is
// propagated from the reassembly layer. Returns ErrMalformedMessage (wrapped)
// when raw is not valid JSON.
func (n *Normalizer) Normalize(raw string, recovered bool) (*SensorReading, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	now := n.now()
	r := &SensorReading{
		ReceivedAt:   now,
		DeviceID:     n.deviceID,
		BatteryLevel: 100,
		Recovered:    recovered,
	}

	tds, tdsPresent := coerceFloat(payload["tds"])
	if tdsPresent {
		r.TDS = tds
		if tds < 0 || tds > SuspiciousTDSMax {
			n.logger.WithFields(logrus.Fields{
				"tds":      tds,
				"deviceId": r.DeviceID,
			}).Warn("TDS value outside plausible range")
		}
	}

	// Quality: use the payload's value when it is a recognized enum string,
	// otherwise re-derive from TDS. The firmware reports it as either
	// "quality" or "waterStatus" depending on version.
	quality, ok := qualityFromPayload(payload)
	if !ok {
		if tdsPresent {
			quality = QualityFromTDS(tds)
		} else {
			quality = QualityUnknown
		}
	}
	r.Quality = quality

	if v, ok := coerceFloat(payload["vibration"]); ok {
		r.Vibration = v
	}

	if ts, ok := coerceInt(payload["timestamp"]); ok {
		r.DeviceTimestamp = ts
	} else {
		// Device and client clocks are not synchronized; this is purely a
		// fallback for payloads missing the field.
		r.DeviceTimestamp = now.UnixMilli()
	}

	if id, ok := payload["deviceId"].(string); ok && id != "" {
		r.DeviceID = id
	}

	if level, ok := coerceInt(payload["batteryLevel"]); ok {
		r.BatteryLevel = clampBattery(level)
	}

	if rec, ok := payload["recovered"].(bool); ok && rec {
		r.Recovered = true
	}

	for _, key := range extensionKeys {
		if v, ok := coerceFloat(payload[key]); ok {
			if r.Extra == nil {
				r.Extra = make(map[string]float64, len(extensionKeys))
			}
			r.Extra[key] = v
		}
	}

	return r, nil
}

func qualityFromPayload(payload map[string]any) (Quality, bool) {
	for _, key := range []string{"quality", "waterStatus"} {
		if s, ok := payload[key].(string); ok {
			if q, valid := ParseQuality(s); valid {
				return q, true
			}
		}
	}
	return QualityUnknown, false
}

// coerceFloat extracts a finite float from a JSON value. Accepts numbers and
// numeric strings; everything else (null, objects, booleans) reports absence.
func coerceFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// coerceInt extracts an integer, truncating fractional parts. The firmware
// emits its millisecond timestamp as a quoted string, so numeric strings are
// accepted.
func coerceInt(v any) (int64, bool) {
	if f, ok := coerceFloat(v); ok {
		return int64(f), true
	}
	return 0, false
}

func clampBattery(level int64) int {
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return int(level)
}
