package main

import (
	"errors"

	"github.com/avelasco/hydrolink/internal/session"
)

// FormatUserError translates typed session failures into actionable one-line
// messages; anything unrecognized passes through unchanged.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, session.ErrPermissionDenied):
		return "Bluetooth permission denied - grant Bluetooth access and retry"
	case errors.Is(err, session.ErrTransportUnavailable):
		return "Bluetooth is unavailable - make sure it is enabled"
	case errors.Is(err, session.ErrConnectTimeout):
		return "connection timed out - is the sensor powered on and in range?"
	case errors.Is(err, session.ErrConnectFailed):
		return "could not connect to the sensor: " + err.Error()
	case errors.Is(err, session.ErrDiscoveryFailed):
		return "connected, but the device does not expose the water sensor service - wrong device?"
	case errors.Is(err, session.ErrNotConnected):
		return "not connected to a sensor"
	default:
		return err.Error()
	}
}
