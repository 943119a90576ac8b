//go:build darwin

package transport

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// DeviceFactory creates the platform BLE device. It is a variable so tests can
// substitute a fake.
var DeviceFactory = func() (ble.Device, error) {
	dev, err := darwin.NewDevice()
	if err != nil {
		// CoreBluetooth reports power state through the central manager state
		// code; translate the common case into something actionable.
		if strings.Contains(err.Error(), "central manager has invalid state") {
			if strings.Contains(err.Error(), "have=4") { // StatePoweredOff
				return nil, fmt.Errorf("Bluetooth is turned off - please enable Bluetooth and retry: %w", err)
			}
			return nil, fmt.Errorf("Bluetooth is not ready: %w", err)
		}
		return nil, err
	}
	return dev, nil
}
