//go:build linux

package transport

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// DeviceFactory creates the platform BLE device. It is a variable so tests can
// substitute a fake.
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}
