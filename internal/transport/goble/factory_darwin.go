//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// DeviceFactory opens the local adapter. Tests replace it.
//
//nolint:revive // DeviceFactory is intentionally exported for test injection
var DeviceFactory = func() (ble.Device, error) {
	return darwin.NewDevice()
}
