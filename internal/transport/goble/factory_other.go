//go:build !darwin && !linux

package goble

import (
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/go-ble/ble"
)

// DeviceFactory reports that this platform has no supported BLE stack.
var DeviceFactory = func() (ble.Device, error) {
	return nil, &transport.AdapterError{State: transport.AdapterUnsupported, Msg: "no BLE stack for this platform"}
}
