//go:build linux

package goble

import (
	"errors"

	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"golang.org/x/sys/unix"
)

// DeviceFactory opens the default HCI adapter. Tests replace it.
//
//nolint:revive // DeviceFactory is intentionally exported for test injection
var DeviceFactory = func() (ble.Device, error) {
	dev, err := linux.NewDevice()
	if err != nil {
		return nil, classifyOpenError(err)
	}
	return dev, nil
}

// classifyOpenError maps socket permission and availability errors of the
// HCI open to adapter states.
func classifyOpenError(err error) error {
	switch {
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return &transport.AdapterError{
			State: transport.AdapterUnauthorized,
			Msg:   "raw HCI access needs root or CAP_NET_ADMIN: " + err.Error(),
		}
	case errors.Is(err, unix.ENODEV), errors.Is(err, unix.EAFNOSUPPORT):
		return &transport.AdapterError{State: transport.AdapterUnsupported, Msg: err.Error()}
	case errors.Is(err, unix.ERFKILL), errors.Is(err, unix.ENETDOWN):
		return &transport.AdapterError{State: transport.AdapterPoweredOff, Msg: err.Error()}
	}
	return err
}
