package transport

import (
	"errors"
	"fmt"
	"strings"
)

// AdapterError reports that the local adapter cannot be used. It is fatal to
// scanning only, and clears when the adapter reports ready again.
type AdapterError struct {
	State AdapterState
	Msg   string
}

func (e *AdapterError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return fmt.Sprintf("bluetooth adapter unavailable: %s", e.State)
	}
	return fmt.Sprintf("bluetooth adapter unavailable: %s: %s", e.State, e.Msg)
}

// Is matches any *AdapterError, so errors.Is(err, ErrAdapterUnavailable) holds
// regardless of state.
func (e *AdapterError) Is(target error) bool {
	_, ok := target.(*AdapterError)
	return ok
}

// Sentinel errors
var (
	ErrAdapterUnavailable = &AdapterError{State: AdapterUnknown}
	ErrBluetoothOff       = &AdapterError{State: AdapterPoweredOff, Msg: "bluetooth is turned off"}
	ErrNotConnected       = errors.New("peripheral not connected")
	ErrAlreadyConnected   = errors.New("peripheral already connected")
	ErrNotFound           = errors.New("not found")
)

// NormalizeError maps known BLE stack error strings to the sentinels above,
// wrapping the original so its text is preserved.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		return err
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "have=4"), containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "central manager has invalid state"):
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	case containsIgnoreCase(msg, "device not connected"), containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	default:
		return err
	}
}

// AdapterStateOf extracts the adapter state carried by err, AdapterUnknown if
// err is not an adapter error.
func AdapterStateOf(err error) AdapterState {
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		return adapterErr.State
	}
	return AdapterUnknown
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
