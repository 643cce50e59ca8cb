package protocol

import "fmt"

// State is the headlight's operating state.
type State uint8

const (
	StateIdle       State = 0xf0
	StateRunning    State = 0xf1
	StateThrottling State = 0xf2
	StateFault      State = 0xf3
)

func (s State) Valid() bool {
	switch s {
	case StateIdle, StateRunning, StateThrottling, StateFault:
		return true
	}
	return false
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateThrottling:
		return "throttling"
	case StateFault:
		return "fault"
	}
	return fmt.Sprintf("state(0x%02x)", uint8(s))
}

// ErrorCode is the error reported in a status packet. Codes 0x1x are runtime
// faults, codes 0x2x are configuration errors.
type ErrorCode uint8

const (
	ErrorNone                   ErrorCode = 0x00
	ErrorRuntimeOverCurrent     ErrorCode = 0x11
	ErrorRuntimeOverTemperature ErrorCode = 0x12
	ErrorRuntimeUnderVoltage    ErrorCode = 0x13
	ErrorConfigInvalid          ErrorCode = 0x21
	ErrorConfigCorrupt          ErrorCode = 0x22
)

func (e ErrorCode) Valid() bool {
	switch e {
	case ErrorNone, ErrorRuntimeOverCurrent, ErrorRuntimeOverTemperature, ErrorRuntimeUnderVoltage,
		ErrorConfigInvalid, ErrorConfigCorrupt:
		return true
	}
	return false
}

// IsRuntime reports whether e is a runtime fault.
func (e ErrorCode) IsRuntime() bool {
	return e.Valid() && e&0xf0 == 0x10
}

// IsConfig reports whether e is a configuration error.
func (e ErrorCode) IsConfig() bool {
	return e.Valid() && e&0xf0 == 0x20
}

func (e ErrorCode) String() string {
	switch e {
	case ErrorNone:
		return "none"
	case ErrorRuntimeOverCurrent:
		return "runtime: over-current"
	case ErrorRuntimeOverTemperature:
		return "runtime: over-temperature"
	case ErrorRuntimeUnderVoltage:
		return "runtime: under-voltage"
	case ErrorConfigInvalid:
		return "config: invalid"
	case ErrorConfigCorrupt:
		return "config: corrupt"
	}
	return fmt.Sprintf("error(0x%02x)", uint8(e))
}

// Hardware is the board revision reported in the properties packet.
type Hardware uint8

const (
	HardwareV2Rev1 Hardware = 0x21
	HardwareV2Rev2 Hardware = 0x22
	HardwareV2Rev3 Hardware = 0x23
)

func (h Hardware) Valid() bool {
	return h >= HardwareV2Rev1 && h <= HardwareV2Rev3
}

func (h Hardware) String() string {
	if !h.Valid() {
		return fmt.Sprintf("hardware(0x%02x)", uint8(h))
	}
	return fmt.Sprintf("v2 rev%d", uint8(h)-0x20)
}

// Firmware is the firmware release reported in the properties packet.
type Firmware uint8

const (
	FirmwareV0p1 Firmware = 0x01
	FirmwareV0p2 Firmware = 0x02
)

func (f Firmware) Valid() bool {
	return f == FirmwareV0p1 || f == FirmwareV0p2
}

func (f Firmware) String() string {
	if !f.Valid() {
		return fmt.Sprintf("firmware(0x%02x)", uint8(f))
	}
	return fmt.Sprintf("v0.%d", uint8(f))
}

// Bool is a wire boolean: exactly 0x00 or 0x01.
type Bool uint8

const (
	False Bool = 0x00
	True  Bool = 0x01
)

func (b Bool) Valid() bool {
	return b == False || b == True
}

func (b Bool) String() string {
	switch b {
	case False:
		return "false"
	case True:
		return "true"
	}
	return fmt.Sprintf("bool(0x%02x)", uint8(b))
}

// BoolOf converts a Go bool.
func BoolOf(v bool) Bool {
	if v {
		return True
	}
	return False
}
