package protocol

import "fmt"

// Request asks the peripheral to notify the current value of one endpoint.
// The byte values are shared by both protocol versions; a peripheral ignores
// requests for endpoints its version lacks.
type Request uint8

const (
	RequestStatus     Request = 0x1f
	RequestControl    Request = 0xa0
	RequestBrightness Request = 0xaa
	RequestMonitor    Request = 0xab
	RequestPID        Request = 0xac
	RequestConfig     Request = 0xad
	RequestProperties Request = 0xae
)

var requestNames = map[Request]string{
	RequestStatus:     "status",
	RequestControl:    "control",
	RequestBrightness: "brightness",
	RequestMonitor:    "monitor",
	RequestPID:        "pid",
	RequestConfig:     "config",
	RequestProperties: "properties",
}

func (r Request) Valid() bool {
	_, ok := requestNames[r]
	return ok
}

func (r Request) String() string {
	if name, ok := requestNames[r]; ok {
		return name
	}
	return fmt.Sprintf("request(0x%02x)", uint8(r))
}

// ParseRequest resolves a request by name.
func ParseRequest(name string) (Request, error) {
	for r, n := range requestNames {
		if n == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown request %q", name)
}

func (Request) Kind() Kind { return KindRequest }

func (r Request) MarshalBinary() ([]byte, error) {
	v, err := encodeEnum(KindRequest, "target", r)
	if err != nil {
		return nil, err
	}
	return []byte{v}, nil
}

func (r *Request) UnmarshalBinary(b []byte) error {
	if err := checkSize(KindRequest, b); err != nil {
		return err
	}
	v, err := decodeEnum[Request](KindRequest, "target", b, 0)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Reset restarts the peripheral, optionally restoring factory configuration.
type Reset uint8

const (
	ResetNow     Reset = 0x01
	ResetFactory Reset = 0x02
)

func (r Reset) Valid() bool {
	return r == ResetNow || r == ResetFactory
}

func (r Reset) String() string {
	switch r {
	case ResetNow:
		return "now"
	case ResetFactory:
		return "factory"
	}
	return fmt.Sprintf("reset(0x%02x)", uint8(r))
}

func (Reset) Kind() Kind { return KindReset }

func (r Reset) MarshalBinary() ([]byte, error) {
	v, err := encodeEnum(KindReset, "kind", r)
	if err != nil {
		return nil, err
	}
	return []byte{v}, nil
}

func (r *Reset) UnmarshalBinary(b []byte) error {
	if err := checkSize(KindReset, b); err != nil {
		return err
	}
	v, err := decodeEnum[Reset](KindReset, "kind", b, 0)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// AppError is an asynchronous application error report from the firmware.
type AppError uint8

const (
	AppErrorI2C        AppError = 0x01
	AppErrorADCTimeout AppError = 0x02
	AppErrorFlash      AppError = 0x03
	AppErrorBLEStack   AppError = 0x04
	AppErrorWatchdog   AppError = 0x05
)

func (e AppError) Valid() bool {
	return e >= AppErrorI2C && e <= AppErrorWatchdog
}

func (e AppError) String() string {
	switch e {
	case AppErrorI2C:
		return "i2c bus"
	case AppErrorADCTimeout:
		return "adc timeout"
	case AppErrorFlash:
		return "flash write"
	case AppErrorBLEStack:
		return "ble stack"
	case AppErrorWatchdog:
		return "watchdog"
	}
	return fmt.Sprintf("app-error(0x%02x)", uint8(e))
}

func (AppError) Kind() Kind { return KindAppError }

func (e AppError) MarshalBinary() ([]byte, error) {
	v, err := encodeEnum(KindAppError, "code", e)
	if err != nil {
		return nil, err
	}
	return []byte{v}, nil
}

func (e *AppError) UnmarshalBinary(b []byte) error {
	if err := checkSize(KindAppError, b); err != nil {
		return err
	}
	v, err := decodeEnum[AppError](KindAppError, "code", b, 0)
	if err != nil {
		return err
	}
	*e = v
	return nil
}
