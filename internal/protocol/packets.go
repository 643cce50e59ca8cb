package protocol

// Status reports the operating state and the current error. Shared by both
// protocol versions.
//
//	offset 0: state (State)
//	offset 1: error (ErrorCode)
type Status struct {
	State State     `json:"state" cbor:"1,keyasint"`
	Error ErrorCode `json:"error" cbor:"2,keyasint"`
}

func (Status) Kind() Kind { return KindStatus }

func (p Status) MarshalBinary() ([]byte, error) {
	b := make([]byte, KindStatus.Size())
	var err error
	if b[0], err = encodeEnum(KindStatus, "state", p.State); err != nil {
		return nil, err
	}
	if b[1], err = encodeEnum(KindStatus, "error", p.Error); err != nil {
		return nil, err
	}
	return b, nil
}

func (p *Status) UnmarshalBinary(b []byte) error {
	if err := checkSize(KindStatus, b); err != nil {
		return err
	}
	state, err := decodeEnum[State](KindStatus, "state", b, 0)
	if err != nil {
		return err
	}
	code, err := decodeEnum[ErrorCode](KindStatus, "error", b, 1)
	if err != nil {
		return err
	}
	*p = Status{State: state, Error: code}
	return nil
}

// Control carries the regulation target in milliamps. Written to set the
// target, notified when the peripheral changes it.
type Control struct {
	Target uint16 `json:"target" cbor:"1,keyasint"`
}

func (Control) Kind() Kind { return KindControl }

func (p Control) MarshalBinary() ([]byte, error) {
	b := make([]byte, KindControl.Size())
	putU16(b, 0, p.Target)
	return b, nil
}

func (p *Control) UnmarshalBinary(b []byte) error {
	if err := checkSize(KindControl, b); err != nil {
		return err
	}
	*p = Control{Target: u16(b, 0)}
	return nil
}

// Monitor is the telemetry packet of protocol v2.
//
//	offset 0: duty (0..160)
//	offset 1: upper current, mA
//	offset 3: lower current, mA
//	offset 5: temperature, raw ADC sample (see SampleToCelsius)
type Monitor struct {
	Duty         uint8  `json:"duty" cbor:"1,keyasint"`
	UpperCurrent uint16 `json:"upper_current" cbor:"2,keyasint"`
	LowerCurrent uint16 `json:"lower_current" cbor:"3,keyasint"`
	Temperature  uint16 `json:"temperature" cbor:"4,keyasint"`
}

func (Monitor) Kind() Kind { return KindMonitor }

func (p Monitor) MarshalBinary() ([]byte, error) {
	b := make([]byte, KindMonitor.Size())
	b[0] = p.Duty
	putU16(b, 1, p.UpperCurrent)
	putU16(b, 3, p.LowerCurrent)
	putU16(b, 5, p.Temperature)
	return b, nil
}

func (p *Monitor) UnmarshalBinary(b []byte) error {
	if err := checkSize(KindMonitor, b); err != nil {
		return err
	}
	*p = Monitor{
		Duty:         b[0],
		UpperCurrent: u16(b, 1),
		LowerCurrent: u16(b, 3),
		Temperature:  u16(b, 5),
	}
	return nil
}

// DutyPercent scales the duty field (full scale 160) to a percentage.
func (p Monitor) DutyPercent() int {
	return int(p.Duty) * 100 / 160
}

// Config is the persisted peripheral configuration.
type Config struct {
	Enabled           Bool   `json:"enabled" cbor:"1,keyasint"`
	StartupTarget     uint16 `json:"startup_target" cbor:"2,keyasint"`
	MaxTargetCurrent  uint16 `json:"max_target_current" cbor:"3,keyasint"`
	AbsMaxLoadCurrent uint16 `json:"abs_max_load_current" cbor:"4,keyasint"`
	Gain              uint16 `json:"gain" cbor:"5,keyasint"`
	PWMFreq           uint16 `json:"pwm_freq" cbor:"6,keyasint"`
	ThrottleStart     uint16 `json:"throttle_start" cbor:"7,keyasint"`
	ThrottleStop      uint16 `json:"throttle_stop" cbor:"8,keyasint"`
}

func (Config) Kind() Kind { return KindConfig }

func (p Config) MarshalBinary() ([]byte, error) {
	b := make([]byte, KindConfig.Size())
	var err error
	if b[0], err = encodeEnum(KindConfig, "enabled", p.Enabled); err != nil {
		return nil, err
	}
	putU16(b, 1, p.StartupTarget)
	putU16(b, 3, p.MaxTargetCurrent)
	putU16(b, 5, p.AbsMaxLoadCurrent)
	putU16(b, 7, p.Gain)
	putU16(b, 9, p.PWMFreq)
	putU16(b, 11, p.ThrottleStart)
	putU16(b, 13, p.ThrottleStop)
	return b, nil
}

func (p *Config) UnmarshalBinary(b []byte) error {
	if err := checkSize(KindConfig, b); err != nil {
		return err
	}
	enabled, err := decodeEnum[Bool](KindConfig, "enabled", b, 0)
	if err != nil {
		return err
	}
	*p = Config{
		Enabled:           enabled,
		StartupTarget:     u16(b, 1),
		MaxTargetCurrent:  u16(b, 3),
		AbsMaxLoadCurrent: u16(b, 5),
		Gain:              u16(b, 7),
		PWMFreq:           u16(b, 9),
		ThrottleStart:     u16(b, 11),
		ThrottleStop:      u16(b, 13),
	}
	return nil
}

// Properties are the immutable hardware limits, read once when a session loads.
type Properties struct {
	Hardware    Hardware `json:"hardware" cbor:"1,keyasint"`
	Firmware    Firmware `json:"firmware" cbor:"2,keyasint"`
	AbsMaxMA    uint16   `json:"abs_max_ma" cbor:"3,keyasint"`
	AbsMaxTemp  uint16   `json:"abs_max_temp" cbor:"4,keyasint"`
	MinPWMFreq  uint16   `json:"min_pwm_freq" cbor:"5,keyasint"`
	MaxPWMFreq  uint16   `json:"max_pwm_freq" cbor:"6,keyasint"`
	MaxADCError uint16   `json:"max_adc_error" cbor:"7,keyasint"`
}

func (Properties) Kind() Kind { return KindProperties }

func (p Properties) MarshalBinary() ([]byte, error) {
	b := make([]byte, KindProperties.Size())
	var err error
	if b[0], err = encodeEnum(KindProperties, "hardware", p.Hardware); err != nil {
		return nil, err
	}
	if b[1], err = encodeEnum(KindProperties, "firmware", p.Firmware); err != nil {
		return nil, err
	}
	putU16(b, 2, p.AbsMaxMA)
	putU16(b, 4, p.AbsMaxTemp)
	putU16(b, 6, p.MinPWMFreq)
	putU16(b, 8, p.MaxPWMFreq)
	putU16(b, 10, p.MaxADCError)
	return b, nil
}

func (p *Properties) UnmarshalBinary(b []byte) error {
	if err := checkSize(KindProperties, b); err != nil {
		return err
	}
	hw, err := decodeEnum[Hardware](KindProperties, "hardware", b, 0)
	if err != nil {
		return err
	}
	fw, err := decodeEnum[Firmware](KindProperties, "firmware", b, 1)
	if err != nil {
		return err
	}
	*p = Properties{
		Hardware:    hw,
		Firmware:    fw,
		AbsMaxMA:    u16(b, 2),
		AbsMaxTemp:  u16(b, 4),
		MinPWMFreq:  u16(b, 6),
		MaxPWMFreq:  u16(b, 8),
		MaxADCError: u16(b, 10),
	}
	return nil
}

// SampleToCelsius converts a raw temperature sample (12-bit ADC over an NTC
// divider, linearized around 25C) to degrees Celsius.
func SampleToCelsius(sample uint16) float64 {
	const (
		refSample = 2511.0 // sample at 25C
		refC      = 25.0
		perDegree = -12.2
	)
	return refC + (float64(sample)-refSample)/perDegree
}
