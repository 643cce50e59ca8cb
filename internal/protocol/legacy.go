package protocol

// Packets of the first protocol version. They share Status and Request with
// version 2.

// Brightness is the v1 output level.
type Brightness struct {
	Level uint8 `json:"level" cbor:"1,keyasint"`
}

func (Brightness) Kind() Kind { return KindBrightness }

func (p Brightness) MarshalBinary() ([]byte, error) {
	return []byte{p.Level}, nil
}

func (p *Brightness) UnmarshalBinary(b []byte) error {
	if err := checkSize(KindBrightness, b); err != nil {
		return err
	}
	*p = Brightness{Level: b[0]}
	return nil
}

// MonitorV1 is the v1 telemetry packet, one byte per field.
type MonitorV1 struct {
	Duty        uint8 `json:"duty" cbor:"1,keyasint"`
	Current     uint8 `json:"current" cbor:"2,keyasint"`
	Temperature uint8 `json:"temperature" cbor:"3,keyasint"`
}

func (MonitorV1) Kind() Kind { return KindMonitorV1 }

func (p MonitorV1) MarshalBinary() ([]byte, error) {
	return []byte{p.Duty, p.Current, p.Temperature}, nil
}

func (p *MonitorV1) UnmarshalBinary(b []byte) error {
	if err := checkSize(KindMonitorV1, b); err != nil {
		return err
	}
	*p = MonitorV1{Duty: b[0], Current: b[1], Temperature: b[2]}
	return nil
}

// PID holds the v1 regulator gains.
type PID struct {
	KP  uint8 `json:"kp" cbor:"1,keyasint"`
	KI  uint8 `json:"ki" cbor:"2,keyasint"`
	KD  uint8 `json:"kd" cbor:"3,keyasint"`
	Div uint8 `json:"div" cbor:"4,keyasint"`
}

func (PID) Kind() Kind { return KindPID }

func (p PID) MarshalBinary() ([]byte, error) {
	return []byte{p.KP, p.KI, p.KD, p.Div}, nil
}

func (p *PID) UnmarshalBinary(b []byte) error {
	if err := checkSize(KindPID, b); err != nil {
		return err
	}
	*p = PID{KP: b[0], KI: b[1], KD: b[2], Div: b[3]}
	return nil
}
