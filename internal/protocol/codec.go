package protocol

import (
	"encoding"
	"encoding/binary"
	"fmt"
)

// Kind identifies a packet layout.
type Kind uint8

const (
	KindNone Kind = iota
	KindStatus
	KindBrightness
	KindMonitorV1
	KindPID
	KindControl
	KindMonitor
	KindConfig
	KindProperties
	KindAppError
	KindReset
	KindRequest
)

var kindNames = [...]string{
	KindNone:       "none",
	KindStatus:     "status",
	KindBrightness: "brightness",
	KindMonitorV1:  "monitor-v1",
	KindPID:        "pid",
	KindControl:    "control",
	KindMonitor:    "monitor",
	KindConfig:     "config",
	KindProperties: "properties",
	KindAppError:   "app-error",
	KindReset:      "reset",
	KindRequest:    "request",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Size returns the declared wire size of the kind in bytes, 0 for KindNone or
// unknown kinds.
func (k Kind) Size() int {
	switch k {
	case KindStatus:
		return 2
	case KindBrightness:
		return 1
	case KindMonitorV1:
		return 3
	case KindPID:
		return 4
	case KindControl:
		return 2
	case KindMonitor:
		return 7
	case KindConfig:
		return 15
	case KindProperties:
		return 12
	case KindAppError, KindReset, KindRequest:
		return 1
	default:
		return 0
	}
}

// Packet is implemented by every packet type.
type Packet interface {
	Kind() Kind
	encoding.BinaryMarshaler
}

// Decode decodes b as a packet of the given kind.
func Decode(kind Kind, b []byte) (Packet, error) {
	switch kind {
	case KindStatus:
		return decodeAs[Status](b)
	case KindBrightness:
		return decodeAs[Brightness](b)
	case KindMonitorV1:
		return decodeAs[MonitorV1](b)
	case KindPID:
		return decodeAs[PID](b)
	case KindControl:
		return decodeAs[Control](b)
	case KindMonitor:
		return decodeAs[Monitor](b)
	case KindConfig:
		return decodeAs[Config](b)
	case KindProperties:
		return decodeAs[Properties](b)
	case KindAppError:
		return decodeAs[AppError](b)
	case KindReset:
		return decodeAs[Reset](b)
	case KindRequest:
		return decodeAs[Request](b)
	default:
		return nil, &DecodeError{Kind: kind, Err: ErrUnknownKind}
	}
}

func decodeAs[T Packet, PT interface {
	*T
	encoding.BinaryUnmarshaler
}](b []byte) (Packet, error) {
	var p T
	if err := PT(&p).UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return p, nil
}

// Encode serializes p in its wire layout.
func Encode(p Packet) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("encode: nil packet")
	}
	return p.MarshalBinary()
}

// ----------------------------
// Field helpers
// ----------------------------

func checkSize(kind Kind, b []byte) error {
	if len(b) < kind.Size() {
		return &DecodeError{Kind: kind, Length: len(b), Err: ErrShortBuffer}
	}
	return nil
}

func u16(b []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(b[off : off+2])
}

func putU16(b []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(b[off:off+2], v)
}

type enum interface {
	~uint8
	Valid() bool
}

func decodeEnum[T enum](kind Kind, field string, b []byte, off int) (T, error) {
	v := T(b[off])
	if !v.Valid() {
		return v, &DecodeError{Kind: kind, Field: field, Offset: off, Value: b[off], Err: ErrUnknownValue}
	}
	return v, nil
}

func encodeEnum[T enum](kind Kind, field string, v T) (byte, error) {
	if !v.Valid() {
		return 0, &EncodeError{Kind: kind, Field: field, Value: uint8(v)}
	}
	return uint8(v), nil
}
