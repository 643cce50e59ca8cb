package protocol

import (
	"errors"
	"fmt"
)

// Decode failure causes
var (
	ErrShortBuffer  = errors.New("short buffer")
	ErrUnknownValue = errors.New("unknown enumeration value")
	ErrUnknownKind  = errors.New("unknown packet kind")
)

// DecodeError describes why a buffer could not be decoded into a packet.
// Err is one of ErrShortBuffer, ErrUnknownValue or ErrUnknownKind.
type DecodeError struct {
	Kind   Kind
	Field  string // empty for size failures
	Offset int
	Value  byte // offending byte for ErrUnknownValue
	Length int  // buffer length for ErrShortBuffer
	Err    error
}

func (e *DecodeError) Error() string {
	switch {
	case errors.Is(e.Err, ErrShortBuffer):
		return fmt.Sprintf("decode %s: %v: have %d bytes, need %d", e.Kind, e.Err, e.Length, e.Kind.Size())
	case e.Field != "":
		return fmt.Sprintf("decode %s: field %q at offset %d: %v 0x%02x", e.Kind, e.Field, e.Offset, e.Err, e.Value)
	default:
		return fmt.Sprintf("decode %s: %v", e.Kind, e.Err)
	}
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError is returned when a packet holds a field value the wire format
// cannot represent.
type EncodeError struct {
	Kind  Kind
	Field string
	Value byte
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: field %q: %v 0x%02x", e.Kind, e.Field, ErrUnknownValue, e.Value)
}

func (e *EncodeError) Unwrap() error {
	return ErrUnknownValue
}
