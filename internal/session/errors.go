package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AdinAck/Headlights-App/internal/endpoint"
)

// Sentinel errors
var (
	ErrInvalid                   = errors.New("peripheral failed characteristic validation")
	ErrNotLoaded                 = errors.New("session not loaded")
	ErrServiceNotFound           = errors.New("headlight service not found")
	ErrCharacteristicSetMismatch = errors.New("characteristic set mismatch")
	ErrUnknownCharacteristic     = errors.New("no endpoint for characteristic")
	ErrNoDecoder                 = errors.New("no decoder for endpoint")
	ErrNotWritable               = errors.New("endpoint is not writable")
	ErrKindMismatch              = errors.New("packet kind does not match endpoint")
	ErrWriteFailed               = errors.New("write failed")
	ErrReadFailed                = errors.New("read failed")
	ErrSubscribeFailed           = errors.New("subscribe failed")
)

// MismatchError reports a discovered characteristic set that does not cover
// the endpoint table.
type MismatchError struct {
	Expected int
	Found    int
	Missing  []endpoint.Endpoint
}

func (e *MismatchError) Error() string {
	names := make([]string, len(e.Missing))
	for i, ep := range e.Missing {
		names[i] = ep.String()
	}
	return fmt.Sprintf("characteristic set mismatch: found %d of %d, missing [%s]",
		e.Found, e.Expected, strings.Join(names, ", "))
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrCharacteristicSetMismatch
}

// WriteError reports a command that could not be delivered to an endpoint,
// either rejected locally or failed by the transport. It is never retried.
type WriteError struct {
	Endpoint endpoint.Endpoint
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Endpoint, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool {
	return target == ErrWriteFailed
}
