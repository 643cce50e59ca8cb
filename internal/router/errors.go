package router

import (
	"errors"
	"fmt"
)

var (
	ErrAdmissionRejected = errors.New("admission rejected")
	ErrUnknownPeripheral = errors.New("unknown peripheral")
)

// AdmissionError rejects a connection attempt while every slot is occupied by
// a loaded session or an attempt in progress.
type AdmissionError struct {
	Capacity int
	Occupied int
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission rejected: %d of %d connection slots in use", e.Occupied, e.Capacity)
}

func (e *AdmissionError) Is(target error) bool {
	return target == ErrAdmissionRejected
}
