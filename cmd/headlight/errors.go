package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/AdinAck/Headlights-App/internal/router"
	"github.com/AdinAck/Headlights-App/internal/session"
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/AdinAck/Headlights-App/pkg/controller"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the headlight dropped the link while a
	// command was using it.
	ErrConnectionLost = errors.New("connection lost")
	// ErrNoHeadlight is returned when no ID was given and no favorite is set.
	ErrNoHeadlight = errors.New("no headlight given and no favorite set")
)

// FormatUserError turns an error into a message for the terminal. Known
// failure classes get a hint; anything else is printed as is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var admission *router.AdmissionError
	var mismatch *session.MismatchError
	switch {
	case errors.As(err, &admission):
		return fmt.Sprintf("all %d headlight slots are in use; disconnect one first", admission.Capacity)
	case errors.Is(err, transport.ErrAdapterUnavailable):
		if transport.AdapterStateOf(err) == transport.AdapterPoweredOff {
			return "Bluetooth is turned off; turn it on and retry"
		}
		return fmt.Sprintf("Bluetooth adapter unavailable (%s)", transport.AdapterStateOf(err))
	case errors.As(err, &mismatch):
		return fmt.Sprintf("device is not a compatible headlight (missing %v)", mismatch.Missing)
	case errors.Is(err, session.ErrInvalid):
		return fmt.Sprintf("device is not a compatible headlight: %v", err)
	case errors.Is(err, router.ErrUnknownPeripheral):
		return "headlight has not been seen yet; run 'headlight scan' and check the ID"
	case errors.Is(err, ErrNoHeadlight):
		return "no headlight given; pass an ID or set one with 'headlight favorite <id>'"
	case errors.Is(err, ErrConnectionLost), errors.Is(err, transport.ErrNotConnected):
		return "connection to the headlight was lost"
	case errors.Is(err, controller.ErrTransportGone):
		return "Bluetooth stack stopped unexpectedly"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out waiting for the headlight"
	default:
		return err.Error()
	}
}
