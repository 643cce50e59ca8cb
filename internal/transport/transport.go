// Package transport defines the boundary between the headlight core and a BLE
// stack.
//
// The core drives a Transport with fire-and-forget commands and observes their
// outcome as Events on a single channel. Implementations must deliver every
// event on that one channel, in the order they occurred for a given peripheral,
// so the consumer can process them serially without locking.
package transport

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
)

// ID is an opaque, stable identifier of a physical peripheral.
type ID string

// ParseID validates an ID as the BLE stacks report it: a CoreBluetooth UUID
// on macOS or a MAC address on Linux. The result is in lower case.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if u, err := uuid.Parse(s); err == nil {
		return ID(u.String()), nil
	}
	if mac, err := net.ParseMAC(s); err == nil {
		return ID(mac.String()), nil
	}
	return "", fmt.Errorf("invalid headlight ID %q: expected a UUID or a MAC address", s)
}

// UUID is a service or characteristic identifier in normalized form
// (lowercase hex, no dashes).
type UUID string

// NormalizeUUID converts a UUID string to the normalized form used for lookups.
// Both dashed and undashed inputs are accepted, as is a 0x prefix on short UUIDs.
func NormalizeUUID(s string) UUID {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	return UUID(strings.ReplaceAll(s, "-", ""))
}

// NormalizeUUIDs normalizes a slice of UUID strings.
func NormalizeUUIDs(in []string) []UUID {
	out := make([]UUID, len(in))
	for i, s := range in {
		out[i] = NormalizeUUID(s)
	}
	return out
}

// Short returns the first eight characters of a long UUID for display.
func (u UUID) Short() string {
	if len(u) > 8 {
		return string(u[:8])
	}
	return string(u)
}

// AdapterState is the power/availability state of the local BLE adapter.
type AdapterState int

const (
	AdapterUnknown AdapterState = iota
	AdapterPoweredOff
	AdapterUnauthorized
	AdapterUnsupported
	AdapterReady
)

func (s AdapterState) String() string {
	switch s {
	case AdapterPoweredOff:
		return "powered-off"
	case AdapterUnauthorized:
		return "unauthorized"
	case AdapterUnsupported:
		return "unsupported"
	case AdapterReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Transport is the command side of a BLE stack. Commands never block on radio
// activity; completion and failure arrive later on Events.
type Transport interface {
	// Events returns the serialized event stream. The channel is closed when the
	// transport shuts down.
	Events() <-chan Event
	AdapterState() AdapterState

	Scan(services []UUID)
	StopScan()

	Connect(id ID)
	Disconnect(id ID)

	DiscoverServices(id ID, services []UUID)
	DiscoverCharacteristics(id ID, service UUID, characteristics []UUID)

	Read(id ID, characteristic UUID)
	Write(id ID, characteristic UUID, data []byte, ackRequired bool)
	Subscribe(id ID, characteristic UUID)
}
