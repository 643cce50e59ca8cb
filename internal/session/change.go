package session

import (
	"fmt"
	"time"

	"github.com/AdinAck/Headlights-App/internal/endpoint"
	"github.com/AdinAck/Headlights-App/internal/protocol"
	"github.com/AdinAck/Headlights-App/internal/transport"
)

// ChangeType classifies a Change.
type ChangeType uint8

const (
	// ChangeDiscovered: a new session entered the discovered pool.
	ChangeDiscovered ChangeType = iota + 1
	ChangeStateChanged
	// ChangeValueUpdated: Endpoint's published value was replaced by Packet.
	ChangeValueUpdated
	ChangeLoaded
	// ChangeInvalidated: validation failed, Err is a *MismatchError or wraps
	// ErrServiceNotFound.
	ChangeInvalidated
	// ChangeRemoved: the session left both pools.
	ChangeRemoved
	// ChangeDiagnostic carries a non-fatal error in Err.
	ChangeDiagnostic
	ChangeAdapterChanged
)

var changeNames = map[ChangeType]string{
	ChangeDiscovered:     "discovered",
	ChangeStateChanged:   "state",
	ChangeValueUpdated:   "value",
	ChangeLoaded:         "loaded",
	ChangeInvalidated:    "invalidated",
	ChangeRemoved:        "removed",
	ChangeDiagnostic:     "diagnostic",
	ChangeAdapterChanged: "adapter",
}

func (t ChangeType) String() string {
	if n, ok := changeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("change(%d)", uint8(t))
}

// Change is a notification about published state.
type Change struct {
	Type     ChangeType
	ID       transport.ID
	At       time.Time
	State    State
	Endpoint endpoint.Endpoint
	Packet   protocol.Packet
	Adapter  transport.AdapterState
	Err      error
}

// Observer receives changes on the event loop goroutine. It must not block.
type Observer func(Change)
