package session

import (
	"maps"
	"slices"
	"time"

	"github.com/AdinAck/Headlights-App/internal/endpoint"
	"github.com/AdinAck/Headlights-App/internal/protocol"
	"github.com/AdinAck/Headlights-App/internal/transport"
)

// Snapshot is the published state of a Session. Each call to
// Session.Snapshot returns an independent copy.
type Snapshot struct {
	ID        transport.ID                          `json:"id"`
	Name      string                                `json:"name"`
	RSSI      int                                   `json:"rssi"`
	Version   string                                `json:"version"`
	State     State                                 `json:"state"`
	Valid     bool                                  `json:"valid"`
	Connected bool                                  `json:"connected"`
	Loaded    bool                                  `json:"loaded"`
	Values    map[endpoint.Endpoint]protocol.Packet `json:"values,omitempty"`
	Missing   []endpoint.Endpoint                   `json:"missing,omitempty"`
	UpdatedAt time.Time                             `json:"-"`
}

func (s Snapshot) clone() Snapshot {
	s.Values = maps.Clone(s.Values)
	s.Missing = slices.Clone(s.Missing)
	return s
}

// Value returns the last decoded packet of ep if it has type T.
func Value[T protocol.Packet](s Snapshot, ep endpoint.Endpoint) (T, bool) {
	v, ok := s.Values[ep].(T)
	return v, ok
}

func (s Snapshot) Status() (protocol.Status, bool) {
	return Value[protocol.Status](s, endpoint.Status)
}

func (s Snapshot) Monitor() (protocol.Monitor, bool) {
	return Value[protocol.Monitor](s, endpoint.Monitor)
}

func (s Snapshot) MonitorV1() (protocol.MonitorV1, bool) {
	return Value[protocol.MonitorV1](s, endpoint.Monitor)
}

func (s Snapshot) Control() (protocol.Control, bool) {
	return Value[protocol.Control](s, endpoint.Control)
}

func (s Snapshot) Config() (protocol.Config, bool) {
	return Value[protocol.Config](s, endpoint.Config)
}

func (s Snapshot) Properties() (protocol.Properties, bool) {
	return Value[protocol.Properties](s, endpoint.Properties)
}
