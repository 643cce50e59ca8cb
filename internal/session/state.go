package session

import "fmt"

// State is the lifecycle position of a Session.
type State uint8

const (
	Discovered State = iota
	Connecting
	ServiceDiscovery
	CharacteristicDiscovery
	Validating
	Invalid
	FinalizingLoad
	Loaded
	Disconnected
)

var stateNames = [...]string{
	Discovered:              "discovered",
	Connecting:              "connecting",
	ServiceDiscovery:        "service-discovery",
	CharacteristicDiscovery: "characteristic-discovery",
	Validating:              "validating",
	Invalid:                 "invalid",
	FinalizingLoad:          "finalizing-load",
	Loaded:                  "loaded",
	Disconnected:            "disconnected",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// InFlight reports whether a connection attempt is underway and has not yet
// reached a terminal state.
func (s State) InFlight() bool {
	switch s {
	case Connecting, ServiceDiscovery, CharacteristicDiscovery, Validating, FinalizingLoad:
		return true
	}
	return false
}
