// Package endpoint maps the logical channels of the headlight protocol onto GATT
// characteristics.
//
// A Table is a static, versioned list of entries for the single service the
// controller targets. Each entry names the endpoint, its characteristic UUID,
// its role and the packet kind carried on it. A device session is parameterized
// by one Table; supporting another protocol version means supplying another
// Table, not another session implementation.
package endpoint

import (
	"fmt"
	"strings"
)

// Endpoint is a logical protocol channel.
type Endpoint uint8

const (
	Request Endpoint = iota + 1
	Status
	Brightness
	Monitor
	PID
	Control
	Config
	Properties
	Reset
	AppError
)

var names = map[Endpoint]string{
	Request:    "request",
	Status:     "status",
	Brightness: "brightness",
	Monitor:    "monitor",
	PID:        "pid",
	Control:    "control",
	Config:     "config",
	Properties: "properties",
	Reset:      "reset",
	AppError:   "app-error",
}

func (e Endpoint) String() string {
	if n, ok := names[e]; ok {
		return n
	}
	return fmt.Sprintf("endpoint(%d)", uint8(e))
}

// MarshalText renders the endpoint by name so it reads well as a map key in
// JSON, YAML and CBOR output.
func (e Endpoint) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Endpoint) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// Parse resolves an endpoint by name.
func Parse(name string) (Endpoint, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for e, n := range names {
		if n == name {
			return e, nil
		}
	}
	return 0, fmt.Errorf("unknown endpoint %q", name)
}

// Role describes how the controller uses an endpoint.
type Role uint8

const (
	// RoleNotify endpoints are subscribed to once the characteristic set validates.
	RoleNotify Role = 1 << iota
	// RoleRead endpoints are read once; the session is not loaded until every
	// one of them has decoded successfully.
	RoleRead
	// RoleWrite endpoints accept commands.
	RoleWrite
)

// Has reports whether r includes every bit of other.
func (r Role) Has(other Role) bool {
	return r&other == other
}

// Decodable reports whether values received on the endpoint are decoded.
func (r Role) Decodable() bool {
	return r&(RoleNotify|RoleRead) != 0
}

func (r Role) String() string {
	var parts []string
	if r.Has(RoleRead) {
		parts = append(parts, "read")
	}
	if r.Has(RoleWrite) {
		parts = append(parts, "write")
	}
	if r.Has(RoleNotify) {
		parts = append(parts, "notify")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}
