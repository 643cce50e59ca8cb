package endpoint

import (
	"fmt"
	"strings"

	"github.com/AdinAck/Headlights-App/internal/protocol"
)

// ServiceUUID is the single GATT service every headlight exposes.
const ServiceUUID = "0b2adcf1-38a7-48f9-a61d-8311fe471b70"

// V1 is the first firmware generation endpoint set.
var V1 = mustTable("v1", ServiceUUID,
	Char(Request, "9a00bcc5-89f1-4b9d-88bd-f2033440a5b4", RoleWrite, protocol.KindRequest),
	Char(Status, "ccf82e46-5f1c-4671-b481-7ffd2854fed4", RoleNotify, protocol.KindStatus),
	Char(Brightness, "eb483eeb-7b8e-45e0-910b-6c88fb3d75f3", RoleNotify|RoleWrite, protocol.KindBrightness),
	Char(Monitor, "30f62c01-d9d8-4c14-9a66-36ad0d92edbf", RoleNotify, protocol.KindMonitorV1),
	Char(PID, "73e4b52c-4ae2-4901-b78b-8f95f3a60cdb", RoleNotify|RoleWrite, protocol.KindPID),
)

// V2 is the current firmware endpoint set. Properties is read once per
// connection; the session is not loaded until it has been decoded.
var V2 = mustTable("v2", ServiceUUID,
	Char(Request, "9a00bcc5-89f1-4b9d-88bd-f2033440a5b4", RoleWrite, protocol.KindRequest),
	Char(Status, "ccf82e46-5f1c-4671-b481-7ffd2854fed4", RoleNotify, protocol.KindStatus),
	Char(Control, "5e3a6f7d-2c41-4b8e-9d0a-1f6b2c7e8a90", RoleNotify|RoleWrite, protocol.KindControl),
	Char(Monitor, "30f62c01-d9d8-4c14-9a66-36ad0d92edbf", RoleNotify, protocol.KindMonitor),
	Char(Config, "c4d1e2f3-8a9b-4c5d-9e6f-7a8b9c0d1e2f", RoleNotify|RoleWrite, protocol.KindConfig),
	Char(Properties, "7f2e9b1a-3c4d-4e5f-8a6b-9c0d1e2f3a4b", RoleRead, protocol.KindProperties),
	Char(Reset, "a1b2c3d4-e5f6-4a7b-8c9d-0e1f2a3b4c5d", RoleWrite, protocol.KindReset),
	Char(AppError, "d3e4f5a6-b7c8-4d9e-8f0a-1b2c3d4e5f6a", RoleNotify, protocol.KindAppError),
)

// ByVersion returns the table registered under version ("v1" or "v2").
func ByVersion(version string) (*Table, error) {
	switch strings.ToLower(strings.TrimSpace(version)) {
	case "v1", "1":
		return V1, nil
	case "v2", "2", "":
		return V2, nil
	default:
		return nil, fmt.Errorf("unknown protocol version %q", version)
	}
}
