package endpoint_test

import (
	"testing"

	"github.com/AdinAck/Headlights-App/internal/endpoint"
	"github.com/AdinAck/Headlights-App/internal/protocol"
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	uuidA = "11111111-2222-4333-8444-555555555555"
	uuidB = "66666666-7777-4888-9999-aaaaaaaaaaaa"
)

func TestNewTable(t *testing.T) {
	tests := []struct {
		name    string
		service string
		entries []endpoint.Entry
		errMsg  string
	}{
		{
			name:    "bad service uuid",
			service: "not-a-uuid",
			entries: []endpoint.Entry{endpoint.Char(endpoint.Status, uuidA, endpoint.RoleNotify, protocol.KindStatus)},
			errMsg:  "invalid service UUID",
		},
		{
			name:    "no entries",
			service: endpoint.ServiceUUID,
			errMsg:  "no entries",
		},
		{
			name:    "bad characteristic uuid",
			service: endpoint.ServiceUUID,
			entries: []endpoint.Entry{endpoint.Char(endpoint.Status, "12345", endpoint.RoleNotify, protocol.KindStatus)},
			errMsg:  "invalid characteristic UUID",
		},
		{
			name:    "duplicate endpoint",
			service: endpoint.ServiceUUID,
			entries: []endpoint.Entry{
				endpoint.Char(endpoint.Status, uuidA, endpoint.RoleNotify, protocol.KindStatus),
				endpoint.Char(endpoint.Status, uuidB, endpoint.RoleNotify, protocol.KindStatus),
			},
			errMsg: "duplicate endpoint status",
		},
		{
			name:    "shared characteristic",
			service: endpoint.ServiceUUID,
			entries: []endpoint.Entry{
				endpoint.Char(endpoint.Status, uuidA, endpoint.RoleNotify, protocol.KindStatus),
				endpoint.Char(endpoint.Monitor, uuidA, endpoint.RoleNotify, protocol.KindMonitor),
			},
			errMsg: "share characteristic",
		},
		{
			name:    "missing kind",
			service: endpoint.ServiceUUID,
			entries: []endpoint.Entry{endpoint.Char(endpoint.Reset, uuidA, endpoint.RoleWrite, protocol.KindNone)},
			errMsg:  "no packet kind",
		},
		{
			name:    "missing role",
			service: endpoint.ServiceUUID,
			entries: []endpoint.Entry{endpoint.Char(endpoint.Reset, uuidA, 0, protocol.KindReset)},
			errMsg:  "has no role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := endpoint.NewTable("test", tt.service, tt.entries...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestTableLookup(t *testing.T) {
	table, err := endpoint.NewTable("test", endpoint.ServiceUUID,
		endpoint.Char(endpoint.Status, uuidA, endpoint.RoleNotify, protocol.KindStatus),
		endpoint.Char(endpoint.Properties, uuidB, endpoint.RoleRead, protocol.KindProperties),
	)
	require.NoError(t, err)

	assert.Equal(t, 2, table.Len())
	assert.Equal(t, "test", table.Version())
	assert.Equal(t, transport.NormalizeUUID(endpoint.ServiceUUID), table.Service())

	e, ok := table.Lookup(transport.NormalizeUUID(uuidB))
	require.True(t, ok)
	assert.Equal(t, endpoint.Properties, e.Endpoint)
	assert.Equal(t, protocol.KindProperties, e.Kind)

	_, ok = table.Lookup(transport.NormalizeUUID("00000000-0000-4000-8000-000000000000"))
	assert.False(t, ok)

	e, ok = table.Entry(endpoint.Status)
	require.True(t, ok)
	assert.Equal(t, transport.NormalizeUUID(uuidA), e.UUID)

	_, ok = table.Entry(endpoint.Reset)
	assert.False(t, ok)
}

func TestVersionTables(t *testing.T) {
	t.Run("v1", func(t *testing.T) {
		assert.Equal(t, 5, endpoint.V1.Len())
		assert.Equal(t,
			[]endpoint.Endpoint{endpoint.Request, endpoint.Status, endpoint.Brightness, endpoint.Monitor, endpoint.PID},
			endpoint.V1.Endpoints())
		assert.Empty(t, endpoint.V1.OneShot())
		assert.Len(t, endpoint.V1.Notifying(), 4)
	})

	t.Run("v2", func(t *testing.T) {
		assert.Equal(t, 8, endpoint.V2.Len())
		oneShot := endpoint.V2.OneShot()
		require.Len(t, oneShot, 1)
		assert.Equal(t, endpoint.Properties, oneShot[0].Endpoint)

		var notifying []endpoint.Endpoint
		for _, e := range endpoint.V2.Notifying() {
			notifying = append(notifying, e.Endpoint)
		}
		assert.Equal(t,
			[]endpoint.Endpoint{endpoint.Status, endpoint.Control, endpoint.Monitor, endpoint.Config, endpoint.AppError},
			notifying)
	})

	t.Run("characteristic uuids follow entry order", func(t *testing.T) {
		uuids := endpoint.V2.CharacteristicUUIDs()
		entries := endpoint.V2.Entries()
		require.Len(t, uuids, len(entries))
		for i, e := range entries {
			assert.Equal(t, e.UUID, uuids[i])
		}
	})

	t.Run("by version", func(t *testing.T) {
		v1, err := endpoint.ByVersion("V1")
		require.NoError(t, err)
		assert.Same(t, endpoint.V1, v1)

		v2, err := endpoint.ByVersion("")
		require.NoError(t, err)
		assert.Same(t, endpoint.V2, v2)

		_, err = endpoint.ByVersion("v3")
		assert.Error(t, err)
	})
}

func TestEndpointText(t *testing.T) {
	for _, ep := range endpoint.V2.Endpoints() {
		b, err := ep.MarshalText()
		require.NoError(t, err)

		var back endpoint.Endpoint
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, ep, back)
	}

	_, err := endpoint.Parse("headlamp")
	assert.Error(t, err)
	assert.Equal(t, "endpoint(99)", endpoint.Endpoint(99).String())
}

func TestRole(t *testing.T) {
	r := endpoint.RoleNotify | endpoint.RoleWrite
	assert.True(t, r.Has(endpoint.RoleNotify))
	assert.False(t, r.Has(endpoint.RoleRead))
	assert.True(t, r.Decodable())
	assert.False(t, endpoint.RoleWrite.Decodable())
	assert.Equal(t, "write,notify", r.String())
	assert.Equal(t, "none", endpoint.Role(0).String())
}
