package trace_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/AdinAck/Headlights-App/internal/endpoint"
	"github.com/AdinAck/Headlights-App/internal/protocol"
	"github.com/AdinAck/Headlights-App/internal/session"
	"github.com/AdinAck/Headlights-App/internal/trace"
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)

func TestFromChange(t *testing.T) {
	t.Run("value", func(t *testing.T) {
		rec := trace.FromChange(session.Change{
			Type:     session.ChangeValueUpdated,
			ID:       "hl-1",
			At:       at,
			State:    session.Loaded,
			Endpoint: endpoint.Control,
			Packet:   protocol.Control{Target: 1500},
		})
		assert.Equal(t, "value", rec.Change)
		assert.Equal(t, "hl-1", rec.ID)
		assert.Equal(t, "loaded", rec.State)
		assert.Equal(t, "control", rec.Endpoint)
		assert.Equal(t, protocol.KindControl, rec.Kind)
		assert.Equal(t, []byte{0xDC, 0x05}, rec.Data)

		pkt, err := rec.Packet()
		require.NoError(t, err)
		assert.Equal(t, protocol.Control{Target: 1500}, pkt)
	})

	t.Run("adapter", func(t *testing.T) {
		rec := trace.FromChange(session.Change{
			Type:    session.ChangeAdapterChanged,
			At:      at,
			Adapter: transport.AdapterPoweredOff,
			Err:     transport.ErrBluetoothOff,
		})
		assert.Equal(t, "adapter", rec.Change)
		assert.Empty(t, rec.ID)
		assert.Empty(t, rec.State)
		assert.Equal(t, "powered-off", rec.Adapter)
		assert.Contains(t, rec.Error, "bluetooth is turned off")

		pkt, err := rec.Packet()
		assert.NoError(t, err)
		assert.Nil(t, pkt)
	})
}

func TestNewRecorderValidatesSize(t *testing.T) {
	_, err := trace.NewRecorder(0, nil)
	assert.Error(t, err)
	_, err = trace.NewRecorder(trace.MaxBufferSize+1, nil)
	assert.Error(t, err)
}

func TestFlushAndReadAll(t *testing.T) {
	rec, err := trace.NewRecorder(64, nil)
	require.NoError(t, err)

	changes := []session.Change{
		{Type: session.ChangeDiscovered, ID: "hl-1", At: at, State: session.Discovered},
		{Type: session.ChangeValueUpdated, ID: "hl-1", At: at.Add(time.Second), State: session.Loaded,
			Endpoint: endpoint.Status, Packet: protocol.Status{State: protocol.StateRunning, Error: protocol.ErrorNone}},
		{Type: session.ChangeDiagnostic, ID: "hl-1", At: at.Add(2 * time.Second), State: session.Loaded,
			Endpoint: endpoint.Monitor, Err: errors.New("short buffer")},
	}
	for _, c := range changes {
		rec.Observe(c)
	}
	assert.Equal(t, len(changes), rec.Len())

	var buf bytes.Buffer
	n, err := rec.Flush(&buf)
	require.NoError(t, err)
	assert.Equal(t, len(changes), n)
	assert.Zero(t, rec.Len(), "flush drains the buffer")

	got, err := trace.ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, got, len(changes))
	for i, c := range changes {
		want := trace.FromChange(c)
		assert.True(t, want.At.Equal(got[i].At), "record %d time", i)
		got[i].At = want.At
		assert.Equal(t, want, got[i])
	}

	status, err := got[1].Packet()
	require.NoError(t, err)
	assert.Equal(t, protocol.Status{State: protocol.StateRunning, Error: protocol.ErrorNone}, status)

	m := rec.Metrics()
	assert.EqualValues(t, 3, m.Recorded)
	assert.EqualValues(t, 3, m.Flushed)
}

func TestRecorderDropsOldest(t *testing.T) {
	rec, err := trace.NewRecorder(4, nil)
	require.NoError(t, err)

	const total = 20
	for i := 0; i < total; i++ {
		rec.Record(trace.Record{At: at, ID: fmt.Sprintf("hl-%d", i), Change: "discovered"})
	}

	recs, err := rec.Drain()
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	assert.Less(t, len(recs), total)
	assert.Equal(t, fmt.Sprintf("hl-%d", total-1), recs[len(recs)-1].ID, "newest record kept")
	assert.Positive(t, rec.Metrics().Overwritten)
}

func TestReadAllEmpty(t *testing.T) {
	got, err := trace.ReadAll(bytes.NewReader(nil))
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadAllCorrupt(t *testing.T) {
	_, err := trace.ReadAll(bytes.NewReader([]byte{0xa1, 0x01}))
	assert.Error(t, err)
}
