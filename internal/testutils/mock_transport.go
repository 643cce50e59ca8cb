package testutils

import (
	"sync"
	"sync/atomic"

	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a testify mock of transport.Transport. Every command is
// accepted by default so tests only assert on the calls they care about;
// events are injected with Emit.
type MockTransport struct {
	mock.Mock

	events chan transport.Event
	state  atomic.Int32

	mu          sync.Mutex
	writes      []WriteCall
	disconnects []transport.ID
}

// WriteCall records one Write command.
type WriteCall struct {
	ID             transport.ID
	Characteristic transport.UUID
	Data           []byte
	Ack            bool
}

func NewMockTransport() *MockTransport {
	m := &MockTransport{events: make(chan transport.Event, 256)}
	m.state.Store(int32(transport.AdapterReady))
	m.On("Scan", mock.Anything).Maybe()
	m.On("StopScan").Maybe()
	m.On("Connect", mock.Anything).Maybe()
	m.On("Disconnect", mock.Anything).Maybe()
	m.On("DiscoverServices", mock.Anything, mock.Anything).Maybe()
	m.On("DiscoverCharacteristics", mock.Anything, mock.Anything, mock.Anything).Maybe()
	m.On("Read", mock.Anything, mock.Anything).Maybe()
	m.On("Write", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()
	m.On("Subscribe", mock.Anything, mock.Anything).Maybe()
	return m
}

func (m *MockTransport) Events() <-chan transport.Event { return m.events }

// Emit queues an event as if the BLE stack had produced it.
func (m *MockTransport) Emit(ev transport.Event) { m.events <- ev }

// Close ends the event stream.
func (m *MockTransport) Close() { close(m.events) }

func (m *MockTransport) AdapterState() transport.AdapterState {
	return transport.AdapterState(m.state.Load())
}

func (m *MockTransport) SetAdapterState(s transport.AdapterState) {
	m.state.Store(int32(s))
}

func (m *MockTransport) Scan(services []transport.UUID) { m.Called(services) }
func (m *MockTransport) StopScan()                      { m.Called() }
func (m *MockTransport) Connect(id transport.ID)        { m.Called(id) }

func (m *MockTransport) Disconnect(id transport.ID) {
	m.mu.Lock()
	m.disconnects = append(m.disconnects, id)
	m.mu.Unlock()
	m.Called(id)
}

func (m *MockTransport) DiscoverServices(id transport.ID, services []transport.UUID) {
	m.Called(id, services)
}

func (m *MockTransport) DiscoverCharacteristics(id transport.ID, service transport.UUID, chars []transport.UUID) {
	m.Called(id, service, chars)
}

func (m *MockTransport) Read(id transport.ID, char transport.UUID) { m.Called(id, char) }

func (m *MockTransport) Write(id transport.ID, char transport.UUID, data []byte, ack bool) {
	m.mu.Lock()
	m.writes = append(m.writes, WriteCall{ID: id, Characteristic: char, Data: append([]byte(nil), data...), Ack: ack})
	m.mu.Unlock()
	m.Called(id, char, data, ack)
}

func (m *MockTransport) Subscribe(id transport.ID, char transport.UUID) { m.Called(id, char) }

// Writes returns the Write commands issued so far.
func (m *MockTransport) Writes() []WriteCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WriteCall(nil), m.writes...)
}

// Disconnects returns the peripherals Disconnect was called for, safe to call
// while another goroutine drives the transport.
func (m *MockTransport) Disconnects() []transport.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transport.ID(nil), m.disconnects...)
}

var _ transport.Transport = (*MockTransport)(nil)
