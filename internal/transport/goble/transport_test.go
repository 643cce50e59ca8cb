package goble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	serviceUUID = "0b2adcf1-38a7-48f9-a61d-8311fe471b70"
	controlUUID = "e1a2d8e4-5ba4-4a62-8f4c-6ab6b4e9c8b1"
	otherUUID   = "180d"
	peripheral  = transport.ID("aa:bb:cc:dd:ee:ff")
)

// fakeDevice embeds ble.Device so only the methods the transport uses need
// implementing.
type fakeDevice struct {
	ble.Device

	advs    []ble.Advertisement
	scanErr error
	client  ble.Client
	dialErr error

	mu    sync.Mutex
	dials int
}

func (d *fakeDevice) Scan(ctx context.Context, _ bool, h ble.AdvHandler) error {
	for _, a := range d.advs {
		h(a)
	}
	if d.scanErr != nil {
		return d.scanErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (d *fakeDevice) Dial(ctx context.Context, _ ble.Addr) (ble.Client, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	if d.client == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return d.client, nil
}

func (d *fakeDevice) Stop() error { return nil }

type mockClient struct {
	ble.Client
	mock.Mock

	disconnected chan struct{}
	handler      ble.NotificationHandler
}

func newMockClient() *mockClient {
	return &mockClient{disconnected: make(chan struct{})}
}

func (c *mockClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	args := c.Called(filter)
	svcs, _ := args.Get(0).([]*ble.Service)
	return svcs, args.Error(1)
}

func (c *mockClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	args := c.Called(filter, s)
	chars, _ := args.Get(0).([]*ble.Characteristic)
	return chars, args.Error(1)
}

func (c *mockClient) ReadCharacteristic(ch *ble.Characteristic) ([]byte, error) {
	args := c.Called(ch)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (c *mockClient) WriteCharacteristic(ch *ble.Characteristic, value []byte, noRsp bool) error {
	return c.Called(ch, value, noRsp).Error(0)
}

func (c *mockClient) Subscribe(ch *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	c.handler = h
	return c.Called(ch, ind).Error(0)
}

func (c *mockClient) CancelConnection() error { return c.Called().Error(0) }

func (c *mockClient) Disconnected() <-chan struct{} { return c.disconnected }

type fakeAdvertisement struct {
	ble.Advertisement

	name     string
	rssi     int
	addr     string
	services []ble.UUID
}

func (a fakeAdvertisement) LocalName() string           { return a.name }
func (a fakeAdvertisement) RSSI() int                   { return a.rssi }
func (a fakeAdvertisement) Addr() ble.Addr              { return ble.NewAddr(a.addr) }
func (a fakeAdvertisement) Connectable() bool           { return true }
func (a fakeAdvertisement) ManufacturerData() []byte    { return nil }
func (a fakeAdvertisement) Services() []ble.UUID        { return a.services }
func (a fakeAdvertisement) OverflowService() []ble.UUID { return nil }

type TransportSuite struct {
	suite.Suite

	originalFactory func() (ble.Device, error)
	dev             *fakeDevice
	tr              *Transport
}

func TestTransportSuite(t *testing.T) {
	suite.Run(t, new(TransportSuite))
}

func (s *TransportSuite) SetupTest() {
	s.originalFactory = DeviceFactory
	s.dev = &fakeDevice{}
	DeviceFactory = func() (ble.Device, error) { return s.dev, nil }
}

func (s *TransportSuite) TearDownTest() {
	if s.tr != nil {
		s.NoError(s.tr.Close())
		s.tr = nil
	}
	DeviceFactory = s.originalFactory
}

func (s *TransportSuite) open() {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s.tr = New(Options{}, logger)
	s.Equal(transport.AdapterStateChanged{State: transport.AdapterReady}, s.next())
}

func (s *TransportSuite) next() transport.Event {
	select {
	case ev := <-s.tr.Events():
		return ev
	case <-time.After(2 * time.Second):
		s.FailNow("no event")
		return nil
	}
}

func (s *TransportSuite) noEvent() {
	select {
	case ev := <-s.tr.Events():
		s.Failf("unexpected event", "%#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func (s *TransportSuite) TestAdapterUnavailable() {
	DeviceFactory = func() (ble.Device, error) {
		return nil, errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")
	}
	s.tr = New(Options{}, nil)

	ev, ok := s.next().(transport.AdapterStateChanged)
	s.Require().True(ok)
	s.Equal(transport.AdapterPoweredOff, ev.State)
	s.ErrorIs(ev.Err, transport.ErrAdapterUnavailable)
	s.Equal(transport.AdapterPoweredOff, s.tr.AdapterState())

	s.tr.Connect(peripheral)
	dis, ok := s.next().(transport.Disconnected)
	s.Require().True(ok)
	s.Equal(peripheral, dis.ID)
	s.ErrorIs(dis.Err, transport.ErrAdapterUnavailable)
}

func (s *TransportSuite) TestScanFiltersByService() {
	s.dev.advs = []ble.Advertisement{
		fakeAdvertisement{name: "Headlight", rssi: -40, addr: "11:22", services: []ble.UUID{ble.MustParse(serviceUUID)}},
		fakeAdvertisement{name: "Heart", rssi: -60, addr: "33:44", services: []ble.UUID{ble.MustParse(otherUUID)}},
	}
	s.open()

	s.tr.Scan([]transport.UUID{transport.NormalizeUUID(serviceUUID)})
	adv, ok := s.next().(transport.Advertisement)
	s.Require().True(ok)
	s.Equal(transport.ID("11:22"), adv.ID)
	s.Equal("Headlight", adv.Name)
	s.Equal(-40, adv.RSSI)
	s.Equal([]transport.UUID{transport.NormalizeUUID(serviceUUID)}, adv.Services)
	s.noEvent()

	s.tr.StopScan()
	s.tr.StopScan()
}

func (s *TransportSuite) TestScanAbortedByAdapter() {
	s.dev.scanErr = errors.New("bluetooth is turned off")
	s.open()

	s.tr.Scan(nil)
	ev, ok := s.next().(transport.AdapterStateChanged)
	s.Require().True(ok)
	s.Equal(transport.AdapterPoweredOff, ev.State)
	s.Equal(transport.AdapterPoweredOff, s.tr.AdapterState())
}

func (s *TransportSuite) TestPeripheralLifecycle() {
	client := newMockClient()
	s.dev.client = client
	s.open()

	svc := &ble.Service{UUID: ble.MustParse(serviceUUID)}
	char := &ble.Characteristic{
		UUID:     ble.MustParse(controlUUID),
		Property: ble.CharRead | ble.CharWrite | ble.CharNotify,
		CCCD:     &ble.Descriptor{},
	}
	client.On("DiscoverServices", mock.Anything).Return([]*ble.Service{svc}, nil)
	client.On("DiscoverCharacteristics", mock.Anything, svc).Return([]*ble.Characteristic{char}, nil)
	client.On("ReadCharacteristic", char).Return([]byte{0x01, 0x02}, nil)
	client.On("WriteCharacteristic", char, []byte{0xB0, 0x04}, false).Return(nil)
	client.On("Subscribe", char, false).Return(nil)
	client.On("CancelConnection").Return(nil).Once()

	svcID := transport.NormalizeUUID(serviceUUID)
	charID := transport.NormalizeUUID(controlUUID)

	s.tr.Connect(peripheral)
	s.Equal(transport.Connected{ID: peripheral}, s.next())

	s.tr.DiscoverServices(peripheral, []transport.UUID{svcID})
	s.Equal(transport.ServicesDiscovered{ID: peripheral, Services: []transport.UUID{svcID}}, s.next())

	s.tr.DiscoverCharacteristics(peripheral, svcID, []transport.UUID{charID})
	s.Equal(transport.CharacteristicsDiscovered{
		ID:              peripheral,
		Service:         svcID,
		Characteristics: []transport.UUID{charID},
	}, s.next())

	s.tr.Read(peripheral, charID)
	s.Equal(transport.ValueUpdated{ID: peripheral, Characteristic: charID, Value: []byte{0x01, 0x02}}, s.next())

	s.tr.Write(peripheral, charID, []byte{0xB0, 0x04}, true)
	s.Equal(transport.WriteCompleted{ID: peripheral, Characteristic: charID}, s.next())

	s.tr.Subscribe(peripheral, charID)
	s.Equal(transport.NotifyStateChanged{ID: peripheral, Characteristic: charID}, s.next())
	s.Require().NotNil(client.handler)
	client.handler([]byte{0x07})
	s.Equal(transport.ValueUpdated{ID: peripheral, Characteristic: charID, Value: []byte{0x07}}, s.next())

	s.tr.Disconnect(peripheral)
	s.Equal(transport.Disconnected{ID: peripheral}, s.next())
	client.AssertExpectations(s.T())
}

func (s *TransportSuite) TestUnacknowledgedWriteIsSilent() {
	client := newMockClient()
	s.dev.client = client
	s.open()

	svc := &ble.Service{UUID: ble.MustParse(serviceUUID)}
	char := &ble.Characteristic{UUID: ble.MustParse(controlUUID), Property: ble.CharWriteNR}
	client.On("DiscoverServices", mock.Anything).Return([]*ble.Service{svc}, nil)
	client.On("DiscoverCharacteristics", mock.Anything, svc).Return([]*ble.Characteristic{char}, nil)
	client.On("WriteCharacteristic", char, []byte{0x01}, true).Return(nil)
	client.On("CancelConnection").Return(nil)

	svcID := transport.NormalizeUUID(serviceUUID)
	charID := transport.NormalizeUUID(controlUUID)
	s.tr.Connect(peripheral)
	s.next()
	s.tr.DiscoverServices(peripheral, nil)
	s.next()
	s.tr.DiscoverCharacteristics(peripheral, svcID, nil)
	s.next()

	s.tr.Write(peripheral, charID, []byte{0x01}, false)
	s.noEvent()
	client.AssertCalled(s.T(), "WriteCharacteristic", char, []byte{0x01}, true)
}

func (s *TransportSuite) TestUnknownCharacteristic() {
	client := newMockClient()
	s.dev.client = client
	client.On("CancelConnection").Return(nil)
	s.open()

	s.tr.Connect(peripheral)
	s.next()
	s.tr.Read(peripheral, "dead")
	ev, ok := s.next().(transport.ValueUpdated)
	s.Require().True(ok)
	s.ErrorIs(ev.Err, transport.ErrNotFound)
}

func (s *TransportSuite) TestDialFailure() {
	s.dev.dialErr = errors.New("connection refused")
	s.open()

	s.tr.Connect(peripheral)
	ev, ok := s.next().(transport.Disconnected)
	s.Require().True(ok)
	s.Equal(peripheral, ev.ID)
	s.ErrorContains(ev.Err, "connection refused")

	_, active := s.tr.peer(peripheral)
	s.False(active, "peripheral must be released before Disconnected is reported")
}

func (s *TransportSuite) TestReconnectRightAfterDialFailure() {
	s.dev.dialErr = errors.New("connection refused")
	s.open()

	for round := 1; round <= 50; round++ {
		s.tr.Connect(peripheral)
		ev, ok := s.next().(transport.Disconnected)
		s.Require().True(ok, "round %d", round)
		s.Require().Error(ev.Err)
	}
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.Equal(50, s.dev.dials)
}

func (s *TransportSuite) TestReconnectRightAfterDisconnect() {
	client := newMockClient()
	client.On("CancelConnection").Return(nil)
	s.dev.client = client
	s.open()

	for round := 1; round <= 20; round++ {
		s.tr.Connect(peripheral)
		s.Require().Equal(transport.Connected{ID: peripheral}, s.next(), "round %d", round)
		s.tr.Disconnect(peripheral)
		s.Require().Equal(transport.Disconnected{ID: peripheral}, s.next(), "round %d", round)
	}
	client.AssertNumberOfCalls(s.T(), "CancelConnection", 20)
}

func (s *TransportSuite) TestDisconnectWhileDialing() {
	s.open()

	s.tr.Connect(peripheral)
	s.tr.Connect(peripheral)
	s.Eventually(func() bool {
		s.dev.mu.Lock()
		defer s.dev.mu.Unlock()
		return s.dev.dials == 1
	}, time.Second, 5*time.Millisecond)

	s.tr.Disconnect(peripheral)
	ev, ok := s.next().(transport.Disconnected)
	s.Require().True(ok)
	s.ErrorIs(ev.Err, context.Canceled)
}

func (s *TransportSuite) TestRemoteDrop() {
	client := newMockClient()
	s.dev.client = client
	s.open()

	s.tr.Connect(peripheral)
	s.next()
	close(client.disconnected)
	s.Equal(transport.Disconnected{ID: peripheral}, s.next())
	client.AssertNotCalled(s.T(), "CancelConnection")
}

func (s *TransportSuite) TestCommandsForInactivePeripheralAreDropped() {
	s.open()
	s.tr.Read(peripheral, "dead")
	s.tr.Disconnect(peripheral)
	s.noEvent()
}

func (s *TransportSuite) TestCloseEndsEventStream() {
	s.open()
	s.Require().NoError(s.tr.Close())
	_, ok := <-s.tr.Events()
	s.False(ok)
	s.NoError(s.tr.Close())
	s.tr = nil
}

func TestConvertAdvertisement(t *testing.T) {
	adv := convertAdvertisement(fakeAdvertisement{
		name:     "Headlight",
		rssi:     -52,
		addr:     "aa:bb",
		services: []ble.UUID{ble.MustParse(serviceUUID), ble.UUID16(0x180d)},
	})
	assert.Equal(t, transport.ID("aa:bb"), adv.ID)
	assert.Equal(t, "Headlight", adv.Name)
	assert.Equal(t, -52, adv.RSSI)
	assert.True(t, adv.Connectable)
	assert.Nil(t, adv.ManufacturerData)
	require.Len(t, adv.Services, 2)
	assert.Equal(t, transport.NormalizeUUID(serviceUUID), adv.Services[0])
	assert.Equal(t, transport.UUID("180d"), adv.Services[1])
}

func TestServiceFilter(t *testing.T) {
	svc := transport.NormalizeUUID(serviceUUID)
	tests := []struct {
		name       string
		filter     []transport.UUID
		advertised []transport.UUID
		want       bool
	}{
		{name: "empty filter", advertised: nil, want: true},
		{name: "match", filter: []transport.UUID{svc}, advertised: []transport.UUID{"180d", svc}, want: true},
		{name: "dashed filter", filter: []transport.UUID{serviceUUID}, advertised: []transport.UUID{svc}, want: true},
		{name: "no match", filter: []transport.UUID{svc}, advertised: []transport.UUID{"180d"}, want: false},
		{name: "nothing advertised", filter: []transport.UUID{svc}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, newServiceFilter(tt.filter).matches(tt.advertised))
		})
	}
}

func TestParseUUIDs(t *testing.T) {
	got, err := parseUUIDs(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseUUIDs([]transport.UUID{transport.NormalizeUUID(serviceUUID), "zz"})
	require.Error(t, err)
	assert.ErrorContains(t, err, `invalid UUID "zz"`)
	assert.Len(t, got, 1)
}

func (s *TransportSuite) TestQueuedWriteRunsBeforeDisconnect() {
	client := newMockClient()
	s.dev.client = client
	s.open()

	svc := &ble.Service{UUID: ble.MustParse(serviceUUID)}
	char := &ble.Characteristic{UUID: ble.MustParse(controlUUID), Property: ble.CharWrite}
	client.On("DiscoverServices", mock.Anything).Return([]*ble.Service{svc}, nil)
	client.On("DiscoverCharacteristics", mock.Anything, svc).Return([]*ble.Characteristic{char}, nil)
	client.On("WriteCharacteristic", char, []byte{0x02}, false).Return(nil)
	client.On("CancelConnection").Return(nil)

	svcID := transport.NormalizeUUID(serviceUUID)
	charID := transport.NormalizeUUID(controlUUID)
	s.tr.Connect(peripheral)
	s.next()
	s.tr.DiscoverServices(peripheral, nil)
	s.next()
	s.tr.DiscoverCharacteristics(peripheral, svcID, nil)
	s.next()

	s.tr.Write(peripheral, charID, []byte{0x02}, true)
	s.tr.Disconnect(peripheral)
	s.Equal(transport.WriteCompleted{ID: peripheral, Characteristic: charID}, s.next())
	s.Equal(transport.Disconnected{ID: peripheral}, s.next())
}
