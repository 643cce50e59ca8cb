package router_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/AdinAck/Headlights-App/internal/endpoint"
	"github.com/AdinAck/Headlights-App/internal/prefs"
	"github.com/AdinAck/Headlights-App/internal/protocol"
	"github.com/AdinAck/Headlights-App/internal/router"
	"github.com/AdinAck/Headlights-App/internal/session"
	"github.com/AdinAck/Headlights-App/internal/testutils"
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type RouterSuite struct {
	testutils.MockTransportSuite

	prefs  *prefs.MemoryStore
	router *router.Router
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.MockTransportSuite.SetupTest()
	s.prefs = prefs.NewMemoryStore()
	s.router = s.newRouter(router.Options{Capacity: 2})
}

func (s *RouterSuite) newRouter(opts router.Options) *router.Router {
	if opts.Table == nil {
		opts.Table = s.Table
	}
	opts.Observers = append(opts.Observers, s.Changes.Observe)
	r, err := router.New(s.Transport, s.prefs, opts, s.Logger)
	s.Require().NoError(err)
	return r
}

func (s *RouterSuite) advertise(id transport.ID) {
	s.router.HandleEvent(transport.Advertisement{
		ID:          id,
		Name:        "Headlight " + string(id),
		RSSI:        -55,
		Services:    []transport.UUID{s.Table.Service()},
		Connectable: true,
	})
}

// complete answers a connection attempt the way a healthy peripheral does.
func (s *RouterSuite) complete(id transport.ID) {
	s.router.HandleEvent(transport.Connected{ID: id})
	s.router.HandleEvent(transport.ServicesDiscovered{ID: id, Services: []transport.UUID{s.Table.Service()}})
	s.router.HandleEvent(transport.CharacteristicsDiscovered{
		ID:              id,
		Service:         s.Table.Service(),
		Characteristics: testutils.Characteristics(s.Table),
	})
	for _, e := range s.Table.OneShot() {
		s.router.HandleEvent(transport.ValueUpdated{
			ID:             id,
			Characteristic: e.UUID,
			Value:          testutils.MustEncode(testutils.SampleProperties),
		})
	}
}

func (s *RouterSuite) load(id transport.ID) {
	s.advertise(id)
	s.Require().NoError(s.router.Connect(id))
	s.complete(id)
	s.Require().True(s.inLoaded(id), "%s not loaded", id)
}

func (s *RouterSuite) inLoaded(id transport.ID) bool {
	return containsID(s.router.Loaded(), id)
}

func (s *RouterSuite) inDiscovered(id transport.ID) bool {
	return containsID(s.router.Discovered(), id)
}

func containsID(snaps []session.Snapshot, id transport.ID) bool {
	for _, snap := range snaps {
		if snap.ID == id {
			return true
		}
	}
	return false
}

func (s *RouterSuite) TestNewValidatesOptions() {
	_, err := router.New(s.Transport, s.prefs, router.Options{Capacity: 0}, s.Logger)
	s.Error(err)
	_, err = router.New(nil, s.prefs, router.Options{Capacity: 1}, s.Logger)
	s.Error(err)
	_, err = router.New(s.Transport, nil, router.Options{Capacity: 1}, s.Logger)
	s.Error(err)

	r, err := router.New(s.Transport, s.prefs, router.Options{Capacity: 3}, nil)
	s.Require().NoError(err)
	s.Equal(3, r.Capacity())
}

func (s *RouterSuite) TestAdvertisementCreatesDiscoveredSession() {
	s.advertise("a")
	s.advertise("a")

	discovered := s.router.Discovered()
	s.Require().Len(discovered, 1)
	s.Equal(transport.ID("a"), discovered[0].ID)
	s.Equal("Headlight a", discovered[0].Name)
	s.Equal(-55, discovered[0].RSSI)
	s.Equal(session.Discovered, discovered[0].State)
	s.Empty(s.router.Loaded())
	s.Len(s.Changes.Of(session.ChangeDiscovered), 1)
	s.Transport.AssertNotCalled(s.T(), "Connect", mock.Anything)
}

func (s *RouterSuite) TestDiscoveredOrderedByID() {
	for _, id := range []transport.ID{"c", "a", "b"} {
		s.advertise(id)
	}
	var ids []transport.ID
	for _, snap := range s.router.Discovered() {
		ids = append(ids, snap.ID)
	}
	s.Equal([]transport.ID{"a", "b", "c"}, ids)
}

func (s *RouterSuite) TestConnectLoadsAndPromotes() {
	s.advertise("a")
	s.Require().NoError(s.router.Connect("a"))
	s.Transport.AssertCalled(s.T(), "Connect", transport.ID("a"))

	snap, ok := s.router.Lookup("a")
	s.Require().True(ok)
	s.Equal(session.Connecting, snap.State)

	s.complete("a")

	s.True(s.inLoaded("a"))
	s.False(s.inDiscovered("a"))
	s.Len(s.Changes.Of(session.ChangeLoaded), 1)

	s.NoError(s.router.Connect("a"), "connecting a loaded peripheral is a no-op")
	s.Transport.AssertNumberOfCalls(s.T(), "Connect", 1)
}

func (s *RouterSuite) TestConnectUnknownPeripheral() {
	err := s.router.Connect("ghost")
	s.ErrorIs(err, router.ErrUnknownPeripheral)
	s.Transport.AssertNotCalled(s.T(), "Connect", mock.Anything)
}

func (s *RouterSuite) TestConnectInFlightIsNoop() {
	s.advertise("a")
	s.Require().NoError(s.router.Connect("a"))
	s.Require().NoError(s.router.Connect("a"))
	s.Transport.AssertNumberOfCalls(s.T(), "Connect", 1)
}

// Scenario: capacity 1, a second connect while the first is in progress is
// rejected without touching the transport.
func (s *RouterSuite) TestAdmissionCountsInFlight() {
	s.router = s.newRouter(router.Options{Capacity: 1})
	s.advertise("a")
	s.advertise("b")

	s.Require().NoError(s.router.Connect("a"))
	err := s.router.Connect("b")

	var admission *router.AdmissionError
	s.Require().ErrorAs(err, &admission)
	s.ErrorIs(err, router.ErrAdmissionRejected)
	s.Equal(1, admission.Capacity)
	s.Equal(1, admission.Occupied)
	s.Transport.AssertNumberOfCalls(s.T(), "Connect", 1)
	s.Transport.AssertCalled(s.T(), "Connect", transport.ID("a"))

	snap, ok := s.router.Lookup("b")
	s.Require().True(ok)
	s.Equal(session.Discovered, snap.State, "a rejected session is untouched")
}

func (s *RouterSuite) TestAdmissionBound() {
	for n := 1; n <= 3; n++ {
		s.Run(fmt.Sprintf("capacity %d", n), func() {
			s.SetupTest()
			s.router = s.newRouter(router.Options{Capacity: n})

			var rejected int
			for i := 0; i < n+2; i++ {
				id := transport.ID(fmt.Sprintf("hl-%d", i))
				s.advertise(id)
				if err := s.router.Connect(id); err != nil {
					s.ErrorIs(err, router.ErrAdmissionRejected)
					rejected++
					continue
				}
				s.complete(id)
				s.LessOrEqual(len(s.router.Loaded()), n)
			}
			s.Len(s.router.Loaded(), n)
			s.Equal(2, rejected)
			s.Transport.AssertNumberOfCalls(s.T(), "Connect", n)
		})
	}
}

func (s *RouterSuite) TestSlotFreedByDisconnect() {
	s.router = s.newRouter(router.Options{Capacity: 1})
	s.load("a")
	s.advertise("b")
	s.ErrorIs(s.router.Connect("b"), router.ErrAdmissionRejected)

	s.router.HandleEvent(transport.Disconnected{ID: "a"})
	s.False(s.inLoaded("a"))
	s.NoError(s.router.Connect("b"))
}

func (s *RouterSuite) TestSlotFreedByFailedAttempt() {
	s.router = s.newRouter(router.Options{Capacity: 1})
	s.advertise("a")
	s.advertise("b")
	s.Require().NoError(s.router.Connect("a"))

	s.router.HandleEvent(transport.Disconnected{ID: "a", Err: errors.New("connection timed out")})

	snap, ok := s.router.Lookup("a")
	s.Require().True(ok, "a failed attempt keeps the discovered session")
	s.Equal(session.Disconnected, snap.State)
	s.NoError(s.router.Connect("b"))
}

// Scenario: a peripheral with a missing characteristic is invalidated,
// disconnected once and never loaded.
func (s *RouterSuite) TestInvalidPeripheral() {
	s.advertise("a")
	s.Require().NoError(s.router.Connect("a"))
	s.router.HandleEvent(transport.Connected{ID: "a"})
	s.router.HandleEvent(transport.ServicesDiscovered{ID: "a", Services: []transport.UUID{s.Table.Service()}})
	s.router.HandleEvent(transport.CharacteristicsDiscovered{
		ID:              "a",
		Service:         s.Table.Service(),
		Characteristics: testutils.Characteristics(s.Table, endpoint.Config),
	})

	s.False(s.inLoaded("a"))
	s.Transport.AssertNumberOfCalls(s.T(), "Disconnect", 1)
	s.router.HandleEvent(transport.Disconnected{ID: "a"})

	snap, ok := s.router.Lookup("a")
	s.Require().True(ok)
	s.Equal(session.Invalid, snap.State)
	s.ErrorIs(s.router.Connect("a"), session.ErrInvalid)
	s.Transport.AssertNumberOfCalls(s.T(), "Connect", 1)

	s.Require().NoError(s.router.StartScan())
	s.False(s.inDiscovered("a"), "scan start prunes invalid sessions")
}

func (s *RouterSuite) TestPoolExclusivity() {
	s.router = s.newRouter(router.Options{Capacity: 2})
	ids := []transport.ID{"a", "b", "c"}
	check := func() {
		for _, id := range ids {
			s.False(s.inLoaded(id) && s.inDiscovered(id), "%s in both pools", id)
		}
	}

	for _, id := range ids {
		s.advertise(id)
		check()
	}
	s.Require().NoError(s.router.Connect("a"))
	check()
	s.complete("a")
	check()
	s.Require().NoError(s.router.Connect("b"))
	s.router.HandleEvent(transport.Connected{ID: "b"})
	check()
	s.router.HandleEvent(transport.Disconnected{ID: "a"})
	check()
	s.router.HandleEvent(transport.Disconnected{ID: "b"})
	check()
}

// Scenario: the favorite is connected automatically on discovery until the
// user disconnects it.
func (s *RouterSuite) TestFavoriteAutoConnect() {
	s.Require().NoError(s.router.SetFavorite("fav"))
	s.Require().True(s.router.AutoConnect())

	s.advertise("other")
	s.Transport.AssertNotCalled(s.T(), "Connect", transport.ID("other"))

	s.advertise("fav")
	s.Transport.AssertCalled(s.T(), "Connect", transport.ID("fav"))
	s.complete("fav")
	s.True(s.inLoaded("fav"))

	s.Require().NoError(s.router.Disconnect("fav"))
	s.False(s.router.AutoConnect(), "manual disconnect disables auto-connect")
	s.Transport.AssertCalled(s.T(), "Disconnect", transport.ID("fav"))
	s.router.HandleEvent(transport.Disconnected{ID: "fav"})
	s.False(s.inLoaded("fav"))

	s.advertise("fav")
	s.True(s.inDiscovered("fav"))
	s.Transport.AssertNumberOfCalls(s.T(), "Connect", 1)
}

func (s *RouterSuite) TestAutoConnectDisabled() {
	s.Require().NoError(s.router.SetFavorite("fav"))
	s.Require().NoError(s.router.SetAutoConnect(false))
	s.advertise("fav")
	s.Transport.AssertNotCalled(s.T(), "Connect", mock.Anything)
}

func (s *RouterSuite) TestAutoConnectRejectedReported() {
	s.router = s.newRouter(router.Options{Capacity: 1})
	s.load("a")
	s.Require().NoError(s.router.SetFavorite("fav"))

	s.advertise("fav")

	s.Transport.AssertNumberOfCalls(s.T(), "Connect", 1)
	var found bool
	for _, c := range s.Changes.Of(session.ChangeDiagnostic) {
		if c.ID == "fav" && errors.Is(c.Err, router.ErrAdmissionRejected) {
			found = true
		}
	}
	s.True(found, "rejected auto-connect must be reported")
}

func (s *RouterSuite) TestDisconnectNonFavoriteDiscoveredIsForgotten() {
	s.advertise("a")
	s.Require().NoError(s.router.Connect("a"))
	s.router.HandleEvent(transport.Connected{ID: "a"})

	s.Require().NoError(s.router.Disconnect("a"))
	s.True(s.inDiscovered("a"), "removed only once the link is down")
	s.router.HandleEvent(transport.Disconnected{ID: "a"})

	s.False(s.inDiscovered("a"))
	s.Len(s.Changes.Of(session.ChangeRemoved), 1)
}

func (s *RouterSuite) TestDisconnectIdleDiscoveredIsForgotten() {
	s.advertise("a")

	s.Require().NoError(s.router.Disconnect("a"))

	s.False(s.inDiscovered("a"), "no link, so nothing to wait for")
	s.Transport.AssertNotCalled(s.T(), "Disconnect", mock.Anything)
	removed := s.Changes.Of(session.ChangeRemoved)
	s.Require().Len(removed, 1)
	s.Equal(transport.ID("a"), removed[0].ID)
	s.False(s.router.AutoConnect())
}

func (s *RouterSuite) TestDisconnectIdleFavoriteIsKept() {
	s.Require().NoError(s.router.SetFavorite("fav"))
	s.Require().NoError(s.router.SetAutoConnect(false))
	s.advertise("fav")

	s.Require().NoError(s.router.Disconnect("fav"))

	s.True(s.inDiscovered("fav"))
	s.Transport.AssertNotCalled(s.T(), "Disconnect", mock.Anything)
	s.Empty(s.Changes.Of(session.ChangeRemoved))
}

func (s *RouterSuite) TestDisconnectFavoriteDiscoveredIsKept() {
	s.Require().NoError(s.router.SetFavorite("fav"))
	s.Require().NoError(s.router.SetAutoConnect(false))
	s.advertise("fav")
	s.Require().NoError(s.router.Connect("fav"))

	s.Require().NoError(s.router.Disconnect("fav"))
	s.router.HandleEvent(transport.Disconnected{ID: "fav"})
	s.True(s.inDiscovered("fav"))
}

func (s *RouterSuite) TestDisconnectUnknown() {
	s.ErrorIs(s.router.Disconnect("ghost"), router.ErrUnknownPeripheral)
	s.Transport.AssertNotCalled(s.T(), "Disconnect", mock.Anything)
}

func (s *RouterSuite) TestLoadedDisconnectRemoves() {
	s.load("a")
	s.router.HandleEvent(transport.Disconnected{ID: "a", Err: errors.New("supervision timeout")})

	s.False(s.inLoaded("a"))
	s.False(s.inDiscovered("a"))
	_, ok := s.router.Lookup("a")
	s.False(ok)

	removed := s.Changes.Of(session.ChangeRemoved)
	s.Require().Len(removed, 1)
	s.Equal(transport.ID("a"), removed[0].ID)

	s.advertise("a")
	s.True(s.inDiscovered("a"), "a removed peripheral is rediscovered")
}

func (s *RouterSuite) TestAllowAndBlockLists() {
	s.router = s.newRouter(router.Options{
		Capacity:  1,
		AllowList: []transport.ID{"a", "b"},
		BlockList: []transport.ID{"b", "c"},
	})
	for _, id := range []transport.ID{"a", "b", "c", "d"} {
		s.advertise(id)
	}
	s.True(s.inDiscovered("a"))
	s.False(s.inDiscovered("b"), "block list wins")
	s.False(s.inDiscovered("c"))
	s.False(s.inDiscovered("d"), "not on the allow list")
}

func (s *RouterSuite) TestStartScan() {
	s.Require().NoError(s.router.StartScan())
	s.True(s.router.Scanning())
	s.Transport.AssertCalled(s.T(), "Scan", []transport.UUID{s.Table.Service()})

	s.router.StopScan()
	s.False(s.router.Scanning())
	s.router.StopScan()
	s.Transport.AssertNumberOfCalls(s.T(), "StopScan", 1)
}

func (s *RouterSuite) TestStartScanPrunesStaleOnly() {
	s.advertise("stale")
	s.advertise("connecting")
	s.Require().NoError(s.router.Connect("connecting"))
	s.load("loaded")

	s.Require().NoError(s.router.StartScan())

	s.False(s.inDiscovered("stale"))
	s.True(s.inDiscovered("connecting"))
	s.True(s.inLoaded("loaded"))
}

func (s *RouterSuite) TestStartScanAdapterUnavailable() {
	s.Transport.SetAdapterState(transport.AdapterPoweredOff)
	err := s.router.StartScan()
	s.ErrorIs(err, transport.ErrAdapterUnavailable)
	s.Equal(transport.AdapterPoweredOff, transport.AdapterStateOf(err))
	s.Transport.AssertNotCalled(s.T(), "Scan", mock.Anything)
}

func (s *RouterSuite) TestAdapterStateChanges() {
	s.load("a")
	s.Require().NoError(s.router.StartScan())

	s.Transport.SetAdapterState(transport.AdapterPoweredOff)
	s.router.HandleEvent(transport.AdapterStateChanged{State: transport.AdapterPoweredOff})

	s.False(s.router.Scanning())
	s.Transport.AssertNumberOfCalls(s.T(), "StopScan", 1)
	s.Equal(transport.AdapterPoweredOff, s.router.Adapter())
	s.True(s.inLoaded("a"), "loaded sessions survive adapter loss")
	adapter := s.Changes.Of(session.ChangeAdapterChanged)
	s.Require().Len(adapter, 1)
	s.ErrorIs(adapter[0].Err, transport.ErrAdapterUnavailable)

	s.Transport.SetAdapterState(transport.AdapterReady)
	s.router.HandleEvent(transport.AdapterStateChanged{State: transport.AdapterReady})

	s.True(s.router.Scanning())
	s.Transport.AssertNumberOfCalls(s.T(), "Scan", 2)
	adapter = s.Changes.Of(session.ChangeAdapterChanged)
	s.Require().Len(adapter, 2)
	s.NoError(adapter[1].Err)
}

func (s *RouterSuite) TestAdapterLossStopsTransportScan() {
	s.Require().NoError(s.router.StartScan())

	s.Transport.SetAdapterState(transport.AdapterUnauthorized)
	s.router.HandleEvent(transport.AdapterStateChanged{State: transport.AdapterUnauthorized})

	s.False(s.router.Scanning())
	s.Transport.AssertCalled(s.T(), "StopScan")

	// A second loss has nothing left to stop.
	s.router.HandleEvent(transport.AdapterStateChanged{State: transport.AdapterPoweredOff})
	s.Transport.AssertNumberOfCalls(s.T(), "StopScan", 1)
}

func (s *RouterSuite) TestUnknownPeripheralEventsDropped() {
	s.NotPanics(func() {
		s.router.HandleEvent(transport.Connected{ID: "ghost"})
		s.router.HandleEvent(transport.Disconnected{ID: "ghost"})
		s.router.HandleEvent(transport.ServicesDiscovered{ID: "ghost"})
		s.router.HandleEvent(transport.CharacteristicsDiscovered{ID: "ghost"})
		s.router.HandleEvent(transport.ValueUpdated{ID: "ghost", Value: []byte{0xF0, 0x00}})
		s.router.HandleEvent(transport.NotifyStateChanged{ID: "ghost"})
		s.router.HandleEvent(transport.WriteCompleted{ID: "ghost"})
	})
	s.Empty(s.router.Discovered())
	s.Empty(s.router.Loaded())
	s.Empty(s.Changes.All())
}

func (s *RouterSuite) TestUnsolicitedConnectionOverCapacity() {
	s.router = s.newRouter(router.Options{Capacity: 1})
	s.load("a")
	s.advertise("b")

	s.router.HandleEvent(transport.Connected{ID: "b"})

	s.Transport.AssertCalled(s.T(), "Disconnect", transport.ID("b"))
	s.Transport.AssertNotCalled(s.T(), "DiscoverServices", transport.ID("b"), mock.Anything)
	s.Len(s.router.Loaded(), 1)
}

func (s *RouterSuite) TestUnsolicitedConnectionWithinCapacity() {
	s.advertise("a")
	s.router.HandleEvent(transport.Connected{ID: "a"})
	s.Transport.AssertCalled(s.T(), "DiscoverServices", transport.ID("a"), []transport.UUID{s.Table.Service()})
}

func (s *RouterSuite) TestSendRoutesToSession() {
	s.load("a")
	s.Require().NoError(s.router.Send("a", endpoint.Control, protocol.Control{Target: 1500}))
	s.Require().NoError(s.router.Request("a", protocol.RequestMonitor))

	writes := s.Transport.Writes()
	s.Require().Len(writes, 2)
	s.Equal(testutils.CharOf(s.Table, endpoint.Control), writes[0].Characteristic)
	s.Equal([]byte{0xDC, 0x05}, writes[0].Data)
	s.Equal(testutils.CharOf(s.Table, endpoint.Request), writes[1].Characteristic)
	s.Equal([]byte{0xAB}, writes[1].Data)

	s.ErrorIs(s.router.Send("ghost", endpoint.Control, protocol.Control{}), router.ErrUnknownPeripheral)
}

func (s *RouterSuite) TestSubscribe() {
	rc := s.router.Subscribe(4)
	s.advertise("a")

	c, ok := rc.TryReceive()
	s.Require().True(ok)
	s.Equal(session.ChangeDiscovered, c.Type)
	s.Equal(transport.ID("a"), c.ID)
	s.False(c.At.IsZero())

	s.router.Unsubscribe(rc)
	s.advertise("b")
	_, ok = rc.TryReceive()
	s.False(ok)
}

func (s *RouterSuite) TestSlowSubscriberLosesOldest() {
	rc := s.router.Subscribe(2)
	for _, id := range []transport.ID{"a", "b", "c"} {
		s.advertise(id)
	}
	s.Equal(2, rc.Len())
	c, _ := rc.TryReceive()
	s.Equal(transport.ID("b"), c.ID)
	s.EqualValues(1, rc.Metrics().Overwritten)
}

func (s *RouterSuite) TestPreferences() {
	s.Require().NoError(s.router.SetFavorite("a"))
	fav, ok := s.router.Favorite()
	s.True(ok)
	s.Equal(transport.ID("a"), fav)
	s.Equal(prefs.Preferences{Favorite: "a", AutoConnect: true}, s.router.Preferences())

	s.Require().NoError(s.router.ClearFavorite())
	_, ok = s.router.Favorite()
	s.False(ok)
}

func (s *RouterSuite) TestReleaseKeepsPreferences() {
	s.Require().NoError(s.router.SetFavorite("a"))
	s.load("a")

	s.Require().NoError(s.router.Release("a"))
	s.True(s.router.AutoConnect())
	s.Transport.AssertCalled(s.T(), "Disconnect", transport.ID("a"))

	s.router.HandleEvent(transport.Disconnected{ID: "a"})
	s.NoError(s.router.Release("a"), "releasing a forgotten peripheral")
	s.ErrorIs(s.router.Release("ghost"), router.ErrUnknownPeripheral)
}
