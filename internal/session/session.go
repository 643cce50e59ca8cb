// Package session implements the per-peripheral state machine: connection,
// service and characteristic discovery, validation against an endpoint table,
// notification decoding and command writes.
//
// A Session is confined to the goroutine that feeds it transport events. Only
// ID and Snapshot may be called from other goroutines.
package session

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/AdinAck/Headlights-App/internal/endpoint"
	"github.com/AdinAck/Headlights-App/internal/protocol"
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/sirupsen/logrus"
)

// Session tracks one peripheral.
type Session struct {
	id     transport.ID
	name   string
	rssi   int
	table  *endpoint.Table
	tr     transport.Transport
	logger *logrus.Logger
	notify Observer

	state     State
	valid     bool
	connected bool
	loaded    bool
	mapping   map[endpoint.Endpoint]transport.UUID
	handles   map[transport.UUID]endpoint.Endpoint
	pending   map[endpoint.Endpoint]struct{}
	retried   map[endpoint.Endpoint]struct{}
	values    map[endpoint.Endpoint]protocol.Packet
	missing   []endpoint.Endpoint

	published atomic.Pointer[Snapshot]
	now       func() time.Time
}

// New creates a session in the Discovered state. A nil logger gets a default
// one; a nil observer discards changes.
func New(id transport.ID, name string, rssi int, table *endpoint.Table, tr transport.Transport, logger *logrus.Logger, observer Observer) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	if observer == nil {
		observer = func(Change) {}
	}
	s := &Session{
		id:     id,
		name:   name,
		rssi:   rssi,
		table:  table,
		tr:     tr,
		logger: logger,
		notify: observer,
		state:  Discovered,
		values: make(map[endpoint.Endpoint]protocol.Packet),
		now:    time.Now,
	}
	s.publish()
	return s
}

func (s *Session) ID() transport.ID { return s.id }

// Snapshot returns a copy of the published state.
func (s *Session) Snapshot() Snapshot {
	return s.published.Load().clone()
}

func (s *Session) State() State    { return s.state }
func (s *Session) Connected() bool { return s.connected }
func (s *Session) Loaded() bool    { return s.loaded }
func (s *Session) IsInvalid() bool { return s.state == Invalid }
func (s *Session) InFlight() bool  { return s.state.InFlight() }

func (s *Session) Table() *endpoint.Table { return s.table }

// BeginConnect marks the start of a connection attempt. A previously
// disconnected session starts over with an empty mapping and no values.
func (s *Session) BeginConnect() error {
	if s.state == Invalid {
		return ErrInvalid
	}
	s.mapping, s.handles, s.pending, s.retried, s.missing = nil, nil, nil, nil, nil
	s.values = make(map[endpoint.Endpoint]protocol.Packet)
	s.valid = false
	s.setState(Connecting, nil)
	return nil
}

// Disconnect asks the transport to drop the link, cancelling any attempt in
// progress. State changes when the transport confirms.
func (s *Session) Disconnect() {
	s.tr.Disconnect(s.id)
}

// OnConnected starts service discovery.
func (s *Session) OnConnected() {
	if s.connected {
		s.log().Debug("duplicate connected event ignored")
		return
	}
	if s.state == Invalid {
		s.log().Warn("connected event for invalid session ignored")
		return
	}
	s.connected = true
	s.setState(ServiceDiscovery, nil)
	s.tr.DiscoverServices(s.id, []transport.UUID{s.table.Service()})
}

// OnServicesDiscovered starts characteristic discovery on the headlight
// service, or invalidates the session if the service is absent.
func (s *Session) OnServicesDiscovered(services []transport.UUID, err error) {
	if s.state != ServiceDiscovery {
		s.log().WithField("state", s.state).Debug("unexpected services discovered event ignored")
		return
	}
	if err != nil {
		s.invalidate(fmt.Errorf("%w: %w", ErrServiceNotFound, transport.NormalizeError(err)))
		return
	}
	found := false
	for _, svc := range services {
		if svc == s.table.Service() {
			found = true
			break
		}
	}
	if !found {
		s.invalidate(ErrServiceNotFound)
		return
	}

	s.setState(CharacteristicDiscovery, nil)
	s.tr.DiscoverCharacteristics(s.id, s.table.Service(), s.table.CharacteristicUUIDs())
}

// OnCharacteristicsDiscovered builds the endpoint mapping and validates it.
// Characteristics the table does not name are ignored.
func (s *Session) OnCharacteristicsDiscovered(service transport.UUID, chars []transport.UUID, err error) {
	if s.state != CharacteristicDiscovery {
		s.log().WithField("state", s.state).Debug("unexpected characteristics discovered event ignored")
		return
	}
	if service != s.table.Service() {
		s.log().WithField("service", service).Debug("characteristics of foreign service ignored")
		return
	}
	if err != nil {
		s.log().WithError(transport.NormalizeError(err)).Warn("characteristic discovery failed")
	}

	s.mapping = make(map[endpoint.Endpoint]transport.UUID, s.table.Len())
	s.handles = make(map[transport.UUID]endpoint.Endpoint, s.table.Len())
	for _, c := range chars {
		entry, ok := s.table.Lookup(c)
		if !ok {
			continue
		}
		s.mapping[entry.Endpoint] = c
		s.handles[c] = entry.Endpoint
	}
	s.setState(Validating, nil)

	if len(s.mapping) != s.table.Len() {
		var missing []endpoint.Endpoint
		for _, ep := range s.table.Endpoints() {
			if _, ok := s.mapping[ep]; !ok {
				missing = append(missing, ep)
			}
		}
		s.missing = missing
		s.invalidate(&MismatchError{Expected: s.table.Len(), Found: len(s.mapping), Missing: missing})
		return
	}

	s.valid = true
	for _, e := range s.table.Notifying() {
		s.tr.Subscribe(s.id, s.mapping[e.Endpoint])
	}

	oneShot := s.table.OneShot()
	if len(oneShot) == 0 {
		s.markLoaded()
		return
	}
	s.pending = make(map[endpoint.Endpoint]struct{}, len(oneShot))
	s.retried = make(map[endpoint.Endpoint]struct{}, len(oneShot))
	for _, e := range oneShot {
		s.pending[e.Endpoint] = struct{}{}
	}
	s.setState(FinalizingLoad, nil)
	for _, e := range oneShot {
		s.tr.Read(s.id, s.mapping[e.Endpoint])
	}
}

// OnValue decodes a notification or read result and publishes it. Values that
// cannot be attributed or decoded are reported and dropped, leaving the
// previously published value in place.
func (s *Session) OnValue(char transport.UUID, value []byte, err error) {
	ep, ok := s.handles[char]
	if !ok {
		s.diagnose(0, fmt.Errorf("%w %s", ErrUnknownCharacteristic, char))
		return
	}
	if err != nil {
		s.reject(ep, fmt.Errorf("%w: %s: %w", ErrReadFailed, ep, transport.NormalizeError(err)))
		return
	}
	entry, _ := s.table.Entry(ep)
	if !entry.Role.Decodable() || entry.Kind == protocol.KindNone {
		s.diagnose(ep, fmt.Errorf("%w %s", ErrNoDecoder, ep))
		return
	}

	pkt, err := protocol.Decode(entry.Kind, value)
	if err != nil {
		s.reject(ep, err)
		return
	}

	s.values[ep] = pkt
	s.publish()
	s.emit(Change{Type: ChangeValueUpdated, Endpoint: ep, Packet: pkt})

	if _, waiting := s.pending[ep]; waiting {
		delete(s.pending, ep)
		if len(s.pending) == 0 && s.state == FinalizingLoad {
			s.markLoaded()
		}
	}
}

// reject reports a value that could not be used. A one-shot read the load is
// waiting on is issued once more.
func (s *Session) reject(ep endpoint.Endpoint, err error) {
	s.diagnose(ep, err)
	if _, waiting := s.pending[ep]; !waiting || s.state != FinalizingLoad {
		return
	}
	if _, done := s.retried[ep]; done {
		return
	}
	s.retried[ep] = struct{}{}
	s.log().WithField("endpoint", ep).Info("retrying read")
	s.tr.Read(s.id, s.mapping[ep])
}

// OnNotifyState reports failed subscriptions.
func (s *Session) OnNotifyState(char transport.UUID, err error) {
	if err == nil {
		return
	}
	ep := s.handles[char]
	s.diagnose(ep, fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, ep, transport.NormalizeError(err)))
}

// OnWriteResult reports failed acknowledged writes.
func (s *Session) OnWriteResult(char transport.UUID, err error) {
	if err == nil {
		return
	}
	ep := s.handles[char]
	s.diagnose(ep, &WriteError{Endpoint: ep, Err: transport.NormalizeError(err)})
}

// Send encodes pkt and writes it to ep with acknowledgement. Local rejections
// are returned as *WriteError; transport failures arrive later through
// OnWriteResult.
func (s *Session) Send(ep endpoint.Endpoint, pkt protocol.Packet) error {
	if s.state == Invalid {
		return &WriteError{Endpoint: ep, Err: ErrInvalid}
	}
	if !s.loaded {
		return &WriteError{Endpoint: ep, Err: ErrNotLoaded}
	}
	entry, ok := s.table.Entry(ep)
	if !ok || !entry.Role.Has(endpoint.RoleWrite) {
		return &WriteError{Endpoint: ep, Err: ErrNotWritable}
	}
	if pkt == nil || pkt.Kind() != entry.Kind {
		return &WriteError{Endpoint: ep, Err: ErrKindMismatch}
	}
	b, err := protocol.Encode(pkt)
	if err != nil {
		return &WriteError{Endpoint: ep, Err: err}
	}

	s.log().WithFields(logrus.Fields{"endpoint": ep, "bytes": fmt.Sprintf("% x", b)}).Debug("write")
	s.tr.Write(s.id, s.mapping[ep], b, true)
	return nil
}

// Request asks the peripheral to notify the current value of an endpoint.
func (s *Session) Request(req protocol.Request) error {
	return s.Send(endpoint.Request, req)
}

// OnDisconnected clears the link flags. An invalid session stays Invalid.
func (s *Session) OnDisconnected(err error) {
	s.connected = false
	s.loaded = false
	s.pending, s.retried = nil, nil
	err = transport.NormalizeError(err)
	if s.state == Invalid {
		s.publish()
		s.emit(Change{Type: ChangeStateChanged, Err: err})
		return
	}
	s.setState(Disconnected, err)
}

func (s *Session) invalidate(reason error) {
	s.valid = false
	s.loaded = false
	s.log().WithError(reason).Warn("peripheral invalid")
	s.setState(Invalid, nil)
	s.emit(Change{Type: ChangeInvalidated, Err: reason})
	s.tr.Disconnect(s.id)
}

func (s *Session) markLoaded() {
	s.loaded = true
	s.pending = nil
	s.setState(Loaded, nil)
	s.emit(Change{Type: ChangeLoaded})
	s.log().Info("peripheral loaded")
}

func (s *Session) setState(state State, err error) {
	prev := s.state
	s.state = state
	s.publish()
	s.log().WithFields(logrus.Fields{"from": prev, "to": state}).Debug("state")
	s.emit(Change{Type: ChangeStateChanged, Err: err})
}

func (s *Session) diagnose(ep endpoint.Endpoint, err error) {
	entry := s.log().WithError(err)
	if ep != 0 {
		entry = entry.WithField("endpoint", ep)
	}
	var decodeErr *protocol.DecodeError
	if errors.As(err, &decodeErr) {
		entry.Debug("packet dropped")
	} else {
		entry.Warn("diagnostic")
	}
	s.emit(Change{Type: ChangeDiagnostic, Endpoint: ep, Err: err})
}

func (s *Session) emit(c Change) {
	c.ID = s.id
	c.State = s.state
	if c.At.IsZero() {
		c.At = s.now()
	}
	s.notify(c)
}

func (s *Session) publish() {
	snap := &Snapshot{
		ID:        s.id,
		Name:      s.name,
		RSSI:      s.rssi,
		Version:   s.table.Version(),
		State:     s.state,
		Valid:     s.valid,
		Connected: s.connected,
		Loaded:    s.loaded,
		Values:    make(map[endpoint.Endpoint]protocol.Packet, len(s.values)),
		Missing:   s.missing,
		UpdatedAt: s.now(),
	}
	for ep, v := range s.values {
		snap.Values[ep] = v
	}
	s.published.Store(snap)
}

func (s *Session) log() *logrus.Entry {
	return s.logger.WithField("peripheral", s.id)
}
