// Package router owns the discovered and loaded peripheral pools and decides
// which connection attempts are admitted.
//
// Every method except the read API (Discovered, Loaded, Capacity, Subscribe,
// Unsubscribe and the preference accessors) must be called from the single
// goroutine that consumes transport events.
package router

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdinAck/Headlights-App/internal/endpoint"
	"github.com/AdinAck/Headlights-App/internal/prefs"
	"github.com/AdinAck/Headlights-App/internal/protocol"
	"github.com/AdinAck/Headlights-App/internal/ringchan"
	"github.com/AdinAck/Headlights-App/internal/session"
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
)

// Options configures a Router.
type Options struct {
	// Capacity bounds the loaded pool. Must be at least 1.
	Capacity int
	Table    *endpoint.Table
	// AllowList, when non-empty, restricts discovery to these identities.
	AllowList []transport.ID
	// BlockList identities are never discovered. It wins over AllowList.
	BlockList []transport.ID
	// Observers receive every change on the loop goroutine, before
	// subscribers.
	Observers []session.Observer
}

// Router is the discovery and admission state machine.
type Router struct {
	tr     transport.Transport
	prefs  prefs.Store
	table  *endpoint.Table
	logger *logrus.Logger

	capacity  int
	allowList map[transport.ID]struct{}
	blockList map[transport.ID]struct{}
	observers []session.Observer

	discovered *hashmap.Map[transport.ID, *session.Session]
	loaded     *hashmap.Map[transport.ID, *session.Session]

	// dropOnDisconnect marks discovered sessions the user disconnected.
	dropOnDisconnect map[transport.ID]struct{}

	scanning atomic.Bool
	adapter  atomic.Int32

	subsMu sync.Mutex
	subs   map[*ringchan.RingChannel[session.Change]]struct{}

	now func() time.Time
}

// New creates a Router. A nil logger gets a default one.
func New(tr transport.Transport, store prefs.Store, opts Options, logger *logrus.Logger) (*Router, error) {
	if tr == nil {
		return nil, errors.New("router: transport is required")
	}
	if store == nil {
		return nil, errors.New("router: preference store is required")
	}
	if opts.Capacity < 1 {
		return nil, fmt.Errorf("router: capacity must be at least 1, got %d", opts.Capacity)
	}
	if opts.Table == nil {
		opts.Table = endpoint.V2
	}
	if logger == nil {
		logger = logrus.New()
	}

	r := &Router{
		tr:               tr,
		prefs:            store,
		table:            opts.Table,
		logger:           logger,
		capacity:         opts.Capacity,
		allowList:        toSet(opts.AllowList),
		blockList:        toSet(opts.BlockList),
		observers:        slices.Clone(opts.Observers),
		discovered:       hashmap.New[transport.ID, *session.Session](),
		loaded:           hashmap.New[transport.ID, *session.Session](),
		dropOnDisconnect: make(map[transport.ID]struct{}),
		subs:             make(map[*ringchan.RingChannel[session.Change]]struct{}),
		now:              time.Now,
	}
	r.adapter.Store(int32(tr.AdapterState()))
	return r, nil
}

func toSet(ids []transport.ID) map[transport.ID]struct{} {
	set := make(map[transport.ID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// HandleEvent dispatches one transport event.
func (r *Router) HandleEvent(ev transport.Event) {
	switch e := ev.(type) {
	case transport.AdapterStateChanged:
		r.onAdapterState(e.State, e.Err)
	case transport.Advertisement:
		r.onAdvertisement(e)
	case transport.Connected:
		r.onConnected(e.ID)
	case transport.Disconnected:
		r.onDisconnected(e.ID, e.Err)
	case transport.ServicesDiscovered:
		if sess := r.route(ev); sess != nil {
			sess.OnServicesDiscovered(e.Services, e.Err)
		}
	case transport.CharacteristicsDiscovered:
		if sess := r.route(ev); sess != nil {
			sess.OnCharacteristicsDiscovered(e.Service, e.Characteristics, e.Err)
			r.promote(sess)
		}
	case transport.ValueUpdated:
		if sess := r.route(ev); sess != nil {
			sess.OnValue(e.Characteristic, e.Value, e.Err)
			r.promote(sess)
		}
	case transport.NotifyStateChanged:
		if sess := r.route(ev); sess != nil {
			sess.OnNotifyState(e.Characteristic, e.Err)
		}
	case transport.WriteCompleted:
		if sess := r.route(ev); sess != nil {
			sess.OnWriteResult(e.Characteristic, e.Err)
		}
	default:
		r.logger.WithField("event", fmt.Sprintf("%T", ev)).Warn("unhandled transport event")
	}
}

// StartScan prunes stale discovered sessions and starts scanning for the
// headlight service.
func (r *Router) StartScan() error {
	if st := r.tr.AdapterState(); st != transport.AdapterReady {
		return &transport.AdapterError{State: st}
	}

	var stale []transport.ID
	r.discovered.Range(func(id transport.ID, sess *session.Session) bool {
		if !sess.Connected() && !sess.InFlight() {
			stale = append(stale, id)
		}
		return true
	})
	for _, id := range stale {
		r.remove(r.discovered, id)
	}
	if len(stale) > 0 {
		r.logger.WithField("count", len(stale)).Debug("pruned stale peripherals")
	}

	r.tr.Scan([]transport.UUID{r.table.Service()})
	r.scanning.Store(true)
	r.logger.WithField("service", r.table.Service()).Info("scanning")
	return nil
}

// StopScan stops scanning. Known sessions are kept.
func (r *Router) StopScan() {
	if !r.scanning.Swap(false) {
		return
	}
	r.tr.StopScan()
	r.logger.Info("scan stopped")
}

// Scanning reports whether a scan is active.
func (r *Router) Scanning() bool { return r.scanning.Load() }

// Adapter returns the last reported adapter state.
func (r *Router) Adapter() transport.AdapterState {
	return transport.AdapterState(r.adapter.Load())
}

// Connect requests a connection to a discovered peripheral, subject to
// admission. A rejected attempt leaves every session untouched.
func (r *Router) Connect(id transport.ID) error {
	if _, ok := r.loaded.Get(id); ok {
		return nil
	}
	sess, ok := r.discovered.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeripheral, id)
	}
	if sess.IsInvalid() {
		return session.ErrInvalid
	}
	if sess.InFlight() || sess.Connected() {
		return nil
	}
	if occupied := r.occupied(); occupied >= r.capacity {
		err := &AdmissionError{Capacity: r.capacity, Occupied: occupied}
		r.log(id).WithError(err).Info("connection rejected")
		return err
	}

	if err := sess.BeginConnect(); err != nil {
		return err
	}
	delete(r.dropOnDisconnect, id)
	r.log(id).Info("connecting")
	r.tr.Connect(id)
	return nil
}

// Disconnect drops the link to id and disables auto-connect so the favorite
// is not reconnected behind the user's back. A non-favorite discovered
// session is forgotten once the link is down.
func (r *Router) Disconnect(id transport.ID) error {
	sess, inLoaded := r.loaded.Get(id)
	idle := false
	if !inLoaded {
		var ok bool
		if sess, ok = r.discovered.Get(id); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPeripheral, id)
		}
		idle = !sess.Connected() && !sess.InFlight()
		if fav, _ := r.prefs.Favorite(); fav != id {
			if idle {
				// No link, so no Disconnected event will follow.
				r.log(id).Info("forgetting idle peripheral")
				r.remove(r.discovered, id)
			} else {
				r.dropOnDisconnect[id] = struct{}{}
			}
		}
	}

	prefErr := r.prefs.SetAutoConnect(false)
	if prefErr != nil {
		r.log(id).WithError(prefErr).Warn("failed to disable auto-connect")
	}
	if !idle {
		r.log(id).Info("disconnecting")
		sess.Disconnect()
	}
	if prefErr != nil {
		return fmt.Errorf("disable auto-connect: %w", prefErr)
	}
	return nil
}

// Release drops the link to id without touching preferences. It is meant for
// tools that borrow a peripheral for one command.
func (r *Router) Release(id transport.ID) error {
	sess, ok := r.session(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeripheral, id)
	}
	if !sess.Connected() && !sess.InFlight() {
		return nil
	}
	r.log(id).Debug("releasing")
	sess.Disconnect()
	return nil
}

// Send writes pkt to ep of a loaded peripheral.
func (r *Router) Send(id transport.ID, ep endpoint.Endpoint, pkt protocol.Packet) error {
	sess, ok := r.session(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeripheral, id)
	}
	return sess.Send(ep, pkt)
}

// Request asks a loaded peripheral to notify the value selected by req.
func (r *Router) Request(id transport.ID, req protocol.Request) error {
	return r.Send(id, endpoint.Request, req)
}

func (r *Router) onAdapterState(state transport.AdapterState, cause error) {
	prev := transport.AdapterState(r.adapter.Swap(int32(state)))
	entry := r.logger.WithFields(logrus.Fields{"from": prev, "to": state})

	var err error
	if state != transport.AdapterReady {
		err = transport.NormalizeError(cause)
		if err == nil {
			err = &transport.AdapterError{State: state}
		}
		entry.WithError(err).Warn("bluetooth adapter unavailable")
		r.StopScan()
	} else {
		entry.Info("bluetooth adapter ready")
	}
	r.publish(session.Change{Type: session.ChangeAdapterChanged, Adapter: state, Err: err})

	if state == transport.AdapterReady {
		if err := r.StartScan(); err != nil {
			r.logger.WithError(err).Warn("failed to start scan")
		}
	}
}

func (r *Router) onAdvertisement(adv transport.Advertisement) {
	if !r.shouldInclude(adv.ID) {
		return
	}
	if _, ok := r.session(adv.ID); ok {
		return
	}

	sess := session.New(adv.ID, adv.Name, adv.RSSI, r.table, r.tr, r.logger, r.publish)
	if _, loaded := r.discovered.GetOrInsert(adv.ID, sess); loaded {
		return
	}
	r.log(adv.ID).WithFields(logrus.Fields{
		"name": adv.Name,
		"rssi": adv.RSSI,
	}).Info("discovered peripheral")
	r.publish(session.Change{Type: session.ChangeDiscovered, ID: adv.ID, State: sess.State()})

	if fav, ok := r.prefs.Favorite(); ok && fav == adv.ID && r.prefs.AutoConnect() {
		r.log(adv.ID).Info("auto-connecting favorite")
		if err := r.Connect(adv.ID); err != nil {
			r.log(adv.ID).WithError(err).Warn("auto-connect failed")
			r.publish(session.Change{Type: session.ChangeDiagnostic, ID: adv.ID, State: sess.State(), Err: err})
		}
	}
}

// shouldInclude applies the block list, then the allow list.
func (r *Router) shouldInclude(id transport.ID) bool {
	if _, blocked := r.blockList[id]; blocked {
		return false
	}
	if len(r.allowList) == 0 {
		return true
	}
	_, allowed := r.allowList[id]
	return allowed
}

func (r *Router) onConnected(id transport.ID) {
	sess := r.route(transport.Connected{ID: id})
	if sess == nil {
		return
	}
	// A link we did not ask for still takes a slot.
	if !sess.InFlight() && !sess.Connected() && !sess.Loaded() {
		if occupied := r.occupied(); occupied >= r.capacity {
			err := &AdmissionError{Capacity: r.capacity, Occupied: occupied}
			r.log(id).WithError(err).Warn("unsolicited connection rejected")
			r.publish(session.Change{Type: session.ChangeDiagnostic, ID: id, State: sess.State(), Err: err})
			sess.Disconnect()
			return
		}
		if err := sess.BeginConnect(); err != nil {
			r.log(id).WithError(err).Debug("connected event ignored")
			sess.Disconnect()
			return
		}
	}
	sess.OnConnected()
}

func (r *Router) onDisconnected(id transport.ID, err error) {
	if sess, ok := r.loaded.Get(id); ok {
		sess.OnDisconnected(err)
		r.remove(r.loaded, id)
		return
	}
	sess, ok := r.discovered.Get(id)
	if !ok {
		r.unknown(transport.Disconnected{ID: id, Err: err})
		return
	}
	sess.OnDisconnected(err)
	if _, drop := r.dropOnDisconnect[id]; drop {
		delete(r.dropOnDisconnect, id)
		r.remove(r.discovered, id)
	}
}

// promote moves a session that just finished loading into the loaded pool.
func (r *Router) promote(sess *session.Session) {
	if !sess.Loaded() {
		return
	}
	id := sess.ID()
	if _, ok := r.discovered.Get(id); !ok {
		return
	}
	r.discovered.Del(id)
	r.loaded.Set(id, sess)
	r.log(id).WithField("loaded", r.loaded.Len()).Info("peripheral promoted")
}

// occupied counts loaded sessions plus connection attempts in progress.
func (r *Router) occupied() int {
	n := r.loaded.Len()
	r.discovered.Range(func(_ transport.ID, sess *session.Session) bool {
		if sess.InFlight() {
			n++
		}
		return true
	})
	return n
}

func (r *Router) session(id transport.ID) (*session.Session, bool) {
	if sess, ok := r.loaded.Get(id); ok {
		return sess, true
	}
	return r.discovered.Get(id)
}

// route resolves the session an event refers to, logging unknown identities.
func (r *Router) route(ev transport.Event) *session.Session {
	sess, ok := r.session(ev.Peripheral())
	if !ok {
		r.unknown(ev)
		return nil
	}
	return sess
}

func (r *Router) unknown(ev transport.Event) {
	r.log(ev.Peripheral()).WithFields(logrus.Fields{
		"event": strings.TrimPrefix(fmt.Sprintf("%T", ev), "transport."),
		"error": ErrUnknownPeripheral,
	}).Debug("event dropped")
}

func (r *Router) remove(pool *hashmap.Map[transport.ID, *session.Session], id transport.ID) {
	if !pool.Del(id) {
		return
	}
	r.publish(session.Change{Type: session.ChangeRemoved, ID: id})
}

// publish hands c to the observers, then to every subscriber. It runs on the
// loop goroutine and never blocks.
func (r *Router) publish(c session.Change) {
	if c.At.IsZero() {
		c.At = r.now()
	}
	for _, o := range r.observers {
		o(c)
	}
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for rc := range r.subs {
		if rc.Send(c) {
			r.logger.WithField("change", c.Type).Debug("slow subscriber lost a change")
		}
	}
}

func (r *Router) log(id transport.ID) *logrus.Entry {
	return r.logger.WithField("peripheral", id)
}
