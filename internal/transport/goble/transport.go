// Package goble implements transport.Transport on top of go-ble.
//
// go-ble exposes a blocking, call-and-wait API. Every peripheral gets its own
// worker goroutine that executes commands in order and turns their results
// into events, so commands return immediately and per-peripheral ordering is
// preserved on the single event channel.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/AdinAck/Headlights-App/internal/groutine"
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
)

// Options configures a Transport.
type Options struct {
	// EventBuffer is the capacity of the event channel.
	EventBuffer int `default:"256"`
	// FilterDuplicates reports only the first advertisement of each
	// peripheral per scan, which suppresses RSSI updates.
	FilterDuplicates bool
}

// Transport drives a go-ble device.
type Transport struct {
	dev    ble.Device
	opts   Options
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Int32

	// emitMu guards closing events against concurrent senders.
	emitMu sync.RWMutex
	closed bool
	events chan transport.Event

	mu         sync.Mutex
	scanCancel context.CancelFunc
	scanDone   <-chan struct{}
	peers      map[transport.ID]*peer
	workers    sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

// New opens the local adapter through DeviceFactory. An adapter that cannot
// be opened is not an error: the transport starts in the corresponding
// adapter state and reports it as the first event.
func New(opts Options, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	defaults.SetDefaults(&opts)

	t := &Transport{
		opts:   opts,
		logger: logger,
		events: make(chan transport.Event, opts.EventBuffer),
		peers:  make(map[transport.ID]*peer),
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())

	dev, err := DeviceFactory()
	if err != nil {
		err = transport.NormalizeError(err)
		state := transport.AdapterStateOf(err)
		if state == transport.AdapterUnknown {
			state = transport.AdapterUnsupported
		}
		logger.WithError(err).WithField("state", state).Warn("Bluetooth adapter unavailable")
		t.state.Store(int32(state))
		t.emit(transport.AdapterStateChanged{State: state, Err: err})
		return t
	}

	t.dev = dev
	t.state.Store(int32(transport.AdapterReady))
	logger.Debug("Bluetooth adapter ready")
	t.emit(transport.AdapterStateChanged{State: transport.AdapterReady})
	return t
}

func (t *Transport) Events() <-chan transport.Event { return t.events }

func (t *Transport) AdapterState() transport.AdapterState {
	return transport.AdapterState(t.state.Load())
}

// emit delivers ev unless the transport is shutting down. It may block while
// the consumer is behind, so it must never run on the consumer's goroutine.
func (t *Transport) emit(ev transport.Event) {
	t.emitCtx(t.ctx, ev)
}

// emitCtx is emit that also gives up when ctx ends.
func (t *Transport) emitCtx(ctx context.Context, ev transport.Event) {
	t.emitMu.RLock()
	defer t.emitMu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.events <- ev:
	case <-ctx.Done():
	}
}

// setAdapterState records a new adapter state and reports it.
func (t *Transport) setAdapterState(state transport.AdapterState, err error) {
	if transport.AdapterState(t.state.Swap(int32(state))) == state {
		return
	}
	t.emit(transport.AdapterStateChanged{State: state, Err: err})
}

// Scan starts or restarts a scan reporting advertisements that list any of
// services. An empty filter reports everything.
func (t *Transport) Scan(services []transport.UUID) {
	if t.dev == nil {
		return
	}
	t.StopScan()

	filter := newServiceFilter(services)
	ctx, cancel := context.WithCancel(t.ctx)

	t.mu.Lock()
	t.scanCancel = cancel
	t.scanDone = groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		t.logger.WithField("services", len(services)).Debug("Scan started")
		err := t.dev.Scan(ctx, !t.opts.FilterDuplicates, func(a ble.Advertisement) {
			adv := convertAdvertisement(a)
			if !filter.matches(adv.Services) {
				return
			}
			t.emitCtx(ctx, adv)
		})
		t.onScanEnded(ctx, err)
	})
	t.mu.Unlock()
}

func (t *Transport) onScanEnded(ctx context.Context, err error) {
	if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		t.logger.Debug("Scan stopped")
		return
	}
	err = transport.NormalizeError(err)
	var adapterErr *transport.AdapterError
	if errors.As(err, &adapterErr) {
		t.logger.WithError(err).Warn("Scan aborted by adapter")
		t.setAdapterState(adapterErr.State, err)
		return
	}
	t.logger.WithError(err).Error("Scan failed")
}

// StopScan cancels a running scan and waits for it to end.
func (t *Transport) StopScan() {
	t.mu.Lock()
	cancel, done := t.scanCancel, t.scanDone
	t.scanCancel, t.scanDone = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Connect starts a worker for id that dials the peripheral. Connecting an
// already known peripheral is ignored.
func (t *Transport) Connect(id transport.ID) {
	if t.dev == nil {
		ev := transport.Disconnected{ID: id, Err: &transport.AdapterError{State: t.AdapterState()}}
		go t.emit(ev)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[id]; ok {
		t.logger.WithField("peripheral", id).Debug("Connect ignored, peripheral already active")
		return
	}
	p := newPeer(t, id)
	t.peers[id] = p
	t.workers.Add(1)
	groutine.Go(t.ctx, fmt.Sprintf("ble-peer-%s", id), func(ctx context.Context) {
		defer t.workers.Done()
		p.run(ctx)
	})
}

// Disconnect tears the link down. The worker reports Disconnected once the
// link is gone.
func (t *Transport) Disconnect(id transport.ID) {
	if p, ok := t.peer(id); ok {
		p.stop()
	}
}

func (t *Transport) DiscoverServices(id transport.ID, services []transport.UUID) {
	t.submit(id, func(p *peer) { p.discoverServices(services) })
}

func (t *Transport) DiscoverCharacteristics(id transport.ID, service transport.UUID, characteristics []transport.UUID) {
	t.submit(id, func(p *peer) { p.discoverCharacteristics(service, characteristics) })
}

func (t *Transport) Read(id transport.ID, characteristic transport.UUID) {
	t.submit(id, func(p *peer) { p.read(characteristic) })
}

func (t *Transport) Write(id transport.ID, characteristic transport.UUID, data []byte, ackRequired bool) {
	data = append([]byte(nil), data...)
	t.submit(id, func(p *peer) { p.write(characteristic, data, ackRequired) })
}

func (t *Transport) Subscribe(id transport.ID, characteristic transport.UUID) {
	t.submit(id, func(p *peer) { p.subscribe(characteristic) })
}

// submit queues cmd on id's worker. Commands for unknown peripherals are
// dropped with a log entry; the session layer only issues them while a link
// exists.
func (t *Transport) submit(id transport.ID, cmd func(*peer)) {
	p, ok := t.peer(id)
	if !ok {
		t.logger.WithField("peripheral", id).Warn("Command for inactive peripheral dropped")
		return
	}
	p.enqueue(cmd)
}

func (t *Transport) peer(id transport.ID) (*peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[id]
	return p, ok
}

func (t *Transport) forget(p *peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peers[p.id] == p {
		delete(t.peers, p.id)
	}
}

// Close stops scanning, drops every link and closes the event channel.
func (t *Transport) Close() error {
	t.StopScan()

	t.mu.Lock()
	peers := make([]*peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.Unlock()
	for _, p := range peers {
		p.stop()
	}

	t.cancel()
	t.workers.Wait()

	t.emitMu.Lock()
	if !t.closed {
		t.closed = true
		close(t.events)
	}
	t.emitMu.Unlock()

	if t.dev != nil {
		return transport.NormalizeError(t.dev.Stop())
	}
	return nil
}
