package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// peer owns one peripheral link. All go-ble calls for it happen on the worker
// goroutine in submission order.
type peer struct {
	t      *Transport
	id     transport.ID
	logger *logrus.Entry

	// Commands are queued without bound so submitting never blocks the
	// caller's event loop.
	mu       sync.Mutex
	queue    []func(*peer)
	wake     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}

	// Worker-confined.
	client   ble.Client
	services map[transport.UUID]*ble.Service
	chars    map[transport.UUID]*ble.Characteristic
}

func newPeer(t *Transport, id transport.ID) *peer {
	return &peer{
		t:        t,
		id:       id,
		logger:   t.logger.WithField("peripheral", id),
		wake:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
		services: make(map[transport.UUID]*ble.Service),
		chars:    make(map[transport.UUID]*ble.Characteristic),
	}
}

func (p *peer) stop() {
	p.stopOnce.Do(func() { close(p.stopped) })
}

func (p *peer) enqueue(cmd func(*peer)) {
	p.mu.Lock()
	p.queue = append(p.queue, cmd)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *peer) take() []func(*peer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmds := p.queue
	p.queue = nil
	return cmds
}

// run dials, executes commands until stopped or dropped, and reports the end
// of the link exactly once.
func (p *peer) run(ctx context.Context) {
	defer p.t.forget(p)

	linkCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-p.stopped:
			cancel(nil)
		case <-linkCtx.Done():
		}
	}()

	if err := p.dial(linkCtx); err != nil {
		p.t.forget(p)
		p.t.emit(transport.Disconnected{ID: p.id, Err: err})
		return
	}
	p.t.emit(transport.Connected{ID: p.id})

	dropped := p.watch(linkCtx, cancel)
	for {
		select {
		case <-linkCtx.Done():
			// Commands queued before Disconnect still run; a dropped link
			// cannot serve them.
			select {
			case <-dropped:
			default:
				p.flush()
			}
			p.hangUp(dropped)
			return
		case <-p.wake:
			p.flush()
		}
	}
}

func (p *peer) flush() {
	for _, cmd := range p.take() {
		cmd(p)
	}
}

func (p *peer) dial(ctx context.Context) error {
	p.logger.Info("Connecting to peripheral...")
	client, err := p.t.dev.Dial(ctx, ble.NewAddr(string(p.id)))
	if err != nil {
		if ctx.Err() != nil {
			err = context.Cause(ctx)
		}
		err = transport.NormalizeError(err)
		p.logger.WithError(err).Warn("Failed to connect")
		return fmt.Errorf("failed to connect to %q: %w", p.id, err)
	}
	p.client = client
	p.logger.Info("Peripheral connected")
	return nil
}

// watch cancels the link when the stack reports a remote disconnect. The
// returned channel is closed if that happened.
func (p *peer) watch(ctx context.Context, cancel context.CancelCauseFunc) <-chan struct{} {
	dropped := make(chan struct{})
	notifier, ok := p.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		p.logger.Debug("Client does not report disconnection")
		return dropped
	}
	go func() {
		select {
		case <-notifier.Disconnected():
			close(dropped)
			p.logger.Warn("Peripheral dropped the link")
			cancel(transport.ErrNotConnected)
		case <-ctx.Done():
		}
	}()
	return dropped
}

func (p *peer) hangUp(dropped <-chan struct{}) {
	select {
	case <-dropped:
	default:
		if err := p.client.CancelConnection(); err != nil {
			p.logger.WithError(err).Warn("Disconnect reported an error")
		} else {
			p.logger.Info("Peripheral disconnected")
		}
	}
	// The slot is freed before the event so a consumer may reconnect at once.
	p.t.forget(p)
	p.t.emit(transport.Disconnected{ID: p.id})
}

func (p *peer) discoverServices(filter []transport.UUID) {
	uuids, err := parseUUIDs(filter)
	if err != nil {
		p.t.emit(transport.ServicesDiscovered{ID: p.id, Err: err})
		return
	}
	svcs, err := p.client.DiscoverServices(uuids)
	if err != nil {
		p.t.emit(transport.ServicesDiscovered{ID: p.id, Err: transport.NormalizeError(err)})
		return
	}
	found := make([]transport.UUID, 0, len(svcs))
	for _, svc := range svcs {
		u := transport.NormalizeUUID(svc.UUID.String())
		p.services[u] = svc
		found = append(found, u)
	}
	p.logger.WithField("services", len(found)).Debug("Services discovered")
	p.t.emit(transport.ServicesDiscovered{ID: p.id, Services: found})
}

func (p *peer) discoverCharacteristics(service transport.UUID, filter []transport.UUID) {
	ev := transport.CharacteristicsDiscovered{ID: p.id, Service: service}
	svc, ok := p.services[service]
	if !ok {
		ev.Err = fmt.Errorf("%w: service %s", transport.ErrNotFound, service)
		p.t.emit(ev)
		return
	}
	uuids, err := parseUUIDs(filter)
	if err != nil {
		ev.Err = err
		p.t.emit(ev)
		return
	}
	chars, err := p.client.DiscoverCharacteristics(uuids, svc)
	if err != nil {
		ev.Err = transport.NormalizeError(err)
		p.t.emit(ev)
		return
	}
	for _, c := range chars {
		u := transport.NormalizeUUID(c.UUID.String())
		p.chars[u] = c
		ev.Characteristics = append(ev.Characteristics, u)
	}
	p.logger.WithFields(logrus.Fields{
		"service":         service.Short(),
		"characteristics": len(ev.Characteristics),
	}).Debug("Characteristics discovered")
	p.t.emit(ev)
}

func (p *peer) characteristic(u transport.UUID) (*ble.Characteristic, error) {
	c, ok := p.chars[u]
	if !ok {
		return nil, fmt.Errorf("%w: characteristic %s", transport.ErrNotFound, u)
	}
	return c, nil
}

func (p *peer) read(u transport.UUID) {
	c, err := p.characteristic(u)
	if err != nil {
		p.t.emit(transport.ValueUpdated{ID: p.id, Characteristic: u, Err: err})
		return
	}
	data, err := p.client.ReadCharacteristic(c)
	if err != nil {
		err = fmt.Errorf("failed to read characteristic %s: %w", u.Short(), transport.NormalizeError(err))
		p.t.emit(transport.ValueUpdated{ID: p.id, Characteristic: u, Err: err})
		return
	}
	p.t.emit(transport.ValueUpdated{ID: p.id, Characteristic: u, Value: data})
}

// write reports completion only for acknowledged writes, and failures of
// either kind.
func (p *peer) write(u transport.UUID, data []byte, ack bool) {
	c, err := p.characteristic(u)
	if err == nil {
		err = p.client.WriteCharacteristic(c, data, !ack)
		if err != nil {
			err = fmt.Errorf("failed to write characteristic %s: %w", u.Short(), transport.NormalizeError(err))
		}
	}
	if err != nil || ack {
		p.t.emit(transport.WriteCompleted{ID: p.id, Characteristic: u, Err: err})
	}
}

func (p *peer) subscribe(u transport.UUID) {
	c, err := p.characteristic(u)
	if err != nil {
		p.t.emit(transport.NotifyStateChanged{ID: p.id, Characteristic: u, Err: err})
		return
	}
	if c.CCCD == nil {
		// Linux needs the CCCD handle to enable notifications.
		if _, derr := p.client.DiscoverDescriptors(nil, c); derr != nil {
			p.logger.WithError(derr).WithField("characteristic", u.Short()).Debug("Descriptor discovery failed")
		}
	}
	indicate := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0
	err = p.client.Subscribe(c, indicate, func(data []byte) {
		p.t.emit(transport.ValueUpdated{
			ID:             p.id,
			Characteristic: u,
			Value:          append([]byte(nil), data...),
		})
	})
	if err != nil {
		err = fmt.Errorf("failed to subscribe to %s: %w", u.Short(), transport.NormalizeError(err))
	}
	p.t.emit(transport.NotifyStateChanged{ID: p.id, Characteristic: u, Err: err})
}

func parseUUIDs(in []transport.UUID) ([]ble.UUID, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]ble.UUID, 0, len(in))
	var errs []error
	for _, u := range in {
		parsed, err := ble.Parse(string(u))
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid UUID %q: %w", u, err))
			continue
		}
		out = append(out, parsed)
	}
	return out, errors.Join(errs...)
}
