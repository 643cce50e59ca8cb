// Package controller runs the headlight core on a single event loop.
//
// The Router and its sessions are not safe for concurrent use. A Controller
// owns them on one goroutine that consumes transport events and executes
// commands submitted from other goroutines, so callers get a concurrency-safe
// API while the core stays lock-free:
//
//	ctl, _ := controller.New(tr, store, opts)
//	go ctl.Run(ctx)
//	err := ctl.Connect(ctx, id) // admission decided on the loop
package controller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/AdinAck/Headlights-App/internal/endpoint"
	"github.com/AdinAck/Headlights-App/internal/groutine"
	"github.com/AdinAck/Headlights-App/internal/prefs"
	"github.com/AdinAck/Headlights-App/internal/protocol"
	"github.com/AdinAck/Headlights-App/internal/ringchan"
	"github.com/AdinAck/Headlights-App/internal/router"
	"github.com/AdinAck/Headlights-App/internal/session"
	"github.com/AdinAck/Headlights-App/internal/trace"
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/sirupsen/logrus"
)

// LoopName labels the event loop goroutine in profiles.
const LoopName = "headlight-event-loop"

var (
	ErrStopped        = errors.New("controller stopped")
	ErrAlreadyRunning = errors.New("controller already running")
	ErrTransportGone  = errors.New("transport event stream closed")
)

// Options configures a Controller.
type Options struct {
	Router router.Options
	// Recorder, when set, receives every change.
	Recorder *trace.Recorder
	Logger   *logrus.Logger
}

// Controller serializes all core mutations onto one goroutine.
type Controller struct {
	tr       transport.Transport
	router   *router.Router
	recorder *trace.Recorder
	logger   *logrus.Logger

	calls   chan func()
	done    chan struct{}
	running atomic.Bool
}

func New(tr transport.Transport, store prefs.Store, opts Options) (*Controller, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	ropts := opts.Router
	if opts.Recorder != nil {
		ropts.Observers = append(slices.Clone(ropts.Observers), opts.Recorder.Observe)
	}
	r, err := router.New(tr, store, ropts, logger)
	if err != nil {
		return nil, err
	}
	return &Controller{
		tr:       tr,
		router:   r,
		recorder: opts.Recorder,
		logger:   logger,
		calls:    make(chan func()),
		done:     make(chan struct{}),
	}, nil
}

// Run processes transport events and submitted commands until ctx is done or
// the transport closes its event stream. It may be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	c.logger.WithField("goroutine", groutine.Name(ctx)).Debug("event loop started")
	defer c.logger.Debug("event loop stopped")

	events := c.tr.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return ErrTransportGone
			}
			c.router.HandleEvent(ev)
		case fn := <-c.calls:
			fn()
		}
	}
}

// Start runs the loop on a named goroutine. The returned channel yields the
// loop's exit error.
func (c *Controller) Start(ctx context.Context) <-chan error {
	errc := make(chan error, 1)
	groutine.Go(ctx, LoopName, func(ctx context.Context) {
		errc <- c.Run(ctx)
	})
	return errc
}

// Done is closed when the loop exits.
func (c *Controller) Done() <-chan struct{} { return c.done }

// do executes fn on the loop and returns its result.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	call := func() { result <- fn() }

	select {
	case c.calls <- call:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) StartScan(ctx context.Context) error {
	return c.do(ctx, c.router.StartScan)
}

func (c *Controller) StopScan(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.router.StopScan()
		return nil
	})
}

// Connect requests a connection, returning the admission decision. Loading
// completes asynchronously; see WaitLoaded.
func (c *Controller) Connect(ctx context.Context, id transport.ID) error {
	return c.do(ctx, func() error { return c.router.Connect(id) })
}

func (c *Controller) Disconnect(ctx context.Context, id transport.ID) error {
	return c.do(ctx, func() error { return c.router.Disconnect(id) })
}

// Send writes pkt to ep of a loaded peripheral. A nil error means the write
// was issued; transport failures arrive as diagnostic changes.
func (c *Controller) Send(ctx context.Context, id transport.ID, ep endpoint.Endpoint, pkt protocol.Packet) error {
	return c.do(ctx, func() error { return c.router.Send(id, ep, pkt) })
}

func (c *Controller) Request(ctx context.Context, id transport.ID, req protocol.Request) error {
	return c.do(ctx, func() error { return c.router.Request(id, req) })
}

func (c *Controller) SetFavorite(ctx context.Context, id transport.ID) error {
	return c.do(ctx, func() error { return c.router.SetFavorite(id) })
}

func (c *Controller) ClearFavorite(ctx context.Context) error {
	return c.do(ctx, c.router.ClearFavorite)
}

func (c *Controller) SetAutoConnect(ctx context.Context, enabled bool) error {
	return c.do(ctx, func() error { return c.router.SetAutoConnect(enabled) })
}

// Read side. These never touch the loop.

func (c *Controller) Discovered() []session.Snapshot  { return c.router.Discovered() }
func (c *Controller) Loaded() []session.Snapshot      { return c.router.Loaded() }
func (c *Controller) Capacity() int                   { return c.router.Capacity() }
func (c *Controller) Preferences() prefs.Preferences  { return c.router.Preferences() }
func (c *Controller) Adapter() transport.AdapterState { return c.router.Adapter() }
func (c *Controller) Scanning() bool                  { return c.router.Scanning() }
func (c *Controller) Recorder() *trace.Recorder       { return c.recorder }

func (c *Controller) Lookup(id transport.ID) (session.Snapshot, bool) {
	return c.router.Lookup(id)
}

func (c *Controller) Subscribe(buffer int) *ringchan.RingChannel[session.Change] {
	return c.router.Subscribe(buffer)
}

func (c *Controller) Unsubscribe(rc *ringchan.RingChannel[session.Change]) {
	c.router.Unsubscribe(rc)
}

// ProgressCallback is called when a wait changes phase.
type ProgressCallback func(phase string)

// WaitLoaded blocks until id is loaded, fails validation, or ctx ends. A
// validation failure wraps session.ErrInvalid. The caller bounds the wait with
// ctx; the core itself has no timeouts.
func (c *Controller) WaitLoaded(ctx context.Context, id transport.ID, progress ProgressCallback) (session.Snapshot, error) {
	if progress == nil {
		progress = func(string) {}
	}
	rc := c.Subscribe(32)
	defer c.Unsubscribe(rc)

	if snap, ok := c.Lookup(id); ok {
		if snap.Loaded {
			return snap, nil
		}
		if snap.State == session.Invalid {
			return snap, fmt.Errorf("%w: missing %v", session.ErrInvalid, snap.Missing)
		}
	}

	for {
		select {
		case <-ctx.Done():
			snap, _ := c.Lookup(id)
			return snap, ctx.Err()
		case <-c.done:
			return session.Snapshot{}, ErrStopped
		case ch, ok := <-rc.C():
			if !ok {
				return session.Snapshot{}, ErrStopped
			}
			if ch.ID != id {
				continue
			}
			switch ch.Type {
			case session.ChangeStateChanged:
				progress(ch.State.String())
				if ch.State == session.Disconnected {
					snap, _ := c.Lookup(id)
					return snap, fmt.Errorf("%w: %s disconnected before loading", transport.ErrNotConnected, id)
				}
			case session.ChangeLoaded:
				snap, _ := c.Lookup(id)
				return snap, nil
			case session.ChangeInvalidated:
				snap, _ := c.Lookup(id)
				return snap, fmt.Errorf("%w: %w", session.ErrInvalid, ch.Err)
			case session.ChangeRemoved:
				return session.Snapshot{}, fmt.Errorf("%w: %s", router.ErrUnknownPeripheral, id)
			}
		}
	}
}

// Callback works with a loaded peripheral and produces a result of type R.
type Callback[R any] func(*Controller, session.Snapshot) (R, error)

// WithPeripheral connects to id, waits for it to load, runs callback and
// releases the link again without changing preferences. The loop must be
// running.
func WithPeripheral[R any](ctx context.Context, c *Controller, id transport.ID, progress ProgressCallback, callback Callback[R]) (R, error) {
	var zero R
	if progress == nil {
		progress = func(string) {}
	}

	progress("connecting")
	if err := c.Connect(ctx, id); err != nil {
		progress("failed")
		return zero, err
	}
	defer func() {
		// The caller's context may already be done.
		if err := c.do(context.Background(), func() error {
			if _, ok := c.router.Lookup(id); !ok {
				return nil
			}
			return c.router.Release(id)
		}); err != nil && !errors.Is(err, ErrStopped) {
			c.logger.WithError(err).WithField("peripheral", id).Warn("failed to disconnect")
		}
	}()

	snap, err := c.WaitLoaded(ctx, id, progress)
	if err != nil {
		progress("failed")
		return zero, err
	}
	progress("loaded")
	return callback(c, snap)
}
