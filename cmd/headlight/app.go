package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdinAck/Headlights-App/internal/prefs"
	"github.com/AdinAck/Headlights-App/internal/router"
	"github.com/AdinAck/Headlights-App/internal/session"
	"github.com/AdinAck/Headlights-App/internal/trace"
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/AdinAck/Headlights-App/internal/transport/goble"
	"github.com/AdinAck/Headlights-App/pkg/config"
	"github.com/AdinAck/Headlights-App/pkg/controller"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// bleTransport is a transport that owns OS resources.
type bleTransport interface {
	transport.Transport
	Close() error
}

// newTransport opens the BLE stack. Tests replace it.
var newTransport = func(cfg *config.Config, logger *logrus.Logger) bleTransport {
	return goble.New(goble.Options{EventBuffer: cfg.EventBuffer}, logger)
}

// app wires configuration, preferences, transport and controller for one
// command invocation.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	store    *prefs.FileStore
	tr       bleTransport
	recorder *trace.Recorder
	ctl      *controller.Controller

	cancel context.CancelFunc
	errc   <-chan error
}

// loadConfig reads --config and applies the global flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("protocol"); v != "" {
		cfg.Protocol = v
	}
	if v, _ := cmd.Flags().GetString("prefs"); v != "" {
		cfg.PreferencesFile = v
	}
	if v, _ := cmd.Flags().GetString("trace"); v != "" {
		cfg.TraceFile = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setup loads configuration, the logger and the preference store. Commands
// that never touch Bluetooth stop here.
func setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, *prefs.FileStore, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	path, err := cfg.PreferencesPath()
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := prefs.OpenFile(path, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, store, nil
}

// startApp opens Bluetooth and starts the controller loop. The caller must
// Close the app.
func startApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, logger, store, err := setup(cmd)
	if err != nil {
		return nil, err
	}
	ropts, err := cfg.RouterOptions()
	if err != nil {
		return nil, err
	}

	var recorder *trace.Recorder
	if cfg.TraceFile != "" {
		if recorder, err = trace.NewRecorder(cfg.TraceBuffer, logger); err != nil {
			return nil, err
		}
	}

	tr := newTransport(cfg, logger)
	ctl, err := controller.New(tr, store, controller.Options{
		Router:   ropts,
		Recorder: recorder,
		Logger:   logger,
	})
	if err != nil {
		_ = tr.Close()
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		tr:       tr,
		recorder: recorder,
		ctl:      ctl,
		cancel:   cancel,
	}
	a.errc = ctl.Start(loopCtx)
	return a, nil
}

// Close stops the loop, releases Bluetooth and writes the trace.
func (a *app) Close() error {
	a.cancel()
	var errs []error
	if err := <-a.errc; err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, err)
	}
	if err := a.tr.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bluetooth: %w", err))
	}
	if a.recorder != nil {
		if err := a.writeTrace(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *app) writeTrace() error {
	f, err := os.OpenFile(a.cfg.TraceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}
	n, err := a.recorder.Flush(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	m := a.recorder.Metrics()
	a.logger.WithFields(logrus.Fields{
		"path":        a.cfg.TraceFile,
		"records":     n,
		"overwritten": m.Overwritten,
	}).Info("Trace written")
	return nil
}

// waitSeen blocks until id has been advertised or the scan timeout passes.
// The router scans on its own once the adapter is ready.
func (a *app) waitSeen(ctx context.Context, id transport.ID) error {
	rc := a.ctl.Subscribe(16)
	defer a.ctl.Unsubscribe(rc)
	if _, ok := a.ctl.Lookup(id); ok {
		return nil
	}

	timer := time.NewTimer(a.cfg.ScanTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if state := a.ctl.Adapter(); state != transport.AdapterReady {
				return &transport.AdapterError{State: state}
			}
			return fmt.Errorf("%w: %s not seen within %s", router.ErrUnknownPeripheral, id, a.cfg.ScanTimeout)
		case c, ok := <-rc.C():
			if !ok {
				return controller.ErrStopped
			}
			if c.ID == id {
				return nil
			}
		}
	}
}

// withHeadlight finds id, connects, waits up to the load timeout for it to
// load and runs fn. The link is released afterwards without touching
// preferences.
func withHeadlight[R any](ctx context.Context, a *app, w io.Writer, id transport.ID, fn controller.Callback[R]) (R, error) {
	var zero R
	if err := a.waitSeen(ctx, id); err != nil {
		return zero, err
	}

	loadCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	timer := time.AfterFunc(a.cfg.LoadTimeout, func() { cancel(context.DeadlineExceeded) })
	defer timer.Stop()

	printer := NewProgressPrinter(w, fmt.Sprintf("Connecting to %s", id), "connecting", "loaded", "failed")
	printer.Start()
	defer printer.Stop()
	setPhase := printer.Callback()

	r, err := controller.WithPeripheral(loadCtx, a.ctl, id, func(phase string) {
		if phase == "loaded" {
			timer.Stop()
		}
		setPhase(phase)
	}, fn)
	if err != nil && errors.Is(context.Cause(loadCtx), context.DeadlineExceeded) && ctx.Err() == nil {
		return r, fmt.Errorf("loading %s: %w", id, context.DeadlineExceeded)
	}
	return r, err
}

// watchLink turns a headlight disconnect into ErrConnectionLost for
// long-running commands.
func watchLink(snap session.Snapshot, c session.Change) error {
	if c.ID == snap.ID && (c.Type == session.ChangeRemoved ||
		(c.Type == session.ChangeStateChanged && c.State == session.Disconnected)) {
		return fmt.Errorf("%w: %s", ErrConnectionLost, snap.ID)
	}
	return nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
