package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/AdinAck/Headlights-App/internal/endpoint"
	"github.com/AdinAck/Headlights-App/internal/protocol"
	"github.com/AdinAck/Headlights-App/internal/session"
	"github.com/AdinAck/Headlights-App/pkg/controller"
	"github.com/spf13/cobra"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor [id]",
	Short: "Show live telemetry of a headlight",
	Long: `Connects to a headlight and prints its status and telemetry (duty cycle,
upper and lower current, temperature) while polling the monitor endpoint.
Without an ID the favorite headlight is used.

Examples:
  headlight monitor
  headlight monitor 01234567-89ab-cdef-0123-456789abcdef --interval 500ms
  headlight monitor --duration 1m --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMonitor,
}

var (
	monitorInterval time.Duration
	monitorDuration time.Duration
	monitorFormat   string
)

func init() {
	monitorCmd.Flags().DurationVarP(&monitorInterval, "interval", "i", 0, "Poll interval (default: poll_interval from config)")
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	monitorCmd.Flags().StringVarP(&monitorFormat, "format", "f", "", "Output format (table, json)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := startApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	id, err := resolveID(args, a.store)
	if err != nil {
		return err
	}
	format := a.cfg.OutputFormat
	if monitorFormat != "" {
		format = monitorFormat
	}
	if err := validateFormat(format); err != nil {
		return err
	}
	interval := a.cfg.PollInterval
	if monitorInterval > 0 {
		interval = monitorInterval
	}

	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()
	setupColor(out)

	_, err = withHeadlight(ctx, a, out, id, func(c *controller.Controller, snap session.Snapshot) (struct{}, error) {
		runCtx := ctx
		if monitorDuration > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, monitorDuration)
			defer cancel()
		}
		m := &telemetryMonitor{ctl: c, out: out, json: format == "json", interval: interval}
		return struct{}{}, m.run(runCtx, snap)
	})
	return err
}

// telemetryMonitor polls a loaded headlight and prints every telemetry
// update.
type telemetryMonitor struct {
	ctl      *controller.Controller
	out      io.Writer
	json     bool
	interval time.Duration
}

type telemetryLine struct {
	At      time.Time         `json:"at"`
	Status  *protocol.Status  `json:"status,omitempty"`
	Monitor *protocol.Monitor `json:"monitor,omitempty"`
	TempC   *float64          `json:"temperature_c,omitempty"`
	Target  *uint16           `json:"target_ma,omitempty"`
}

// run returns nil when ctx ends and ErrConnectionLost if the headlight goes
// away.
func (m *telemetryMonitor) run(ctx context.Context, snap session.Snapshot) error {
	if !m.json {
		if err := renderProperties(m.out, snap); err != nil {
			return err
		}
	}

	rc := m.ctl.Subscribe(64)
	defer m.ctl.Unsubscribe(rc)

	poll := func(reqs ...protocol.Request) error {
		for _, r := range reqs {
			if err := m.ctl.Request(ctx, snap.ID, r); err != nil {
				return err
			}
		}
		return nil
	}
	if err := poll(protocol.RequestStatus, protocol.RequestMonitor); err != nil {
		return ignoreDone(ctx, err)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := poll(protocol.RequestMonitor); err != nil {
				return ignoreDone(ctx, err)
			}
		case c, ok := <-rc.C():
			if !ok {
				return controller.ErrStopped
			}
			if err := watchLink(snap, c); err != nil {
				return err
			}
			if c.ID != snap.ID || c.Type != session.ChangeValueUpdated {
				continue
			}
			switch c.Endpoint {
			case endpoint.Monitor, endpoint.Status, endpoint.Control:
				cur, ok := m.ctl.Lookup(snap.ID)
				if !ok {
					return fmt.Errorf("%w: %s", ErrConnectionLost, snap.ID)
				}
				if err := m.print(c.At, cur); err != nil {
					return err
				}
			}
		}
	}
}

func (m *telemetryMonitor) print(at time.Time, s session.Snapshot) error {
	if !m.json {
		_, err := fmt.Fprintf(m.out, "%s  %-12s  %s\n", at.Format(time.TimeOnly), formatStatus(s), formatTelemetry(s))
		return err
	}
	line := telemetryLine{At: at}
	if st, ok := s.Status(); ok {
		line.Status = &st
	}
	if mon, ok := s.Monitor(); ok {
		line.Monitor = &mon
		c := protocol.SampleToCelsius(mon.Temperature)
		line.TempC = &c
	}
	if ctl, ok := s.Control(); ok {
		line.Target = &ctl.Target
	}
	return json.NewEncoder(m.out).Encode(line)
}

// ignoreDone maps errors caused by the end of ctx to nil.
func ignoreDone(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
