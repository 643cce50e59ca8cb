package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/AdinAck/Headlights-App/internal/endpoint"
	"github.com/AdinAck/Headlights-App/internal/protocol"
	"github.com/AdinAck/Headlights-App/internal/session"
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/AdinAck/Headlights-App/pkg/controller"
	"github.com/spf13/cobra"
)

// sendCmd groups the commands that write to a headlight.
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Write commands to a headlight",
	Long: `Writes a command packet to a headlight and, where the headlight reports the
affected value back, waits for the confirmation. Without --id the favorite
headlight is used.`,
}

var sendID string

var sendControlCmd = &cobra.Command{
	Use:   "control <mA>",
	Short: "Set the regulation target current",
	Example: `  headlight send control 1200
  headlight send control 0 --id 01234567-89ab-cdef-0123-456789abcdef`,
	Args: cobra.ExactArgs(1),
	RunE: runSendControl,
}

var sendBrightnessCmd = &cobra.Command{
	Use:     "brightness <level>",
	Short:   "Set the output level of a v1 headlight",
	Example: `  headlight --protocol v1 send brightness 128`,
	Args:    cobra.ExactArgs(1),
	RunE:    runSendBrightness,
}

var sendResetFactory bool

var sendResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restart the headlight",
	Example: `  headlight send reset
  headlight send reset --factory`,
	Args: cobra.NoArgs,
	RunE: runSendReset,
}

var sendRequestCmd = &cobra.Command{
	Use:   "request <name>",
	Short: "Ask the headlight to report a value and print it",
	Long: `Asks the headlight to notify one value and prints it. Names: status, control,
brightness, monitor, pid, config, properties.`,
	Example: `  headlight send request status`,
	Args:    cobra.ExactArgs(1),
	RunE:    runSendRequest,
}

var sendConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Change the stored configuration",
	Long: `Reads the configuration of the headlight, applies the given flags and writes it
back. Fields without a flag keep their current value.`,
	Example: `  headlight send config --startup-target 800 --enabled=true
  headlight send config --throttle-start 2800 --throttle-stop 3200`,
	Args: cobra.NoArgs,
	RunE: runSendConfig,
}

func init() {
	sendCmd.PersistentFlags().StringVar(&sendID, "id", "", "Headlight ID (default: favorite)")

	sendResetCmd.Flags().BoolVar(&sendResetFactory, "factory", false, "Restore the factory configuration")

	addConfigFlags(sendConfigCmd)

	sendCmd.AddCommand(sendControlCmd, sendBrightnessCmd, sendResetCmd, sendRequestCmd, sendConfigCmd)
}

// runSend resolves the target and runs fn on the loaded headlight.
func runSend(cmd *cobra.Command, fn func(ctx context.Context, a *app, c *controller.Controller, snap session.Snapshot, out io.Writer) error) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := startApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	var args []string
	if sendID != "" {
		args = []string{sendID}
	}
	id, err := resolveID(args, a.store)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()
	setupColor(out)
	_, err = withHeadlight(ctx, a, out, id, func(c *controller.Controller, snap session.Snapshot) (struct{}, error) {
		return struct{}{}, fn(ctx, a, c, snap, out)
	})
	return err
}

func parseUint(s string, bits int, what string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", what, s, err)
	}
	return v, nil
}

func runSendControl(cmd *cobra.Command, args []string) error {
	target, err := parseUint(args[0], 16, "target current")
	if err != nil {
		return err
	}
	return runSend(cmd, func(ctx context.Context, a *app, c *controller.Controller, snap session.Snapshot, out io.Writer) error {
		if props, ok := snap.Properties(); ok && uint16(target) > props.AbsMaxMA {
			return fmt.Errorf("target %d mA exceeds the headlight maximum of %d mA", target, props.AbsMaxMA)
		}
		pkt := protocol.Control{Target: uint16(target)}
		got, err := confirm(ctx, c, snap.ID, a.cfg.LoadTimeout, endpoint.Control, pkt, protocol.RequestControl)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "Target set: %s\n", formatPacket(got))
		return err
	})
}

func runSendBrightness(cmd *cobra.Command, args []string) error {
	level, err := parseUint(args[0], 8, "brightness level")
	if err != nil {
		return err
	}
	return runSend(cmd, func(ctx context.Context, a *app, c *controller.Controller, snap session.Snapshot, out io.Writer) error {
		pkt := protocol.Brightness{Level: uint8(level)}
		got, err := confirm(ctx, c, snap.ID, a.cfg.LoadTimeout, endpoint.Brightness, pkt, protocol.RequestBrightness)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "Brightness set: %s\n", formatPacket(got))
		return err
	})
}

func runSendReset(cmd *cobra.Command, _ []string) error {
	kind := protocol.ResetNow
	if sendResetFactory {
		kind = protocol.ResetFactory
	}
	return runSend(cmd, func(ctx context.Context, _ *app, c *controller.Controller, snap session.Snapshot, out io.Writer) error {
		if err := c.Send(ctx, snap.ID, endpoint.Reset, kind); err != nil {
			return err
		}
		_, err := fmt.Fprintf(out, "Reset (%s) sent to %s\n", kind, snap.ID)
		return err
	})
}

func runSendRequest(cmd *cobra.Command, args []string) error {
	req, err := protocol.ParseRequest(args[0])
	if err != nil {
		return err
	}
	ep, ok := requestEndpoints[req]
	if !ok {
		return fmt.Errorf("request %s has no readable endpoint", req)
	}
	return runSend(cmd, func(ctx context.Context, a *app, c *controller.Controller, snap session.Snapshot, out io.Writer) error {
		got, err := confirm(ctx, c, snap.ID, a.cfg.LoadTimeout, ep, nil, req)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s: %s\n", ep, formatPacket(got))
		return err
	})
}

// requestEndpoints maps each request to the endpoint that answers it.
var requestEndpoints = map[protocol.Request]endpoint.Endpoint{
	protocol.RequestStatus:     endpoint.Status,
	protocol.RequestControl:    endpoint.Control,
	protocol.RequestBrightness: endpoint.Brightness,
	protocol.RequestMonitor:    endpoint.Monitor,
	protocol.RequestPID:        endpoint.PID,
	protocol.RequestConfig:     endpoint.Config,
	protocol.RequestProperties: endpoint.Properties,
}

func runSendConfig(cmd *cobra.Command, _ []string) error {
	if !slices.ContainsFunc(configFlags, cmd.Flags().Changed) {
		return fmt.Errorf("no configuration field given, see --help")
	}
	return runSend(cmd, func(ctx context.Context, a *app, c *controller.Controller, snap session.Snapshot, out io.Writer) error {
		got, err := confirm(ctx, c, snap.ID, a.cfg.LoadTimeout, endpoint.Config, nil, protocol.RequestConfig)
		if err != nil {
			return err
		}
		cfg, ok := got.(protocol.Config)
		if !ok {
			return fmt.Errorf("unexpected config packet %T", got)
		}
		if err := applyConfigFlags(cmd, &cfg); err != nil {
			return err
		}
		got, err = confirm(ctx, c, snap.ID, a.cfg.LoadTimeout, endpoint.Config, cfg, protocol.RequestConfig)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "Configuration written: %s\n", formatPacket(got))
		return err
	})
}

func addConfigFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Bool("enabled", false, "Enable the output at startup")
	f.Uint16("startup-target", 0, "Target current after power-up (mA)")
	f.Uint16("max-target", 0, "Highest accepted target current (mA)")
	f.Uint16("abs-max-load", 0, "Load current that trips the protection (mA)")
	f.Uint16("gain", 0, "Regulator gain")
	f.Uint16("pwm-freq", 0, "PWM frequency")
	f.Uint16("throttle-start", 0, "Temperature sample where throttling starts")
	f.Uint16("throttle-stop", 0, "Temperature sample where the output stops")
}

var configFlags = []string{
	"enabled", "startup-target", "max-target", "abs-max-load",
	"gain", "pwm-freq", "throttle-start", "throttle-stop",
}

// applyConfigFlags overwrites the fields whose flag was given.
func applyConfigFlags(cmd *cobra.Command, cfg *protocol.Config) error {
	f := cmd.Flags()
	if f.Changed("enabled") {
		v, err := f.GetBool("enabled")
		if err != nil {
			return err
		}
		cfg.Enabled = protocol.BoolOf(v)
	}
	fields := []struct {
		flag string
		dst  *uint16
	}{
		{"startup-target", &cfg.StartupTarget},
		{"max-target", &cfg.MaxTargetCurrent},
		{"abs-max-load", &cfg.AbsMaxLoadCurrent},
		{"gain", &cfg.Gain},
		{"pwm-freq", &cfg.PWMFreq},
		{"throttle-start", &cfg.ThrottleStart},
		{"throttle-stop", &cfg.ThrottleStop},
	}
	for _, fld := range fields {
		if !f.Changed(fld.flag) {
			continue
		}
		v, err := f.GetUint16(fld.flag)
		if err != nil {
			return err
		}
		*fld.dst = v
	}
	if cfg.ThrottleStart > cfg.ThrottleStop {
		return fmt.Errorf("throttle-start %d must not exceed throttle-stop %d", cfg.ThrottleStart, cfg.ThrottleStop)
	}
	return nil
}

// confirm optionally writes pkt to ep, then issues req and waits for the next
// value of ep. A write failure reported by the headlight ends the wait.
func confirm(ctx context.Context, c *controller.Controller, id transport.ID, timeout time.Duration, ep endpoint.Endpoint, pkt protocol.Packet, req protocol.Request) (protocol.Packet, error) {
	rc := c.Subscribe(32)
	defer c.Unsubscribe(rc)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if pkt != nil {
		if err := c.Send(ctx, id, ep, pkt); err != nil {
			return nil, err
		}
	}
	if err := c.Request(ctx, id, req); err != nil {
		return nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", ep, ctx.Err())
		case ch, ok := <-rc.C():
			if !ok {
				return nil, controller.ErrStopped
			}
			if ch.ID != id {
				continue
			}
			switch ch.Type {
			case session.ChangeValueUpdated:
				if ch.Endpoint == ep {
					return ch.Packet, nil
				}
			case session.ChangeDiagnostic:
				if ch.Endpoint == ep || ch.Endpoint == endpoint.Request {
					return nil, ch.Err
				}
			case session.ChangeRemoved, session.ChangeStateChanged:
				if err := watchLink(session.Snapshot{ID: id}, ch); err != nil {
					return nil, err
				}
			}
		}
	}
}
