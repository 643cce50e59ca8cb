package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/AdinAck/Headlights-App/internal/session"
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/spf13/cobra"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for headlights",
	Long: `Scan for nearby headlights and list them with their signal strength and
state. The favorite headlight is marked with '*'; with auto-connect enabled
it is connected as soon as it is seen.

Examples:
  headlight scan
  headlight scan --duration 30s --format json
  headlight scan --watch`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanWatch    bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default: scan_timeout from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json)")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Keep scanning and redraw the table until interrupted")
}

func runScan(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := startApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	format := a.cfg.OutputFormat
	if scanFormat != "" {
		format = scanFormat
	}
	if err := validateFormat(format); err != nil {
		return err
	}
	duration := a.cfg.ScanTimeout
	if scanDuration > 0 {
		duration = scanDuration
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()
	setupColor(out)

	if scanWatch {
		return watchScan(ctx, a, out, format)
	}
	return singleScan(ctx, a, out, format, duration)
}

func singleScan(ctx context.Context, a *app, out io.Writer, format string, duration time.Duration) error {
	scanCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	progress := NewCountdownProgressPrinter(out, "Scanning for headlights", "scanning", duration)
	progress.Start()
	<-scanCtx.Done()
	progress.Stop()

	if errors.Is(ctx.Err(), context.Canceled) {
		fmt.Fprintln(out, "Scan interrupted")
	}
	if state := a.ctl.Adapter(); state != transport.AdapterReady {
		return &transport.AdapterError{State: state}
	}
	if err := a.ctl.StopScan(context.Background()); err != nil {
		a.logger.WithError(err).Debug("stop scan")
	}
	return renderSessions(out, a.ctl.Discovered(), a.ctl.Preferences(), format)
}

// watchScan redraws the table once a second and on every discovery until
// interrupted.
func watchScan(ctx context.Context, a *app, out io.Writer, format string) error {
	rc := a.ctl.Subscribe(a.cfg.ChangeBuffer)
	defer a.ctl.Unsubscribe(rc)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	draw := func() error {
		fmt.Fprint(out, "\033[2J\033[H")
		return renderSessions(out, a.ctl.Discovered(), a.ctl.Preferences(), format)
	}
	for {
		select {
		case <-ctx.Done():
			return draw()
		case <-ticker.C:
			if err := draw(); err != nil {
				return err
			}
		case c, ok := <-rc.C():
			if !ok {
				return nil
			}
			if c.Type == session.ChangeDiscovered {
				if err := draw(); err != nil {
					return err
				}
			}
		}
	}
}
