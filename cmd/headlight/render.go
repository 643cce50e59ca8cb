package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/AdinAck/Headlights-App/internal/endpoint"
	"github.com/AdinAck/Headlights-App/internal/prefs"
	"github.com/AdinAck/Headlights-App/internal/protocol"
	"github.com/AdinAck/Headlights-App/internal/session"
	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

// setupColor disables color unless w is a terminal.
func setupColor(w io.Writer) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		color.NoColor = true
	}
}

func stateColor(s session.State) *color.Color {
	switch s {
	case session.Loaded:
		return okColor
	case session.Invalid:
		return errColor
	case session.Disconnected, session.Discovered:
		return dimColor
	default:
		return warnColor
	}
}

func validateFormat(format string) error {
	switch format {
	case "table", "json":
		return nil
	}
	return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
}

// renderSessions prints snapshots as a table or as JSON.
func renderSessions(w io.Writer, snaps []session.Snapshot, p prefs.Preferences, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snaps)
	}

	if len(snaps) == 0 {
		_, err := fmt.Fprintln(w, "No headlights discovered")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, " \tNAME\tID\tRSSI\tSTATE\tSTATUS")
	for _, s := range snaps {
		mark := " "
		if p.Favorite == s.ID {
			mark = "*"
		}
		name := s.Name
		if name == "" {
			name = "(unnamed)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d dBm\t%s\t%s\n",
			mark, name, s.ID, s.RSSI, stateColor(s.State).Sprint(s.State), formatStatus(s))
	}
	return tw.Flush()
}

func formatStatus(s session.Snapshot) string {
	st, ok := s.Status()
	if !ok {
		return "-"
	}
	if st.Error == protocol.ErrorNone {
		return st.State.String()
	}
	return errColor.Sprintf("%s (%s)", st.State, st.Error)
}

// formatTelemetry renders the monitor values of either protocol version.
func formatTelemetry(s session.Snapshot) string {
	if m, ok := s.Monitor(); ok {
		return fmt.Sprintf("duty %3d%%  current %4d/%4d mA  temp %5.1f°C",
			m.DutyPercent(), m.UpperCurrent, m.LowerCurrent, protocol.SampleToCelsius(m.Temperature))
	}
	if m, ok := s.MonitorV1(); ok {
		return fmt.Sprintf("duty %3d  current %3d  temp %3d", m.Duty, m.Current, m.Temperature)
	}
	return "no telemetry yet"
}

// formatChange renders one change as a log line.
func formatChange(c session.Change) string {
	ts := c.At.Format(time.TimeOnly)
	switch c.Type {
	case session.ChangeAdapterChanged:
		return fmt.Sprintf("%s adapter %s", ts, c.Adapter)
	case session.ChangeStateChanged:
		return fmt.Sprintf("%s %s %s", ts, c.ID, stateColor(c.State).Sprint(c.State))
	case session.ChangeValueUpdated:
		return fmt.Sprintf("%s %s %s %s", ts, c.ID, c.Endpoint, formatPacket(c.Packet))
	case session.ChangeInvalidated, session.ChangeDiagnostic:
		return fmt.Sprintf("%s %s %s %s", ts, c.ID, c.Type, errColor.Sprint(c.Err))
	case session.ChangeLoaded:
		return fmt.Sprintf("%s %s %s", ts, c.ID, okColor.Sprint(c.Type))
	default:
		return fmt.Sprintf("%s %s %s", ts, c.ID, c.Type)
	}
}

func formatPacket(p protocol.Packet) string {
	switch v := p.(type) {
	case nil:
		return "-"
	case protocol.Monitor:
		return fmt.Sprintf("duty=%d%% upper=%dmA lower=%dmA temp=%.1fC",
			v.DutyPercent(), v.UpperCurrent, v.LowerCurrent, protocol.SampleToCelsius(v.Temperature))
	case protocol.Status:
		return fmt.Sprintf("state=%s error=%s", v.State, v.Error)
	case protocol.Control:
		return fmt.Sprintf("target=%dmA", v.Target)
	default:
		return fmt.Sprintf("%+v", v)
	}
}

// renderProperties prints the hardware limits of a loaded headlight.
func renderProperties(w io.Writer, s session.Snapshot) error {
	props, ok := s.Properties()
	if !ok {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Hardware:\t%s\n", props.Hardware)
	fmt.Fprintf(tw, "Firmware:\t%s\n", props.Firmware)
	fmt.Fprintf(tw, "Max current:\t%d mA\n", props.AbsMaxMA)
	fmt.Fprintf(tw, "Max temperature:\t%d\n", props.AbsMaxTemp)
	fmt.Fprintf(tw, "PWM frequency:\t%d..%d\n", props.MinPWMFreq, props.MaxPWMFreq)
	return tw.Flush()
}

// sortedEndpoints lists the endpoints holding a value in protocol order.
func sortedEndpoints(s session.Snapshot) []endpoint.Endpoint {
	eps := slices.Collect(maps.Keys(s.Values))
	slices.Sort(eps)
	return eps
}
