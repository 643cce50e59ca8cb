package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/AdinAck/Headlights-App/internal/trace"
	"github.com/spf13/cobra"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect recorded protocol traces",
}

var traceDumpFormat string

var traceDumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Print the records of a trace file",
	Long: `Decodes a trace written with --trace and prints one line per change. Packet
payloads are decoded with the protocol codec.`,
	Example: `  headlight --trace run.cbor monitor
  headlight trace dump run.cbor
  headlight trace dump run.cbor --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runTraceDump,
}

func init() {
	traceDumpCmd.Flags().StringVarP(&traceDumpFormat, "format", "f", "table", "Output format (table, json)")
	traceCmd.AddCommand(traceDumpCmd)
}

func runTraceDump(cmd *cobra.Command, args []string) error {
	if err := validateFormat(traceDumpFormat); err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	cmd.SilenceUsage = true
	recs, err := trace.ReadAll(f)
	if err != nil {
		return err
	}
	return renderTrace(cmd.OutOrStdout(), recs, traceDumpFormat)
}

func renderTrace(w io.Writer, recs []trace.Record, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		for _, rec := range recs {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tID\tCHANGE\tDETAIL")
	for _, rec := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.At.Format(time.StampMilli), orDash(rec.ID), rec.Change, traceDetail(rec))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d records\n", len(recs))
	return err
}

func traceDetail(rec trace.Record) string {
	if rec.Error != "" {
		return rec.Error
	}
	pkt, err := rec.Packet()
	switch {
	case err != nil:
		return fmt.Sprintf("%s: undecodable % x", rec.Endpoint, rec.Data)
	case pkt != nil:
		return fmt.Sprintf("%s %s", rec.Endpoint, formatPacket(pkt))
	case rec.Adapter != "":
		return rec.Adapter
	}
	return rec.State
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
