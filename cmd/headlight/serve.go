package main

import (
	"github.com/AdinAck/Headlights-App/internal/stream"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Stream headlight changes over WebSocket",
	Long: `Keeps scanning and serves the discovered and loaded headlights over HTTP:

  GET /api/sessions      discovered and loaded headlights as JSON
  GET /api/preferences   favorite and auto-connect flag
  GET /ws                WebSocket stream of every change

With auto-connect on, the favorite headlight is connected and loaded as soon
as it is seen.`,
	Example: `  headlight serve
  headlight serve --addr :8642`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: stream_addr from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := startApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	addr := a.cfg.StreamAddr
	if serveAddr != "" {
		addr = serveAddr
	}
	cmd.SilenceUsage = true

	srv := stream.NewServer(a.ctl, stream.Options{Buffer: a.cfg.ChangeBuffer}, a.logger)
	return srv.ListenAndServe(ctx, addr)
}
