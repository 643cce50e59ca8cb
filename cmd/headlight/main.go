package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "headlight",
	Short: "Bluetooth headlight controller",
	Long: `Command-line controller for Bluetooth Low Energy headlights:

- Scan for nearby headlights and show their state
- Monitor telemetry (duty, currents, temperature) of a headlight
- Set the regulation target, write configuration, reset
- Manage the favorite headlight and auto-connect preference
- Interactive console and a WebSocket change stream for UIs
- Record and dump protocol traces`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(favoriteCmd)
	rootCmd.AddCommand(autoConnectCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(traceCmd)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "YAML configuration file")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.Bool("verbose", false, "Verbose output, same as --log-level debug")
	pf.String("protocol", "", "Firmware protocol version (v1, v2)")
	pf.String("prefs", "", "Preferences file (default: user config directory)")
	pf.String("trace", "", "Append a protocol trace to this file on exit")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
