package main

import (
	"fmt"
	"strings"

	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/spf13/cobra"
)

// favoriteCmd manages the favorite headlight. It only touches the
// preferences file.
var favoriteCmd = &cobra.Command{
	Use:   "favorite [id]",
	Short: "Show or set the favorite headlight",
	Long: `Shows the favorite headlight, sets it when an ID is given, or clears it with
--clear. The favorite is the default target of monitor and send, and is
connected automatically when auto-connect is on.`,
	Example: `  headlight favorite
  headlight favorite 01234567-89ab-cdef-0123-456789abcdef
  headlight favorite --clear`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFavorite,
}

var favoriteClear bool

var autoConnectCmd = &cobra.Command{
	Use:   "autoconnect [on|off]",
	Short: "Show or set auto-connect to the favorite",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAutoConnect,
}

func init() {
	favoriteCmd.Flags().BoolVar(&favoriteClear, "clear", false, "Forget the favorite headlight")
}

func runFavorite(cmd *cobra.Command, args []string) error {
	if favoriteClear && len(args) > 0 {
		return fmt.Errorf("--clear does not take an ID")
	}
	_, _, store, err := setup(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()

	switch {
	case favoriteClear:
		if err := store.ClearFavorite(); err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, "Favorite cleared")
		return err
	case len(args) == 1:
		id, err := transport.ParseID(args[0])
		if err != nil {
			return err
		}
		if err := store.SetFavorite(id); err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "Favorite set to %s\n", id)
		return err
	}

	id, ok := store.Favorite()
	if !ok {
		_, err = fmt.Fprintln(out, "No favorite headlight")
		return err
	}
	_, err = fmt.Fprintln(out, id)
	return err
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid value %q: expected on or off", s)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func runAutoConnect(cmd *cobra.Command, args []string) error {
	var enabled bool
	if len(args) == 1 {
		var err error
		if enabled, err = parseOnOff(args[0]); err != nil {
			return err
		}
	}
	_, _, store, err := setup(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		if err := store.SetAutoConnect(enabled); err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "Auto-connect %s\n", onOff(enabled))
		return err
	}
	_, err = fmt.Fprintf(out, "Auto-connect is %s\n", onOff(store.AutoConnect()))
	return err
}
