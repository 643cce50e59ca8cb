package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/AdinAck/Headlights-App/internal/endpoint"
	"github.com/AdinAck/Headlights-App/internal/protocol"
	"github.com/AdinAck/Headlights-App/internal/router"
	"github.com/AdinAck/Headlights-App/internal/session"
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/AdinAck/Headlights-App/pkg/controller"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive headlight console",
	Long: `Starts an interactive shell that keeps the Bluetooth stack open. Changes of
all headlights are printed as they happen. Type 'help' for the commands.`,
	Args: cobra.NoArgs,
	RunE: runConsole,
}

func runConsole(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := startApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	cmd.SilenceUsage = true

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "headlight> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    consoleCompleter,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	con := newConsole(a.ctl, rl.Stdout())
	con.printHelp()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		con.follow(ctx)
	}()

	go func() {
		// Readline blocks; closing it is the only way to interrupt it.
		<-ctx.Done()
		_ = rl.Close()
	}()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return nil
		}
		quit, err := con.execLine(ctx, line)
		if err != nil {
			fmt.Fprintf(con.out, "%s %s\n", errColor.Sprint("error:"), FormatUserError(err))
		}
		if quit {
			return nil
		}
	}
}

var consoleCompleter = readline.NewPrefixCompleter(
	readline.PcItem("scan", readline.PcItem("start"), readline.PcItem("stop")),
	readline.PcItem("list"),
	readline.PcItem("connect"),
	readline.PcItem("disconnect"),
	readline.PcItem("show"),
	readline.PcItem("control"),
	readline.PcItem("request",
		readline.PcItem("status"), readline.PcItem("control"), readline.PcItem("monitor"),
		readline.PcItem("config"), readline.PcItem("properties"), readline.PcItem("brightness"),
		readline.PcItem("pid"),
	),
	readline.PcItem("reset", readline.PcItem("factory")),
	readline.PcItem("favorite", readline.PcItem("clear")),
	readline.PcItem("autoconnect", readline.PcItem("on"), readline.PcItem("off")),
	readline.PcItem("changes", readline.PcItem("on"), readline.PcItem("off")),
	readline.PcItem("help"),
	readline.PcItem("quit"),
)

// console executes command lines against a running controller.
type console struct {
	ctl *controller.Controller
	out io.Writer

	mu      sync.Mutex
	quiet   bool
	seen    map[transport.ID]struct{}
	current transport.ID
}

func newConsole(ctl *controller.Controller, out io.Writer) *console {
	return &console{ctl: ctl, out: out, seen: make(map[transport.ID]struct{})}
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out, `
Headlight console commands:
  scan start|stop         Start or stop scanning
  list                    List discovered and loaded headlights
  connect [id]            Connect to a headlight (default: favorite)
  disconnect [id]         Disconnect a headlight
  show [id]               Show the values of a headlight
  control <mA> [id]       Set the regulation target
  request <name> [id]     Ask for a value (status, monitor, config, ...)
  reset [factory] [id]    Restart a headlight
  favorite [id|clear]     Show, set or clear the favorite
  autoconnect [on|off]    Show or set auto-connect
  changes on|off          Print changes as they happen
  help                    Show this help
  quit                    Leave the console

Commands taking [id] default to the last connected headlight, then the favorite.`)
}

// follow prints changes until ctx ends. Repeated advertisements of a known
// headlight are not printed.
func (c *console) follow(ctx context.Context) {
	rc := c.ctl.Subscribe(128)
	defer c.ctl.Unsubscribe(rc)
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-rc.C():
			if !ok {
				return
			}
			if line, ok := c.describe(ch); ok {
				fmt.Fprintln(c.out, line)
			}
		}
	}
}

func (c *console) describe(ch session.Change) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ch.Type {
	case session.ChangeDiscovered:
		if _, ok := c.seen[ch.ID]; ok {
			return "", false
		}
		c.seen[ch.ID] = struct{}{}
	case session.ChangeRemoved:
		delete(c.seen, ch.ID)
	}
	if c.quiet {
		return "", false
	}
	return formatChange(ch), true
}

// execLine runs one command line. quit reports whether the console should
// exit.
func (c *console) execLine(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return true, nil
	case "scan":
		return false, c.cmdScan(ctx, args)
	case "list", "ls":
		return false, renderSessions(c.out, c.ctl.Discovered(), c.ctl.Preferences(), "table")
	case "connect":
		return false, c.cmdConnect(ctx, args)
	case "disconnect":
		return false, c.withTarget(args, func(id transport.ID) error {
			return c.ctl.Disconnect(ctx, id)
		})
	case "show":
		return false, c.withTarget(args, func(id transport.ID) error {
			return c.show(id)
		})
	case "control":
		return false, c.cmdControl(ctx, args)
	case "request":
		return false, c.cmdRequest(ctx, args)
	case "reset":
		return false, c.cmdReset(ctx, args)
	case "favorite":
		return false, c.cmdFavorite(ctx, args)
	case "autoconnect":
		return false, c.cmdAutoConnect(ctx, args)
	case "changes":
		if len(args) != 1 {
			return false, errors.New("usage: changes on|off")
		}
		on, err := parseOnOff(args[0])
		if err != nil {
			return false, err
		}
		c.mu.Lock()
		c.quiet = !on
		c.mu.Unlock()
	default:
		return false, fmt.Errorf("unknown command %q (type 'help' for commands)", cmd)
	}
	return false, nil
}

// target resolves an optional ID argument.
func (c *console) target(args []string) (transport.ID, error) {
	if len(args) > 0 {
		return transport.ParseID(args[0])
	}
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur != "" {
		return cur, nil
	}
	if fav := c.ctl.Preferences().Favorite; fav != "" {
		return fav, nil
	}
	return "", ErrNoHeadlight
}

func (c *console) withTarget(args []string, fn func(transport.ID) error) error {
	id, err := c.target(args)
	if err != nil {
		return err
	}
	return fn(id)
}

func (c *console) cmdScan(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: scan start|stop")
	}
	switch args[0] {
	case "start":
		if err := c.ctl.StartScan(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Scanning")
	case "stop":
		if err := c.ctl.StopScan(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Scan stopped")
	default:
		return errors.New("usage: scan start|stop")
	}
	return nil
}

func (c *console) cmdConnect(ctx context.Context, args []string) error {
	id, err := c.target(args)
	if err != nil {
		return err
	}
	if err := c.ctl.Connect(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	c.current = id
	c.mu.Unlock()
	fmt.Fprintf(c.out, "Connecting to %s\n", id)
	return nil
}

func (c *console) show(id transport.ID) error {
	snap, ok := c.ctl.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", router.ErrUnknownPeripheral, id)
	}
	fmt.Fprintf(c.out, "%s %s %s\n", snap.ID, snap.Name, stateColor(snap.State).Sprint(snap.State))
	if err := renderProperties(c.out, snap); err != nil {
		return err
	}
	for _, ep := range sortedEndpoints(snap) {
		fmt.Fprintf(c.out, "  %-11s %s\n", ep, formatPacket(snap.Values[ep]))
	}
	return nil
}

func (c *console) cmdControl(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: control <mA> [id]")
	}
	target, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid target current %q: %w", args[0], err)
	}
	return c.withTarget(args[1:], func(id transport.ID) error {
		return c.ctl.Send(ctx, id, endpoint.Control, protocol.Control{Target: uint16(target)})
	})
}

func (c *console) cmdRequest(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: request <name> [id]")
	}
	req, err := protocol.ParseRequest(args[0])
	if err != nil {
		return err
	}
	return c.withTarget(args[1:], func(id transport.ID) error {
		return c.ctl.Request(ctx, id, req)
	})
}

func (c *console) cmdReset(ctx context.Context, args []string) error {
	kind := protocol.ResetNow
	if len(args) > 0 && args[0] == "factory" {
		kind = protocol.ResetFactory
		args = args[1:]
	}
	return c.withTarget(args, func(id transport.ID) error {
		return c.ctl.Send(ctx, id, endpoint.Reset, kind)
	})
}

func (c *console) cmdFavorite(ctx context.Context, args []string) error {
	switch {
	case len(args) == 0:
		if fav := c.ctl.Preferences().Favorite; fav != "" {
			fmt.Fprintln(c.out, fav)
		} else {
			fmt.Fprintln(c.out, "No favorite headlight")
		}
		return nil
	case args[0] == "clear":
		return c.ctl.ClearFavorite(ctx)
	}
	id, err := transport.ParseID(args[0])
	if err != nil {
		return err
	}
	return c.ctl.SetFavorite(ctx, id)
}

func (c *console) cmdAutoConnect(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(c.out, "Auto-connect is %s\n", onOff(c.ctl.Preferences().AutoConnect))
		return nil
	}
	on, err := parseOnOff(args[0])
	if err != nil {
		return err
	}
	return c.ctl.SetAutoConnect(ctx, on)
}
