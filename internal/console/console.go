// Package console is an interactive bench console for exercising the mount
// without hardware buttons.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"

	"github.com/cjeanneret/StarGo/internal/debug"
	"github.com/cjeanneret/StarGo/internal/hw/display"
)

// DefaultTap is how long "tap" holds a button, comfortably above the debounce time.
const DefaultTap = 100 * time.Millisecond

const maxTap = 30 * time.Second

// Console reads commands from a terminal and drives a Bench.
type Console struct {
	bench  *Bench
	status func() display.Status
	out    io.Writer
	abort  func() bool
	rl     atomic.Pointer[readline.Instance]
}

// New creates a console. status may be nil.
func New(bench *Bench, status func() display.Status, out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{bench: bench, status: status, out: out}
}

// OnAbort sets the handler for the "abort" command. fn reports whether a
// dither move was interrupted.
func (c *Console) OnAbort(fn func() bool) {
	c.abort = fn
}

// errQuit is returned by Exec when the user asks to leave.
var errQuit = errors.New("quit")

// Exec runs one command line.
func (c *Console) Exec(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	switch parts[0] {
	case "press", "down":
		if len(parts) != 2 {
			return fmt.Errorf("usage: press <button>")
		}
		return c.bench.Down(parts[1])

	case "release", "up":
		if len(parts) != 2 {
			return fmt.Errorf("usage: release <button>")
		}
		return c.bench.Up(parts[1])

	case "tap", "hold":
		if len(parts) < 2 || len(parts) > 3 {
			return fmt.Errorf("usage: %s <button> [ms]", parts[0])
		}
		hold, err := parseHold(parts[2:])
		if err != nil {
			return err
		}
		return c.bench.Press(ctx, parts[1], hold)

	case "status":
		c.printStatus()
		return nil

	case "abort":
		if c.abort == nil {
			return fmt.Errorf("abort not available")
		}
		if c.abort() {
			fmt.Fprintln(c.out, "Dither move aborted")
		} else {
			fmt.Fprintln(c.out, "No dither move in progress")
		}
		return nil

	case "help":
		fmt.Fprintln(c.out, "Commands:")
		fmt.Fprintln(c.out, "  press <button>       - Hold a button down")
		fmt.Fprintln(c.out, "  release <button>     - Let a button go")
		fmt.Fprintln(c.out, "  tap <button> [ms]    - Press and release (default 100 ms)")
		fmt.Fprintln(c.out, "  status               - Show the status screen")
		fmt.Fprintln(c.out, "  abort                - Interrupt a dither move")
		fmt.Fprintln(c.out, "  quit                 - Stop the mount and exit")
		fmt.Fprintln(c.out, "Buttons: revert (r), period (p), angle (a)")
		return nil

	case "quit", "exit":
		return errQuit

	default:
		return fmt.Errorf("unknown command: %s (try 'help')", parts[0])
	}
}

func parseHold(args []string) (time.Duration, error) {
	if len(args) == 0 {
		return DefaultTap, nil
	}
	ms, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("hold must be milliseconds: %w", err)
	}
	hold := time.Duration(ms) * time.Millisecond
	if hold <= 0 || hold > maxTap {
		return 0, fmt.Errorf("hold must be between 1 and %d ms", maxTap.Milliseconds())
	}
	return hold, nil
}

func (c *Console) printStatus() {
	if c.status == nil {
		fmt.Fprintln(c.out, "status not available")
		return
	}
	s := c.status()
	for _, l := range display.Lines(s) {
		fmt.Fprintln(c.out, l)
	}
	dir := "reverse"
	if s.Forward {
		dir = "forward"
	}
	fmt.Fprintf(c.out, "Rod        : %.3f mm, %.5f rev/s %s, period %d min\n",
		s.RodLengthMm, s.RPS, dir, s.DitherPeriodMin)
}

// Writer wraps w so that log lines do not garble the prompt.
func (c *Console) Writer(w io.Writer) io.Writer {
	return &promptWriter{c: c, w: w}
}

type promptWriter struct {
	c *Console
	w io.Writer
}

func (p *promptWriter) Write(b []byte) (int, error) {
	rl := p.c.rl.Load()
	if rl != nil {
		rl.Clean()
		defer rl.Refresh()
	}
	return p.w.Write(b)
}

// Run reads commands until ctx is done, EOF, or the user quits. Ctrl+C and
// "quit" call cancel.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "stargo> ",
		HistoryFile: historyPath(),
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	c.out = rl.Stdout()
	c.rl.Store(rl)
	defer func() {
		c.rl.Store(nil)
		_ = rl.Close()
	}()

	go func() {
		<-ctx.Done()
		_ = rl.Close()
	}()

	debug.Info("Bench console started (type 'help' for commands)")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel()
			return nil
		}
		if err != nil {
			return nil
		}
		err = c.Exec(ctx, strings.TrimSpace(line))
		if errors.Is(err, errQuit) {
			cancel()
			return nil
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

// historyPath returns the command history file, or "" when no cache dir is available.
func historyPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	dir = filepath.Join(dir, "stargo")
	_ = os.MkdirAll(dir, 0o750)
	return filepath.Join(dir, "console_history")
}
