// Package shell is the line console of the board: each line is tokenized
// like a POSIX shell and dispatched to a registered command.
package shell

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/google/shlex"
	"go.uber.org/zap"

	"hpsbsp/board"
	"hpsbsp/core"
	"hpsbsp/i2c"
)

// DefaultPrompt is printed before every line Run reads.
const DefaultPrompt = "bsp> "

// Shell runs commands against a booted board.
type Shell struct {
	Prompt string

	board  *board.Board
	cmds   *core.CommandRegistry
	logger *zap.SugaredLogger

	mu      sync.Mutex
	pending map[int]*pending // async transfers by bus
}

// New returns a shell with the built-in commands registered.
func New(b *board.Board, logger *zap.SugaredLogger) *Shell {
	if logger == nil {
		logger = core.Logger()
	}
	s := &Shell{
		Prompt:  DefaultPrompt,
		board:   b,
		cmds:    core.NewCommandRegistry(),
		logger:  logger,
		pending: make(map[int]*pending),
	}
	s.cmds.Register("help", "", "List commands", s.help)
	s.cmds.Register("events", "[clear]", "Dump or clear the driver event ring", s.events)
	s.cmds.Register("i2c", i2cUsage, "I2C bus access", s.i2c)
	s.cmds.Register("accel", "BUS [ADDR]", "Sample an ADXL345 accelerometer", s.accel)
	return s
}

// Commands exposes the registry so callers can add board-specific commands.
func (s *Shell) Commands() *core.CommandRegistry { return s.cmds }

// Exec runs one line. Blank lines and comments are no-ops.
func (s *Shell) Exec(line string, w io.Writer) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse %q: %w", line, err)
	}
	if len(args) == 0 {
		return nil
	}
	return s.cmds.Dispatch(args[0], args[1:], w)
}

// Run reads lines from r until EOF or "quit". Command errors are printed
// and do not stop the loop.
func (s *Shell) Run(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	for {
		io.WriteString(w, s.Prompt)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "quit", "exit", "q":
			return nil
		}
		if err := s.Exec(line, w); err != nil {
			s.logger.Debugw("command failed", "line", line, "error", err)
			fmt.Fprintf(w, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (s *Shell) help(args []string, w io.Writer) error {
	if err := s.cmds.WriteHelp(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, "quit\n\tLeave the shell\n")
	return err
}

func (s *Shell) events(args []string, w io.Writer) error {
	if len(args) == 1 && args[0] == "clear" {
		core.ClearEvents()
		return nil
	}
	if len(args) != 0 {
		return fmt.Errorf("%v: unexpected", args)
	}
	return core.DumpEvents(w)
}

// busID accepts a bus number or its configured name.
func (s *Shell) busID(arg string) (int, error) {
	if id, ok := s.board.BusID(arg); ok {
		return id, nil
	}
	id, err := strconv.Atoi(arg)
	if err != nil || id < 0 || id >= s.board.I2C.NumBuses() {
		return 0, fmt.Errorf("%s: no such bus", arg)
	}
	return id, nil
}

// openBus resolves arg to an open bus.
func (s *Shell) openBus(arg string) (*i2c.Bus, error) {
	id, err := s.busID(arg)
	if err != nil {
		return nil, err
	}
	b, ok := s.board.I2C.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%s: bus not open", arg)
	}
	return b, nil
}

func parseByte(arg string) (byte, error) {
	v, err := strconv.ParseUint(arg, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid byte", arg)
	}
	return byte(v), nil
}

func parseBytes(args []string) ([]byte, error) {
	out := make([]byte, 0, len(args))
	for _, a := range args {
		v, err := parseByte(a)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func writeHex(w io.Writer, buf []byte) error {
	parts := make([]string, len(buf))
	for i, c := range buf {
		parts[i] = fmt.Sprintf("%02x", c)
	}
	_, err := io.WriteString(w, strings.Join(parts, " ")+"\n")
	return err
}
