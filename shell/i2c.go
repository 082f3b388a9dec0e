package shell

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"periph.io/x/conn/v3/physic"

	"hpsbsp/i2c"
)

const i2cUsage = "open|close|state|nostop|cancel BUS\n" +
	"    | addr BUS ADDR | speed BUS RATE\n" +
	"    | write|awrite BUS BYTE... | read|aread BUS COUNT | wait BUS [TIMEOUT]\n" +
	"    | BUS.ADDR[.REG] [VALUE]"

const defaultWait = time.Second

// pending is an asynchronous transfer started from the shell.
type pending struct {
	dir  string
	buf  []byte
	done chan i2c.Status
}

func (s *Shell) i2c(args []string, w io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: i2c %s", i2cUsage)
	}
	if strings.Contains(args[0], ".") {
		return s.i2cShort(args, w)
	}
	if len(args) < 2 {
		return fmt.Errorf("%s: BUS: missing", args[0])
	}
	sub, bus, rest := args[0], args[1], args[2:]

	switch sub {
	case "open":
		return s.i2cOpen(bus, w)
	case "close":
		return s.i2cClose(bus)
	case "state":
		return s.i2cState(bus, w)
	case "nostop":
		b, err := s.openBus(bus)
		if err != nil {
			return err
		}
		return b.SetNoStop()
	case "cancel":
		b, err := s.openBus(bus)
		if err != nil {
			return err
		}
		return b.Cancel()
	case "addr":
		return s.i2cAddr(bus, rest)
	case "speed":
		return s.i2cSpeed(bus, rest, w)
	case "write", "awrite":
		return s.i2cWrite(bus, rest, sub == "awrite", w)
	case "read", "aread":
		return s.i2cRead(bus, rest, sub == "aread", w)
	case "wait":
		return s.i2cWait(bus, rest, w)
	default:
		return fmt.Errorf("%s: unknown i2c command", sub)
	}
}

func (s *Shell) i2cOpen(arg string, w io.Writer) error {
	id, err := s.busID(arg)
	if err != nil {
		return err
	}
	b, err := s.board.I2C.Open(id)
	if err != nil {
		return err
	}
	if err := i2c.RegisterPeriph(b); err != nil {
		s.logger.Warnw("periph registration failed", "bus", id, "error", err)
	}
	_, err = fmt.Fprintf(w, "%s open\n", b)
	return err
}

func (s *Shell) i2cClose(arg string) error {
	b, err := s.openBus(arg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.pending, b.ID())
	s.mu.Unlock()
	return b.Close()
}

func (s *Shell) i2cState(arg string, w io.Writer) error {
	b, err := s.openBus(arg)
	if err != nil {
		return err
	}
	st, err := b.State()
	if err != nil {
		return err
	}
	var mc i2c.MasterConfig
	if err := b.Ioctl(i2c.GetMasterConfig{Out: &mc}); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: addr=%#02x speed=%s rate=%s busy=%t active=%t\n",
		b, st.Addr, mc.Mode, mc.Rate, st.Busy, st.Active)
	if st.Aborted {
		fmt.Fprintf(w, "  last transfer aborted: %v\n", &i2c.AbortError{Source: st.AbortSource})
	}
	if st.Busy {
		return nil
	}
	var tx, rx int
	if err := b.Ioctl(i2c.GetTxBytes{Out: &tx}); err != nil {
		return err
	}
	if err := b.Ioctl(i2c.GetRxBytes{Out: &rx}); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "  last write %d bytes, last read %d bytes\n", tx, rx)
	return err
}

func (s *Shell) i2cAddr(arg string, rest []string) error {
	if len(rest) != 1 {
		return fmt.Errorf("usage: i2c addr BUS ADDR")
	}
	b, err := s.openBus(arg)
	if err != nil {
		return err
	}
	addr, err := strconv.ParseUint(rest[0], 0, 16)
	if err != nil {
		return fmt.Errorf("%s: invalid address", rest[0])
	}
	return b.SetSlaveAddress(uint16(addr))
}

// parseRate accepts periph.io frequencies ("400kHz") or a bare number of Hz.
func parseRate(arg string) (physic.Frequency, error) {
	if _, err := strconv.ParseUint(arg, 10, 32); err == nil {
		arg += "Hz"
	}
	var f physic.Frequency
	if err := f.Set(arg); err != nil {
		return 0, fmt.Errorf("%s: invalid rate: %w", arg, err)
	}
	return f, nil
}

func (s *Shell) i2cSpeed(arg string, rest []string, w io.Writer) error {
	if len(rest) != 1 {
		return fmt.Errorf("usage: i2c speed BUS RATE")
	}
	b, err := s.openBus(arg)
	if err != nil {
		return err
	}
	rate, err := parseRate(rest[0])
	if err != nil {
		return err
	}
	if err := b.SetMasterConfig(rate); err != nil {
		return err
	}
	var mc i2c.MasterConfig
	if err := b.Ioctl(i2c.GetMasterConfig{Out: &mc}); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s: %s mode, %s\n", b, mc.Mode, mc.Rate)
	return err
}

func (s *Shell) i2cWrite(arg string, rest []string, async bool, w io.Writer) error {
	if len(rest) == 0 {
		return fmt.Errorf("usage: i2c write BUS BYTE...")
	}
	b, err := s.openBus(arg)
	if err != nil {
		return err
	}
	buf, err := parseBytes(rest)
	if err != nil {
		return err
	}
	if async {
		return s.startAsync(b, "write", buf, b.WriteAsync)
	}
	if err := b.WriteSync(buf); err != nil {
		var n int
		if qerr := b.Ioctl(i2c.GetTxBytes{Out: &n}); qerr != nil {
			return err
		}
		return fmt.Errorf("%w (%d of %d bytes sent)", err, n, len(buf))
	}
	return nil
}

func (s *Shell) i2cRead(arg string, rest []string, async bool, w io.Writer) error {
	if len(rest) != 1 {
		return fmt.Errorf("usage: i2c read BUS COUNT")
	}
	b, err := s.openBus(arg)
	if err != nil {
		return err
	}
	count, err := strconv.Atoi(rest[0])
	if err != nil || count <= 0 {
		return fmt.Errorf("%s: invalid count", rest[0])
	}
	buf := make([]byte, count)
	if async {
		return s.startAsync(b, "read", buf, b.ReadAsync)
	}
	if err := b.ReadSync(buf); err != nil {
		return err
	}
	return writeHex(w, buf)
}

// startAsync installs a completer for this transfer and starts it. One
// asynchronous transfer per bus may be outstanding until it is waited for.
func (s *Shell) startAsync(b *i2c.Bus, dir string, buf []byte, start func([]byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.pending[b.ID()]; busy {
		return fmt.Errorf("%s: async transfer not yet waited for", b)
	}
	p := &pending{dir: dir, buf: buf, done: make(chan i2c.Status, 1)}
	err := b.SetCallback(i2c.CompleterFunc(func(st i2c.Status) {
		select {
		case p.done <- st:
		default:
		}
	}))
	if err != nil {
		return err
	}
	if err := start(buf); err != nil {
		return err
	}
	s.pending[b.ID()] = p
	return nil
}

func (s *Shell) i2cWait(arg string, rest []string, w io.Writer) error {
	b, err := s.openBus(arg)
	if err != nil {
		return err
	}
	timeout := defaultWait
	if len(rest) == 1 {
		if timeout, err = time.ParseDuration(rest[0]); err != nil {
			return fmt.Errorf("%s: invalid timeout", rest[0])
		}
	}

	s.mu.Lock()
	p, ok := s.pending[b.ID()]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: no async transfer", b)
	}

	var st i2c.Status
	select {
	case st = <-p.done:
	case <-time.After(timeout):
		return fmt.Errorf("%s: %s still running after %v", b, p.dir, timeout)
	}
	s.mu.Lock()
	delete(s.pending, b.ID())
	s.mu.Unlock()

	switch st {
	case i2c.StatusSuccess:
		if p.dir == "read" {
			return writeHex(w, p.buf)
		}
		_, err := fmt.Fprintf(w, "%s: %s done\n", b, p.dir)
		return err
	case i2c.StatusNack:
		bs, _ := b.State()
		return &i2c.AbortError{Source: bs.AbortSource}
	default:
		return fmt.Errorf("%s: %s %v", b, p.dir, st)
	}
}

// i2cShort reads or writes one byte: BUS.ADDR[.REG] [VALUE], with the bus
// in decimal and the rest in hex.
func (s *Shell) i2cShort(args []string, w io.Writer) error {
	if len(args) > 2 {
		return fmt.Errorf("%v: unexpected", args[2:])
	}
	var (
		bus       int
		addr, reg uint8
	)
	n, _ := fmt.Sscanf(args[0], "%d.%x.%x", &bus, &addr, &reg)
	if n < 2 {
		return fmt.Errorf("%s: invalid BUS.ADDR[.REG]", args[0])
	}
	hasReg := n == 3

	b, err := s.openBus(strconv.Itoa(bus))
	if err != nil {
		return err
	}

	if len(args) == 2 {
		var v uint8
		if _, err := fmt.Sscanf(args[1], "%x", &v); err != nil {
			return fmt.Errorf("%s: invalid value", args[1])
		}
		if hasReg {
			return b.WriteRegister(addr, reg, []byte{v})
		}
		return b.Tx(uint16(addr), []byte{v}, nil)
	}

	buf := make([]byte, 1)
	if hasReg {
		err = b.ReadRegister(addr, reg, buf)
	} else {
		err = b.Tx(uint16(addr), nil, buf)
	}
	if err != nil {
		var ae *i2c.AbortError
		if errors.As(err, &ae) && ae.Nack() {
			return fmt.Errorf("%s: no response", args[0])
		}
		return err
	}
	_, err = fmt.Fprintf(w, "%02x\n", buf[0])
	return err
}
