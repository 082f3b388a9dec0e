package i2c_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/physic"

	"hpsbsp/core"
	"hpsbsp/hal"
	"hpsbsp/i2c"
	"hpsbsp/i2c/dwsim"
)

const (
	rigBase   = 0x2000
	rigLine   = 100
	rigClock  = 100_000_000
	eepromAdr = 0x50
	sensorAdr = 0x1d
)

type rig struct {
	irq    *hal.SoftInterruptController
	resets *hal.SoftResetManager
	regs   *dwsim.Map
	blocks []*dwsim.Block
	ctl    *i2c.Controller
	eeprom *dwsim.EEPROM24
	sensor *dwsim.RegFile
}

// newRig builds two simulated buses with an EEPROM and a register-file
// device on bus 0. depth 0 selects the default FIFO depth.
func newRig(t *testing.T, depth int) *rig {
	t.Helper()
	r := &rig{
		irq:    hal.NewSoftInterruptController(),
		resets: hal.NewSoftResetManager(),
		regs:   dwsim.NewMap(),
		eeprom: dwsim.NewEEPROM24(dwsim.Conf24C02),
		sensor: dwsim.NewRegFile(map[byte]byte{0x00: 0xe5}, 0x00),
	}
	var insts []i2c.Instance
	for i := 0; i < 2; i++ {
		base := uintptr(rigBase + i*dwsim.Window)
		line := hal.IRQ(rigLine + i)
		blk := dwsim.New(dwsim.Config{Base: base, Depth: depth, IRQ: r.irq, Line: line})
		r.regs.Add(blk)
		r.blocks = append(r.blocks, blk)
		insts = append(insts, i2c.Instance{Base: base, Reset: hal.Peripheral(8 + i), IRQ: line, ClockHz: rigClock})
	}
	r.blocks[0].Attach(eepromAdr, r.eeprom)
	r.blocks[0].Attach(sensorAdr, r.sensor)

	ctl, err := i2c.NewController(i2c.Config{
		Instances: insts,
		Regs:      r.regs,
		IRQ:       r.irq,
		Resets:    r.resets,
	})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	r.ctl = ctl
	t.Cleanup(func() {
		r.blocks[0].Hold(false)
		if err := ctl.Teardown(); err != nil {
			t.Errorf("Teardown failed: %v", err)
		}
		r.regs.Close()
	})
	return r
}

// open opens bus 0 addressed at addr.
func (r *rig) open(t *testing.T, addr uint16) *i2c.Bus {
	t.Helper()
	b, err := r.ctl.Open(0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if addr != 0 {
		if err := b.SetSlaveAddress(addr); err != nil {
			t.Fatalf("SetSlaveAddress failed: %v", err)
		}
	}
	r.blocks[0].ResetTrace()
	return b
}

func waitBusy(t *testing.T, b *i2c.Bus, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st, err := b.State()
		if err != nil {
			t.Fatalf("State failed: %v", err)
		}
		if st.Busy == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for busy=%v", want)
		}
		time.Sleep(time.Millisecond)
	}
}

func recvStatus(t *testing.T, ch <-chan i2c.Status) i2c.Status {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for completion callback")
		return 0
	}
}

func start(addr uint16, read bool) dwsim.Event {
	return dwsim.Event{Op: dwsim.OpStart, Addr: addr, Read: read}
}

func restart(addr uint16, read bool) dwsim.Event {
	return dwsim.Event{Op: dwsim.OpRestart, Addr: addr, Read: read}
}

func wr(addr uint16, data ...byte) []dwsim.Event {
	var out []dwsim.Event
	for _, c := range data {
		out = append(out, dwsim.Event{Op: dwsim.OpWrite, Addr: addr, Data: c})
	}
	return out
}

func rd(addr uint16, data ...byte) []dwsim.Event {
	var out []dwsim.Event
	for _, c := range data {
		out = append(out, dwsim.Event{Op: dwsim.OpRead, Addr: addr, Data: c})
	}
	return out
}

func stop(addr uint16) dwsim.Event {
	return dwsim.Event{Op: dwsim.OpStop, Addr: addr}
}

func seq(parts ...any) []dwsim.Event {
	var out []dwsim.Event
	for _, p := range parts {
		switch v := p.(type) {
		case dwsim.Event:
			out = append(out, v)
		case []dwsim.Event:
			out = append(out, v...)
		}
	}
	return out
}

func TestNewControllerValidation(t *testing.T) {
	irq := hal.NewSoftInterruptController()
	resets := hal.NewSoftResetManager()
	regs := dwsim.NewMap()

	tests := []struct {
		name string
		cfg  i2c.Config
	}{
		{"no instances", i2c.Config{Regs: regs, IRQ: irq, Resets: resets}},
		{"too many", i2c.Config{Instances: make([]i2c.Instance, i2c.MaxInstances+1), Regs: regs, IRQ: irq, Resets: resets}},
		{"no registers", i2c.Config{Instances: make([]i2c.Instance, 1), IRQ: irq, Resets: resets}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := i2c.NewController(tt.cfg); !errors.Is(err, i2c.ErrInvalidArgument) {
				t.Errorf("Expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestOpenClose(t *testing.T) {
	r := newRig(t, 0)

	b, err := r.ctl.Open(0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if held, _ := r.resets.InReset(8); held {
		t.Error("Open left the bus in reset")
	}
	if !r.irq.Enabled(rigLine) || r.irq.Priority(rigLine) != i2c.DefaultIRQPriority {
		t.Error("Interrupt line not enabled at the default priority")
	}
	st, err := b.State()
	if err != nil || !st.Open || st.Busy || st.Aborted || st.Addr != 0 {
		t.Errorf("Fresh state %+v, err %v", st, err)
	}
	var mc i2c.MasterConfig
	if err := b.Ioctl(i2c.GetMasterConfig{Out: &mc}); err != nil || mc.Mode != i2c.SpeedStandard {
		t.Errorf("Fresh config %+v, err %v; want standard speed", mc, err)
	}

	if _, err := r.ctl.Open(0); !errors.Is(err, i2c.ErrAlreadyOpen) {
		t.Errorf("Second Open: expected ErrAlreadyOpen, got %v", err)
	}
	for _, id := range []int{-1, 2, i2c.MaxInstances} {
		if _, err := r.ctl.Open(id); !errors.Is(err, i2c.ErrInvalidArgument) {
			t.Errorf("Open(%d): expected ErrInvalidArgument, got %v", id, err)
		}
	}
	if got, ok := r.ctl.Lookup(0); !ok || got != b {
		t.Error("Lookup did not return the open bus")
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Close(); !errors.Is(err, i2c.ErrInvalidArgument) {
		t.Errorf("Second Close: expected ErrInvalidArgument, got %v", err)
	}
	if _, ok := r.ctl.Lookup(0); ok {
		t.Error("Lookup found a closed bus")
	}
	if err := b.WriteSync([]byte{0}); !errors.Is(err, i2c.ErrInvalidArgument) {
		t.Errorf("Write on closed bus: expected ErrInvalidArgument, got %v", err)
	}

	// Reopen starts from a clean descriptor.
	b2, err := r.ctl.Open(0)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if err := b2.WriteSync([]byte{0}); !errors.Is(err, i2c.ErrAddressNotSet) {
		t.Errorf("Expected ErrAddressNotSet after reopen, got %v", err)
	}
}

func TestOpenResourceFailures(t *testing.T) {
	boom := errors.New("boom")

	t.Run("reset query", func(t *testing.T) {
		r := newRig(t, 0)
		r.resets.QueryErr = boom
		_, err := r.ctl.Open(0)
		if !errors.Is(err, i2c.ErrResourceUnavailable) || !errors.Is(err, boom) {
			t.Errorf("Expected ErrResourceUnavailable wrapping cause, got %v", err)
		}
	})
	t.Run("reset release", func(t *testing.T) {
		r := newRig(t, 0)
		r.resets.ReleaseErr = boom
		if _, err := r.ctl.Open(0); !errors.Is(err, i2c.ErrResourceUnavailable) {
			t.Errorf("Expected ErrResourceUnavailable, got %v", err)
		}
	})
	t.Run("already out of reset", func(t *testing.T) {
		r := newRig(t, 0)
		r.resets.Release(8)
		r.resets.ReleaseErr = boom
		if _, err := r.ctl.Open(0); err != nil {
			t.Errorf("Open should skip release, got %v", err)
		}
	})
	t.Run("irq line", func(t *testing.T) {
		r := newRig(t, 0)
		r.irq.MaxLine = rigLine - 1
		_, err := r.ctl.Open(0)
		if !errors.Is(err, i2c.ErrResourceUnavailable) || !errors.Is(err, hal.ErrInvalidLine) {
			t.Errorf("Expected ErrResourceUnavailable wrapping ErrInvalidLine, got %v", err)
		}
		// A failed open leaves the bus closed and openable.
		r.irq.MaxLine = 0
		if _, err := r.ctl.Open(0); err != nil {
			t.Errorf("Open after failure: %v", err)
		}
	})
}

func TestTransferPreconditions(t *testing.T) {
	r := newRig(t, 0)
	b := r.open(t, 0)

	var nilBus *i2c.Bus
	if err := nilBus.WriteSync([]byte{1}); !errors.Is(err, i2c.ErrInvalidArgument) {
		t.Errorf("nil bus: expected ErrInvalidArgument, got %v", err)
	}
	// Argument errors win over the missing address.
	if err := b.ReadSync(nil); !errors.Is(err, i2c.ErrInvalidArgument) {
		t.Errorf("nil buffer: expected ErrInvalidArgument, got %v", err)
	}
	if err := b.WriteAsync([]byte{}); !errors.Is(err, i2c.ErrInvalidArgument) {
		t.Errorf("empty buffer: expected ErrInvalidArgument, got %v", err)
	}
	if err := b.ReadSync(make([]byte, 1)); !errors.Is(err, i2c.ErrAddressNotSet) {
		t.Errorf("no address: expected ErrAddressNotSet, got %v", err)
	}
	if err := b.SetSlaveAddress(eepromAdr); err != nil {
		t.Fatal(err)
	}
	if err := b.ReadAsync(make([]byte, 1)); !errors.Is(err, i2c.ErrInvalidArgument) {
		t.Errorf("async without completer: expected ErrInvalidArgument, got %v", err)
	}
	if len(r.blocks[0].Trace()) != 0 {
		t.Errorf("Rejected requests reached the bus: %v", r.blocks[0].Trace())
	}
}

func TestWriteThenReadEEPROM(t *testing.T) {
	r := newRig(t, 0)
	b := r.open(t, eepromAdr)

	if err := b.WriteSync([]byte{0x10, 0xde, 0xad, 0xbe}); err != nil {
		t.Fatalf("WriteSync failed: %v", err)
	}
	var n int
	if err := b.Ioctl(i2c.GetTxBytes{Out: &n}); err != nil || n != 4 {
		t.Errorf("GetTxBytes = %d, %v; want 4", n, err)
	}

	if err := b.SetNoStop(); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteSync([]byte{0x10}); err != nil {
		t.Fatalf("WriteSync (pointer) failed: %v", err)
	}
	buf := make([]byte, 3)
	if err := b.ReadSync(buf); err != nil {
		t.Fatalf("ReadSync failed: %v", err)
	}
	if diff := cmp.Diff([]byte{0xde, 0xad, 0xbe}, buf); diff != "" {
		t.Errorf("Read mismatch (-want +got):\n%s", diff)
	}
	if err := b.Ioctl(i2c.GetRxBytes{Out: &n}); err != nil || n != 3 {
		t.Errorf("GetRxBytes = %d, %v; want 3", n, err)
	}

	want := seq(
		start(eepromAdr, false), wr(eepromAdr, 0x10, 0xde, 0xad, 0xbe), stop(eepromAdr),
		start(eepromAdr, false), wr(eepromAdr, 0x10),
		restart(eepromAdr, true), rd(eepromAdr, 0xde, 0xad, 0xbe), stop(eepromAdr),
	)
	if diff := cmp.Diff(want, r.blocks[0].Trace()); diff != "" {
		t.Errorf("Bus trace mismatch (-want +got):\n%s", diff)
	}
}

func TestSmallFIFOSplitsTransfer(t *testing.T) {
	core.ClearEvents()
	r := newRig(t, 4)
	b := r.open(t, sensorAdr)

	payload := []byte{0x10, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if err := b.WriteSync(payload); err != nil {
		t.Fatalf("WriteSync failed: %v", err)
	}
	if countEvents(core.EvtTxRefill) == 0 {
		t.Error("Write fit in the FIFO without a refill")
	}
	core.ClearEvents()
	for i := byte(0); i < 10; i++ {
		if got := r.sensor.Reg(0x10 + i); got != i+1 {
			t.Errorf("Register %#x = %d, want %d", 0x10+i, got, i+1)
		}
	}

	if err := b.SetNoStop(); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteSync([]byte{0x10}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 10)
	if err := b.ReadSync(buf); err != nil {
		t.Fatalf("ReadSync failed: %v", err)
	}
	if diff := cmp.Diff(payload[1:], buf); diff != "" {
		t.Errorf("Read mismatch (-want +got):\n%s", diff)
	}

	want := seq(
		start(sensorAdr, false), wr(sensorAdr, payload...), stop(sensorAdr),
		start(sensorAdr, false), wr(sensorAdr, 0x10),
		restart(sensorAdr, true), rd(sensorAdr, payload[1:]...), stop(sensorAdr),
	)
	if diff := cmp.Diff(want, r.blocks[0].Trace()); diff != "" {
		t.Errorf("Bus trace mismatch (-want +got):\n%s", diff)
	}

	if countEvents(core.EvtReadCmds) == 0 {
		t.Error("Read commands were never queued from the handler")
	}
}

func countEvents(kind core.EventKind) int {
	n := 0
	for _, e := range core.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestAddressNack(t *testing.T) {
	r := newRig(t, 0)
	b := r.open(t, 0x33)

	err := b.WriteSync([]byte{1, 2, 3})
	var ae *i2c.AbortError
	if !errors.As(err, &ae) || !errors.Is(err, i2c.ErrIO) {
		t.Fatalf("Expected *AbortError matching ErrIO, got %v", err)
	}
	if ae.Source&i2c.AbrtAddrNoack == 0 || !ae.Nack() {
		t.Errorf("Abort source %#x lacks address NACK", ae.Source)
	}

	st, _ := b.State()
	if !st.Aborted || st.Busy || st.AbortSource&i2c.AbrtAddrNoack == 0 {
		t.Errorf("State after abort %+v", st)
	}
	if mask := r.regs.Read32(rigBase + i2c.RegIntrMask); mask != 0 {
		t.Errorf("IC_INTR_MASK after abort = %#x, want 0", mask)
	}
	var n int
	if err := b.Ioctl(i2c.GetTxBytes{Out: &n}); err != nil || n != 0 {
		t.Errorf("GetTxBytes = %d, %v; want 0", n, err)
	}

	// The next transfer starts clean.
	if err := b.SetSlaveAddress(eepromAdr); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteSync([]byte{0, 1}); err != nil {
		t.Fatalf("Write after abort failed: %v", err)
	}
	if st, _ := b.State(); st.Aborted {
		t.Error("Aborted flag survived a new transfer")
	}
}

func TestReadAddressNack(t *testing.T) {
	r := newRig(t, 0)
	b := r.open(t, 0x33)

	buf := []byte{0xaa, 0xaa, 0xaa, 0xaa}
	err := b.ReadSync(buf)
	var ae *i2c.AbortError
	if !errors.As(err, &ae) || ae.Source&i2c.AbrtAddrNoack == 0 {
		t.Fatalf("Expected address NACK abort, got %v", err)
	}
	if mask := r.regs.Read32(rigBase + i2c.RegIntrMask); mask != 0 {
		t.Errorf("IC_INTR_MASK after read abort = %#x, want 0", mask)
	}
	var n int
	if err := b.Ioctl(i2c.GetRxBytes{Out: &n}); err != nil || n != 0 {
		t.Errorf("GetRxBytes = %d, %v; want 0", n, err)
	}
	if diff := cmp.Diff([]byte{0xaa, 0xaa, 0xaa, 0xaa}, buf); diff != "" {
		t.Errorf("Aborted read touched the buffer (-want +got):\n%s", diff)
	}

	done := make(chan i2c.Status, 4)
	b.SetCallback(i2c.CompleterFunc(func(s i2c.Status) { done <- s }))
	if err := b.SetSlaveAddress(eepromAdr); err != nil {
		t.Fatal(err)
	}
	r.blocks[0].FailNext(eepromAdr, -1)
	if err := b.ReadAsync(make([]byte, 2)); err != nil {
		t.Fatalf("ReadAsync failed: %v", err)
	}
	if s := recvStatus(t, done); s != i2c.StatusNack {
		t.Errorf("Status %v, want nack", s)
	}
	select {
	case s := <-done:
		t.Errorf("Extra completion %v", s)
	case <-time.After(20 * time.Millisecond):
	}
	if mask := r.regs.Read32(rigBase + i2c.RegIntrMask); mask != 0 {
		t.Errorf("IC_INTR_MASK after async read abort = %#x, want 0", mask)
	}
	if st, _ := b.State(); !st.Aborted || st.Busy {
		t.Errorf("State after async read abort %+v", st)
	}
}

func TestDataNackCountsDelivered(t *testing.T) {
	r := newRig(t, 0)
	b := r.open(t, eepromAdr)
	r.blocks[0].FailNext(eepromAdr, 2)

	// Queue the whole request before the bus moves so the flush count is exact.
	r.blocks[0].Hold(true)
	var g errgroup.Group
	var err error
	g.Go(func() error {
		err = b.WriteSync([]byte{0x00, 0x11, 0x22, 0x33})
		return nil
	})
	waitBusy(t, b, true)
	r.blocks[0].Hold(false)
	g.Wait()

	var ae *i2c.AbortError
	if !errors.As(err, &ae) || ae.Source&i2c.AbrtTxDataNoack == 0 {
		t.Fatalf("Expected data NACK abort, got %v", err)
	}
	var n int
	if err := b.Ioctl(i2c.GetTxBytes{Out: &n}); err != nil || n != 2 {
		t.Errorf("GetTxBytes = %d, %v; want 2", n, err)
	}
}

func TestAsyncCompletion(t *testing.T) {
	r := newRig(t, 0)
	b := r.open(t, eepromAdr)

	done := make(chan i2c.Status, 4)
	if err := b.SetCallback(i2c.CompleterFunc(func(s i2c.Status) { done <- s })); err != nil {
		t.Fatal(err)
	}

	if err := b.WriteAsync([]byte{0x20, 0x5a}); err != nil {
		t.Fatalf("WriteAsync failed: %v", err)
	}
	if s := recvStatus(t, done); s != i2c.StatusSuccess {
		t.Errorf("Write status %v, want success", s)
	}
	if st, _ := b.State(); st.Busy {
		t.Error("Bus still busy after async completion")
	}

	if err := b.SetNoStop(); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteAsync([]byte{0x20}); err != nil {
		t.Fatal(err)
	}
	recvStatus(t, done)
	buf := make([]byte, 1)
	if err := b.ReadAsync(buf); err != nil {
		t.Fatalf("ReadAsync failed: %v", err)
	}
	if s := recvStatus(t, done); s != i2c.StatusSuccess || buf[0] != 0x5a {
		t.Errorf("Read status %v value %#x, want success 0x5a", s, buf[0])
	}

	// NACK is reported through the callback, and only once.
	r.blocks[0].FailNext(eepromAdr, -1)
	if err := b.WriteAsync([]byte{0x00}); err != nil {
		t.Fatal(err)
	}
	if s := recvStatus(t, done); s != i2c.StatusNack {
		t.Errorf("Status %v, want nack", s)
	}
	if st, _ := b.State(); !st.Aborted || st.Busy {
		t.Errorf("State after async abort %+v", st)
	}
	if mask := r.regs.Read32(rigBase + i2c.RegIntrMask); mask != 0 {
		t.Errorf("IC_INTR_MASK after async abort = %#x, want 0", mask)
	}
	select {
	case s := <-done:
		t.Errorf("Extra completion %v", s)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestConcurrentClaims(t *testing.T) {
	r := newRig(t, 0)
	b := r.open(t, eepromAdr)
	done := make(chan i2c.Status, 1)
	b.SetCallback(i2c.CompleterFunc(func(s i2c.Status) { done <- s }))

	r.blocks[0].Hold(true)
	var started, busy, winner atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		i := i
		g.Go(func() error {
			err := b.WriteAsync([]byte{0x00, byte(0x10 + i)})
			switch {
			case err == nil:
				started.Add(1)
				winner.Store(int32(0x10 + i))
			case errors.Is(err, i2c.ErrBusy):
				busy.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Unexpected claim error: %v", err)
	}
	if started.Load() != 1 || busy.Load() != 7 {
		t.Errorf("started=%d busy=%d, want 1 and 7", started.Load(), busy.Load())
	}

	// Configuration is refused while the transfer is in flight.
	if err := b.SetSlaveAddress(0x51); !errors.Is(err, i2c.ErrBusy) {
		t.Errorf("SetSlaveAddress while busy: expected ErrBusy, got %v", err)
	}
	var n int
	if err := b.Ioctl(i2c.GetTxBytes{Out: &n}); !errors.Is(err, i2c.ErrBusy) {
		t.Errorf("GetTxBytes while busy: expected ErrBusy, got %v", err)
	}

	r.blocks[0].Hold(false)
	if s := recvStatus(t, done); s != i2c.StatusSuccess {
		t.Errorf("Status %v, want success", s)
	}

	// Only the winner's bytes reached the bus.
	w := byte(winner.Load())
	want := seq(start(eepromAdr, false), wr(eepromAdr, 0x00, w), stop(eepromAdr))
	if diff := cmp.Diff(want, r.blocks[0].Trace()); diff != "" {
		t.Errorf("Bus trace mismatch (-want +got):\n%s", diff)
	}
	if mem := r.eeprom.Bytes(); mem[0] != w || mem[1] != 0xff {
		t.Errorf("EEPROM holds %#x %#x, want %#x 0xff", mem[0], mem[1], w)
	}
	n = 0
	if err := b.Ioctl(i2c.GetTxBytes{Out: &n}); err != nil || n != 2 {
		t.Errorf("GetTxBytes = %d, %v; want 2", n, err)
	}
}

func TestCancelFromCompleter(t *testing.T) {
	r := newRig(t, 0)
	b := r.open(t, eepromAdr)

	res := make(chan error, 1)
	b.SetCallback(i2c.CompleterFunc(func(i2c.Status) { res <- b.Cancel() }))
	if err := b.WriteAsync([]byte{0x00, 0x01}); err != nil {
		t.Fatalf("WriteAsync failed: %v", err)
	}
	select {
	case err := <-res:
		if !errors.Is(err, i2c.ErrPermissionDenied) {
			t.Errorf("Cancel from completer: expected ErrPermissionDenied, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Cancel from completer did not return")
	}

	b.SetCallback(nil)
	if err := b.WriteSync([]byte{0x00, 0x02}); err != nil {
		t.Errorf("Write after completer cancel failed: %v", err)
	}
	if !r.irq.Enabled(rigLine) {
		t.Error("Interrupt line left disabled")
	}
}

func TestWedgedBlockRefusesConfig(t *testing.T) {
	r := newRig(t, 0)
	b := r.open(t, 0)
	r.blocks[0].Wedge(true)

	if err := b.SetSlaveAddress(eepromAdr); !errors.Is(err, i2c.ErrResourceUnavailable) {
		t.Errorf("SetSlaveAddress on wedged block: expected ErrResourceUnavailable, got %v", err)
	}
	if tar := r.regs.Read32(rigBase + i2c.RegTar); tar != 0 {
		t.Errorf("IC_TAR = %#x, want untouched", tar)
	}
	if err := b.WriteSync([]byte{0x00}); !errors.Is(err, i2c.ErrAddressNotSet) {
		t.Errorf("Failed address must stay unset, got %v", err)
	}
	if err := b.SetMasterConfig(400 * physic.KiloHertz); !errors.Is(err, i2c.ErrResourceUnavailable) {
		t.Errorf("SetMasterConfig on wedged block: expected ErrResourceUnavailable, got %v", err)
	}
	var mc i2c.MasterConfig
	b.Ioctl(i2c.GetMasterConfig{Out: &mc})
	if mc.Mode != i2c.SpeedStandard || mc.Rate != 100*physic.KiloHertz {
		t.Errorf("Refused speed change left config %+v", mc)
	}

	r.blocks[0].Wedge(false)
	if err := b.SetSlaveAddress(eepromAdr); err != nil {
		t.Fatalf("SetSlaveAddress after unwedge failed: %v", err)
	}
	if err := b.WriteSync([]byte{0x00, 0x03}); err != nil {
		t.Errorf("Write after unwedge failed: %v", err)
	}

	// Open fails on a block that is running and will not stop.
	base1 := uintptr(rigBase + dwsim.Window)
	r.regs.Write32(base1+i2c.RegEnable, i2c.EnableEnable)
	r.blocks[1].Wedge(true)
	if _, err := r.ctl.Open(1); !errors.Is(err, i2c.ErrResourceUnavailable) {
		t.Errorf("Open on wedged block: expected ErrResourceUnavailable, got %v", err)
	}
	if _, ok := r.ctl.Lookup(1); ok {
		t.Error("Bus 1 reported open after failed init")
	}
	r.blocks[1].Wedge(false)
}

func TestCancelSync(t *testing.T) {
	r := newRig(t, 0)
	b := r.open(t, eepromAdr)

	if err := b.Cancel(); !errors.Is(err, i2c.ErrPermissionDenied) {
		t.Errorf("Cancel on idle bus: expected ErrPermissionDenied, got %v", err)
	}

	r.blocks[0].Hold(true)
	var g errgroup.Group
	var readErr error
	g.Go(func() error {
		readErr = b.ReadSync(make([]byte, 8))
		return nil
	})
	waitBusy(t, b, true)

	if err := b.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if st, _ := b.State(); st.Busy || st.Aborted {
		t.Errorf("State after cancel %+v", st)
	}
	g.Wait()
	if !errors.Is(readErr, i2c.ErrCanceled) || !errors.Is(readErr, i2c.ErrIO) {
		t.Errorf("ReadSync returned %v, want ErrCanceled", readErr)
	}
	if r.blocks[0].TxLevel() != 0 {
		t.Error("Cancel left read commands queued")
	}
	if !r.irq.Enabled(rigLine) {
		t.Error("Cancel left the interrupt line disabled")
	}

	r.blocks[0].Hold(false)
	if err := b.WriteSync([]byte{0x00, 0x01}); err != nil {
		t.Errorf("Write after cancel failed: %v", err)
	}
}

func TestCancelAsyncCompletesOnce(t *testing.T) {
	r := newRig(t, 0)
	b := r.open(t, eepromAdr)

	var calls atomic.Int32
	var last atomic.Uint32
	b.SetCallback(i2c.CompleterFunc(func(s i2c.Status) {
		calls.Add(1)
		last.Store(uint32(s))
	}))

	r.blocks[0].Hold(true)
	if err := b.WriteAsync([]byte{0x00, 1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := b.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	r.blocks[0].Hold(false)
	time.Sleep(20 * time.Millisecond)

	if calls.Load() != 1 || i2c.Status(last.Load()) != i2c.StatusOperationFailed {
		t.Errorf("Completer ran %d times, last %v; want once with operation failed",
			calls.Load(), i2c.Status(last.Load()))
	}
	if err := b.Cancel(); !errors.Is(err, i2c.ErrPermissionDenied) {
		t.Errorf("Second Cancel: expected ErrPermissionDenied, got %v", err)
	}
}

func TestIoctl(t *testing.T) {
	r := newRig(t, 0)
	b := r.open(t, 0)

	if err := b.Ioctl(nil); !errors.Is(err, i2c.ErrInvalidArgument) {
		t.Errorf("nil command: expected ErrInvalidArgument, got %v", err)
	}
	if err := b.SetSlaveAddress(0x80); !errors.Is(err, i2c.ErrInvalidArgument) {
		t.Errorf("10-bit address: expected ErrInvalidArgument, got %v", err)
	}
	for _, cmd := range []i2c.Command{
		i2c.GetMasterConfig{}, i2c.GetBusState{}, i2c.GetTxBytes{}, i2c.GetRxBytes{},
	} {
		if err := b.Ioctl(cmd); !errors.Is(err, i2c.ErrInvalidArgument) {
			t.Errorf("%T with nil Out: expected ErrInvalidArgument, got %v", cmd, err)
		}
	}

	tests := []struct {
		rate physic.Frequency
		mode i2c.SpeedMode
		hcnt uintptr
	}{
		{100 * physic.KiloHertz, i2c.SpeedStandard, i2c.RegSSSclHcnt},
		{400 * physic.KiloHertz, i2c.SpeedFast, i2c.RegFSSclHcnt},
		{physic.MegaHertz, i2c.SpeedFast, i2c.RegFSSclHcnt},
		{3400 * physic.KiloHertz, i2c.SpeedHigh, i2c.RegHSSclHcnt},
	}
	for _, tt := range tests {
		if err := b.SetMasterConfig(tt.rate); err != nil {
			t.Errorf("SetMasterConfig(%v) failed: %v", tt.rate, err)
			continue
		}
		var mc i2c.MasterConfig
		if err := b.Ioctl(i2c.GetMasterConfig{Out: &mc}); err != nil {
			t.Fatal(err)
		}
		if mc.Mode != tt.mode || mc.Rate != tt.rate {
			t.Errorf("After %v: config %+v, want mode %v", tt.rate, mc, tt.mode)
		}
		if r.regs.Read32(rigBase+tt.hcnt) == 0 {
			t.Errorf("After %v: SCL HCNT not programmed", tt.rate)
		}
	}

	for _, rate := range []physic.Frequency{0, 5 * physic.MegaHertz} {
		if err := b.SetMasterConfig(rate); !errors.Is(err, i2c.ErrInvalidArgument) {
			t.Errorf("SetMasterConfig(%v): expected ErrInvalidArgument, got %v", rate, err)
		}
	}
	var mc i2c.MasterConfig
	b.Ioctl(i2c.GetMasterConfig{Out: &mc})
	if mc.Mode != i2c.SpeedHigh {
		t.Errorf("Rejected rate changed the speed class to %v", mc.Mode)
	}

	if err := b.SetSlaveAddress(eepromAdr); err != nil {
		t.Fatal(err)
	}
	if tar := r.regs.Read32(rigBase + i2c.RegTar); tar != eepromAdr {
		t.Errorf("IC_TAR = %#x, want %#x", tar, eepromAdr)
	}
}

func TestNoStopIsOneShot(t *testing.T) {
	r := newRig(t, 0)
	b := r.open(t, sensorAdr)

	if err := b.SetNoStop(); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteSync([]byte{0x00}); err != nil {
		t.Fatal(err)
	}
	if err := b.ReadSync(make([]byte, 1)); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteSync([]byte{0x20, 0x07}); err != nil {
		t.Fatal(err)
	}

	want := seq(
		start(sensorAdr, false), wr(sensorAdr, 0x00),
		restart(sensorAdr, true), rd(sensorAdr, 0xe5), stop(sensorAdr),
		start(sensorAdr, false), wr(sensorAdr, 0x20, 0x07), stop(sensorAdr),
	)
	if diff := cmp.Diff(want, r.blocks[0].Trace()); diff != "" {
		t.Errorf("Bus trace mismatch (-want +got):\n%s", diff)
	}
}

func TestTeardown(t *testing.T) {
	r := newRig(t, 0)
	b0 := r.open(t, eepromAdr)
	if _, err := r.ctl.Open(1); err != nil {
		t.Fatal(err)
	}

	r.blocks[0].Hold(true)
	b0.SetCallback(i2c.CompleterFunc(func(i2c.Status) {}))
	if err := b0.WriteAsync([]byte{0x00, 0x01}); err != nil {
		t.Fatal(err)
	}

	if err := r.ctl.Teardown(); err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}
	for id := 0; id < 2; id++ {
		if _, ok := r.ctl.Lookup(id); ok {
			t.Errorf("Bus %d still open", id)
		}
		if r.irq.Enabled(hal.IRQ(rigLine + id)) {
			t.Errorf("Line of bus %d still enabled", id)
		}
	}
}
