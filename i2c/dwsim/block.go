// Package dwsim simulates the DesignWare I2C master closely enough to run the
// i2c package on a host: register file, FIFOs, abort handling and a
// level-triggered interrupt raised on a hal.SoftInterruptController.
//
// The bus itself is modeled one FIFO entry at a time on a background
// goroutine, against Targets attached by address.
package dwsim

import (
	"fmt"
	"runtime"
	"sync"

	"hpsbsp/hal"
	"hpsbsp/i2c"
)

// Window is the size of the register window of one block.
const Window = 0x100

// stormLimit bounds back-to-back deliveries that change nothing. A handler
// that leaves a level asserted would otherwise spin the simulator.
const stormLimit = 1000

// Config describes one simulated block.
type Config struct {
	Base  uintptr
	Depth int // FIFO depth, default i2c.DefaultFIFODepth
	IRQ   *hal.SoftInterruptController
	Line  hal.IRQ
}

// Block is one simulated controller. It implements hal.Registers for
// addresses inside its window.
type Block struct {
	base  uintptr
	depth int
	irq   *hal.SoftInterruptController
	line  hal.IRQ

	mu      sync.Mutex
	regs    map[uintptr]uint32 // plain read/write registers
	con     uint32
	tar     uint32
	mask    uint32
	enable  uint32
	rxTl    uint32
	txTl    uint32
	latched uint32 // software-clearable interrupt bits
	abrtSrc uint32
	tx      []uint32
	rx      []byte

	targets map[uint16]Target
	fail    map[uint16]int
	held    bool
	wedged  bool

	// Transaction on the wire.
	active  bool
	cur     Target
	curAddr uint16
	curRead bool
	curData int

	trace []Event

	kick chan struct{}
	quit chan struct{}
	done chan struct{}
}

// New creates a block in its reset state and starts its bus goroutine.
func New(cfg Config) *Block {
	if cfg.Depth <= 0 {
		cfg.Depth = i2c.DefaultFIFODepth
	}
	b := &Block{
		base:    cfg.Base,
		depth:   cfg.Depth,
		irq:     cfg.IRQ,
		line:    cfg.Line,
		regs:    make(map[uintptr]uint32),
		targets: make(map[uint16]Target),
		fail:    make(map[uint16]int),
		kick:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	b.con = i2c.ConMasterMode | uint32(i2c.SpeedFast)<<i2c.ConSpeedPos | i2c.ConRestartEn | i2c.ConSlaveDisable
	go b.run()
	return b
}

// Close stops the bus goroutine.
func (b *Block) Close() {
	select {
	case <-b.quit:
	default:
		close(b.quit)
	}
	<-b.done
}

func (b *Block) Base() uintptr { return b.base }

// Contains reports whether addr falls in the register window.
func (b *Block) Contains(addr uintptr) bool {
	return addr >= b.base && addr < b.base+Window
}

// Attach connects t at the 7-bit address addr.
func (b *Block) Attach(addr uint16, t Target) {
	b.mu.Lock()
	b.targets[addr&0x7f] = t
	b.mu.Unlock()
}

func (b *Block) Detach(addr uint16) {
	b.mu.Lock()
	delete(b.targets, addr&0x7f)
	b.mu.Unlock()
}

// FailNext makes the next transaction addressed to addr fail once: with
// data < 0 the address is refused, otherwise the data byte with that index
// written in the transaction.
func (b *Block) FailNext(addr uint16, data int) {
	b.mu.Lock()
	b.fail[addr&0x7f] = data
	b.mu.Unlock()
}

// Hold stalls the bus, as a target stretching SCL would. Queued entries
// stay in the TX FIFO until Hold(false).
func (b *Block) Hold(on bool) {
	b.mu.Lock()
	b.held = on
	b.mu.Unlock()
	b.poke()
}

// Wedge makes the block refuse to disable, as one whose bus is stuck low
// does: IC_ENABLE_STATUS stays set and IC_CON/IC_TAR stay read-only.
func (b *Block) Wedge(on bool) {
	b.mu.Lock()
	b.wedged = on
	b.mu.Unlock()
}

// Trace returns the bus events seen so far.
func (b *Block) Trace() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.trace...)
}

func (b *Block) ResetTrace() {
	b.mu.Lock()
	b.trace = nil
	b.mu.Unlock()
}

// TxLevel returns the number of entries waiting in the TX FIFO.
func (b *Block) TxLevel() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tx)
}

func (b *Block) poke() {
	select {
	case b.kick <- struct{}{}:
	default:
	}
}

func (b *Block) enabled() bool { return b.enable&i2c.EnableEnable != 0 }

// raw is IC_RAW_INTR_STAT: latched bits plus the FIFO level interrupts.
func (b *Block) raw() uint32 {
	r := b.latched
	if b.enabled() && uint32(len(b.tx)) <= b.txTl {
		r |= i2c.IntrTxEmpty
	}
	if len(b.rx) > int(b.rxTl) {
		r |= i2c.IntrRxFull
	}
	if b.active {
		r |= i2c.IntrActivity
	}
	return r
}

func (b *Block) Read32(addr uintptr) uint32 {
	off := addr - b.base
	b.mu.Lock()
	defer b.mu.Unlock()

	switch off {
	case i2c.RegCon:
		return b.con
	case i2c.RegTar:
		return b.tar
	case i2c.RegDataCmd:
		if len(b.rx) == 0 {
			b.latched |= i2c.IntrRxUnder
			return 0
		}
		c := b.rx[0]
		b.rx = b.rx[1:]
		b.poke()
		return uint32(c)
	case i2c.RegIntrStat:
		return b.raw() & b.mask
	case i2c.RegIntrMask:
		return b.mask
	case i2c.RegRawIntrStat:
		return b.raw()
	case i2c.RegRxTl:
		return b.rxTl
	case i2c.RegTxTl:
		return b.txTl
	case i2c.RegClrIntr:
		b.latched = 0
		b.abrtSrc = 0
		b.poke()
		return 0
	case i2c.RegClrTxAbrt:
		b.latched &^= i2c.IntrTxAbrt
		b.abrtSrc = 0
		b.poke()
		return 0
	case i2c.RegEnable:
		return b.enable
	case i2c.RegStatus:
		return b.status()
	case i2c.RegTxflr:
		return uint32(len(b.tx))
	case i2c.RegRxflr:
		return uint32(len(b.rx))
	case i2c.RegTxAbrtSource:
		return b.abrtSrc
	case i2c.RegEnableStatus:
		return b.enable & i2c.EnableEnable
	case i2c.RegCompParam1:
		d := uint32(b.depth-1) & i2c.ParamDepthMsk
		return d<<i2c.ParamTxDepthPos | d<<i2c.ParamRxDepthPos
	case i2c.RegCompType:
		return i2c.CompType
	default:
		return b.regs[off]
	}
}

func (b *Block) status() uint32 {
	var s uint32
	if b.active || len(b.tx) > 0 {
		s |= i2c.StatusActivity | i2c.StatusMstActivity
	}
	if len(b.tx) < b.depth {
		s |= i2c.StatusTfnf
	}
	if len(b.tx) == 0 {
		s |= i2c.StatusTfe
	}
	if len(b.rx) > 0 {
		s |= i2c.StatusRfne
	}
	if len(b.rx) >= b.depth {
		s |= i2c.StatusRff
	}
	return s
}

func (b *Block) Write32(addr uintptr, v uint32) {
	off := addr - b.base
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.poke()

	switch off {
	case i2c.RegCon:
		if !b.enabled() {
			b.con = v
		}
	case i2c.RegTar:
		if !b.enabled() {
			b.tar = v
		}
	case i2c.RegDataCmd:
		switch {
		case !b.enabled():
		case b.latched&i2c.IntrTxAbrt != 0:
			// FIFO stays flushed until the abort is cleared.
		case len(b.tx) >= b.depth:
			b.latched |= i2c.IntrTxOver
		default:
			b.tx = append(b.tx, v)
		}
	case i2c.RegIntrMask:
		b.mask = v
	case i2c.RegRxTl:
		b.rxTl = v
	case i2c.RegTxTl:
		b.txTl = v
	case i2c.RegEnable:
		if v&i2c.EnableAbort != 0 && b.enabled() {
			b.abortLocked(i2c.AbrtUserAbrt)
		}
		v &^= i2c.EnableAbort
		if v&i2c.EnableEnable == 0 && b.enabled() && b.wedged {
			break
		}
		if v&i2c.EnableEnable == 0 && b.enabled() {
			b.tx = nil
			b.rx = nil
			b.endLocked()
		}
		b.enable = v
	default:
		b.regs[off] = v
	}
}

func (b *Block) run() {
	defer close(b.done)
	for {
		select {
		case <-b.quit:
			return
		case <-b.kick:
		}
		b.settle()
	}
}

// settle moves the bus forward and delivers the interrupt until nothing is
// left to do or the line is masked.
func (b *Block) settle() {
	idle := 0
	for {
		select {
		case <-b.quit:
			return
		default:
		}

		b.mu.Lock()
		stepped := b.stepLocked()
		pending := b.raw()&b.mask != 0
		b.mu.Unlock()

		switch {
		case pending && b.irq != nil:
			if !b.irq.Raise(b.line) && !stepped {
				return
			}
		case !stepped:
			return
		}

		if stepped {
			idle = 0
			continue
		}
		if idle++; idle > stormLimit {
			return
		}
		runtime.Gosched()
	}
}

// stepLocked puts one TX FIFO entry on the wire.
func (b *Block) stepLocked() bool {
	if b.held || !b.enabled() || len(b.tx) == 0 {
		return false
	}
	entry := b.tx[0]
	b.tx = b.tx[1:]
	read := entry&i2c.DataCmdRead != 0

	if !b.active || read != b.curRead || entry&i2c.DataCmdRestart != 0 {
		if !b.startLocked(read) {
			return true
		}
	}

	if read {
		var c byte
		if b.cur != nil {
			c = b.cur.Transmit()
		}
		if len(b.rx) >= b.depth {
			b.latched |= i2c.IntrRxOver
		} else {
			b.rx = append(b.rx, c)
		}
		b.record(OpRead, c)
	} else {
		c := byte(entry & i2c.DataCmdDatMsk)
		var ack bool
		if n, ok := b.fail[b.curAddr]; ok && n == b.curData {
			delete(b.fail, b.curAddr)
		} else {
			ack = b.cur.Receive(c)
		}
		b.curData++
		if !ack {
			b.record(OpNack, c)
			b.abortLocked(i2c.AbrtTxDataNoack)
			return true
		}
		b.record(OpWrite, c)
	}

	if entry&i2c.DataCmdStop != 0 {
		b.endLocked()
	}
	return true
}

// startLocked issues START or RESTART and the address byte.
func (b *Block) startLocked(read bool) bool {
	op := OpStart
	if b.active {
		op = OpRestart
	}
	b.active = true
	b.curAddr = uint16(b.tar & 0x7f)
	b.curRead = read
	b.curData = 0
	b.cur = b.targets[b.curAddr]
	b.trace = append(b.trace, Event{Op: op, Addr: b.curAddr, Read: read})

	var ack bool
	if n, ok := b.fail[b.curAddr]; ok && n < 0 {
		delete(b.fail, b.curAddr)
	} else {
		ack = b.cur != nil && b.cur.Start(read)
	}
	if !ack {
		b.record(OpNack, 0)
		b.abortLocked(i2c.AbrtAddrNoack)
		return false
	}
	return true
}

// endLocked puts STOP on the wire if a transaction is open.
func (b *Block) endLocked() {
	if !b.active {
		return
	}
	if b.cur != nil {
		b.cur.Stop()
	}
	b.record(OpStop, 0)
	b.active = false
	b.cur = nil
	b.latched |= i2c.IntrStopDet
}

// abortLocked flushes the TX FIFO, latches TX_ABRT and releases the bus.
func (b *Block) abortLocked(reason uint32) {
	flushed := uint32(len(b.tx)) & i2c.AbrtFlushCntMsk
	b.tx = nil
	b.abrtSrc = reason | flushed<<i2c.AbrtFlushCntPos
	b.latched |= i2c.IntrTxAbrt
	b.endLocked()
}

func (b *Block) record(op Op, c byte) {
	b.trace = append(b.trace, Event{Op: op, Addr: b.curAddr, Data: c})
}

func (b *Block) String() string {
	return fmt.Sprintf("dwsim@%#x", b.base)
}
