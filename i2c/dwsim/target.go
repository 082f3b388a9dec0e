package dwsim

import (
	"fmt"
	"sync"
)

// Target is a device on the simulated bus. The block calls it with its
// own lock held, one bus event at a time.
type Target interface {
	// Start is called when the target is addressed. Returning false NACKs
	// the address.
	Start(read bool) bool
	// Receive takes one byte written by the master. Returning false NACKs it.
	Receive(c byte) bool
	// Transmit returns the next byte the master reads.
	Transmit() byte
	// Stop ends the transaction.
	Stop()
}

// Op is a bus event kind.
type Op uint8

const (
	OpStart Op = iota + 1
	OpRestart
	OpWrite
	OpRead
	OpNack
	OpStop
)

func (o Op) String() string {
	switch o {
	case OpStart:
		return "S"
	case OpRestart:
		return "Sr"
	case OpWrite:
		return "W"
	case OpRead:
		return "R"
	case OpNack:
		return "NACK"
	case OpStop:
		return "P"
	default:
		return "?"
	}
}

// Event is one entry of the bus trace. Read is only meaningful on start
// and restart events.
type Event struct {
	Op   Op
	Addr uint16
	Read bool
	Data byte
}

func (e Event) String() string {
	switch e.Op {
	case OpStart, OpRestart:
		dir := "w"
		if e.Read {
			dir = "r"
		}
		return fmt.Sprintf("%v %#02x%s", e.Op, e.Addr, dir)
	case OpWrite, OpRead:
		return fmt.Sprintf("%v %#02x", e.Op, e.Data)
	default:
		return e.Op.String()
	}
}

// EEPROM24Config sizes a 24xx serial EEPROM.
type EEPROM24Config struct {
	Size     int
	PageSize int
}

// Conf24C02 is a 2 Kbit part with 8-byte pages.
var Conf24C02 = EEPROM24Config{Size: 256, PageSize: 8}

// EEPROM24 behaves like a small 24xx EEPROM: the first byte written after
// a start sets the word address, further bytes program memory and wrap
// inside the current page, reads continue from the word address and wrap
// at the end of the array.
type EEPROM24 struct {
	EEPROM24Config

	mu       sync.Mutex
	mem      []byte
	ptr      int
	wantAddr bool
}

// NewEEPROM24 returns a part with every cell erased to 0xff.
func NewEEPROM24(conf EEPROM24Config) *EEPROM24 {
	if conf.Size <= 0 || conf.Size > 256 {
		conf.Size = Conf24C02.Size
	}
	if conf.PageSize <= 0 || conf.PageSize&(conf.PageSize-1) != 0 {
		conf.PageSize = Conf24C02.PageSize
	}
	e := &EEPROM24{EEPROM24Config: conf, mem: make([]byte, conf.Size)}
	for i := range e.mem {
		e.mem[i] = 0xff
	}
	return e
}

func (e *EEPROM24) Start(read bool) bool {
	e.mu.Lock()
	e.wantAddr = !read
	e.mu.Unlock()
	return true
}

func (e *EEPROM24) Receive(c byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wantAddr {
		e.ptr = int(c) % e.Size
		e.wantAddr = false
		return true
	}
	page := e.ptr &^ (e.PageSize - 1)
	e.mem[e.ptr] = c
	e.ptr = page | (e.ptr+1)&(e.PageSize-1)
	return true
}

func (e *EEPROM24) Transmit() byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.mem[e.ptr]
	e.ptr = (e.ptr + 1) % e.Size
	return c
}

func (e *EEPROM24) Stop() {
	e.mu.Lock()
	e.wantAddr = false
	e.mu.Unlock()
}

// Bytes returns a copy of the memory array.
func (e *EEPROM24) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.mem...)
}

// RegFile is a register-mapped device such as a sensor: the first byte
// written selects a register, and the pointer auto-increments on every
// access. Registers listed in ReadOnly ignore writes.
type RegFile struct {
	mu       sync.Mutex
	regs     [256]byte
	ptr      byte
	wantAddr bool
	readOnly map[byte]bool
}

// NewRegFile returns a device with the given initial register values.
func NewRegFile(init map[byte]byte, readOnly ...byte) *RegFile {
	r := &RegFile{readOnly: make(map[byte]bool)}
	for reg, v := range init {
		r.regs[reg] = v
	}
	for _, reg := range readOnly {
		r.readOnly[reg] = true
	}
	return r
}

func (r *RegFile) Start(read bool) bool {
	r.mu.Lock()
	r.wantAddr = !read
	r.mu.Unlock()
	return true
}

func (r *RegFile) Receive(c byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wantAddr {
		r.ptr = c
		r.wantAddr = false
		return true
	}
	if !r.readOnly[r.ptr] {
		r.regs[r.ptr] = c
	}
	r.ptr++
	return true
}

func (r *RegFile) Transmit() byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.regs[r.ptr]
	r.ptr++
	return c
}

func (r *RegFile) Stop() {}

// Reg returns the current value of register n.
func (r *RegFile) Reg(n byte) byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.regs[n]
}

// SetReg changes register n behind the master's back, as a sensor updating
// a measurement would.
func (r *RegFile) SetReg(n, v byte) {
	r.mu.Lock()
	r.regs[n] = v
	r.mu.Unlock()
}
