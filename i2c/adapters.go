package i2c

import (
	"fmt"
	"sync"

	pi2c "periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"
)

var (
	_ drivers.I2C     = (*Bus)(nil)
	_ pi2c.BusCloser = (*PeriphBus)(nil)
)

// Tx addresses addr, writes w and then reads into r with a repeated start
// in between. Either slice may be empty. Concurrent Tx calls on one bus are
// serialized; they still fail with ErrBusy against a transfer started
// through the lower-level calls.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	if b == nil || len(w)+len(r) == 0 {
		return ErrInvalidArgument
	}
	b.txMu.Lock()
	defer b.txMu.Unlock()

	if err := b.SetSlaveAddress(addr); err != nil {
		return err
	}
	if len(w) > 0 {
		if len(r) > 0 {
			if err := b.SetNoStop(); err != nil {
				return err
			}
		}
		if err := b.WriteSync(w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		return b.ReadSync(r)
	}
	return nil
}

// ReadRegister reads len(buf) bytes starting at register reg.
func (b *Bus) ReadRegister(addr uint8, reg uint8, buf []byte) error {
	return b.Tx(uint16(addr), []byte{reg}, buf)
}

// WriteRegister writes buf starting at register reg.
func (b *Bus) WriteRegister(addr uint8, reg uint8, buf []byte) error {
	w := make([]byte, 0, len(buf)+1)
	w = append(w, reg)
	w = append(w, buf...)
	return b.Tx(uint16(addr), w, nil)
}

func (b *Bus) String() string {
	return fmt.Sprintf("I2C%d", b.id)
}

// PeriphBus exposes a Bus as a periph.io bus. Closing it closes the Bus.
type PeriphBus struct {
	b *Bus
}

// Periph returns the periph.io view of b.
func (b *Bus) Periph() *PeriphBus { return &PeriphBus{b: b} }

func (p *PeriphBus) String() string { return p.b.String() }

func (p *PeriphBus) Tx(addr uint16, w, r []byte) error { return p.b.Tx(addr, w, r) }

func (p *PeriphBus) SetSpeed(f physic.Frequency) error { return p.b.SetMasterConfig(f) }

func (p *PeriphBus) Close() error { return p.b.Close() }

var (
	periphMu    sync.Mutex
	periphBuses = map[string]*Bus{}
)

// RegisterPeriph makes b reachable through i2creg.Open under its name
// ("I2C0") and number. Registering another bus with the same number
// replaces the target of the name; opening a closed bus through i2creg fails.
func RegisterPeriph(b *Bus) error {
	if b == nil {
		return ErrInvalidArgument
	}
	name := b.String()
	periphMu.Lock()
	defer periphMu.Unlock()
	if _, ok := periphBuses[name]; ok {
		periphBuses[name] = b
		return nil
	}
	opener := func() (pi2c.BusCloser, error) {
		periphMu.Lock()
		bus := periphBuses[name]
		periphMu.Unlock()
		if bus == nil || !bus.open.Load() {
			return nil, fmt.Errorf("%s: %w", name, ErrInvalidArgument)
		}
		return bus.Periph(), nil
	}
	if err := i2creg.Register(name, nil, b.id, opener); err != nil {
		return err
	}
	periphBuses[name] = b
	return nil
}
