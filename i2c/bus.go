// Package i2c drives the DesignWare I2C masters of the HPS. Each bus moves
// one transfer at a time; the task that starts it either blocks until the
// interrupt handler finishes it or is called back from interrupt context.
package i2c

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"

	"hpsbsp/core"
	"hpsbsp/hal"
)

// MaxInstances is the number of I2C masters on the HPS.
const MaxInstances = 5

// DefaultIRQPriority is the priority every bus interrupt is enabled at.
const DefaultIRQPriority = 0xa0

// Instance describes where one bus lives on the SoC.
type Instance struct {
	Base    uintptr
	Reset   hal.Peripheral
	IRQ     hal.IRQ
	ClockHz uint32 // block input clock, used for SCL counts
}

// Config wires a Controller to the SoC.
type Config struct {
	Instances []Instance
	Regs      hal.Registers
	IRQ       hal.InterruptController
	Resets    hal.ResetManager

	// IRQPriority overrides DefaultIRQPriority when non-zero.
	IRQPriority uint8
	// Logger defaults to core.Logger().
	Logger *zap.SugaredLogger
}

// Controller owns the bus descriptors. Descriptors live as long as the
// Controller; Close leaves them ready to be opened again.
type Controller struct {
	regs   hal.Registers
	irq    hal.InterruptController
	resets hal.ResetManager
	prio   uint8
	logger *zap.SugaredLogger

	desc  []Instance
	buses [MaxInstances]Bus
}

// Completer receives the outcome of an asynchronous transfer. OnComplete
// runs in interrupt context: it must not block, must not start a
// synchronous transfer on the same bus and must not Cancel a transfer it
// started there. The bus it reports on is already idle, so Cancel from
// OnComplete with nothing else started returns ErrPermissionDenied.
type Completer interface {
	OnComplete(Status)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(Status)

func (f CompleterFunc) OnComplete(s Status) { f(s) }

// Bus is one I2C master. Obtain it from Controller.Open.
type Bus struct {
	ctl  *Controller
	id   int
	desc Instance
	ll   ll

	// mu serializes claims and configuration. The interrupt handler never
	// takes it.
	mu        sync.Mutex
	txMu      sync.Mutex // held across the phases of Tx
	addr      uint16
	rate      physic.Frequency
	completer Completer

	open    atomic.Bool
	noStop  atomic.Bool
	aborted atomic.Bool
	lastSrc atomic.Uint32

	// owner is the busy token: the transfer that holds the bus, nil when idle.
	owner atomic.Pointer[transfer]
	// xfer is the transfer published to the interrupt handler. It stays set
	// after completion so byte counts can be queried.
	xfer atomic.Pointer[transfer]
}

// NewController validates cfg. No hardware is touched until Open.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Regs == nil || cfg.IRQ == nil || cfg.Resets == nil {
		return nil, fmt.Errorf("%w: controller needs registers, interrupt controller and reset manager", ErrInvalidArgument)
	}
	if len(cfg.Instances) == 0 || len(cfg.Instances) > MaxInstances {
		return nil, fmt.Errorf("%w: %d instances, want 1..%d", ErrInvalidArgument, len(cfg.Instances), MaxInstances)
	}
	c := &Controller{
		regs:   cfg.Regs,
		irq:    cfg.IRQ,
		resets: cfg.Resets,
		prio:   cfg.IRQPriority,
		logger: cfg.Logger,
		desc:   append([]Instance(nil), cfg.Instances...),
	}
	if c.prio == 0 {
		c.prio = DefaultIRQPriority
	}
	if c.logger == nil {
		c.logger = core.Logger()
	}
	for i := range c.desc {
		c.buses[i].ctl = c
		c.buses[i].id = i
	}
	return c, nil
}

// NumBuses returns how many buses the controller was configured with.
func (c *Controller) NumBuses() int { return len(c.desc) }

// Open brings bus id out of reset, initializes it as a 7-bit master at
// standard speed and installs its interrupt handler.
func (c *Controller) Open(id int) (*Bus, error) {
	if id < 0 || id >= len(c.desc) {
		return nil, fmt.Errorf("%w: bus %d", ErrInvalidArgument, id)
	}
	b := &c.buses[id]
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open.Load() {
		return nil, fmt.Errorf("bus %d: %w", id, ErrAlreadyOpen)
	}

	b.reset()
	b.desc = c.desc[id]

	held, err := c.resets.InReset(b.desc.Reset)
	if err != nil {
		return nil, fmt.Errorf("%w: bus %d: query reset: %w", ErrResourceUnavailable, id, err)
	}
	if held {
		if err := c.resets.Release(b.desc.Reset); err != nil {
			return nil, fmt.Errorf("%w: bus %d: release reset: %w", ErrResourceUnavailable, id, err)
		}
	}

	b.ll = newLL(c.regs, b.desc.Base)
	if err := b.ll.initMaster(b.desc.ClockHz); err != nil {
		return nil, fmt.Errorf("%w: bus %d: init master: %w", ErrResourceUnavailable, id, err)
	}
	b.rate = StandardRate * physic.Hertz

	if err := c.irq.Register(b.desc.IRQ, b.handleInterrupt); err != nil {
		return nil, fmt.Errorf("%w: bus %d: register irq %d: %w", ErrResourceUnavailable, id, b.desc.IRQ, err)
	}
	if err := c.irq.Enable(b.desc.IRQ, c.prio); err != nil {
		return nil, fmt.Errorf("%w: bus %d: enable irq %d: %w", ErrResourceUnavailable, id, b.desc.IRQ, err)
	}

	b.open.Store(true)
	c.logger.Infow("i2c bus open",
		"bus", id,
		"base", fmt.Sprintf("%#x", b.desc.Base),
		"irq", b.desc.IRQ,
		"fifo", b.ll.depth,
	)
	return b, nil
}

// Lookup returns bus id if it is open.
func (c *Controller) Lookup(id int) (*Bus, bool) {
	if id < 0 || id >= len(c.desc) {
		return nil, false
	}
	b := &c.buses[id]
	return b, b.open.Load()
}

// Teardown closes every open bus and disables its interrupt line.
func (c *Controller) Teardown() error {
	var err error
	for i := range c.desc {
		b := &c.buses[i]
		if !b.open.Load() {
			continue
		}
		if b.owner.Load() != nil {
			err = multierr.Append(err, b.Cancel())
		}
		err = multierr.Append(err, b.Close())
		err = multierr.Append(err, c.irq.Disable(b.desc.IRQ))
	}
	return err
}

// reset returns the descriptor to its just-constructed state. Caller holds mu.
func (b *Bus) reset() {
	b.addr = 0
	b.rate = 0
	b.completer = nil
	b.noStop.Store(false)
	b.aborted.Store(false)
	b.lastSrc.Store(0)
	b.owner.Store(nil)
	b.xfer.Store(nil)
}

// ID returns the bus number.
func (b *Bus) ID() int { return b.id }

// Close masks the data interrupts and marks the bus closed. It does not wait
// for a transfer in flight; cancel it first.
func (b *Bus) Close() error {
	if b == nil {
		return ErrInvalidArgument
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open.Load() {
		return ErrInvalidArgument
	}
	b.ll.mask(IntrTxEmpty | IntrRxFull)
	b.open.Store(false)
	b.ctl.logger.Infow("i2c bus closed", "bus", b.id)
	return nil
}

// SetCallback installs the Completer used by asynchronous transfers.
func (b *Bus) SetCallback(c Completer) error {
	if b == nil {
		return ErrInvalidArgument
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open.Load() {
		return ErrInvalidArgument
	}
	b.completer = c
	return nil
}
