package i2c

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// Bus rates, in Hz.
const (
	StandardRate = 100_000
	FastRate     = 400_000
	FastPlusRate = 1_000_000
	HighRate     = 3_400_000
)

// SpeedMode is the IC_CON speed class.
type SpeedMode uint8

const (
	SpeedStandard SpeedMode = 1
	SpeedFast     SpeedMode = 2
	SpeedHigh     SpeedMode = 3
)

func (m SpeedMode) String() string {
	switch m {
	case SpeedStandard:
		return "standard"
	case SpeedFast:
		return "fast"
	case SpeedHigh:
		return "high"
	default:
		return "unknown"
	}
}

// speedFor picks the slowest class that covers rate.
func speedFor(rate physic.Frequency) (SpeedMode, bool) {
	switch {
	case rate <= 0:
		return 0, false
	case rate <= StandardRate*physic.Hertz:
		return SpeedStandard, true
	case rate <= FastPlusRate*physic.Hertz:
		return SpeedFast, true
	case rate <= HighRate*physic.Hertz:
		return SpeedHigh, true
	default:
		return 0, false
	}
}

// MasterConfig is the bus speed setting.
type MasterConfig struct {
	Mode SpeedMode
	Rate physic.Frequency
}

// BusState is a snapshot of the bus for diagnostics.
type BusState struct {
	Open    bool
	Busy    bool
	Aborted bool
	// Active is IC_STATUS.ACTIVITY.
	Active bool
	// AbortSource is IC_TX_ABRT_SOURCE latched by the last abort.
	AbortSource uint32
	Addr        uint16
}

// Command is an Ioctl request. The concrete types below are the only
// implementations.
type Command interface {
	ioctl()
}

// NoStopOnNext leaves the bus held (no STOP) after the next transfer, so the
// one after it begins with a repeated start.
type NoStopOnNext struct{}

// SetSlaveAddress sets the 7-bit target address.
type SetSlaveAddress struct{ Addr uint16 }

// SetMasterConfig sets the bus rate; the speed class follows from it.
type SetMasterConfig struct{ Rate physic.Frequency }

type GetMasterConfig struct{ Out *MasterConfig }

type GetBusState struct{ Out *BusState }

// GetTxBytes reports how many bytes the last write moved.
type GetTxBytes struct{ Out *int }

// GetRxBytes reports how many bytes the last read moved.
type GetRxBytes struct{ Out *int }

func (NoStopOnNext) ioctl()    {}
func (SetSlaveAddress) ioctl() {}
func (SetMasterConfig) ioctl() {}
func (GetMasterConfig) ioctl() {}
func (GetBusState) ioctl()     {}
func (GetTxBytes) ioctl()      {}
func (GetRxBytes) ioctl()      {}

// Ioctl applies cmd. Setters and byte counts fail with ErrBusy while a
// transfer is in flight; GetMasterConfig and GetBusState always answer.
func (b *Bus) Ioctl(cmd Command) error {
	if b == nil || cmd == nil {
		return ErrInvalidArgument
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open.Load() {
		return ErrInvalidArgument
	}
	busy := b.owner.Load() != nil

	switch c := cmd.(type) {
	case NoStopOnNext:
		if busy {
			return ErrBusy
		}
		b.noStop.Store(true)

	case SetSlaveAddress:
		if c.Addr > 0x7f {
			return ErrInvalidArgument
		}
		if busy {
			return ErrBusy
		}
		if err := b.ll.setTarget(c.Addr); err != nil {
			return fmt.Errorf("%w: bus %d: set target %#x: %w", ErrResourceUnavailable, b.id, c.Addr, err)
		}
		b.addr = c.Addr

	case SetMasterConfig:
		mode, ok := speedFor(c.Rate)
		if !ok {
			return ErrInvalidArgument
		}
		if busy {
			return ErrBusy
		}
		if err := b.ll.setSpeed(mode, b.desc.ClockHz, uint32(c.Rate/physic.Hertz)); err != nil {
			return fmt.Errorf("%w: bus %d: set speed %v: %w", ErrResourceUnavailable, b.id, c.Rate, err)
		}
		b.rate = c.Rate
		b.ctl.logger.Debugw("i2c speed set", "bus", b.id, "mode", mode, "rate", c.Rate)

	case GetMasterConfig:
		if c.Out == nil {
			return ErrInvalidArgument
		}
		*c.Out = MasterConfig{Mode: b.ll.speed(), Rate: b.rate}

	case GetBusState:
		if c.Out == nil {
			return ErrInvalidArgument
		}
		*c.Out = BusState{
			Open:        true,
			Busy:        busy,
			Aborted:     b.aborted.Load(),
			Active:      b.ll.active(),
			AbortSource: b.lastSrc.Load(),
			Addr:        b.addr,
		}

	case GetTxBytes:
		if c.Out == nil {
			return ErrInvalidArgument
		}
		if busy {
			return ErrBusy
		}
		*c.Out = b.moved(dirWrite)

	case GetRxBytes:
		if c.Out == nil {
			return ErrInvalidArgument
		}
		if busy {
			return ErrBusy
		}
		*c.Out = b.moved(dirRead)

	default:
		return ErrInvalidArgument
	}
	return nil
}

// moved returns the bytes the last transfer in direction d got across:
// what was pushed or drained, less what an abort kept from the target.
func (b *Bus) moved(d direction) int {
	t := b.xfer.Load()
	if t == nil || t.dir != d {
		return 0
	}
	return t.size - t.bytesLeft - t.unsent
}

// SetSlaveAddress is shorthand for Ioctl(SetSlaveAddress{addr}).
func (b *Bus) SetSlaveAddress(addr uint16) error {
	return b.Ioctl(SetSlaveAddress{Addr: addr})
}

// SetMasterConfig is shorthand for Ioctl(SetMasterConfig{rate}).
func (b *Bus) SetMasterConfig(rate physic.Frequency) error {
	return b.Ioctl(SetMasterConfig{Rate: rate})
}

// SetNoStop is shorthand for Ioctl(NoStopOnNext{}).
func (b *Bus) SetNoStop() error {
	return b.Ioctl(NoStopOnNext{})
}

// State returns a BusState snapshot.
func (b *Bus) State() (BusState, error) {
	var s BusState
	err := b.Ioctl(GetBusState{Out: &s})
	return s, err
}
